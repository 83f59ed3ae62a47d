package shared

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	secretspb "cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretSource resolves the credential the prover presents to the upstream server
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// StaticSecret is a credential taken verbatim from configuration
type StaticSecret string

func (s StaticSecret) Secret(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty credential")
	}
	return string(s), nil
}

// GCPSecret reads the latest version of a Secret Manager secret on every call.
// Name is either a full resource name ("projects/p/secrets/s[/versions/v]")
// or "project/secret".
type GCPSecret struct {
	client *secretmanager.Client
	name   string
}

// NewGCPSecret creates a Secret Manager client for name
func NewGCPSecret(ctx context.Context, name string) (*GCPSecret, error) {
	resource, err := secretResourceName(name)
	if err != nil {
		return nil, err
	}
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %v", err)
	}
	return &GCPSecret{client: c, name: resource}, nil
}

func (g *GCPSecret) Secret(ctx context.Context) (string, error) {
	resp, err := g.client.AccessSecretVersion(ctx, &secretspb.AccessSecretVersionRequest{Name: g.name})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", g.name, err)
	}
	value := strings.TrimSpace(string(resp.GetPayload().GetData()))
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", g.name)
	}
	return value, nil
}

// Close releases the underlying client
func (g *GCPSecret) Close() error {
	return g.client.Close()
}

func secretResourceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "projects/") {
		if !strings.Contains(name, "/versions/") {
			name += "/versions/latest"
		}
		return name, nil
	}
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid secret name %q: expected projects/<p>/secrets/<s> or <p>/<s>", name)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", parts[0], parts[1]), nil
}
