package prover

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Target is the upstream server the prover fetches from
type Target struct {
	ServerName string // TLS server name and Host header
	Address    string // host:port to dial
	Path       string // request target including query
}

// ParseTarget parses an https URL. The port defaults to 443.
func ParseTarget(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "https" {
		return Target{}, fmt.Errorf("upstream URL must use https, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("upstream URL %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return Target{
		ServerName: host,
		Address:    net.JoinHostPort(host, port),
		Path:       path,
	}, nil
}

// Request renders the single HTTP request sent upstream
func (t Target) Request(credential string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", t.Path)
	fmt.Fprintf(&b, "Host: %s\r\n", t.ServerName)
	b.WriteString("Accept: application/json\r\n")
	b.WriteString("Connection: close\r\n")
	fmt.Fprintf(&b, "Authorization: Bearer %s\r\n", credential)
	b.WriteString("\r\n")
	return []byte(b.String())
}
