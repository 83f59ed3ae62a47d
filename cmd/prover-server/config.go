package main

import (
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"zkrwa-prover/notary"
	"zkrwa-prover/shared"
)

// Config is read once at start and copied into every session
type Config struct {
	WSHost         string        `json:"ws_host"`
	WSPort         int           `json:"ws_port"`
	UpstreamURL    string        `json:"upstream_url"`
	ProxyPort      int           `json:"proxy_port"`
	SessionTimeout time.Duration `json:"session_timeout"`

	Protocol notary.ProtocolConfig `json:"protocol"`

	// Credential sources; AuthSecret wins when set
	AuthToken  string `json:"-"`
	AuthSecret string `json:"auth_secret,omitempty"`

	CAFile     string `json:"ca_file,omitempty"`
	SigningKey string `json:"-"`
	PolicyFile string `json:"policy_file,omitempty"`
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	return &Config{
		WSHost:         shared.GetEnvOrDefault("PROVER_WS_HOST", "0.0.0.0"),
		WSPort:         shared.GetEnvIntOrDefault("PROVER_WS_PORT", 9816),
		UpstreamURL:    shared.GetEnvOrDefault("MOCK_BANK_URL", "https://mock-bank:3002/api/account"),
		ProxyPort:      shared.GetEnvIntOrDefault("PROVER_PROXY_PORT", 55688),
		SessionTimeout: shared.GetEnvDurationSecondsOrDefault("PROVER_SESSION_TIMEOUT", 120*time.Second),
		Protocol: notary.ProtocolConfig{
			MaxSentData: shared.GetEnvIntOrDefault("PROVER_MAX_SENT_DATA", 512),
			MaxRecvData: shared.GetEnvIntOrDefault("PROVER_MAX_RECV_DATA", 2048),
		},
		AuthToken:  shared.GetEnvOrDefault("UPSTREAM_AUTH_TOKEN", "random_auth_token"),
		AuthSecret: shared.GetEnvOrDefault("UPSTREAM_AUTH_SECRET", ""),
		CAFile:     shared.GetEnvOrDefault("UPSTREAM_CA_FILE", ""),
		SigningKey: shared.GetEnvOrDefault("VERIFIER_SIGNING_KEY", ""),
		PolicyFile: shared.GetEnvOrDefault("DISCLOSURE_POLICY_FILE", ""),
	}
}

// Validate rejects settings no session could run with
func (c *Config) Validate() error {
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("invalid PROVER_WS_PORT %d", c.WSPort)
	}
	if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("invalid PROVER_PROXY_PORT %d", c.ProxyPort)
	}
	if c.Protocol.MaxSentData <= 0 || c.Protocol.MaxRecvData <= 0 {
		return fmt.Errorf("protocol limits must be positive (sent=%d recv=%d)",
			c.Protocol.MaxSentData, c.Protocol.MaxRecvData)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.WSHost, c.WSPort)
}

func (c *Config) ProxyAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.ProxyPort)
}

// RootCAs loads CAFile, or returns nil to use the system roots
func (c *Config) RootCAs() (*x509.CertPool, error) {
	if c.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read UPSTREAM_CA_FILE: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
	}
	return pool, nil
}
