package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zkrwa-prover/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PROVER_WS_HOST", "PROVER_WS_PORT", "MOCK_BANK_URL", "PROVER_PROXY_PORT",
		"PROVER_SESSION_TIMEOUT", "PROVER_MAX_SENT_DATA", "PROVER_MAX_RECV_DATA", "UPSTREAM_AUTH_TOKEN"} {
		t.Setenv(k, "")
	}

	c := LoadConfig()
	if c.ListenAddr() != "0.0.0.0:9816" {
		t.Errorf("listen addr = %s", c.ListenAddr())
	}
	if c.ProxyAddr() != "127.0.0.1:55688" {
		t.Errorf("proxy addr = %s", c.ProxyAddr())
	}
	if c.SessionTimeout != 120*time.Second {
		t.Errorf("timeout = %v", c.SessionTimeout)
	}
	if c.Protocol.MaxSentData != 512 || c.Protocol.MaxRecvData != 2048 {
		t.Errorf("protocol = %+v", c.Protocol)
	}
	if c.UpstreamURL != "https://mock-bank:3002/api/account" || c.AuthToken != "random_auth_token" {
		t.Errorf("upstream = %s token = %s", c.UpstreamURL, c.AuthToken)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PROVER_WS_PORT", "7000")
	t.Setenv("PROVER_SESSION_TIMEOUT", "5")
	t.Setenv("PROVER_MAX_RECV_DATA", "4096")
	t.Setenv("MOCK_BANK_URL", "https://bank.local/api/balances")

	c := LoadConfig()
	if c.WSPort != 7000 || c.SessionTimeout != 5*time.Second || c.Protocol.MaxRecvData != 4096 {
		t.Errorf("config = %+v", c)
	}
}

func TestValidate(t *testing.T) {
	base := Config{WSPort: 1, ProxyPort: 1, Protocol: LoadConfig().Protocol}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ws port", func(c *Config) { c.WSPort = 70000 }},
		{"proxy port", func(c *Config) { c.ProxyPort = 0 }},
		{"sent limit", func(c *Config) { c.Protocol.MaxSentData = 0 }},
	}
	for _, tt := range tests {
		c := base
		tt.mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestRootCAs(t *testing.T) {
	c := &Config{}
	if pool, err := c.RootCAs(); pool != nil || err != nil {
		t.Errorf("empty CAFile = %v, %v", pool, err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	c.CAFile = path
	if _, err := c.RootCAs(); err == nil {
		t.Error("expected error for a file without certificates")
	}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		policy  string
		wantErr bool
	}{
		{"balances policy by path", "https://bank.local/api/balances", "", false},
		{"account policy by path", "https://bank.local:3002/api/account", "", false},
		{"no policy for path", "https://bank.local/api/other", "", true},
		{"policy file override", "https://bank.local/api/other", "missing.json", true},
		{"plain http", "http://bank.local/api/balances", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := LoadConfig()
			c.UpstreamURL = tt.url
			c.PolicyFile = tt.policy
			c.AuthSecret = ""
			c.CAFile = ""
			_, err := build(context.Background(), c, shared.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Errorf("build err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
