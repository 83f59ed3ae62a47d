package redaction

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinPolicies(t *testing.T) {
	for _, name := range []string{"swissbank-balances", "account-eligibility"} {
		p, err := BuiltinPolicy(name)
		if err != nil {
			t.Fatalf("BuiltinPolicy(%q): %v", name, err)
		}
		if len(p.RulesFor(ScopeRequestHeader)) != 1 {
			t.Errorf("%s: expected one request header rule", name)
		}
		if len(p.RulesFor(ScopeResponseJSON)) == 0 {
			t.Errorf("%s: expected response fields", name)
		}
	}

	if _, err := BuiltinPolicy("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestPolicyForTarget(t *testing.T) {
	p, err := PolicyForTarget("/api/balances")
	if err != nil {
		t.Fatalf("PolicyForTarget: %v", err)
	}
	if p.Name != "swissbank-balances" {
		t.Errorf("got policy %q", p.Name)
	}
	if _, err := PolicyForTarget("/unknown"); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestParsePolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"missing rules", `{"name":"x"}`},
		{"empty rules", `{"name":"x","rules":[]}`},
		{"unknown scope", `{"name":"x","rules":[{"scope":"cookie","path":"a","constraint":"reveal_value"}]}`},
		{"redact on response", `{"name":"x","rules":[{"scope":"response_json","path":"a","constraint":"redact_value"}]}`},
		{"reveal_key_value on header", `{"name":"x","rules":[{"scope":"request_header","path":"a","constraint":"reveal_key_value"}]}`},
		{"extra property", `{"name":"x","rules":[{"scope":"response_json","path":"a","constraint":"reveal_value","x":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tt.raw)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	raw := `{"name":"custom","rules":[{"scope":"response_json","path":"eligible","constraint":"reveal_value"}]}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if p.Name != "custom" || len(p.Rules) != 1 || p.Rules[0].Constraint != RevealValue {
		t.Errorf("unexpected policy %+v", p)
	}
}
