package redaction

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Scope names the part of the transcript a rule applies to
type Scope string

const (
	ScopeRequestHeader  Scope = "request_header"
	ScopeResponseHeader Scope = "response_header"
	ScopeResponseJSON   Scope = "response_json"
)

// Constraint says what a rule discloses or hides
type Constraint string

const (
	// RedactValue hides the whole header value
	RedactValue Constraint = "redact_value"
	// RedactCredential hides the value after its auth scheme ("Bearer x" hides x)
	RedactCredential Constraint = "redact_credential"
	// RevealHeader discloses the whole header line
	RevealHeader Constraint = "reveal_header"
	// RevealValue discloses only the value
	RevealValue Constraint = "reveal_value"
	// RevealKeyValue discloses a JSON member from the key's opening quote to the end of the value
	RevealKeyValue Constraint = "reveal_key_value"
)

// Rule is one (path, constraint) entry of a policy
type Rule struct {
	Scope      Scope      `json:"scope"`
	Path       string     `json:"path"`
	Constraint Constraint `json:"constraint"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s:%s", r.Constraint, r.Scope, r.Path)
}

// Policy is an ordered list of disclosure rules for one response schema
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TargetPath  string `json:"target_path,omitempty"`
	Rules       []Rule `json:"rules"`
}

// RulesFor returns the rules of scope in policy order
func (p *Policy) RulesFor(scope Scope) []Rule {
	var out []Rule
	for _, r := range p.Rules {
		if r.Scope == scope {
			out = append(out, r)
		}
	}
	return out
}

//go:embed policies/*.json
var policyFS embed.FS

const schemaFile = "policies/policy.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func policySchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := policyFS.ReadFile(schemaFile)
		if err != nil {
			schemaErr = fmt.Errorf("failed to read policy schema: %w", err)
			return
		}
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile policy schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// ParsePolicy validates raw against the policy schema and decodes it
func ParsePolicy(raw []byte) (*Policy, error) {
	schema, err := policySchema()
	if err != nil {
		return nil, err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("policy validation failed: %w", err)
	}
	if !result.Valid() {
		var b strings.Builder
		for _, e := range result.Errors() {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(e.String())
		}
		return nil, fmt.Errorf("policy validation failed: %s", b.String())
	}

	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	return &p, nil
}

// LoadPolicyFile reads and validates a policy from disk
func LoadPolicyFile(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

// BuiltinPolicy returns the embedded policy with the given name
func BuiltinPolicy(name string) (*Policy, error) {
	policies, err := builtinPolicies()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown policy %q", name)
}

// PolicyForTarget picks the embedded policy whose target path matches the
// upstream request path
func PolicyForTarget(path string) (*Policy, error) {
	policies, err := builtinPolicies()
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if p.TargetPath == path {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no built-in policy for %q", path)
}

func builtinPolicies() ([]*Policy, error) {
	entries, err := policyFS.ReadDir("policies")
	if err != nil {
		return nil, err
	}
	var out []*Policy
	for _, e := range entries {
		if e.IsDir() || "policies/"+e.Name() == schemaFile {
			continue
		}
		raw, err := policyFS.ReadFile("policies/" + e.Name())
		if err != nil {
			return nil, err
		}
		p, err := ParsePolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
