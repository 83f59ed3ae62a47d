package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseJSONFields(t *testing.T) {
	tests := []struct {
		path     string
		keyValue string
		value    string
		kind     JSONKind
	}{
		{"organization", `"organization":"Acme"`, `"Acme"`, KindString},
		{"bank", `"bank":"SwissBank"`, `"SwissBank"`, KindString},
		{"accounts.USD", `"USD":"100"`, `"100"`, KindString},
		{"accounts.EUR", `"EUR":"50"`, `"50"`, KindString},
		{"$.accounts.CHF", `"CHF":"75"`, `"75"`, KindString},
	}

	doc := []byte(accountBody)
	spans, err := ParseJSON(doc, 0)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := spans.Field(tt.path)
			if err != nil {
				t.Fatalf("Field(%q): %v", tt.path, err)
			}
			if got := string(f.KeyValue().Bytes(doc)); got != tt.keyValue {
				t.Errorf("key/value = %q, want %q", got, tt.keyValue)
			}
			if got := string(f.Value.Bytes(doc)); got != tt.value {
				t.Errorf("value = %q, want %q", got, tt.value)
			}
			if f.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", f.Kind, tt.kind)
			}
		})
	}
}

func TestParseJSONBaseOffset(t *testing.T) {
	raw := jsonResponse(accountBody)
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}

	spans, err := ParseJSON(resp.Body.Bytes(raw), resp.Body.Start)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	f, err := spans.Field("accounts.USD")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if got := string(f.KeyValue().Bytes(raw)); got != `"USD":"100"` {
		t.Errorf("absolute key/value = %q", got)
	}
}

func TestParseJSONWhitespaceAndScalars(t *testing.T) {
	doc := []byte(`{
  "name" :  "A \"quoted\" name",
  "count": 42,
  "ok": true,
  "none": null,
  "items": [ {"id": -1.5e2} ]
}`)
	spans, err := ParseJSON(doc, 100)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}

	tests := []struct {
		path     string
		keyValue string
		kind     JSONKind
	}{
		{"name", `"name" :  "A \"quoted\" name"`, KindString},
		{"count", `"count": 42`, KindNumber},
		{"ok", `"ok": true`, KindBool},
		{"none", `"none": null`, KindNull},
		{"items.0.id", `"id": -1.5e2`, KindNumber},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := spans.Field(tt.path)
			if err != nil {
				t.Fatalf("Field(%q): %v", tt.path, err)
			}
			kv := f.KeyValue().Shift(-100)
			if got := string(kv.Bytes(doc)); got != tt.keyValue {
				t.Errorf("key/value = %q, want %q", got, tt.keyValue)
			}
			if f.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", f.Kind, tt.kind)
			}
		})
	}
}

func TestParseJSONMissingAndNonScalar(t *testing.T) {
	spans, err := ParseJSON([]byte(accountBody), 0)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	for _, path := range []string{"accounts.GBP", "missing", "accounts"} {
		if _, err := spans.Field(path); !errors.Is(err, ErrFieldNotFound) {
			t.Errorf("Field(%q) error = %v, want ErrFieldNotFound", path, err)
		}
	}
}

func TestParseJSONInvalid(t *testing.T) {
	_, err := ParseJSON([]byte(`{"a":`), 0)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestParseResponseJSONChunked(t *testing.T) {
	part1 := `{"bank":"Swiss`
	part2 := `Bank","organization":"Acme"}`
	raw := []byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n%x\r\n%s\r\n%x\r\n%s\r\n0\r\n\r\n",
		len(part1), part1, len(part2), part2))

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	spans, err := ParseResponseJSON(resp)
	if err != nil {
		t.Fatalf("ParseResponseJSON: %v", err)
	}

	f, err := spans.Field("organization")
	if err != nil {
		t.Fatalf("Field: %v", err)
	}
	if got := string(f.KeyValue().Bytes(raw)); got != `"organization":"Acme"` {
		t.Errorf("key/value = %q", got)
	}

	if _, err := spans.Field("bank"); err == nil {
		t.Error("expected error for member split across chunks")
	}
}

func TestToJSONPath(t *testing.T) {
	tests := map[string]string{
		"accounts.USD":  "$.accounts.USD",
		"items.0.id":    "$.items[0].id",
		"$.a.b":         "$.a.b",
		"weird-key.x_y": "$['weird-key'].x_y",
	}
	for in, want := range tests {
		if got := toJSONPath(in); got != want {
			t.Errorf("toJSONPath(%q) = %q, want %q", in, got, want)
		}
	}
}
