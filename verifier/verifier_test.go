package verifier

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zkrwa-prover/notary"
	"zkrwa-prover/notary/commitment"
	"zkrwa-prover/prover"
	"zkrwa-prover/redaction"
	"zkrwa-prover/shared"
)

const balancesJSON = `{"organization":"Acme","bank":"SwissBank","accounts":{"USD":"100","EUR":"50","CHF":"75"}}`

var balanceFields = []string{"organization", "bank", "accounts.USD", "accounts.EUR", "accounts.CHF"}

// segmentsOf reveals each needle of text as its own segment
func segmentsOf(text string, needles ...string) []notary.RevealedSegment {
	var out []notary.RevealedSegment
	for _, n := range needles {
		i := strings.Index(text, n)
		out = append(out, notary.RevealedSegment{Start: i, End: i + len(n), Data: []byte(n)})
	}
	return out
}

func balancesDisclosure(server string) *notary.VerifiedDisclosure {
	received := "HTTP/1.1 200 OK\r\nContent-Length: 89\r\n\r\n" + balancesJSON
	return &notary.VerifiedDisclosure{
		ServerName: server,
		SentLen:    40,
		RecvLen:    len(received),
		Received: segmentsOf(received,
			`"organization":"Acme"`, `"bank":"SwissBank"`, `"USD":"100"`, `"EUR":"50"`, `"CHF":"75"`),
	}
}

type fakeEngine struct {
	setupErr   error
	disclosure *notary.VerifiedDisclosure
	verifyErr  error

	verdict *bool
	reason  string
	closed  bool
}

func (e *fakeEngine) SetupProver(context.Context, io.ReadWriteCloser, notary.ProverConfig) (notary.ProverSession, error) {
	return nil, errors.New("not a prover engine")
}

func (e *fakeEngine) SetupVerifier(context.Context, io.ReadWriteCloser, notary.VerifierConfig) (notary.VerifierSession, error) {
	if e.setupErr != nil {
		return nil, e.setupErr
	}
	return e, nil
}

func (e *fakeEngine) Verify(context.Context) (*notary.VerifiedDisclosure, error) {
	return e.disclosure, e.verifyErr
}

func (e *fakeEngine) Conclude(_ context.Context, accepted bool, reason string) error {
	e.verdict = &accepted
	e.reason = reason
	return nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

func newOrchestrator(t *testing.T, engine notary.Engine, signer *shared.SigningKeyPair) *Orchestrator {
	t.Helper()
	return New(engine, Config{
		Protocol:           notary.ProtocolConfig{MaxSentData: 512, MaxRecvData: 2048},
		ExpectedServerName: "bank.local",
		ExpectedFields:     balanceFields,
		Signer:             signer,
	}, nil)
}

func TestRunAccepts(t *testing.T) {
	signer, err := shared.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	engine := &fakeEngine{disclosure: balancesDisclosure("Bank.Local")}
	session := newOrchestrator(t, engine, signer).NewSession("s1")

	result, err := session.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []State{StateIdle, StateSettingUp, StateAwaitingProof, StateVerifying, StateClosed}
	if fmt.Sprint(session.Trail()) != fmt.Sprint(want) {
		t.Errorf("trail = %v, want %v", session.Trail(), want)
	}
	if engine.verdict == nil || !*engine.verdict {
		t.Error("expected accepted verdict")
	}
	if !engine.closed {
		t.Error("engine session not closed")
	}

	wantFields := map[string]string{
		"organization": "Acme", "bank": "SwissBank",
		"accounts.USD": "100", "accounts.EUR": "50", "accounts.CHF": "75",
	}
	for k, v := range wantFields {
		if result.Fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, result.Fields[k], v)
		}
	}
	if !strings.HasPrefix(result.ReceivedText, `..."organization":"Acme"...`) {
		t.Errorf("received text = %q", result.ReceivedText)
	}

	if result.Attestation == nil {
		t.Fatal("expected attestation")
	}
	payload, err := result.Attestation.Check(signer.GetEthAddress().Hex())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if payload.SessionID != "s1" || payload.Fields["accounts.CHF"] != "75" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestRunRejections(t *testing.T) {
	partial := balancesDisclosure("bank.local")
	partial.Received = partial.Received[:2]

	// a second "USD" member from elsewhere in the body makes accounts.USD unattributable
	repeated := balancesDisclosure("bank.local")
	repeated.Received = append(repeated.Received, notary.RevealedSegment{
		Start: repeated.RecvLen, End: repeated.RecvLen + 11, Data: []byte(`"USD":"999"`),
	})

	tests := []struct {
		name       string
		engine     *fakeEngine
		kind       shared.ErrorKind
		reason     string
		wantReject bool
	}{
		{
			name:   "setup fails",
			engine: &fakeEngine{setupErr: shared.NewSessionError(shared.KindSetup, "setup", "limits differ", nil)},
			kind:   shared.KindSetup,
		},
		{
			name:       "proof invalid",
			engine:     &fakeEngine{verifyErr: shared.NewSessionError(shared.KindVerify, "verify", "bad chain", nil)},
			kind:       shared.KindVerify,
			reason:     "bad chain",
			wantReject: true,
		},
		{
			name:       "identity mismatch",
			engine:     &fakeEngine{disclosure: balancesDisclosure("evil.example")},
			kind:       shared.KindRejected,
			reason:     "does not match",
			wantReject: true,
		},
		{
			name:       "field missing",
			engine:     &fakeEngine{disclosure: partial},
			kind:       shared.KindRejected,
			reason:     "accounts.USD",
			wantReject: true,
		},
		{
			name:       "field disclosed twice",
			engine:     &fakeEngine{disclosure: repeated},
			kind:       shared.KindRejected,
			reason:     "fields ambiguous: accounts.USD",
			wantReject: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newOrchestrator(t, tt.engine, nil).NewSession("s")
			_, err := session.Run(context.Background(), nil)
			if shared.KindOf(err) != tt.kind {
				t.Fatalf("error = %v, want kind %s", err, tt.kind)
			}
			if session.State() != StateFailed {
				t.Errorf("state = %s", session.State())
			}
			if !tt.wantReject {
				return
			}
			if tt.engine.verdict == nil || *tt.engine.verdict {
				t.Fatal("expected rejection verdict")
			}
			if !strings.Contains(tt.engine.reason, tt.reason) {
				t.Errorf("reason = %q, want it to mention %q", tt.engine.reason, tt.reason)
			}
		})
	}
}

func TestIdentityMismatchReason(t *testing.T) {
	session := newOrchestrator(t, &fakeEngine{disclosure: balancesDisclosure("evil.example")}, nil).NewSession("s")
	_, err := session.Run(context.Background(), nil)
	if got := shared.ReasonFor(err); got != shared.ReasonIdentityMismatch {
		t.Errorf("reason = %s, want %s", got, shared.ReasonIdentityMismatch)
	}
}

func TestExtractFields(t *testing.T) {
	text := "HTTP/1.1 200 OK\r\n\r\n" + `{"a":{"count": 3,"ok":true},"name" : "x\"y"}`
	segments := segmentsOf(text, "HTTP/1.1 200 OK", `"count": 3`, `"ok":true`, `"name" : "x\"y"`)

	got := extractFields(segments)
	want := map[string]string{"count": "3", "ok": "true", "name": `x"y`}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if len(got[k]) != 1 || got[k][0] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	fields, missing, ambiguous := matchFields([]string{"a.count", "name", "a.list[0]"}, got)
	if fields["a.count"] != "3" || fields["name"] != `x"y` {
		t.Errorf("fields = %v", fields)
	}
	if len(missing) != 1 || missing[0] != "a.list[0]" {
		t.Errorf("missing = %v", missing)
	}
	if len(ambiguous) != 0 {
		t.Errorf("ambiguous = %v", ambiguous)
	}
}

func TestMatchFieldsRejectsAmbiguousLeaves(t *testing.T) {
	text := `{"accounts":{"USD":"100"},"limits":{"USD":"999"},"bank":"SwissBank"}`
	members := extractFields(segmentsOf(text, `"USD":"100"`, `"USD":"999"`, `"bank":"SwissBank"`))

	tests := []struct {
		name      string
		expected  []string
		ambiguous []string
	}{
		{"leaf disclosed twice", []string{"accounts.USD", "bank"}, []string{"accounts.USD"}},
		{"leaf shared by expected paths", []string{"bank", "branch.bank"}, []string{"bank", "branch.bank"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, missing, ambiguous := matchFields(tt.expected, members)
			if len(missing) != 0 {
				t.Errorf("missing = %v", missing)
			}
			if fmt.Sprint(ambiguous) != fmt.Sprint(tt.ambiguous) {
				t.Errorf("ambiguous = %v, want %v", ambiguous, tt.ambiguous)
			}
			for _, path := range tt.ambiguous {
				if _, ok := fields[path]; ok {
					t.Errorf("ambiguous path %s was attributed a value", path)
				}
			}
		})
	}
}

func TestDisclosedKeys(t *testing.T) {
	policy, err := redaction.BuiltinPolicy("swissbank-balances")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got := DisclosedKeys(policy); fmt.Sprint(got) != fmt.Sprint(balanceFields) {
		t.Errorf("DisclosedKeys = %v, want %v", got, balanceFields)
	}
}

func TestAttestationTampering(t *testing.T) {
	signer, _ := shared.GenerateSigningKeyPair()
	other, _ := shared.GenerateSigningKeyPair()

	att, err := Sign(AttestationPayload{SessionID: "s", ServerName: "bank.local", Fields: map[string]string{"bank": "SwissBank"}}, signer)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := att.Check(""); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if _, err := att.Check(other.GetEthAddress().Hex()); err == nil {
		t.Error("expected untrusted signer to fail")
	}

	raw, _ := json.Marshal(att)
	var decoded Attestation
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := decoded.Check(signer.GetEthAddress().Hex()); err != nil {
		t.Errorf("round-tripped attestation: %v", err)
	}

	decoded.Payload = json.RawMessage(strings.Replace(string(decoded.Payload), "SwissBank", "OtherBank", 1))
	if _, err := decoded.Check(""); err == nil {
		t.Error("expected tampered payload to fail")
	}
}

// TestNotarizedSession runs both orchestrators against each other with the
// commitment engine and a local TLS upstream
func TestNotarizedSession(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer SECRET123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, balancesJSON)
	}))
	defer srv.Close()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())

	policy, err := redaction.BuiltinPolicy("swissbank-balances")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	protocol := notary.ProtocolConfig{MaxSentData: 512, MaxRecvData: 2048}
	engine := commitment.New(nil)

	p := prover.New(engine, redaction.NewPlanner(policy, nil), prover.Config{
		Protocol:   protocol,
		Target:     prover.Target{ServerName: "example.com", Address: srv.Listener.Addr().String(), Path: "/api/balances"},
		Credential: shared.StaticSecret("SECRET123"),
		RootCAs:    pool,
	}, nil)
	signer, _ := shared.GenerateSigningKeyPair()
	v := New(engine, Config{
		Protocol:           protocol,
		ExpectedServerName: "example.com",
		RootCAs:            pool,
		ExpectedFields:     DisclosedKeys(policy),
		Signer:             signer,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	proverT, verifierT := net.Pipe()
	defer proverT.Close()
	defer verifierT.Close()

	proverErr := make(chan error, 1)
	go func() {
		_, err := p.NewSession("e2e").Run(ctx, proverT)
		proverErr <- err
	}()

	result, err := v.NewSession("e2e").Run(ctx, verifierT)
	if err != nil {
		t.Fatalf("verifier Run: %v", err)
	}
	if err := <-proverErr; err != nil {
		t.Fatalf("prover Run: %v", err)
	}

	if strings.Contains(result.SentText, "SECRET123") {
		t.Errorf("credential leaked: %q", result.SentText)
	}
	if result.Fields["accounts.USD"] != "100" || result.Fields["bank"] != "SwissBank" {
		t.Errorf("fields = %v", result.Fields)
	}
	if _, err := result.Attestation.Check(signer.GetEthAddress().Hex()); err != nil {
		t.Errorf("attestation: %v", err)
	}
}
