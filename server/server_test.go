package server

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zkrwa-prover/notary"
	"zkrwa-prover/notary/commitment"
	"zkrwa-prover/prover"
	"zkrwa-prover/redaction"
	"zkrwa-prover/shared"
	"zkrwa-prover/verifier"
)

const balancesJSON = `{"organization":"Acme","bank":"SwissBank","accounts":{"USD":"100","EUR":"50","CHF":"75"}}`

var protocol = notary.ProtocolConfig{MaxSentData: 512, MaxRecvData: 2048}

type fixture struct {
	host     *Host
	srv      *httptest.Server
	outcomes chan shared.SessionOutcome

	prover   *prover.Orchestrator
	verifier *verifier.Orchestrator
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	bank := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, balancesJSON)
	}))
	t.Cleanup(bank.Close)
	pool := x509.NewCertPool()
	pool.AddCert(bank.Certificate())

	policy, err := redaction.BuiltinPolicy("swissbank-balances")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	engine := commitment.New(nil)

	p := prover.New(engine, redaction.NewPlanner(policy, nil), prover.Config{
		Protocol:   protocol,
		Target:     prover.Target{ServerName: "example.com", Address: bank.Listener.Addr().String(), Path: "/api/balances"},
		Credential: shared.StaticSecret("SECRET123"),
		RootCAs:    pool,
	}, nil)
	v := verifier.New(engine, verifier.Config{
		Protocol:           protocol,
		ExpectedServerName: "example.com",
		RootCAs:            pool,
		ExpectedFields:     verifier.DisclosedKeys(policy),
	}, nil)

	host := New(p, v, Config{SessionTimeout: timeout}, nil)
	outcomes := make(chan shared.SessionOutcome, 4)
	host.OnOutcome = func(o shared.SessionOutcome) { outcomes <- o }

	srv := httptest.NewServer(host.Routes())
	t.Cleanup(func() {
		srv.Close()
		host.Close()
	})

	return &fixture{host: host, srv: srv, outcomes: outcomes, prover: p, verifier: v}
}

func (f *fixture) dial(t *testing.T, path string) *shared.WSStream {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	stream := shared.NewWSStream(conn)
	t.Cleanup(func() { stream.Close() })
	return stream
}

func (f *fixture) outcome(t *testing.T) shared.SessionOutcome {
	t.Helper()
	select {
	case o := <-f.outcomes:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("no session outcome reported")
	}
	return shared.SessionOutcome{}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, time.Minute)

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Service != ServiceName {
		t.Errorf("health = %+v", body)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", body.Timestamp, err)
	}
}

func TestProveEndpoint(t *testing.T) {
	f := newFixture(t, time.Minute)
	stream := f.dial(t, "/prove")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the test plays the remote verifier
	result, err := f.verifier.NewSession("remote").Run(ctx, stream)
	if err != nil {
		t.Fatalf("remote verifier: %v", err)
	}
	if result.Fields["accounts.EUR"] != "50" {
		t.Errorf("fields = %v", result.Fields)
	}

	o := f.outcome(t)
	if !o.Success || o.Role != shared.RoleProver {
		t.Fatalf("outcome = %+v", o)
	}
	if o.SentLen != result.SentLen || o.ReceivedLen != result.ReceivedLen {
		t.Errorf("outcome sizes %d/%d, disclosure sizes %d/%d", o.SentLen, o.ReceivedLen, result.SentLen, result.ReceivedLen)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t, time.Minute)
	stream := f.dial(t, "/verify")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// the test plays the remote prover
	if _, err := f.prover.NewSession("remote").Run(ctx, stream); err != nil {
		t.Fatalf("remote prover: %v", err)
	}

	o := f.outcome(t)
	if !o.Success || o.Role != shared.RoleVerifier {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestSessionTimeout(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	f.dial(t, "/prove")

	// the remote side never answers setup
	o := f.outcome(t)
	if o.Success {
		t.Fatal("expected failure")
	}
	if o.Reason != string(shared.ReasonTimeoutExceeded) {
		t.Errorf("reason = %q, want timeout", o.Reason)
	}
}

func TestPlainRequestIsRejected(t *testing.T) {
	f := newFixture(t, time.Minute)

	resp, err := http.Get(f.srv.URL + "/prove")
	if err != nil {
		t.Fatalf("GET /prove: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	// the host keeps serving
	resp, err = http.Get(f.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestMetricsRecordOutcomes(t *testing.T) {
	f := newFixture(t, 200*time.Millisecond)
	f.dial(t, "/prove")
	f.outcome(t)

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	want := `zkrwa_sessions_total{outcome="timeout",role="prover"} 1`
	if !strings.Contains(string(body), want) {
		t.Errorf("metrics missing %q:\n%s", want, body)
	}
}
