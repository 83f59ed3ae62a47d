// Package server hosts notarized sessions over websockets. Each accepted
// connection runs one prover or verifier session under a wall-clock timeout.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zkrwa-prover/prover"
	"zkrwa-prover/shared"
	"zkrwa-prover/verifier"
)

// ServiceName is reported by the health endpoint
const ServiceName = "zk-rwa-prover"

// DefaultSessionTimeout bounds a whole session when no timeout is configured
const DefaultSessionTimeout = 120 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// peers are services, not browsers
		return true
	},
}

// Config holds the host settings
type Config struct {
	SessionTimeout time.Duration
}

// Host accepts websocket connections and dispatches them to a role
type Host struct {
	prover     *prover.Orchestrator
	verifier   *verifier.Orchestrator
	timeout    time.Duration
	logger     *shared.Logger
	terminator *shared.SessionTerminator
	metrics    *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// OnOutcome, when set, receives every terminal session outcome
	OnOutcome func(shared.SessionOutcome)
}

// New creates a host. Sessions on /prove run the prover role, sessions on
// /verify the verifier role.
func New(p *prover.Orchestrator, v *verifier.Orchestrator, cfg Config, logger *shared.Logger) *Host {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		prover:     p,
		verifier:   v,
		timeout:    cfg.SessionTimeout,
		logger:     logger,
		terminator: shared.NewSessionTerminator(logger),
		metrics:    NewMetrics(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Routes returns the HTTP handler of the host
func (h *Host) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handleHealth)
	r.Get("/prove", h.handleProve)
	r.Get("/verify", h.handleVerify)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	return r
}

// Close cancels every running session and waits for them to report
func (h *Host) Close() {
	h.cancel()
	h.wg.Wait()
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Service:   ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// runFunc runs one session over transport and returns the transcript sizes
type runFunc func(ctx context.Context, sessionID string, transport io.ReadWriteCloser) (sent, received int, err error)

func (h *Host) handleProve(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, shared.RoleProver, func(ctx context.Context, id string, t io.ReadWriteCloser) (int, int, error) {
		res, err := h.prover.NewSession(id).Run(ctx, t)
		if err != nil {
			return 0, 0, err
		}
		return res.SentLen, res.ReceivedLen, nil
	})
}

func (h *Host) handleVerify(w http.ResponseWriter, r *http.Request) {
	h.serveSession(w, r, shared.RoleVerifier, func(ctx context.Context, id string, t io.ReadWriteCloser) (int, int, error) {
		res, err := h.verifier.NewSession(id).Run(ctx, t)
		if err != nil {
			return 0, 0, err
		}
		fields := make([]zap.Field, 0, len(res.Fields)+1)
		for path, value := range res.Fields {
			fields = append(fields, zap.String("field."+path, value))
		}
		if res.Attestation != nil {
			fields = append(fields, zap.String("attestation_signer", res.Attestation.Signer))
		}
		h.logger.WithSession(id).Info("Disclosed fields", fields...)
		return res.SentLen, res.ReceivedLen, nil
	})
}

func (h *Host) serveSession(w http.ResponseWriter, r *http.Request, role shared.Role, run runFunc) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied; the host keeps accepting
		h.logger.WithConnection(r.RemoteAddr).Error("Failed to upgrade websocket",
			zap.String("role", string(role)), zap.Error(err))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	sessionID := uuid.NewString()
	logger := h.logger.WithSession(sessionID).With(
		zap.String("role", string(role)),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("request_id", middleware.GetReqID(r.Context())))

	stream := shared.NewWSStream(conn)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	// unblocks engine reads that do not watch ctx
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()

	h.metrics.started(role)
	start := time.Now()
	logger.Info("Session started", zap.Duration("timeout", h.timeout))

	sent, received, err := run(ctx, sessionID, stream)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && shared.KindOf(err) != shared.KindTimeout {
		err = shared.NewSessionError(shared.KindTimeout, "", "session deadline exceeded", err)
	}

	var outcome shared.SessionOutcome
	if err != nil {
		outcome = shared.Failed(sessionID, role, err)
		h.terminator.Terminate(sessionID, err,
			zap.String("role", string(role)),
			zap.String("remote_addr", r.RemoteAddr))
	} else {
		outcome = shared.Succeeded(sessionID, role, sent, received)
		logger.Info("Session completed",
			zap.Int("sent_len", sent),
			zap.Int("received_len", received))
	}
	outcome.Duration = time.Since(start)
	h.metrics.finished(outcome, outcome.Duration)

	if h.OnOutcome != nil {
		h.OnOutcome(outcome)
	}
}
