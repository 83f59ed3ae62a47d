package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"zkrwa-prover/notary/commitment"
	"zkrwa-prover/prover"
	"zkrwa-prover/providers"
	"zkrwa-prover/redaction"
	"zkrwa-prover/server"
	"zkrwa-prover/shared"
	"zkrwa-prover/verifier"
	"zkrwa-prover/wstcp"
)

func main() {
	config := LoadConfig()

	logger, err := shared.NewLoggerFromEnv("prover-server")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(config, logger); err != nil {
		logger.Critical("Prover server failed", zap.Error(err))
		os.Exit(1)
	}
}

// app is everything main wires together
type app struct {
	host    *server.Host
	proxy   *wstcp.Proxy
	target  prover.Target
	closers []io.Closer
}

func build(ctx context.Context, config *Config, logger *shared.Logger) (*app, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	target, err := prover.ParseTarget(config.UpstreamURL)
	if err != nil {
		return nil, err
	}

	var policy *redaction.Policy
	if config.PolicyFile != "" {
		policy, err = redaction.LoadPolicyFile(config.PolicyFile)
	} else {
		policy, err = redaction.PolicyForTarget(target.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load disclosure policy: %w", err)
	}

	roots, err := config.RootCAs()
	if err != nil {
		return nil, err
	}

	a := &app{target: target}

	var credential shared.SecretSource = shared.StaticSecret(config.AuthToken)
	if config.AuthSecret != "" {
		secret, err := shared.NewGCPSecret(ctx, config.AuthSecret)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, secret)
		credential = secret
	}

	signer, err := shared.LoadOrGenerateSigningKey(config.SigningKey)
	if err != nil {
		return nil, err
	}

	providers.SetLogger(logger.Logger)
	engine := commitment.New(logger.Logger)

	a.proxy = wstcp.NewProxy(target.Address, logger.Logger)
	p := prover.New(engine, redaction.NewPlanner(policy, logger.Logger), prover.Config{
		Protocol:   config.Protocol,
		Target:     target,
		Credential: credential,
		RootCAs:    roots,
		Dial:       wstcp.Dialer("ws://" + config.ProxyAddr()),
	}, logger.Logger)
	v := verifier.New(engine, verifier.Config{
		Protocol:           config.Protocol,
		ExpectedServerName: target.ServerName,
		RootCAs:            roots,
		ExpectedFields:     verifier.DisclosedKeys(policy),
		Signer:             signer,
	}, logger.Logger)

	a.host = server.New(p, v, server.Config{SessionTimeout: config.SessionTimeout}, logger)

	logger.Info("Prover server configured",
		zap.String("ws_addr", config.ListenAddr()),
		zap.String("server_name", target.ServerName),
		zap.String("upstream", target.Address),
		zap.String("path", target.Path),
		zap.String("proxy_addr", config.ProxyAddr()),
		zap.Duration("session_timeout", config.SessionTimeout),
		zap.Int("max_sent_data", config.Protocol.MaxSentData),
		zap.Int("max_recv_data", config.Protocol.MaxRecvData),
		zap.String("policy", policy.Name),
		zap.String("attestation_signer", signer.GetEthAddress().Hex()))

	return a, nil
}

func run(config *Config, logger *shared.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, config, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range a.closers {
			_ = c.Close()
		}
	}()

	httpServer := &http.Server{
		Addr:              config.ListenAddr(),
		Handler:           a.host.Routes(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.proxy.ListenAndServe(ctx, config.ProxyAddr())
	}()
	go func() {
		logger.Info("Starting websocket server", zap.String("addr", config.ListenAddr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	a.host.Close()

	logger.Info("Shutdown complete")
	return runErr
}
