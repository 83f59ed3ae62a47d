// verify-client connects to a prover server's /prove endpoint and plays the
// remote verifier: it checks the disclosure, signs it and prints the result.
package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"zkrwa-prover/notary"
	"zkrwa-prover/notary/commitment"
	"zkrwa-prover/prover"
	"zkrwa-prover/redaction"
	"zkrwa-prover/shared"
	"zkrwa-prover/verifier"
)

type clientConfig struct {
	ProverURL   string
	UpstreamURL string
	CAFile      string
	SigningKey  string
	Timeout     time.Duration
	Protocol    notary.ProtocolConfig
}

func loadConfig() clientConfig {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
	return clientConfig{
		ProverURL:   shared.GetEnvOrDefault("PROVER_URL", "ws://localhost:9816/prove"),
		UpstreamURL: shared.GetEnvOrDefault("MOCK_BANK_URL", "https://mock-bank:3002/api/account"),
		CAFile:      shared.GetEnvOrDefault("UPSTREAM_CA_FILE", ""),
		SigningKey:  shared.GetEnvOrDefault("VERIFIER_SIGNING_KEY", ""),
		Timeout:     shared.GetEnvDurationSecondsOrDefault("PROVER_SESSION_TIMEOUT", 120*time.Second),
		Protocol: notary.ProtocolConfig{
			MaxSentData: shared.GetEnvIntOrDefault("PROVER_MAX_SENT_DATA", 512),
			MaxRecvData: shared.GetEnvIntOrDefault("PROVER_MAX_RECV_DATA", 2048),
		},
	}
}

func main() {
	config := loadConfig()

	logger, err := shared.NewLoggerFromEnv("verify-client")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	result, err := run(config, logger)
	if err != nil {
		logger.Error("Verification failed",
			zap.String("reason", string(shared.ReasonFor(err))),
			zap.Error(err))
		os.Exit(1)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	_ = out.Encode(result.Attestation)
}

func run(config clientConfig, logger *shared.Logger) (*verifier.Result, error) {
	target, err := prover.ParseTarget(config.UpstreamURL)
	if err != nil {
		return nil, err
	}
	policy, err := redaction.PolicyForTarget(target.Path)
	if err != nil {
		return nil, err
	}

	var roots *x509.CertPool
	if config.CAFile != "" {
		pem, err := os.ReadFile(config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read UPSTREAM_CA_FILE: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", config.CAFile)
		}
	}

	signer, err := shared.LoadOrGenerateSigningKey(config.SigningKey)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ProverURL, nil)
	if err != nil {
		return nil, shared.NewSessionError(shared.KindSetup, "", "failed to reach prover "+config.ProverURL, err)
	}
	stream := shared.NewWSStream(conn)
	defer stream.Close()

	logger.Info("Connected to prover",
		zap.String("prover_url", config.ProverURL),
		zap.String("expected_server", target.ServerName),
		zap.String("policy", policy.Name))

	v := verifier.New(commitment.New(logger.Logger), verifier.Config{
		Protocol:           config.Protocol,
		ExpectedServerName: target.ServerName,
		RootCAs:            roots,
		ExpectedFields:     verifier.DisclosedKeys(policy),
		Signer:             signer,
	}, logger.Logger)

	result, err := v.NewSession("client").Run(ctx, stream)
	if err != nil {
		return nil, err
	}

	// the printed attestation must verify for anyone holding the signer address
	if _, err := result.Attestation.Check(signer.GetEthAddress().Hex()); err != nil {
		return nil, fmt.Errorf("attestation does not verify: %w", err)
	}

	logger.Info("Disclosure verified",
		zap.String("server_name", result.ServerName),
		zap.Int("sent_len", result.SentLen),
		zap.Int("received_len", result.ReceivedLen),
		zap.String("sent", result.SentText),
		zap.String("received", result.ReceivedText),
		zap.Any("fields", result.Fields))
	return result, nil
}
