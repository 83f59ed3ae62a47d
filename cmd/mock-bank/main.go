package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"zkrwa-prover/shared"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	logger, err := shared.NewLoggerFromEnv("mock-bank")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	port := shared.GetEnvIntOrDefault("MOCK_BANK_PORT", 3002)
	certFile := shared.GetEnvOrDefault("MOCK_BANK_CERT_FILE", "")
	keyFile := shared.GetEnvOrDefault("MOCK_BANK_KEY_FILE", "")
	hosts := strings.Split(shared.GetEnvOrDefault("MOCK_BANK_HOSTNAMES", "mock-bank,localhost,127.0.0.1"), ",")
	caOut := shared.GetEnvOrDefault("MOCK_BANK_CA_OUT", "")
	jwtSecret := shared.GetEnvOrDefault("MOCK_BANK_JWT_SECRET", "")

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			logger.Fatal("Failed to load certificate", zap.Error(err))
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	} else {
		cert, certPEM, err := selfSignedCertificate(hosts, time.Now())
		if err != nil {
			logger.Fatal("Failed to create certificate", zap.Error(err))
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		if caOut != "" {
			if err := os.WriteFile(caOut, certPEM, 0o644); err != nil {
				logger.Fatal("Failed to write certificate", zap.String("path", caOut), zap.Error(err))
			}
		}
		logger.Info("Using self-signed certificate", zap.Strings("hosts", hosts), zap.String("ca_out", caOut))
	}

	bank := NewBank(jwtSecret, logger.Logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           bank.Routes(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Mock bank listening",
		zap.Int("port", port),
		zap.Bool("jwt_required", jwtSecret != ""),
		zap.Strings("endpoints", []string{"GET /api/account", "GET /api/balances", "POST /api/auth", "GET /health"}))

	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Critical("Server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}
