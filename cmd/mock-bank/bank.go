package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Account is the stable record behind /api/account
type Account struct {
	AccountID     string  `json:"accountId"`
	AccountHolder string  `json:"accountHolder"`
	Email         string  `json:"email"`
	Balance       float64 `json:"balance"`
	Currency      string  `json:"currency"`
	AccountType   string  `json:"accountType"`
	Eligible      bool    `json:"eligible"`
	Accredited    bool    `json:"accredited"`
	KYCVerified   bool    `json:"kycVerified"`
	Jurisdiction  string  `json:"jurisdiction"`
	CreatedAt     string  `json:"createdAt"`
	LastUpdated   string  `json:"lastUpdated"`
}

// Balances is the SwissBank-compatible summary behind /api/balances
type Balances struct {
	Organization string            `json:"organization"`
	Bank         string            `json:"bank"`
	Accounts     map[string]string `json:"accounts"`
	Eligible     bool              `json:"eligible"`
	LastUpdated  string            `json:"lastUpdated"`
}

var demoAccount = Account{
	AccountID:     "ACC-12345678",
	AccountHolder: "Demo User",
	Email:         "demo@example.com",
	Balance:       150000.0,
	Currency:      "USD",
	AccountType:   "checking",
	Eligible:      true,
	Accredited:    true,
	KYCVerified:   true,
	Jurisdiction:  "US",
	CreatedAt:     "2024-01-15T00:00:00Z",
	LastUpdated:   "2025-01-11T00:00:00Z",
}

var demoBalances = Balances{
	Organization: "Zk-RWA Demo Bank",
	Bank:         "Mock Swiss Bank",
	Accounts: map[string]string{
		"USD": "150,000.00",
		"EUR": "125,000.00",
		"CHF": "140,000.00",
	},
	Eligible:    true,
	LastUpdated: "2025-01-11T00:00:00Z",
}

const tokenTTL = time.Hour

// Bank serves the mock upstream API. With a JWT secret, the data endpoints
// require a bearer token issued by /api/auth.
type Bank struct {
	jwtSecret []byte
	logger    *zap.Logger
}

func NewBank(jwtSecret string, logger *zap.Logger) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bank{jwtSecret: []byte(jwtSecret), logger: logger}
}

func (b *Bank) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", b.handleHealth)
	r.Post("/api/auth", b.handleAuth)
	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)
		r.Get("/api/account", b.handleAccount)
		r.Get("/api/balances", b.handleBalances)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *Bank) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "mock-bank",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (b *Bank) handleAccount(w http.ResponseWriter, r *http.Request) {
	b.logger.Info("GET /api/account",
		zap.String("user_agent", r.UserAgent()),
		zap.Bool("authorization_present", r.Header.Get("Authorization") != ""))

	w.Header().Set("X-Request-Id", "req-"+uuid.NewString()[:8])
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("X-RateLimit-Limit", "100")
	w.Header().Set("X-RateLimit-Remaining", "99")
	writeJSON(w, http.StatusOK, demoAccount)
}

func (b *Bank) handleBalances(w http.ResponseWriter, r *http.Request) {
	b.logger.Info("GET /api/balances")
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, demoBalances)
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *Bank) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Username and password required",
		})
		return
	}
	b.logger.Info("POST /api/auth", zap.String("username", req.Username))

	token, err := b.issueToken(req.Username, time.Now())
	if err != nil {
		b.logger.Error("Failed to issue token", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		MaxAge:   int(tokenTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Authentication successful",
		"token":   token,
	})
}

// issueToken returns an HS256 token when a secret is configured, otherwise an
// opaque session string
func (b *Bank) issueToken(subject string, now time.Time) (string, error) {
	if len(b.jwtSecret) == 0 {
		return fmt.Sprintf("session-%d-%s", now.UnixMilli(), uuid.NewString()[:9]), nil
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.jwtSecret)
}

func (b *Bank) validateToken(token string) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	_, err := parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return b.jwtSecret, nil
	})
	return err
}

var errMissingBearer = errors.New("missing bearer token")

func bearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

func (b *Bank) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(b.jwtSecret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		token, err := bearerToken(r)
		if err == nil {
			err = b.validateToken(token)
		}
		if err != nil {
			b.logger.Warn("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
