package providers

import (
	"go.uber.org/zap"
)

var (
	// Package-level logger for providers - use this directly
	logger *zap.Logger
)

func init() {
	// Replaced by SetLogger once the main package has built its logger
	logger = zap.NewNop()
}

// SetLogger allows the main package to inject its configured logger
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l.With(zap.String("package", "providers"))
	}
}
