package shared

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	ServiceName string // "prover-server", "verify-client", "mock-bank"
	Development bool   // console output at debug level
	Level       string // overrides the default level when set
}

// Logger wraps zap.Logger with session and connection context helpers
type Logger struct {
	*zap.Logger
	serviceName string
}

// NewLogger creates a new logger instance based on the configuration
func NewLogger(config LoggerConfig) (*Logger, error) {
	var zapConfig zap.Config
	if config.Development {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	if config.Level != "" {
		lvl, err := zapcore.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	zapLogger = zapLogger.With(zap.String("service", config.ServiceName))

	return &Logger{
		Logger:      zapLogger,
		serviceName: config.ServiceName,
	}, nil
}

// NewLoggerFromEnv creates a logger using environment variables
func NewLoggerFromEnv(serviceName string) (*Logger, error) {
	return NewLogger(LoggerConfig{
		ServiceName: serviceName,
		Development: GetEnvOrDefault("DEVELOPMENT", "false") == "true",
		Level:       GetEnvOrDefault("LOG_LEVEL", ""),
	})
}

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop(), serviceName: "nop"}
}

// WithSession returns a logger tagged with the session ID
func (l *Logger) WithSession(sessionID string) *zap.Logger {
	if sessionID == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("session_id", sessionID))
}

// WithConnection returns a logger tagged with the remote address
func (l *Logger) WithConnection(remoteAddr string) *zap.Logger {
	if remoteAddr == "" {
		return l.Logger
	}
	return l.Logger.With(zap.String("remote_addr", remoteAddr))
}

// Critical logs an error that must always be visible
func (l *Logger) Critical(msg string, fields ...zap.Field) {
	l.Logger.Error(msg, append(fields, zap.Bool("critical", true))...)
}

// Security logs security-relevant events such as identity mismatches
func (l *Logger) Security(msg string, fields ...zap.Field) {
	l.Logger.Warn(msg, append(fields, zap.Bool("security_event", true))...)
}

// SessionTerminated logs the terminal failure of a session
func (l *Logger) SessionTerminated(sessionID string, reason string, fields ...zap.Field) {
	baseFields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("termination_reason", reason),
		zap.Bool("session_terminated", true),
	}
	l.Logger.Error("Session terminated", append(baseFields, fields...)...)
}

// Sync flushes any buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
