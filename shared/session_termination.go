package shared

import (
	"errors"
	"strings"

	"go.uber.org/zap"
)

// TerminationReason represents the reason for session termination
type TerminationReason string

const (
	// Transport and negotiation
	ReasonSetupFailed      TerminationReason = "setup_failed"
	ReasonUpstreamFailure  TerminationReason = "upstream_failure"
	ReasonConnectionLost   TerminationReason = "connection_lost"
	ReasonWebSocketFailure TerminationReason = "websocket_failure"

	// Exchange and disclosure
	ReasonExchangeFailed     TerminationReason = "exchange_failed"
	ReasonMalformedMessage   TerminationReason = "malformed_message"
	ReasonPlanUnsatisfiable  TerminationReason = "plan_unsatisfiable"
	ReasonProtocolLimitHit   TerminationReason = "protocol_limit_exceeded"
	ReasonProofFailed        TerminationReason = "proof_failed"
	ReasonVerificationFailed TerminationReason = "verification_failed"

	// Security
	ReasonIdentityMismatch TerminationReason = "identity_mismatch"

	// Operational
	ReasonTimeoutExceeded TerminationReason = "timeout"
	ReasonInternalError   TerminationReason = "internal_error"
)

// TerminationSeverity indicates how critical the termination reason is
type TerminationSeverity int

const (
	// SeverityLow - peer went away or network noise
	SeverityLow TerminationSeverity = iota
	// SeverityMedium - session failed, service continues
	SeverityMedium
	// SeverityHigh - cryptographic or identity failure
	SeverityHigh
)

func (s TerminationSeverity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// GetSeverity returns the severity level for a termination reason
func (r TerminationReason) GetSeverity() TerminationSeverity {
	switch r {
	case ReasonProofFailed,
		ReasonVerificationFailed,
		ReasonIdentityMismatch:
		return SeverityHigh

	case ReasonConnectionLost,
		ReasonWebSocketFailure:
		return SeverityLow

	default:
		return SeverityMedium
	}
}

// ReasonFor maps a session error onto its termination reason
func ReasonFor(err error) TerminationReason {
	switch KindOf(err) {
	case KindSetup:
		if isNetworkShutdownError(err) {
			return ReasonConnectionLost
		}
		return ReasonSetupFailed
	case KindConnect:
		return ReasonUpstreamFailure
	case KindExchange:
		return ReasonExchangeFailed
	case KindParse:
		return ReasonMalformedMessage
	case KindPlanUnsatisfiable:
		return ReasonPlanUnsatisfiable
	case KindProtocolLimitExceeded:
		return ReasonProtocolLimitHit
	case KindProve:
		return ReasonProofFailed
	case KindVerify:
		return ReasonVerificationFailed
	case KindRejected:
		return ReasonIdentityMismatch
	case KindTimeout:
		return ReasonTimeoutExceeded
	default:
		if isNetworkShutdownError(err) {
			return ReasonConnectionLost
		}
		return ReasonInternalError
	}
}

// SessionTerminator logs terminal session failures with a consistent shape
type SessionTerminator struct {
	logger *Logger
}

// NewSessionTerminator creates a new session terminator
func NewSessionTerminator(logger *Logger) *SessionTerminator {
	return &SessionTerminator{logger: logger}
}

// Terminate records the failure of a session and returns the reason logged.
// Every session error is fatal; there is no retry or partial fallback.
func (st *SessionTerminator) Terminate(sessionID string, err error, fields ...zap.Field) TerminationReason {
	reason := ReasonFor(err)
	severity := reason.GetSeverity()

	all := append(fields,
		zap.String("severity", severity.String()),
		zap.String("error_kind", string(KindOf(err))),
		zap.Error(err))

	if reason == ReasonIdentityMismatch {
		st.logger.Security("Server identity rejected", append(all, zap.String("session_id", sessionID))...)
	}
	st.logger.SessionTerminated(sessionID, string(reason), all...)
	return reason
}

// isNetworkShutdownError detects network errors that occur when a peer goes away
func isNetworkShutdownError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errClosedStream) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}
