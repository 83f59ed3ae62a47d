package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every session-fatal failure
type ErrorKind string

const (
	KindSetup                 ErrorKind = "setup_error"
	KindConnect               ErrorKind = "connect_error"
	KindExchange              ErrorKind = "exchange_error"
	KindParse                 ErrorKind = "parse_error"
	KindPlanUnsatisfiable     ErrorKind = "plan_unsatisfiable"
	KindProve                 ErrorKind = "prove_error"
	KindVerify                ErrorKind = "verify_error"
	KindTimeout               ErrorKind = "timeout"
	KindProtocolLimitExceeded ErrorKind = "protocol_limit_exceeded"
	KindRejected              ErrorKind = "rejected"
	KindInternal              ErrorKind = "internal_error"
)

// Sentinel values for errors.Is checks by kind
var (
	ErrSetup                 = &SessionError{Kind: KindSetup}
	ErrConnect               = &SessionError{Kind: KindConnect}
	ErrExchange              = &SessionError{Kind: KindExchange}
	ErrParse                 = &SessionError{Kind: KindParse}
	ErrPlanUnsatisfiable     = &SessionError{Kind: KindPlanUnsatisfiable}
	ErrProve                 = &SessionError{Kind: KindProve}
	ErrVerify                = &SessionError{Kind: KindVerify}
	ErrTimeout               = &SessionError{Kind: KindTimeout}
	ErrProtocolLimitExceeded = &SessionError{Kind: KindProtocolLimitExceeded}
	ErrRejected              = &SessionError{Kind: KindRejected}
)

// SessionError is the base error type surfaced by orchestrators to the session host
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Phase   string    `json:"phase,omitempty"` // state the session was in when it failed
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// NewSessionError creates a typed session error
func NewSessionError(kind ErrorKind, phase, message string, cause error) *SessionError {
	return &SessionError{Kind: kind, Phase: phase, Message: message, Cause: cause}
}

// Error implements the error interface
func (e *SessionError) Error() string {
	prefix := string(e.Kind)
	if e.Phase != "" {
		prefix = fmt.Sprintf("%s in %s", e.Kind, e.Phase)
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Cause)
	}
	return prefix
}

// Unwrap implements the error unwrapping interface
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// Is matches any SessionError of the same kind
func (e *SessionError) Is(target error) bool {
	var t *SessionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the outermost SessionError in the chain.
// Errors that carry no kind are reported as KindInternal.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// WrapKind tags err with kind unless it already carries one
func WrapKind(kind ErrorKind, phase string, err error) error {
	if err == nil {
		return nil
	}
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Kind: kind, Phase: phase, Cause: err}
}
