package shared

import (
	"time"
)

// Role selects which side of the notarization protocol a session plays
type Role string

const (
	RoleProver   Role = "prover"
	RoleVerifier Role = "verifier"
)

// SessionOutcome is the terminal result of one session, reported to the host
type SessionOutcome struct {
	SessionID   string        `json:"session_id"`
	Role        Role          `json:"role"`
	Success     bool          `json:"success"`
	SentLen     int           `json:"sent_len,omitempty"`
	ReceivedLen int           `json:"received_len,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
}

// Succeeded builds a success outcome
func Succeeded(sessionID string, role Role, sentLen, receivedLen int) SessionOutcome {
	return SessionOutcome{
		SessionID:   sessionID,
		Role:        role,
		Success:     true,
		SentLen:     sentLen,
		ReceivedLen: receivedLen,
	}
}

// Failed builds a failure outcome carrying the termination reason
func Failed(sessionID string, role Role, err error) SessionOutcome {
	return SessionOutcome{
		SessionID: sessionID,
		Role:      role,
		Reason:    string(ReasonFor(err)),
		Err:       err,
	}
}
