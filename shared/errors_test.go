package shared

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSessionErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{"kind only", &SessionError{Kind: KindTimeout}, "timeout"},
		{"with phase", &SessionError{Kind: KindSetup, Phase: "setting_up"}, "setup_error in setting_up"},
		{"message", NewSessionError(KindParse, "", "bad header", nil), "parse_error: bad header"},
		{"cause", NewSessionError(KindConnect, "connecting", "", cause), "connect_error in connecting: boom"},
		{"message and cause", NewSessionError(KindProve, "proving", "commit", cause), "prove_error in proving: commit: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOfAndWrapKind(t *testing.T) {
	if got := KindOf(io.EOF); got != KindInternal {
		t.Errorf("KindOf(plain) = %s", got)
	}
	if got := WrapKind(KindSetup, "x", nil); got != nil {
		t.Errorf("WrapKind(nil) = %v", got)
	}

	inner := NewSessionError(KindRejected, "verifying", "server name mismatch", nil)
	wrapped := fmt.Errorf("verifier: %w", inner)
	if got := KindOf(wrapped); got != KindRejected {
		t.Errorf("KindOf(wrapped) = %s", got)
	}
	if got := WrapKind(KindVerify, "verifying", wrapped); got != wrapped {
		t.Error("WrapKind replaced an existing kind")
	}

	tagged := WrapKind(KindExchange, "exchanging", io.ErrUnexpectedEOF)
	if KindOf(tagged) != KindExchange {
		t.Errorf("KindOf(tagged) = %s", KindOf(tagged))
	}
	if !errors.Is(tagged, io.ErrUnexpectedEOF) {
		t.Error("cause lost")
	}
	if !errors.Is(tagged, ErrExchange) || errors.Is(tagged, ErrParse) {
		t.Error("sentinel matching by kind is wrong")
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err      error
		reason   TerminationReason
		severity TerminationSeverity
	}{
		{ErrSetup, ReasonSetupFailed, SeverityMedium},
		{WrapKind(KindSetup, "", errClosedStream), ReasonConnectionLost, SeverityLow},
		{ErrConnect, ReasonUpstreamFailure, SeverityMedium},
		{ErrExchange, ReasonExchangeFailed, SeverityMedium},
		{ErrParse, ReasonMalformedMessage, SeverityMedium},
		{ErrPlanUnsatisfiable, ReasonPlanUnsatisfiable, SeverityMedium},
		{ErrProtocolLimitExceeded, ReasonProtocolLimitHit, SeverityMedium},
		{ErrProve, ReasonProofFailed, SeverityHigh},
		{ErrVerify, ReasonVerificationFailed, SeverityHigh},
		{ErrRejected, ReasonIdentityMismatch, SeverityHigh},
		{ErrTimeout, ReasonTimeoutExceeded, SeverityMedium},
		{errors.New("write: broken pipe"), ReasonConnectionLost, SeverityLow},
		{errors.New("something else"), ReasonInternalError, SeverityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := ReasonFor(tt.err)
			if got != tt.reason {
				t.Errorf("ReasonFor = %s, want %s", got, tt.reason)
			}
			if got.GetSeverity() != tt.severity {
				t.Errorf("severity = %s, want %s", got.GetSeverity(), tt.severity)
			}
		})
	}
}

func TestTerminateLogsSecurityEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	st := NewSessionTerminator(&Logger{Logger: zap.New(core)})

	reason := st.Terminate("s1", NewSessionError(KindRejected, "verifying", "server name mismatch", nil))
	if reason != ReasonIdentityMismatch {
		t.Fatalf("reason = %s", reason)
	}
	if n := logs.FilterField(zap.Bool("security_event", true)).Len(); n != 1 {
		t.Errorf("security events = %d, want 1", n)
	}
	terminated := logs.FilterMessage("Session terminated").All()
	if len(terminated) != 1 {
		t.Fatalf("terminated entries = %d", len(terminated))
	}
	fields := terminated[0].ContextMap()
	if fields["termination_reason"] != "identity_mismatch" || fields["severity"] != "high" || fields["error_kind"] != "rejected" {
		t.Errorf("fields = %v", fields)
	}

	logs.TakeAll()
	st.Terminate("s2", ErrTimeout)
	if logs.FilterField(zap.Bool("security_event", true)).Len() != 0 {
		t.Error("timeout logged as security event")
	}
}

func TestOutcomes(t *testing.T) {
	ok := Succeeded("s1", RoleProver, 10, 20)
	if !ok.Success || ok.Reason != "" || ok.SentLen != 10 || ok.ReceivedLen != 20 {
		t.Errorf("Succeeded = %+v", ok)
	}
	failed := Failed("s2", RoleVerifier, ErrTimeout)
	if failed.Success || failed.Reason != "timeout" || failed.Err == nil {
		t.Errorf("Failed = %+v", failed)
	}
}
