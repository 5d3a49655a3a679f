package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAttachesReasonOnce(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, ReasonGenerationFailure)
	if Reason(wrapped) != ReasonGenerationFailure {
		t.Fatalf("expected generation_failure, got %s", Reason(wrapped))
	}
	rewrapped := Wrap(wrapped, ReasonPlaybackFailure)
	if Reason(rewrapped) != ReasonGenerationFailure {
		t.Fatalf("re-wrapping must keep the original reason")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("wrapped error must unwrap to the base error")
	}
}

func TestReasonSurvivesFmtWrapping(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", Wrap(errors.New("timeout"), ReasonGenerationTimeout))
	if !HasReason(err, ReasonGenerationTimeout) {
		t.Fatalf("reason lost through fmt.Errorf wrapping")
	}
}

func TestRecoverableClassification(t *testing.T) {
	for _, r := range []ReasonCode{ReasonNoSpeech, ReasonGenerationFailure, ReasonPlaybackTimeout} {
		if !Recoverable(r) {
			t.Fatalf("%s should be recoverable", r)
		}
	}
	for _, r := range []ReasonCode{ReasonCaptureFailure, ReasonSessionAborted, ReasonUnknown} {
		if Recoverable(r) {
			t.Fatalf("%s should not be recoverable", r)
		}
	}
}
