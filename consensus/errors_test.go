package consensus

import "testing"

func TestErrProtocolViolationMessage(t *testing.T) {
	err := &ErrProtocolViolation{Reason: "block not fetched"}
	want := "consensus: protocol violation: block not fetched"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrSafetyBreachMessageIncludesBothHashes(t *testing.T) {
	err := &ErrSafetyBreach{CommitAncestor: []byte{0xde, 0xad}, BExec: []byte{0xbe, 0xef}}
	want := "consensus: safety breach: commit walk landed on dead, expected b_exec beef"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
