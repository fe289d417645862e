package consensus

import "fmt"

// ErrProtocolViolation reports a block-level protocol violation: a
// referenced block or QC target was not fetched. The proposal that
// triggered it is dropped; the event does not otherwise affect
// consensus state.
type ErrProtocolViolation struct {
	Reason string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("consensus: protocol violation: %s", e.Reason)
}

// ErrSafetyBreach reports that the commit path did not land exactly on
// b_exec: distinct committed branches imply a supermajority of
// equivocating replicas, which violates the BFT fault threshold
// assumption. This is fatal -- callers must stop driving this Core on
// receiving it.
type ErrSafetyBreach struct {
	CommitAncestor []byte // hash of the block the walk landed on
	BExec          []byte // hash of the expected execution frontier
}

func (e *ErrSafetyBreach) Error() string {
	return fmt.Sprintf("consensus: safety breach: commit walk landed on %x, expected b_exec %x", e.CommitAncestor, e.BExec)
}
