// Package network defines the seam consensus.Core dispatches proposals
// and votes through. The wire protocol that delivers these messages
// between replica processes is out of scope here -- in production it
// would be backed by a real gorums/gRPC-style transport. This package
// ships only the interface plus an in-process bus (LocalBus) that is
// sufficient to exercise and test consensus.Core without a real
// network.
package network

import "github.com/iotaledger/hotstuff-replica/dag"

// Proposal is the network envelope for a freshly proposed block.
type Proposal struct {
	ProposerID dag.ID
	Block      *dag.Block
}

// Vote is the network envelope for a partial certificate.
type Vote struct {
	VoterID dag.ID
	BlkHash dag.Hash
	Sig     []byte
}

// Sender is the outbound half of the network seam: consensus.Core calls
// Broadcast when it proposes, and Send when it votes for the current
// leader.
type Sender interface {
	Broadcast(Proposal)
	Send(to dag.ID, v Vote)
}

// Receiver is the inbound half: an implementation delivers proposals and
// votes to the consensus goroutine via these callbacks. cmd/replica wires
// a Receiver's callbacks to consensus.Core's OnReceiveProposal/
// OnReceiveVote, always from the single dispatch goroutine.
type Receiver interface {
	OnProposal(func(Proposal))
	OnVote(func(Vote))
}
