package network

import (
	"sync"

	"github.com/iotaledger/hotstuff-replica/dag"
)

// LocalBus is an in-process Sender+Receiver for every replica in a single
// test process or single-process demo: each replica's own *LocalBus
// forwards its Broadcast/Send calls to the other replicas' registered
// handlers directly. It plays the role a gorums-backed configuration
// object would play in a real deployment, without any real transport.
type LocalBus struct {
	id dag.ID

	mu        sync.Mutex
	peers     map[dag.ID]*LocalBus
	onPropose func(Proposal)
	onVote    func(Vote)
}

// NewLocalBus returns a bus for replica id. Call Connect to wire it to
// its peers before use.
func NewLocalBus(id dag.ID) *LocalBus {
	return &LocalBus{id: id, peers: make(map[dag.ID]*LocalBus)}
}

// Connect makes b and peer mutually reachable.
func (b *LocalBus) Connect(peer *LocalBus) {
	b.mu.Lock()
	b.peers[peer.id] = peer
	b.mu.Unlock()
	peer.mu.Lock()
	peer.peers[b.id] = b
	peer.mu.Unlock()
}

// Broadcast delivers prop to every connected peer's registered handler.
func (b *LocalBus) Broadcast(prop Proposal) {
	b.mu.Lock()
	peers := make([]*LocalBus, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		p.deliverProposal(prop)
	}
}

// Send delivers v to replica to's registered handler.
func (b *LocalBus) Send(to dag.ID, v Vote) {
	b.mu.Lock()
	peer, ok := b.peers[to]
	b.mu.Unlock()
	if !ok {
		return
	}
	peer.deliverVote(v)
}

// OnProposal registers the handler invoked when a proposal arrives.
func (b *LocalBus) OnProposal(f func(Proposal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPropose = f
}

// OnVote registers the handler invoked when a vote arrives.
func (b *LocalBus) OnVote(f func(Vote)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onVote = f
}

func (b *LocalBus) deliverProposal(p Proposal) {
	b.mu.Lock()
	f := b.onPropose
	b.mu.Unlock()
	if f != nil {
		f(p)
	}
}

func (b *LocalBus) deliverVote(v Vote) {
	b.mu.Lock()
	f := b.onVote
	b.mu.Unlock()
	if f != nil {
		f(v)
	}
}

var (
	_ Sender   = (*LocalBus)(nil)
	_ Receiver = (*LocalBus)(nil)
)
