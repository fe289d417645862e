// Package consensus implements the pipelined three-phase (or two-phase,
// under TwoStepMode) HotStuff voting and commit rule: the block DAG
// walk that decides vheight, b_lock, b_exec and hqc, and the Coordinator
// notifications that ride along with it. Core is not safe for concurrent
// use of its mutating methods -- callers serialize access through a
// single dispatch goroutine, the same single-threaded ownership model
// HotStuffCore implementations in this lineage use.
package consensus

import (
	"fmt"

	"github.com/iotaledger/hotstuff-replica/crypto"
	"github.com/iotaledger/hotstuff-replica/dag"
	"github.com/iotaledger/hotstuff-replica/internal/logging"
	"github.com/iotaledger/hotstuff-replica/network"
	"github.com/iotaledger/hotstuff-replica/wire"
)

var logger = logging.Named("consensus")

// CoordinatorSender is the consensus-local view of the Coordinator
// bridge's outbound half: bridge.Sender satisfies it structurally, so
// this package never imports bridge.
type CoordinatorSender interface {
	Send(payload []byte) error
}

// LedgerValidator is the consensus-local view of the ledger validation
// round-trip: bridge.LedgerValidator satisfies it structurally.
type LedgerValidator interface {
	Validate(req []byte) bool
}

// DoConsensusFunc is the application hook invoked once per committed
// block, in commit order, before its commands' Finality records are
// emitted.
type DoConsensusFunc func(b *dag.Block)

// Finality reports one committed command.
type Finality struct {
	ReplicaID dag.ID
	Commit    bool
	CmdIndex  int
	Height    uint64
	Cmd       dag.Command
	BlockHash dag.Hash
}

// Params are the per-replica quorum and key parameters Core needs; the
// rest of the static configuration (ports, peer addresses) belongs to
// cmd/replica's wiring, not to Core itself.
type Params struct {
	ID           dag.ID
	NMajority    int
	PrivateKey   crypto.PrivateKey
	PubKeys      map[dag.ID]crypto.PublicKey
	TwoStepMode  bool
	VoteDisabled bool
}

// Core is the consensus state machine. Its exported mutating methods
// (OnPropose, OnReceiveProposal, OnReceiveVote, Prune) must only ever be
// called from one logical goroutine.
type Core struct {
	params      Params
	provider    crypto.Provider
	storage     *dag.Storage
	sender      network.Sender
	coordinator CoordinatorSender
	ledger      LedgerValidator
	doConsensus DoConsensusFunc
	onFinality  func(Finality)

	bLock    *dag.Block
	bExec    *dag.Block
	hqcBlock *dag.Block
	hqcQC    *crypto.QuorumCert
	vheight  uint64

	proposeWaiting         *signal[*dag.Block]
	receiveProposalWaiting *signal[*dag.Block]
	hqcUpdateWaiting       *signal[*dag.Block]
	qcWaiting              *qcWaiting

	// decisionWaiting tracks in-flight proposals the Coordinator is
	// waiting to hear back about, keyed by the proposal's first command.
	// cmd/replica's inbound bridge wiring populates it via
	// MarkAwaitingDecision before calling OnPropose with Coordinator-
	// supplied commands.
	decisionWaiting map[dag.Hash]struct{}
}

// NewCore wires a fresh Core around genesis, already seeded as the sole
// entry of storage.
func NewCore(
	params Params,
	provider crypto.Provider,
	genesis *dag.Block,
	storage *dag.Storage,
	sender network.Sender,
	coordinator CoordinatorSender,
	ledger LedgerValidator,
	doConsensus DoConsensusFunc,
	onFinality func(Finality),
) *Core {
	return &Core{
		params:      params,
		provider:    provider,
		storage:     storage,
		sender:      sender,
		coordinator: coordinator,
		ledger:      ledger,
		doConsensus: doConsensus,
		onFinality:  onFinality,

		bLock:    genesis,
		bExec:    genesis,
		hqcBlock: genesis,
		hqcQC:    crypto.NewQuorumCert(provider, genesis.ObjHash()),
		vheight:  genesis.Height,

		proposeWaiting:         newSignal[*dag.Block](),
		receiveProposalWaiting: newSignal[*dag.Block](),
		hqcUpdateWaiting:       newSignal[*dag.Block](),
		qcWaiting:              newQCWaiting(),
		decisionWaiting:        make(map[dag.Hash]struct{}),
	}
}

// BLock, BExec, HQC and VHeight expose the replica's current safety
// state, read-only, for tests and operator diagnostics.
func (c *Core) BLock() *dag.Block { return c.bLock }
func (c *Core) BExec() *dag.Block { return c.bExec }
func (c *Core) HQC() (*dag.Block, *crypto.QuorumCert) { return c.hqcBlock, c.hqcQC }
func (c *Core) VHeight() uint64 { return c.vheight }

// ProposeWaiting, ReceiveProposalWaiting and HQCUpdateWaiting return the
// currently-pending promise for their respective replace-on-fire signal.
func (c *Core) ProposeWaiting() *Promise[*dag.Block]         { return c.proposeWaiting.Subscribe() }
func (c *Core) ReceiveProposalWaiting() *Promise[*dag.Block] { return c.receiveProposalWaiting.Subscribe() }
func (c *Core) HQCUpdateWaiting() *Promise[*dag.Block]       { return c.hqcUpdateWaiting.Subscribe() }

// QCWaiting returns the promise that resolves once hash's quorum
// certificate completes, subscribing fresh if none is outstanding.
func (c *Core) QCWaiting(hash dag.Hash) *Promise[struct{}] {
	return c.qcWaiting.Subscribe(hash)
}

// MarkAwaitingDecision records that the Coordinator is waiting on a
// decision for the in-flight proposal whose first command is key.
func (c *Core) MarkAwaitingDecision(key dag.Hash) {
	c.decisionWaiting[key] = struct{}{}
}

// OnPropose assembles and self-votes a fresh block over commands, built
// on top of parents, then broadcasts it. The caller (cmd/replica's
// LeaderRotation check) is responsible for only invoking this when this
// replica is the leader for the current view.
func (c *Core) OnPropose(commands []dag.Command, parents []*dag.Block, extra []byte) (*dag.Block, error) {
	if len(parents) == 0 {
		return nil, &ErrProtocolViolation{Reason: "propose with no parents"}
	}

	parentHashes := make([]dag.Hash, len(parents))
	for i, p := range parents {
		parentHashes[i] = p.Hash()
	}

	qc := c.hqcQC.Clone()
	b := dag.NewBlock(parentHashes, commands, qc, extra, parents[0].Height+1)
	b = c.storage.AddBlk(b)
	b.SelfQC = crypto.NewQuorumCert(c.provider, b.ObjHash())

	if _, err := c.storage.Deliver(b); err != nil {
		return nil, err
	}

	if err := c.update(b); err != nil {
		return nil, err
	}

	c.vheight = b.Height

	sig, err := c.provider.Sign(c.params.PrivateKey, b.ObjHash())
	if err != nil {
		return nil, fmt.Errorf("consensus: sign own proposal: %w", err)
	}
	if err := c.OnReceiveVote(network.Vote{VoterID: c.params.ID, BlkHash: b.Hash(), Sig: sig}); err != nil {
		return nil, err
	}

	c.proposeWaiting.Fire(b)
	if c.sender != nil {
		c.sender.Broadcast(network.Proposal{ProposerID: c.params.ID, Block: b})
	}
	return b, nil
}

// OnReceiveProposal runs the commit rule for an already-delivered block,
// decides this replica's vote opinion, and dispatches a vote to the
// proposer if the opinion holds and the ledger (when the block carries
// commands) accepts it.
func (c *Core) OnReceiveProposal(prop network.Proposal) error {
	b := prop.Block
	if !b.Delivered {
		return &ErrProtocolViolation{Reason: "proposal block not delivered"}
	}

	if err := c.update(b); err != nil {
		return err
	}

	opinion := c.vote(b)

	if b.QCRef != nil {
		c.qcWaiting.Resolve(b.QCRef.Hash())
	}
	c.receiveProposalWaiting.Fire(b)

	if len(c.decisionWaiting) > 0 && len(b.Commands) > 0 {
		if c.coordinator != nil {
			if err := c.coordinator.Send([]byte{wire.AckByte}); err != nil {
				logger.Warnw("coordinator ack failed", "error", err)
			}
		}
		for k := range c.decisionWaiting {
			delete(c.decisionWaiting, k)
		}
	}

	if !opinion || c.params.VoteDisabled {
		return nil
	}

	if len(b.Commands) > 0 && !c.CheckCmds(b.Commands) {
		return nil
	}

	obj := b.ObjHash()
	sig, err := c.provider.Sign(c.params.PrivateKey, obj)
	if err != nil {
		return fmt.Errorf("consensus: sign vote: %w", err)
	}
	if c.sender != nil {
		c.sender.Send(prop.ProposerID, network.Vote{VoterID: c.params.ID, BlkHash: b.Hash(), Sig: sig})
	}
	return nil
}

// vote decides the opinion for b without side effects beyond advancing
// vheight: too-stale heights never get a vote; a taller qc_ref than
// b_lock votes on liveness grounds; otherwise b must walk back to
// b_lock through parents[0] to vote on safety grounds.
func (c *Core) vote(b *dag.Block) bool {
	if b.Height <= c.vheight {
		return false
	}
	if b.QCRef != nil && b.QCRef.Height > c.bLock.Height {
		c.vheight = b.Height
		return true
	}
	anc := b
	for anc != nil && anc.Height > c.bLock.Height {
		if len(anc.Parents) == 0 {
			anc = nil
			break
		}
		anc = anc.Parents[0]
	}
	if anc == c.bLock {
		c.vheight = b.Height
		return true
	}
	return false
}

// OnReceiveVote folds vote into its block's in-progress quorum
// certificate; once quorum is reached it computes the certificate, raises
// hqc and resolves the block's qc_waiting entry. It does not run the
// commit rule.
func (c *Core) OnReceiveVote(vote network.Vote) error {
	blk, ok := c.storage.FindDelivered(vote.BlkHash)
	if !ok {
		return &ErrProtocolViolation{Reason: "vote for undelivered block"}
	}
	if len(blk.Voted) >= c.params.NMajority {
		return nil
	}
	if _, dup := blk.Voted[vote.VoterID]; dup {
		logger.Warnw("duplicate vote dropped", "voter", vote.VoterID, "block", blk.Hash())
		return nil
	}
	if pub, ok := c.params.PubKeys[vote.VoterID]; ok && !c.provider.Verify(pub, blk.ObjHash(), vote.Sig) {
		logger.Warnw("vote failed verification, dropped", "voter", vote.VoterID, "block", blk.Hash())
		return nil
	}

	if blk.SelfQC == nil {
		blk.SelfQC = crypto.NewQuorumCert(c.provider, blk.ObjHash())
	}
	blk.SelfQC.AddPart(vote.VoterID, vote.Sig)
	blk.Voted[vote.VoterID] = struct{}{}

	if len(blk.Voted) < c.params.NMajority {
		return nil
	}

	if len(blk.Commands) > 0 {
		key := dag.Hash(blk.Commands[0])
		if _, waiting := c.decisionWaiting[key]; waiting {
			if c.coordinator != nil {
				if err := c.coordinator.Send(blk.SelfQC.Serialize(c.params.ID)); err != nil {
					logger.Warnw("coordinator qc frame send failed", "error", err)
				}
			}
			delete(c.decisionWaiting, key)
		}
	}

	if err := blk.SelfQC.Compute(); err != nil {
		return fmt.Errorf("consensus: compute quorum cert: %w", err)
	}
	c.updateHQC(blk, blk.SelfQC)
	c.qcWaiting.Resolve(blk.Hash())
	return nil
}

// update runs the pipelined commit rule for a newly observed (proposed
// or received) block b.
func (c *Core) update(b *dag.Block) error {
	if c.params.TwoStepMode {
		return c.updateTwoStep(b)
	}
	return c.updateThreeStep(b)
}

func (c *Core) updateThreeStep(b *dag.Block) error {
	b2 := b.QCRef
	if b2 == nil || b2.Decision {
		return nil
	}
	b1 := b2.QCRef
	if b1 == nil || b1.Decision {
		return nil
	}
	b0 := b1.QCRef
	if b0 == nil || b0.Decision {
		return nil
	}

	c.updateHQC(b2, b.QC)

	if b1.Height > c.bLock.Height {
		c.bLock = b1
	}

	if len(b2.Parents) == 0 || b2.Parents[0] != b1 || len(b1.Parents) == 0 || b1.Parents[0] != b0 {
		return nil
	}
	return c.commitFrom(b0)
}

func (c *Core) updateTwoStep(b *dag.Block) error {
	b1 := b.QCRef
	if b1 == nil || b1.Decision {
		return nil
	}
	b0 := b1.QCRef
	if b0 == nil || b0.Decision {
		return nil
	}

	c.updateHQC(b1, b.QC)

	if b1.Height > c.bLock.Height {
		c.bLock = b1
	}

	if len(b1.Parents) == 0 || b1.Parents[0] != b0 {
		return nil
	}
	return c.commitFrom(b0)
}

// updateHQC raises hqc to block/qc if block is taller than the current
// hqc block, firing hqcUpdateWaiting.
func (c *Core) updateHQC(block *dag.Block, qc *crypto.QuorumCert) {
	if block.Height > c.hqcBlock.Height {
		c.hqcBlock = block
		c.hqcQC = qc
		c.hqcUpdateWaiting.Fire(block)
	}
}

// commitFrom walks back from b0 to b_exec, requires landing exactly on
// it, and executes the queue bottom-up on success.
func (c *Core) commitFrom(b0 *dag.Block) error {
	var queue []*dag.Block
	cur := b0
	for cur != nil && cur.Height > c.bExec.Height {
		queue = append(queue, cur)
		if len(cur.Parents) == 0 {
			cur = nil
			break
		}
		cur = cur.Parents[0]
	}
	if cur != c.bExec {
		return &ErrSafetyBreach{CommitAncestor: blockHashBytes(cur), BExec: blockHashBytes(c.bExec)}
	}

	for i := len(queue) - 1; i >= 0; i-- {
		blk := queue[i]
		blk.Decision = true
		if c.doConsensus != nil {
			c.doConsensus(blk)
		}
		if c.onFinality != nil {
			for idx, cmd := range blk.Commands {
				c.onFinality(Finality{
					ReplicaID: c.params.ID,
					Commit:    true,
					CmdIndex:  idx,
					Height:    blk.Height,
					Cmd:       cmd,
					BlockHash: blk.Hash(),
				})
			}
		}
	}
	c.bExec = b0
	return nil
}

func blockHashBytes(b *dag.Block) []byte {
	if b == nil {
		return nil
	}
	h := b.Hash()
	return h[:]
}

// Prune walks staleness steps back from b_exec via parents[0], then
// depth-first detaches everything reachable further back: nulling
// qc_ref, draining parent lists, and releasing nodes from storage once
// they are left with no parents.
func (c *Core) Prune(staleness int) {
	root := c.bExec
	for i := 0; i < staleness; i++ {
		if len(root.Parents) == 0 {
			break
		}
		root = root.Parents[0]
	}

	stack := []*dag.Block{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n.QCRef = nil
		for len(n.Parents) > 0 {
			p := n.Parents[len(n.Parents)-1]
			n.Parents = n.Parents[:len(n.Parents)-1]
			stack = append(stack, p)
		}
		if c.storage.TryReleaseBlk(n) {
			c.qcWaiting.Forget(n.Hash())
		}
	}
}

// CheckCmds asks the ledger validator whether commands are admissible,
// blocking the calling goroutine for the round-trip. Any ledger error
// or nil validator yields false, never an error: a
// validation the core cannot complete is treated as "do not vote", not
// as a protocol fault.
func (c *Core) CheckCmds(commands []dag.Command) bool {
	if c.ledger == nil {
		return false
	}
	var arr [dag.CommandsPerBlock]dag.Command
	copy(arr[:], commands)
	return c.ledger.Validate(wire.EncodeLedgerRequest(arr))
}
