package consensus

import (
	"crypto/ecdsa"
	"testing"

	"github.com/iotaledger/hotstuff-replica/crypto"
	"github.com/iotaledger/hotstuff-replica/dag"
	"github.com/iotaledger/hotstuff-replica/network"
)

// stubLedger is a test double for the Coordinator's ledger validation
// round-trip: it answers every CheckCmds call with a fixed verdict
// instead of a real socket round-trip.
type stubLedger struct{ verdict bool }

func (s stubLedger) Validate([]byte) bool { return s.verdict }

// replicaNode bundles one simulated replica's Core together with its
// LocalBus and the Finality records it has observed.
type replicaNode struct {
	id       dag.ID
	core     *Core
	bus      *network.LocalBus
	priv     *ecdsa.PrivateKey
	finality []Finality
}

// newCluster wires n replicas, all connected pairwise over in-process
// LocalBuses, sharing one provider, one ledger verdict and one genesis
// block (LocalBus hands every replica the proposer's own block pointers,
// so their parent chains must end at the same genesis). Replica 0 is
// always this cluster's leader (the leader signal is supplied
// externally; tests drive it by only ever calling OnPropose on node 0).
func newCluster(t *testing.T, n, nmajority int, ledgerVerdict bool) []*replicaNode {
	t.Helper()
	provider := crypto.NewECDSAProvider()

	nodes := make([]*replicaNode, n)
	pubKeys := make(map[dag.ID]crypto.PublicKey, n)
	for i := 0; i < n; i++ {
		priv, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		nodes[i] = &replicaNode{id: dag.ID(i), priv: priv, bus: network.NewLocalBus(dag.ID(i))}
		pubKeys[dag.ID(i)] = &priv.PublicKey
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			nodes[i].bus.Connect(nodes[j].bus)
		}
	}

	genesis := dag.Genesis()
	for _, node := range nodes {
		storage := dag.NewStorage(genesis)
		rn := node
		rn.core = NewCore(
			Params{
				ID:         rn.id,
				NMajority:  nmajority,
				PrivateKey: rn.priv,
				PubKeys:    pubKeys,
			},
			provider,
			genesis,
			storage,
			rn.bus,
			nil, // no Coordinator in these tests
			stubLedger{verdict: ledgerVerdict},
			nil,
			func(f Finality) { rn.finality = append(rn.finality, f) },
		)
		rn.bus.OnProposal(func(p network.Proposal) {
			if err := rn.core.OnReceiveProposal(p); err != nil {
				t.Errorf("replica %d: OnReceiveProposal: %v", rn.id, err)
			}
		})
		rn.bus.OnVote(func(v network.Vote) {
			if err := rn.core.OnReceiveVote(v); err != nil {
				t.Errorf("replica %d: OnReceiveVote: %v", rn.id, err)
			}
		})
	}
	return nodes
}

// proposeAndDeliver drives node 0 (the fixed leader in these tests)
// through one OnPropose round, which synchronously self-votes,
// broadcasts and collects every follower's vote back (LocalBus dispatch
// is synchronous), so by the time it returns the whole cluster has
// already processed the round.
func proposeAndDeliver(t *testing.T, leader *replicaNode, commands []dag.Command, parents []*dag.Block) *dag.Block {
	t.Helper()
	b, err := leader.core.OnPropose(commands, parents, nil)
	if err != nil {
		t.Fatalf("OnPropose: %v", err)
	}
	return b
}

func TestFourReplicaHappyPath(t *testing.T) {
	nodes := newCluster(t, 4, 3, true)
	leader := nodes[0]

	var cmd dag.Command
	for i := range cmd {
		cmd[i] = 0xaa
	}

	b1 := proposeAndDeliver(t, leader, []dag.Command{cmd}, leader.core.storage.Tails())
	if hqcBlock, _ := leader.core.HQC(); hqcBlock.Hash() != b1.Hash() {
		t.Fatalf("after B1's quorum completes, hqc must be B1 (height %d), got height %d", b1.Height, hqcBlock.Height)
	}

	b2 := proposeAndDeliver(t, leader, nil, []*dag.Block{b1})
	b3 := proposeAndDeliver(t, leader, nil, []*dag.Block{b2})
	if b1.Decision {
		t.Fatal("B1 must not be committed before B4 is proposed")
	}
	b4 := proposeAndDeliver(t, leader, nil, []*dag.Block{b3})
	_ = b4

	if !b1.Decision {
		t.Fatal("B1 must be committed once B4's proposal runs update()")
	}
	if leader.core.BExec().Hash() != b1.Hash() {
		t.Fatalf("b_exec must equal B1 after committing, got height %d", leader.core.BExec().Height)
	}
	if len(leader.finality) != 1 {
		t.Fatalf("leader must observe exactly one Finality record, got %d", len(leader.finality))
	}
	if leader.finality[0].Cmd != cmd || leader.finality[0].BlockHash != b1.Hash() {
		t.Fatal("the Finality record must name B1's command and hash")
	}
}

func TestLedgerRejectionBlocksVoteAndCommit(t *testing.T) {
	nodes := newCluster(t, 4, 3, false) // every CheckCmds call is rejected
	leader := nodes[0]

	var cmd dag.Command
	cmd[0] = 0x01
	b1 := proposeAndDeliver(t, leader, []dag.Command{cmd}, leader.core.storage.Tails())

	// Only the leader's own self-vote landed (self-voting bypasses
	// CheckCmds); followers rejected the ledger check and never voted,
	// so the block can never reach quorum or commit.
	if len(b1.Voted) != 1 {
		t.Fatalf("len(voted) = %d, want 1 (only the self-vote)", len(b1.Voted))
	}
	if b1.Decision {
		t.Fatal("a block that fails ledger validation must never commit")
	}
	// The opinion (and vheight advance) is decided before check_cmds
	// runs: vheight advances unconditionally once the opinion branch is
	// taken, and check_cmds only gates whether the vote is cast.
	for _, follower := range nodes[1:] {
		if follower.core.vheight != b1.Height {
			t.Fatalf("replica %d: vheight = %d, want %d (opinion is set independently of check_cmds)", follower.id, follower.core.vheight, b1.Height)
		}
	}
}

func TestDuplicateVoteCountsOnce(t *testing.T) {
	// Followers reject the ledger check, so only the leader's self-vote
	// lands and B1 stays below quorum: a replayed vote then reaches the
	// duplicate check instead of the past-quorum drop.
	nodes := newCluster(t, 4, 3, false)
	leader := nodes[0]

	var cmd dag.Command
	cmd[0] = 0x01
	b1 := proposeAndDeliver(t, leader, []dag.Command{cmd}, leader.core.storage.Tails())
	before := len(b1.Voted)

	sig, err := crypto.NewECDSAProvider().Sign(nodes[1].priv, b1.ObjHash())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	vote := network.Vote{VoterID: nodes[1].id, BlkHash: b1.Hash(), Sig: sig}

	// Replica 1 votes, then replays that exact vote: the replay must be
	// dropped, not re-counted.
	if err := leader.core.OnReceiveVote(vote); err != nil {
		t.Fatalf("first vote returned an error: %v", err)
	}
	if err := leader.core.OnReceiveVote(vote); err != nil {
		t.Fatalf("replayed vote returned an error instead of being dropped: %v", err)
	}
	if len(b1.Voted) != before+1 {
		t.Fatalf("|voted| went from %d to %d; a vote submitted twice must count once", before, len(b1.Voted))
	}
}

func TestVoteAfterQuorumIsNoop(t *testing.T) {
	nodes := newCluster(t, 4, 3, true)
	leader := nodes[0]

	b1 := proposeAndDeliver(t, leader, nil, leader.core.storage.Tails())
	if len(b1.Voted) < 3 {
		t.Fatalf("quorum of 3 must already be reached, got %d", len(b1.Voted))
	}

	// The fourth replica's vote arrives after quorum already completed.
	sig, err := crypto.NewECDSAProvider().Sign(nodes[3].priv, b1.ObjHash())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := leader.core.OnReceiveVote(network.Vote{VoterID: nodes[3].id, BlkHash: b1.Hash(), Sig: sig}); err != nil {
		t.Fatalf("late vote returned an error: %v", err)
	}
	if len(b1.Voted) != 3 {
		t.Fatalf("a vote past quorum must not grow |voted|, got %d", len(b1.Voted))
	}
}

func TestPipelinedCommitEmitsOneFinalityPerCommand(t *testing.T) {
	nodes := newCluster(t, 4, 3, true)
	leader := nodes[0]

	var cmdA, cmdB dag.Command
	cmdA[0], cmdB[0] = 0x01, 0x02

	b1 := proposeAndDeliver(t, leader, []dag.Command{cmdA, cmdB}, leader.core.storage.Tails())
	b2 := proposeAndDeliver(t, leader, nil, []*dag.Block{b1})
	b3 := proposeAndDeliver(t, leader, nil, []*dag.Block{b2})
	proposeAndDeliver(t, leader, nil, []*dag.Block{b3})

	if !b1.Decision {
		t.Fatal("B1 must be committed")
	}
	if len(leader.finality) != 2 {
		t.Fatalf("len(finality) = %d, want one record per command in B1", len(leader.finality))
	}
}

// deliverChild builds and delivers a one-parent block on storage,
// distinguishing siblings at the same height by a marker command so they
// hash differently.
func deliverChild(t *testing.T, storage *dag.Storage, parent *dag.Block, marker byte) *dag.Block {
	t.Helper()
	b := dag.NewBlock([]dag.Hash{parent.Hash()}, []dag.Command{{marker}}, nil, nil, parent.Height+1)
	b = storage.AddBlk(b)
	if _, err := storage.Deliver(b); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	return b
}

func TestSafetyOpinionRejectsBranchNotThroughLock(t *testing.T) {
	genesis := dag.Genesis()
	storage := dag.NewStorage(genesis)
	core := NewCore(Params{ID: 0, NMajority: 1}, crypto.NewECDSAProvider(), genesis, storage, nil, nil, nil, nil, nil)

	// Honest branch: genesis -> A -> B, locked at B.
	a := deliverChild(t, storage, genesis, 0xa0)
	b := deliverChild(t, storage, a, 0xb0)
	core.bLock = b
	core.vheight = b.Height

	// Dishonest branch, same heights, never passing through B: genesis -> D -> E -> F.
	d := deliverChild(t, storage, genesis, 0xd0)
	e := deliverChild(t, storage, d, 0xe0)
	f := deliverChild(t, storage, e, 0xf0)
	f.QCRef = nil // force the safety-walk branch of vote(), not the liveness shortcut

	if core.vote(f) {
		t.Fatal("a branch whose parents[0] chain never lands on b_lock must not receive a vote")
	}
}

func TestLivenessOpinionAcceptsTallerQCRef(t *testing.T) {
	genesis := dag.Genesis()
	storage := dag.NewStorage(genesis)
	core := NewCore(Params{ID: 0, NMajority: 1}, crypto.NewECDSAProvider(), genesis, storage, nil, nil, nil, nil, nil)

	a := deliverChild(t, storage, genesis, 0xa0)
	b := deliverChild(t, storage, a, 0xb0)
	core.bLock = a
	core.vheight = b.Height

	c := deliverChild(t, storage, b, 0xc0)
	c.QCRef = b // taller than b_lock (a), so liveness must grant the vote

	if !core.vote(c) {
		t.Fatal("a block whose qc_ref is taller than b_lock must receive a vote on liveness grounds")
	}
	if core.vheight != c.Height {
		t.Fatalf("vheight must advance to %d after a granted vote, got %d", c.Height, core.vheight)
	}
}

func TestPruneReleasesStaleBlocksKeepsRecentOnes(t *testing.T) {
	nodes := newCluster(t, 4, 3, true)
	leader := nodes[0]

	blocks := make([]*dag.Block, 0, 13)
	parent := leader.core.storage.Tails()
	for i := 0; i < 13; i++ {
		b := proposeAndDeliver(t, leader, nil, parent)
		blocks = append(blocks, b)
		parent = []*dag.Block{b}
	}

	// B10 (index 9) must be committed by now: proposal n commits n-3.
	if !blocks[9].Decision {
		t.Fatalf("B10 must be committed after 13 proposals, b_exec height=%d", leader.core.BExec().Height)
	}

	leader.core.Prune(3)

	for i := 0; i < 7; i++ {
		if _, ok := leader.core.storage.FindBlk(blocks[i].Hash()); ok {
			t.Fatalf("block %d must be released after Prune(3)", i+1)
		}
	}
	for i := 7; i < 10; i++ {
		if _, ok := leader.core.storage.FindBlk(blocks[i].Hash()); !ok {
			t.Fatalf("block %d must still be reachable after Prune(3)", i+1)
		}
	}
}

func TestPruneZeroIsNoopOnDirectDescendants(t *testing.T) {
	nodes := newCluster(t, 4, 3, true)
	leader := nodes[0]
	execBefore := leader.core.BExec().Hash()

	b1 := proposeAndDeliver(t, leader, nil, leader.core.storage.Tails())
	leader.core.Prune(0)

	if _, ok := leader.core.storage.FindBlk(b1.Hash()); !ok {
		t.Fatal("Prune(0) must not release b_exec's direct descendants")
	}
	if leader.core.BExec().Hash() != execBefore {
		t.Fatal("Prune(0) must not move b_exec")
	}
}

func TestSafetyBreachOnForkedCommitWalk(t *testing.T) {
	nodes := newCluster(t, 1, 1, true)
	c := nodes[0].core

	left := dag.NewBlock([]dag.Hash{c.bExec.Hash()}, nil, nil, nil, c.bExec.Height+1)
	left = c.storage.AddBlk(left)
	if _, err := c.storage.Deliver(left); err != nil {
		t.Fatalf("deliver left: %v", err)
	}
	right := dag.NewBlock([]dag.Hash{c.bExec.Hash()}, []dag.Command{{0x01}}, nil, nil, c.bExec.Height+1)
	right = c.storage.AddBlk(right)
	if _, err := c.storage.Deliver(right); err != nil {
		t.Fatalf("deliver right: %v", err)
	}

	// Simulate this replica having already committed `left`, then being
	// asked to commit a walk that lands on the equivocating sibling
	// `right` instead -- this supermajority-safety violation must be
	// fatal.
	c.bExec = left
	err := c.commitFrom(right)
	if err == nil {
		t.Fatal("commitFrom landing on a block other than b_exec must report a safety breach")
	}
	if _, ok := err.(*ErrSafetyBreach); !ok {
		t.Fatalf("error type = %T, want *ErrSafetyBreach", err)
	}
}
