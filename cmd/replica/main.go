// Command replica runs one BFT replica: it loads the static cluster
// configuration, wires the consensus core to the Coordinator bridge and
// the in-process network seam, and drives the inbound event loop from a
// single goroutine. It never runs its own replica-to-replica transport
// -- that seam (network.Sender/Receiver) is left to the operator's
// deployment, see network/network.go.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/iotaledger/hotstuff-replica/bridge"
	"github.com/iotaledger/hotstuff-replica/config"
	"github.com/iotaledger/hotstuff-replica/consensus"
	"github.com/iotaledger/hotstuff-replica/crypto"
	"github.com/iotaledger/hotstuff-replica/dag"
	"github.com/iotaledger/hotstuff-replica/internal/logging"
	"github.com/iotaledger/hotstuff-replica/network"
)

var logger = logging.Named("replica")

func main() {
	if err := run(); err != nil {
		logger.Fatalw("replica exited", "error", err)
	}
}

func run() error {
	fs := pflag.NewFlagSet("replica", pflag.ExitOnError)
	configPath := fs.String("config", "replica.yaml", "path to the replica configuration file")
	staleness := fs.Int("prune-staleness", 6, "blocks to retain behind b_exec before pruning")
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	// pflag owns all our flags; this only keeps "go test"'s own flag
	// registration from tripping over an unparsed flag.Parse() elsewhere
	// in the binary's dependency graph.
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	provider := crypto.NewECDSAProvider()
	genesis := dag.Genesis()
	storage := dag.NewStorage(genesis)

	bus := network.NewLocalBus(cfg.ReplicaID)

	pubKeys := make(map[dag.ID]crypto.PublicKey, len(cfg.ReplicaDirectory))
	replicaIDs := make([]dag.ID, 0, len(cfg.ReplicaDirectory))
	for _, r := range cfg.ReplicaDirectory {
		if r.PubKey != nil {
			pubKeys[r.ID] = r.PubKey
		}
		replicaIDs = append(replicaIDs, r.ID)
	}
	leader := consensus.NewRoundRobinLeader(replicaIDs)

	coordinatorSender := bridge.NewSender(fmt.Sprintf("127.0.0.1:%d", cfg.CoordinatorSendPort))
	ledger, err := bridge.NewLedgerValidator(
		fmt.Sprintf(":%d", cfg.IRIListenPort),
		fmt.Sprintf("127.0.0.1:%d", cfg.IRISendPort),
	)
	if err != nil {
		return fmt.Errorf("start ledger validator: %w", err)
	}

	core := consensus.NewCore(
		consensus.Params{
			ID:           cfg.ReplicaID,
			NMajority:    cfg.NMajority(),
			PrivateKey:   cfg.PrivateKey,
			PubKeys:      pubKeys,
			TwoStepMode:  cfg.TwoStepMode,
			VoteDisabled: cfg.VoteDisabled,
		},
		provider,
		genesis,
		storage,
		bus,
		coordinatorSender,
		ledger,
		nil, // no application execution hook beyond Finality events
		func(f consensus.Finality) {
			logger.Infow("committed command",
				"height", f.Height, "cmd_index", f.CmdIndex, "block", f.BlockHash)
		},
	)

	bus.OnProposal(func(p network.Proposal) {
		// A proposal arriving over a real network carries only the raw
		// fields (parent hashes, commands, justify QC); this replica must
		// resolve it against its own storage before consensus.Core can
		// run on it, since OnReceiveProposal's precondition is that the
		// block is already delivered.
		p.Block = storage.AddBlk(p.Block)
		if !p.Block.Delivered {
			if _, err := storage.Deliver(p.Block); err != nil {
				logger.Warnw("dropping proposal, cannot deliver", "error", err)
				return
			}
		}
		err := core.OnReceiveProposal(p)
		if err == nil {
			core.Prune(*staleness)
			return
		}
		if _, fatal := err.(*consensus.ErrSafetyBreach); fatal {
			logger.Fatalw("safety breach, stopping replica", "error", err)
		}
		logger.Warnw("dropping proposal", "error", err)
	})
	bus.OnVote(func(v network.Vote) {
		err := core.OnReceiveVote(v)
		if err == nil {
			return
		}
		if _, fatal := err.(*consensus.ErrSafetyBreach); fatal {
			logger.Fatalw("safety breach, stopping replica", "error", err)
		}
		logger.Warnw("vote handling failed", "error", err)
	})

	// The listener goroutine only hands decoded frames over; proposing
	// runs on the dispatch loop at the end of run.
	frames := make(chan bridge.ProposalFrame, 16)
	handleFrame := func(f bridge.ProposalFrame) {
		tails := storage.Tails()
		height := uint64(1)
		if len(tails) > 0 {
			height = tails[0].Height + 1
		}
		if leader.GetLeader(height) != cfg.ReplicaID {
			logger.Warnw("coordinator proposed to a non-leader replica, ignoring", "height", height)
			return
		}
		commands := make([]dag.Command, dag.CommandsPerBlock)
		copy(commands, f.Commands[:])
		core.MarkAwaitingDecision(dag.Hash(commands[0]))
		if _, err := core.OnPropose(commands, tails, nil); err != nil {
			logger.Warnw("propose from coordinator frame failed", "error", err)
		}
		core.Prune(*staleness)
	}
	proposalListener, err := bridge.ListenProposals(fmt.Sprintf(":%d", cfg.CoordinatorListenPort), func(f bridge.ProposalFrame) {
		frames <- f
	})
	if err != nil {
		return fmt.Errorf("start proposal listener: %w", err)
	}
	defer func() {
		if err := bridge.CloseAll(ledger, proposalListener); err != nil {
			logger.Warnw("error closing bridge sockets", "error", err)
		}
	}()

	logger.Infow("replica started", "id", cfg.ReplicaID, "nmajority", cfg.NMajority())
	for f := range frames {
		handleFrame(f)
	}
	return nil
}
