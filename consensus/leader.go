package consensus

import "github.com/iotaledger/hotstuff-replica/dag"

// LeaderRotation decides which replica is the leader for a given block
// height. View-change/pacemaker timing that might trigger a rotation is
// out of scope here: Core only ever asks "who is the leader right now"
// and never drives a timeout itself.
type LeaderRotation interface {
	GetLeader(height uint64) dag.ID
}

// fixedLeader always names the same replica, the simplest possible
// rotation.
type fixedLeader struct {
	leader dag.ID
}

// NewFixedLeader returns a LeaderRotation that always names leader.
func NewFixedLeader(leader dag.ID) LeaderRotation {
	return fixedLeader{leader: leader}
}

func (f fixedLeader) GetLeader(_ uint64) dag.ID {
	return f.leader
}

// roundRobinLeader rotates the leader by height modulo the replica count,
// a minimal liveness-under-rotation option that still requires no
// external timer -- the leader for a given height is a pure function of
// that height.
type roundRobinLeader struct {
	replicas []dag.ID
}

// NewRoundRobinLeader returns a LeaderRotation that cycles through
// replicas in the given order, one per height.
func NewRoundRobinLeader(replicas []dag.ID) LeaderRotation {
	cp := make([]dag.ID, len(replicas))
	copy(cp, replicas)
	return roundRobinLeader{replicas: cp}
}

func (r roundRobinLeader) GetLeader(height uint64) dag.ID {
	if len(r.replicas) == 0 {
		return 0
	}
	return r.replicas[int(height)%len(r.replicas)]
}
