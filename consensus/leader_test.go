package consensus

import (
	"testing"

	"github.com/iotaledger/hotstuff-replica/dag"
)

func TestFixedLeaderAlwaysNamesSameReplica(t *testing.T) {
	l := NewFixedLeader(3)
	if l.GetLeader(1) != 3 || l.GetLeader(100) != 3 {
		t.Fatal("fixedLeader must return the same id regardless of height")
	}
}

func TestRoundRobinLeaderCyclesByHeight(t *testing.T) {
	replicas := []dag.ID{1, 2, 3}
	l := NewRoundRobinLeader(replicas)
	for h := uint64(0); h < 6; h++ {
		want := replicas[h%3]
		if got := l.GetLeader(h); got != want {
			t.Fatalf("height %d: got %d, want %d", h, got, want)
		}
	}
}

func TestRoundRobinLeaderEmptySetReturnsZero(t *testing.T) {
	l := NewRoundRobinLeader(nil)
	if l.GetLeader(5) != 0 {
		t.Fatal("an empty replica set must report id 0 rather than panic")
	}
}
