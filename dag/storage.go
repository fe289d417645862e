package dag

import "sync"

// Storage is the entity storage: a mapping from block hash to a single
// canonical live block reference, plus the set of current DAG leaves
// ("tails"). Every method holds the mutex for its duration, so the maps
// themselves are not corrupted by concurrent calls; the Blocks it hands
// out are not guarded by it and belong to the consensus goroutine, the
// same single-thread ownership the teacher's BlockChain assumes at the
// call site.
type Storage struct {
	mu     sync.Mutex
	blocks map[Hash]*Block
	// objIndex maps a block's ObjHash -- what a quorum certificate over
	// this block actually signs -- back to the block, so that a
	// child's embedded qc -- which targets the parent's ObjHash, not
	// necessarily the parent's own Hash -- can be resolved on delivery.
	objIndex map[Hash]*Block
	tails    map[Hash]*Block
}

// NewStorage returns a Storage seeded with the genesis block as its sole
// tail.
func NewStorage(genesis *Block) *Storage {
	s := &Storage{
		blocks:   make(map[Hash]*Block),
		objIndex: make(map[Hash]*Block),
		tails:    make(map[Hash]*Block),
	}
	s.blocks[genesis.Hash()] = genesis
	s.objIndex[genesis.ObjHash()] = genesis
	s.tails[genesis.Hash()] = genesis
	return s
}

// AddBlk canonicalizes b: if a block with the same hash is already
// stored, the existing reference is returned and b is discarded;
// otherwise b is stored and returned.
func (s *Storage) AddBlk(b *Block) *Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := b.Hash()
	if existing, ok := s.blocks[h]; ok {
		return existing
	}
	s.blocks[h] = b
	s.objIndex[b.ObjHash()] = b
	return b
}

// FindBlk returns the block stored under h, if any.
func (s *Storage) FindBlk(h Hash) (*Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

// FindDelivered is a convenience wrapper used by the consensus core's
// vote path: it returns the block only if it is both stored and
// delivered.
func (s *Storage) FindDelivered(h Hash) (*Block, bool) {
	b, ok := s.FindBlk(h)
	if !ok || !b.Delivered {
		return nil, false
	}
	return b, true
}

// TryReleaseBlk removes b from storage if nothing else in the live DAG
// still references it. The original C++ storage used manual reference
// counting; Go's GC already reclaims unreachable blocks, so this check is
// reduced to "does b still have any parent links" -- the same condition
// Prune uses to decide a block is fully detached.
func (s *Storage) TryReleaseBlk(b *Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(b.Parents) != 0 {
		return false
	}
	delete(s.blocks, b.Hash())
	delete(s.objIndex, b.ObjHash())
	delete(s.tails, b.Hash())
	return true
}

// Deliver resolves b's parents and qc_ref, marks it delivered, and
// updates the tails set. It returns false without modifying anything if
// b is already delivered, or an error if any parent/qc_ref is not
// itself delivered.
func (s *Storage) Deliver(b *Block) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Delivered {
		return false, nil
	}
	if len(b.ParentHashes) == 0 {
		return false, ErrProtocolViolation("block has no parents")
	}
	parents := make([]*Block, 0, len(b.ParentHashes))
	for _, ph := range b.ParentHashes {
		p, ok := s.blocks[ph]
		if !ok || !p.Delivered {
			return false, ErrProtocolViolation("parent block not delivered")
		}
		parents = append(parents, p)
	}
	b.Parents = parents
	b.Height = parents[0].Height + 1

	if b.QC != nil {
		ref, ok := s.objIndex[b.QC.ObjHash]
		if !ok || !ref.Delivered {
			return false, ErrProtocolViolation("block referred by qc not fetched")
		}
		b.QCRef = ref
	}

	for _, p := range parents {
		delete(s.tails, p.Hash())
	}
	s.tails[b.Hash()] = b
	b.Delivered = true
	return true, nil
}

// Tails returns the current set of DAG leaves (delivered blocks with no
// delivered descendants), the candidate parents for a new proposal.
func (s *Storage) Tails() []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Block, 0, len(s.tails))
	for _, b := range s.tails {
		out = append(out, b)
	}
	return out
}

// ErrProtocolViolation reports a block-level protocol violation: a
// referenced block or qc target was not fetched. It is a string
// type rather than a struct so that callers can compare messages in
// tests without exporting sentinel values per violation kind.
type ErrProtocolViolation string

func (e ErrProtocolViolation) Error() string {
	return "dag: protocol violation: " + string(e)
}
