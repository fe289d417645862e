package consensus

import "sync"

// Promise is a one-shot signal: Resolve fires it at most once, and any
// number of callers can wait on Done() -- including callers that start
// waiting after Resolve has already run, who observe an already-closed
// channel and proceed immediately. This is a typed channel/oneshot-cell
// stand-in for a one-shot promise primitive.
type Promise[T any] struct {
	mu    sync.Mutex
	done  chan struct{}
	val   T
	fired bool
}

// NewPromise returns an unresolved promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve fires the promise with v. A second call is a no-op: a promise
// fires at most once.
func (p *Promise[T]) Resolve(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fired {
		return
	}
	p.val = v
	p.fired = true
	close(p.done)
}

// Done returns a channel that is closed once the promise resolves.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Value returns the resolved value. Calling it before Resolve returns the
// zero value of T; callers should only read it after receiving from
// Done().
func (p *Promise[T]) Value() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.val
}

// signal is a replace-on-fire promise holder: the trio of
// propose_waiting/receive_proposal_waiting/hqc_update_waiting wired
// into Core. Firing it resolves whoever was subscribed and atomically
// swaps in a fresh, unresolved promise for the next round.
type signal[T any] struct {
	mu sync.Mutex
	p  *Promise[T]
}

func newSignal[T any]() *signal[T] {
	return &signal[T]{p: NewPromise[T]()}
}

// Fire resolves the current promise with v and replaces it with a fresh
// one.
func (s *signal[T]) Fire(v T) {
	s.mu.Lock()
	old := s.p
	s.p = NewPromise[T]()
	s.mu.Unlock()
	old.Resolve(v)
}

// Subscribe returns the currently-pending promise. Calling it again after
// Fire has run returns the new, still-unresolved promise -- matching the
// "replace on fire" contract.
func (s *signal[T]) Subscribe() *Promise[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

// qcWaiting is the per-block map of one-shot QC-completion signals:
// one promise per block, resolved at most once and kept until Forget
// removes it.
type qcWaiting struct {
	mu  sync.Mutex
	set map[[32]byte]*Promise[struct{}]
}

func newQCWaiting() *qcWaiting {
	return &qcWaiting{set: make(map[[32]byte]*Promise[struct{}])}
}

// Subscribe returns the promise for hash, creating it unresolved if
// absent. A hash whose QC already completed keeps its resolved promise
// in the set rather than having Resolve remove it, so a subscriber that
// arrives after completion gets back an already-done promise instead of
// a fresh one that would never fire again.
func (q *qcWaiting) Subscribe(hash [32]byte) *Promise[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.set[hash]
	if !ok {
		p = NewPromise[struct{}]()
		q.set[hash] = p
	}
	return p
}

// Resolve fires the promise for hash, creating it already-resolved if no
// one had subscribed yet. The entry is kept (not deleted) so a later
// Subscribe observes the already-completed QC; Prune is responsible for
// eventually forgetting hashes that fall out of the live DAG.
func (q *qcWaiting) Resolve(hash [32]byte) {
	q.mu.Lock()
	p, ok := q.set[hash]
	if !ok {
		p = NewPromise[struct{}]()
		q.set[hash] = p
	}
	q.mu.Unlock()
	p.Resolve(struct{}{})
}

// Forget drops hash's entry, if any, letting prune reclaim memory for
// blocks that have left the live DAG.
func (q *qcWaiting) Forget(hash [32]byte) {
	q.mu.Lock()
	delete(q.set, hash)
	q.mu.Unlock()
}
