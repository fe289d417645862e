// Package crypto provides the quorum certificate type and the signing
// provider contract that the consensus core depends on. The core itself
// never imports this package's concrete implementations directly -- it
// depends only on the Provider interface, so that the cryptographic
// primitives (the HotStuff protocol treats them as an external
// collaborator) can be swapped without touching consensus logic.
package crypto

import "fmt"

// Hash is a 256-bit content hash. It identifies both blocks and the
// object a QuorumCert signs over.
type Hash [32]byte

// ID identifies a replica.
type ID uint32

// PrivateKey and PublicKey are opaque key material; a Provider knows how
// to interpret them.
type PrivateKey interface{}
type PublicKey interface{}

// PartialCert is a single replica's signature over a Hash.
type PartialCert struct {
	Signer ID
	Obj    Hash
	Sig    []byte
}

// QuorumCert is a threshold signature under construction or completed.
// ObjHash is the message being signed; Rids/Sigs track which replicas
// have contributed a partial signature so far. Compute finalizes the
// aggregate via the Provider that created it.
type QuorumCert struct {
	ObjHash Hash
	Rids    map[ID]struct{}
	Sigs    map[ID][]byte

	provider Provider
	agg      []byte // set once Compute succeeds
}

// NewQuorumCert returns an empty, in-progress quorum certificate over obj,
// to be finalized later by provider.
func NewQuorumCert(provider Provider, obj Hash) *QuorumCert {
	return &QuorumCert{
		ObjHash:  obj,
		Rids:     make(map[ID]struct{}),
		Sigs:     make(map[ID][]byte),
		provider: provider,
	}
}

// AddPart records replica rid's partial signature over the QC's object.
func (qc *QuorumCert) AddPart(rid ID, sig []byte) {
	qc.Rids[rid] = struct{}{}
	qc.Sigs[rid] = sig
}

// Len reports how many partial signatures have been collected so far.
func (qc *QuorumCert) Len() int {
	return len(qc.Rids)
}

// Signers returns the set of contributing replicas in ascending order,
// the order the Coordinator bridge's outbound QC frame requires.
func (qc *QuorumCert) Signers() []ID {
	ids := make([]ID, 0, len(qc.Rids))
	for id := range qc.Rids {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// Compute finalizes the aggregate signature. It is idempotent: calling it
// again after a successful Compute is a no-op that returns the cached
// aggregate.
func (qc *QuorumCert) Compute() error {
	if qc.agg != nil {
		return nil
	}
	if qc.provider == nil {
		return fmt.Errorf("crypto: quorum cert has no provider to compute with")
	}
	parts := make([]PartialCert, 0, len(qc.Sigs))
	for _, id := range qc.Signers() {
		parts = append(parts, PartialCert{Signer: id, Obj: qc.ObjHash, Sig: qc.Sigs[id]})
	}
	agg, err := qc.provider.Aggregate(qc.ObjHash, parts)
	if err != nil {
		return fmt.Errorf("crypto: aggregate quorum cert: %w", err)
	}
	qc.agg = agg
	return nil
}

// Aggregate returns the finalized aggregate signature, or nil if Compute
// has not yet succeeded.
func (qc *QuorumCert) Aggregate() []byte {
	return qc.agg
}

// Clone returns a deep copy of qc, retaining its provider.
func (qc *QuorumCert) Clone() *QuorumCert {
	cp := NewQuorumCert(qc.provider, qc.ObjHash)
	for id := range qc.Rids {
		cp.Rids[id] = struct{}{}
	}
	for id, sig := range qc.Sigs {
		b := make([]byte, len(sig))
		copy(b, sig)
		cp.Sigs[id] = b
	}
	if qc.agg != nil {
		cp.agg = append([]byte(nil), qc.agg...)
	}
	return cp
}

// Serialize renders the outbound QC frame the Coordinator bridge sends on
// quorum completion: obj_hash:32 | repeat{ rid:1 | siglen:1 | sig:siglen },
// one tuple per signer in ascending replica-id order. replicaID is
// accepted for symmetry with the original signature but is currently
// unused -- the frame carries all signers, not a single replica's view.
func (qc *QuorumCert) Serialize(_ ID) []byte {
	out := make([]byte, 0, 32+len(qc.Sigs)*(1+1+64))
	out = append(out, qc.ObjHash[:]...)
	for _, id := range qc.Signers() {
		sig := qc.Sigs[id]
		out = append(out, byte(id), byte(len(sig)))
		out = append(out, sig...)
	}
	return out
}

// Provider is the cryptographic primitives contract: signing, threshold
// aggregation and verification. The core consumes only this interface;
// see NewECDSAProvider for the shipped implementation.
type Provider interface {
	// Sign produces this replica's partial signature over obj.
	Sign(priv PrivateKey, obj Hash) ([]byte, error)
	// Verify checks a single partial signature.
	Verify(pub PublicKey, obj Hash, sig []byte) bool
	// Aggregate combines partial signatures (already verified by the
	// caller) into the finalized threshold signature for obj.
	Aggregate(obj Hash, parts []PartialCert) ([]byte, error)
	// VerifyAggregate checks a finalized threshold signature against the
	// public keys of its signers.
	VerifyAggregate(obj Hash, agg []byte, pubs []PublicKey) bool
}

// ObjHashFor implements the dual "what does a QC over this block sign"
// rule described in DESIGN.md: the block's first command if present,
// else the block's own hash. The block's fields are supplied by the
// caller (dag.Block cannot be referenced here without an import cycle);
// hasCommands and firstCommand/selfHash let dag.Block.ObjHash forward to
// a single, canonical implementation.
func ObjHashFor(hasCommands bool, firstCommand, selfHash Hash) Hash {
	if hasCommands {
		return firstCommand
	}
	return selfHash
}
