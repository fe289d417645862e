// Package dag implements the content-addressed block DAG: the unit of
// replication (Block) and the storage that canonicalizes blocks by hash
// (Storage), generalized to the six-command, qc_ref-driven shape this
// protocol's proposals carry.
package dag

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/iotaledger/hotstuff-replica/crypto"
)

// Hash identifies both a block and the object a quorum certificate signs
// over.
type Hash = crypto.Hash

// ID identifies a replica.
type ID = crypto.ID

// Command is a 32-byte command identifier (a tip hash from the external
// ledger's DAG). A proposal carries exactly CommandsPerBlock of them; see
// ShortTagLen for the final slot's special treatment.
type Command [32]byte

// CommandsPerBlock is the number of command slots a proposal carries,
// fixed by the Coordinator wire protocol.
const CommandsPerBlock = 6

// ShortTagLen is the number of significant bytes in the final command
// slot: only commands[5][:2] matters to the ledger validator.
const ShortTagLen = 2

// Block is a node in the consensus DAG. A Block is immutable once
// Delivered except for SelfQC, Voted and Decision, which accumulate
// votes and the commit flag as consensus proceeds.
type Block struct {
	ParentHashes []Hash
	Commands     []Command
	QC           *crypto.QuorumCert // the "justify QC": justifies ParentHashes[0]
	Extra        []byte
	Height       uint64

	// Resolved once Delivered.
	Parents   []*Block
	QCRef     *Block
	Delivered bool

	// Mutated as votes for this block arrive.
	SelfQC *crypto.QuorumCert
	Voted  map[ID]struct{}

	Decision bool

	hash      Hash
	hashValid bool
}

// NewBlock constructs an undelivered block. Hash is computed lazily and
// cached on first use; callers must not mutate ParentHashes, Commands, QC,
// Extra or Height afterward.
func NewBlock(parentHashes []Hash, commands []Command, qc *crypto.QuorumCert, extra []byte, height uint64) *Block {
	return &Block{
		ParentHashes: parentHashes,
		Commands:     commands,
		QC:           qc,
		Extra:        extra,
		Height:       height,
		Voted:        make(map[ID]struct{}),
	}
}

// Genesis returns a fresh genesis block: height 1, no parents, no
// commands, no justify QC, already delivered. Genesis never carries
// commands, so the branch that would build genesis's QC over a first
// command is dead code and is not reproduced here: its QC always signs
// its own hash (see DESIGN.md).
func Genesis() *Block {
	return &Block{
		Height:    1,
		Voted:     make(map[ID]struct{}),
		Delivered: true,
	}
}

// ObjHash returns the object a QC over this block signs: the block's
// first command if any, else the block's own hash. Every call site that
// needs this rule -- QC construction at propose, vote construction, vote
// verification, finalization -- must route through this method, which
// itself forwards to crypto.ObjHashFor so the rule has one canonical
// implementation.
func (b *Block) ObjHash() Hash {
	var firstCommand Hash
	hasCommands := len(b.Commands) > 0
	if hasCommands {
		firstCommand = Hash(b.Commands[0])
	}
	return crypto.ObjHashFor(hasCommands, firstCommand, b.Hash())
}

// Hash returns the block's content hash, computing and caching it on
// first use: a SHA-256 digest over (parent_hashes, commands, embedded_qc,
// extra, height).
func (b *Block) Hash() Hash {
	if b.hashValid {
		return b.hash
	}
	h := sha256.New()
	for _, ph := range b.ParentHashes {
		h.Write(ph[:])
	}
	for _, c := range b.Commands {
		h.Write(c[:])
	}
	if b.QC != nil {
		h.Write(b.QC.ObjHash[:])
		for _, id := range b.QC.Signers() {
			var idBuf [4]byte
			binary.BigEndian.PutUint32(idBuf[:], uint32(id))
			h.Write(idBuf[:])
			h.Write(b.QC.Sigs[id])
		}
	}
	h.Write(b.Extra)
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], b.Height)
	h.Write(heightBuf[:])
	sum := h.Sum(nil)
	copy(b.hash[:], sum)
	b.hashValid = true
	return b.hash
}
