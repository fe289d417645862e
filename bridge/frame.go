// Package bridge implements the Coordinator socket bridge: a
// fixed-frame, length-prefix-free TCP protocol between this replica
// and the external Coordinator process. Framing style is adapted from
// tolelom-tolchain/network/peer.go's length-prefixed TCP idiom, but
// this protocol's frames are all fixed-size, so no length prefix is
// sent or expected.
//
// The frame formats themselves live in package wire, shared with
// consensus so that the core can build and parse these buffers itself
// without importing this package.
package bridge

import (
	"github.com/iotaledger/hotstuff-replica/dag"
	"github.com/iotaledger/hotstuff-replica/wire"
)

// Re-exported for callers that only ever talk to this package; consensus
// uses the wire package directly.
const (
	ProposalFrameLen = wire.ProposalFrameLen
	AckByte          = wire.AckByte
	LedgerRequestLen = wire.LedgerRequestLen
	LedgerLegal      = wire.LedgerLegal
)

type ProposalFrame = wire.ProposalFrame

func DecodeProposalFrame(buf []byte) (ProposalFrame, error) { return wire.DecodeProposalFrame(buf) }
func EncodeProposalFrame(f ProposalFrame) []byte            { return wire.EncodeProposalFrame(f) }

func EncodeLedgerRequest(commands [dag.CommandsPerBlock]dag.Command) []byte {
	return wire.EncodeLedgerRequest(commands)
}

// EncodeQCFrame builds the outbound QC frame: obj_hash:32 |
// repeat{ rid:1 | siglen:1 | sig:siglen }, one tuple per signer in the
// order signers lists them; it does not sort them, so callers pass
// signers already in ascending replica-id order (as
// crypto.QuorumCert.Signers returns them). This duplicates crypto.QuorumCert.Serialize
// deliberately: that method serializes a *crypto.QuorumCert value, while
// this one lets the bridge emit the frame from raw fields without
// constructing one, e.g. when relaying a Finality record.
func EncodeQCFrame(objHash dag.Hash, signers []dag.ID, sigs map[dag.ID][]byte) []byte {
	out := make([]byte, 0, 32+len(signers)*(1+1+72))
	out = append(out, objHash[:]...)
	for _, id := range signers {
		sig := sigs[id]
		out = append(out, byte(id), byte(len(sig)))
		out = append(out, sig...)
	}
	return out
}
