// Package wire holds the fixed-frame wire formats shared by the
// consensus core and the Coordinator bridge. It sits below both:
// consensus builds and parses these frames itself, and bridge only
// ships bytes over TCP, so neither package needs to import the other.
package wire

import (
	"fmt"

	"github.com/iotaledger/hotstuff-replica/dag"
)

// ProposalFrameLen is the inbound proposal frame's fixed size: a 2-byte
// big-endian id followed by six 32-byte command slots.
const ProposalFrameLen = 2 + dag.CommandsPerBlock*32

// AckByte is the outbound acknowledgement frame's single byte, sent when
// the core has received a committing proposal carrying commands.
const AckByte = 0x12

// LedgerRequestLen is the outbound ledger-validation frame's fixed size:
// five full 32-byte commands plus one 2-byte short tag.
const LedgerRequestLen = 5*32 + dag.ShortTagLen

// LedgerLegal is the inbound ledger-validation verdict byte meaning
// "legal".
const LedgerLegal = 0x01

// ProposalFrame is the decoded form of the 164-byte inbound frame.
type ProposalFrame struct {
	Seq      uint16
	Commands [dag.CommandsPerBlock]dag.Command
}

// DecodeProposalFrame parses the fixed 164-byte inbound frame: id_hi:1 |
// id_lo:1 | hashes:162. Any other length is rejected.
func DecodeProposalFrame(buf []byte) (ProposalFrame, error) {
	var f ProposalFrame
	if len(buf) != ProposalFrameLen {
		return f, fmt.Errorf("wire: proposal frame: want %d bytes, got %d", ProposalFrameLen, len(buf))
	}
	f.Seq = uint16(buf[0])<<8 | uint16(buf[1])
	body := buf[2:]
	for i := 0; i < dag.CommandsPerBlock; i++ {
		copy(f.Commands[i][:], body[i*32:(i+1)*32])
	}
	return f, nil
}

// EncodeProposalFrame is the inverse of DecodeProposalFrame; it exists
// primarily to let tests and fuzzers state the round-trip law directly
// (Decode(Encode(x)) == x), and to let a Coordinator-side test double
// construct frames.
func EncodeProposalFrame(f ProposalFrame) []byte {
	buf := make([]byte, ProposalFrameLen)
	buf[0] = byte(f.Seq >> 8)
	buf[1] = byte(f.Seq)
	for i := 0; i < dag.CommandsPerBlock; i++ {
		copy(buf[2+i*32:2+(i+1)*32], f.Commands[i][:])
	}
	return buf
}

// EncodeLedgerRequest builds the 162-byte outbound ledger-validation
// frame: the full 32 bytes of commands[0..4], then only the first
// ShortTagLen bytes of commands[5] at offset 160.
func EncodeLedgerRequest(commands [dag.CommandsPerBlock]dag.Command) []byte {
	buf := make([]byte, LedgerRequestLen)
	for i := 0; i < 5; i++ {
		copy(buf[i*32:(i+1)*32], commands[i][:])
	}
	copy(buf[5*32:5*32+dag.ShortTagLen], commands[5][:dag.ShortTagLen])
	return buf
}
