package bridge

import (
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/iotaledger/hotstuff-replica/internal/logging"
)

var logger = logging.Named("bridge")

// ProposalListener is the inbound half of the Coordinator bridge: it
// accepts one connection at a time on a configurable port, reads
// exactly ProposalFrameLen bytes, decodes them, and hands the result
// to Handler. It never touches consensus state directly -- the
// listener goroutine only hands off deserialized tuples rather than
// mutate the consensus goroutine's state itself.
type ProposalListener struct {
	ln      net.Listener
	Handler func(ProposalFrame)
}

// ListenProposals binds addr (":<port>") and starts accepting
// connections in a background goroutine. Bind/listen failures are
// reported to the caller and are not retried -- the operator is
// expected to restart the process.
func ListenProposals(addr string, handler func(ProposalFrame)) (*ProposalListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen proposals on %s: %w", addr, err)
	}
	pl := &ProposalListener{ln: ln, Handler: handler}
	go pl.acceptLoop()
	return pl, nil
}

func (pl *ProposalListener) acceptLoop() {
	for {
		conn, err := pl.ln.Accept()
		if err != nil {
			logger.Errorw("proposal listener accept failed, stopping", "error", err)
			return
		}
		pl.handleConn(conn)
	}
}

func (pl *ProposalListener) handleConn(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, ProposalFrameLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		logger.Warnw("proposal listener: short read", "error", err)
		return
	}
	frame, err := DecodeProposalFrame(buf)
	if err != nil {
		logger.Warnw("proposal listener: malformed frame", "error", err)
		return
	}
	if pl.Handler != nil {
		pl.Handler(frame)
	}
}

// Close stops accepting new connections.
func (pl *ProposalListener) Close() error {
	return pl.ln.Close()
}

// Sender is the outbound half of the Coordinator bridge: it opens a
// short-lived TCP connection per message to the Coordinator's loopback
// address, writes the payload, and closes. It is meant for
// single-threaded use per instance; the mutex below only serializes
// accidental concurrent callers defensively, it does not make the
// underlying socket reentrant in any stronger sense.
type Sender struct {
	mu   sync.Mutex
	addr string
}

// NewSender returns a Sender that dials addr (host:port, typically
// 127.0.0.1:<port>) fresh for every call to Send.
func NewSender(addr string) *Sender {
	return &Sender{addr: addr}
}

// Send dials, writes payload, and closes. A dial/write failure is
// reported to the caller and not retried.
func (s *Sender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := net.Dial("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", s.addr, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("bridge: write to %s: %w", s.addr, err)
	}
	return nil
}

// LedgerValidator is the synchronous "legal?" round-trip to the
// Coordinator's ledger validator: it sends the 162-byte ledger request
// to reqAddr, then blocks waiting for a single-byte verdict on its own
// listener. This is a blocking call on whichever goroutine invokes it;
// callers (consensus.Core.CheckCmds) must only invoke it from the
// single consensus goroutine, understanding that no other consensus
// events are processed while it is in flight.
type LedgerValidator struct {
	sender *Sender
	ln     net.Listener
}

// NewLedgerValidator binds listenAddr for verdicts and configures
// reqAddr as the destination for validation requests.
func NewLedgerValidator(listenAddr, reqAddr string) (*LedgerValidator, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bridge: listen iri on %s: %w", listenAddr, err)
	}
	return &LedgerValidator{sender: NewSender(reqAddr), ln: ln}, nil
}

// Validate sends commands to the ledger validator and blocks for its
// verdict. Any socket failure yields false rather than an error: the
// caller interprets a false verdict as "skip this validation" and
// therefore does not vote.
func (v *LedgerValidator) Validate(req []byte) bool {
	if err := v.sender.Send(req); err != nil {
		logger.Warnw("ledger validation request failed", "error", err)
		return false
	}
	conn, err := v.ln.Accept()
	if err != nil {
		logger.Warnw("ledger validation listener accept failed", "error", err)
		return false
	}
	defer conn.Close()
	var verdict [1]byte
	if _, err := io.ReadFull(conn, verdict[:]); err != nil {
		logger.Warnw("ledger validation: short read", "error", err)
		return false
	}
	return verdict[0] == LedgerLegal
}

// Close stops accepting verdict connections.
func (v *LedgerValidator) Close() error {
	return v.ln.Close()
}

// CloseAll closes every closer and returns the combination of every error
// encountered, so that shutting down a replica's several sockets -- the
// proposal listener, the ledger validator, any outbound senders holding a
// closer -- never lets one stuck socket hide a failure on another.
func CloseAll(closers ...io.Closer) error {
	var err error
	for _, c := range closers {
		if c == nil {
			continue
		}
		err = multierr.Append(err, c.Close())
	}
	return err
}
