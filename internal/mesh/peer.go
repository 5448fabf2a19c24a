package mesh

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
)

// peerHandle is the runtime state for one TCP connection: a single-
// producer outbound mailbox drained by one writer goroutine, and an
// optionally-known RTT sample (spec.md §3 Peer, §4.3 per-peer send path).
type peerHandle struct {
	conn     net.Conn
	addr     string
	outbound chan []byte
	rtt      atomic.Int64 // milliseconds; meaningful only once hasRTT is set
	hasRTT   atomic.Bool

	closeOnce sync.Once
}

func newPeerHandle(conn net.Conn, addr string) *peerHandle {
	return &peerHandle{
		conn:     conn,
		addr:     addr,
		outbound: make(chan []byte, 256),
	}
}

// enqueue pushes a pre-encoded frame (without trailing newline) onto the
// mailbox. Returns false if the mailbox is closed or full.
func (p *peerHandle) enqueue(line []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.outbound <- line:
		return true
	default:
		// mailbox full: drop rather than block the sender, matching the
		// "send failures remove the peer handle" policy for a saturated peer.
		return false
	}
}

func (p *peerHandle) close() {
	p.closeOnce.Do(func() {
		close(p.outbound)
		_ = p.conn.Close()
	})
}

func (p *peerHandle) setRTT(ms int64) {
	p.rtt.Store(ms)
	p.hasRTT.Store(true)
}

func (p *peerHandle) knownRTT() (int64, bool) {
	if !p.hasRTT.Load() {
		return 0, false
	}
	return p.rtt.Load(), true
}

// runWriter drains the outbound mailbox onto the connection, one
// newline-delimited frame per send, until the mailbox is closed or a write
// fails.
func (p *peerHandle) runWriter() {
	w := bufio.NewWriter(p.conn)
	for line := range p.outbound {
		if _, err := w.Write(line); err != nil {
			return
		}
		if err := w.WriteByte('\n'); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}
