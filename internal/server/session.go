package server

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// outboundQueueSize bounds the per-session write queue. A full queue marks
// the peer as a slow consumer and the session is torn down rather than
// letting its receive buffer stall the sender.
const outboundQueueSize = 256

// session binds one TCP connection to at most one identity. Reads happen on
// the connection goroutine; writes are serialized through the out queue and
// a single writer goroutine, preserving per-destination ordering.
type session struct {
	id      string
	conn    net.Conn
	log     *zap.Logger
	metrics *relayMetrics

	// identity is set once on successful login and only touched from the
	// connection's read goroutine.
	identity string

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn net.Conn, log *zap.Logger, metrics *relayMetrics) *session {
	id := uuid.NewString()
	return &session{
		id:      id,
		conn:    conn,
		log:     log.With(zap.String("session_id", id)),
		metrics: metrics,
		out:     make(chan []byte, outboundQueueSize),
		done:    make(chan struct{}),
	}
}

// Send enqueues a frame without blocking. A full queue closes the session
// and reports failure.
func (s *session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		s.log.Warn("outbound queue full; dropping session")
		s.metrics.recordSlowConsumer()
		s.close()
		return false
	}
}

// writeLoop drains the outbound queue onto the connection. Each frame is a
// single blocking write of header+payload.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if _, err := s.conn.Write(frame); err != nil {
				s.close()
				return
			}
		}
	}
}

// close shuts the connection down; safe from any goroutine. Closing the conn
// unblocks the read loop, which then runs the full disconnect path.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
