// Package session models the per-accepted-connection state machine
// (spec.md §3 Session, §9 "cyclic ownership"): a client decoder, a
// write half shared between the router loop and every upstream pool
// reader task the session touches, and a cancellation signal both sides
// observe.
//
// spec.md's source runs a single-threaded cooperative reactor per worker,
// so the shared client-encoder handle needs no locking there. Go's
// goroutine-per-connection model does run the pool's reader tasks
// concurrently with the router loop (real OS-level concurrency, not
// cooperative yielding), so ClientWriter adds the one mutex spec.md's
// model gets for free: without it, two upstream reader goroutines (or a
// reader and the router loop replying with a local error) could
// interleave partial HTTP responses on the wire. After cancellation every
// write through the shared writer fails with ErrClosed; a pool reader
// drops the response it was delivering and keeps serving its upstream
// connection for other sessions (see internal/pool's readLoop).
package session

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/httpcodec"
)

// ErrClosed is returned by ClientWriter.WriteRaw and
// ClientWriter.WriteResponse once the session has been cancelled; pool
// reader tasks drop the undeliverable response and keep reading from
// their upstream.
var ErrClosed = errors.New("session: client writer closed")

// ClientWriter is the intra-session shared write half. Reference held by
// the router loop and by every pool reader task servicing an upstream this
// session has referenced.
type ClientWriter struct {
	mu     sync.Mutex
	codec  *httpcodec.ServerConn
	closed bool
}

func newClientWriter(codec *httpcodec.ServerConn) *ClientWriter {
	return &ClientWriter{codec: codec}
}

// WriteRaw writes pre-built response bytes (ACME responder, local error
// replies), or ErrClosed.
func (w *ClientWriter) WriteRaw(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.codec.WriteRaw(b)
}

// WriteResponse writes a parsed *http.Response-shaped message through the
// underlying codec, or ErrClosed.
func (w *ClientWriter) WriteResponse(write func(*httpcodec.ServerConn) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return write(w.codec)
}

func (w *ClientWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Session is the per-accepted-connection state.
type Session struct {
	ID     string
	Peer   net.Addr
	Codec  *httpcodec.ServerConn
	Writer *ClientWriter
	Log    *zap.Logger

	done chan struct{}
	once sync.Once
}

// New builds a Session around an already-framed client connection.
func New(codec *httpcodec.ServerConn, peer net.Addr, log *zap.Logger) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		Peer:   peer,
		Codec:  codec,
		Writer: newClientWriter(codec),
		done:   make(chan struct{}),
	}
	s.Log = log.With(zap.String("session_id", s.ID), zap.Stringer("peer", peer))
	return s
}

// Done returns a channel closed when the session has been cancelled;
// the router's request loop checks it between requests (spec.md §5
// Cancellation).
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel tears the session down: closes the done channel and marks the
// shared writer dead so any later write through it, including one from a
// pool reader task, fails with ErrClosed. Idempotent.
func (s *Session) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.Writer.close()
	})
}
