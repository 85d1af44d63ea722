// Package httpcodec frames HTTP/1.1 messages over a raw connection: a
// server-side codec yields a lazy sequence of parsed requests from a
// client connection, a client-side codec yields a lazy sequence of parsed
// responses from an upstream connection. Both sides lean on stdlib
// net/http's own wire parser (http.ReadRequest / http.ReadResponse) over a
// bufio.Reader — this is the idiomatic way to speak HTTP/1.1 on a raw
// net.Conn in Go (it is what net/http/httputil and every hand-rolled
// proxy in the retrieved pack that doesn't use http.Server does), rather
// than hand-rolling a second HTTP parser; only the framing/sequencing
// discipline around it (§4.4's "one request at a time, body must drain
// before the next is produced") is spec-specific and is what this package
// actually adds.
package httpcodec

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
)

// ServerConn frames requests from a client connection and responses back
// to it. One ServerConn per session (spec.md §3 Session).
type ServerConn struct {
	r          *bufio.Reader
	w          *bufio.Writer
	conn       io.Writer
	lastBody   io.ReadCloser
	headerSeen bool
}

// NewServerConn wraps rw (a net.Conn or the TLS-terminated stream
// standing in for one).
func NewServerConn(rw io.ReadWriter) *ServerConn {
	return &ServerConn{
		r:    bufio.NewReader(rw),
		w:    bufio.NewWriter(rw),
		conn: rw,
	}
}

// NextRequest drains any undrained body from the previously returned
// request (enforcing spec.md §4.4's "issue the next request only after
// the previous body has been fully fed"), then parses and returns the
// next request. Returns io.EOF when the client closed the write half
// cleanly between messages — a normal terminal state, not an error.
func (s *ServerConn) NextRequest() (*http.Request, error) {
	if s.lastBody != nil {
		if _, err := io.Copy(io.Discard, s.lastBody); err != nil {
			return nil, fmt.Errorf("draining previous request body: %w", err)
		}
		s.lastBody.Close()
		s.lastBody = nil
	}

	req, err := http.ReadRequest(s.r)
	if err != nil {
		return nil, err
	}
	s.headerSeen = true
	if req.Body != nil {
		s.lastBody = req.Body
	}
	return req, nil
}

// HeaderSeen reports whether at least one request's headers have been
// successfully parsed on this connection, used to decide between a 400
// reply and a silent close on a later decode error (spec.md §4.5 step 5).
func (s *ServerConn) HeaderSeen() bool { return s.headerSeen }

// WriteResponse writes resp to the client and flushes. Flush-after-send
// couples producer speed to the client's read speed (spec.md §5
// backpressure policy) rather than buffering unboundedly.
func (s *ServerConn) WriteResponse(resp *http.Response) error {
	if err := resp.Write(s.w); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	return s.w.Flush()
}

// WriteRaw writes pre-built bytes (used by the ACME responder and local
// error replies) and flushes.
func (s *ServerConn) WriteRaw(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.w.Flush()
}

// RawWriter exposes the buffered write half directly, flushed by the
// caller, for handlers (the ACME responder) that stream a response body
// themselves instead of building a []byte up front.
func (s *ServerConn) RawWriter() *bufio.Writer { return s.w }

// ClientConn frames requests out to, and responses from, one upstream
// connection. One ClientConn per pooled UpstreamConnection.
type ClientConn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewClientConn wraps rw (the dialed upstream connection, plain or TLS).
func NewClientConn(rw io.ReadWriter) *ClientConn {
	return &ClientConn{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// WriteRequest forwards req to the upstream and flushes.
func (c *ClientConn) WriteRequest(req *http.Request) error {
	if err := req.Write(c.w); err != nil {
		return fmt.Errorf("writing upstream request: %w", err)
	}
	return c.w.Flush()
}

// NextResponse parses the next response for req from the upstream. The
// reader task (C11) calls this in a loop, one response per pipelined
// request in upstream-arrival order (spec.md §4.4, §9).
func (c *ClientConn) NextResponse(req *http.Request) (*http.Response, error) {
	return http.ReadResponse(c.r, req)
}
