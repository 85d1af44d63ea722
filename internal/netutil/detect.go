// Package netutil implements the listener/acceptor (C4) and the
// protocol-detecting, prefix-preserving connection wrapper (C5) that sits
// between accept() and TLS termination / the HTTP codec. The peek-without-
// consuming idiom here is the standard Go way of doing protocol muxing on
// one socket (bufio.Reader.Peek over the raw net.Conn), the same shape as
// the SNI/ALPN-aware listener muxers in the retrieved pack (e.g. the
// piccolod tlsmux service) generalized to spec.md §4.2's exact 3-byte TLS
// record-header sniff.
package netutil

import (
	"bufio"
	"net"
)

// Protocol is the result of sniffing the first bytes of a connection.
type Protocol int

const (
	ProtocolPlain Protocol = iota
	ProtocolSecure
)

// peekSize is the number of bytes spec.md §4.2 requires inspecting: a TLS
// record header is type(1) + version-major(1) + version-minor(1) + ...; we
// only need the first two bytes to classify.
const peekSize = 3

// DetectConn wraps a net.Conn so that the bytes consumed to classify the
// connection are replayed to the first Read call; no byte is ever lost
// (spec.md §8 invariant: peek bytes concatenated with subsequent reads
// equal the original stream).
type DetectConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *DetectConn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Detect peeks up to peekSize bytes from raw without consuming them from
// the effective stream, classifies the connection, and returns a
// prefix-preserving wrapper to use in place of raw from here on. A short
// read (fewer than peekSize bytes, e.g. the peer closed early) is treated
// as Plain per spec.md §4.2 — the HTTP parser downstream will reject
// whatever malformed bytes follow.
func Detect(raw net.Conn) (Protocol, net.Conn, error) {
	br := bufio.NewReader(raw)
	wrapped := &DetectConn{Conn: raw, r: br}

	peek, err := br.Peek(peekSize)
	if err != nil && len(peek) < peekSize {
		// Short read (incl. EOF): fall back to Plain, bytes already peeked
		// are still replayed by the bufio.Reader on the next Read.
		return ProtocolPlain, wrapped, nil
	}
	if peek[0] == 0x16 && peek[1] == 0x03 {
		return ProtocolSecure, wrapped, nil
	}
	return ProtocolPlain, wrapped, nil
}
