// Package tlsterm is the TLS terminator (C6): one server-side tls.Config
// built per worker, certificate selection delegated to the SNI resolver
// backed by certstore. Grounded on caddytls/handshake.go's
// configGroup.GetConfigForClient, simplified since spec.md has no wildcard
// server-name matching requirement (certstore.GetCertificate does an exact
// SNI match and fails the handshake otherwise, per spec.md §4.3).
package tlsterm

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/vhgateway/vhgateway/internal/certstore"
)

// handshakeTimeout bounds every server handshake, per spec.md §5 ("no
// unbounded wait: the TLS handshake is wrapped in a 10-second timeout").
const handshakeTimeout = 10 * time.Second

// Terminator holds the one tls.Config a worker uses for every TLS
// listener it owns.
type Terminator struct {
	cfg *tls.Config
}

// New builds a Terminator backed by store. min TLS version is 1.2, default
// safe cipher suites (spec.md §6 "Wire protocol"): leaving CipherSuites nil
// lets crypto/tls choose its own curated safe default list for the
// negotiated version, which is the idiomatic choice recommended by the
// stdlib docs instead of hand-listing suites.
func New(store *certstore.Store) *Terminator {
	return &Terminator{cfg: &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: store.GetCertificate,
	}}
}

// Handshake performs the server-side TLS handshake over conn (which may
// already be the prefix-preserving wrapper from netutil.Detect), bounded
// by handshakeTimeout. On failure the connection is not usable and must be
// closed by the caller (spec.md §4.3: handshake failure drops the
// connection).
func (t *Terminator) Handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tlsConn := tls.Server(conn, t.cfg)

	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tlsConn.HandshakeContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tlsConn, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("tls handshake: %w", ctx.Err())
	}
}
