// Package certstore is the process-wide server-name -> certificate mapping
// consulted by the TLS terminator's SNI resolver. It is grounded on
// caddytls's certificateCache (caddytls/certificates.go) and configGroup's
// GetConfigForClient (caddytls/handshake.go): a plain map behind a
// sync.RWMutex, writes are rare (initial load, ACME install) and reads
// happen on every handshake.
package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	"golang.org/x/crypto/ocsp"
)

// Entry is a loaded certificate chain plus its private key, addressable by
// server name. Lifetime is the process's (spec.md §3).
type Entry struct {
	ServerName string
	Chain      [][]byte // DER-encoded certificates, leaf first
	Leaf       *tls.Certificate
}

// Store is the multi-reader/single-writer certificate table. The zero
// value is not usable; use New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Install inserts or replaces the certificate for serverName. Used both by
// eager static-cert loading (startup, when TlsSpec carries chain/key paths)
// and by the ACME client adapter (C13) after a successful issuance.
func (s *Store) Install(serverName string, chain [][]byte, key any) error {
	cert := tls.Certificate{Certificate: chain, PrivateKey: key}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[serverName] = &Entry{ServerName: serverName, Chain: chain, Leaf: &cert}
	return nil
}

// InstallWithStaple is Install plus an OCSP response to staple during the
// TLS handshake (golang.org/x/crypto/ocsp, grounded on
// caddytls/certificates.go's own use of that package for stapling
// metadata). raw must decode as a well-formed OCSP response for the
// certificate's issuer or it is rejected; a malformed or mismatched staple
// must not silently ship to clients.
func (s *Store) InstallWithStaple(serverName string, chain [][]byte, key any, issuer *x509.Certificate, raw []byte) error {
	if len(chain) == 0 {
		return fmt.Errorf("certstore: empty chain for %s", serverName)
	}
	leafCert, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return fmt.Errorf("certstore: parsing leaf for %s: %w", serverName, err)
	}
	resp, err := ocsp.ParseResponseForCert(raw, leafCert, issuer)
	if err != nil {
		return fmt.Errorf("certstore: parsing ocsp staple for %s: %w", serverName, err)
	}
	if resp.Status != ocsp.Good {
		return fmt.Errorf("certstore: ocsp staple for %s reports status %d, refusing to staple", serverName, resp.Status)
	}

	cert := tls.Certificate{Certificate: chain, PrivateKey: key, OCSPStaple: raw}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[serverName] = &Entry{ServerName: serverName, Chain: chain, Leaf: &cert}
	return nil
}

// Lookup returns the entry for an exact server name, or ok=false.
func (s *Store) Lookup(serverName string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[serverName]
	return e, ok
}

// Has reports whether a certificate is currently installed for serverName.
func (s *Store) Has(serverName string) bool {
	_, ok := s.Lookup(serverName)
	return ok
}

// GetCertificate is a tls.Config.GetCertificate callback: it resolves the
// SNI server name from the client hello against the store. If no entry is
// present the handshake fails (spec.md §4.3) rather than falling back to a
// default certificate, since the gateway has no notion of a default vhost
// for TLS.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := hello.ServerName
	e, ok := s.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("certstore: no certificate for server name %q", name)
	}
	return e.Leaf, nil
}
