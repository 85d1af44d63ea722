package tlsterm

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/vhgateway/vhgateway/internal/certstore"
)

func selfSignedDER(t *testing.T, cn string) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return der, key
}

func TestHandshakeSucceedsForKnownSNI(t *testing.T) {
	store := certstore.New()
	der, key := selfSignedDER(t, "example.com")
	if err := store.Install("example.com", [][]byte{der}, key); err != nil {
		t.Fatalf("install: %v", err)
	}
	term := New(store)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := term.Handshake(context.Background(), serverConn)
		errCh <- err
	}()

	clientTLS := tls.Client(clientConn, &tls.Config{ServerName: "example.com", InsecureSkipVerify: true})
	if err := clientTLS.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer clientTLS.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestHandshakeFailsForUnknownSNI(t *testing.T) {
	store := certstore.New()
	term := New(store)

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := term.Handshake(context.Background(), serverConn)
		errCh <- err
	}()

	clientTLS := tls.Client(clientConn, &tls.Config{ServerName: "unknown.example.com", InsecureSkipVerify: true})
	// The client's handshake is expected to fail too, since the server
	// never sends a ServerHello once GetCertificate errors.
	_ = clientTLS.Handshake()

	if err := <-errCh; err == nil {
		t.Fatal("expected handshake error for unknown SNI")
	}
}
