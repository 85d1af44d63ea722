package certstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
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

func TestInstallAndLookup(t *testing.T) {
	store := New()
	der, key := selfSignedDER(t, "example.com")

	if err := store.Install("example.com", [][]byte{der}, key); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !store.Has("example.com") {
		t.Fatal("expected Has to report true")
	}
	entry, ok := store.Lookup("example.com")
	if !ok {
		t.Fatal("expected lookup to succeed")
	}
	if entry.ServerName != "example.com" {
		t.Fatalf("unexpected server name: %s", entry.ServerName)
	}
}

func TestGetCertificateRejectsUnknownSNI(t *testing.T) {
	store := New()
	der, key := selfSignedDER(t, "known.example.com")
	store.Install("known.example.com", [][]byte{der}, key)

	if _, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"}); err == nil {
		t.Fatal("expected error for unknown SNI")
	}
	cert, err := store.GetCertificate(&tls.ClientHelloInfo{ServerName: "known.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cert == nil {
		t.Fatal("expected a certificate")
	}
}
