package netutil

import (
	"io"
	"net"
	"testing"
	"time"
)

func pipeConn(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestDetectClassifiesTLSRecordHeader(t *testing.T) {
	client, server := pipeConn(t)
	go client.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o'})

	proto, wrapped, err := Detect(server)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proto != ProtocolSecure {
		t.Fatalf("expected ProtocolSecure, got %v", proto)
	}

	buf := make([]byte, 10)
	n, err := io.ReadFull(wrapped, buf)
	if err != nil {
		t.Fatalf("reading replayed bytes: %v", err)
	}
	if n != 10 || buf[0] != 0x16 {
		t.Fatalf("expected peeked bytes replayed, got %v", buf[:n])
	}
}

func TestDetectClassifiesPlaintext(t *testing.T) {
	client, server := pipeConn(t)
	go client.Write([]byte("GET / HTTP/1.1\r\n"))

	proto, wrapped, err := Detect(server)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proto != ProtocolPlain {
		t.Fatalf("expected ProtocolPlain, got %v", proto)
	}

	buf := make([]byte, 3)
	if _, err := io.ReadFull(wrapped, buf); err != nil {
		t.Fatalf("reading replayed bytes: %v", err)
	}
	if string(buf) != "GET" {
		t.Fatalf("expected prefix preserved, got %q", buf)
	}
}

func TestDetectShortReadFallsBackToPlain(t *testing.T) {
	client, server := pipeConn(t)
	go func() {
		client.Write([]byte{0x16})
		client.Close()
	}()

	done := make(chan struct{})
	var proto Protocol
	var err error
	go func() {
		proto, _, err = Detect(server)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Detect did not return on short read")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proto != ProtocolPlain {
		t.Fatalf("expected plain fallback on short read, got %v", proto)
	}
}
