package dialer

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/vhgateway/vhgateway/internal/address"
)

func TestResolveTargetSkipsResolutionForIPLiteral(t *testing.T) {
	upstream := address.NewSocket("127.0.0.1", 8080)
	target, err := resolveTarget(context.Background(), upstream)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	if target != "127.0.0.1:8080" {
		t.Fatalf("expected 127.0.0.1:8080, got %s", target)
	}
}

func TestResolveTargetResolvesLoopbackHostname(t *testing.T) {
	upstream := address.NewSocket("localhost", 9000)
	target, err := resolveTarget(context.Background(), upstream)
	if err != nil {
		t.Fatalf("resolveTarget: %v", err)
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		t.Fatalf("splitting resolved target %q: %v", target, err)
	}
	if net.ParseIP(host) == nil {
		t.Fatalf("expected resolved host to be an IP literal, got %q", host)
	}
	if port != "9000" {
		t.Fatalf("expected port 9000, got %s", port)
	}
}

func TestDialConnectsPlainUpstream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.ParseUint(portStr, 10, 16)
	upstream := address.NewSocket("127.0.0.1", uint16(port))

	d := New()
	client, conn, err := d.Dial(context.Background(), upstream)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Host = "example.com"
	if err := client.WriteRequest(req); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := client.NextResponse(req)
	if err != nil {
		t.Fatalf("next response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
