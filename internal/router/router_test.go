package router

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/acmechallenge"
	"github.com/vhgateway/vhgateway/internal/address"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/httpcodec"
	"github.com/vhgateway/vhgateway/internal/pool"
	"github.com/vhgateway/vhgateway/internal/routetable"
	"github.com/vhgateway/vhgateway/internal/session"
)

func newTestMetrics() *admin.Metrics {
	m, _ := admin.NewMetrics()
	return m
}

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// startFakeUpstream accepts exactly one connection, reads one request and
// replies with a fixed 200 OK body, then closes.
func startFakeUpstream(t *testing.T, body string) address.Address {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

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
		resp := "HTTP/1.1 200 OK\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
		conn.Write([]byte(resp))
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	_ = host
	var p uint16
	for _, c := range port {
		p = p*10 + uint16(c-'0')
	}
	return address.NewSocket("127.0.0.1", p)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestRouterForwardsToMatchedUpstream(t *testing.T) {
	upstream := startFakeUpstream(t, "hello from upstream")

	vh := routetable.VirtualHost{
		ServerName:  "example.com",
		ListenPorts: []uint16{80},
		Rules:       []routetable.Rule{{PathPrefix: "/", Upstream: upstream}},
	}
	table := routetable.Build([]routetable.VirtualHost{vh})

	log := zap.NewNop()
	metrics := newTestMetrics()
	p := pool.New(log, metrics)
	acme := acmechallenge.New(t.TempDir())
	svc := New(80, table, p, acme, log, metrics)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := httpcodec.NewServerConn(server)
	sess := session.New(codec, fakeAddr("peer"), log)

	go svc.Serve(context.Background(), sess)

	client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRouterRepliesNotFoundForUnknownHost(t *testing.T) {
	table := routetable.Build(nil)
	log := zap.NewNop()
	metrics := newTestMetrics()
	p := pool.New(log, metrics)
	acme := acmechallenge.New(t.TempDir())
	svc := New(80, table, p, acme, log, metrics)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := httpcodec.NewServerConn(server)
	sess := session.New(codec, fakeAddr("peer"), log)

	go svc.Serve(context.Background(), sess)

	client.Write([]byte("GET / HTTP/1.1\r\nHost: unknown.example.com\r\n\r\n"))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
