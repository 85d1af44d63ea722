package pipeline

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/address"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/certstore"
	"github.com/vhgateway/vhgateway/internal/routetable"
)

// startFakeUpstream accepts one connection, answers one request with a
// fixed 200 OK, then closes.
func startFakeUpstream(t *testing.T) address.Address {
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
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return address.NewSocket("127.0.0.1", uint16(port))
}

func TestGatewayEndToEndPlainHTTP(t *testing.T) {
	upstream := startFakeUpstream(t)

	vh := routetable.VirtualHost{
		ServerName:  "example.com",
		ListenPorts: []uint16{0},
		Rules:       []routetable.Rule{{PathPrefix: "/", Upstream: upstream}},
	}
	table := routetable.Build([]routetable.VirtualHost{vh})

	log := zap.NewNop()
	metrics, _ := admin.NewMetrics()
	gw := New(table, certstore.New(), t.TempDir(), log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer gw.Close()

	if len(gw.listeners) != 1 {
		t.Fatalf("expected exactly one bound listener, got %d", len(gw.listeners))
	}
	boundAddr := gw.listeners[0].Addr().String()

	conn, err := net.DialTimeout("tcp", boundAddr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
