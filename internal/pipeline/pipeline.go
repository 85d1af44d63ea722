// Package pipeline is the orchestrator (C15) that wires every other
// component into a running gateway: one netutil.Listener per configured
// port, shared by workerSlots() accept-loop goroutines running the same
// router.Service and pool.Pool ("worker" in spec.md's vocabulary — see
// SPEC_FULL.md §10 for why a Go worker-group is GOMAXPROCS acceptor
// goroutines rather than a single-threaded reactor), protocol detection and
// optional TLS termination per accepted connection, and a Session wrapping
// the result before handing it to the router loop. Grounded on
// cmd/caddy/main.go and caddymain/run.go for the overall "load config,
// start servers, block until shutdown signal" shape.
package pipeline

import (
	"context"
	"net"
	"runtime"
	"strconv"

	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/acmechallenge"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/certstore"
	"github.com/vhgateway/vhgateway/internal/httpcodec"
	"github.com/vhgateway/vhgateway/internal/middleware"
	"github.com/vhgateway/vhgateway/internal/netutil"
	"github.com/vhgateway/vhgateway/internal/pool"
	"github.com/vhgateway/vhgateway/internal/router"
	"github.com/vhgateway/vhgateway/internal/routetable"
	"github.com/vhgateway/vhgateway/internal/session"
	"github.com/vhgateway/vhgateway/internal/tlsterm"
)

// Gateway owns every bound listener and its worker goroutines.
type Gateway struct {
	table         *routetable.RouteTable
	certs         *certstore.Store
	acmeWorkspace string
	log           *zap.Logger
	metrics       *admin.Metrics
	operators     []middleware.Operator

	listeners []*netutil.Listener
}

// New builds a Gateway from a route table and supporting stores. Call
// Start to bind listeners and begin serving.
func New(table *routetable.RouteTable, certs *certstore.Store, acmeWorkspace string, log *zap.Logger, metrics *admin.Metrics, operators ...middleware.Operator) *Gateway {
	return &Gateway{table: table, certs: certs, acmeWorkspace: acmeWorkspace, log: log, metrics: metrics, operators: operators}
}

// workerSlots is the number of acceptor goroutine-groups spawned per
// listener: GOMAXPROCS, the Go analogue of spec.md §5's one-worker-per-core
// reactor model (SPEC_FULL.md's Ambient Stack/Process tuning section).
// net.Listener.Accept is safe to call concurrently from multiple
// goroutines, so each slot runs its own independent accept loop over the
// same bound listener rather than funneling through a single dispatcher.
func workerSlots() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}

// Start binds one listener per port named in the route table and spawns
// workerSlots() accept-loop goroutines against it. Returns as soon as
// every bind has succeeded or the first one fails (spec.md §4.1: a bind
// failure is fatal).
func (g *Gateway) Start(ctx context.Context) error {
	for _, port := range g.table.Ports() {
		ln, err := netutil.Bind(listenAddr(port), g.log)
		if err != nil {
			g.Close()
			return err
		}
		g.listeners = append(g.listeners, ln)

		w := newWorker(port, g.table, g.certs, g.acmeWorkspace, g.log, g.metrics, g.operators...)
		for i := 0; i < workerSlots(); i++ {
			go w.run(ctx, ln)
		}
	}
	return nil
}

// Close stops every listener. Sessions already accepted run to their own
// natural completion (client EOF, decode error, or cancellation); Close
// does not forcibly tear them down.
func (g *Gateway) Close() {
	for _, ln := range g.listeners {
		ln.Close()
	}
}

func listenAddr(port uint16) string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(int(port)))
}

// worker is one port's goroutine group: its listener's accept loop, the
// router and pool it shares across every session it serves, and — when
// any of its virtual hosts are HTTPS — its TLS terminator.
type worker struct {
	port    uint16
	log     *zap.Logger
	router  *router.Service
	tls     *tlsterm.Terminator // nil if this port serves no TLS virtual host
	metrics *admin.Metrics
}

func newWorker(port uint16, table *routetable.RouteTable, certs *certstore.Store, acmeWorkspace string, log *zap.Logger, metrics *admin.Metrics, operators ...middleware.Operator) *worker {
	p := pool.New(log, metrics)
	acme := acmechallenge.New(acmeWorkspace)
	svc := router.New(port, table, p, acme, log, metrics, operators...)

	w := &worker{port: port, log: log, router: svc, metrics: metrics}
	for _, vh := range table.VirtualHosts(port) {
		if vh.TLS != nil {
			w.tls = tlsterm.New(certs)
			break
		}
	}
	return w
}

func (w *worker) run(ctx context.Context, ln *netutil.Listener) {
	accepted := ln.Accept()
	for {
		select {
		case conn, ok := <-accepted:
			if !ok {
				return
			}
			go w.handleConn(ctx, conn)
		case <-ctx.Done():
			ln.Close()
			return
		}
	}
}

func (w *worker) handleConn(ctx context.Context, raw net.Conn) {
	w.metrics.ConnectionsAccepted.Inc()

	proto, conn, err := netutil.Detect(raw)
	if err != nil {
		raw.Close()
		return
	}

	if proto == netutil.ProtocolSecure {
		if w.tls == nil {
			conn.Close()
			return
		}
		tlsConn, err := w.tls.Handshake(ctx, conn)
		if err != nil {
			w.log.Debug("tls handshake failed", zap.Error(err), zap.Stringer("peer", raw.RemoteAddr()))
			conn.Close()
			return
		}
		conn = tlsConn
	}

	defer conn.Close()

	codec := httpcodec.NewServerConn(conn)
	sess := session.New(codec, raw.RemoteAddr(), w.log)

	w.metrics.SessionsActive.Inc()
	defer w.metrics.SessionsActive.Dec()

	w.router.Serve(ctx, sess)
}
