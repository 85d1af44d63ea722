// Package admin is the loopback-only observability surface (SPEC_FULL.md
// §11): /healthz and Prometheus /metrics, routed with go-chi/chi the way
// the teacher's own admin API does (caddyconfig's adminLoad is also a
// chi-less net/http.ServeMux in the legacy tree, but chi is a direct
// dependency carried for exactly this kind of small mux elsewhere in the
// pack). The listen address is whatever the caller passes; the
// command's --admin-addr default is a loopback address, and the address
// is not checked to be one.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is the fixed set of Prometheus collectors the pipeline
// orchestrator updates as it runs.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	SessionsActive      prometheus.Gauge
	UpstreamDialFailures prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics set against its own
// registry, so admin tests never collide with the default global registry.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhgateway_connections_accepted_total",
			Help: "TCP connections accepted across all listeners.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vhgateway_sessions_active",
			Help: "Sessions currently open.",
		}),
		UpstreamDialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhgateway_upstream_dial_failures_total",
			Help: "Upstream dial attempts that failed.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vhgateway_requests_total",
			Help: "Requests routed, labeled by response status class.",
		}, []string{"status_class"}),
	}
	reg.MustRegister(m.ConnectionsAccepted, m.SessionsActive, m.UpstreamDialFailures, m.RequestsTotal)
	return m, reg
}

// Server is the loopback admin HTTP server.
type Server struct {
	httpServer *http.Server
	log        *zap.Logger
}

// New builds the admin server bound to addr (expected to be a loopback
// address, e.g. "127.0.0.1:2019").
func New(addr string, reg *prometheus.Registry, log *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run listens and serves until ctx is cancelled, then shuts down
// gracefully. Bind failures are returned to the caller; cmd/vhgateway
// logs them as a warning and keeps the data plane running.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
