// Package router is the router service (C8): per request, extract Host,
// look up the virtual host, either hand off to the ACME responder or
// longest-prefix match a rule and forward through the pool, or reply with
// a local error. One Service is built per listening port (each port has
// its own listener per spec.md §4.1, and spec.md's VirtualHost.ServerName
// values are matched verbatim against the Host header including any port
// suffix — see scenario 1 in spec.md §8). Grounded on
// caddyhttp/httpserver/vhosttrie.go's two-level host-then-path match,
// simplified to routetable's flat ordered-rule form.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/acmechallenge"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/gwerr"
	"github.com/vhgateway/vhgateway/internal/httpcodec"
	"github.com/vhgateway/vhgateway/internal/middleware"
	"github.com/vhgateway/vhgateway/internal/pool"
	"github.com/vhgateway/vhgateway/internal/relay"
	"github.com/vhgateway/vhgateway/internal/routetable"
	"github.com/vhgateway/vhgateway/internal/session"
)

var (
	errNoHost  = errors.New("no Host header")
	errNoVhost = errors.New("no matching virtual host or rule")
)

// Service is the router bound to one listen port.
type Service struct {
	port    uint16
	table   *routetable.RouteTable
	pool    *pool.Pool
	acme    *acmechallenge.Responder
	log     *zap.Logger
	metrics *admin.Metrics

	chain middleware.Handler
}

// New builds a Service for listenPort. operators, if any, wrap the base
// routing handler in order (spec.md §4.11); pass none for the common
// case. metrics records locally-generated (non-proxied) response status
// classes; responses delivered through the pool record their own (C11).
func New(listenPort uint16, table *routetable.RouteTable, p *pool.Pool, acme *acmechallenge.Responder, log *zap.Logger, metrics *admin.Metrics, operators ...middleware.Operator) *Service {
	s := &Service{port: listenPort, table: table, pool: p, acme: acme, log: log, metrics: metrics}
	s.chain = middleware.Chain(s.handle, operators...)
	return s
}

// Serve runs the per-connection request loop for sess until client EOF or
// a fatal decode error (spec.md §4.5 step 5), then cancels the session.
func (s *Service) Serve(ctx context.Context, sess *session.Session) {
	defer sess.Cancel()

	for {
		req, err := sess.Codec.NextRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if sess.Codec.HeaderSeen() {
				sess.Writer.WriteRaw(rawResponse(400, "Bad Request"))
			}
			s.log.Debug("decode error, terminating session", zap.Error(err))
			return
		}

		req = req.WithContext(ctx)
		if err := s.chain(ctx, sess, req); err != nil {
			s.replyError(sess, err)
		}

		select {
		case <-sess.Done():
			return
		default:
		}
	}
}

func (s *Service) replyError(sess *session.Session, err error) {
	status := gwerr.Status(err)
	if status == 0 {
		status = 500
	}
	s.log.Debug("request error", zap.Int("status", status), zap.Error(err))
	s.metrics.RequestsTotal.WithLabelValues(gwerr.StatusClass(status)).Inc()
	sess.Writer.WriteRaw(rawResponse(status, httpStatusText(status)))
}

// handle implements spec.md §4.5 steps 1-4.
func (s *Service) handle(ctx context.Context, sess *session.Session, req *http.Request) error {
	host := req.Host
	if host == "" {
		host = req.Header.Get("Host")
	}
	if host == "" {
		return gwerr.New(gwerr.KindNoHost, "missing Host header", errNoHost)
	}

	vh, ok := s.table.Lookup(s.port, host)
	if !ok {
		return gwerr.New(gwerr.KindRouteMiss, host, errNoVhost)
	}

	path := req.URL.Path
	if s.acme.Handles(path) {
		if vh.TLS == nil {
			return gwerr.New(gwerr.KindRouteMiss, path, errNoVhost)
		}
		return sess.Writer.WriteResponse(func(codec *httpcodec.ServerConn) error {
			w := codec.RawWriter()
			if err := s.acme.Serve(w, host, path); err != nil {
				return err
			}
			return w.Flush()
		})
	}

	rule, ok := vh.Match(path)
	if !ok {
		return gwerr.New(gwerr.KindRouteMiss, path, errNoVhost)
	}

	clientAuthority := host
	relay.RewriteRequest(req, rule.Upstream.Authority())
	return s.pool.Forward(ctx, sess, req, rule.Upstream, clientAuthority)
}

func httpStatusText(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return "Internal Server Error"
	}
}

func rawResponse(status int, text string) []byte {
	body := text
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Length: %d\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n%s",
		status, text, len(body), body))
}
