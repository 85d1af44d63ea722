// Package pool is the per-worker connection pool (C11): one live
// UpstreamConnection per connect target, at most one dial in flight per
// target, and a long-lived reader task per entry that owns the upstream's
// response decoder and forwards responses to whichever session's request
// they answer.
//
// Dial coalescing is golang.org/x/sync/singleflight: singleflight.Group.Do
// shares one in-flight dial's result with every concurrent caller keyed on
// the same connect target, and forgets the call once it completes. A
// failed dial is therefore returned to every caller that joined it; those
// callers do not dial again. The first Forward to arrive after the failed
// call has completed starts a fresh dial.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vhgateway/vhgateway/internal/address"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/dialer"
	"github.com/vhgateway/vhgateway/internal/gwerr"
	"github.com/vhgateway/vhgateway/internal/httpcodec"
	"github.com/vhgateway/vhgateway/internal/relay"
	"github.com/vhgateway/vhgateway/internal/session"
)

// pendingBacklog bounds how many forwarded-but-unanswered requests a
// single upstream connection may have in flight before send blocks;
// generous enough for realistic pipelining depth without buffering
// unboundedly (spec.md §5 backpressure policy).
const pendingBacklog = 64

type pendingResp struct {
	req             *http.Request
	sess            *session.Session
	clientAuthority string
}

type entry struct {
	conn   net.Conn
	client *httpcodec.ClientConn

	writeMu sync.Mutex
	closed  bool

	pending chan pendingResp
}

// Pool is a per-worker connection pool. Not safe to share across workers;
// each worker owns exactly one (spec.md §5).
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group
	dialer  *dialer.Dialer
	log     *zap.Logger
	metrics *admin.Metrics
}

// New returns an empty Pool reporting dial failures and completed-request
// status classes through metrics.
func New(log *zap.Logger, metrics *admin.Metrics) *Pool {
	return &Pool{
		entries: make(map[string]*entry),
		dialer:  dialer.New(),
		log:     log,
		metrics: metrics,
	}
}

// Forward sends req to upstream on behalf of sess, dialing (or joining an
// in-flight dial, or reusing a live connection) as needed. clientAuthority
// is the client-visible Host the response rewrite (spec.md §4.9) restores
// if the upstream's response carries one.
func (p *Pool) Forward(ctx context.Context, sess *session.Session, req *http.Request, upstream address.Address, clientAuthority string) error {
	target := upstream.ConnectTarget()

	p.mu.Lock()
	e, ok := p.entries[target]
	p.mu.Unlock()

	if !ok {
		v, err, _ := p.group.Do(target, func() (interface{}, error) {
			// Re-check: another goroutine may have installed the entry
			// between our lookup above and acquiring the singleflight
			// slot (e.g. it lost the singleflight race for a *different*
			// caller that arrived first). The dial between this check and
			// the insert below is not raced by a second dial for the same
			// target, since singleflight runs one call per key at a time.
			p.mu.Lock()
			if existing, ok := p.entries[target]; ok {
				p.mu.Unlock()
				return existing, nil
			}
			p.mu.Unlock()

			client, conn, err := p.dialer.Dial(ctx, upstream)
			if err != nil {
				p.metrics.UpstreamDialFailures.Inc()
				return nil, gwerr.New(gwerr.KindUpstreamDial, target, err)
			}
			newE := &entry{conn: conn, client: client, pending: make(chan pendingResp, pendingBacklog)}

			p.mu.Lock()
			p.entries[target] = newE
			p.mu.Unlock()

			go p.readLoop(target, newE)
			return newE, nil
		})
		if err != nil {
			return err
		}
		e = v.(*entry)
	}

	return e.send(sess, req, clientAuthority)
}

func (e *entry) send(sess *session.Session, req *http.Request, clientAuthority string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed {
		return fmt.Errorf("pool: upstream connection already closed")
	}
	if err := e.client.WriteRequest(req); err != nil {
		e.closed = true
		return gwerr.New(gwerr.KindUpstreamDial, "write", err)
	}
	e.pending <- pendingResp{req: req, sess: sess, clientAuthority: clientAuthority}
	return nil
}

// readLoop owns the upstream's response decoder for its entire lifetime;
// no other goroutine ever reads from e.conn. It terminates on upstream
// EOF/decode error and removes the entry, matching spec.md §4.8's
// invariant that the reader task's lifetime is the connection's lifetime.
//
// Per-session cancellation (spec.md §9) is handled per-response rather
// than by tearing down the whole entry: a pool entry may answer requests
// from more than one session over its lifetime (every "hit" reuses it),
// so one cancelled session must not sever an upstream connection other
// sessions are still using. A response whose destination session has
// already cancelled just fails to deliver (session.ErrClosed) and is
// dropped; the reader keeps going. This is the documented resolution of
// the "which semantics did the implementation choose" question spec.md
// §9 leaves open.
func (p *Pool) readLoop(target string, e *entry) {
	defer func() {
		p.mu.Lock()
		if p.entries[target] == e {
			delete(p.entries, target)
		}
		p.mu.Unlock()

		e.writeMu.Lock()
		e.closed = true
		e.writeMu.Unlock()
		e.conn.Close()
	}()

	for item := range e.pending {
		resp, err := e.client.NextResponse(item.req)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("upstream decode error", zap.String("upstream", target), zap.Error(err))
			}
			return
		}

		relay.RewriteResponse(resp, item.clientAuthority)
		p.metrics.RequestsTotal.WithLabelValues(gwerr.StatusClass(resp.StatusCode)).Inc()

		writeErr := item.sess.Writer.WriteResponse(func(codec *httpcodec.ServerConn) error {
			return codec.WriteResponse(resp)
		})
		if writeErr != nil {
			if !errors.Is(writeErr, session.ErrClosed) {
				p.log.Debug("client write failed", zap.String("upstream", target), zap.Error(writeErr))
			}
			// codec.WriteResponse never ran (or failed mid-write); drain
			// whatever of the body is left so the next response on this
			// connection parses from the right offset.
			io.Copy(io.Discard, resp.Body)
		}
		resp.Body.Close()

		// Only this entry's reader removes it from the pool; if we
		// detached (e.g. a prior send marked it closed on write
		// failure) stop pulling more pending items bound for a dead
		// connection.
		e.writeMu.Lock()
		closed := e.closed
		e.writeMu.Unlock()
		if closed {
			return
		}
	}
}
