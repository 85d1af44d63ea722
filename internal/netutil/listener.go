package netutil

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// Listener binds a single port and yields accepted connections. A bind
// failure is fatal for the worker (spec.md §4.1, §7 BindError); accept
// errors are logged and non-fatal.
type Listener struct {
	ln  net.Listener
	log *zap.Logger
}

// Bind listens on addr (e.g. "0.0.0.0:8443" or "127.0.0.1:8443"). No
// backlog tuning beyond the OS default, per spec.md §4.1.
func Bind(addr string, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr returns the bound network address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept returns accepted connections on a channel for as long as the
// listener is open, logging and continuing past transient accept errors.
// The channel is closed once the listener itself is closed.
func (l *Listener) Accept() <-chan net.Conn {
	out := make(chan net.Conn)
	go func() {
		defer close(out)
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				if isClosed(err) {
					return
				}
				l.log.Warn("accept error", zap.Error(err), zap.Stringer("listener", l.ln.Addr()))
				continue
			}
			out <- conn
		}
	}()
	return out
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
