// Package gwerr defines the small taxonomy of errors the gateway's request
// pipeline distinguishes between: which ones are fatal to a worker, which
// ones drop a single connection, and which ones only ever become an HTTP
// status code.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the pipeline must react to it.
type Kind int

const (
	// KindConfig is a configuration parse/schema/IO error. Fatal at load time.
	KindConfig Kind = iota
	// KindBind is a listener bind failure. Fatal for the affected worker.
	KindBind
	// KindAccept is a transient accept() error. Logged, loop continues.
	KindAccept
	// KindTLSHandshake drops the connection.
	KindTLSHandshake
	// KindDecode is malformed HTTP from a client or an upstream.
	KindDecode
	// KindRouteMiss has no matching virtual host or rule.
	KindRouteMiss
	// KindNoHost means the request carried no Host header.
	KindNoHost
	// KindUpstreamDial is a dial failure to the chosen upstream.
	KindUpstreamDial
	// KindTimeout is a per-request timeout.
	KindTimeout
	// KindACME is an ACME background-task error; never propagates to serving.
	KindACME
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindBind:
		return "bind"
	case KindAccept:
		return "accept"
	case KindTLSHandshake:
		return "tls_handshake"
	case KindDecode:
		return "decode"
	case KindRouteMiss:
		return "route_miss"
	case KindNoHost:
		return "no_host"
	case KindUpstreamDial:
		return "upstream_dial"
	case KindTimeout:
		return "timeout"
	case KindACME:
		return "acme"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on it
// without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(k Kind, op string, err error) *Error {
	return &Error{Kind: k, Op: op, Err: err}
}

// Status maps an error's Kind to the HTTP status the router must reply
// with for per-request errors. Per-connection errors (decode, tls) have no
// meaningful status since the connection is dropped before or without a
// response; Status returns 0 for those.
func Status(err error) int {
	var ge *Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	switch ge.Kind {
	case KindNoHost:
		return http.StatusForbidden
	case KindRouteMiss:
		return http.StatusNotFound
	case KindUpstreamDial:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return 0
	}
}

// StatusClass buckets an HTTP status code into the label the admin
// surface's requests_total metric groups by ("2xx", "4xx", ...).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
