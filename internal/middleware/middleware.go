// Package middleware implements the operator chain (C14, spec.md §4.11):
// delay, timeout, and bearer-token injection, each wrapping the router's
// per-request handler with the identical request/response contract.
// Grounded on original_source/examples/delay.rs and
// original_source/examples/router-with-delay.rs for the operator shapes,
// expressed the idiomatic Go way: a Handler is just a function value, and
// an Operator is a function from Handler to Handler, composed by plain
// function wrapping (no operator-registry/plugin machinery — spec.md
// names exactly three operators and there's no dynamic-loading
// requirement here).
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/vhgateway/vhgateway/internal/gwerr"
	"github.com/vhgateway/vhgateway/internal/session"
)

// Handler processes one already-decoded request for sess. It returns an
// error for the router to map to a local HTTP response (spec.md §7); nil
// means the request was fully handed off (forwarded to an upstream, or an
// ACME/local response was already written).
type Handler func(ctx context.Context, sess *session.Session, req *http.Request) error

// Operator wraps a Handler, producing another Handler with the same
// contract. Operators compose left-to-right: the outermost operator sees
// the request first (spec.md §4.11).
type Operator func(next Handler) Handler

// Chain applies operators around base, outermost first, so that
// Chain(base, a, b)(...)  calls a, then b, then base.
func Chain(base Handler, operators ...Operator) Handler {
	h := base
	for i := len(operators) - 1; i >= 0; i-- {
		h = operators[i](h)
	}
	return h
}

// Delay suspends for d before forwarding. No side effects on the request.
func Delay(d time.Duration) Operator {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *session.Session, req *http.Request) error {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			return next(ctx, sess, req)
		}
	}
}

// Timeout races next against a d-duration timer. On timeout it returns a
// KindTimeout error (mapped to 504 by the router) without cancelling
// next's continuation beyond no longer waiting on it — next keeps running
// in its own goroutine and its eventual result (a response already
// written, or an error) is simply not awaited.
func Timeout(d time.Duration) Operator {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *session.Session, req *http.Request) error {
			done := make(chan error, 1)
			go func() { done <- next(ctx, sess, req) }()

			select {
			case err := <-done:
				return err
			case <-time.After(d):
				return gwerr.New(gwerr.KindTimeout, "request", context.DeadlineExceeded)
			}
		}
	}
}

// Bearer sets the Authorization header to token before forwarding.
func Bearer(token string) Operator {
	return func(next Handler) Handler {
		return func(ctx context.Context, sess *session.Session, req *http.Request) error {
			req.Header.Set("Authorization", token)
			return next(ctx, sess, req)
		}
	}
}
