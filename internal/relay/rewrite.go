// Package relay implements the pure header-rewrite functions (spec.md
// §4.9) and the request/response pump that ties a session's client codec
// to a pooled upstream connection (spec.md §4.12, C12). Grounded on
// caddyhttp/proxy/proxy.go's createUpstreamRequest, which is where the
// teacher rewrites Host and injects X-Forwarded-* on the way upstream.
package relay

import "net/http"

// RewriteRequest sets the Host header (both the header map entry and the
// Request.Host field net/http actually serializes from) to upstreamAuthority
// before the request is forwarded. No other header is touched.
func RewriteRequest(req *http.Request, upstreamAuthority string) {
	req.Host = upstreamAuthority
	req.Header.Set("Host", upstreamAuthority)
}

// RewriteResponse sets the Host header on resp to clientAuthority if and
// only if the response already carries one (spec.md §4.9). No other
// header is touched, and the body is never inspected.
func RewriteResponse(resp *http.Response, clientAuthority string) {
	if resp.Header.Get("Host") == "" {
		return
	}
	resp.Header.Set("Host", clientAuthority)
}
