package relay

import (
	"net/http"
	"net/url"
	"testing"
)

func TestRewriteRequestSetsHost(t *testing.T) {
	req := &http.Request{Header: http.Header{}, URL: &url.URL{Path: "/"}}
	RewriteRequest(req, "upstream.internal:8080")

	if req.Host != "upstream.internal:8080" {
		t.Fatalf("unexpected Host field: %s", req.Host)
	}
	if got := req.Header.Get("Host"); got != "upstream.internal:8080" {
		t.Fatalf("unexpected Host header: %s", got)
	}
}

func TestRewriteResponseOnlyWhenHostPresent(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	RewriteResponse(resp, "client.example.com")
	if got := resp.Header.Get("Host"); got != "" {
		t.Fatalf("expected no Host header to be added, got %q", got)
	}

	resp.Header.Set("Host", "upstream-reported.internal")
	RewriteResponse(resp, "client.example.com")
	if got := resp.Header.Get("Host"); got != "client.example.com" {
		t.Fatalf("expected Host rewritten to client authority, got %q", got)
	}
}
