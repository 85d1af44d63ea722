package gwerr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusMapsKnownKinds(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNoHost, http.StatusForbidden},
		{KindRouteMiss, http.StatusNotFound},
		{KindUpstreamDial, http.StatusBadGateway},
		{KindTimeout, http.StatusGatewayTimeout},
	}
	for _, c := range cases {
		err := New(c.kind, "op", errors.New("boom"))
		if got := Status(err); got != c.want {
			t.Errorf("kind %v: expected %d, got %d", c.kind, c.want, got)
		}
	}
}

func TestStatusOnNonGatewayErrorIsInternalServerError(t *testing.T) {
	if got := Status(errors.New("plain error")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for an unclassified error, got %d", got)
	}
}

func TestStatusZeroForConnectionLevelKinds(t *testing.T) {
	err := New(KindDecode, "op", errors.New("bad framing"))
	if got := Status(err); got != 0 {
		t.Fatalf("expected 0 for a connection-level error, got %d", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindConfig, "load", cause)
	require.ErrorIs(t, err, cause)
}

func TestStatusClassBuckets(t *testing.T) {
	cases := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{499, "4xx"},
		{500, "5xx"},
		{599, "5xx"},
		{0, "other"},
		{100, "other"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, StatusClass(c.status), "status %d", c.status)
	}
}
