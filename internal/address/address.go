// Package address models the Address value from which every upstream
// connect target the gateway dials is derived. It is
// grounded on the host/port handling in caddy's upstream parsing
// (caddyhttp/proxy/upstream.go's parseUpstream), generalized to the tagged
// Socket/Uri shape spec.md §3 asks for.
package address

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// SchemeKind is the coarse plain-vs-secure classification of an Address.
type SchemeKind int

const (
	Plain SchemeKind = iota
	Secure
)

func (s SchemeKind) String() string {
	if s == Secure {
		return "secure"
	}
	return "plain"
}

// Kind tags which concrete shape an Address carries.
type Kind int

const (
	KindSocket Kind = iota
	KindURI
)

// Address is a value type: cheap to copy, compared by its normalized form.
type Address struct {
	kind Kind

	// Socket fields.
	ip   string
	port uint16

	// Uri fields.
	scheme string // "http" or "https"
	host   string
	uport  uint16 // 0 means "use scheme default"
	path   string
}

// NewSocket builds a Socket(ip, port) address.
func NewSocket(ip string, port uint16) Address {
	return Address{kind: KindSocket, ip: ip, port: port}
}

// ParseUpstreamURI parses a proxy_pass-style URI into a Uri address. Scheme
// must be http or https; an absent port takes the scheme's default later
// via EffectivePort.
func ParseUpstreamURI(raw string) (Address, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("parsing upstream uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return Address{}, fmt.Errorf("unsupported upstream scheme %q", u.Scheme)
	}

	host := u.Hostname()
	var port uint16
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Address{}, fmt.Errorf("invalid port in %q: %w", raw, err)
		}
		port = uint16(n)
	}
	return Address{
		kind:   KindURI,
		scheme: u.Scheme,
		host:   host,
		uport:  port,
		path:   u.Path,
	}, nil
}

// Kind reports which shape this Address carries.
func (a Address) Kind() Kind { return a.kind }

// SchemeKind reports plain vs secure. A Socket address is always Plain
// (TLS on a bare socket is a property of the caller, not the address).
func (a Address) SchemeKind() SchemeKind {
	if a.kind == KindURI && a.scheme == "https" {
		return Secure
	}
	return Plain
}

// EffectivePort resolves the port, applying the scheme default (80/443) for
// Uri addresses that omitted one.
func (a Address) EffectivePort() uint16 {
	switch a.kind {
	case KindSocket:
		return a.port
	case KindURI:
		if a.uport != 0 {
			return a.uport
		}
		if a.scheme == "https" {
			return 443
		}
		return 80
	}
	return 0
}

// Host returns the bare host/ip, without port.
func (a Address) Host() string {
	if a.kind == KindSocket {
		return a.ip
	}
	return a.host
}

// Path returns the Uri path component; empty for Socket addresses.
func (a Address) Path() string { return a.path }

// ConnectTarget renders "host:port", the string dialers use for net.Dial
// and for the connection-pool key.
func (a Address) ConnectTarget() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.EffectivePort())))
}

// Authority renders the value that belongs in an HTTP Host header: bare
// host if the port is the scheme default, "host:port" otherwise.
func (a Address) Authority() string {
	port := a.EffectivePort()
	isDefault := (a.SchemeKind() == Plain && port == 80) || (a.SchemeKind() == Secure && port == 443)
	if isDefault {
		return a.Host()
	}
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(port)))
}

// Normalized returns a canonical string form suitable for equality and
// map-keying; two Addresses describing the same endpoint normalize equal.
func (a Address) Normalized() string {
	return fmt.Sprintf("%s://%s", a.SchemeKind(), a.ConnectTarget())
}

// Equal reports whether two addresses name the same connect target and
// scheme.
func (a Address) Equal(b Address) bool { return a.Normalized() == b.Normalized() }

func (a Address) String() string { return a.Normalized() }
