// Package routetable holds the immutable, process-wide lookup structure
// derived from configuration: listen port -> virtual hosts -> ordered
// path rules -> upstream. It is grounded on caddy's vhostTrie
// (caddyhttp/httpserver/vhosttrie.go) for the host/path dispatch shape, but
// simplified to spec.md §3's flat ordered-rule-list form (no trie): the
// gateway's rule counts per vhost are small and spec.md mandates a
// specific tie-break (earliest rule wins among equal-length prefixes) that
// is simplest to express directly over a slice.
package routetable

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/vhgateway/vhgateway/internal/address"
)

// Rule is a (path-prefix, upstream) pair. An empty PathPrefix matches every
// path and acts as the vhost's default rule.
type Rule struct {
	PathPrefix string
	Upstream   address.Address
}

// TlsSpec carries ACME/certificate configuration for a virtual host that
// serves HTTPS. When both ChainPath and KeyPath are set, certificate
// material is loaded eagerly at startup; otherwise the ACME subsystem (C13)
// obtains it.
type TlsSpec struct {
	ContactEmail string
	ChainPath    string
	KeyPath      string
}

// HasStaticCert reports whether both chain and key paths were configured.
func (t TlsSpec) HasStaticCert() bool {
	return t.ChainPath != "" && t.KeyPath != ""
}

// VirtualHost is a configured server-name with its rules and optional TLS
// material.
type VirtualHost struct {
	ServerName  string
	ListenPorts []uint16
	Rules       []Rule // insertion order preserved; Match relies on it
	TLS         *TlsSpec
}

// Match performs longest-prefix selection over v.Rules against path. Among
// rules sharing the longest matching prefix, the earliest in Rules wins
// (spec.md §3, §8). Reports ok=false if no rule matches (only possible if
// no rule has an empty PathPrefix, since empty matches everything).
func (v *VirtualHost) Match(path string) (Rule, bool) {
	bestIdx := -1
	bestLen := -1
	for i, r := range v.Rules {
		if !strings.HasPrefix(path, r.PathPrefix) {
			continue
		}
		if len(r.PathPrefix) > bestLen {
			bestLen = len(r.PathPrefix)
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return Rule{}, false
	}
	return v.Rules[bestIdx], true
}

// RouteTable is the immutable, shared-by-reference lookup structure built
// once at config load (or reload) time. Safe for concurrent read access
// across every worker; never mutated after Build returns.
type RouteTable struct {
	byPort map[uint16][]*VirtualHost
	byName map[uint16]map[string]*VirtualHost // listen_port -> server_name -> vhost
}

// Build constructs a RouteTable from an ordered list of virtual hosts. Host
// lookup is O(1) per port via the byName index; iteration order for the
// same port is preserved in byPort for diagnostics/listing.
func Build(vhosts []VirtualHost) *RouteTable {
	rt := &RouteTable{
		byPort: make(map[uint16][]*VirtualHost),
		byName: make(map[uint16]map[string]*VirtualHost),
	}
	for i := range vhosts {
		vh := &vhosts[i]
		for _, port := range vh.ListenPorts {
			rt.byPort[port] = append(rt.byPort[port], vh)
			if rt.byName[port] == nil {
				rt.byName[port] = make(map[string]*VirtualHost)
			}
			rt.byName[port][vh.ServerName] = vh
		}
	}
	return rt
}

// Lookup finds the virtual host bound to (port, serverName). serverName is
// matched case-sensitively on the exact value the Host header authority
// parsed to; spec.md does not ask for wildcard server names (that is a
// caddy-specific generalization, out of scope here).
func (rt *RouteTable) Lookup(port uint16, serverName string) (*VirtualHost, bool) {
	byName, ok := rt.byName[port]
	if !ok {
		return nil, false
	}
	vh, ok := byName[serverName]
	return vh, ok
}

// Ports returns every listen port the table answers for, sorted, mostly
// useful for the pipeline orchestrator binding listeners at startup.
func (rt *RouteTable) Ports() []uint16 {
	ports := make([]uint16, 0, len(rt.byPort))
	for p := range rt.byPort {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// VirtualHosts returns the virtual hosts registered on port, in insertion
// order.
func (rt *RouteTable) VirtualHosts(port uint16) []*VirtualHost {
	return rt.byPort[port]
}

// Fingerprint hashes a canonical rendering of every (port, server name,
// rule) triple in the table, sorted so that two RouteTables built from
// differently-ordered configs describing the same routes fingerprint
// equal, so a "load, serialize, reload" round trip (spec.md §8) yields the
// same fingerprint. It is logged once at startup so an operator can
// confirm a reload actually changed something (or didn't).
func (rt *RouteTable) Fingerprint() string {
	var lines []string
	for port, vhosts := range rt.byName {
		for name, vh := range vhosts {
			for _, r := range vh.Rules {
				lines = append(lines, strconv.Itoa(int(port))+"|"+name+"|"+r.PathPrefix+"|"+r.Upstream.Normalized())
			}
		}
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
