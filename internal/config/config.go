// Package config loads the gateway's configuration file (JSON or TOML,
// selected by extension, spec.md §6) into an immutable routetable.RouteTable.
// JSON parsing is stdlib encoding/json (no ecosystem replacement is pulled
// in by the teacher or the rest of the pack for plain JSON decoding); TOML
// parsing is github.com/BurntSushi/toml, the teacher's own direct
// dependency for exactly this purpose.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/vhgateway/vhgateway/internal/address"
	"github.com/vhgateway/vhgateway/internal/gwerr"
	"github.com/vhgateway/vhgateway/internal/routetable"
)

// maxConfigSize is spec.md §6's "~8 KiB per load" bound, checked before
// any parsing is attempted.
const maxConfigSize = 8 * 1024

// File is the top-level JSON/TOML document shape (spec.md §6).
type File struct {
	Configs []VirtualHost `json:"configs" toml:"configs"`
}

// VirtualHost is one entry of the configs array.
type VirtualHost struct {
	ServerName  string   `json:"server_name" toml:"server_name"`
	Protocol    string   `json:"protocol" toml:"protocol"` // "HTTP" | "HTTPS", default "HTTP"
	ListenPort  []uint16 `json:"listen_port" toml:"listen_port"`
	Rules       []Rule   `json:"rules" toml:"rules"`
	TLS         *TLS     `json:"tls" toml:"tls"`
}

// Rule is one proxy rule entry.
type Rule struct {
	Path      string `json:"path" toml:"path"`
	ProxyPass string `json:"proxy_pass" toml:"proxy_pass"`
}

// TLS is the optional per-vhost TLS/ACME block.
type TLS struct {
	Mail       string `json:"mail" toml:"mail"`
	Chain      string `json:"chain" toml:"chain"`
	PrivateKey string `json:"private_key" toml:"private_key"`
}

// PendingACME describes a virtual host that needs a certificate obtained
// (no static chain/key configured) — the caller (pipeline orchestrator)
// feeds these to the ACME client adapter (C13) at startup.
type PendingACME struct {
	ServerName string
	Email      string
}

// Load reads path, parses it by extension, and returns the built
// RouteTable plus the list of TLS virtual hosts still needing a
// certificate obtained (i.e. TLS configured but no static chain/key).
// Static chain/key virtual hosts are expected to already have been loaded
// into the certstore by the caller using ChainPath/KeyPath before serving
// starts (spec.md §3: "certificate material is loaded eagerly at
// startup").
func Load(path string) (*routetable.RouteTable, []PendingACME, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, gwerr.New(gwerr.KindConfig, path, err)
	}
	if len(data) > maxConfigSize {
		return nil, nil, gwerr.New(gwerr.KindConfig, path,
			fmt.Errorf("config file is %d bytes, exceeds %d byte limit", len(data), maxConfigSize))
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, nil, gwerr.New(gwerr.KindConfig, path, fmt.Errorf("parsing json: %w", err))
		}
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, nil, gwerr.New(gwerr.KindConfig, path, fmt.Errorf("parsing toml: %w", err))
		}
	default:
		return nil, nil, gwerr.New(gwerr.KindConfig, path, fmt.Errorf("unsupported config extension %q", ext))
	}

	return build(f)
}

func build(f File) (*routetable.RouteTable, []PendingACME, error) {
	vhosts := make([]routetable.VirtualHost, 0, len(f.Configs))
	var pending []PendingACME

	for _, vc := range f.Configs {
		if vc.ServerName == "" {
			return nil, nil, gwerr.New(gwerr.KindConfig, "configs[]", fmt.Errorf("server_name is required"))
		}
		if len(vc.ListenPort) == 0 {
			return nil, nil, gwerr.New(gwerr.KindConfig, vc.ServerName, fmt.Errorf("listen_port is required"))
		}

		rules := make([]routetable.Rule, 0, len(vc.Rules))
		for _, rc := range vc.Rules {
			upstream, err := address.ParseUpstreamURI(rc.ProxyPass)
			if err != nil {
				return nil, nil, gwerr.New(gwerr.KindConfig, vc.ServerName, fmt.Errorf("rule %q: %w", rc.Path, err))
			}
			rules = append(rules, routetable.Rule{PathPrefix: rc.Path, Upstream: upstream})
		}

		vh := routetable.VirtualHost{
			ServerName:  vc.ServerName,
			ListenPorts: vc.ListenPort,
			Rules:       rules,
		}

		protocol := strings.ToUpper(vc.Protocol)
		if protocol == "" {
			protocol = "HTTP"
		}
		if protocol == "HTTPS" {
			if vc.TLS == nil {
				return nil, nil, gwerr.New(gwerr.KindConfig, vc.ServerName, fmt.Errorf("protocol HTTPS requires a tls block"))
			}
			spec := routetable.TlsSpec{
				ContactEmail: vc.TLS.Mail,
				ChainPath:    vc.TLS.Chain,
				KeyPath:      vc.TLS.PrivateKey,
			}
			vh.TLS = &spec
			if !spec.HasStaticCert() {
				pending = append(pending, PendingACME{ServerName: vc.ServerName, Email: vc.TLS.Mail})
			}
		}

		vhosts = append(vhosts, vh)
	}

	return routetable.Build(vhosts), pending, nil
}
