// Command vhgateway is the gateway's entrypoint: load configuration,
// build the route table and certificate store, obtain any ACME
// certificates still needed, start the data-plane listeners and the
// loopback admin server, and block until an interrupt. Grounded on
// cmd/caddy/main.go and caddymain/run.go for overall shape (flag parsing
// via a root command, GOMAXPROCS/memory-limit tuning before anything else
// runs, structured logging from the first line).
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/vhgateway/vhgateway/internal/acmeclient"
	"github.com/vhgateway/vhgateway/internal/admin"
	"github.com/vhgateway/vhgateway/internal/certstore"
	"github.com/vhgateway/vhgateway/internal/config"
	"github.com/vhgateway/vhgateway/internal/logging"
	"github.com/vhgateway/vhgateway/internal/pipeline"
	"github.com/vhgateway/vhgateway/internal/routetable"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath    string
		logLevel      string
		logFile       string
		adminAddr     string
		acmeWorkspace string
		acmeStaging   bool
	)

	cmd := &cobra.Command{
		Use:   "vhgateway",
		Short: "Virtual-host aware layer-7 reverse proxy gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), runOptions{
				configPath:    configPath,
				logLevel:      logLevel,
				logFile:       logFile,
				adminAddr:     adminAddr,
				acmeWorkspace: acmeWorkspace,
				acmeStaging:   acmeStaging,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "vhgateway.json", "path to the JSON or TOML configuration file")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "rotate logs to this file instead of stderr")
	flags.StringVar(&adminAddr, "admin-addr", "127.0.0.1:2019", "loopback address for /healthz and /metrics")
	flags.StringVar(&acmeWorkspace, "acme-workspace", "/var/lib/vhgateway/acme", "root directory for ACME challenge files and cached certificates")
	flags.BoolVar(&acmeStaging, "acme-staging", false, "use the Let's Encrypt staging directory")

	return cmd
}

type runOptions struct {
	configPath    string
	logLevel      string
	logFile       string
	adminAddr     string
	acmeWorkspace string
	acmeStaging   bool
}

func run(ctx context.Context, opts runOptions) error {
	if _, err := maxprocs.Set(); err != nil {
		// Non-fatal: GOMAXPROCS just stays at the Go runtime's own default.
	}
	if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		// Non-fatal: no cgroup memory limit to read from (e.g. not
		// running under a container), GOMEMLIMIT stays unset.
	}

	log, err := logging.New(logging.Options{Level: opts.logLevel, FilePath: opts.logFile})
	if err != nil {
		return err
	}
	defer log.Sync()

	table, pending, err := config.Load(opts.configPath)
	if err != nil {
		log.Error("failed to load configuration", zap.Error(err))
		return err
	}
	if info, statErr := os.Stat(opts.configPath); statErr == nil {
		log.Info("configuration loaded",
			zap.String("path", opts.configPath),
			zap.String("size", humanize.Bytes(uint64(info.Size()))),
			zap.String("route_table_fingerprint", table.Fingerprint()))
	}

	store := certstore.New()
	if err := loadStaticCerts(table, store); err != nil {
		log.Error("failed to load static certificates", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := acmeclient.LetsEncryptProductionDirectory
	if opts.acmeStaging {
		directory = acmeclient.LetsEncryptStagingDirectory
	}
	acmeAdapter := acmeclient.New(directory, opts.acmeWorkspace, store, log)
	for _, p := range pending {
		acmeAdapter.Ensure(ctx, p.ServerName, p.Email)
	}

	metrics, reg := admin.NewMetrics()

	gw := pipeline.New(table, store, opts.acmeWorkspace, log, metrics)
	if err := gw.Start(ctx); err != nil {
		log.Error("failed to start listeners", zap.Error(err))
		return err
	}
	defer gw.Close()

	adminSrv := admin.New(opts.adminAddr, reg, log)
	go func() {
		if err := adminSrv.Run(ctx); err != nil {
			log.Warn("admin server stopped", zap.Error(err))
		}
	}()

	log.Info("vhgateway started", zap.Strings("ports", portLabels(table)))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func portLabels(table *routetable.RouteTable) []string {
	ports := table.Ports()
	labels := make([]string, len(ports))
	for i, p := range ports {
		labels[i] = strconv.Itoa(int(p))
	}
	return labels
}

// loadStaticCerts installs every virtual host's pre-provided chain/key
// pair into store eagerly at startup (spec.md §3: "certificate material
// is loaded eagerly at startup"). Virtual hosts with TLS configured but no
// static chain/key are left for the ACME adapter.
func loadStaticCerts(table *routetable.RouteTable, store *certstore.Store) error {
	seen := make(map[string]bool)
	for _, port := range table.Ports() {
		for _, vh := range table.VirtualHosts(port) {
			if vh.TLS == nil || !vh.TLS.HasStaticCert() || seen[vh.ServerName] {
				continue
			}
			seen[vh.ServerName] = true

			cert, err := tls.LoadX509KeyPair(vh.TLS.ChainPath, vh.TLS.KeyPath)
			if err != nil {
				return fmt.Errorf("loading certificate for %s: %w", vh.ServerName, err)
			}

			if staple, issuer, ok := loadOCSPStaple(vh.TLS.ChainPath, cert.Certificate); ok {
				if err := store.InstallWithStaple(vh.ServerName, cert.Certificate, cert.PrivateKey, issuer, staple); err != nil {
					return fmt.Errorf("installing stapled certificate for %s: %w", vh.ServerName, err)
				}
				continue
			}
			if err := store.Install(vh.ServerName, cert.Certificate, cert.PrivateKey); err != nil {
				return fmt.Errorf("installing certificate for %s: %w", vh.ServerName, err)
			}
		}
	}
	return nil
}

// loadOCSPStaple reads an optional "<chainPath>.ocsp" sibling file holding
// a DER-encoded OCSP response to staple during handshakes, parsing the
// chain's issuer certificate (the second entry, when present) for the
// caller to validate the staple against. Returns ok=false whenever no
// staple file exists, which is the common case — stapling is opportunistic,
// never required.
func loadOCSPStaple(chainPath string, chain [][]byte) ([]byte, *x509.Certificate, bool) {
	raw, err := os.ReadFile(chainPath + ".ocsp")
	if err != nil || len(chain) < 2 {
		return nil, nil, false
	}
	issuer, err := x509.ParseCertificate(chain[1])
	if err != nil {
		return nil, nil, false
	}
	return raw, issuer, true
}
