// Command datum-gateway runs the cloud-side Gateway (spec.md §4): it accepts inbound HTTP/2
// requests, routes each to a target device via its NodeId, and forwards it over the QUIC overlay
// to that device's UpstreamProxy. Grounded on cmd/cloudflared/main.go's App construction and
// signal-driven shutdown shape.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"

	"github.com/datum-cloud/datum-connect/config"
	"github.com/datum-cloud/datum-connect/connmgr"
	"github.com/datum-cloud/datum-connect/directory"
	"github.com/datum-cloud/datum-connect/discovery"
	"github.com/datum-cloud/datum-connect/forwarder"
	"github.com/datum-cloud/datum-connect/gwlog"
	"github.com/datum-cloud/datum-connect/metricsreport"
	"github.com/datum-cloud/datum-connect/overlay"
	"github.com/datum-cloud/datum-connect/router"
	"github.com/datum-cloud/datum-connect/watcher"
)

const (
	exitConfigError  = 1
	exitBindError    = 2
	exitOverlaySetup = 3

	// defaultDialTimeout matches spec.md §5's "Connect to peer: 10s".
	defaultDialTimeout = 10 * time.Second
	// defaultStreamWriteTimeout bounds a single write on an overlay stream.
	defaultStreamWriteTimeout = 30 * time.Second
)

func main() {
	app := &cli.App{
		Name:   "datum-gateway",
		Usage:  "Forwards inbound HTTP/2 requests to devices over a QUIC overlay",
		Flags:  config.GatewayFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func run(c *cli.Context) error {
	log := gwlog.CreateFromContext(c, gwlog.LogLevelFlag, gwlog.LogDirectoryFlag, false)

	cfg, err := config.GatewayConfigFromContext(c)
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(exitConfigError)
	}

	priv, err := overlay.LoadOrCreateIdentity(cfg.NodeKeyFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load node identity")
		os.Exit(exitOverlaySetup)
	}
	localID, err := overlay.NodeIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		log.Error().Err(err).Msg("failed to derive local node id")
		os.Exit(exitOverlaySetup)
	}
	tlsConfig, err := overlay.BuildTLSConfig(priv)
	if err != nil {
		log.Error().Err(err).Msg("failed to build TLS config")
		os.Exit(exitOverlaySetup)
	}

	registry := metricsreport.NewRegistry(prometheus.DefaultRegisterer)
	disc := buildDiscovery(cfg.DNSOrigin, cfg.DNSResolver, log)

	endpoint, err := overlay.NewQuicEndpoint(
		localID,
		cfg.OverlayAddr,
		tlsConfig,
		&quic.Config{},
		disc,
		defaultDialTimeout,
		defaultStreamWriteTimeout,
		log,
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to start overlay endpoint")
		os.Exit(exitOverlaySetup)
	}
	defer endpoint.Close()

	manager := connmgr.New(endpoint.Connect, log)
	defer manager.Shutdown()

	var dir *directory.Directory
	if cfg.RouteMode == router.ModeCodename {
		dir = directory.New()
		fileWatcher, err := watcher.NewFile()
		if err != nil {
			log.Error().Err(err).Msg("failed to start directory file watcher")
			os.Exit(exitConfigError)
		}
		dirManager, err := config.NewDirectoryFileManager(fileWatcher, dir, cfg.DirectoryFile, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to load directory file")
			os.Exit(exitConfigError)
		}
		go dirManager.Start()
		defer dirManager.Shutdown()
	}

	r := router.New(cfg.RouteMode, dir, log)
	fwd := forwarder.New(r, manager, registry, forwarder.DefaultConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.ListenAddr).Msg("failed to bind inbound listener")
		os.Exit(exitBindError)
	}
	defer listener.Close()

	go serveHTTP2(ctx, listener, fwd, log)
	go serveMetrics(ctx, cfg.MetricsAddr, log)
	go reportCachedConnections(ctx, manager, registry)

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("overlay_addr", cfg.OverlayAddr).
		Str("local_node_id", localID.String()).
		Msg("datum-gateway started")

	waitForSignal(log)
	return nil
}

func buildDiscovery(origin, resolver string, log *zerolog.Logger) discovery.Discovery {
	if origin == "" {
		log.Warn().Msg("no --dns-origin configured; discovery has no entries and will not resolve any node")
		return discovery.NewStatic(nil)
	}
	return discovery.NewDNSDiscovery(origin, resolver, 5*time.Second, log)
}

// serveHTTP2 accepts raw TCP connections on listener and serves HTTP/2 directly (h2c) on each,
// dispatching every request to handler. Grounded on HTTP2Connection.Serve's use of
// http2.Server.ServeConn per accepted connection.
func serveHTTP2(ctx context.Context, listener net.Listener, handler http.Handler, log *zerolog.Logger) {
	server := &http2.Server{}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to accept inbound connection")
			continue
		}
		go server.ServeConn(conn, &http2.ServeConnOpts{Context: ctx, Handler: handler})
	}
}

func serveMetrics(ctx context.Context, addr string, log *zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: metricsreport.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func reportCachedConnections(ctx context.Context, manager *connmgr.Manager, registry *metricsreport.Registry) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.CachedConnections.Set(float64(manager.Len()))
		}
	}
}

func waitForSignal(log *zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("shutting down")
}
