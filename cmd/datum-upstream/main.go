// Command datum-upstream runs the device-side UpstreamProxy (spec.md §4.5): it accepts an overlay
// connection from the Gateway, accepts streams on it, and dispatches each framed request to a
// local service. Grounded on cmd/cloudflared/main.go's App construction and signal-driven
// shutdown shape.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/datum-cloud/datum-connect/config"
	"github.com/datum-cloud/datum-connect/discovery"
	"github.com/datum-cloud/datum-connect/gwlog"
	"github.com/datum-cloud/datum-connect/localclient"
	"github.com/datum-cloud/datum-connect/metricsreport"
	"github.com/datum-cloud/datum-connect/overlay"
	"github.com/datum-cloud/datum-connect/upstreamproxy"
)

const (
	exitConfigError  = 1
	exitOverlaySetup = 3
)

func main() {
	app := &cli.App{
		Name:   "datum-upstream",
		Usage:  "Proxies overlay requests from a Gateway to a local service",
		Flags:  config.UpstreamFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func run(c *cli.Context) error {
	log := gwlog.CreateFromContext(c, gwlog.LogLevelFlag, gwlog.LogDirectoryFlag, false)

	cfg, err := config.UpstreamConfigFromContext(c)
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

	// This device only needs to resolve its own Gateway by name if it initiated the
	// connection; as the Accept side it never calls Resolve, so an empty Static suffices.
	disc := discovery.NewStatic(nil)

	endpoint, err := overlay.NewQuicEndpoint(
		localID,
		cfg.OverlayAddr,
		tlsConfig,
		&quic.Config{KeepAlivePeriod: 25 * time.Second},
		disc,
		10*time.Second,
		30*time.Second,
		log,
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to start overlay endpoint")
		os.Exit(exitOverlaySetup)
	}
	defer endpoint.Close()

	client := localclient.New(cfg.LocalClient, log)
	defer client.Shutdown(context.Background())

	listener := upstreamproxy.New(endpoint, client, registry, cfg.UpstreamProxy, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveMetrics(ctx, cfg.MetricsAddr, log)

	go func() {
		if err := listener.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("upstream listener exited")
		}
	}()

	log.Info().
		Str("overlay_addr", cfg.OverlayAddr).
		Str("local_service_addr", cfg.LocalServiceAddr).
		Str("local_node_id", localID.String()).
		Str("gateway_node_id", cfg.GatewayNodeID.String()).
		Msg("datum-upstream started")

	waitForSignal(log)
	return nil
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

func waitForSignal(log *zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("shutting down")
}
