// Package config holds the CLI surface for datum-gateway and datum-upstream: flag definitions,
// parsed configuration structs, and a hot-reloadable YAML source for the Gateway's codename
// Directory. Grounded on cmd/cloudflared/tunnel/cmd.go's Flags()/Commands() (flag names, EnvVars
// pairing, default values) and config/manager.go's file-watcher-backed reload loop, generalized
// from cloudflared's ingress-rule YAML to this spec's codename->target table and from tunnel
// configuration to Gateway/UpstreamProxy configuration.
package config

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/datum-cloud/datum-connect/gwlog"
)

// Flag names shared by both binaries, except FlagListenAddr, which only datum-gateway registers.
const (
	FlagListenAddr  = "listen-addr"
	FlagOverlayAddr = "overlay-addr"
	FlagMetricsAddr = "metrics-addr"

	FlagDNSOrigin   = "dns-origin"
	FlagDNSResolver = "dns-resolver"

	FlagNodeKeyFile = "node-key-file"
)

// Gateway-only flags.
const (
	FlagRouteMode     = "route-mode"
	FlagDirectoryFile = "directory-file"
)

// UpstreamProxy-only flags.
const (
	FlagLocalServiceAddr    = "local-service-addr"
	FlagGatewayNodeID       = "gateway-node-id"
	FlagMaxConcurrentStream = "max-concurrent-streams"
)

// CommonFlags returns the flags both datum-gateway and datum-upstream register: logging, the
// overlay endpoint's discovery source, and the metrics listener.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    gwlog.LogLevelFlag,
			Value:   "info",
			Usage:   "Application logging level (debug, info, warn, error)",
			EnvVars: []string{"DATUM_CONNECT_LOGLEVEL"},
		},
		&cli.StringFlag{
			Name:    gwlog.LogDirectoryFlag,
			Usage:   "Directory to write a rolling log file to; unset disables file logging",
			EnvVars: []string{"DATUM_CONNECT_LOG_DIRECTORY"},
		},
		&cli.BoolFlag{
			Name:    gwlog.LogJSONFlag,
			Usage:   "Emit console logs as JSON instead of a colorized human-readable format",
			EnvVars: []string{"DATUM_CONNECT_LOG_JSON"},
		},
		&cli.StringFlag{
			Name:    FlagMetricsAddr,
			Value:   "127.0.0.1:8081",
			Usage:   "Address to serve Prometheus metrics on",
			EnvVars: []string{"DATUM_CONNECT_METRICS_ADDR"},
		},
		&cli.StringFlag{
			Name:    FlagDNSOrigin,
			Usage:   "DNS zone NodeId TXT discovery records are looked up in, as <node-id>.nodes.<origin> (e.g. example.com)",
			EnvVars: []string{"DATUM_CONNECT_DNS_ORIGIN"},
		},
		&cli.StringFlag{
			Name:    FlagDNSResolver,
			Value:   "1.1.1.1:53",
			Usage:   "DNS resolver address used to look up discovery TXT records",
			EnvVars: []string{"DATUM_CONNECT_DNS_RESOLVER"},
		},
		&cli.StringFlag{
			Name:    FlagNodeKeyFile,
			Usage:   "Path to this node's overlay private key; generated on first run if absent",
			EnvVars: []string{"DATUM_CONNECT_NODE_KEY_FILE"},
		},
		&cli.StringFlag{
			Name:    FlagOverlayAddr,
			Value:   "0.0.0.0:0",
			Usage:   "UDP address this node's overlay QUIC endpoint binds to",
			EnvVars: []string{"DATUM_CONNECT_OVERLAY_ADDR"},
		},
	}
}

// GatewayFlags returns the flags specific to datum-gateway.
func GatewayFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.StringFlag{
			Name:    FlagListenAddr,
			Value:   "0.0.0.0:7844",
			Usage:   "Address the inbound HTTP/2 listener binds to",
			EnvVars: []string{"DATUM_CONNECT_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:    FlagRouteMode,
			Value:   "metadata",
			Usage:   "Routing strategy: metadata, codename, or forward",
			EnvVars: []string{"DATUM_CONNECT_ROUTE_MODE"},
		},
		&cli.StringFlag{
			Name:    FlagDirectoryFile,
			Usage:   "Path to the codename directory YAML file (required when route-mode=codename)",
			EnvVars: []string{"DATUM_CONNECT_DIRECTORY_FILE"},
		},
	)
}

// UpstreamFlags returns the flags specific to datum-upstream.
func UpstreamFlags() []cli.Flag {
	return append(CommonFlags(),
		&cli.StringFlag{
			Name:    FlagLocalServiceAddr,
			Value:   "127.0.0.1:80",
			Usage:   "Address of the local service to proxy requests to",
			EnvVars: []string{"DATUM_CONNECT_LOCAL_SERVICE_ADDR"},
		},
		&cli.StringFlag{
			Name:    FlagGatewayNodeID,
			Usage:   "NodeId of the Gateway this device serves; validated and logged, inbound connections from other nodes are not rejected",
			EnvVars: []string{"DATUM_CONNECT_GATEWAY_NODE_ID"},
		},
		&cli.IntFlag{
			Name:    FlagMaxConcurrentStream,
			Value:   1024,
			Usage:   "Maximum number of overlay streams served concurrently",
			EnvVars: []string{"DATUM_CONNECT_MAX_CONCURRENT_STREAMS"},
		},
	)
}

// idleTimeoutDefault is the local client's idle connection timeout, set by upstream.go.
const idleTimeoutDefault = 90 * time.Second
