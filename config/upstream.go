package config

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/datum-cloud/datum-connect/localclient"
	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/upstreamproxy"
)

// UpstreamConfig is the parsed, validated configuration for a datum-upstream process.
type UpstreamConfig struct {
	LocalServiceAddr string
	OverlayAddr      string
	GatewayNodeID    nodeid.NodeId
	MetricsAddr      string
	DNSOrigin        string
	DNSResolver      string
	NodeKeyFile      string

	LocalClient   localclient.Config
	UpstreamProxy upstreamproxy.Config
}

// UpstreamConfigFromContext builds an UpstreamConfig from parsed CLI flags.
func UpstreamConfigFromContext(c *cli.Context) (*UpstreamConfig, error) {
	raw := c.String(FlagGatewayNodeID)
	if raw == "" {
		return nil, fmt.Errorf("config: --%s is required", FlagGatewayNodeID)
	}
	id, err := nodeid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: invalid --%s: %w", FlagGatewayNodeID, err)
	}

	localCfg := localclient.DefaultConfig()
	localCfg.IdleConnTimeout = idleTimeoutDefault

	upstreamCfg := upstreamproxy.DefaultConfig()
	if n := c.Int(FlagMaxConcurrentStream); n > 0 {
		upstreamCfg.MaxConcurrentStreams = n
	}
	upstreamCfg.LocalServiceAddr = c.String(FlagLocalServiceAddr)

	return &UpstreamConfig{
		LocalServiceAddr: c.String(FlagLocalServiceAddr),
		OverlayAddr:      c.String(FlagOverlayAddr),
		GatewayNodeID:    id,
		MetricsAddr:      c.String(FlagMetricsAddr),
		DNSOrigin:        c.String(FlagDNSOrigin),
		DNSResolver:      c.String(FlagDNSResolver),
		NodeKeyFile:      c.String(FlagNodeKeyFile),
		LocalClient:      localCfg,
		UpstreamProxy:    upstreamCfg,
	}, nil
}
