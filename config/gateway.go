package config

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/datum-cloud/datum-connect/router"
)

// GatewayConfig is the parsed, validated configuration for a datum-gateway process.
type GatewayConfig struct {
	ListenAddr    string
	OverlayAddr   string
	MetricsAddr   string
	DNSOrigin     string
	DNSResolver   string
	NodeKeyFile   string
	RouteMode     router.Mode
	DirectoryFile string
}

// GatewayConfigFromContext builds a GatewayConfig from parsed CLI flags, per
// cmd/cloudflared/tunnel/cmd.go's context-to-config pattern.
func GatewayConfigFromContext(c *cli.Context) (*GatewayConfig, error) {
	mode, err := parseRouteMode(c.String(FlagRouteMode))
	if err != nil {
		return nil, err
	}
	if mode == router.ModeCodename && c.String(FlagDirectoryFile) == "" {
		return nil, fmt.Errorf("config: --%s is required when --%s=codename", FlagDirectoryFile, FlagRouteMode)
	}

	return &GatewayConfig{
		ListenAddr:    c.String(FlagListenAddr),
		OverlayAddr:   c.String(FlagOverlayAddr),
		MetricsAddr:   c.String(FlagMetricsAddr),
		DNSOrigin:     c.String(FlagDNSOrigin),
		DNSResolver:   c.String(FlagDNSResolver),
		NodeKeyFile:   c.String(FlagNodeKeyFile),
		RouteMode:     mode,
		DirectoryFile: c.String(FlagDirectoryFile),
	}, nil
}

func parseRouteMode(raw string) (router.Mode, error) {
	switch raw {
	case "metadata", "":
		return router.ModeMetadata, nil
	case "codename":
		return router.ModeCodename, nil
	case "forward":
		return router.ModeForward, nil
	default:
		return 0, fmt.Errorf("config: unknown %s %q", FlagRouteMode, raw)
	}
}
