// Package localclient implements the LocalHTTPClient (spec.md §4.6): a pooled HTTP/1.1 client the
// device uses to dial its own local services, reusing TCP connections across requests. Grounded
// directly on ingress.newHTTPTransport's http.Transport construction.
package localclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the pool/timeout knobs spec.md §4.6 and §5 name, all with the defaults the spec
// specifies.
type Config struct {
	// KeepAliveConnections bounds idle pooled connections, per host and overall.
	KeepAliveConnections int
	// IdleConnTimeout is how long an idle pooled connection is kept before being closed.
	IdleConnTimeout time.Duration
	// ConnectTimeout bounds dialing the local service's TCP port.
	ConnectTimeout time.Duration
	// RequestTimeout bounds one local request end to end.
	RequestTimeout time.Duration
}

// DefaultConfig matches the defaults in spec.md §4.6 ("Times out idle connections (default 90s)")
// and §5 ("Local HTTP client connect: 5s; local request: 30s").
func DefaultConfig() Config {
	return Config{
		KeepAliveConnections: 64,
		IdleConnTimeout:      90 * time.Second,
		ConnectTimeout:       5 * time.Second,
		RequestTimeout:       30 * time.Second,
	}
}

// Client dials local services and pools the resulting TCP connections. One Client is shared by an
// UpstreamProxyListener across all accepted overlay streams; only the device observes whether the
// local service is healthy and can drop pool entries when the local process closes its socket.
type Client struct {
	transport *http.Transport
	client    *http.Client
	log       *zerolog.Logger
}

// New builds a Client from cfg.
func New(cfg Config, log *zerolog.Logger) *Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 nil, // never honor HTTP_PROXY when dialing the user's own local service
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.KeepAliveConnections,
		MaxIdleConnsPerHost:   cfg.KeepAliveConnections,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     false, // the local service sees HTTP/1.1, matching the overlay wire format
	}

	return &Client{
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		log:       log,
	}
}

// Do executes req against the local service and returns its response. The caller (typically
// upstreamproxy.Listener) owns closing resp.Body. A non-nil error here is a §7 UpstreamError:
// connection refused, DNS failure, or timeout reaching the local service.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("localclient: request to %s failed: %w", req.URL, err)
	}
	return resp, nil
}

// CloseIdleConnections drops pooled idle connections, used when a local service is known to have
// gone away (e.g. the configured port stops accepting connections).
func (c *Client) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// Shutdown is an alias for CloseIdleConnections kept for symmetry with other components' teardown
// methods; the Client itself holds no other resources.
func (c *Client) Shutdown(_ context.Context) {
	c.CloseIdleConnections()
}
