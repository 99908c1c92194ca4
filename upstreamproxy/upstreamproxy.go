// Package upstreamproxy implements the UpstreamProxyListener (spec.md §4.5): the device-side half
// of the tunnel. It accepts overlay connections from one or more Gateways, accepts streams on each,
// parses the HTTP/1.1 request framed on the stream, dispatches it to the local service via
// localclient.Client, and frames the response back. Grounded on HTTP2Connection.Serve's
// accept-then-dispatch shape and quicConnection.acceptStream/runStream's errgroup-and-per-stream-
// goroutine pattern.
package upstreamproxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/datum-cloud/datum-connect/framer"
	"github.com/datum-cloud/datum-connect/localclient"
	"github.com/datum-cloud/datum-connect/metricsreport"
	"github.com/datum-cloud/datum-connect/overlay"
)

// Config holds the concurrency ceiling and idle timeout spec.md §4.5 and §5 name.
type Config struct {
	// MaxConcurrentStreams caps streams served at once across all accepted connections.
	MaxConcurrentStreams int
	// IdleReadTimeout bounds how long a stream may sit without the request being fully framed.
	IdleReadTimeout time.Duration
	// LocalServiceAddr, if set, overrides the host:port every dispatched request is dialed
	// against, regardless of the authority the Gateway framed the request with. A device never
	// trusts a remote peer to pick its dial target; it only trusts its own configuration.
	LocalServiceAddr string
}

// DefaultConfig matches spec.md §5 ("UpstreamProxyListener concurrency ceiling: default 1024
// concurrent streams" and "Idle stream read: 60s").
func DefaultConfig() Config {
	return Config{MaxConcurrentStreams: 1024, IdleReadTimeout: 60 * time.Second}
}

// Listener accepts overlay connections and serves every stream opened on them.
type Listener struct {
	endpoint overlay.Endpoint
	client   *localclient.Client
	metrics  *metricsreport.Registry
	cfg      Config
	log      *zerolog.Logger
}

// New builds a Listener.
func New(endpoint overlay.Endpoint, client *localclient.Client, metrics *metricsreport.Registry, cfg Config, log *zerolog.Logger) *Listener {
	return &Listener{endpoint: endpoint, client: client, metrics: metrics, cfg: cfg, log: log}
}

// Serve accepts connections from endpoint until ctx is cancelled or Accept returns a fatal error.
func (l *Listener) Serve(ctx context.Context) error {
	sem := make(chan struct{}, l.cfg.MaxConcurrentStreams)
	group, ctx := errgroup.WithContext(ctx)

	for {
		conn, err := l.endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				break
			}
			l.log.Error().Err(err).Msg("upstreamproxy: accept failed")
			break
		}
		group.Go(func() error {
			return l.serveConnection(ctx, conn, sem)
		})
	}

	return group.Wait()
}

func (l *Listener) serveConnection(ctx context.Context, conn overlay.Connection, sem chan struct{}) error {
	defer conn.Close()
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			// The peer closed the connection, or it idled out; nothing more to serve on it.
			return nil
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = stream.Close()
			return nil
		}

		l.metrics.ActiveStreams.Inc()
		go func() {
			defer func() {
				<-sem
				l.metrics.ActiveStreams.Dec()
			}()
			l.handleStream(ctx, stream)
		}()
	}
}

func (l *Listener) handleStream(ctx context.Context, stream overlay.Stream) {
	defer stream.Close()

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(l.cfg.IdleReadTimeout)
	}
	_ = stream.SetDeadline(deadline)

	req, err := framer.ParseRequest(bufio.NewReaderSize(stream, framer.MaxLineSize))
	if err != nil {
		l.log.Debug().Err(err).Msg("upstreamproxy: failed to parse framed request")
		return
	}
	req = req.WithContext(ctx)
	// framer.ParseRequest hands back a server-side request with RequestURI set, which
	// http.Client.Do refuses, so clear it the same way forwarder.buildForwardedRequest does for
	// the Gateway's client, and dial the request's own authority over plain http.
	req.RequestURI = ""
	req.URL.Scheme = "http"
	req.URL.Host = req.Host
	if l.cfg.LocalServiceAddr != "" {
		req.URL.Host = l.cfg.LocalServiceAddr
		req.Host = l.cfg.LocalServiceAddr
	}
	streamLog := l.log.With().Str("request_id", req.Header.Get(requestIDHeader)).Logger()

	resp, err := l.client.Do(req)
	if err != nil {
		streamLog.Debug().Err(err).Str("target", req.URL.String()).Msg("upstreamproxy: local dispatch failed")
		resp = badGatewayResponse(err)
	} else {
		defer resp.Body.Close()
	}

	l.metrics.DeviceLocalRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	if err := framer.WriteResponse(stream, resp); err != nil {
		streamLog.Debug().Err(err).Msg("upstreamproxy: failed to write framed response")
		return
	}
	_ = stream.CloseWrite()
}

// requestIDHeader mirrors forwarder.RequestIDHeader without importing the forwarder package: the
// device only reads this header for log correlation, it never generates or requires it.
const requestIDHeader = "Datum-Request-Id"

// badGatewayResponse synthesizes the §7 UpstreamError response returned when the local service
// could not be reached at all (connection refused, DNS failure, local timeout).
func badGatewayResponse(cause error) *http.Response {
	msg := "upstream: " + cause.Error()
	return &http.Response{
		Status:        strconv.Itoa(http.StatusBadGateway) + " " + http.StatusText(http.StatusBadGateway),
		StatusCode:    http.StatusBadGateway,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(msg)),
		ContentLength: int64(len(msg)),
	}
}

func statusClass(code int) string {
	switch code / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}
