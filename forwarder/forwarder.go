// Package forwarder implements the RequestForwarder (spec.md §4.4), the critical path: for each
// inbound HTTP/2 request it acquires a cached overlay connection, opens a fresh stream, writes an
// absolute-form HTTP/1.1 request, and streams the response back. Grounded on proxy.Proxy's
// ProxyHTTP/proxyHTTPRequest shape, generalized from cloudflared's ingress-rule dispatch to this
// spec's connection-manager + overlay-stream model.
package forwarder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/framer"
	"github.com/datum-cloud/datum-connect/metricsreport"
	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/overlay"
	"github.com/datum-cloud/datum-connect/proxyerr"
	"github.com/datum-cloud/datum-connect/router"
)

// RequestIDHeader carries a per-request correlation id across the overlay stream so logs on both
// the Gateway and the device can be joined for a single forwarded request.
const RequestIDHeader = "Datum-Request-Id"

// ConnectionManager is the subset of connmgr.Manager the forwarder depends on.
type ConnectionManager interface {
	Get(ctx context.Context, id nodeid.NodeId) (overlay.Connection, error)
}

// Config holds the per-request timeouts spec.md §5 names.
type Config struct {
	// RequestTimeout bounds the whole forwarded exchange, from the inbound request until the
	// response body has been relayed. It is not lifted once response headers arrive, so a
	// response body still streaming when it expires is cut off.
	RequestTimeout time.Duration
}

// DefaultConfig matches spec.md §5's "Full request (inbound -> response headers): 30s".
func DefaultConfig() Config {
	return Config{RequestTimeout: 30 * time.Second}
}

// Forwarder implements spec.md §4.4.
type Forwarder struct {
	router  *router.Router
	conns   ConnectionManager
	metrics *metricsreport.Registry
	cfg     Config
	log     *zerolog.Logger
}

// New builds a Forwarder.
func New(r *router.Router, conns ConnectionManager, metrics *metricsreport.Registry, cfg Config, log *zerolog.Logger) *Forwarder {
	return &Forwarder{router: r, conns: conns, metrics: metrics, cfg: cfg, log: log}
}

// ServeHTTP implements http.Handler so a Forwarder can be mounted directly on the Gateway's
// inbound HTTP/2 listener.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	outcome := f.forward(w, req)
	f.metrics.RequestsByOutcome.WithLabelValues(string(outcome)).Inc()
	if outcome == metricsreport.OutcomeOK {
		f.metrics.EndToEndLatency.Observe(time.Since(start).Seconds())
	}
}

func (f *Forwarder) forward(w http.ResponseWriter, req *http.Request) metricsreport.Outcome {
	key, err := f.router.Route(req)
	if err != nil {
		return f.writeRoutingError(w, err)
	}

	ctx, cancel := context.WithTimeout(req.Context(), f.cfg.RequestTimeout)
	defer cancel()

	conn, err := f.conns.Get(ctx, key.NodeID)
	if err != nil {
		f.writeError(w, proxyerr.KindConnectError, "could not reach target device")
		return metricsreport.OutcomeBadGateway
	}

	stream, err := conn.OpenStream(ctx)
	if err != nil {
		f.writeError(w, proxyerr.KindStreamError, "could not open overlay stream")
		return metricsreport.OutcomeBadGateway
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			// Cancellation (client disconnect) or timeout: abort the stream in both
			// directions. No retry, no response to deliver.
			_ = stream.Close()
		case <-finished:
		}
	}()

	fwdReq, err := buildForwardedRequest(ctx, req, key)
	if err != nil {
		_ = stream.Close()
		f.writeError(w, proxyerr.KindBadRequest, "could not build forwarded request")
		return metricsreport.OutcomeBadRequest
	}
	requestID := uuid.NewString()
	fwdReq.Header.Set(RequestIDHeader, requestID)
	reqLog := f.log.With().Str("request_id", requestID).Str("node_id", key.NodeID.String()).Logger()

	if err := framer.WriteRequest(stream, fwdReq); err != nil {
		_ = stream.Close()
		if outcome, handled := f.handleContextError(w, ctx); handled {
			return outcome
		}
		reqLog.Debug().Err(err).Msg("forwarder: failed writing request to overlay stream")
		f.writeError(w, proxyerr.KindStreamError, "failed writing request to overlay stream")
		return metricsreport.OutcomeBadGateway
	}
	// Half-close the send side: the peer uses this as the end-of-request signal. The
	// Connection itself remains cached regardless of what happens to this stream.
	if err := stream.CloseWrite(); err != nil {
		f.writeError(w, proxyerr.KindStreamError, "failed finishing request stream")
		return metricsreport.OutcomeBadGateway
	}

	resp, err := framer.ParseResponse(bufio.NewReaderSize(stream, framer.MaxLineSize), fwdReq)
	if err != nil {
		if outcome, handled := f.handleContextError(w, ctx); handled {
			return outcome
		}
		kind := proxyerr.KindFraming
		if _, ok := err.(*framer.TruncatedError); ok {
			kind = proxyerr.KindTruncated
		}
		reqLog.Debug().Err(err).Msg("forwarder: failed parsing response from overlay stream")
		f.writeError(w, kind, "peer returned invalid or incomplete response")
		return metricsreport.OutcomeBadGateway
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	f.metrics.BytesRelayed.Observe(float64(n))
	if err != nil {
		// Headers are already on the wire; the only recourse is to abort the HTTP/2 stream
		// so the client does not receive a response it believes is complete.
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		panic(http.ErrAbortHandler)
	}

	return metricsreport.OutcomeOK
}

// buildForwardedRequest derives the absolute-form ForwardedRequest described in spec.md §3:
// scheme fixed to "http" (the overlay itself provides confidentiality and authenticity), host
// and port taken from the RoutingKey, path and query preserved from the inbound request.
func buildForwardedRequest(ctx context.Context, req *http.Request, key router.RoutingKey) (*http.Request, error) {
	target := &url.URL{
		Scheme:   "http",
		Host:     fmt.Sprintf("%s:%d", key.TargetHost, key.TargetPort),
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
	}

	fwd := req.Clone(ctx)
	fwd.URL = target
	fwd.Host = target.Host
	fwd.RequestURI = ""
	return fwd, nil
}

func (f *Forwarder) writeRoutingError(w http.ResponseWriter, err error) metricsreport.Outcome {
	kind := proxyerr.KindOf(err)
	http.Error(w, err.Error(), kind.HTTPStatus())
	if kind == proxyerr.KindNotFound {
		return metricsreport.OutcomeNotFound
	}
	return metricsreport.OutcomeBadRequest
}

func (f *Forwarder) writeError(w http.ResponseWriter, kind proxyerr.Kind, msg string) {
	http.Error(w, msg, kind.HTTPStatus())
}

// handleContextError distinguishes the per-request deadline (spec.md §7 Timeout: a 504 is
// written) from the inbound request being cancelled by the client (Cancelled: the overlay stream
// is already being reset, there is no one left to deliver a response to). The bool return
// reports whether ctx had actually ended; callers fall through to their own error handling when
// it has not.
func (f *Forwarder) handleContextError(w http.ResponseWriter, ctx context.Context) (metricsreport.Outcome, bool) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		f.writeError(w, proxyerr.KindTimeout, "timed out waiting for peer response")
		return metricsreport.OutcomeTimeout, true
	case errors.Is(ctx.Err(), context.Canceled):
		return metricsreport.OutcomeCancelled, true
	default:
		return "", false
	}
}
