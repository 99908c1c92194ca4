// Package router implements the GatewayRouter (spec.md §4.3): deriving a RoutingKey from an
// inbound HTTP/2 request via one of three configurable strategies. Grounded on ingress.Ingress's
// rule-matching shape and connection/header.go's metadata-header handling, generalized from
// cloudflared's hostname-to-service mapping to this spec's node/host/port triple.
package router

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/proxyerr"
)

// Metadata header contract (spec.md §6).
const (
	HeaderNodeID      = "datum-node-id"
	HeaderTargetHost  = "datum-target-host"
	HeaderTargetPort  = "datum-target-port"
	HeaderTargetProto = "datum-target-proto"

	// ForwardEndpointHeader carries the target node id for legacy CLI clients using CONNECT
	// pass-through (strategy 3).
	ForwardEndpointHeader = "x-iroh-endpoint-id"
)

// TargetProto is the only value spec.md's MVP accepts for datum-target-proto.
const TargetProto = "tcp"

// RoutingKey is the validated, immutable outcome of routing one inbound request.
type RoutingKey struct {
	NodeID      nodeid.NodeId
	TargetHost  string
	TargetPort  uint16
	TargetProto string
}

// Mode selects which of the three routing strategies in spec.md §4.3 is active. Exactly one is
// active per Router instance.
type Mode int

const (
	// ModeMetadata reads datum-* headers attached by an upstream L7 policy.
	ModeMetadata Mode = iota
	// ModeCodename resolves the leftmost Host label via a Directory collaborator.
	ModeCodename
	// ModeForward accepts legacy CLI clients' CONNECT + x-iroh-endpoint-id pass-through.
	ModeForward
)

// Directory resolves a human-readable codename to the triple it addresses. It is the injected
// collaborator strategy 2 depends on (out of scope per spec.md §1: control-plane CRUD populates
// it, this package only consumes it).
type Directory interface {
	Resolve(codename string) (id nodeid.NodeId, host string, port uint16, ok bool)
}

// Router derives a RoutingKey from an inbound request using its configured Mode.
type Router struct {
	mode      Mode
	directory Directory
	log       *zerolog.Logger
}

// New builds a Router. directory may be nil unless mode is ModeCodename.
func New(mode Mode, directory Directory, log *zerolog.Logger) *Router {
	return &Router{mode: mode, directory: directory, log: log}
}

// Route derives a RoutingKey from req, or a *proxyerr.Error (KindBadRequest or KindNotFound) that
// the caller should turn directly into an HTTP error response without touching the overlay.
func (r *Router) Route(req *http.Request) (RoutingKey, error) {
	switch r.mode {
	case ModeMetadata:
		return r.routeMetadata(req)
	case ModeCodename:
		return r.routeCodename(req)
	case ModeForward:
		return r.routeForward(req)
	default:
		return RoutingKey{}, proxyerr.New(proxyerr.KindBadRequest, "router: no routing mode configured")
	}
}

func (r *Router) routeMetadata(req *http.Request) (RoutingKey, error) {
	rawID := req.Header.Get(HeaderNodeID)
	rawHost := req.Header.Get(HeaderTargetHost)
	rawPort := req.Header.Get(HeaderTargetPort)
	rawProto := req.Header.Get(HeaderTargetProto)

	if rawID == "" || rawHost == "" || rawPort == "" || rawProto == "" {
		return RoutingKey{}, proxyerr.New(proxyerr.KindBadRequest, "router: missing required datum-* metadata header")
	}

	id, err := nodeid.Parse(rawID)
	if err != nil {
		return RoutingKey{}, proxyerr.Wrap(proxyerr.KindBadRequest, err, "router: invalid "+HeaderNodeID)
	}

	port, err := parsePort(rawPort)
	if err != nil {
		return RoutingKey{}, proxyerr.Wrap(proxyerr.KindBadRequest, err, "router: invalid "+HeaderTargetPort)
	}

	if rawProto != TargetProto {
		return RoutingKey{}, proxyerr.New(proxyerr.KindBadRequest, "router: unsupported "+HeaderTargetProto+" "+rawProto)
	}

	return RoutingKey{NodeID: id, TargetHost: rawHost, TargetPort: port, TargetProto: TargetProto}, nil
}

func (r *Router) routeCodename(req *http.Request) (RoutingKey, error) {
	if r.directory == nil {
		return RoutingKey{}, proxyerr.New(proxyerr.KindNotFound, "router: no directory configured for codename routing")
	}

	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	labels := strings.SplitN(host, ".", 2)
	codename := labels[0]
	if codename == "" {
		return RoutingKey{}, proxyerr.New(proxyerr.KindNotFound, "router: empty codename in Host header")
	}

	id, targetHost, targetPort, ok := r.directory.Resolve(codename)
	if !ok {
		return RoutingKey{}, proxyerr.New(proxyerr.KindNotFound, "router: unknown codename "+codename)
	}
	return RoutingKey{NodeID: id, TargetHost: targetHost, TargetPort: targetPort, TargetProto: TargetProto}, nil
}

func (r *Router) routeForward(req *http.Request) (RoutingKey, error) {
	if req.Method != http.MethodConnect {
		return RoutingKey{}, proxyerr.New(proxyerr.KindBadRequest, "router: forward mode requires CONNECT")
	}

	rawID := req.Header.Get(ForwardEndpointHeader)
	if rawID == "" {
		return RoutingKey{}, proxyerr.New(proxyerr.KindBadRequest, "router: missing "+ForwardEndpointHeader)
	}
	id, err := nodeid.Parse(rawID)
	if err != nil {
		return RoutingKey{}, proxyerr.Wrap(proxyerr.KindBadRequest, err, "router: invalid "+ForwardEndpointHeader)
	}

	host, portStr, err := net.SplitHostPort(req.Host)
	if err != nil {
		return RoutingKey{}, proxyerr.Wrap(proxyerr.KindBadRequest, err, "router: CONNECT target must be host:port")
	}
	port, err := parsePort(portStr)
	if err != nil {
		return RoutingKey{}, proxyerr.Wrap(proxyerr.KindBadRequest, err, "router: invalid CONNECT port")
	}

	return RoutingKey{NodeID: id, TargetHost: host, TargetPort: port, TargetProto: TargetProto}, nil
}

func parsePort(raw string) (uint16, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 || n > 65535 {
		return 0, strconv.ErrRange
	}
	return uint16(n), nil
}
