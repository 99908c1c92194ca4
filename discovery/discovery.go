// Package discovery resolves a NodeId to a set of reachable network addresses and a relay hint,
// the out-of-band mechanism (DNS TXT records, per spec.md §6) by which the overlay locates peers.
// This package is opaque to the core proxying engine (§1); only its contract and a DNS-backed
// implementation live here.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/retry"
)

// maxResolveRetries bounds the exponential backoff DNSDiscovery applies to a transient lookup
// failure (timeout, SERVFAIL, truncated resolver response) before giving up.
const maxResolveRetries = 3

// ConnectionDetails describes how a peer might be reached: an optional relay to rendezvous
// through and zero or more addresses to attempt direct connection against.
type ConnectionDetails struct {
	HomeRelay   string
	DirectAddrs []string
}

// Discovery resolves a NodeId to ConnectionDetails. Implementations are free to cache, to race
// multiple sources, or to consult a static table; the overlay only depends on this contract.
type Discovery interface {
	Resolve(ctx context.Context, id nodeid.NodeId) (ConnectionDetails, error)
}

// Publisher makes this process's own reachability information discoverable by others, typically
// by writing it into the origin zone that a DNSDiscovery resolver reads from.
type Publisher interface {
	Publish(ctx context.Context, id nodeid.NodeId, details ConnectionDetails) error
}

// txtRecordPrefix namespaces the TXT record subdomain a NodeId's discovery record lives under,
// e.g. "<zbase32-nodeid>.nodes.<origin>".
const txtRecordPrefix = "nodes"

// DNSDiscovery resolves NodeIds via DNS TXT lookups against a configured origin zone, mirroring
// how cloudflared's tunneldns package issues DNS queries against a configurable resolver.
type DNSDiscovery struct {
	origin   string
	resolver string
	client   *dns.Client
	timeout  time.Duration
	log      *zerolog.Logger
}

// NewDNSDiscovery builds a DNSDiscovery that queries resolverAddr (host:port) for TXT records
// under origin.
func NewDNSDiscovery(origin, resolverAddr string, timeout time.Duration, log *zerolog.Logger) *DNSDiscovery {
	return &DNSDiscovery{
		origin:   strings.TrimSuffix(origin, "."),
		resolver: resolverAddr,
		client:   &dns.Client{Timeout: timeout},
		timeout:  timeout,
		log:      log,
	}
}

// Resolve looks up "<zbase32-nodeid>.nodes.<origin>" TXT records and parses them into
// ConnectionDetails. TXT records are expected in the form "relay=<addr>" or "addr=<host:port>",
// one attribute per TXT string, possibly split across multiple strings in one record. A failed
// lookup is retried with exponential backoff before the error is returned to the caller.
func (d *DNSDiscovery) Resolve(ctx context.Context, id nodeid.NodeId) (ConnectionDetails, error) {
	backoff := retry.BackoffHandler{MaxRetries: maxResolveRetries, BaseTime: 200 * time.Millisecond}

	var lastErr error
	for {
		details, err := d.resolveOnce(ctx, id)
		if err == nil {
			return details, nil
		}
		lastErr = err
		if !backoff.Backoff(ctx) {
			return ConnectionDetails{}, lastErr
		}
		d.log.Debug().Err(err).Str("node_id", id.String()).Msg("discovery: retrying TXT lookup")
	}
}

func (d *DNSDiscovery) resolveOnce(ctx context.Context, id nodeid.NodeId) (ConnectionDetails, error) {
	fqdn := fmt.Sprintf("%s.%s.%s.", id.ZBase32(), txtRecordPrefix, d.origin)

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	reply, _, err := d.client.ExchangeContext(ctx, msg, d.resolver)
	if err != nil {
		return ConnectionDetails{}, errors.Wrapf(err, "discovery: TXT lookup for %s failed", fqdn)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return ConnectionDetails{}, fmt.Errorf("discovery: TXT lookup for %s returned rcode %d", fqdn, reply.Rcode)
	}

	details := parseTXTRecords(reply.Answer)
	if details.HomeRelay == "" && len(details.DirectAddrs) == 0 {
		return ConnectionDetails{}, fmt.Errorf("discovery: no usable records found for %s", fqdn)
	}

	d.log.Debug().Str("node_id", id.String()).Strs("direct_addrs", details.DirectAddrs).
		Str("home_relay", details.HomeRelay).Msg("resolved node via DNS")

	return details, nil
}

// parseTXTRecords extracts relay= and addr= attributes from a DNS answer section. Unknown keys
// and non-TXT records are ignored.
func parseTXTRecords(answer []dns.RR) ConnectionDetails {
	var details ConnectionDetails
	for _, rr := range answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, attr := range txt.Txt {
			key, value, found := strings.Cut(attr, "=")
			if !found {
				continue
			}
			switch key {
			case "relay":
				details.HomeRelay = value
			case "addr":
				details.DirectAddrs = append(details.DirectAddrs, value)
			}
		}
	}
	return details
}

// Static is a fixed-table Discovery useful for tests and for single-peer deployments where DNS
// publication is unnecessary.
type Static struct {
	entries map[nodeid.NodeId]ConnectionDetails
}

// NewStatic builds a Static discovery from a pre-populated map.
func NewStatic(entries map[nodeid.NodeId]ConnectionDetails) *Static {
	return &Static{entries: entries}
}

func (s *Static) Resolve(_ context.Context, id nodeid.NodeId) (ConnectionDetails, error) {
	details, ok := s.entries[id]
	if !ok {
		return ConnectionDetails{}, fmt.Errorf("discovery: no static entry for node %s", id)
	}
	return details, nil
}
