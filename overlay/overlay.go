// Package overlay wraps the QUIC-based peer-to-peer transport behind the minimal contract the
// rest of this module needs: connect to a NodeId, open a bidirectional stream, accept incoming
// streams. The overlay itself (NAT traversal, relay selection, path discovery) is treated as an
// opaque dependency; this package only shapes quic-go's API to the NodeId-keyed model in spec.md.
package overlay

import (
	"context"
	"io"
	"time"

	"github.com/datum-cloud/datum-connect/nodeid"
)

// ALPN is the fixed protocol identifier negotiated on every overlay connection. Peers offering
// any other ALPN are refused.
const ALPN = "datum-connect/1"

// Stream is a bidirectional ordered byte pair carved out of a Connection. It is cheap to open
// within a live Connection and is never itself cached or reused across requests.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite half-closes the send side (sends a FIN) while leaving the receive side open.
	// The peer observes this as EOF after reading any bytes already in flight. This is the
	// "finish" signal used once a request body has been fully written.
	CloseWrite() error

	// Close ends the stream: the receive side is cancelled, a Write blocked on the peer is
	// released with an error, and the send side is closed. The send side is closed with a FIN,
	// not reset, so bytes already written are still delivered. Used on cancellation or
	// unrecoverable I/O error, and safe to call after CloseWrite once a response is done.
	Close() error

	SetDeadline(t time.Time) error
}

// Connection is an open overlay session to exactly one NodeId, shared by all concurrent
// forwarders targeting that peer.
type Connection interface {
	// RemoteNodeID returns the NodeId of the peer at the other end of this connection.
	RemoteNodeID() nodeid.NodeId

	// OpenStream carves a new Stream out of this connection. On a live connection this never
	// performs a network round-trip; it is a local allocation of a new stream id.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream waits for the peer to open a new stream.
	AcceptStream(ctx context.Context) (Stream, error)

	// Closed returns a channel that is closed once the connection is observed closed, by
	// either side or by idle timeout. Used by the connection manager's eviction observer.
	Closed() <-chan struct{}

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Endpoint is the overlay's local handle: it owns the local key pair and bound UDP sockets.
// It is a process-wide singleton, created at startup and torn down at shutdown.
type Endpoint interface {
	// LocalNodeID returns this endpoint's own NodeId.
	LocalNodeID() nodeid.NodeId

	// Connect dials a peer by NodeId, resolving its reachable addresses via the configured
	// Discovery collaborator. It returns an error (ConnectError in the caller's taxonomy) on
	// resolution or handshake failure. It makes a single dialing pass and does not retry the
	// handshake; whether the address lookup is retried is up to the Discovery implementation.
	Connect(ctx context.Context, target nodeid.NodeId) (Connection, error)

	// Accept waits for an inbound connection from any peer.
	Accept(ctx context.Context) (Connection, error)

	// Close shuts down the endpoint and the sockets it owns. Whether Connections obtained
	// from it are closed too depends on the implementation.
	Close() error
}
