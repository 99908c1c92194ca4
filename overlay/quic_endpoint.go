package overlay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/datum-cloud/datum-connect/discovery"
	"github.com/datum-cloud/datum-connect/nodeid"
)

// idleTimeoutError mirrors quic-go's own sentinel so write timeouts caused by a genuinely idle
// peer aren't logged as noisily as other write failures.
var idleTimeoutError = quic.IdleTimeoutError{}

// QuicEndpoint is the production Endpoint, built directly on github.com/quic-go/quic-go. It owns
// one UDP-bound QUIC listener used to accept inbound connections; outbound connections are dialed
// with quic.DialAddr, which binds a separate UDP socket for each dial.
type QuicEndpoint struct {
	localID      nodeid.NodeId
	tlsConfig    *tls.Config
	quicConfig   *quic.Config
	listener     *quic.Listener
	discovery    discovery.Discovery
	dialTimeout  time.Duration
	writeTimeout time.Duration
	log          *zerolog.Logger
}

// NewQuicEndpoint binds udpAddr and starts accepting QUIC connections offering the ALPN this
// module speaks. tlsConfig's NextProtos is overwritten to enforce that.
func NewQuicEndpoint(
	localID nodeid.NodeId,
	udpAddr string,
	tlsConfig *tls.Config,
	quicConfig *quic.Config,
	disc discovery.Discovery,
	dialTimeout time.Duration,
	writeTimeout time.Duration,
	log *zerolog.Logger,
) (*QuicEndpoint, error) {
	cfg := tlsConfig.Clone()
	cfg.NextProtos = []string{ALPN}

	listener, err := quic.ListenAddr(udpAddr, cfg, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("overlay: failed to listen on %s: %w", udpAddr, err)
	}

	return &QuicEndpoint{
		localID:      localID,
		tlsConfig:    cfg,
		quicConfig:   quicConfig,
		listener:     listener,
		discovery:    disc,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		log:          log,
	}, nil
}

func (e *QuicEndpoint) LocalNodeID() nodeid.NodeId {
	return e.localID
}

// Connect resolves target via the Discovery collaborator and dials it. It tries the home relay
// first when present, falling back to direct addresses in order; the first that completes a QUIC
// handshake wins. No retry is attempted beyond this single pass across candidates, consistent
// with the no-retry policy for RequestForwarder: a failed Connect surfaces as ConnectError and
// the caller (ConnectionManager) does not retry within one call.
func (e *QuicEndpoint) Connect(ctx context.Context, target nodeid.NodeId) (Connection, error) {
	details, err := e.discovery.Resolve(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("overlay: resolving node %s: %w", target, err)
	}

	candidates := details.DirectAddrs
	if details.HomeRelay != "" {
		candidates = append([]string{details.HomeRelay}, candidates...)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("overlay: node %s has no reachable addresses", target)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()

	var lastErr error
	for _, addr := range candidates {
		conn, err := quic.DialAddr(dialCtx, addr, e.tlsConfig, e.quicConfig)
		if err != nil {
			lastErr = err
			continue
		}
		return &quicConnection{conn: conn, remote: target, writeTimeout: e.writeTimeout, log: e.log}, nil
	}
	return nil, fmt.Errorf("overlay: could not reach node %s: %w", target, lastErr)
}

func (e *QuicEndpoint) Accept(ctx context.Context) (Connection, error) {
	conn, err := e.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: accept failed: %w", err)
	}
	remote, err := remoteNodeIDFromConnectionState(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, fmt.Errorf("overlay: rejecting inbound connection: %w", err)
	}
	return &quicConnection{conn: conn, remote: remote, writeTimeout: e.writeTimeout, log: e.log}, nil
}

// Close closes the listener. Connections made by Connect use their own sockets and are not
// closed by it; they have to be closed individually.
func (e *QuicEndpoint) Close() error {
	return e.listener.Close()
}

// quicConnection adapts a quic.Connection to the Connection contract.
type quicConnection struct {
	conn         quic.Connection
	remote       nodeid.NodeId
	writeTimeout time.Duration
	log          *zerolog.Logger
}

func (c *quicConnection) RemoteNodeID() nodeid.NodeId {
	return c.remote
}

func (c *quicConnection) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: open stream: %w", err)
	}
	return newSafeStream(s, c.writeTimeout, c.log), nil
}

func (c *quicConnection) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("overlay: accept stream: %w", err)
	}
	return newSafeStream(s, c.writeTimeout, c.log), nil
}

func (c *quicConnection) Closed() <-chan struct{} {
	return c.conn.Context().Done()
}

func (c *quicConnection) Close() error {
	return c.conn.CloseWithError(0, "")
}

// safeStream wraps a quic.Stream with a write deadline so a stalled peer cannot block a forwarder
// goroutine forever, and makes Close/CloseWrite safe to call concurrently with an in-flight
// Write. Grounded directly on quic.SafeStreamCloser.
type safeStream struct {
	lock         sync.Mutex
	stream       quic.Stream
	writeTimeout time.Duration
	log          *zerolog.Logger
	closing      atomic.Bool
}

func newSafeStream(stream quic.Stream, writeTimeout time.Duration, log *zerolog.Logger) *safeStream {
	return &safeStream{stream: stream, writeTimeout: writeTimeout, log: log}
}

func (s *safeStream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *safeStream) Write(p []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.writeTimeout > 0 {
		if err := s.stream.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			s.log.Error().Err(err).Msg("failed to set write deadline for overlay stream")
		}
	}
	n, err := s.stream.Write(p)
	if err != nil {
		s.handleWriteError(err)
	}
	return n, err
}

func (s *safeStream) handleWriteError(err error) {
	if s.closing.Load() {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		if !errors.Is(netErr, &idleTimeoutError) {
			s.log.Error().Err(netErr).Msg("closing overlay stream after write timeout")
		}
		s.stream.CancelWrite(0)
	}
}

func (s *safeStream) CloseWrite() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	// quic-go's Stream.Close only closes the write direction, delivering EOF to the peer's
	// reader; the read side of this stream remains usable afterward.
	return s.stream.Close()
}

func (s *safeStream) Close() error {
	s.closing.Store(true)
	_ = s.stream.SetWriteDeadline(time.Now())

	s.lock.Lock()
	defer s.lock.Unlock()

	s.stream.CancelRead(0)
	return s.stream.Close()
}

func (s *safeStream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}
