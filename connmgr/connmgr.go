// Package connmgr implements the ConnectionManager (spec.md §4.2): a node-id keyed cache of live
// overlay connections with single-flight connect collapsing and background eviction on close.
// Grounded on connection/manager.go's EdgeManager/edgeManagerState (RWMutex-protected map, one
// connection created/removed at a time).
package connmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/datum-cloud/datum-connect/nodeid"
	"github.com/datum-cloud/datum-connect/overlay"
	"github.com/datum-cloud/datum-connect/proxyerr"
)

// Connector dials a fresh overlay connection to id. It is usually overlay.Endpoint.Connect;
// abstracted here so tests can substitute a fake without standing up real QUIC sockets.
type Connector func(ctx context.Context, id nodeid.NodeId) (overlay.Connection, error)

// Manager maintains the NodeId -> live Connection mapping. At most one live Connection is kept
// per NodeId, and at most one connect() is ever in flight for a given NodeId at an instant.
type Manager struct {
	mu      sync.RWMutex
	conns   map[nodeid.NodeId]overlay.Connection
	connect Connector
	group   singleflight.Group
	log     *zerolog.Logger
}

// New builds a Manager backed by connect.
func New(connect Connector, log *zerolog.Logger) *Manager {
	return &Manager{
		conns:   make(map[nodeid.NodeId]overlay.Connection),
		connect: connect,
		log:     log,
	}
}

// Get returns a live connection to id, creating one if none is cached or the cached one has been
// observed closed. Concurrent Gets for the same cold id collapse into a single connect() call.
func (m *Manager) Get(ctx context.Context, id nodeid.NodeId) (overlay.Connection, error) {
	if conn, ok := m.liveEntry(id); ok {
		return conn, nil
	}

	result, err, _ := m.group.Do(id.String(), func() (any, error) {
		// Double-checked: another caller may have finished connecting while we queued for
		// the singleflight group's internal lock.
		if conn, ok := m.liveEntry(id); ok {
			return conn, nil
		}

		conn, err := m.connect(ctx, id)
		if err != nil {
			return nil, proxyerr.Wrap(proxyerr.KindConnectError, err, fmt.Sprintf("connect to node %s failed", id))
		}

		m.mu.Lock()
		m.conns[id] = conn
		m.mu.Unlock()

		go m.watchForClose(id, conn)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(overlay.Connection), nil
}

// Evict removes id's mapping without closing the underlying connection; the connection closes
// once every holder of it has finished using it.
func (m *Manager) Evict(id nodeid.NodeId) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

// Len reports the number of cached connections, exposed for the cached-connections gauge (§6).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Shutdown closes every cached connection. Called once, at process teardown, after the Endpoint
// it depends on is otherwise quiescing.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, conn := range m.conns {
		_ = conn.Close()
		delete(m.conns, id)
	}
}

func (m *Manager) liveEntry(id nodeid.NodeId) (overlay.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, false
	}
	select {
	case <-conn.Closed():
		return nil, false
	default:
		return conn, true
	}
}

// watchForClose removes conn from the cache as soon as it closes, so the next Get reconnects
// instead of handing out a dead connection. This is the manager's background observer (§4.2).
func (m *Manager) watchForClose(id nodeid.NodeId, conn overlay.Connection) {
	<-conn.Closed()
	m.mu.Lock()
	if m.conns[id] == conn {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	m.log.Debug().Str("node_id", id.String()).Msg("evicted closed overlay connection")
}
