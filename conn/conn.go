// Package conn implements the Connection Manager (spec §4.4): opening and
// closing connections against an existing link, and reporting their
// status to the SDK.
package conn

import (
	"fmt"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/idgen"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

// Manager owns every Connection record for one composition.
type Manager struct {
	links   *link.Manager
	sdk     component.SDKCallbacks
	ids     idgen.ConnectionIDs
	log     *log.Logger
	metrics *metrics.Collector

	conns map[types.ConnectionID]*types.Connection
}

// New constructs an empty Connection Manager bound to a Link Manager.
func New(links *link.Manager, sdk component.SDKCallbacks, logger *log.Logger, m *metrics.Collector) *Manager {
	return &Manager{
		links:   links,
		sdk:     sdk,
		ids:     idgen.NewConnectionIDs(),
		log:     logger,
		metrics: m,
		conns:   make(map[types.ConnectionID]*types.Connection),
	}
}

// OpenConnection generates a connection id, associates it with linkID, and
// notifies the SDK CONNECTION_OPEN. The notification carries the handle,
// connection id and status only; the link's properties are not passed.
// linkHints, linkType, and sendTimeout are accepted but not interpreted.
func (m *Manager) OpenConnection(handle uint64, linkType string, linkID types.LinkID, linkHints string, sendTimeout int) (types.ConnectionID, error) {
	l, ok := m.links.Get(linkID)
	if !ok {
		return "", fmt.Errorf("conn: open: missing link %s", linkID)
	}

	id := m.sdk.GenerateConnectionID(linkID)
	m.conns[id] = &types.Connection{ID: id, LinkID: linkID}
	l.Connections[id] = struct{}{}

	m.sdk.OnConnectionStatusChanged(handle, id, types.ConnectionOpen)
	m.metrics.IncConnectionOpened()
	m.log.Info("connection opened", map[string]any{"connection_id": string(id), "link_id": string(linkID)})
	return id, nil
}

// CloseConnection removes the mapping, disassociates the connection from
// its link, and notifies CONNECTION_CLOSED.
func (m *Manager) CloseConnection(handle uint64, connID types.ConnectionID) error {
	c, ok := m.conns[connID]
	if !ok {
		return fmt.Errorf("conn: close: missing connection %s", connID)
	}

	delete(m.conns, connID)
	if l, ok := m.links.Get(c.LinkID); ok {
		delete(l.Connections, connID)
	}

	m.sdk.OnConnectionStatusChanged(handle, connID, types.ConnectionClosed)
	m.metrics.IncConnectionClosed()
	m.log.Info("connection closed", map[string]any{"connection_id": string(connID)})
	return nil
}

// Get returns the Connection record for id, if one exists.
func (m *Manager) Get(id types.ConnectionID) (*types.Connection, bool) {
	c, ok := m.conns[id]
	return c, ok
}

// CloseAllForLink closes every connection on linkID, used by the facade
// when cascading a link DESTROYED status (spec §4.3).
func (m *Manager) CloseAllForLink(handle uint64, linkID types.LinkID) {
	for id, c := range m.conns {
		if c.LinkID == linkID {
			delete(m.conns, id)
			m.sdk.OnConnectionStatusChanged(handle, id, types.ConnectionClosed)
			m.metrics.IncConnectionClosed()
		}
	}
}

// ConnectionIDsForLink returns the connection ids currently open on linkID,
// in no defined order.
func (m *Manager) ConnectionIDsForLink(linkID types.LinkID) []types.ConnectionID {
	l, ok := m.links.Get(linkID)
	if !ok {
		return nil
	}
	ids := make([]types.ConnectionID, 0, len(l.Connections))
	for id := range l.Connections {
		ids = append(ids, id)
	}
	return ids
}
