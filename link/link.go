// Package link implements the Link Manager (spec §4.3): link creation,
// address loading, destruction, and the onLinkStatusChanged reaction that
// brings a Link record into existence once the transport confirms it.
//
// Manager is not internally synchronized; every method runs on the CM's
// single dispatcher goroutine (see cm.Facade), which gives the serialized
// access the original's recursive mutex provided.
package link

import (
	"fmt"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/idgen"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

// Manager owns every Link record for one composition.
type Manager struct {
	transport component.Transport
	sdk       component.SDKCallbacks
	ids       idgen.LinkIDs
	log       *log.Logger
	metrics   *metrics.Collector

	links map[types.LinkID]*types.Link
}

// New constructs an empty Link Manager.
func New(transport component.Transport, sdk component.SDKCallbacks, logger *log.Logger, m *metrics.Collector) *Manager {
	return &Manager{
		transport: transport,
		sdk:       sdk,
		ids:       idgen.NewLinkIDs(),
		log:       logger,
		metrics:   m,
		links:     make(map[types.LinkID]*types.Link),
	}
}

// Get returns the Link record for id, if one exists.
func (m *Manager) Get(id types.LinkID) (*types.Link, bool) {
	l, ok := m.links[id]
	return l, ok
}

// CreateLink allocates a link id via the SDK and asks the transport to
// create it; the resulting Link record is materialized later, when
// onLinkStatusChanged reports CREATED or LOADED.
func (m *Manager) CreateLink(channelGID types.ChannelGID) (types.LinkID, error) {
	id := m.sdk.GenerateLinkID(channelGID)
	if err := m.transport.CreateLink(id, channelGID); err != nil {
		return "", fmt.Errorf("link: create %s: %w", id, err)
	}
	return id, nil
}

// LoadLinkAddress is CreateLink's analog for a single pre-known address.
func (m *Manager) LoadLinkAddress(channelGID types.ChannelGID, address string) (types.LinkID, error) {
	id := m.sdk.GenerateLinkID(channelGID)
	if err := m.transport.LoadLinkAddress(id, channelGID, address); err != nil {
		return "", fmt.Errorf("link: load address for %s: %w", id, err)
	}
	return id, nil
}

// LoadLinkAddresses is CreateLink's analog for multiple pre-known addresses.
func (m *Manager) LoadLinkAddresses(channelGID types.ChannelGID, addresses []string) (types.LinkID, error) {
	id := m.sdk.GenerateLinkID(channelGID)
	if err := m.transport.LoadLinkAddresses(id, channelGID, addresses); err != nil {
		return "", fmt.Errorf("link: load addresses for %s: %w", id, err)
	}
	return id, nil
}

// CreateLinkFromAddress is CreateLink's analog when the caller supplies the
// address directly rather than relying on discovery.
func (m *Manager) CreateLinkFromAddress(channelGID types.ChannelGID, address string) (types.LinkID, error) {
	id := m.sdk.GenerateLinkID(channelGID)
	if err := m.transport.CreateLinkFromAddress(id, channelGID, address); err != nil {
		return "", fmt.Errorf("link: create from address for %s: %w", id, err)
	}
	return id, nil
}

// DestroyLink asks the transport to tear a link down. The Link record
// itself is removed only once onLinkStatusChanged reports DESTROYED.
func (m *Manager) DestroyLink(id types.LinkID) error {
	if err := m.transport.DestroyLink(id); err != nil {
		return fmt.Errorf("link: destroy %s: %w", id, err)
	}
	return nil
}

// OnLinkStatusChanged reacts to a transport link-status callback. On
// CREATED/LOADED it fetches properties, adds the link to the user-model,
// and materializes a fresh Link record with a new random producer id. On
// DESTROYED it removes the Link record at once. The status is always
// forwarded to the SDK regardless of outcome.
func (m *Manager) OnLinkStatusChanged(id types.LinkID, status types.LinkStatus, addLink func(linkID types.LinkID, params string) error) error {
	var properties string
	defer func() { m.sdk.OnLinkStatusChanged(id, status, properties) }()

	switch status {
	case types.LinkCreated, types.LinkLoaded:
		var err error
		properties, err = m.transport.LinkProperties(id)
		if err != nil {
			return fmt.Errorf("link: properties for %s: %w", id, err)
		}
		if addLink != nil {
			if err := addLink(id, properties); err != nil {
				return fmt.Errorf("link: add %s to user-model: %w", id, err)
			}
		}
		producerID, err := idgen.NewProducerID()
		if err != nil {
			return fmt.Errorf("link: producer id for %s: %w", id, err)
		}
		m.links[id] = types.NewLink(id, properties, producerID)
		m.metrics.IncLinkCreated()
		m.log.Info("link materialized", map[string]any{"link_id": string(id), "status": status.String()})
	case types.LinkDestroyed:
		delete(m.links, id)
		m.metrics.IncLinkDestroyed()
		m.log.Info("link removed", map[string]any{"link_id": string(id)})
	}
	return nil
}

// Remove deletes the Link record without notifying the SDK.
func (m *Manager) Remove(id types.LinkID) {
	delete(m.links, id)
}

// All returns every known link id, for diagnostic use (e.g. the flight
// recorder snapshot).
func (m *Manager) All() []types.LinkID {
	ids := make([]types.LinkID, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids
}
