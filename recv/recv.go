// Package recv implements the Receive Manager (spec §4.7): driving
// decoders for inbound bytes, re-framing them per EncodingMode, and
// tracking per-producer fragment continuity before delivering
// reassembled packages to the SDK.
package recv

import (
	"fmt"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/ipc"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

// singleProducer is the Receive-state key used in SINGLE/BATCH/
// FRAGMENT_SINGLE_PRODUCER modes, which carry no producer id on the
// wire; every link behaves as if it has exactly one producer.
var singleProducer types.ProducerID

type pendingDecode struct {
	linkID types.LinkID
	params types.EncodingParameters
}

// Manager owns the decode side of every link: matching an inbound
// params blob to an Encoding, driving its async DecodeBytes, and
// reassembling fragment streams. Like link.Manager and conn.Manager it
// is not internally synchronized; callers run it on the CM's single
// dispatcher goroutine.
type Manager struct {
	mode      types.EncodingMode
	links     *link.Manager
	encodings []component.Encoding
	sdk       component.SDKCallbacks
	log       *log.Logger
	metrics   *metrics.Collector

	pending   map[string]pendingDecode
	handleSeq int
}

// New constructs a Receive Manager for the given wire mode.
func New(mode types.EncodingMode, links *link.Manager, encodings []component.Encoding, sdk component.SDKCallbacks, logger *log.Logger, m *metrics.Collector) *Manager {
	return &Manager{
		mode:      mode,
		links:     links,
		encodings: encodings,
		sdk:       sdk,
		log:       logger,
		metrics:   m,
		pending:   make(map[string]pendingDecode),
	}
}

func (m *Manager) matchEncoding(mimeType string) (component.Encoding, bool) {
	for _, e := range m.encodings {
		if e.Type() == mimeType {
			return e, true
		}
	}
	return nil, false
}

func (m *Manager) nextHandle() string {
	m.handleSeq++
	return fmt.Sprintf("dec-%d", m.handleSeq)
}

// OnReceive picks the encoding matching params (MIME match, first in
// composition order) and begins an asynchronous decode. A missing
// match is FATAL: the composition is broken (spec §4.6 mirrors the
// same rule for encode-side matching).
func (m *Manager) OnReceive(linkID types.LinkID, params types.EncodingParameters, bytes []byte) error {
	enc, ok := m.matchEncoding(params.Type)
	if !ok {
		return types.NewFatal("recv.OnReceive", fmt.Errorf("no encoding matches type %q", params.Type))
	}

	handle := m.nextHandle()
	m.pending[handle] = pendingDecode{linkID: linkID, params: params}
	if err := enc.DecodeBytes(handle, params, bytes); err != nil {
		delete(m.pending, handle)
		return types.NewError("recv.OnReceive", err)
	}
	return nil
}

// OnBytesDecoded routes decoded bytes by mode (spec §4.7). Empty bytes
// is a valid cover-traffic result and is discarded silently. An
// unknown handle means the in-flight decode's link or generation has
// since gone away; drop it.
func (m *Manager) OnBytesDecoded(handle string, bytes []byte, status types.TransportSendStatus) {
	pd, ok := m.pending[handle]
	if !ok {
		return
	}
	delete(m.pending, handle)

	if !status.IsAcked() {
		m.log.Warn("decode failed", map[string]any{"handle": handle, "link_id": string(pd.linkID)})
		return
	}
	if len(bytes) == 0 {
		return
	}

	switch m.mode {
	case types.EncodingModeSingle:
		m.deliver(pd.linkID, bytes)
	case types.EncodingModeBatch:
		m.deliverBatch(pd.linkID, bytes)
	case types.EncodingModeFragmentSingleProducer:
		fragID, flags, bodies, err := ipc.DecodeFragmentSingleProducer(bytes)
		if err != nil {
			m.log.Error("fragment decode", map[string]any{"link_id": string(pd.linkID), "error": err.Error()})
			return
		}
		m.deliverFragments(pd.linkID, singleProducer, fragID, flags, bodies)
	case types.EncodingModeFragmentMultiProducer:
		producerID, fragID, flags, bodies, err := ipc.DecodeFragmentMultiProducer(bytes)
		if err != nil {
			m.log.Error("fragment decode", map[string]any{"link_id": string(pd.linkID), "error": err.Error()})
			return
		}
		m.deliverFragments(pd.linkID, producerID, fragID, flags, bodies)
	}
}

func (m *Manager) deliver(linkID types.LinkID, bytes []byte) {
	m.sdk.ReceiveEncPkg(bytes, m.connectionIDsForLink(linkID))
	m.metrics.IncFragmentReceived()
}

func (m *Manager) deliverBatch(linkID types.LinkID, wire []byte) {
	bodies, err := ipc.DecodeBatch(wire)
	if err != nil {
		m.log.Error("batch decode", map[string]any{"link_id": string(linkID), "error": err.Error()})
		return
	}
	for _, body := range bodies {
		m.deliver(linkID, body)
	}
}

func (m *Manager) deliverFragments(linkID types.LinkID, producer types.ProducerID, fragID uint32, flags byte, bodies [][]byte) {
	l, ok := m.links.Get(linkID)
	if !ok {
		return
	}
	state := l.ReceiveStateFor(producer)

	if int64(fragID) != state.LastFragmentReceived+1 {
		state.PendingBytes = nil
	}
	state.LastFragmentReceived = int64(fragID)

	continuesLast := flags&types.FlagContinueLastPackage != 0
	continuesNext := flags&types.FlagContinueNextPackage != 0

	for i, body := range bodies {
		isFirst := i == 0
		isLast := i == len(bodies)-1

		if isFirst {
			if !continuesLast {
				state.PendingBytes = nil
			} else if len(state.PendingBytes) == 0 {
				// A prior fragment carrying the start of this package was
				// lost; this body cannot be reassembled.
				continue
			}
		}

		state.PendingBytes = append(state.PendingBytes, body...)
		if isLast && continuesNext {
			continue
		}
		m.deliver(linkID, state.PendingBytes)
		state.PendingBytes = nil
	}
}

func (m *Manager) connectionIDsForLink(linkID types.LinkID) []types.ConnectionID {
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
