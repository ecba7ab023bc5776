// Package pkgmgr implements the Package Manager (spec §4.6): admission of
// outbound packages, fragment assignment to upcoming actions, encoding at
// action time, and per-fragment/per-package status handling.
package pkgmgr

import (
	"fmt"
	"sync"

	"github.com/justapithecus/racecm/action"
	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/ipc"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
	"github.com/justapithecus/racecm/worker"
)

// ErrNoSpace is returned by SendPackage when no upcoming action on the
// target link can fit any of the package (spec §4.6, "Admission"). Callers
// must treat this as a non-fatal temporary failure.
var ErrNoSpace = fmt.Errorf("pkgmgr: no action has space for package")

// Manager owns every outbound PackageInfo and the fragments covering them.
type Manager struct {
	mode      types.EncodingMode
	overhead  types.Overhead
	actions   *action.Manager
	links     *link.Manager
	transport component.Transport
	sdk       component.SDKCallbacks
	log       *log.Logger
	metrics   *metrics.Collector
	now       func() float64

	// ResolveLink maps a connection id to its owning link id, delegated to
	// the facade to avoid importing the conn package (which itself depends
	// on link).
	ResolveLink func(connID types.ConnectionID) (types.LinkID, bool)
	// ConnIDsForLink lists every open connection on a link, for
	// receiveEncPkg delivery and package-submitted notification.
	ConnIDsForLink func(linkID types.LinkID) []types.ConnectionID

	// maxEncodingTime mirrors the Action Manager's computed value; an
	// action past this horizon is skipped during fragment generation
	// (spec §4.6, "Fragment generation").
	maxEncodingTime float64

	// encodings and encodingWorkerFor are set post-construction by
	// SetEncodings, once the Lifetime Manager has built each Encoding's
	// own worker (spec §4.8). With encodingWorkerFor nil, encoders run
	// in-line on the dispatcher goroutine; with no encodings set,
	// EncodeForAction returns an error.
	encodings         []component.Encoding
	encodingWorkerFor func(idx int) *worker.Worker

	mu         sync.Mutex
	packages   map[types.PackageHandle]*types.PackageInfo
	fragments  map[types.FragmentHandle]*types.PackageFragmentInfo
	linkQueues map[types.LinkID][]types.PackageHandle
	pending    map[string]*pendingEncode // encode handle -> in-flight encoding

	handleSeq uint64
	fragSeq   uint64
}

// SetMaxEncodingTime records the Action Manager's computed
// maxEncodingTime, used to skip actions already past their encode
// deadline during fragment generation.
func (m *Manager) SetMaxEncodingTime(d float64) {
	m.maxEncodingTime = d
}

// SetEncodings wires the composition's Encoding components, and a
// lookup from composition index to that encoding's own worker, so
// EncodeForAction can drive each encoder on its own serial queue (spec
// §4.8, "driving asynchronous encoders (each with its own worker)").
// workerFor may be nil, or return nil for an index, in which case
// EncodeForAction falls back to calling the encoder in-line.
func (m *Manager) SetEncodings(encodings []component.Encoding, workerFor func(idx int) *worker.Worker) {
	m.encodings = encodings
	m.encodingWorkerFor = workerFor
}

// matchEncoding returns the first encoding (in composition order) whose
// advertised type matches mimeType, along with its composition index.
func (m *Manager) matchEncoding(mimeType string) (component.Encoding, int, bool) {
	for i, e := range m.encodings {
		if e.Type() == mimeType {
			return e, i, true
		}
	}
	return nil, 0, false
}

// encodingWorker returns the worker dedicated to encodings[idx], or nil
// if none is configured.
func (m *Manager) encodingWorker(idx int) *worker.Worker {
	if m.encodingWorkerFor == nil {
		return nil
	}
	return m.encodingWorkerFor(idx)
}

// PendingPackageCount returns the number of outbound packages not yet
// resolved to a terminal SDK status, used by the flight recorder.
func (m *Manager) PendingPackageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.packages)
}

// PendingFragmentCount returns the number of fragment records currently
// tracked, used by the flight recorder.
func (m *Manager) PendingFragmentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fragments)
}

type pendingEncode struct {
	actionID types.ActionID
	action   types.Action
	encoding *types.EncodingInfo
}

// New constructs an empty Package Manager for the given wire mode.
func New(mode types.EncodingMode, actions *action.Manager, links *link.Manager, transport component.Transport, sdk component.SDKCallbacks, logger *log.Logger, m *metrics.Collector, now func() float64) *Manager {
	return &Manager{
		mode:       mode,
		overhead:   types.OverheadFor(mode),
		actions:    actions,
		links:      links,
		transport:  transport,
		sdk:        sdk,
		log:        logger,
		metrics:    m,
		now:        now,
		packages:   make(map[types.PackageHandle]*types.PackageInfo),
		fragments:  make(map[types.FragmentHandle]*types.PackageFragmentInfo),
		linkQueues: make(map[types.LinkID][]types.PackageHandle),
		pending:    make(map[string]*pendingEncode),
	}
}

// spaceAvailable is a pure function of ActionInfo state, recomputed on
// every call rather than cached — caching would reintroduce the dangling
// state the Design Notes warn against.
func (m *Manager) spaceAvailable(ai *types.ActionInfo) int {
	if ai.ToBeRemoved || !ai.AllEncodingsUnencoded() {
		return 0
	}
	maxBytes := ai.TotalMaxBytes()
	filled := m.overhead.PerAction
	for _, fh := range ai.Fragments {
		m.mu.Lock()
		frag, ok := m.fragments[fh]
		m.mu.Unlock()
		if ok {
			filled += m.overhead.PerFragment + frag.Length
		}
	}
	avail := maxBytes - filled - m.overhead.PerFragment
	if avail < 0 {
		return 0
	}
	return avail
}

func (m *Manager) nextPackageHandle() types.PackageHandle {
	m.handleSeq++
	return types.PackageHandle(fmt.Sprintf("pkg-%d", m.handleSeq))
}

func (m *Manager) nextFragmentHandle() types.FragmentHandle {
	m.fragSeq++
	return types.FragmentHandle(fmt.Sprintf("frag-%d", m.fragSeq))
}

// SendPackage admits a new outbound package if at least one upcoming
// action on its link can fit at least some of it (spec §4.6, "Admission").
func (m *Manager) SendPackage(connID types.ConnectionID, bytes []byte) (types.PackageHandle, error) {
	linkID, ok := m.ResolveLink(connID)
	if !ok {
		return "", fmt.Errorf("pkgmgr: unknown connection %s", connID)
	}

	if !m.linkHasRoom(linkID) {
		return "", ErrNoSpace
	}

	handle := m.nextPackageHandle()
	pkg := &types.PackageInfo{Handle: handle, Link: linkID, Bytes: bytes}

	m.mu.Lock()
	m.packages[handle] = pkg
	m.linkQueues[linkID] = append(m.linkQueues[linkID], handle)
	m.mu.Unlock()

	m.metrics.IncPackageSubmitted()
	m.generateFragmentsForPackage(linkID, pkg)
	return handle, nil
}

func (m *Manager) linkHasRoom(linkID types.LinkID) bool {
	for _, ai := range m.actions.LinkQueue(linkID) {
		if m.spaceAvailable(ai) > 0 {
			return true
		}
	}
	return false
}

// generateFragmentsForPackage walks the link's action queue in order,
// assigning fragments until the package is fully covered or the queue is
// exhausted (spec §4.6, "Fragment generation").
func (m *Manager) generateFragmentsForPackage(linkID types.LinkID, pkg *types.PackageInfo) {
	now := m.now()
	remaining := pkg.Size() - m.coveredBytes(pkg)

	for _, ai := range m.actions.LinkQueue(linkID) {
		if remaining <= 0 {
			break
		}
		if now+m.maxEncodingTime > ai.Action.Timestamp { // past the encode deadline window
			continue
		}
		space := m.spaceAvailable(ai)
		if space <= 0 {
			continue
		}
		if m.overhead.AtMostOneFragment && len(ai.Fragments) > 0 {
			continue
		}

		offset := pkg.Size() - remaining
		take := space
		if take > remaining {
			take = remaining
		}

		fh := m.nextFragmentHandle()
		actionID := ai.Action.ActionID
		frag := &types.PackageFragmentInfo{
			Handle: fh,
			Package: pkg.Handle,
			Action:  &actionID,
			Offset:  offset,
			Length:  take,
			State:   types.FragmentUnencoded,
		}

		m.mu.Lock()
		m.fragments[fh] = frag
		m.mu.Unlock()

		pkg.Fragments = append(pkg.Fragments, fh)
		ai.Fragments = append(ai.Fragments, fh)
		if ai.WildcardLink && ai.LinkID == "" {
			ai.LinkID = linkID
		}

		remaining -= take
	}
}

func (m *Manager) coveredBytes(pkg *types.PackageInfo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, fh := range pkg.Fragments {
		if f, ok := m.fragments[fh]; ok {
			total += f.Length
		}
	}
	return total
}

// GenerateForAll implements action.Hooks.RebuildAssignments: resets every
// not-yet-encoded fragment on every action, then makes one fresh
// assignment pass: link by link, each link's package queue in order.
// Links are not interleaved and the pass is not repeated
// (spec §4.6, "Generate-for-all").
func (m *Manager) GenerateForAll() {
	m.mu.Lock()
	for _, f := range m.fragments {
		if f.State == types.FragmentUnencoded || f.State == types.FragmentEncoding {
			f.MarkForDeletion = true
			f.Action = nil
		}
	}
	for fh, f := range m.fragments {
		if f.MarkForDeletion {
			delete(m.fragments, fh)
		}
	}
	// Deleted handles must also be pruned from every owning back-reference
	// slice, or a package/action can keep pointing at a fragment record
	// that no longer exists, which wedges packageOutcome's "every fragment
	// resolved" check forever.
	for _, pkg := range m.packages {
		pkg.Fragments = m.liveHandlesLocked(pkg.Fragments)
	}
	linkIDs := make([]types.LinkID, 0, len(m.linkQueues))
	for id := range m.linkQueues {
		linkIDs = append(linkIDs, id)
	}
	m.mu.Unlock()

	seenActions := make(map[*types.ActionInfo]bool)
	for _, linkID := range linkIDs {
		for _, ai := range m.actions.LinkQueue(linkID) {
			if seenActions[ai] {
				continue
			}
			seenActions[ai] = true
			m.mu.Lock()
			ai.Fragments = m.liveHandlesLocked(ai.Fragments)
			m.mu.Unlock()
		}
	}

	for _, linkID := range linkIDs {
		m.mu.Lock()
		handles := append([]types.PackageHandle(nil), m.linkQueues[linkID]...)
		m.mu.Unlock()
		for _, h := range handles {
			m.mu.Lock()
			pkg := m.packages[h]
			m.mu.Unlock()
			if pkg == nil {
				continue
			}
			m.generateFragmentsForPackage(linkID, pkg)
		}
	}

	for _, linkID := range linkIDs {
		if m.ConnIDsForLink == nil {
			continue
		}
		for _, connID := range m.ConnIDsForLink(linkID) {
			m.sdk.UnblockQueue(connID)
		}
	}
}

// liveHandlesLocked filters handles down to those still present in
// m.fragments, preserving order. Caller must hold m.mu.
func (m *Manager) liveHandlesLocked(handles []types.FragmentHandle) []types.FragmentHandle {
	out := handles[:0]
	for _, fh := range handles {
		if _, ok := m.fragments[fh]; ok {
			out = append(out, fh)
		}
	}
	return out
}

// FragmentsForAction implements action.Hooks.FragmentsForAction.
func (m *Manager) FragmentsForAction(id types.ActionID) []types.FragmentHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.FragmentHandle
	for fh, f := range m.fragments {
		if f.Action != nil && *f.Action == id {
			out = append(out, fh)
		}
	}
	return out
}

// NotifyActionDone implements action.Hooks.NotifyActionDone: marks the
// action's fragments DONE and clears their back-references. The states
// of the action's EncodingInfos are left unchanged.
func (m *Manager) NotifyActionDone(id types.ActionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.Action != nil && *f.Action == id {
			f.State = types.FragmentDone
			f.Action = nil
		}
	}
}

// EncodeForAction implements action.Hooks.EncodeForAction: assembles the
// wire payload for every fragment assigned to the action, per the mode's
// byte-exact framing, and dispatches encode calls for each still-UNENCODED
// EncodingInfo (spec §4.6, "Encoding at action time").
func (m *Manager) EncodeForAction(ai *types.ActionInfo) error {
	if len(ai.Fragments) == 0 {
		return nil
	}

	m.mu.Lock()
	bodies := make([][]byte, 0, len(ai.Fragments))
	var firstOffset, lastEnd, lastPkgSize int
	sawFirst := false
	for _, fh := range ai.Fragments {
		f, ok := m.fragments[fh]
		if !ok {
			// Stale handle left over from a reset assignment pass; skip it
			// rather than letting it skew the first/last fragment used for
			// the continuation flags below.
			continue
		}
		pkg := m.packages[f.Package]
		body := pkg.Bytes[f.Offset : f.Offset+f.Length]
		bodies = append(bodies, body)
		if !sawFirst {
			firstOffset = f.Offset
			sawFirst = true
		}
		lastEnd = f.Offset + f.Length
		lastPkgSize = pkg.Size()
	}
	m.mu.Unlock()

	var flags byte
	if firstOffset != 0 {
		flags |= types.FlagContinueLastPackage
	}
	if lastEnd != lastPkgSize {
		flags |= types.FlagContinueNextPackage
	}

	link, ok := m.links.Get(ai.LinkID)
	if !ok {
		return fmt.Errorf("pkgmgr: encode: unknown link %s", ai.LinkID)
	}
	fragID := link.NextFragmentCount()

	var wire []byte
	switch m.mode {
	case types.EncodingModeSingle:
		wire = ipc.EncodeSingle(bodies[0])
	case types.EncodingModeBatch:
		wire = ipc.EncodeBatch(bodies)
	case types.EncodingModeFragmentSingleProducer:
		wire = ipc.EncodeFragmentSingleProducer(fragID, flags, bodies)
	case types.EncodingModeFragmentMultiProducer:
		wire = ipc.EncodeFragmentMultiProducer(link.ProducerID, fragID, flags, bodies)
	}

	for _, fh := range ai.Fragments {
		m.mu.Lock()
		if f, ok := m.fragments[fh]; ok {
			f.State = types.FragmentEncoding
		}
		m.mu.Unlock()
	}

	for i := range ai.Encodings {
		ei := &ai.Encodings[i]
		if ei.State != types.EncodingUnencoded {
			continue
		}
		enc, idx, ok := m.matchEncoding(ei.Params.Type)
		if !ok {
			return fmt.Errorf("pkgmgr: encode: no encoding matches type %q", ei.Params.Type)
		}
		handle := fmt.Sprintf("enc-%s-%d", ai.Action.ActionID, i)
		ei.Handle = handle
		ei.State = types.EncodingEncoding

		m.mu.Lock()
		m.pending[handle] = &pendingEncode{actionID: ai.Action.ActionID, action: ai.Action, encoding: ei}
		m.mu.Unlock()

		// Dispatched on the encoding's own serial worker, per spec §4.8:
		// "driving asynchronous encoders (each with its own worker)".
		// Completion arrives later via the component's EncodeCallbacks,
		// routed back to OnBytesEncoded through the CM dispatcher.
		encodeCall := func() error { return enc.EncodeBytes(handle, ei.Params, wire) }
		if w := m.encodingWorker(idx); w != nil {
			w.Post(encodeCall)
		} else if err := encodeCall(); err != nil {
			m.log.Error("pkgmgr: encode call failed", map[string]any{"action_id": string(ai.Action.ActionID), "error": err.Error()})
		}
	}
	m.metrics.IncFragmentEncoded()
	return nil
}

// OnBytesEncoded implements action's encode-completion path from an
// Encoding component's worker (spec §4.6, "onBytesEncoded"): it
// enqueues the produced bytes into the transport and marks the
// EncodingInfo ENQUEUED. If the handle is unknown it is silently
// dropped — the action may have been cancelled in the meantime. A
// non-ok status, or a transport enqueue failure, drops the assignment
// back to UNENCODED so the next schedule tick can retry it (spec §7:
// "Encode failure callback: drop the fragment assignment silently").
func (m *Manager) OnBytesEncoded(handle string, bytes []byte, status types.TransportSendStatus) {
	m.mu.Lock()
	pe, ok := m.pending[handle]
	if ok {
		delete(m.pending, handle)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if !status.IsAcked() {
		m.mu.Lock()
		pe.encoding.State = types.EncodingUnencoded
		m.mu.Unlock()
		return
	}

	if err := m.transport.EnqueueContent(pe.encoding.Params, pe.action, bytes); err != nil {
		m.log.Error("pkgmgr: enqueue content failed", map[string]any{"action_id": string(pe.actionID), "error": err.Error()})
		m.mu.Lock()
		pe.encoding.State = types.EncodingUnencoded
		m.mu.Unlock()
		return
	}
	pe.encoding.State = types.EncodingEnqueued

	// All EncodingInfos for this action reaching ENQUEUED marks every
	// fragment on the action ENQUEUED (spec §4.6).
	m.mu.Lock()
	for _, f := range m.fragments {
		if f.Action != nil && *f.Action == pe.actionID {
			f.State = types.FragmentEnqueued
		}
	}
	m.mu.Unlock()
}

// OnPackageStatusChanged resolves a fragment's terminal transport status
// and, once the parent package is fully resolved, surfaces a single SDK
// callback for it (spec §4.6, "onPackageStatusChanged").
func (m *Manager) OnPackageStatusChanged(fragmentHandle types.FragmentHandle, status types.TransportSendStatus) {
	m.mu.Lock()
	f, ok := m.fragments[fragmentHandle]
	if !ok {
		m.mu.Unlock()
		return
	}
	if status.IsAcked() {
		f.State = types.FragmentSent
		m.metrics.IncFragmentSent()
	} else {
		f.State = types.FragmentFailed
		m.metrics.IncFragmentFailed()
	}
	pkg, havePkg := m.packages[f.Package]
	m.mu.Unlock()

	if !havePkg {
		return
	}
	if outcome, finished := m.packageOutcome(pkg); finished {
		m.sdk.OnPackageStatusChanged(pkg.Handle, outcome)
		if outcome == types.PackageSent {
			m.metrics.IncPackageSent()
		} else {
			m.metrics.IncPackageFailed()
		}

		m.mu.Lock()
		delete(m.packages, pkg.Handle)
		queue := m.linkQueues[pkg.Link]
		filtered := queue[:0]
		for _, h := range queue {
			if h != pkg.Handle {
				filtered = append(filtered, h)
			}
		}
		m.linkQueues[pkg.Link] = filtered
		m.mu.Unlock()

		// Finishing a package frees the action capacity its fragments held
		// and, on partial failure, strands any earlier fragments that were
		// still UNENCODED — both must be reassigned (spec §4.6).
		m.GenerateForAll()
	}
}

// packageOutcome reports whether every fragment of pkg has reached a
// terminal state, and if so, the outcome to report.
func (m *Manager) packageOutcome(pkg *types.PackageInfo) (types.PackageOutcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(pkg.Fragments) == 0 {
		return 0, false
	}
	allSent := true
	for _, fh := range pkg.Fragments {
		f, ok := m.fragments[fh]
		if !ok || !f.State.Terminal() {
			return 0, false
		}
		if f.State != types.FragmentSent {
			allSent = false
		}
	}
	if allSent {
		return types.PackageSent, true
	}
	return types.PackageFailedGeneric, true
}

// OnLinkStatusChanged reacts to a link being destroyed: drops pending
// encodings, fails every package on the link's queue, and removes the
// fragment records tied to them (spec §4.6, "onLinkStatusChanged(DESTROYED)").
func (m *Manager) OnLinkStatusChanged(linkID types.LinkID, status types.LinkStatus) {
	if status != types.LinkDestroyed {
		return
	}

	m.mu.Lock()
	handles := m.linkQueues[linkID]
	delete(m.linkQueues, linkID)
	for _, h := range handles {
		pkg := m.packages[h]
		if pkg == nil {
			continue
		}
		for _, fh := range pkg.Fragments {
			delete(m.fragments, fh)
		}
		delete(m.packages, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.sdk.OnPackageStatusChanged(h, types.PackageFailedGeneric)
		m.metrics.IncPackageFailed()
	}
}
