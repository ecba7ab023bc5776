// Package action implements the Action Manager (spec §4.5): the globally
// ordered timeline of scheduled transmission actions, the action thread
// that wakes to fetch/execute/encode, and the link-scoped action queues the
// Package Manager consumes.
package action

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

const dispatcherSlack = 0.1 // seconds, per spec §4.5

// Hooks are the cross-manager collaborations the Action Manager needs but
// does not own, wired by the facade after construction to avoid an import
// cycle with the Package Manager.
type Hooks struct {
	// KnownLinks lists every live link id, used to fan wildcard actions out
	// to every link's queue.
	KnownLinks func() []types.LinkID
	// FragmentsForAction returns the fragment handles the Package Manager
	// has assigned to an action, in assignment order.
	FragmentsForAction func(types.ActionID) []types.FragmentHandle
	// EncodeForAction asks the Package Manager to assemble and submit the
	// wire payload for every still-UNENCODED EncodingInfo on the action.
	EncodeForAction func(*types.ActionInfo) error
	// NotifyActionDone tells the Package Manager an action has executed, so
	// fragment/encoding state can be marked DONE and back-references
	// cleared.
	NotifyActionDone func(types.ActionID)
	// RebuildAssignments is called whenever the global timeline changes,
	// so the Package Manager can re-run fragment generation.
	RebuildAssignments func()
}

// Manager owns the global action deque and per-link action queues.
type Manager struct {
	transport component.Transport
	userModel component.UserModel
	encodings []component.Encoding
	log       *log.Logger
	metrics   *metrics.Collector
	now       func() float64
	hooks     Hooks

	maxEncodingTime     float64
	timelineLength      float64
	timelineFetchPeriod float64

	nextFetchTime  float64
	nextActionTime float64
	nextEncodeTime float64
	lastEncodeTime float64

	mu         sync.Mutex
	deque      []*types.ActionInfo
	byID       map[types.ActionID]*types.ActionInfo
	linkQueues map[types.LinkID][]*types.ActionInfo

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Action Manager. now defaults to a wall-clock source if
// nil; tests supply a deterministic clock.
func New(transport component.Transport, userModel component.UserModel, encodings []component.Encoding, logger *log.Logger, m *metrics.Collector, now func() float64) *Manager {
	if now == nil {
		now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	return &Manager{
		transport:      transport,
		userModel:      userModel,
		encodings:      encodings,
		log:            logger,
		metrics:        m,
		now:            now,
		nextActionTime: math.Inf(1),
		nextEncodeTime: math.Inf(1),
		byID:           make(map[types.ActionID]*types.ActionInfo),
		linkQueues:     make(map[types.LinkID][]*types.ActionInfo),
		wakeCh:         make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// SetHooks installs the Package Manager collaboration hooks. Must be
// called before Start.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// matchEncoding returns the first encoding (in composition order) whose
// advertised type matches mimeType.
func (m *Manager) matchEncoding(mimeType string) (component.Encoding, bool) {
	for _, e := range m.encodings {
		if e.Type() == mimeType {
			return e, true
		}
	}
	return nil, false
}

// Setup queries the transport's supported actions to compute
// maxEncodingTime, and the user-model for timeline tuning. Must be called
// before Start.
func (m *Manager) Setup() error {
	supported := m.transport.SupportedActions()
	var maxTime float64
	for _, encodingTypes := range supported {
		var sum float64
		for _, t := range encodingTypes {
			if enc, ok := m.matchEncoding(t); ok {
				sum += enc.EncodingTime()
			}
		}
		if sum > maxTime {
			maxTime = sum
		}
	}
	m.maxEncodingTime = maxTime + dispatcherSlack
	m.timelineLength = m.userModel.TimelineLength()
	m.timelineFetchPeriod = m.userModel.TimelineFetchPeriod()
	m.nextFetchTime = m.now()
	return nil
}

// QueuedActionCount returns the number of actions currently in the
// global deque, used by the flight recorder's snapshot sampling.
func (m *Manager) QueuedActionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deque)
}

// MaxEncodingTime returns the value computed by Setup: the worst-case
// sum of per-encoding encode times across action classes, plus
// dispatcher slack. The Package Manager uses the same horizon to skip
// actions already past their encode deadline (spec §4.6).
func (m *Manager) MaxEncodingTime() float64 {
	return m.maxEncodingTime
}

// Start launches the action thread.
func (m *Manager) Start(activeCheck func() bool) {
	m.wg.Add(1)
	go m.run(activeCheck)
}

// Stop signals the action thread to exit and waits for it to join.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) run(activeCheck func() bool) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		deadline := math.Min(m.nextFetchTime, math.Min(m.nextActionTime, m.nextEncodeTime))
		m.mu.Unlock()

		sleep := time.Duration((deadline - m.now()) * float64(time.Second))
		if sleep < 0 {
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-m.wakeCh:
			timer.Stop()
		case <-timer.C:
		}

		if !activeCheck() {
			return
		}
		m.tick()
	}
}

func (m *Manager) tick() {
	now := m.now()
	m.mu.Lock()
	fetchDue := now >= m.nextFetchTime
	actionDue := !fetchDue && now >= m.nextActionTime
	encodeDue := !fetchDue && !actionDue && now >= m.nextEncodeTime
	m.mu.Unlock()

	switch {
	case fetchDue:
		if err := m.Fetch(); err != nil {
			m.log.Error("action: fetch failed", map[string]any{"error": err.Error()})
		}
	case actionDue:
		m.mu.Lock()
		var front *types.ActionInfo
		if len(m.deque) > 0 {
			front = m.deque[0]
		}
		m.mu.Unlock()
		if front != nil {
			if err := m.ExecuteAction(front); err != nil {
				m.log.Error("action: execute failed", map[string]any{"action_id": string(front.Action.ActionID), "error": err.Error()})
			}
		}
	case encodeDue:
		m.encodeDueActions(now)
	}
}

// Wake nudges the action thread to re-evaluate immediately, used by
// onTimelineUpdated and onSendPackage.
func (m *Manager) Wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Fetch calls the user-model's getTimeline and merges the result into the
// global deque (spec §4.5, "Fetch").
func (m *Manager) Fetch() error {
	now := m.now()
	start := now + m.maxEncodingTime
	end := start + m.timelineLength

	fresh, err := m.userModel.GetTimeline(start, end)
	if err != nil {
		return err
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Less(fresh[j]) })

	m.mu.Lock()
	defer m.mu.Unlock()

	freshByID := make(map[types.ActionID]types.Action, len(fresh))
	for _, a := range fresh {
		freshByID[a.ActionID] = a
	}

	var kept []*types.ActionInfo
	for _, ai := range m.deque {
		if _, stillPresent := freshByID[ai.Action.ActionID]; stillPresent {
			kept = append(kept, ai)
			delete(freshByID, ai.Action.ActionID)
			continue
		}
		if ai.Action.Timestamp >= start {
			ai.ToBeRemoved = true
			continue
		}
		kept = append(kept, ai)
	}

	for _, a := range fresh {
		if _, isNew := freshByID[a.ActionID]; !isNew {
			continue
		}
		ai, err := m.createActionInfo(a)
		if err != nil {
			m.log.Error("action: createActionInfo failed", map[string]any{"action_id": string(a.ActionID), "error": err.Error()})
			continue
		}
		kept = append(kept, ai)
		m.byID[a.ActionID] = ai
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Action.Less(kept[j].Action) })

	final := kept[:0]
	for _, ai := range kept {
		if ai.ToBeRemoved {
			delete(m.byID, ai.Action.ActionID)
			continue
		}
		final = append(final, ai)
	}
	m.deque = final

	m.rebuildLinkQueuesLocked()
	m.recomputeTimersLocked(now)
	m.nextFetchTime = now + m.timelineFetchPeriod
	if m.hooks.RebuildAssignments != nil {
		m.hooks.RebuildAssignments()
	}
	return nil
}

// createActionInfo asks the transport for per-action encoding parameters
// and builds the corresponding ActionInfo (spec §4.5).
func (m *Manager) createActionInfo(a types.Action) (*types.ActionInfo, error) {
	params, err := m.transport.GetActionParams(a)
	if err != nil {
		return nil, err
	}

	ai := &types.ActionInfo{Action: a}
	for _, p := range params {
		if !p.EncodePackage {
			continue
		}
		if p.LinkID == types.WildcardLinkID {
			ai.WildcardLink = true
		} else {
			ai.LinkID = p.LinkID
		}
		enc, ok := m.matchEncoding(p.Type)
		if !ok {
			continue
		}
		maxBytes, err := enc.Properties(p)
		if err != nil {
			return nil, err
		}
		ai.Encodings = append(ai.Encodings, types.EncodingInfo{Params: p, MaxBytes: maxBytes})
	}
	return ai, nil
}

// rebuildLinkQueuesLocked rebuilds every link's action queue as the
// subsequence of the global deque matching that link (or wildcard).
// Caller must hold m.mu.
func (m *Manager) rebuildLinkQueuesLocked() {
	queues := make(map[types.LinkID][]*types.ActionInfo)
	var links []types.LinkID
	if m.hooks.KnownLinks != nil {
		links = m.hooks.KnownLinks()
	}
	for _, id := range links {
		queues[id] = nil
	}
	for _, ai := range m.deque {
		if ai.WildcardLink {
			for _, id := range links {
				queues[id] = append(queues[id], ai)
			}
		} else if ai.LinkID != "" {
			queues[ai.LinkID] = append(queues[ai.LinkID], ai)
		}
	}
	m.linkQueues = queues
}

// recomputeTimersLocked refreshes nextActionTime and nextEncodeTime from
// the current deque head. Caller must hold m.mu.
func (m *Manager) recomputeTimersLocked(now float64) {
	if len(m.deque) == 0 {
		m.nextActionTime = math.Inf(1)
		m.nextEncodeTime = math.Inf(1)
		return
	}
	m.nextActionTime = m.deque[0].Action.Timestamp
	m.nextEncodeTime = m.deque[0].Action.Timestamp - m.maxEncodingTime
}

// LinkQueue returns the current action queue for a link, in order.
func (m *Manager) LinkQueue(id types.LinkID) []*types.ActionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.linkQueues[id]
	out := make([]*types.ActionInfo, len(q))
	copy(out, q)
	return out
}

// OnSendPackage informs the user-model of an outbound send and merges any
// returned actions into the deque without the removal step Fetch performs,
// deduplicating by actionId against the existing deque (spec §4.5,
// "onSendPackage").
func (m *Manager) OnSendPackage(linkID types.LinkID, bytes []byte) error {
	returned, err := m.userModel.OnSendPackage(linkID, bytes)
	if err != nil {
		return err
	}
	if len(returned) == 0 {
		return nil
	}

	now := m.now()
	floor := now + m.maxEncodingTime

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range returned {
		if a.Timestamp < floor {
			a.Timestamp = floor
		}
		if _, exists := m.byID[a.ActionID]; exists {
			continue
		}
		ai, err := m.createActionInfo(a)
		if err != nil {
			m.log.Error("action: createActionInfo for onSendPackage failed", map[string]any{"error": err.Error()})
			continue
		}
		m.deque = append(m.deque, ai)
		m.byID[a.ActionID] = ai
	}

	sort.Slice(m.deque, func(i, j int) bool { return m.deque[i].Action.Less(m.deque[j].Action) })
	m.rebuildLinkQueuesLocked()
	m.recomputeTimersLocked(now)
	if m.hooks.RebuildAssignments != nil {
		m.hooks.RebuildAssignments()
	}
	m.Wake()
	return nil
}

// OnTimelineUpdated is an asynchronous nudge from the user-model that
// triggers an immediate fetch.
func (m *Manager) OnTimelineUpdated() {
	m.mu.Lock()
	m.nextFetchTime = m.now()
	m.mu.Unlock()
	m.Wake()
}

// ExecuteAction asks the Package Manager for the action's fragment
// handles, calls the transport's doAction, notifies the Package Manager
// the action is done, then pops the action from the deque and every
// link queue where it appears (spec §4.5, "Execute action").
func (m *Manager) ExecuteAction(ai *types.ActionInfo) error {
	var handles []types.FragmentHandle
	if m.hooks.FragmentsForAction != nil {
		handles = m.hooks.FragmentsForAction(ai.Action.ActionID)
	}
	if err := m.transport.DoAction(handles, ai.Action); err != nil {
		return err
	}
	if m.hooks.NotifyActionDone != nil {
		m.hooks.NotifyActionDone(ai.Action.ActionID)
	}
	m.metrics.IncActionRemoved()

	m.mu.Lock()
	m.deque = removeAction(m.deque, ai.Action.ActionID)
	delete(m.byID, ai.Action.ActionID)
	for id, q := range m.linkQueues {
		m.linkQueues[id] = removeAction(q, ai.Action.ActionID)
	}
	m.recomputeTimersLocked(m.now())
	m.mu.Unlock()
	return nil
}

func removeAction(q []*types.ActionInfo, id types.ActionID) []*types.ActionInfo {
	out := q[:0]
	for _, ai := range q {
		if ai.Action.ActionID != id {
			out = append(out, ai)
		}
	}
	return out
}

// encodeDueActions encodes every action whose timestamp falls in
// (lastEncodeTime, now+maxEncodingTime] (spec §4.5, step 4).
func (m *Manager) encodeDueActions(now float64) {
	m.mu.Lock()
	window := now + m.maxEncodingTime
	var due []*types.ActionInfo
	for _, ai := range m.deque {
		if ai.Action.Timestamp > m.lastEncodeTime && ai.Action.Timestamp <= window {
			due = append(due, ai)
		}
	}
	// lastEncodeTime is the timestamp of the most recent action encoded
	// for, not the lookahead window itself (spec §4.5); the deque is
	// ordered by (timestamp, actionId), so the last due entry carries the
	// latest timestamp.
	if len(due) > 0 {
		m.lastEncodeTime = due[len(due)-1].Action.Timestamp
	}
	m.nextEncodeTime = math.Inf(1)
	m.mu.Unlock()

	for _, ai := range due {
		if !ai.AllEncodingsUnencoded() {
			continue
		}
		if m.hooks.EncodeForAction != nil {
			if err := m.hooks.EncodeForAction(ai); err != nil {
				m.log.Error("action: encode failed", map[string]any{"action_id": string(ai.Action.ActionID), "error": err.Error()})
			}
		}
	}
}
