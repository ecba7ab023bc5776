// Package lifetime implements the Lifetime Manager (spec §4.2): it
// constructs and tears down the three child components a composition
// names — one Transport, one UserModel, and an ordered list of
// Encodings — each pinned to its own component-wrapper worker, tracks
// their readiness, and declares the channel available or failed.
//
// Manager does not synchronize itself; every method except the
// background activation-timeout and flight-recorder goroutines runs on
// the CM dispatcher goroutine (see cm.Facade). Those two goroutines
// only ever reach back into CM-owned state through the Hooks.Post
// indirection, which re-enters on the dispatcher.
package lifetime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/snapshot"
	"github.com/justapithecus/racecm/types"
	"github.com/justapithecus/racecm/worker"
)

// Factories construct one instance of each child component named by a
// composition. Concrete construction (dynamic-library loading,
// language bridges) is out of scope (spec §1); these are the seam a
// plugin host or demo harness supplies instead.
type Factories struct {
	Transport func(component.TransportCallbacks) (component.Transport, error)
	UserModel func(component.UserModelCallbacks) (component.UserModel, error)
	Encodings []func(component.EncodeCallbacks) (component.Encoding, error)
}

// Callbacks are the concrete callback values each factory is invoked
// with. They are built and owned by the cm package (which implements
// the routing each one does) and handed down at Activate time so this
// package never needs to import cm.
type Callbacks struct {
	Transport component.TransportCallbacks
	UserModel component.UserModelCallbacks
	// Encoding returns the callbacks value for the encoding at index i
	// in composition order, so its UpdateState report can be attributed
	// to the right childKey.
	Encoding func(index int) component.EncodeCallbacks
}

// Hooks are the CM Facade collaborations the Lifetime Manager needs
// but does not own, wired after construction to avoid an import cycle
// with the cm package (mirrors action.Hooks).
type Hooks struct {
	// SetState transitions the CM's lifecycle state.
	SetState func(types.State)
	// NotifyChannel raises onChannelStatusChanged to the SDK.
	NotifyChannel func(types.ChannelStatus)
	// ComponentsReady is called once the three children are
	// constructed (before WAITING_FOR_COMPONENTS), so the facade can
	// build its sub-managers against concrete component instances.
	ComponentsReady func(transport component.Transport, userModel component.UserModel, encodings []component.Encoding) error
	// ActivationDone is called once every child has reported STARTED,
	// after the CM state has already moved to ACTIVATED; the facade
	// uses it to start the action thread.
	ActivationDone func()
	// TornDown resets every sub-manager the facade composes (link,
	// conn, action, pkgmgr, recv), called on deactivate or fail before
	// children are released.
	TornDown func()
	// Post re-enters the CM dispatcher from a Lifetime background
	// goroutine (activation timeout, flight recorder). fn's returned
	// error is handled exactly like any other post's result.
	Post func(op string, fn func() *types.CMError)
}

type childKey struct {
	kind  types.ComponentKind
	index int
}

func (k childKey) String() string {
	if k.kind == types.ComponentEncoding {
		return fmt.Sprintf("encoding[%d]", k.index)
	}
	return k.kind.String()
}

// Manager owns the three child components for one composition.
type Manager struct {
	sdk     component.SDKCallbacks
	log     *log.Logger
	metrics *metrics.Collector
	hooks   Hooks

	activationTimeout time.Duration
	recorderInterval  time.Duration
	recorderSink      snapshot.Sink
	collect           func() snapshot.Counts

	mu     sync.Mutex
	states map[childKey]types.ComponentState

	transportWorker *worker.Worker
	userModelWorker *worker.Worker
	encodingWorkers []*worker.Worker

	transport component.Transport
	userModel component.UserModel
	encodings []component.Encoding

	failNotified bool
	activationGen uint64

	recorder *snapshot.Recorder
}

// Config bundles the tuning knobs the flight-recorder supplement (spec
// note §9, REDESIGN "activation timeout") and the snapshot cadence
// introduced by SPEC_FULL need.
type Config struct {
	ActivationTimeout time.Duration
	RecorderInterval  time.Duration
	RecorderSink      snapshot.Sink
	Collect           func() snapshot.Counts
}

// New constructs an idle Lifetime Manager holding no children.
func New(sdk component.SDKCallbacks, logger *log.Logger, m *metrics.Collector, cfg Config) *Manager {
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = 30 * time.Second
	}
	if cfg.RecorderInterval <= 0 {
		cfg.RecorderInterval = 30 * time.Second
	}
	return &Manager{
		sdk:               sdk,
		log:               logger,
		metrics:           m,
		activationTimeout: cfg.ActivationTimeout,
		recorderInterval:  cfg.RecorderInterval,
		recorderSink:      cfg.RecorderSink,
		collect:           cfg.Collect,
		states:            make(map[childKey]types.ComponentState),
	}
}

// SetHooks installs the facade collaboration hooks. Must be called
// before Activate.
func (m *Manager) SetHooks(h Hooks) {
	m.hooks = h
}

// HoldsChildren reports whether any child component is currently
// constructed, used by the destruction invariant check (spec §4.2).
func (m *Manager) HoldsChildren() bool {
	return m.transport != nil || m.userModel != nil || len(m.encodings) > 0
}

// Close enforces the destruction invariant: a Lifetime Manager must
// not be destroyed with any child still held (spec §4.2). Callers must
// Deactivate or Fail first.
func (m *Manager) Close() {
	if m.HoldsChildren() {
		panic("lifetime: Close called with children still held")
	}
}

// Activate begins child construction (spec §4.2, activateChannel
// steps 1-3). Construction failures are FATAL: the composition cannot
// run without all three components.
func (m *Manager) Activate(factories Factories, cbs Callbacks) *types.CMError {
	m.mu.Lock()
	m.activationGen++
	gen := m.activationGen
	m.failNotified = false
	m.mu.Unlock()

	m.hooks.SetState(types.StateCreatingComponents)
	m.metrics.IncActivationAttempt()

	transport, err := factories.Transport(cbs.Transport)
	if err != nil {
		return m.failConstruction("activateChannel", fmt.Errorf("transport: %w", err))
	}
	userModel, err := factories.UserModel(cbs.UserModel)
	if err != nil {
		return m.failConstruction("activateChannel", fmt.Errorf("user_model: %w", err))
	}
	encodings := make([]component.Encoding, 0, len(factories.Encodings))
	for i, f := range factories.Encodings {
		var cb component.EncodeCallbacks
		if cbs.Encoding != nil {
			cb = cbs.Encoding(i)
		}
		enc, err := f(cb)
		if err != nil {
			return m.failConstruction("activateChannel", fmt.Errorf("encoding[%d]: %w", i, err))
		}
		encodings = append(encodings, enc)
	}

	m.mu.Lock()
	m.transport = transport
	m.userModel = userModel
	m.encodings = encodings
	m.states = make(map[childKey]types.ComponentState)
	m.states[childKey{kind: types.ComponentTransport}] = types.ComponentStateInit
	m.states[childKey{kind: types.ComponentUserModel}] = types.ComponentStateInit
	for i := range encodings {
		m.states[childKey{kind: types.ComponentEncoding, index: i}] = types.ComponentStateInit
	}
	m.mu.Unlock()

	m.transportWorker = worker.New(16, m.workerErrorHandler)
	m.userModelWorker = worker.New(16, m.workerErrorHandler)
	m.encodingWorkers = make([]*worker.Worker, len(encodings))
	for i := range encodings {
		m.encodingWorkers[i] = worker.New(16, m.workerErrorHandler)
	}

	if m.hooks.ComponentsReady != nil {
		if err := m.hooks.ComponentsReady(transport, userModel, encodings); err != nil {
			return m.failConstruction("activateChannel", fmt.Errorf("components ready: %w", err))
		}
	}

	m.hooks.SetState(types.StateWaitingForComponents)
	m.log.Info("lifetime: waiting for components", map[string]any{"encodings": len(encodings)})

	go m.watchActivationTimeout(gen)
	return nil
}

func (m *Manager) failConstruction(op string, err error) *types.CMError {
	m.metrics.IncActivationFailure()
	cmErr := types.NewFatal(op, err)
	m.Fail(cmErr)
	return cmErr
}

func (m *Manager) workerErrorHandler(err error, fatal bool) {
	if m.hooks.Post == nil {
		return
	}
	m.hooks.Post("component_worker", func() *types.CMError {
		if fatal {
			return types.NewFatal("component_worker", err)
		}
		return types.NewError("component_worker", err)
	})
}

// watchActivationTimeout fails any child still INIT after
// activationTimeout elapses (SPEC_FULL supplement 5: "a per-component
// deadline" — applied as a single activation-wide deadline since all
// three children are constructed synchronously together).
func (m *Manager) watchActivationTimeout(gen uint64) {
	timer := time.NewTimer(m.activationTimeout)
	defer timer.Stop()
	<-timer.C

	if m.hooks.Post == nil {
		return
	}
	m.hooks.Post("activation_timeout", func() *types.CMError {
		m.mu.Lock()
		if gen != m.activationGen {
			m.mu.Unlock()
			return nil
		}
		var stillPending []childKey
		for k, s := range m.states {
			if s == types.ComponentStateInit {
				stillPending = append(stillPending, k)
			}
		}
		m.mu.Unlock()
		if len(stillPending) == 0 {
			return nil
		}
		for _, k := range stillPending {
			m.log.Error("lifetime: activation timed out", map[string]any{"component": k.String()})
		}
		return types.NewFatal("activateChannel", fmt.Errorf("activation timed out waiting for %d component(s)", len(stillPending)))
	})
}

// OnComponentStateChanged reacts to a child's updateState callback
// (spec §4.2 step 3). Once every child has reported STARTED the CM
// transitions ACTIVATED and the SDK is notified CHANNEL_AVAILABLE; any
// FAILED report calls Fail.
func (m *Manager) OnComponentStateChanged(kind types.ComponentKind, index int, state types.ComponentState) {
	key := childKey{kind: kind, index: index}

	m.mu.Lock()
	if _, known := m.states[key]; !known {
		m.mu.Unlock()
		return
	}
	m.states[key] = state
	if state == types.ComponentStateFailed {
		m.mu.Unlock()
		m.Fail(types.NewFatal("onComponentStateChanged", fmt.Errorf("%s reported FAILED", key)))
		return
	}

	allStarted := true
	for _, s := range m.states {
		if s != types.ComponentStateStarted {
			allStarted = false
			break
		}
	}
	m.mu.Unlock()

	if !allStarted {
		return
	}

	m.hooks.SetState(types.StateActivated)
	m.log.Info("lifetime: channel available", nil)
	m.startRecorder()
	m.hooks.NotifyChannel(types.ChannelAvailable)
	if m.hooks.ActivationDone != nil {
		m.hooks.ActivationDone()
	}
}

func (m *Manager) startRecorder() {
	if m.recorderSink == nil || m.collect == nil {
		return
	}
	m.recorder = snapshot.NewRecorder(m.recorderSink, m.recorderInterval, m.collect, m.log)
	m.recorder.Start()
}

// Deactivate tears every sub-manager and child component down (spec
// §4.2, deactivateChannel) and returns to UNACTIVATED.
func (m *Manager) Deactivate() {
	m.teardown()
	m.hooks.SetState(types.StateUnactivated)
	m.metrics.IncDeactivation()
	m.hooks.NotifyChannel(types.ChannelEnabled)
}

// Fail tears everything down and reports CHANNEL_FAILED exactly once
// per activation (spec §8, testable property 6).
func (m *Manager) Fail(reason *types.CMError) {
	m.mu.Lock()
	m.activationGen++ // invalidate any in-flight activation timeout
	already := m.failNotified
	m.failNotified = true
	m.mu.Unlock()

	m.teardown()
	m.hooks.SetState(types.StateFailed)
	if already {
		return
	}
	if reason != nil {
		m.log.Error("lifetime: channel failed", map[string]any{"reason": reason.Error()})
	}
	m.hooks.NotifyChannel(types.ChannelFailed)
}

// Shutdown tears every child down without emitting a channel status
// change — used when the CM itself is shutting down (spec §6,
// "shutdown") rather than merely deactivating back to an enabled,
// reactivatable state.
func (m *Manager) Shutdown() {
	m.teardown()
}

func (m *Manager) teardown() {
	if m.recorder != nil {
		m.recorder.Stop()
		m.recorder = nil
	}
	if m.hooks.TornDown != nil {
		m.hooks.TornDown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, w := range m.allWorkers() {
		_ = w.Drain(ctx)
		w.Close()
	}

	m.mu.Lock()
	m.transport = nil
	m.userModel = nil
	m.encodings = nil
	m.transportWorker = nil
	m.userModelWorker = nil
	m.encodingWorkers = nil
	m.states = make(map[childKey]types.ComponentState)
	m.mu.Unlock()
}

func (m *Manager) allWorkers() []*worker.Worker {
	var out []*worker.Worker
	if m.transportWorker != nil {
		out = append(out, m.transportWorker)
	}
	if m.userModelWorker != nil {
		out = append(out, m.userModelWorker)
	}
	out = append(out, m.encodingWorkers...)
	return out
}

// TransportWorker, UserModelWorker, and EncodingWorker expose the
// per-component serial queues so the facade can post calls into the
// children (spec §4.8).
func (m *Manager) TransportWorker() *worker.Worker { return m.transportWorker }
func (m *Manager) UserModelWorker() *worker.Worker { return m.userModelWorker }
func (m *Manager) EncodingWorker(i int) *worker.Worker {
	if i < 0 || i >= len(m.encodingWorkers) {
		return nil
	}
	return m.encodingWorkers[i]
}
