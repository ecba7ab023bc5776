// Package cm implements the CM Facade & Dispatcher (spec §4.1): the
// single object the SDK drives, a single serialized post/post_sync
// dispatch queue, and the wiring that turns concrete Transport,
// UserModel, and Encoding instances into the Link, Connection, Action,
// Package, and Receive managers for one composition.
package cm

import (
	"sync"
	"time"

	"github.com/justapithecus/racecm/action"
	"github.com/justapithecus/racecm/adapter"
	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/conn"
	"github.com/justapithecus/racecm/idgen"
	"github.com/justapithecus/racecm/lifetime"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/pkgmgr"
	"github.com/justapithecus/racecm/recv"
	"github.com/justapithecus/racecm/snapshot"
	"github.com/justapithecus/racecm/types"
)

// Config supplies everything a Facade needs for one composition.
// Factories, SDK, and Composition are required; the rest default to
// sane values.
type Config struct {
	Composition types.Composition
	Mode        types.EncodingMode
	SDK         component.SDKCallbacks
	Factories   lifetime.Factories

	Logger  *log.Logger
	Metrics *metrics.Collector
	Now     func() float64

	ActivationTimeout time.Duration
	RecorderInterval  time.Duration
	RecorderSink      snapshot.Sink

	// Adapters optionally fans out every SDK status callback to
	// downstream publishers (spec_full's status adapter bus). Never
	// affects CM state: a publish failure is logged and dropped.
	Adapters []adapter.Adapter
}

// Facade is the CM: one per composition, owning the single dispatcher
// queue and every sub-manager (spec §4.1). All CM-owned state is
// mutated exclusively from closures run on the dispatcher goroutine;
// Facade's own exported methods only ever enqueue work, never mutate
// state directly, except for the state field itself (guarded by mu so
// the flight recorder can read it from its own goroutine).
type Facade struct {
	comp      types.Composition
	mode      types.EncodingMode
	sdk       component.SDKCallbacks
	log       *log.Logger
	metrics   *metrics.Collector
	now       func() float64
	postIDs   *idgen.PostIDs
	factories lifetime.Factories

	queue chan func()

	mu    sync.Mutex
	state types.State

	lifetime *lifetime.Manager
	links    *link.Manager
	conns    *conn.Manager
	actions  *action.Manager
	pkgs     *pkgmgr.Manager
	recv     *recv.Manager

	transport component.Transport
	userModel component.UserModel
	encodings []component.Encoding
}

// New constructs a Facade and starts its dispatcher goroutine. The CM
// begins in INITIALIZING; the caller must call Init before any other
// operation (spec §6).
func New(cfg Config) *Facade {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(&cfg.Composition)
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector(string(cfg.Composition.ChannelGID), cfg.Composition.Transport, cfg.Composition.UserModel)
	}
	now := cfg.Now
	if now == nil {
		now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}

	f := &Facade{
		comp:      cfg.Composition,
		mode:      cfg.Mode,
		sdk:       newFanoutSDK(cfg.SDK, cfg.Adapters, logger),
		log:       logger,
		metrics:   collector,
		now:       now,
		postIDs:   idgen.NewPostIDs(),
		factories: cfg.Factories,
		queue:     make(chan func(), 256),
		state:     types.StateInitializing,
	}

	f.lifetime = lifetime.New(cfg.SDK, logger, collector, lifetime.Config{
		ActivationTimeout: cfg.ActivationTimeout,
		RecorderInterval:  cfg.RecorderInterval,
		RecorderSink:      cfg.RecorderSink,
		Collect:           f.collectSnapshot,
	})
	f.lifetime.SetHooks(lifetime.Hooks{
		SetState: f.setState,
		NotifyChannel: func(status types.ChannelStatus) {
			f.sdk.OnChannelStatusChanged(f.comp.ChannelGID, status)
		},
		ComponentsReady: f.onComponentsReady,
		ActivationDone:  f.onActivationDone,
		TornDown:        f.onTornDown,
		Post: func(op string, fn func() *types.CMError) {
			f.post(op, 0, types.MaskNotFailed, "", fn)
		},
	})

	go f.run()
	return f
}

func (f *Facade) run() {
	for job := range f.queue {
		job()
	}
}

// State returns the CM's current lifecycle state. Safe to call from
// any goroutine.
func (f *Facade) State() types.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Facade) setState(s types.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// post enqueues fn asynchronously and returns its assigned post id
// immediately, never blocking the caller (spec §4.1, "post (async)").
// handle is the SDK's own operation handle, threaded through to
// AsyncError on failure; pass 0 for callback-originated posts that have
// no caller-visible handle.
func (f *Facade) post(op string, handle uint64, mask types.StateMask, channelGID types.ChannelGID, fn func() *types.CMError) types.PostID {
	f.mu.Lock()
	id := f.postIDs.Next()
	f.mu.Unlock()
	f.metrics.IncPostEnqueued()
	f.queue <- func() {
		result := f.guardAndRun(op, mask, channelGID, fn)
		f.handleAsyncResult(op, handle, result)
	}
	return id
}

// postSync enqueues fn and blocks until its result is available (spec
// §4.1, "post_sync"). Used only where the SDK's contract requires a
// synchronous return value.
func (f *Facade) postSync(op string, mask types.StateMask, channelGID types.ChannelGID, fn func() *types.CMError) *types.CMError {
	f.metrics.IncPostEnqueued()
	resultCh := make(chan *types.CMError, 1)
	f.queue <- func() {
		result := f.guardAndRun(op, mask, channelGID, fn)
		switch {
		case result == nil:
			f.metrics.IncPostExecuted()
		case result.Kind == types.KindFatal:
			f.metrics.IncPostFatal()
			f.log.Error("cm: fatal", map[string]any{"op": op, "error": result.Error()})
			f.lifetime.Fail(result)
		default:
			f.metrics.IncPostError()
		}
		resultCh <- result
	}
	return <-resultCh
}

// guardAndRun applies the channel-id guard and then the state-mask
// guard before running fn, and converts any panic inside fn into a FATAL
// result (spec §4.1, §7: "uncaught failures... treated as FATAL").
// mask == 0 means no state restriction; channelGID == "" means no
// channel-id check.
func (f *Facade) guardAndRun(op string, mask types.StateMask, channelGID types.ChannelGID, fn func() *types.CMError) (result *types.CMError) {
	if channelGID != "" && channelGID != f.comp.ChannelGID {
		return types.NewError(op, errChannelMismatch(channelGID, f.comp.ChannelGID))
	}
	if mask != 0 && !mask.Allows(f.State()) {
		return types.NewError(op, errNotPermitted(f.State()))
	}
	defer func() {
		if r := recover(); r != nil {
			result = types.NewFatal(op, errPanic(r))
		}
	}()
	return fn()
}

// handleAsyncResult applies the async-post recovery matrix (spec §4.1,
// §7): FATAL fails the CM and reports upward; ERROR/TEMP is reported
// per-call via AsyncError.
func (f *Facade) handleAsyncResult(op string, handle uint64, result *types.CMError) {
	switch {
	case result == nil:
		f.metrics.IncPostExecuted()
	case result.Kind == types.KindFatal:
		f.metrics.IncPostFatal()
		f.log.Error("cm: fatal", map[string]any{"op": op, "error": result.Error()})
		f.lifetime.Fail(result)
		f.sdk.AsyncError(handle, types.KindFatal)
	default:
		f.metrics.IncPostError()
		f.sdk.AsyncError(handle, result.Kind)
	}
}

// collectSnapshot hops onto the dispatcher to build a Counts value
// under the same serialization every other read of CM state enjoys;
// called from the flight recorder's own goroutine (snapshot.Recorder),
// never from the dispatcher itself.
func (f *Facade) collectSnapshot() snapshot.Counts {
	type result struct{ counts snapshot.Counts }
	ch := make(chan result, 1)
	f.queue <- func() {
		ch <- result{counts: f.buildSnapshot()}
	}
	r := <-ch
	return r.counts
}

func (f *Facade) buildSnapshot() snapshot.Counts {
	c := snapshot.Counts{
		ChannelGID:      string(f.comp.ChannelGID),
		State:           f.State().String(),
		SampledAtUnixMs: int64(f.now() * 1000),
	}
	if f.links == nil {
		return c
	}
	linkIDs := f.links.All()
	c.Links = len(linkIDs)
	for _, id := range linkIDs {
		c.Connections += len(f.conns.ConnectionIDsForLink(id))
	}
	if f.actions != nil {
		c.QueuedActions = f.actions.QueuedActionCount()
	}
	if f.pkgs != nil {
		c.PendingPackages = f.pkgs.PendingPackageCount()
		c.PendingFragments = f.pkgs.PendingFragmentCount()
	}
	return c
}
