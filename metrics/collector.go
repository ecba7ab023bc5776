// Package metrics provides per-channel metrics collection for a CM instance.
//
// The Collector accumulates counters for the lifetime of one composition. It
// is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all tracked metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Lifecycle
	ActivationAttempts int64
	ActivationFailures int64
	Deactivations      int64

	// Links
	LinksCreated       int64
	LinksLoaded        int64
	LinksDestroyed     int64

	// Connections
	ConnectionsOpened int64
	ConnectionsClosed int64

	// Actions
	ActionsScheduled int64
	ActionsRemoved   int64
	ActionsExpired   int64

	// Packages / fragments
	PackagesSubmitted int64
	PackagesSent      int64
	PackagesFailed    int64
	FragmentsEncoded  int64
	FragmentsSent     int64
	FragmentsFailed   int64
	FragmentsReceived int64

	// Dispatcher
	PostsEnqueued int64
	PostsExecuted int64
	PostErrors    int64
	PostFatals    int64

	// Dimensions (informational, set at construction)
	ChannelGID string
	Transport  string
	UserModel  string
}

// Collector accumulates metrics during the lifetime of a CM instance.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	activationAttempts int64
	activationFailures int64
	deactivations      int64

	linksCreated   int64
	linksLoaded    int64
	linksDestroyed int64

	connectionsOpened int64
	connectionsClosed int64

	actionsScheduled int64
	actionsRemoved   int64
	actionsExpired   int64

	packagesSubmitted int64
	packagesSent      int64
	packagesFailed    int64
	fragmentsEncoded  int64
	fragmentsSent     int64
	fragmentsFailed   int64
	fragmentsReceived int64

	postsEnqueued int64
	postsExecuted int64
	postErrors    int64
	postFatals    int64

	channelGID string
	transport  string
	userModel  string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(channelGID, transport, userModel string) *Collector {
	return &Collector{
		channelGID: channelGID,
		transport:  transport,
		userModel:  userModel,
	}
}

// --- Lifecycle ---

func (c *Collector) IncActivationAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.activationAttempts++
	c.mu.Unlock()
}

func (c *Collector) IncActivationFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.activationFailures++
	c.mu.Unlock()
}

func (c *Collector) IncDeactivation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deactivations++
	c.mu.Unlock()
}

// --- Links ---

func (c *Collector) IncLinkCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linksCreated++
	c.mu.Unlock()
}

func (c *Collector) IncLinkLoaded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linksLoaded++
	c.mu.Unlock()
}

func (c *Collector) IncLinkDestroyed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.linksDestroyed++
	c.mu.Unlock()
}

// --- Connections ---

func (c *Collector) IncConnectionOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsOpened++
	c.mu.Unlock()
}

func (c *Collector) IncConnectionClosed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsClosed++
	c.mu.Unlock()
}

// --- Actions ---

func (c *Collector) IncActionScheduled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsScheduled++
	c.mu.Unlock()
}

func (c *Collector) IncActionRemoved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsRemoved++
	c.mu.Unlock()
}

func (c *Collector) IncActionExpired() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsExpired++
	c.mu.Unlock()
}

// --- Packages / fragments ---

func (c *Collector) IncPackageSubmitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packagesSubmitted++
	c.mu.Unlock()
}

func (c *Collector) IncPackageSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packagesSent++
	c.mu.Unlock()
}

func (c *Collector) IncPackageFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packagesFailed++
	c.mu.Unlock()
}

func (c *Collector) IncFragmentEncoded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsEncoded++
	c.mu.Unlock()
}

func (c *Collector) IncFragmentSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsSent++
	c.mu.Unlock()
}

func (c *Collector) IncFragmentFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsFailed++
	c.mu.Unlock()
}

func (c *Collector) IncFragmentReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fragmentsReceived++
	c.mu.Unlock()
}

// --- Dispatcher ---

func (c *Collector) IncPostEnqueued() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.postsEnqueued++
	c.mu.Unlock()
}

func (c *Collector) IncPostExecuted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.postsExecuted++
	c.mu.Unlock()
}

func (c *Collector) IncPostError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.postErrors++
	c.mu.Unlock()
}

func (c *Collector) IncPostFatal() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.postFatals++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics. The
// returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ActivationAttempts: c.activationAttempts,
		ActivationFailures: c.activationFailures,
		Deactivations:      c.deactivations,

		LinksCreated:   c.linksCreated,
		LinksLoaded:    c.linksLoaded,
		LinksDestroyed: c.linksDestroyed,

		ConnectionsOpened: c.connectionsOpened,
		ConnectionsClosed: c.connectionsClosed,

		ActionsScheduled: c.actionsScheduled,
		ActionsRemoved:   c.actionsRemoved,
		ActionsExpired:   c.actionsExpired,

		PackagesSubmitted: c.packagesSubmitted,
		PackagesSent:      c.packagesSent,
		PackagesFailed:    c.packagesFailed,
		FragmentsEncoded:  c.fragmentsEncoded,
		FragmentsSent:     c.fragmentsSent,
		FragmentsFailed:   c.fragmentsFailed,
		FragmentsReceived: c.fragmentsReceived,

		PostsEnqueued: c.postsEnqueued,
		PostsExecuted: c.postsExecuted,
		PostErrors:    c.postErrors,
		PostFatals:    c.postFatals,

		ChannelGID: c.channelGID,
		Transport:  c.transport,
		UserModel:  c.userModel,
	}
}
