// Package snapshot implements the flight recorder: a low-frequency
// background sampler, owned by the Lifetime Manager, that records
// redacted link/action/package counts for diagnostic use. It is
// additive to spec.md's CM core (see SPEC_FULL.md, "DOMAIN STACK") and
// never feeds back into CM decisions — a missing or failing sink never
// affects channel state.
package snapshot

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/racecm/log"
)

// Counts is an immutable point-in-time view of one composition's
// resource counts, sampled from the CM's sub-managers. It carries no
// package bytes or link properties — only counts — so a snapshot
// sink never observes payload content.
type Counts struct {
	ChannelGID       string `msgpack:"channel_gid"`
	State            string `msgpack:"state"`
	SampledAtUnixMs  int64  `msgpack:"sampled_at_unix_ms"`
	Links            int    `msgpack:"links"`
	Connections      int    `msgpack:"connections"`
	QueuedActions    int    `msgpack:"queued_actions"`
	PendingPackages  int    `msgpack:"pending_packages"`
	PendingFragments int    `msgpack:"pending_fragments"`
}

// Encode msgpack-encodes the snapshot for a Sink.
func (c Counts) Encode() ([]byte, error) {
	return msgpack.Marshal(c)
}

// Sink persists one snapshot. Implementations must not block
// the recorder goroutine beyond a reasonable write timeout; the
// recorder always calls Write with a bounded context.
type Sink interface {
	Write(ctx context.Context, snap Counts) error
}

// Recorder samples collect() on a fixed interval and ships the result
// through sink, until Stop joins the goroutine. A Write failure is
// logged and dropped — diagnostic-only, per the "no reliable-delivery
// guarantees at the CM layer" non-goal (spec §1).
type Recorder struct {
	sink     Sink
	interval time.Duration
	collect  func() Counts
	log      *log.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRecorder constructs a Recorder. collect is called on the
// recorder's own goroutine, never on the CM dispatcher, so it must be
// safe to call from a different goroutine than the one that produced
// the counts (callers typically snapshot under the CM's state via a
// short-lived closure captured at Lifetime.startRecorder time).
func NewRecorder(sink Sink, interval time.Duration, collect func() Counts, logger *log.Logger) *Recorder {
	return &Recorder{
		sink:     sink,
		interval: interval,
		collect:  collect,
		log:      logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (r *Recorder) Start() {
	go r.run()
}

func (r *Recorder) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sampleOnce()
		}
	}
}

func (r *Recorder) sampleOnce() {
	snap := r.collect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.Write(ctx, snap); err != nil && r.log != nil {
		r.log.Warn("snapshot: write failed", map[string]any{"error": err.Error()})
	}
}

// Stop signals the sampling goroutine to exit and waits for it to join.
func (r *Recorder) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
