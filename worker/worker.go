// Package worker implements the single-goroutine "component wrapper" each
// Transport, UserModel, and Encoding is pinned to (spec §4.8): calls into a
// child component are always posted onto its own serial queue, never
// invoked from the CM thread directly.
package worker

import (
	"context"
	"fmt"
)

// ErrorHandler is invoked when an async Post's closure returns an error.
// fatal reports whether the error should be treated as FATAL (e.g. a
// panic recovered inside the closure is always fatal).
type ErrorHandler func(err error, fatal bool)

// Worker is a single serial work queue backed by one goroutine. It is the
// Go shape of the original's per-component worker thread.
type Worker struct {
	queue   chan func()
	onError ErrorHandler
}

// New starts a worker goroutine with the given queue depth and error
// handler. onError may be nil, in which case errors are silently dropped.
func New(queueDepth int, onError ErrorHandler) *Worker {
	w := &Worker{
		queue:   make(chan func(), queueDepth),
		onError: onError,
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	for fn := range w.queue {
		fn()
	}
}

// Post enqueues fn to run asynchronously on the worker goroutine. A
// returned error (or a recovered panic) is reported to the error handler;
// panics are always reported as fatal.
func (w *Worker) Post(fn func() error) {
	w.queue <- func() {
		fatal := false
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker: panic: %v", r)
					fatal = true
				}
			}()
			return fn()
		}()
		if err != nil && w.onError != nil {
			w.onError(err, fatal)
		}
	}
}

// PostSync posts fn and blocks until it has run, returning its result.
// Used for getters (properties, action params, timeline) where the caller
// needs the value before proceeding.
func PostSync[T any](ctx context.Context, w *Worker, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resultCh := make(chan result, 1)
	w.queue <- func() {
		val, err := fn()
		resultCh <- result{val: val, err: err}
	}
	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain blocks until every closure posted before this call has finished
// executing. It posts a sentinel no-op rather than polling queue length,
// avoiding the race between "queue empty" and "closure still running".
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	w.queue <- func() { close(done) }
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work immediately; a Post after Close
// panics. The worker goroutine exits after the closures already queued
// have run.
func (w *Worker) Close() {
	close(w.queue)
}
