package demo

import (
	"sync"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/lifetime"
)

// Harness wraps the package's Transport/UserModel/Encoding factories,
// capturing each constructed instance so a CLI can inspect live counts
// after lifetime.Manager.Activate builds them. The Facade itself only
// ever sees the component.* interfaces; Harness's captured pointers are
// for observability, never called into by anything but the inspect view.
type Harness struct {
	now          func() float64
	actionPeriod float64
	actionWindow float64
	maxBytes     int
	numEncodings int

	mu         sync.Mutex
	transport  *Transport
	userModel  *UserModel
	encodings  []*Encoding
}

// NewHarness builds a Harness whose UserModel schedules one action
// every actionPeriod seconds with actionWindow seconds of lookahead,
// and whose numEncodings Encodings each cap a wire payload at maxBytes.
func NewHarness(now func() float64, actionPeriod, actionWindow float64, maxBytes, numEncodings int) *Harness {
	return &Harness{now: now, actionPeriod: actionPeriod, actionWindow: actionWindow, maxBytes: maxBytes, numEncodings: numEncodings}
}

// Factories returns the lifetime.Factories a cm.Facade should be
// constructed with to drive this harness.
func (h *Harness) Factories() lifetime.Factories {
	encodings := make([]func(component.EncodeCallbacks) (component.Encoding, error), h.numEncodings)
	for i := range encodings {
		encodings[i] = h.wrapEncoding(NewEncoding(MimeType, h.maxBytes))
	}
	return lifetime.Factories{
		Transport: h.wrapTransport(NewTransport),
		UserModel: h.wrapUserModel(NewUserModel(h.now, h.actionPeriod, h.actionWindow)),
		Encodings: encodings,
	}
}

func (h *Harness) wrapTransport(f func(component.TransportCallbacks) (component.Transport, error)) func(component.TransportCallbacks) (component.Transport, error) {
	return func(cb component.TransportCallbacks) (component.Transport, error) {
		c, err := f(cb)
		if err != nil {
			return nil, err
		}
		t := c.(*Transport)
		h.mu.Lock()
		h.transport = t
		h.mu.Unlock()
		return t, nil
	}
}

func (h *Harness) wrapUserModel(f func(component.UserModelCallbacks) (component.UserModel, error)) func(component.UserModelCallbacks) (component.UserModel, error) {
	return func(cb component.UserModelCallbacks) (component.UserModel, error) {
		c, err := f(cb)
		if err != nil {
			return nil, err
		}
		um := c.(*UserModel)
		h.mu.Lock()
		h.userModel = um
		h.mu.Unlock()
		return um, nil
	}
}

func (h *Harness) wrapEncoding(f func(component.EncodeCallbacks) (component.Encoding, error)) func(component.EncodeCallbacks) (component.Encoding, error) {
	return func(cb component.EncodeCallbacks) (component.Encoding, error) {
		c, err := f(cb)
		if err != nil {
			return nil, err
		}
		e := c.(*Encoding)
		h.mu.Lock()
		h.encodings = append(h.encodings, e)
		h.mu.Unlock()
		return e, nil
	}
}

// Transport returns the last-constructed Transport, or nil before
// activation completes.
func (h *Harness) Transport() *Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

// UserModel returns the last-constructed UserModel, or nil before
// activation completes.
func (h *Harness) UserModel() *UserModel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userModel
}

// EncodedCount sums every constructed Encoding's completed-encode count.
func (h *Harness) EncodedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, e := range h.encodings {
		total += e.EncodedCount()
	}
	return total
}
