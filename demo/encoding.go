package demo

import (
	"sync"
	"time"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/types"
)

// Encoding is an in-memory component.Encoding: EncodeBytes/DecodeBytes
// are identity transforms (the wire bytes it "encodes" are exactly
// what it was handed), run on a short delay on their own goroutine to
// exercise the asynchronous encode-completion path through
// EncodeCallbacks.OnBytesEncoded.
type Encoding struct {
	cb       component.EncodeCallbacks
	maxBytes int

	mu      sync.Mutex
	encoded int
}

// NewEncoding returns a factory for an Encoding capping each action's
// wire payload at maxBytes. The Encoding always advertises MimeType;
// the mimeType argument is not read.
func NewEncoding(mimeType string, maxBytes int) func(component.EncodeCallbacks) (component.Encoding, error) {
	return func(cb component.EncodeCallbacks) (component.Encoding, error) {
		e := &Encoding{cb: cb, maxBytes: maxBytes}
		go func() {
			time.Sleep(2 * time.Millisecond)
			cb.UpdateState(types.ComponentStateStarted)
		}()
		return e, nil
	}
}

func (e *Encoding) Type() string { return MimeType }

func (e *Encoding) Properties(params types.EncodingParameters) (int, error) {
	return e.maxBytes, nil
}

func (e *Encoding) EncodingTime() float64 { return 0.001 }

func (e *Encoding) EncodeBytes(handle string, params types.EncodingParameters, bytes []byte) error {
	go func() {
		time.Sleep(time.Millisecond)
		e.mu.Lock()
		e.encoded++
		e.mu.Unlock()
		e.cb.OnBytesEncoded(handle, bytes, types.SendStatusSent)
	}()
	return nil
}

func (e *Encoding) DecodeBytes(handle string, params types.EncodingParameters, bytes []byte) error {
	go func() {
		time.Sleep(time.Millisecond)
		e.cb.OnBytesDecoded(handle, bytes, types.SendStatusSent)
	}()
	return nil
}

// EncodedCount reports how many encode calls have completed, used by
// the inspect TUI.
func (e *Encoding) EncodedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encoded
}
