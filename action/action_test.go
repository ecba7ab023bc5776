package action

import (
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

type fakeEncoding struct {
	mime     string
	maxBytes int
	encTime  float64
}

func (f *fakeEncoding) Type() string { return f.mime }
func (f *fakeEncoding) Properties(types.EncodingParameters) (int, error) {
	return f.maxBytes, nil
}
func (f *fakeEncoding) EncodingTime() float64                                      { return f.encTime }
func (f *fakeEncoding) EncodeBytes(string, types.EncodingParameters, []byte) error { return nil }
func (f *fakeEncoding) DecodeBytes(string, types.EncodingParameters, []byte) error { return nil }

type fakeTransport struct {
	mu      sync.Mutex
	actions map[types.ActionID][]types.EncodingParameters
	done    []types.ActionID
}

func (f *fakeTransport) SupportedActions() map[string][]string {
	return map[string][]string{"send": {"application/octet-stream"}}
}
func (f *fakeTransport) GetActionParams(a types.Action) ([]types.EncodingParameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[a.ActionID], nil
}
func (f *fakeTransport) DoAction(handles []types.FragmentHandle, a types.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, a.ActionID)
	return nil
}
func (f *fakeTransport) CreateLink(types.LinkID, types.ChannelGID) error              { return nil }
func (f *fakeTransport) LoadLinkAddress(types.LinkID, types.ChannelGID, string) error { return nil }
func (f *fakeTransport) LoadLinkAddresses(types.LinkID, types.ChannelGID, []string) error {
	return nil
}
func (f *fakeTransport) CreateLinkFromAddress(types.LinkID, types.ChannelGID, string) error {
	return nil
}
func (f *fakeTransport) DestroyLink(types.LinkID) error              { return nil }
func (f *fakeTransport) LinkProperties(types.LinkID) (string, error) { return "", nil }
func (f *fakeTransport) EnqueueContent(types.EncodingParameters, types.Action, []byte) error {
	return nil
}

type fakeUserModel struct {
	timeline []types.Action
}

func (f *fakeUserModel) TimelineLength() float64      { return 10 }
func (f *fakeUserModel) TimelineFetchPeriod() float64 { return 5 }
func (f *fakeUserModel) GetTimeline(start, end float64) ([]types.Action, error) {
	var out []types.Action
	for _, a := range f.timeline {
		if a.Timestamp >= start && a.Timestamp < end {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeUserModel) OnSendPackage(types.LinkID, []byte) ([]types.Action, error) {
	return nil, nil
}

func newTestManager(transport *fakeTransport, um *fakeUserModel, encodings []component.Encoding, clock func() float64) *Manager {
	return New(transport, um, encodings, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"), clock)
}

func TestSetup_ComputesMaxEncodingTime(t *testing.T) {
	transport := &fakeTransport{actions: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100, encTime: 0.4}
	m := newTestManager(transport, um, []component.Encoding{enc}, func() float64 { return 1000.0 })

	if err := m.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	want := 0.4 + dispatcherSlack
	if m.maxEncodingTime != want {
		t.Errorf("maxEncodingTime = %v, want %v", m.maxEncodingTime, want)
	}
	if m.timelineLength != 10 {
		t.Errorf("timelineLength = %v, want 10", m.timelineLength)
	}
}

func TestFetch_CreatesActionInfos(t *testing.T) {
	clock := 1000.0
	params := []types.EncodingParameters{{LinkID: "link-1", Type: "application/octet-stream", EncodePackage: true}}
	transport := &fakeTransport{actions: map[types.ActionID][]types.EncodingParameters{"a1": params}}
	um := &fakeUserModel{timeline: []types.Action{{Timestamp: clock + 1, ActionID: "a1"}}}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}

	m := newTestManager(transport, um, []component.Encoding{enc}, func() float64 { return clock })
	if err := m.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := m.Fetch(); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deque) != 1 {
		t.Fatalf("deque has %d entries, want 1", len(m.deque))
	}
	ai := m.deque[0]
	if ai.LinkID != "link-1" {
		t.Errorf("LinkID = %q, want link-1", ai.LinkID)
	}
	if len(ai.Encodings) != 1 || ai.Encodings[0].MaxBytes != 100 {
		t.Errorf("Encodings = %+v, want one with MaxBytes=100", ai.Encodings)
	}
}

func TestExecuteAction_RemovesFromDeque(t *testing.T) {
	clock := 1000.0
	params := []types.EncodingParameters{{LinkID: "link-1", Type: "application/octet-stream", EncodePackage: true}}
	transport := &fakeTransport{actions: map[types.ActionID][]types.EncodingParameters{"a1": params}}
	um := &fakeUserModel{timeline: []types.Action{{Timestamp: clock + 1, ActionID: "a1"}}}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}

	m := newTestManager(transport, um, []component.Encoding{enc}, func() float64 { return clock })
	_ = m.Setup()
	_ = m.Fetch()

	m.mu.Lock()
	ai := m.deque[0]
	m.mu.Unlock()

	var notified types.ActionID
	m.SetHooks(Hooks{NotifyActionDone: func(id types.ActionID) { notified = id }})

	if err := m.ExecuteAction(ai); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	if notified != "a1" {
		t.Errorf("notified = %q, want a1", notified)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deque) != 0 {
		t.Errorf("deque has %d entries, want 0 after execute", len(m.deque))
	}
	if len(transport.done) != 1 || transport.done[0] != "a1" {
		t.Errorf("transport.done = %v, want [a1]", transport.done)
	}
}

func TestStop_JoinsActionThread(t *testing.T) {
	transport := &fakeTransport{actions: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{}
	m := newTestManager(transport, um, nil, func() float64 { return 1000.0 })
	_ = m.Setup()

	m.Start(func() bool { return true })
	time.Sleep(5 * time.Millisecond)
	m.Stop()
}
