package lifetime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

type fakeTransport struct{}

func (fakeTransport) SupportedActions() map[string][]string { return nil }
func (fakeTransport) GetActionParams(types.Action) ([]types.EncodingParameters, error) {
	return nil, nil
}
func (fakeTransport) DoAction([]types.FragmentHandle, types.Action) error { return nil }
func (fakeTransport) CreateLink(types.LinkID, types.ChannelGID) error     { return nil }
func (fakeTransport) LoadLinkAddress(types.LinkID, types.ChannelGID, string) error {
	return nil
}
func (fakeTransport) LoadLinkAddresses(types.LinkID, types.ChannelGID, []string) error {
	return nil
}
func (fakeTransport) CreateLinkFromAddress(types.LinkID, types.ChannelGID, string) error {
	return nil
}
func (fakeTransport) DestroyLink(types.LinkID) error              { return nil }
func (fakeTransport) LinkProperties(types.LinkID) (string, error) { return "", nil }
func (fakeTransport) EnqueueContent(types.EncodingParameters, types.Action, []byte) error {
	return nil
}

type fakeUserModel struct{}

func (fakeUserModel) TimelineLength() float64                           { return 0 }
func (fakeUserModel) TimelineFetchPeriod() float64                      { return 0 }
func (fakeUserModel) GetTimeline(float64, float64) ([]types.Action, error) { return nil, nil }
func (fakeUserModel) OnSendPackage(types.LinkID, []byte) ([]types.Action, error) {
	return nil, nil
}

type fakeEncoding struct{ mime string }

func (f fakeEncoding) Type() string                                              { return f.mime }
func (f fakeEncoding) Properties(types.EncodingParameters) (int, error)          { return 0, nil }
func (f fakeEncoding) EncodingTime() float64                                     { return 0 }
func (f fakeEncoding) EncodeBytes(string, types.EncodingParameters, []byte) error { return nil }
func (f fakeEncoding) DecodeBytes(string, types.EncodingParameters, []byte) error { return nil }

// startingFactories builds Factories whose callbacks immediately report
// STARTED, simulating three well-behaved children.
func startingFactories(numEncodings int) Factories {
	encFactories := make([]func(component.EncodeCallbacks) (component.Encoding, error), numEncodings)
	for i := range encFactories {
		encFactories[i] = func(cb component.EncodeCallbacks) (component.Encoding, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return fakeEncoding{mime: "application/octet-stream"}, nil
		}
	}
	return Factories{
		Transport: func(cb component.TransportCallbacks) (component.Transport, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return fakeTransport{}, nil
		},
		UserModel: func(cb component.UserModelCallbacks) (component.UserModel, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return fakeUserModel{}, nil
		},
		Encodings: encFactories,
	}
}

// callbacksFor builds a Callbacks value shaped like a real cm.Facade's:
// the facade posts every UpdateState report to its dispatcher, so it
// reaches OnComponentStateChanged only after Activate has returned.
// Reports are queued here and delivered by the returned flush func.
func callbacksFor(m *Manager) (Callbacks, func()) {
	var queued []func()
	reporter := func(kind types.ComponentKind, index int) func(types.ComponentState) {
		return func(s types.ComponentState) {
			queued = append(queued, func() { m.OnComponentStateChanged(kind, index, s) })
		}
	}
	flush := func() {
		for len(queued) > 0 {
			next := queued[0]
			queued = queued[1:]
			next()
		}
	}
	return Callbacks{
		Transport: updateStateOnly{reporter(types.ComponentTransport, 0)},
		UserModel: updateStateOnly{reporter(types.ComponentUserModel, 0)},
		Encoding: func(index int) component.EncodeCallbacks {
			return encodeCallbacksOnly{reporter(types.ComponentEncoding, index)}
		},
	}, flush
}

// updateStateOnly implements both TransportCallbacks and
// UserModelCallbacks minimally, since no test here drives a link status
// change, package status change, receive, or timeline update.
type updateStateOnly struct {
	onUpdateState func(types.ComponentState)
}

func (u updateStateOnly) UpdateState(s types.ComponentState) { u.onUpdateState(s) }
func (u updateStateOnly) OnLinkStatusChanged(types.LinkID, types.LinkStatus) {}
func (u updateStateOnly) OnPackageStatusChanged(types.FragmentHandle, types.TransportSendStatus) {}
func (u updateStateOnly) OnReceive(types.LinkID, types.EncodingParameters, []byte)  {}
func (u updateStateOnly) OnTimelineUpdated()                                       {}

type encodeCallbacksOnly struct {
	onUpdateState func(types.ComponentState)
}

func (e encodeCallbacksOnly) UpdateState(s types.ComponentState) { e.onUpdateState(s) }
func (e encodeCallbacksOnly) OnBytesEncoded(string, []byte, types.TransportSendStatus) {}
func (e encodeCallbacksOnly) OnBytesDecoded(string, []byte, types.TransportSendStatus) {}

func newTestManager() *Manager {
	return New(nil, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"), Config{})
}

func TestActivate_AllChildrenStarted_ReachesActivated(t *testing.T) {
	m := newTestManager()

	var states []types.State
	var channelStatuses []types.ChannelStatus
	readyCalled := false
	activationDoneCalled := false

	m.SetHooks(Hooks{
		SetState:      func(s types.State) { states = append(states, s) },
		NotifyChannel: func(s types.ChannelStatus) { channelStatuses = append(channelStatuses, s) },
		ComponentsReady: func(component.Transport, component.UserModel, []component.Encoding) error {
			readyCalled = true
			return nil
		},
		ActivationDone: func() { activationDoneCalled = true },
		TornDown:       func() {},
	})

	cbs, flush := callbacksFor(m)
	require.Nil(t, m.Activate(startingFactories(1), cbs))
	flush()

	require.True(t, readyCalled, "expected ComponentsReady to be called")
	require.True(t, activationDoneCalled, "expected ActivationDone once every child reports STARTED")
	require.NotEmpty(t, states)
	require.Equal(t, types.StateActivated, states[len(states)-1])
	require.Equal(t, []types.ChannelStatus{types.ChannelAvailable}, channelStatuses)
	require.True(t, m.HoldsChildren())
}

func TestOnComponentStateChanged_OneChildFailed_FailsTheChannel(t *testing.T) {
	m := newTestManager()

	var channelStatuses []types.ChannelStatus
	tornDown := false
	m.SetHooks(Hooks{
		SetState:        func(types.State) {},
		NotifyChannel:   func(s types.ChannelStatus) { channelStatuses = append(channelStatuses, s) },
		ComponentsReady: func(component.Transport, component.UserModel, []component.Encoding) error { return nil },
		TornDown:        func() { tornDown = true },
	})

	// A transport that never reports STARTED; the user-model and
	// encoding report STARTED, then the transport reports FAILED.
	factories := Factories{
		Transport: func(component.TransportCallbacks) (component.Transport, error) {
			return fakeTransport{}, nil
		},
		UserModel: func(cb component.UserModelCallbacks) (component.UserModel, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return fakeUserModel{}, nil
		},
		Encodings: []func(component.EncodeCallbacks) (component.Encoding, error){
			func(cb component.EncodeCallbacks) (component.Encoding, error) {
				cb.UpdateState(types.ComponentStateStarted)
				return fakeEncoding{mime: "application/octet-stream"}, nil
			},
		},
	}

	cbs, flush := callbacksFor(m)
	require.Nil(t, m.Activate(factories, cbs))
	flush()

	m.OnComponentStateChanged(types.ComponentTransport, 0, types.ComponentStateFailed)

	require.Equal(t, []types.ChannelStatus{types.ChannelFailed}, channelStatuses)
	require.True(t, tornDown)
	require.False(t, m.HoldsChildren())

	// Close must not panic now that no children are held.
	m.Close()
}

func TestDeactivate_ReturnsToUnactivatedAndReleasesChildren(t *testing.T) {
	m := newTestManager()

	var channelStatuses []types.ChannelStatus
	var states []types.State
	m.SetHooks(Hooks{
		SetState:        func(s types.State) { states = append(states, s) },
		NotifyChannel:   func(s types.ChannelStatus) { channelStatuses = append(channelStatuses, s) },
		ComponentsReady: func(component.Transport, component.UserModel, []component.Encoding) error { return nil },
		TornDown:        func() {},
	})

	cbs, flush := callbacksFor(m)
	require.Nil(t, m.Activate(startingFactories(0), cbs))
	flush()

	m.Deactivate()

	require.False(t, m.HoldsChildren())
	require.Equal(t, types.StateUnactivated, states[len(states)-1])
	require.Equal(t, types.ChannelEnabled, channelStatuses[len(channelStatuses)-1])

	m.Close() // must not panic: no children held
}

func TestClose_PanicsWhileChildrenAreHeld(t *testing.T) {
	m := newTestManager()
	m.SetHooks(Hooks{
		SetState:        func(types.State) {},
		NotifyChannel:   func(types.ChannelStatus) {},
		ComponentsReady: func(component.Transport, component.UserModel, []component.Encoding) error { return nil },
		TornDown:        func() {},
	})
	cbs, _ := callbacksFor(m)
	require.Nil(t, m.Activate(startingFactories(0), cbs))

	defer func() {
		require.NotNil(t, recover(), "expected Close to panic while children are still held")
	}()
	m.Close()
}
