package cm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/lifetime"
	"github.com/justapithecus/racecm/types"
)

type fakeEncoding struct {
	mime     string
	maxBytes int
}

func (f *fakeEncoding) Type() string { return f.mime }
func (f *fakeEncoding) Properties(types.EncodingParameters) (int, error) {
	return f.maxBytes, nil
}
func (f *fakeEncoding) EncodingTime() float64                                      { return 0 }
func (f *fakeEncoding) EncodeBytes(string, types.EncodingParameters, []byte) error { return nil }
func (f *fakeEncoding) DecodeBytes(string, types.EncodingParameters, []byte) error { return nil }

type fakeTransport struct {
	cb           component.TransportCallbacks
	actionParams map[types.ActionID][]types.EncodingParameters
}

func (f *fakeTransport) SupportedActions() map[string][]string {
	return map[string][]string{"send": {"application/octet-stream"}}
}
func (f *fakeTransport) GetActionParams(a types.Action) ([]types.EncodingParameters, error) {
	return f.actionParams[a.ActionID], nil
}
func (f *fakeTransport) DoAction([]types.FragmentHandle, types.Action) error { return nil }
func (f *fakeTransport) CreateLink(id types.LinkID, _ types.ChannelGID) error {
	f.cb.OnLinkStatusChanged(id, types.LinkCreated)
	return nil
}
func (f *fakeTransport) LoadLinkAddress(types.LinkID, types.ChannelGID, string) error { return nil }
func (f *fakeTransport) LoadLinkAddresses(types.LinkID, types.ChannelGID, []string) error {
	return nil
}
func (f *fakeTransport) CreateLinkFromAddress(types.LinkID, types.ChannelGID, string) error {
	return nil
}
func (f *fakeTransport) DestroyLink(id types.LinkID) error {
	f.cb.OnLinkStatusChanged(id, types.LinkDestroyed)
	return nil
}
func (f *fakeTransport) LinkProperties(types.LinkID) (string, error) { return "props", nil }
func (f *fakeTransport) EnqueueContent(types.EncodingParameters, types.Action, []byte) error {
	return nil
}

type fakeUserModel struct {
	timeline []types.Action
}

func (f *fakeUserModel) TimelineLength() float64      { return 100 }
func (f *fakeUserModel) TimelineFetchPeriod() float64 { return 100 }
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

// fakeSDK embeds the interface so only the methods a given test cares
// about need overriding; calling an un-overridden method would panic on
// the nil embed, which no test here exercises.
type fakeSDK struct {
	component.SDKCallbacks

	mu            sync.Mutex
	channelStatus []types.ChannelStatus
	linkStatus    map[types.LinkID]types.LinkStatus
	linkSeq       int
	connSeq       int
	asyncErrors   []types.Kind
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{linkStatus: make(map[types.LinkID]types.LinkStatus)}
}

func (f *fakeSDK) OnChannelStatusChanged(_ types.ChannelGID, status types.ChannelStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelStatus = append(f.channelStatus, status)
}
func (f *fakeSDK) OnLinkStatusChanged(id types.LinkID, status types.LinkStatus, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkStatus[id] = status
}
func (f *fakeSDK) OnConnectionStatusChanged(uint64, types.ConnectionID, types.ConnectionStatus) {}
func (f *fakeSDK) OnPackageStatusChanged(types.PackageHandle, types.PackageOutcome)             {}
func (f *fakeSDK) ReceiveEncPkg([]byte, []types.ConnectionID)                                   {}
func (f *fakeSDK) UnblockQueue(types.ConnectionID)                                              {}
func (f *fakeSDK) GenerateLinkID(types.ChannelGID) types.LinkID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkSeq++
	return types.LinkID(fmt.Sprintf("link-%d", f.linkSeq))
}
func (f *fakeSDK) GenerateConnectionID(types.LinkID) types.ConnectionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connSeq++
	return types.ConnectionID(fmt.Sprintf("conn-%d", f.connSeq))
}
func (f *fakeSDK) AsyncError(_ uint64, kind types.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asyncErrors = append(f.asyncErrors, kind)
}

func (f *fakeSDK) sawChannelStatus(want types.ChannelStatus) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.channelStatus {
		if s == want {
			return true
		}
	}
	return false
}

func (f *fakeSDK) linkStatusOf(id types.LinkID) (types.LinkStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.linkStatus[id]
	return s, ok
}

func newTestFacade(transport *fakeTransport, um *fakeUserModel, encodings []*fakeEncoding, sdk *fakeSDK) *Facade {
	encFactories := make([]func(component.EncodeCallbacks) (component.Encoding, error), len(encodings))
	for i, e := range encodings {
		e := e
		encFactories[i] = func(cb component.EncodeCallbacks) (component.Encoding, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return e, nil
		}
	}

	factories := lifetime.Factories{
		Transport: func(cb component.TransportCallbacks) (component.Transport, error) {
			transport.cb = cb
			cb.UpdateState(types.ComponentStateStarted)
			return transport, nil
		},
		UserModel: func(cb component.UserModelCallbacks) (component.UserModel, error) {
			cb.UpdateState(types.ComponentStateStarted)
			return um, nil
		},
		Encodings: encFactories,
	}

	comp := types.Composition{
		ChannelGID: "C",
		Transport:  "fake",
		UserModel:  "fake",
		Encodings:  []string{"application/octet-stream"},
	}

	return New(Config{
		Composition: comp,
		Mode:        types.EncodingModeSingle,
		SDK:         sdk,
		Factories:   factories,
		Now:         func() float64 { return 1000 },
	})
}

// asGoErr converts a possibly-nil *types.CMError to a plain error so a
// nil result doesn't become a non-nil typed-nil interface under
// require.NoError.
func asGoErr(err *types.CMError) error {
	if err == nil {
		return nil
	}
	return err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestActivateChannel_AllComponentsStarted_ChannelAvailable(t *testing.T) {
	transport := &fakeTransport{actionParams: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}
	sdk := newFakeSDK()
	f := newTestFacade(transport, um, []*fakeEncoding{enc}, sdk)

	require.NoError(t, asGoErr(f.Init(nil)))

	f.ActivateChannel(2, "C", "R")
	waitFor(t, "CHANNEL_AVAILABLE", func() bool { return sdk.sawChannelStatus(types.ChannelAvailable) })
	waitFor(t, "state ACTIVATED", func() bool { return f.State() == types.StateActivated })
}

func TestActivateChannel_WrongChannelID_IsIgnored(t *testing.T) {
	transport := &fakeTransport{actionParams: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}
	sdk := newFakeSDK()
	f := newTestFacade(transport, um, []*fakeEncoding{enc}, sdk)
	_ = f.Init(nil)

	f.ActivateChannel(1, "not-C", "R")
	time.Sleep(20 * time.Millisecond)

	require.False(t, sdk.sawChannelStatus(types.ChannelAvailable), "activation with a mismatched channel id must be ignored")
	require.Equal(t, types.StateUnactivated, f.State())
}

func TestDeactivateChannel_ReturnsToUnactivatedOnce(t *testing.T) {
	transport := &fakeTransport{actionParams: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{}
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}
	sdk := newFakeSDK()
	f := newTestFacade(transport, um, []*fakeEncoding{enc}, sdk)
	_ = f.Init(nil)

	f.ActivateChannel(7, "C", "R")
	waitFor(t, "CHANNEL_AVAILABLE", func() bool { return sdk.sawChannelStatus(types.ChannelAvailable) })

	f.DeactivateChannel(7, "C")
	waitFor(t, "state UNACTIVATED", func() bool { return f.State() == types.StateUnactivated })
	waitFor(t, "CHANNEL_ENABLED", func() bool { return sdk.sawChannelStatus(types.ChannelEnabled) })

	count := 0
	sdk.mu.Lock()
	for _, s := range sdk.channelStatus {
		if s == types.ChannelEnabled {
			count++
		}
	}
	sdk.mu.Unlock()
	require.Equal(t, 1, count, "CHANNEL_ENABLED must be emitted exactly once")
}

func TestSendPackage_NoFittingAction_ReturnsTempWithoutStateChange(t *testing.T) {
	transport := &fakeTransport{actionParams: map[types.ActionID][]types.EncodingParameters{}}
	um := &fakeUserModel{} // empty timeline: no actions ever fit a package
	enc := &fakeEncoding{mime: "application/octet-stream", maxBytes: 100}
	sdk := newFakeSDK()
	f := newTestFacade(transport, um, []*fakeEncoding{enc}, sdk)
	_ = f.Init(nil)

	f.ActivateChannel(1, "C", "R")
	waitFor(t, "CHANNEL_AVAILABLE", func() bool { return sdk.sawChannelStatus(types.ChannelAvailable) })

	f.CreateLink(2, "C")
	waitFor(t, "link-1 created", func() bool {
		s, ok := sdk.linkStatusOf("link-1")
		return ok && s == types.LinkCreated
	})

	f.OpenConnection(3, "wire", "link-1", "", 0)
	// OpenConnection and SendPackage are both posted on the same FIFO
	// dispatcher queue (spec §5 ordering guarantee), so by the time
	// SendPackage's post_sync returns, the connection is guaranteed open.
	_, cmErr := f.SendPackage("conn-1", []byte("hello"), 0, 0)
	require.NotNil(t, cmErr)
	require.Equal(t, types.KindTemp, cmErr.Kind)
}
