package link

import (
	"errors"
	"testing"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

type fakeTransport struct {
	component.Transport
	createErr  error
	properties string
}

func (f *fakeTransport) CreateLink(types.LinkID, types.ChannelGID) error { return f.createErr }
func (f *fakeTransport) DestroyLink(types.LinkID) error                  { return nil }
func (f *fakeTransport) LinkProperties(types.LinkID) (string, error)     { return f.properties, nil }

type fakeSDK struct {
	component.SDKCallbacks
	nextLinkID     types.LinkID
	statusCalls    []types.LinkStatus
	statusProperty string
}

func (f *fakeSDK) GenerateLinkID(types.ChannelGID) types.LinkID { return f.nextLinkID }
func (f *fakeSDK) OnLinkStatusChanged(id types.LinkID, status types.LinkStatus, properties string) {
	f.statusCalls = append(f.statusCalls, status)
	f.statusProperty = properties
}

func newTestManager(transport *fakeTransport, sdk *fakeSDK) *Manager {
	return New(transport, sdk, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"))
}

func TestCreateLink_Success(t *testing.T) {
	sdk := &fakeSDK{nextLinkID: "link-1"}
	transport := &fakeTransport{}
	m := newTestManager(transport, sdk)

	id, err := m.CreateLink("gid")
	if err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	if id != "link-1" {
		t.Errorf("id = %q, want link-1", id)
	}
}

func TestCreateLink_TransportError(t *testing.T) {
	sdk := &fakeSDK{nextLinkID: "link-1"}
	transport := &fakeTransport{createErr: errors.New("boom")}
	m := newTestManager(transport, sdk)

	_, err := m.CreateLink("gid")
	if err == nil {
		t.Fatal("expected error from transport")
	}
}

func TestOnLinkStatusChanged_CreatedMaterializesLink(t *testing.T) {
	sdk := &fakeSDK{}
	transport := &fakeTransport{properties: "opaque-props"}
	m := newTestManager(transport, sdk)

	var addedID types.LinkID
	var addedParams string
	err := m.OnLinkStatusChanged("link-1", types.LinkCreated, func(id types.LinkID, params string) error {
		addedID, addedParams = id, params
		return nil
	})
	if err != nil {
		t.Fatalf("OnLinkStatusChanged: %v", err)
	}

	l, ok := m.Get("link-1")
	if !ok {
		t.Fatal("expected link record to be materialized")
	}
	if l.Properties != "opaque-props" {
		t.Errorf("Properties = %q, want opaque-props", l.Properties)
	}
	if addedID != "link-1" || addedParams != "opaque-props" {
		t.Errorf("addLink called with (%q, %q)", addedID, addedParams)
	}
	if len(sdk.statusCalls) != 1 || sdk.statusCalls[0] != types.LinkCreated {
		t.Errorf("expected one CREATED status forwarded to SDK, got %v", sdk.statusCalls)
	}
}

func TestOnLinkStatusChanged_DestroyedRemovesLink(t *testing.T) {
	sdk := &fakeSDK{}
	transport := &fakeTransport{properties: "p"}
	m := newTestManager(transport, sdk)

	_ = m.OnLinkStatusChanged("link-1", types.LinkCreated, nil)
	if _, ok := m.Get("link-1"); !ok {
		t.Fatal("precondition: link should exist")
	}

	if err := m.OnLinkStatusChanged("link-1", types.LinkDestroyed, nil); err != nil {
		t.Fatalf("OnLinkStatusChanged destroy: %v", err)
	}
	if _, ok := m.Get("link-1"); ok {
		t.Error("expected link to be removed after DESTROYED")
	}
}

func TestAll_ListsKnownLinks(t *testing.T) {
	sdk := &fakeSDK{}
	transport := &fakeTransport{properties: "p"}
	m := newTestManager(transport, sdk)

	_ = m.OnLinkStatusChanged("link-1", types.LinkCreated, nil)
	_ = m.OnLinkStatusChanged("link-2", types.LinkLoaded, nil)

	ids := m.All()
	if len(ids) != 2 {
		t.Errorf("All() returned %d ids, want 2", len(ids))
	}
}
