package conn

import (
	"testing"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/link"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/metrics"
	"github.com/justapithecus/racecm/types"
)

type fakeTransport struct {
	component.Transport
	properties string
}

func (f *fakeTransport) CreateLink(types.LinkID, types.ChannelGID) error { return nil }
func (f *fakeTransport) LinkProperties(types.LinkID) (string, error)     { return f.properties, nil }

type fakeSDK struct {
	component.SDKCallbacks
	nextConnID types.ConnectionID
	openCalls  []types.ConnectionID
	closeCalls []types.ConnectionID
}

func (f *fakeSDK) GenerateLinkID(types.ChannelGID) types.LinkID { return "link-1" }
func (f *fakeSDK) GenerateConnectionID(types.LinkID) types.ConnectionID {
	return f.nextConnID
}
func (f *fakeSDK) OnLinkStatusChanged(types.LinkID, types.LinkStatus, string) {}
func (f *fakeSDK) OnConnectionStatusChanged(handle uint64, id types.ConnectionID, status types.ConnectionStatus) {
	if status == types.ConnectionOpen {
		f.openCalls = append(f.openCalls, id)
	} else {
		f.closeCalls = append(f.closeCalls, id)
	}
}

func setup(t *testing.T) (*fakeSDK, *Manager) {
	t.Helper()
	sdk := &fakeSDK{nextConnID: "conn-1"}
	transport := &fakeTransport{properties: "props"}
	links := link.New(transport, sdk, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"))
	_ = links.OnLinkStatusChanged("link-1", types.LinkCreated, nil)
	m := New(links, sdk, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"))
	return sdk, m
}

func TestOpenConnection_MissingLink(t *testing.T) {
	sdk := &fakeSDK{nextConnID: "conn-1"}
	transport := &fakeTransport{}
	links := link.New(transport, sdk, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"))
	m := New(links, sdk, log.NewLogger(nil), metrics.NewCollector("gid", "t", "u"))

	_, err := m.OpenConnection(1, "send", "missing-link", "", 0)
	if err == nil {
		t.Fatal("expected error for missing link")
	}
}

func TestOpenAndCloseConnection(t *testing.T) {
	sdk, m := setup(t)

	id, err := m.OpenConnection(1, "send", "link-1", "", 0)
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	if id != "conn-1" {
		t.Errorf("id = %q, want conn-1", id)
	}
	if len(sdk.openCalls) != 1 {
		t.Errorf("expected 1 open call, got %d", len(sdk.openCalls))
	}

	if err := m.CloseConnection(1, id); err != nil {
		t.Fatalf("CloseConnection: %v", err)
	}
	if len(sdk.closeCalls) != 1 {
		t.Errorf("expected 1 close call, got %d", len(sdk.closeCalls))
	}
	if _, ok := m.Get(id); ok {
		t.Error("expected connection to be removed after close")
	}
}

func TestCloseConnection_Missing(t *testing.T) {
	_, m := setup(t)
	if err := m.CloseConnection(1, "nonexistent"); err == nil {
		t.Fatal("expected error for missing connection")
	}
}

func TestCloseAllForLink(t *testing.T) {
	sdk, m := setup(t)
	_, _ = m.OpenConnection(1, "send", "link-1", "", 0)

	m.CloseAllForLink(1, "link-1")

	if len(sdk.closeCalls) != 1 {
		t.Errorf("expected cascade to close 1 connection, got %d", len(sdk.closeCalls))
	}
	if len(m.conns) != 0 {
		t.Error("expected all connections removed")
	}
}
