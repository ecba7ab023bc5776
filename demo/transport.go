// Package demo supplies in-memory Transport, UserModel, Encoding, and
// SDKCallbacks implementations that drive a cm.Facade end to end
// without any real wire, used by the racecm demo CLI (SPEC_FULL.md,
// "DOMAIN STACK"/demo harness). Grounded on pkgmgr_test.go's and
// action_test.go's fakes, generalized into a reusable harness with
// goroutine-driven async callbacks instead of test-inline calls.
package demo

import (
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/racecm/component"
	"github.com/justapithecus/racecm/types"
)

// LinkType is the only link type this harness's Transport advertises.
const LinkType = "demo-link"

// MimeType is the only encoding type this harness's Transport requests.
const MimeType = "application/x-demo-envelope"

// Transport is an in-memory component.Transport: links and connections
// exist only as map entries, and EnqueueContent appends to an
// inspectable log instead of touching a network.
type Transport struct {
	cb component.TransportCallbacks

	mu          sync.Mutex
	links       map[types.LinkID]bool
	actionFrags map[types.ActionID][]types.FragmentHandle
	sent        [][]byte
}

// NewTransport constructs a Transport and reports STARTED asynchronously,
// mirroring a real component's own construction latency.
func NewTransport(cb component.TransportCallbacks) (component.Transport, error) {
	t := &Transport{
		cb:          cb,
		links:       make(map[types.LinkID]bool),
		actionFrags: make(map[types.ActionID][]types.FragmentHandle),
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		cb.UpdateState(types.ComponentStateStarted)
	}()
	return t, nil
}

func (t *Transport) SupportedActions() map[string][]string {
	return map[string][]string{LinkType: {MimeType}}
}

func (t *Transport) CreateLink(linkID types.LinkID, channelGID types.ChannelGID) error {
	t.mu.Lock()
	t.links[linkID] = true
	t.mu.Unlock()
	go func() {
		time.Sleep(2 * time.Millisecond)
		t.cb.OnLinkStatusChanged(linkID, types.LinkCreated)
	}()
	return nil
}

func (t *Transport) LoadLinkAddress(linkID types.LinkID, channelGID types.ChannelGID, address string) error {
	return t.CreateLink(linkID, channelGID)
}

func (t *Transport) LoadLinkAddresses(linkID types.LinkID, channelGID types.ChannelGID, addresses []string) error {
	return t.CreateLink(linkID, channelGID)
}

func (t *Transport) CreateLinkFromAddress(linkID types.LinkID, channelGID types.ChannelGID, address string) error {
	return t.CreateLink(linkID, channelGID)
}

func (t *Transport) DestroyLink(linkID types.LinkID) error {
	t.mu.Lock()
	delete(t.links, linkID)
	t.mu.Unlock()
	go func() {
		t.cb.OnLinkStatusChanged(linkID, types.LinkDestroyed)
	}()
	return nil
}

func (t *Transport) LinkProperties(linkID types.LinkID) (string, error) {
	return fmt.Sprintf(`{"link_id":%q,"type":%q}`, linkID, LinkType), nil
}

func (t *Transport) GetActionParams(action types.Action) ([]types.EncodingParameters, error) {
	return []types.EncodingParameters{{Type: MimeType, EncodePackage: true}}, nil
}

func (t *Transport) DoAction(handles []types.FragmentHandle, action types.Action) error {
	t.mu.Lock()
	t.actionFrags[action.ActionID] = handles
	t.mu.Unlock()
	return nil
}

// EnqueueContent records the wire bytes and reports every fragment
// assigned to this action as SENT, simulating an immediate successful
// transmission.
func (t *Transport) EnqueueContent(params types.EncodingParameters, action types.Action, bytes []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, append([]byte(nil), bytes...))
	handles := t.actionFrags[action.ActionID]
	delete(t.actionFrags, action.ActionID)
	t.mu.Unlock()

	go func() {
		for _, fh := range handles {
			t.cb.OnPackageStatusChanged(fh, types.SendStatusSent)
		}
	}()
	return nil
}

// SentCount reports how many wire payloads this transport has enqueued,
// used by the inspect TUI.
func (t *Transport) SentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
