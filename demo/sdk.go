package demo

import (
	"crypto/rand"
	"sync"

	"github.com/justapithecus/racecm/idgen"
	"github.com/justapithecus/racecm/log"
	"github.com/justapithecus/racecm/types"
)

// SDK is a component.SDKCallbacks backed by idgen's id generators and
// an in-memory event log, the implementation component.SDKCallbacks'
// doc comment names; the CLI's run command drives it.
type SDK struct {
	log      *log.Logger
	linkIDs  idgen.LinkIDs
	connIDs  idgen.ConnectionIDs

	mu            sync.Mutex
	channelStatus types.ChannelStatus
	events        []string
	lastLinkID    types.LinkID
	lastConnID    types.ConnectionID
}

// NewSDK constructs an SDK callback sink that logs every event through
// logger and keeps the most recent ones for the inspect TUI.
func NewSDK(logger *log.Logger) *SDK {
	return &SDK{log: logger, linkIDs: idgen.NewLinkIDs(), connIDs: idgen.NewConnectionIDs()}
}

func (s *SDK) record(event string) {
	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > 50 {
		s.events = s.events[len(s.events)-50:]
	}
	s.mu.Unlock()
}

// Events returns the most recent SDK callback events, newest last,
// used by the inspect TUI.
func (s *SDK) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// ChannelStatus returns the last channel status reported.
func (s *SDK) ChannelStatus() types.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelStatus
}

func (s *SDK) OnChannelStatusChanged(channelGID types.ChannelGID, status types.ChannelStatus) {
	s.mu.Lock()
	s.channelStatus = status
	s.mu.Unlock()
	s.log.Info("demo sdk: channel status changed", map[string]any{"channel_gid": string(channelGID), "status": status.String()})
	s.record("channel " + status.String())
}

func (s *SDK) OnLinkStatusChanged(linkID types.LinkID, status types.LinkStatus, properties string) {
	s.log.Info("demo sdk: link status changed", map[string]any{"link_id": string(linkID), "status": status.String()})
	s.record("link " + string(linkID) + " " + status.String())
}

func (s *SDK) OnConnectionStatusChanged(handle uint64, connID types.ConnectionID, status types.ConnectionStatus) {
	s.log.Info("demo sdk: connection status changed", map[string]any{"connection_id": string(connID), "status": status.String()})
	s.record("connection " + string(connID) + " " + status.String())
}

func (s *SDK) OnPackageStatusChanged(handle types.PackageHandle, outcome types.PackageOutcome) {
	s.log.Info("demo sdk: package status changed", map[string]any{"handle": string(handle), "outcome": outcome.String()})
	s.record("package " + string(handle) + " " + outcome.String())
}

func (s *SDK) ReceiveEncPkg(bytes []byte, connIDs []types.ConnectionID) {
	s.log.Info("demo sdk: received package", map[string]any{"bytes": len(bytes), "connections": len(connIDs)})
	s.record("receive_enc_pkg")
}

func (s *SDK) UnblockQueue(connID types.ConnectionID) {
	s.record("unblock_queue " + string(connID))
}

func (s *SDK) GenerateLinkID(channelGID types.ChannelGID) types.LinkID {
	id := s.linkIDs.Generate()
	s.mu.Lock()
	s.lastLinkID = id
	s.mu.Unlock()
	return id
}

func (s *SDK) GenerateConnectionID(linkID types.LinkID) types.ConnectionID {
	id := s.connIDs.Generate()
	s.mu.Lock()
	s.lastConnID = id
	s.mu.Unlock()
	return id
}

// LastLinkID returns the most recently generated link id, used by the
// run command to open a connection once CreateLink has been posted.
func (s *SDK) LastLinkID() types.LinkID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLinkID
}

// LastConnectionID returns the most recently generated connection id,
// used by the run command to target SendPackage.
func (s *SDK) LastConnectionID() types.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConnID
}

func (s *SDK) GetEntropy(numBytes int) []byte {
	buf := make([]byte, numBytes)
	_, _ = rand.Read(buf)
	return buf
}

func (s *SDK) RequestPluginUserInput(key, prompt string, redisplay bool) uint64 {
	s.record("request_plugin_user_input " + key)
	return 0
}

func (s *SDK) RequestCommonUserInput(key string) uint64 {
	s.record("request_common_user_input " + key)
	return 0
}

func (s *SDK) AsyncError(handle uint64, kind types.Kind) {
	s.log.Warn("demo sdk: async error", map[string]any{"handle": handle, "kind": kind.String()})
	s.record("async_error " + kind.String())
}
