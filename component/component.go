// Package component defines the external collaborators the CM composes: a
// Transport, a UserModel, a set of Encodings, and the SDK callback surface
// the CM raises events into. Each is modeled as an interface only — concrete
// implementations (dynamic-library loading, language bridges) are out of
// scope (see spec §1).
package component

import "github.com/justapithecus/racecm/types"

// Transport sends and receives bytes over a physical channel and owns link
// and connection lifecycle on the wire side.
type Transport interface {
	// SupportedActions returns, per action class, the ordered list of
	// encoding types the transport can carry for that class.
	SupportedActions() map[string][]string

	// CreateLink asks the transport to create a link under an id the SDK
	// has already allocated; the transport reports back asynchronously via
	// onLinkStatusChanged.
	CreateLink(linkID types.LinkID, channelGID types.ChannelGID) error
	LoadLinkAddress(linkID types.LinkID, channelGID types.ChannelGID, address string) error
	LoadLinkAddresses(linkID types.LinkID, channelGID types.ChannelGID, addresses []string) error
	CreateLinkFromAddress(linkID types.LinkID, channelGID types.ChannelGID, address string) error
	DestroyLink(linkID types.LinkID) error

	// LinkProperties returns opaque, channel-scoped properties for a link.
	LinkProperties(linkID types.LinkID) (string, error)

	// GetActionParams returns one EncodingParameters per encoding slot the
	// transport wants populated for this action, in composition order.
	GetActionParams(action types.Action) ([]types.EncodingParameters, error)

	// DoAction is called at the action's scheduled time with the fragment
	// handles assigned to it.
	DoAction(handles []types.FragmentHandle, action types.Action) error

	// EnqueueContent hands encoded bytes to the transport for transmission.
	EnqueueContent(params types.EncodingParameters, action types.Action, bytes []byte) error
}

// UserModel supplies the scheduling timeline and reacts to outbound traffic.
type UserModel interface {
	TimelineLength() float64
	TimelineFetchPeriod() float64

	// GetTimeline returns actions scheduled in [start, end).
	GetTimeline(start, end float64) ([]types.Action, error)

	// OnSendPackage is called immediately when the SDK is asked to send a
	// package on linkID; it may return additional or revised actions.
	OnSendPackage(linkID types.LinkID, bytes []byte) ([]types.Action, error)
}

// Encoding turns package bytes into wire bytes (and back), asynchronously.
type Encoding interface {
	// Type is the MIME-style type this encoding advertises for matching
	// against EncodingParameters.Type.
	Type() string

	// Properties returns the maximum bytes this encoding can produce for
	// the given parameters.
	Properties(params types.EncodingParameters) (maxBytes int, err error)

	// EncodingTime is this encoding's contribution to maxEncodingTime.
	EncodingTime() float64

	// EncodeBytes begins an asynchronous encode, identified by handle.
	// Completion is reported via EncodeCallbacks.OnBytesEncoded.
	EncodeBytes(handle string, params types.EncodingParameters, bytes []byte) error

	// DecodeBytes begins an asynchronous decode, identified by handle.
	// Completion is reported via EncodeCallbacks.OnBytesDecoded.
	DecodeBytes(handle string, params types.EncodingParameters, bytes []byte) error
}

// LifecycleCallbacks is the readiness signal every child component
// reports through its own callbacks value: exactly one of STARTED or
// FAILED, once, after construction (spec §4.2 step 3). A component
// knows nothing about its sibling components or its own kind/index —
// those are closed over by the callbacks value the Lifetime Manager
// hands it at construction time.
type LifecycleCallbacks interface {
	UpdateState(state types.ComponentState)
}

// TransportCallbacks is implemented by the CM and invoked by the
// Transport for every event it doesn't merely return a value for:
// link status changes, a fragment's terminal send status, and inbound
// bytes arriving on a link.
type TransportCallbacks interface {
	LifecycleCallbacks
	OnLinkStatusChanged(linkID types.LinkID, status types.LinkStatus)
	OnPackageStatusChanged(fragmentHandle types.FragmentHandle, status types.TransportSendStatus)
	OnReceive(linkID types.LinkID, params types.EncodingParameters, bytes []byte)
}

// UserModelCallbacks is implemented by the CM and invoked by the
// UserModel for its own asynchronous nudge (spec §4.5,
// "onTimelineUpdated").
type UserModelCallbacks interface {
	LifecycleCallbacks
	OnTimelineUpdated()
}

// EncodeCallbacks is implemented by the CM and invoked by an Encoding once
// an async encode/decode completes.
type EncodeCallbacks interface {
	LifecycleCallbacks
	OnBytesEncoded(handle string, bytes []byte, status types.TransportSendStatus)
	OnBytesDecoded(handle string, bytes []byte, status types.TransportSendStatus)
}

// LinkAware is an optional capability a UserModel may implement to learn
// about a link's lifecycle (spec §4.3: "add link to user-model with
// params" / "inform the user-model via removeLink"). A UserModel that
// doesn't care about link lifecycle simply doesn't implement it.
type LinkAware interface {
	AddLink(linkID types.LinkID, properties string) error
	RemoveLink(linkID types.LinkID)
}

// SDKCallbacks is the outward callback surface the CM raises events into
// (spec §6). Implementations are provided by the plugin host; package
// demo supplies one backed by idgen and an in-memory log.
type SDKCallbacks interface {
	OnChannelStatusChanged(channelGID types.ChannelGID, status types.ChannelStatus)
	OnLinkStatusChanged(linkID types.LinkID, status types.LinkStatus, properties string)
	OnConnectionStatusChanged(handle uint64, connID types.ConnectionID, status types.ConnectionStatus)
	OnPackageStatusChanged(handle types.PackageHandle, outcome types.PackageOutcome)
	ReceiveEncPkg(bytes []byte, connIDs []types.ConnectionID)
	UnblockQueue(connID types.ConnectionID)

	GenerateLinkID(channelGID types.ChannelGID) types.LinkID
	GenerateConnectionID(linkID types.LinkID) types.ConnectionID
	GetEntropy(numBytes int) []byte

	RequestPluginUserInput(key, prompt string, redisplay bool) (handle uint64)
	RequestCommonUserInput(key string) (handle uint64)

	AsyncError(handle uint64, kind types.Kind)
}
