// Package types defines the core domain types shared across the
// decomposed comms component manager: newtypes for ids, the
// composition descriptor, action/package/fragment records, and the
// error-kind vocabulary used to classify failures at the CM boundary.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// LinkID identifies a Link for the lifetime of its owning Link record.
type LinkID string

// ConnectionID identifies a Connection for the lifetime of its owning
// Connection record.
type ConnectionID string

// ActionID identifies an Action as reported by the UserModel. Stable
// across timeline fetches for the same scheduled action.
type ActionID string

// PackageHandle identifies an outbound PackageInfo, assigned by the
// Package Manager at sendPackage time and returned to the SDK.
type PackageHandle string

// FragmentHandle identifies a single PackageFragmentInfo, assigned
// internally by the Package Manager.
type FragmentHandle string

// PostID identifies a single closure posted to the CM dispatcher.
// Monotonically increasing per facade; closures posted to a component
// wrapper's worker carry no id.
type PostID uint64

// ChannelGID identifies the channel a composition implements, as known
// to the outer SDK.
type ChannelGID string

// ProducerID is 16 bytes of entropy identifying one sender on a
// multi-producer link. Fixed for the lifetime of the link that
// generated it, transmitted on the wire only in
// EncodingModeFragmentMultiProducer.
type ProducerID [16]byte

// String renders the producer id as hex, for logging.
func (p ProducerID) String() string {
	return fmt.Sprintf("%x", [16]byte(p))
}

// WildcardLinkID is the sentinel linkId a transport may report in
// EncodingParameters/ActionParams to mean "any link may carry this
// action"; resolved to a concrete LinkID on first fragment assignment.
const WildcardLinkID = LinkID("*")
