// Package idgen provides id generation for links, connections, and wire
// producer identities. A composition's SDK callbacks are responsible for
// allocating link and connection ids in the plugin contract (see
// component.SDKCallbacks); this package supplies the concrete generator those
// callbacks delegate to in the demo harness, and the CM's own producerId
// allocation for newly observed links.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"

	"github.com/justapithecus/racecm/types"
)

// LinkIDs generates fresh link identifiers.
type LinkIDs struct{}

// NewLinkIDs returns a uuid-backed link id generator.
func NewLinkIDs() LinkIDs { return LinkIDs{} }

// Generate returns a fresh, globally unique link id.
func (LinkIDs) Generate() types.LinkID {
	return types.LinkID(uuid.New().String())
}

// ConnectionIDs generates fresh connection identifiers.
type ConnectionIDs struct{}

// NewConnectionIDs returns a uuid-backed connection id generator.
func NewConnectionIDs() ConnectionIDs { return ConnectionIDs{} }

// Generate returns a fresh, globally unique connection id.
func (ConnectionIDs) Generate() types.ConnectionID {
	return types.ConnectionID(uuid.New().String())
}

// NewProducerID returns a fresh random 16-byte producer id, assigned once
// per link for its lifetime (spec: "a fresh 16-byte random producerId").
func NewProducerID() (types.ProducerID, error) {
	var id types.ProducerID
	if _, err := rand.Read(id[:]); err != nil {
		return types.ProducerID{}, err
	}
	return id, nil
}

// PostIDs hands out a strictly monotonic sequence of dispatcher post ids,
// the ids cm.Facade returns from its asynchronous operations.
type PostIDs struct {
	next uint64
}

// NewPostIDs returns a fresh post id sequence starting at 1.
func NewPostIDs() *PostIDs {
	return &PostIDs{next: 1}
}

// Next returns the next post id and advances the sequence. Not safe for
// concurrent use; cm.Facade serializes its calls under the facade mutex.
func (p *PostIDs) Next() types.PostID {
	id := p.next
	p.next++
	return types.PostID(id)
}
