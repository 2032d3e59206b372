// Package ids generates the identifiers used across rooms, proposals and the bus.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewServerID returns a process identity for bus envelopes.
func NewServerID() string {
	return NewUUIDv7().String()
}

// NewProposalID returns an id for a proposal created without one.
func NewProposalID() string {
	return NewUUIDv7().String()
}

// NewEnvelopeID returns a lexically sortable id for a bus envelope.
func NewEnvelopeID() string {
	return ulid.Make().String()
}

// NewMessageID returns an id for a stored chat message.
func NewMessageID() string {
	return ulid.Make().String()
}
