package room

import "github.com/osobh/pingpong-sub001/internal/protocol"

// Conn is the outbound side of a member's connection.
//
// Send must not block the caller for long; implementations queue the event
// and write it from their own goroutine. Rooms compare Conns by identity.
type Conn interface {
	Send(evt protocol.Event) error
	Open() bool
	Close() error
}
