package store

import (
	"context"

	"github.com/osobh/pingpong-sub001/internal/models"
)

// DataStore defines the interface for persistent storage of the room registry
// and the proposal audit trail. Both PostgresStore and SQLiteStore implement
// this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	SaveRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	IncrementMessageCount(ctx context.Context, id string) error

	// Proposal operations
	SaveProposal(ctx context.Context, p *models.Proposal) error
	ListProposals(ctx context.Context, roomID string) ([]models.Proposal, error)
}
