package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		message_count BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		proposer_id TEXT NOT NULL,
		proposer_name TEXT NOT NULL DEFAULT '',
		threshold DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		yes_votes INTEGER NOT NULL DEFAULT 0,
		no_votes INTEGER NOT NULL DEFAULT 0,
		abstain_votes INTEGER NOT NULL DEFAULT 0,
		approval_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		resolved_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_room ON proposals(room_id, created_at);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.StoreLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

// SaveRoom inserts a room or refreshes its topic and mode.
func (s *PostgresStore) SaveRoom(ctx context.Context, room *models.Room) error {
	defer observe(time.Now())
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, topic, mode, created_at, last_active_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET topic = EXCLUDED.topic, mode = EXCLUDED.mode
	`, room.ID, room.Topic, room.Mode, room.CreatedAt)
	return err
}

// GetRoom retrieves a room by ID. It returns nil, nil when absent.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	defer observe(time.Now())
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, topic, mode, created_at, last_active_at, message_count
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Topic,
		&room.Mode,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListRooms retrieves every persisted room, oldest first.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	defer observe(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT id, topic, mode, created_at, last_active_at, message_count
		FROM rooms
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		err := rows.Scan(
			&room.ID,
			&room.Topic,
			&room.Mode,
			&room.CreatedAt,
			&room.LastActiveAt,
			&room.MessageCount,
		)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// IncrementMessageCount increments the message count and updates activity.
func (s *PostgresStore) IncrementMessageCount(ctx context.Context, id string) error {
	defer observe(time.Now())
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// SaveProposal upserts a proposal audit record.
func (s *PostgresStore) SaveProposal(ctx context.Context, p *models.Proposal) error {
	defer observe(time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proposals (id, room_id, title, description, proposer_id, proposer_name,
			threshold, status, yes_votes, no_votes, abstain_votes, approval_ratio, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			yes_votes = EXCLUDED.yes_votes,
			no_votes = EXCLUDED.no_votes,
			abstain_votes = EXCLUDED.abstain_votes,
			approval_ratio = EXCLUDED.approval_ratio,
			resolved_at = EXCLUDED.resolved_at
	`, p.ID, p.RoomID, p.Title, p.Description, p.ProposerID, p.ProposerName,
		p.Threshold, p.Status, p.Yes, p.No, p.Abstain, p.ApprovalRatio, p.CreatedAt, p.ResolvedAt)
	return err
}

// ListProposals retrieves a room's proposal audit records, oldest first.
func (s *PostgresStore) ListProposals(ctx context.Context, roomID string) ([]models.Proposal, error) {
	defer observe(time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, title, description, proposer_id, proposer_name, threshold, status,
			yes_votes, no_votes, abstain_votes, approval_ratio, created_at, resolved_at
		FROM proposals
		WHERE room_id = $1
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Proposal
	for rows.Next() {
		var p models.Proposal
		err := rows.Scan(
			&p.ID, &p.RoomID, &p.Title, &p.Description, &p.ProposerID, &p.ProposerName,
			&p.Threshold, &p.Status, &p.Yes, &p.No, &p.Abstain, &p.ApprovalRatio,
			&p.CreatedAt, &p.ResolvedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
