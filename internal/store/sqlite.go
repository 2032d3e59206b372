package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/osobh/pingpong-sub001/internal/metrics"
	"github.com/osobh/pingpong-sub001/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/pingpong.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/pingpong.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS proposals (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		proposer_id TEXT NOT NULL,
		proposer_name TEXT DEFAULT '',
		threshold REAL NOT NULL,
		status TEXT NOT NULL,
		yes_votes INTEGER DEFAULT 0,
		no_votes INTEGER DEFAULT 0,
		abstain_votes INTEGER DEFAULT 0,
		approval_ratio REAL DEFAULT 0,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_proposals_room ON proposals(room_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func observeSQLite(start time.Time) {
	metrics.StoreLatency.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
}

// SaveRoom inserts a room or refreshes its topic and mode.
func (s *SQLiteStore) SaveRoom(ctx context.Context, room *models.Room) error {
	defer observeSQLite(time.Now())
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, topic, mode, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET topic = excluded.topic, mode = excluded.mode
	`, room.ID, room.Topic, room.Mode, room.CreatedAt, room.CreatedAt)
	return err
}

// GetRoom retrieves a room by ID. It returns nil, nil when absent.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	defer observeSQLite(time.Now())
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, mode, created_at, last_active_at, message_count
		FROM rooms WHERE id = ?
	`, id).Scan(
		&room.ID,
		&room.Topic,
		&room.Mode,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// ListRooms retrieves every persisted room, oldest first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	defer observeSQLite(time.Now())
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, id string) error {
	defer observeSQLite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = ?
		WHERE id = ?
	`, time.Now(), id)
	return err
}

// SaveProposal upserts a proposal audit record.
func (s *SQLiteStore) SaveProposal(ctx context.Context, p *models.Proposal) error {
	defer observeSQLite(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (id, room_id, title, description, proposer_id, proposer_name,
			threshold, status, yes_votes, no_votes, abstain_votes, approval_ratio, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			yes_votes = excluded.yes_votes,
			no_votes = excluded.no_votes,
			abstain_votes = excluded.abstain_votes,
			approval_ratio = excluded.approval_ratio,
			resolved_at = excluded.resolved_at
	`, p.ID, p.RoomID, p.Title, p.Description, p.ProposerID, p.ProposerName,
		p.Threshold, p.Status, p.Yes, p.No, p.Abstain, p.ApprovalRatio, p.CreatedAt, p.ResolvedAt)
	return err
}

// ListProposals retrieves a room's proposal audit records, oldest first.
func (s *SQLiteStore) ListProposals(ctx context.Context, roomID string) ([]models.Proposal, error) {
	defer observeSQLite(time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, title, description, proposer_id, proposer_name, threshold, status,
			yes_votes, no_votes, abstain_votes, approval_ratio, created_at, resolved_at
		FROM proposals
		WHERE room_id = ?
		ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Proposal
	for rows.Next() {
		var p models.Proposal
		var resolvedAt sql.NullTime
		err := rows.Scan(
			&p.ID, &p.RoomID, &p.Title, &p.Description, &p.ProposerID, &p.ProposerName,
			&p.Threshold, &p.Status, &p.Yes, &p.No, &p.Abstain, &p.ApprovalRatio,
			&p.CreatedAt, &resolvedAt,
		)
		if err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			p.ResolvedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
