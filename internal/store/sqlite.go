package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

// SQLiteStore handles SQLite database operations. Used for development and
// tests; production points DATABASE_URL at PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/hub.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/hub.db"
	}

	// Ensure directory exists (skip for in-memory databases)
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		org_id      TEXT NOT NULL DEFAULT '',
		secret_hash TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS channel_members (
		agent_id   TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		PRIMARY KEY (agent_id, channel_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		agent_id   TEXT NOT NULL,
		agent_name TEXT NOT NULL DEFAULT '',
		type       TEXT NOT NULL,
		body       TEXT NOT NULL,
		ts         INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_channel_members_agent ON channel_members(agent_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetAgent retrieves an agent record by ID. Returns (nil, nil) if the
// agent is unknown.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, org_id, secret_hash, created_at
		FROM agents WHERE id = ?
	`, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Category,
		&agent.OrgID,
		&agent.SecretHash,
		&agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListChannels resolves an agent's group memberships into channel IDs.
func (s *SQLiteStore) ListChannels(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id FROM channel_members WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// AppendMessage durably stores a relayed message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, agent_id, agent_name, type, body, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChannelID, msg.AgentID, msg.AgentName, msg.Type, msg.Body, msg.Timestamp)
	return err
}

// ChannelMessages returns persisted channel history, newest first.
func (s *SQLiteStore) ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if before > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, channel_id, agent_id, agent_name, type, body, ts
			FROM messages WHERE channel_id = ? AND ts < ?
			ORDER BY ts DESC LIMIT ?
		`, channelID, before, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, channel_id, agent_id, agent_name, type, body, ts
			FROM messages WHERE channel_id = ?
			ORDER BY ts DESC LIMIT ?
		`, channelID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AgentID, &m.AgentName, &m.Type, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SeedAgent inserts or replaces an agent record. Intended for development
// setups and tests; production agent records are owned by the external
// control plane.
func (s *SQLiteStore) SeedAgent(ctx context.Context, agent *models.Agent, channels []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agents (id, name, category, org_id, secret_hash)
		VALUES (?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.Category, agent.OrgID, agent.SecretHash)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO channel_members (agent_id, channel_id) VALUES (?, ?)
		`, agent.ID, ch); err != nil {
			return err
		}
	}
	return nil
}
