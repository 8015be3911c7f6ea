package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			org_id      TEXT NOT NULL DEFAULT '',
			secret_hash TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
			ts         BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_channel_members_agent ON channel_members(agent_id);
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

// GetAgent retrieves an agent record by ID. Returns (nil, nil) if the
// agent is unknown.
func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, category, org_id, secret_hash, created_at
		FROM agents WHERE id = $1
	`, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Category,
		&agent.OrgID,
		&agent.SecretHash,
		&agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// ListChannels resolves an agent's group memberships into channel IDs.
func (s *PostgresStore) ListChannels(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id FROM channel_members WHERE agent_id = $1
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
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, agent_id, agent_name, type, body, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ChannelID, msg.AgentID, msg.AgentName, msg.Type, msg.Body, msg.Timestamp)
	return err
}

// ChannelMessages returns persisted channel history, newest first.
func (s *PostgresStore) ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if before > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT id, channel_id, agent_id, agent_name, type, body, ts
			FROM messages WHERE channel_id = $1 AND ts < $2
			ORDER BY ts DESC LIMIT $3
		`, channelID, before, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, channel_id, agent_id, agent_name, type, body, ts
			FROM messages WHERE channel_id = $1
			ORDER BY ts DESC LIMIT $2
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
