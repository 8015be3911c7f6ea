package store

import (
	"context"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

// Store is the durable-store adapter: the hub's only view of the external
// document database. It reads agent records and channel memberships at
// connect time and appends chat/task messages that must survive relay
// restarts. Both PostgresStore and SQLiteStore implement this interface.
type Store interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// GetAgent returns the agent record, or (nil, nil) if unknown.
	GetAgent(ctx context.Context, id string) (*models.Agent, error)

	// ListChannels resolves the agent's durable group memberships into
	// channel identifiers.
	ListChannels(ctx context.Context, agentID string) ([]string, error)

	// AppendMessage durably stores a relayed message.
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ChannelMessages returns persisted history for a channel, newest
	// first, optionally only messages older than the before timestamp
	// (Unix ms).
	ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error)
}
