package models

// Message is a chat or task message persisted to durable storage.
// Only the "message" and "task" envelope types are written here; typing,
// status and presence traffic is relayed live and never stored.
type Message struct {
	ID        string `json:"id"` // ULID
	ChannelID string `json:"channelId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName,omitempty"`
	Type      string `json:"type"` // "message" or "task"
	Body      string `json:"content"`
	Timestamp int64  `json:"ts"` // Unix ms
}
