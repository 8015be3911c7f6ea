package hub

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Envelope types accepted from clients.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeStatus      = "status"
	TypeTask        = "task"
)

// Envelope types originated by the server.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeAgentOnline  = "agent:online"
	TypeAgentOffline = "agent:offline"
	TypeAck          = "ack"
	TypeError        = "error"
)

// Envelope is the JSON wire unit, both directions. Outbound relayed
// envelopes are stamped server-side with id, agentId/agentName and ts;
// the sender's claimed identity in the payload is never trusted.
type Envelope struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	TS        int64  `json:"ts,omitempty"`
}

func (e Envelope) encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// CommandKind is the parsed variant of an inbound frame. Dispatch in the
// engine is an exhaustive switch over this enum rather than string
// comparison on raw JSON.
type CommandKind int

const (
	KindSubscribe CommandKind = iota
	KindUnsubscribe
	KindPublish // message, typing, status, task
)

// Command is a validated inbound operation.
type Command struct {
	Kind      CommandKind
	Type      string // original wire type; meaningful for KindPublish
	ChannelID string
	Content   string
}

// ValidationError describes a rejected inbound frame. The connection
// stays open; the reply carries the reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ParseCommand validates a raw inbound frame into a Command. It returns a
// *ValidationError for malformed JSON, a missing channel, or an unknown
// type.
func ParseCommand(data []byte) (Command, error) {
	var in Envelope
	if err := json.Unmarshal(data, &in); err != nil {
		return Command{}, &ValidationError{Reason: "invalid JSON"}
	}

	switch in.Type {
	case TypeSubscribe:
		if in.ChannelID == "" {
			return Command{}, &ValidationError{Reason: "channelId is required"}
		}
		return Command{Kind: KindSubscribe, Type: in.Type, ChannelID: in.ChannelID}, nil

	case TypeUnsubscribe:
		if in.ChannelID == "" {
			return Command{}, &ValidationError{Reason: "channelId is required"}
		}
		return Command{Kind: KindUnsubscribe, Type: in.Type, ChannelID: in.ChannelID}, nil

	case TypeMessage, TypeTyping, TypeStatus, TypeTask:
		if in.ChannelID == "" {
			return Command{}, &ValidationError{Reason: "channelId is required"}
		}
		return Command{
			Kind:      KindPublish,
			Type:      in.Type,
			ChannelID: in.ChannelID,
			Content:   in.Content,
		}, nil

	default:
		return Command{}, &ValidationError{Reason: "unknown message type"}
	}
}

// durable reports whether envelopes of the given type are appended to
// durable storage in addition to live fan-out.
func durable(msgType string) bool {
	return msgType == TypeMessage || msgType == TypeTask
}

// newEnvelopeID returns a fresh, lexically sortable envelope ID.
func newEnvelopeID() string {
	return ulid.Make().String()
}

// nowMillis is the server timestamp stamped on outbound envelopes.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
