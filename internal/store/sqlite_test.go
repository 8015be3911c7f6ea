package store

import (
	"context"
	"testing"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	st, err := NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(st.Close)
	return st
}

func TestAgentRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{
		ID:         "agent_1",
		Name:       "Scout",
		Category:   "worker",
		OrgID:      "org_1",
		SecretHash: "$2a$10$fakehash",
	}
	if err := st.SeedAgent(ctx, agent, []string{"ops", "general"}); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetAgent(ctx, "agent_1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Scout" || got.SecretHash != agent.SecretHash {
		t.Fatalf("unexpected agent: %+v", got)
	}

	channels, err := st.ListChannels(ctx, "agent_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %v", channels)
	}
}

func TestGetAgentUnknown(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetAgent(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for unknown agent, got %+v", got)
	}
}

func TestMessageHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, msg := range []models.Message{
		{ID: "01A", ChannelID: "ops", AgentID: "a1", AgentName: "Scout", Type: "message", Body: "first", Timestamp: 1000},
		{ID: "01B", ChannelID: "ops", AgentID: "a1", AgentName: "Scout", Type: "task", Body: "second", Timestamp: 2000},
		{ID: "01C", ChannelID: "other", AgentID: "a2", AgentName: "Relay", Type: "message", Body: "elsewhere", Timestamp: 3000},
	} {
		m := msg
		if err := st.AppendMessage(ctx, &m); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Newest first, scoped to the channel.
	got, err := st.ChannelMessages(ctx, "ops", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Body != "second" || got[1].Body != "first" {
		t.Fatalf("wrong order: %q then %q", got[0].Body, got[1].Body)
	}

	// before is exclusive.
	got, err = st.ChannelMessages(ctx, "ops", 50, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Body != "first" {
		t.Fatalf("unexpected page: %+v", got)
	}

	// limit caps the page size.
	got, err = st.ChannelMessages(ctx, "ops", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Body != "second" {
		t.Fatalf("unexpected limited page: %+v", got)
	}
}
