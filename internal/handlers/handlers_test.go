package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/api"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/handlers"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

// fakeStore is an in-memory durable-store adapter for handler tests.
type fakeStore struct {
	mu       sync.Mutex
	agents   map[string]*models.Agent
	channels map[string][]string
	messages map[string][]models.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:   make(map[string]*models.Agent),
		channels: make(map[string][]string),
		messages: make(map[string][]models.Message),
	}
}

func (s *fakeStore) Close() {}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agents[id], nil
}

func (s *fakeStore) ListChannels(ctx context.Context, agentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[agentID], nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ChannelID] = append(s.messages[msg.ChannelID], *msg)
	return nil
}

func (s *fakeStore) ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[channelID], nil
}

func (s *fakeStore) seedAgent(t *testing.T, id, secret string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[id] = &models.Agent{
		ID:         id,
		Name:       "Agent " + id,
		Category:   "worker",
		OrgID:      "org_1",
		SecretHash: string(hash),
	}
}

type testServer struct {
	store  *fakeStore
	tokens *token.Service
	url    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := newFakeStore()
	tokens := token.NewService("test-secret", 15*time.Minute, time.Hour)
	engine := hub.New(zerolog.Nop(), tokens, st, nil, hub.Config{
		MaxConnectionsPerAgent: 5,
		RateLimitMax:           30,
		RateLimitWindow:        time.Minute,
	})
	h := handlers.NewHandler(zerolog.Nop(), st, nil, tokens, engine)
	router := api.NewRouter(zerolog.Nop(), h, engine, tokens, ratelimit.New(1000, time.Minute))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{store: st, tokens: tokens, url: srv.URL}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.url+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.url+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "correct")

	resp := ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	var body map[string]string
	decode(t, resp, &body)
	if body["error"] == "" {
		t.Fatal("expected error field in body")
	}
	if body["access_token"] != "" || body["refresh_token"] != "" {
		t.Fatal("no tokens may be issued on auth failure")
	}
}

func TestTokenUnknownAgent(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "ghost", Secret: "anything"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTokenMissingFields(t *testing.T) {
	ts := newTestServer(t)

	for _, req := range []handlers.TokenRequest{
		{AgentID: "agent_1"},
		{Secret: "s"},
		{},
	} {
		resp := ts.post(t, "/auth/token", req)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for %+v, got %d", req, resp.StatusCode)
		}
	}
}

func TestTokenSuccess(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "correct")

	resp := ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "correct"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body handlers.TokenResponse
	decode(t, resp, &body)
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}

	ident, err := ts.tokens.Verify(body.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if ident.AgentID != "agent_1" || ident.OrgID != "org_1" || ident.Category != "worker" {
		t.Fatalf("unexpected identity payload: %+v", ident)
	}
}

func TestRefreshFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "correct")

	var pair handlers.TokenResponse
	decode(t, ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "correct"}), &pair)

	resp := ts.post(t, "/auth/refresh", handlers.RefreshRequest{RefreshToken: pair.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body handlers.RefreshResponse
	decode(t, resp, &body)
	ident, err := ts.tokens.Verify(body.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if ident.AgentID != "agent_1" {
		t.Fatalf("refresh changed identity: %+v", ident)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "correct")

	var pair handlers.TokenResponse
	decode(t, ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "correct"}), &pair)

	resp := ts.post(t, "/auth/refresh", handlers.RefreshRequest{RefreshToken: pair.AccessToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestOnlineRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/agents/online", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = ts.get(t, "/agents/online", "garbage")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}

	access, err := ts.tokens.IssueAccessToken(token.Identity{AgentID: "agent_1"})
	if err != nil {
		t.Fatal(err)
	}
	resp = ts.get(t, "/agents/online", access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body handlers.OnlineResponse
	decode(t, resp, &body)
	if body.Count != 0 {
		t.Fatalf("no relay connections expected, got %d", body.Count)
	}
}

func TestSecretRotationDoesNotInvalidateTokens(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "old-secret")

	var pair handlers.TokenResponse
	decode(t, ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "old-secret"}), &pair)

	// Rotate the stored secret.
	ts.store.seedAgent(t, "agent_1", "new-secret")

	// Old credentials no longer mint tokens...
	resp := ts.post(t, "/auth/token", handlers.TokenRequest{AgentID: "agent_1", Secret: "old-secret"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after rotation, got %d", resp.StatusCode)
	}

	// ...but already-issued tokens remain valid until natural expiry.
	resp = ts.get(t, "/agents/online", pair.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("issued token should survive secret rotation, got %d", resp.StatusCode)
	}
}

func TestProfile(t *testing.T) {
	ts := newTestServer(t)
	ts.store.seedAgent(t, "agent_1", "correct")

	access, err := ts.tokens.IssueAccessToken(token.Identity{AgentID: "agent_2"})
	if err != nil {
		t.Fatal(err)
	}

	resp := ts.get(t, "/agents/agent_1", access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	decode(t, resp, &body)
	if body["name"] != "Agent agent_1" {
		t.Fatalf("unexpected profile: %+v", body)
	}
	if _, leaked := body["secret_hash"]; leaked {
		t.Fatal("secret hash must not be serialized")
	}

	resp = ts.get(t, "/agents/nobody", access)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body handlers.HealthResponse
	decode(t, resp, &body)
	if body.Status != "healthy" {
		t.Fatalf("unexpected status: %s", body.Status)
	}
	if body.Timestamp == "" || body.Uptime == "" {
		t.Fatalf("missing fields: %+v", body)
	}
}

func TestChannelHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.store.AppendMessage(context.Background(), &models.Message{
		ID: "01ARZ", ChannelID: "proj-1", AgentID: "agent_1",
		Type: "message", Body: "hello", Timestamp: 1000,
	})

	access, err := ts.tokens.IssueAccessToken(token.Identity{AgentID: "agent_2"})
	if err != nil {
		t.Fatal(err)
	}

	resp := ts.get(t, "/channels/proj-1/messages", access)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body handlers.HistoryResponse
	decode(t, resp, &body)
	if len(body.Messages) != 1 || body.Messages[0].Body != "hello" {
		t.Fatalf("unexpected history: %+v", body)
	}

	resp = ts.get(t, "/channels/proj-1/messages", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("history requires auth, got %d", resp.StatusCode)
	}
}
