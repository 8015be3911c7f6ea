package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/api"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/handlers"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/hub"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

type nullStore struct{}

func (nullStore) Close() {}

func (nullStore) Ping(ctx context.Context) error { return nil }

func (nullStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	return nil, nil
}

func (nullStore) ListChannels(ctx context.Context, agentID string) ([]string, error) {
	return nil, nil
}

func (nullStore) AppendMessage(ctx context.Context, msg *models.Message) error { return nil }

func (nullStore) ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	return nil, nil
}

func newRouterServer(t *testing.T) (*token.Service, *httptest.Server) {
	t.Helper()
	tokens := token.NewService("router-test-secret", 15*time.Minute, time.Hour)
	engine := hub.New(zerolog.Nop(), tokens, nullStore{}, nil, hub.Config{
		MaxConnectionsPerAgent: 5,
		RateLimitMax:           30,
		RateLimitWindow:        time.Minute,
	})
	h := handlers.NewHandler(zerolog.Nop(), nullStore{}, nil, tokens, engine)
	router := api.NewRouter(zerolog.Nop(), h, engine, tokens, ratelimit.New(1000, time.Minute))

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Shutdown(ctx)
		srv.Close()
	})
	return tokens, srv
}

// The upgrade must succeed through the assembled middleware chain, not
// just against the bare handler; the metrics wrapper has to expose the
// underlying connection for hijacking.
func TestUpgradeThroughRouter(t *testing.T) {
	tokens, srv := newRouterServer(t)

	access, err := tokens.IssueAccessToken(token.Identity{AgentID: "agent_1", Name: "Scout"})
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + access
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("upgrade through router failed (status %d): %v", status, err)
	}
	defer conn.Close()

	// The session is fully usable: subscribe, publish, receive the ack.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","channelId":"proj-1"}`)); err != nil {
		t.Fatal(err)
	}
	if env := readFrame(t, conn); env.Type != "subscribed" {
		t.Fatalf("unexpected reply: %+v", env)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","channelId":"proj-1","content":"hi"}`)); err != nil {
		t.Fatal(err)
	}
	if env := readFrame(t, conn); env.Type != "ack" || env.ChannelID != "proj-1" {
		t.Fatalf("unexpected reply: %+v", env)
	}
}

func TestUpgradeThroughRouterRejectsBadToken(t *testing.T) {
	_, srv := newRouterServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Error     string `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}
