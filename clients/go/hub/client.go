// Package hub provides a Go client for the Swarm relay: credential
// exchange over HTTP and a live WebSocket stream with automatic
// reconnect.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope is the JSON wire unit exchanged over the stream. Relayed
// envelopes arrive stamped with id, agentId/agentName and ts by the
// server.
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

// Handler receives every envelope delivered on the stream.
type Handler func(Envelope)

// Client is a Swarm relay API client. It is safe for concurrent use
// once Connect has returned.
type Client struct {
	BaseURL    string
	AgentID    string
	Secret     string
	HTTPClient *http.Client

	// OnEnvelope is invoked for each envelope received on the stream.
	// Set it before calling Connect.
	OnEnvelope Handler

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	ws           *websocket.Conn
	closed       bool
}

// NewClient creates a client for the relay at baseURL using the given
// agent credentials.
func NewClient(baseURL, agentID, secret string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AgentID:    agentID,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// tokenPair mirrors the /auth/token response body.
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Authenticate exchanges the agent's secret for a token pair.
func (c *Client) Authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"agent_id": c.AgentID,
		"secret":   c.Secret,
	})

	respBody, err := c.doRequest(ctx, http.MethodPost, "/auth/token", body, false)
	if err != nil {
		return err
	}

	var pair tokenPair
	if err := json.Unmarshal(respBody, &pair); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = pair.AccessToken
	c.refreshToken = pair.RefreshToken
	c.mu.Unlock()
	return nil
}

// Refresh mints a new access token from the stored refresh token. When
// the refresh token itself has expired it falls back to Authenticate.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refreshToken
	c.mu.Unlock()

	if refresh == "" {
		return c.Authenticate(ctx)
	}

	body, _ := json.Marshal(map[string]string{"refresh_token": refresh})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/auth/refresh", body, false)
	if err != nil {
		return c.Authenticate(ctx)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	return nil
}

// doRequest performs an HTTP request against the relay API.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		c.mu.Unlock()
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("hub error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// authedRequest retries once after re-auth when the access token has
// expired.
func (c *Client) authedRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	respBody, err := c.doRequest(ctx, method, path, body, true)
	if err != nil && strings.Contains(err.Error(), "hub error 401") {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		return c.doRequest(ctx, method, path, body, true)
	}
	return respBody, err
}

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Connect authenticates if needed, opens the WebSocket stream and keeps
// it open until ctx is cancelled or Close is called. Dropped connections
// are re-dialed with exponential backoff; a 401 on dial triggers a token
// refresh. Connect blocks; run it in its own goroutine.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	needsAuth := c.accessToken == ""
	c.mu.Unlock()
	if needsAuth {
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
	}

	backoff := reconnectBase
	for {
		err := c.runConn(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil
		}

		// Stale token is the common dial failure; refresh before the
		// next attempt.
		if strings.Contains(err.Error(), "401") {
			if err := c.Refresh(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// runConn dials once and pumps envelopes until the connection drops.
func (c *Client) runConn(ctx context.Context) error {
	wsURL, err := c.streamURL()
	if err != nil {
		return err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if c.OnEnvelope != nil {
			c.OnEnvelope(env)
		}
	}
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writeEnvelope sends an envelope on the live stream.
func (c *Client) writeEnvelope(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errors.New("not connected")
	}
	data, _ := json.Marshal(env)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Subscribe joins a channel on the live stream.
func (c *Client) Subscribe(channelID string) error {
	return c.writeEnvelope(Envelope{Type: "subscribe", ChannelID: channelID})
}

// Unsubscribe leaves a channel.
func (c *Client) Unsubscribe(channelID string) error {
	return c.writeEnvelope(Envelope{Type: "unsubscribe", ChannelID: channelID})
}

// Send publishes an envelope of the given type to a channel. Type is
// one of "message", "typing", "status" or "task".
func (c *Client) Send(msgType, channelID, content string) error {
	return c.writeEnvelope(Envelope{Type: msgType, ChannelID: channelID, Content: content})
}

// Close tears down the stream and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ws != nil {
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return c.ws.Close()
	}
	return nil
}

// OnlineAgent is one entry of the online-agents listing.
type OnlineAgent struct {
	AgentID     string `json:"agentId"`
	Name        string `json:"name,omitempty"`
	Category    string `json:"category,omitempty"`
	Connections int    `json:"connections"`
}

// OnlineResponse is the response from listing online agents.
type OnlineResponse struct {
	Agents []OnlineAgent `json:"agents"`
	Count  int           `json:"count"`
}

// Online lists agents with at least one live connection.
func (c *Client) Online(ctx context.Context) (*OnlineResponse, error) {
	respBody, err := c.authedRequest(ctx, http.MethodGet, "/agents/online", nil)
	if err != nil {
		return nil, err
	}

	var resp OnlineResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HistoryResponse is the response from a channel history query.
type HistoryResponse struct {
	ChannelID string     `json:"channelId"`
	Messages  []Envelope `json:"messages"`
}

// History retrieves recent channel messages, newest first.
func (c *Client) History(ctx context.Context, channelID string, limit int, before int64) (*HistoryResponse, error) {
	path := fmt.Sprintf("/channels/%s/messages?limit=%d", url.PathEscape(channelID), limit)
	if before > 0 {
		path += fmt.Sprintf("&before=%d", before)
	}

	respBody, err := c.authedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp HistoryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version"`
	Uptime      string                 `json:"uptime"`
	Connections int                    `json:"connectionCount"`
	Channels    int                    `json:"channelCount"`
	Checks      map[string]interface{} `json:"checks"`
	Timestamp   string                 `json:"timestamp"`
}

// Health checks relay health. No auth required.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/health", nil, false)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
