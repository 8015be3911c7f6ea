// Package hub implements the real-time relay: WebSocket connection
// lifecycle, channel-based pub/sub fan-out, per-agent connection caps and
// rate limits, and selective persistence of relayed traffic.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/metrics"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/ratelimit"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/store"
	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/token"
)

const persistTimeout = 10 * time.Second

// Config holds the engine's relay limits.
type Config struct {
	MaxConnectionsPerAgent int
	RateLimitMax           int
	RateLimitWindow        time.Duration
}

// PublishResult reports what happened to one accepted publish operation.
// Durable is true when the envelope type is persisted in addition to live
// fan-out; a failed append is logged and counted but the result (and the
// sender) still see a successful delivery.
type PublishResult struct {
	Delivered int
	Durable   bool
}

// Engine is the relay coordinator. It owns the connection registry, the
// subscription index and the rate limiter explicitly, with no
// package-level state, so tests construct an engine and drive it with
// synthetic connections.
type Engine struct {
	log     zerolog.Logger
	tokens  *token.Service
	store   store.Store
	history *store.RedisHistory // optional, may be nil

	registry *Registry
	index    *SubscriptionIndex
	limiter  *ratelimit.Limiter

	upgrader websocket.Upgrader
	started  time.Time

	mu    sync.Mutex
	conns map[*Conn]struct{}

	// persistWG tracks in-flight fire-and-forget appends so tests and
	// shutdown can wait for them.
	persistWG sync.WaitGroup
}

// New creates an engine with the given collaborators.
func New(log zerolog.Logger, tokens *token.Service, st store.Store, history *store.RedisHistory, cfg Config) *Engine {
	return &Engine{
		log:      log,
		tokens:   tokens,
		store:    st,
		history:  history,
		registry: NewRegistry(cfg.MaxConnectionsPerAgent),
		index:    NewSubscriptionIndex(),
		limiter:  ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		conns:   make(map[*Conn]struct{}),
	}
}

// Stats is a snapshot of the engine's live state for the health endpoint.
type Stats struct {
	Agents      int
	Connections int
	Channels    int
	Uptime      time.Duration
}

// Snapshot returns current counts and uptime.
func (e *Engine) Snapshot() Stats {
	return Stats{
		Agents:      e.registry.AgentCount(),
		Connections: e.registry.ConnCount(),
		Channels:    e.index.ChannelCount(),
		Uptime:      time.Since(e.started),
	}
}

// Online returns the identities with live connections.
func (e *Engine) Online() []OnlineAgent {
	return e.registry.Online()
}

// HandleWS upgrades an authenticated request into a relay connection.
// The access token rides a query parameter on the upgrade request; a
// missing or invalid token rejects before any WebSocket is established,
// and a capped identity rejects with 429.
func (e *Engine) HandleWS(w http.ResponseWriter, r *http.Request) {
	ident, err := e.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		metrics.ConnectionsRejected.WithLabelValues("unauthorized").Inc()
		metrics.AuthFailures.WithLabelValues("ws").Inc()
		httpError(w, http.StatusUnauthorized, "invalid or missing token")
		return
	}

	c := newConn(nil, ident)
	if err := e.registry.Admit(c); err != nil {
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		e.log.Warn().Str("agent", ident.AgentID).Msg("connection cap exceeded")
		httpError(w, http.StatusTooManyRequests, "too many connections")
		return
	}

	ws, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the response.
		e.registry.Remove(c)
		return
	}
	c.ws = ws

	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	metrics.ConnectionsActive.Inc()

	e.log.Info().
		Str("agent", c.AgentID).
		Str("conn", c.ID).
		Msg("agent connected")

	go c.writePump()
	e.activate(r.Context(), c)
	e.readLoop(c)
	e.teardown(c)
}

// activate auto-subscribes the connection to its durable group
// memberships and announces presence to each. A membership lookup failure
// fails open to "no channels" rather than dropping the connection.
func (e *Engine) activate(ctx context.Context, c *Conn) {
	channels, err := e.store.ListChannels(ctx, c.AgentID)
	if err != nil {
		e.log.Error().Err(err).Str("agent", c.AgentID).Msg("channel membership lookup failed")
		channels = nil
	}

	for _, ch := range channels {
		e.index.Subscribe(c, ch)
		online := Envelope{
			Type:      TypeAgentOnline,
			ChannelID: ch,
			AgentID:   c.AgentID,
			AgentName: c.AgentName,
			TS:        nowMillis(),
		}
		// The new connection has no need to be told it just came online.
		e.index.Broadcast(ch, online.encode(), c)
	}
}

// readLoop processes inbound frames in arrival order until the transport
// closes.
func (e *Engine) readLoop(c *Conn) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.log.Debug().Err(err).Str("agent", c.AgentID).Msg("read error")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		e.dispatch(c, data)
	}
}

// dispatch parses one inbound frame and routes it. Validation failures
// reply with an error envelope and leave the connection open.
func (e *Engine) dispatch(c *Conn, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		c.Send(Envelope{Type: TypeError, Error: err.Error()}.encode())
		return
	}

	switch cmd.Kind {
	case KindSubscribe:
		e.index.Subscribe(c, cmd.ChannelID)
		c.Send(Envelope{Type: TypeSubscribed, ChannelID: cmd.ChannelID}.encode())

	case KindUnsubscribe:
		e.index.Unsubscribe(c, cmd.ChannelID)
		c.Send(Envelope{Type: TypeUnsubscribed, ChannelID: cmd.ChannelID}.encode())

	case KindPublish:
		e.publish(c, cmd)
	}
}

// publish rate-limits, fans out, acks the sender, and persists durable
// types. The sender's identity always comes from the authenticated
// session, never from the client payload.
func (e *Engine) publish(c *Conn, cmd Command) PublishResult {
	if !e.limiter.Allow(c.AgentID) {
		metrics.RateLimited.Inc()
		c.Send(Envelope{Type: TypeError, Error: "rate limit exceeded"}.encode())
		return PublishResult{}
	}

	out := Envelope{
		Type:      cmd.Type,
		ID:        newEnvelopeID(),
		ChannelID: cmd.ChannelID,
		AgentID:   c.AgentID,
		AgentName: c.AgentName,
		Content:   cmd.Content,
		TS:        nowMillis(),
	}
	payload := out.encode()

	delivered := e.index.Broadcast(cmd.ChannelID, payload, c)
	metrics.MessagesRelayed.WithLabelValues(cmd.Type).Inc()

	result := PublishResult{Delivered: delivered}
	if durable(cmd.Type) {
		result.Durable = true
		msg := &models.Message{
			ID:        out.ID,
			ChannelID: out.ChannelID,
			AgentID:   out.AgentID,
			AgentName: out.AgentName,
			Type:      out.Type,
			Body:      out.Content,
			Timestamp: out.TS,
		}
		e.persistWG.Add(1)
		go e.persist(msg)
	}

	// The sender gets its own explicit ack instead of the broadcast.
	c.Send(Envelope{Type: TypeAck, ID: out.ID, ChannelID: out.ChannelID, TS: out.TS}.encode())
	return result
}

// persist appends a message to durable storage, best-effort. Failure means
// the message was delivered live but is not recoverable from history; the
// gap is surfaced in logs and metrics rather than to the sender.
func (e *Engine) persist(msg *models.Message) {
	defer e.persistWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.store.AppendMessage(ctx, msg); err != nil {
		metrics.PersistFailures.Inc()
		e.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("id", msg.ID).
			Msg("message delivered but not persisted")
		return
	}
	metrics.MessagesPersisted.Inc()

	if e.history != nil {
		if err := e.history.AddMessage(ctx, msg); err != nil {
			e.log.Warn().Err(err).Str("id", msg.ID).Msg("history cache write failed")
		}
	}
}

// teardown runs the close sequence exactly once per connection regardless
// of which path triggered it: presence-offline to every subscribed
// channel, then index and registry cleanup.
func (e *Engine) teardown(c *Conn) {
	c.teardownOnce.Do(func() {
		for _, ch := range e.index.ChannelsOf(c) {
			offline := Envelope{
				Type:      TypeAgentOffline,
				ChannelID: ch,
				AgentID:   c.AgentID,
				AgentName: c.AgentName,
				TS:        nowMillis(),
			}
			e.index.Broadcast(ch, offline.encode(), c)
			e.index.Unsubscribe(c, ch)
		}

		// Rate-limit state deliberately survives the disconnect; the
		// limiter expires it itself once the window passes.
		e.registry.Remove(c)

		e.mu.Lock()
		delete(e.conns, c)
		e.mu.Unlock()
		metrics.ConnectionsActive.Dec()

		c.close()

		e.log.Info().
			Str("agent", c.AgentID).
			Str("conn", c.ID).
			Msg("agent disconnected")
	})
}

// Shutdown closes all live connections and waits for in-flight persistence
// to finish.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		if c.ws != nil {
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(5*time.Second),
			)
		}
		e.teardown(c)
	}

	done := make(chan struct{})
	go func() {
		e.persistWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func httpError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
