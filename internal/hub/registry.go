package hub

import (
	"errors"
	"sort"
	"sync"
)

// ErrTooManyConnections is returned by Admit when an identity already
// holds the configured maximum number of live connections.
var ErrTooManyConnections = errors.New("too many connections for agent")

// OnlineAgent is one identity with at least one live connection.
type OnlineAgent struct {
	AgentID     string `json:"agentId"`
	Name        string `json:"name,omitempty"`
	Category    string `json:"category,omitempty"`
	Connections int    `json:"connections"`
}

// Registry tracks the live connections of each identity and enforces the
// per-identity connection cap. Check and insert happen under one lock so
// concurrent connection attempts from the same identity cannot exceed the
// cap.
type Registry struct {
	mu    sync.Mutex
	max   int
	conns map[string]map[*Conn]struct{}
}

// NewRegistry creates a registry admitting at most max connections per
// identity.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:   max,
		conns: make(map[string]map[*Conn]struct{}),
	}
}

// Admit adds the connection to its identity's set, or rejects with
// ErrTooManyConnections if the identity is at the cap.
func (r *Registry) Admit(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[c.AgentID]
	if len(set) >= r.max {
		return ErrTooManyConnections
	}
	if set == nil {
		set = make(map[*Conn]struct{})
		r.conns[c.AgentID] = set
	}
	set[c] = struct{}{}
	return nil
}

// Remove deletes the connection from its identity's set. Idempotent; the
// identity entry goes away once its set is empty. Returns true if this was
// the identity's last connection.
func (r *Registry) Remove(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[c.AgentID]
	if !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.AgentID)
		return true
	}
	return false
}

// Online returns one entry per identity with at least one live connection,
// sorted by agent ID for stable output.
func (r *Registry) Online() []OnlineAgent {
	r.mu.Lock()
	defer r.mu.Unlock()

	agents := make([]OnlineAgent, 0, len(r.conns))
	for id, set := range r.conns {
		entry := OnlineAgent{AgentID: id, Connections: len(set)}
		// All connections of one identity carry the same token claims;
		// read the display fields off any of them.
		for c := range set {
			entry.Name = c.AgentName
			entry.Category = c.Category
			break
		}
		agents = append(agents, entry)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

// AgentCount returns the number of identities with live connections.
func (r *Registry) AgentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ConnCount returns the total number of live connections.
func (r *Registry) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
