package hub

import "sync"

// SubscriptionIndex maps channels to their subscriber sets. Channels come
// into existence on first subscribe and are deleted the moment their set
// empties; an entry never outlives its last subscriber.
type SubscriptionIndex struct {
	mu       sync.Mutex
	channels map[string]map[*Conn]struct{}
	byConn   map[*Conn]map[string]struct{}
}

// NewSubscriptionIndex creates an empty index.
func NewSubscriptionIndex() *SubscriptionIndex {
	return &SubscriptionIndex{
		channels: make(map[string]map[*Conn]struct{}),
		byConn:   make(map[*Conn]map[string]struct{}),
	}
}

// Subscribe adds the connection to the channel's subscriber set and tracks
// the channel on the connection for disconnect cleanup.
func (x *SubscriptionIndex) Subscribe(c *Conn, channel string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	set := x.channels[channel]
	if set == nil {
		set = make(map[*Conn]struct{})
		x.channels[channel] = set
	}
	set[c] = struct{}{}

	mine := x.byConn[c]
	if mine == nil {
		mine = make(map[string]struct{})
		x.byConn[c] = mine
	}
	mine[channel] = struct{}{}
}

// Unsubscribe removes the connection from the channel. Idempotent; a
// second call for the same pair is a no-op.
func (x *SubscriptionIndex) Unsubscribe(c *Conn, channel string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if set, ok := x.channels[channel]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(x.channels, channel)
		}
	}
	if mine, ok := x.byConn[c]; ok {
		delete(mine, channel)
		if len(mine) == 0 {
			delete(x.byConn, c)
		}
	}
}

// Broadcast sends the payload to every subscriber of channel except
// exclude (may be nil). A channel with no subscribers is a silent no-op.
// Returns the number of connections the payload was queued for.
func (x *SubscriptionIndex) Broadcast(channel string, payload []byte, exclude *Conn) int {
	x.mu.Lock()
	targets := make([]*Conn, 0, len(x.channels[channel]))
	for c := range x.channels[channel] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	x.mu.Unlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(payload) {
			delivered++
		}
	}
	return delivered
}

// ChannelsOf returns the channels the connection is currently subscribed
// to.
func (x *SubscriptionIndex) ChannelsOf(c *Conn) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	channels := make([]string, 0, len(x.byConn[c]))
	for ch := range x.byConn[c] {
		channels = append(channels, ch)
	}
	return channels
}

// Subscribers returns the current subscriber count of a channel.
func (x *SubscriptionIndex) Subscribers(channel string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.channels[channel])
}

// ChannelCount returns the number of channels with at least one
// subscriber.
func (x *SubscriptionIndex) ChannelCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.channels)
}
