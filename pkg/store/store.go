// Package store holds the per-channel, memory-resident message state the
// sync engine maintains: the id-keyed message map, the settled display
// order, and the watermark pointers used to request the next page without
// gaps. The store is rebuilt from the feed each session; it is never
// persisted.
package store

import (
	"errors"
	"sync"

	"commsync/pkg/models"
)

// EmptyWatermark is the sentinel timestamp for an empty or freshly reset
// channel.
const EmptyWatermark = -1

var ErrUnknownChannel = errors.New("unknown channel")

// ChannelSpec describes one channel at registration time.
type ChannelSpec struct {
	ID string
	// ViewportScoped marks channels whose content is filtered by the
	// consumer's bounding box and must be cleared when it moves.
	ViewportScoped bool
	// Sendable marks channels that accept outbound messages.
	Sendable bool
}

// ChannelState is the state container for one channel. It carries no lock of
// its own: all access goes through the owning Registry, which serializes
// state transitions the way the engine's single logical thread does.
type ChannelState struct {
	ID             string
	ViewportScoped bool
	Sendable       bool

	// Messages maps id to message; ids here are exactly the ids in Order.
	Messages map[string]models.Message
	// Order is the settled display order: ascending timestamp, ties broken
	// by first-seen order.
	Order []string

	OldestTimestampMs int64
	OldestID          string
	NewestTimestampMs int64
	NewestID          string

	// PendingRender forces one re-render even if the next fetch adds no
	// rows, e.g. after a viewport reset emptied the visible list.
	PendingRender bool
}

func newChannelState(spec ChannelSpec) *ChannelState {
	c := &ChannelState{
		ID:             spec.ID,
		ViewportScoped: spec.ViewportScoped,
		Sendable:       spec.Sendable,
	}
	c.Reset()
	return c
}

// Reset clears the channel in place: both containers emptied and watermarks
// back to the empty sentinel. In-flight requests holding the pointer observe
// a valid empty state, never a stale one.
func (c *ChannelState) Reset() {
	c.Messages = make(map[string]models.Message)
	c.Order = c.Order[:0]
	c.OldestTimestampMs = EmptyWatermark
	c.OldestID = ""
	c.NewestTimestampMs = EmptyWatermark
	c.NewestID = ""
}

// Empty reports whether the channel holds no messages.
func (c *ChannelState) Empty() bool { return len(c.Order) == 0 }

// Len returns the number of stored messages.
func (c *ChannelState) Len() int { return len(c.Order) }

// Ordered returns the stored messages in display order. A limit > 0 keeps
// only the newest limit entries (the tail of the ascending sequence).
func (c *ChannelState) Ordered(limit int) []models.Message {
	ids := c.Order
	if limit > 0 && limit < len(ids) {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.Messages[id])
	}
	return out
}

// MergedByID returns a copy of the id-keyed message map, for hook consumers.
func (c *ChannelState) MergedByID() map[string]models.Message {
	out := make(map[string]models.Message, len(c.Messages))
	for id, m := range c.Messages {
		out[id] = m
	}
	return out
}

// Registry owns every ChannelState for the session. ChannelStates are
// created at registration and live for the process lifetime; viewport
// invalidation clears them in place, never replaces them. A single lock
// serializes all state transitions across channels, mirroring the engine's
// cooperative single-thread discipline; fetches themselves run outside it.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*ChannelState
	order    []string
}

// NewRegistry creates a Registry with the given channels registered.
func NewRegistry(specs []ChannelSpec) *Registry {
	r := &Registry{channels: make(map[string]*ChannelState, len(specs))}
	for _, spec := range specs {
		if spec.ID == "" {
			continue
		}
		if _, dup := r.channels[spec.ID]; dup {
			continue
		}
		r.channels[spec.ID] = newChannelState(spec)
		r.order = append(r.order, spec.ID)
	}
	return r
}

// DefaultChannels is the standard channel set: two viewport-scoped feeds and
// the global alert feed.
func DefaultChannels() []ChannelSpec {
	return []ChannelSpec{
		{ID: "all", ViewportScoped: true, Sendable: true},
		{ID: "faction", ViewportScoped: true, Sendable: true},
		{ID: "alerts", ViewportScoped: false},
	}
}

// Channels returns channel ids in registration order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether the channel is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[id]
	return ok
}

// Mutate runs fn against the channel's state under the write lock.
func (r *Registry) Mutate(id string, fn func(*ChannelState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	if !ok {
		return ErrUnknownChannel
	}
	fn(c)
	return nil
}

// MutateAll runs fn against every channel's state under one write lock, so
// multi-channel transitions (viewport resets) are atomic with respect to
// readers.
func (r *Registry) MutateAll(fn func(*ChannelState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		fn(r.channels[id])
	}
}

// View runs fn against the channel's state under the read lock.
func (r *Registry) View(id string, fn func(*ChannelState)) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[id]
	if !ok {
		return ErrUnknownChannel
	}
	fn(c)
	return nil
}
