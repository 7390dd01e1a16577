// Package hooks is the engine's extension point: after each successful
// ingestion one channel-specific event and one generic event are published
// to registered observers. The core has no compile-time dependency on any
// observer; plugins subscribe at runtime.
package hooks

import (
	"sync"

	"commsync/pkg/feed"
	"commsync/pkg/logger"
	"commsync/pkg/models"
)

// GenericEvent is published once per ingestion regardless of channel.
const GenericEvent = "comm:message"

// ChannelEvent returns the channel-specific event name.
func ChannelEvent(channel string) string { return "comm:channel:" + channel }

// Event carries the raw response, the extracted batch and the full merged
// per-id map. Field names are a stable contract for external observers and
// must not change across versions.
type Event struct {
	Name      string                    `json:"name"`
	Channel   string                    `json:"channel"`
	Raw       *feed.Result              `json:"raw"`
	Result    []feed.BatchEntry         `json:"result"`
	Processed map[string]models.Message `json:"processed"`
}

// Handler receives published events.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Registry is a subscribe/publish observer registry.
type Registry struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for the named event and returns an unsubscribe
// function.
func (r *Registry) Subscribe(name string, fn Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[name] = append(r.subs[name], subscriber{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[name]
		for i, s := range list {
			if s.id == id {
				r.subs[name] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers the event to every subscriber of ev.Name, in
// subscription order. A panicking observer is logged and skipped; it never
// breaks the polling loop.
func (r *Registry) Publish(ev Event) {
	r.mu.RLock()
	list := append([]subscriber(nil), r.subs[ev.Name]...)
	r.mu.RUnlock()

	for _, s := range list {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("hook_handler_panic", "event", ev.Name, "panic", rec)
				}
			}()
			s.fn(ev)
		}()
	}
}
