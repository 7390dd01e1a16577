// Package viewport decides when a change of the consumer's bounding box
// invalidates the viewport-scoped channels.
package viewport

import (
	"sync"

	"commsync/pkg/logger"
	"commsync/pkg/models"
	"commsync/pkg/store"
)

// DefaultPadding is the fractional margin applied to both boxes before the
// containment check.
const DefaultPadding = 0.1

// Gate tracks the last-committed viewport bounds and clears viewport-scoped
// channels when the box moves beyond the padded hysteresis margin. The check
// runs synchronously before request parameters are built, since a just-reset
// channel fetches without continuation pointers.
type Gate struct {
	mu        sync.Mutex
	padding   float64
	committed models.Bounds
	set       bool
}

// NewGate returns a Gate with the given padding fraction; values <= 0 use
// DefaultPadding.
func NewGate(padding float64) *Gate {
	if padding <= 0 {
		padding = DefaultPadding
	}
	return &Gate{padding: padding}
}

// CheckAndMaybeReset compares bounds against the committed viewport. The
// first call only adopts the bounds. Later calls skip the reset when each
// box, padded by the margin, still contains the other (map jitter);
// otherwise every viewport-scoped channel is cleared in place, marked for a
// one-time forced re-render, and the new bounds are committed. Returns
// whether a reset happened.
func (g *Gate) CheckAndMaybeReset(bounds models.Bounds, reg *store.Registry) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set {
		g.committed = bounds
		g.set = true
		return false
	}
	if bounds == g.committed {
		return false
	}
	if bounds.Pad(g.padding).Contains(g.committed) && g.committed.Pad(g.padding).Contains(bounds) {
		return false
	}

	reg.MutateAll(func(c *store.ChannelState) {
		if !c.ViewportScoped {
			return
		}
		c.Reset()
		// the visible list must reflect the clear even when the next fetch
		// returns zero rows
		c.PendingRender = true
	})
	logger.Info("viewport_reset",
		"min_lat", bounds.MinLat, "min_lng", bounds.MinLng,
		"max_lat", bounds.MaxLat, "max_lng", bounds.MaxLng)
	g.committed = bounds
	return true
}

// Committed returns the last-committed bounds and whether any were set.
func (g *Gate) Committed() (models.Bounds, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.committed, g.set
}
