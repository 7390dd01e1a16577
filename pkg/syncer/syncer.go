// Package syncer orchestrates the per-channel fetch cycle: at-most-one
// in-flight request per channel, watermark-driven request parameters,
// viewport gating before each fetch, a single retry on transport failure,
// and ingestion plus hook/render dispatch on success.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"commsync/pkg/feed"
	"commsync/pkg/hooks"
	"commsync/pkg/ingest"
	"commsync/pkg/logger"
	"commsync/pkg/metrics"
	"commsync/pkg/models"
	"commsync/pkg/store"
	"commsync/pkg/viewport"
)

var (
	// ErrInFlight means a fetch for the channel is already outstanding.
	ErrInFlight = errors.New("request already in flight")
	// ErrIdle means the consumer's idle predicate paused polling.
	ErrIdle = errors.New("consumer idle, polling paused")
	// ErrPaced means the per-channel rate limiter rejected the fetch.
	ErrPaced = errors.New("fetch paced by rate limiter")
	// ErrNotSendable means the channel does not accept outbound messages.
	ErrNotSendable = errors.New("channel does not accept messages")
)

// SendError carries the undelivered text back to the caller so the user can
// resubmit it manually.
type SendError struct {
	Channel string
	Text    string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// RenderEvent tells the presentation layer to re-render a channel.
type RenderEvent struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"` // "ingest" or "forced"
	Added   int    `json:"added"`
	// OlderAdded drives the scroll-preservation strategy: true when
	// previously-unseen rows were inserted above the existing ones.
	OlderAdded bool `json:"older_added"`
}

// Options tune the polling behavior. Zero values fall back to defaults.
type Options struct {
	Interval         time.Duration
	AcceleratedDelay time.Duration
	RPS              float64
	Burst            int
}

func (o *Options) fill() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.AcceleratedDelay <= 0 {
		o.AcceleratedDelay = 2 * time.Second
	}
	if o.RPS <= 0 {
		o.RPS = 1
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
}

// ChannelStatus is a point-in-time view of one channel's fetch cycle.
type ChannelStatus struct {
	Channel    string    `json:"channel"`
	InFlight   bool      `json:"in_flight"`
	Failures   uint64    `json:"failures"`
	LastFetch  time.Time `json:"last_fetch"`
	LastChange time.Time `json:"last_change"`
}

// Syncer sequences outbound fetches for every registered channel.
type Syncer struct {
	client feed.Client
	reg    *store.Registry
	gate   *viewport.Gate
	hooks  *hooks.Registry
	opts   Options

	mu           sync.Mutex
	inFlight     map[string]bool
	failures     map[string]uint64
	lastFetch    map[string]time.Time
	lastChange   map[string]time.Time
	limiters     map[string]*rate.Limiter
	bounds       models.Bounds
	boundsSet    bool
	idleFn       func() bool
	renderFn     func(RenderEvent)
	lastActivity time.Time

	firstCycle atomic.Bool
}

// New builds a Syncer over the given collaborators.
func New(client feed.Client, reg *store.Registry, gate *viewport.Gate, hk *hooks.Registry, opts Options) *Syncer {
	opts.fill()
	return &Syncer{
		client:       client,
		reg:          reg,
		gate:         gate,
		hooks:        hk,
		opts:         opts,
		inFlight:     make(map[string]bool),
		failures:     make(map[string]uint64),
		lastFetch:    make(map[string]time.Time),
		lastChange:   make(map[string]time.Time),
		limiters:     make(map[string]*rate.Limiter),
		lastActivity: time.Now(),
	}
}

// SetIdleFunc installs the consumer's global idle predicate. Polling pauses
// while it returns true.
func (s *Syncer) SetIdleFunc(fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleFn = fn
}

// SetRenderNotifier installs the callback invoked when the presentation
// layer should re-render a channel.
func (s *Syncer) SetRenderNotifier(fn func(RenderEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderFn = fn
}

// SetViewport records the consumer's current bounding box. The gate check
// itself runs synchronously before the next fetch builds its parameters.
func (s *Syncer) SetViewport(b models.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bounds = b
	s.boundsSet = true
}

// TouchActivity records consumer activity for idle detection.
func (s *Syncer) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent consumer activity.
func (s *Syncer) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Ready reports whether at least one poll cycle has been attempted.
func (s *Syncer) Ready() bool { return s.firstCycle.Load() }

// RequestChannel runs one fetch cycle for the channel: viewport gate,
// in-flight gate, parameter construction from the current watermarks, fetch
// with a single retry, then ingestion, hook dispatch and render
// notification. It blocks until the cycle completes.
func (s *Syncer) RequestChannel(ctx context.Context, channel string, wantOlder bool) error {
	if !s.reg.Has(channel) {
		return store.ErrUnknownChannel
	}
	if s.idle() {
		return ErrIdle
	}

	// the gate must run before parameters are built: a just-reset channel
	// fetches without continuation pointers
	if b, ok := s.currentBounds(); ok {
		if s.gate.CheckAndMaybeReset(b, s.reg) {
			metrics.ViewportResets.Inc()
			s.refreshGauges()
		}
	}

	s.mu.Lock()
	if s.inFlight[channel] {
		s.mu.Unlock()
		return ErrInFlight
	}
	s.inFlight[channel] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, channel)
		s.mu.Unlock()
	}()

	if !s.limiter(channel).Allow() {
		return ErrPaced
	}

	params, ascending := s.buildParams(channel, wantOlder)
	direction := "newer"
	if wantOlder {
		direction = "older"
	}
	metrics.FetchTotal.WithLabelValues(channel, direction).Inc()

	res, err := s.client.Fetch(ctx, params)
	if err != nil {
		// exactly one retry per cycle; the next scheduled cycle retries
		// naturally after that
		metrics.FetchRetries.WithLabelValues(channel).Inc()
		logger.Warn("fetch_retrying", "channel", channel, "direction", direction, "error", err)
		res, err = s.client.Fetch(ctx, params)
		if err != nil {
			s.mu.Lock()
			s.failures[channel]++
			s.lastFetch[channel] = time.Now()
			s.mu.Unlock()
			metrics.FetchFailures.WithLabelValues(channel).Inc()
			logger.Warn("fetch_failed", "channel", channel, "direction", direction, "error", err)
			return fmt.Errorf("fetch %s: %w", channel, err)
		}
	}

	s.ingestResult(channel, res, wantOlder, ascending)
	return nil
}

// RequestHistory extends the channel's stored range backward by one page.
func (s *Syncer) RequestHistory(ctx context.Context, channel string) error {
	return s.RequestChannel(ctx, channel, true)
}

// SendMessage posts free text to a sendable channel, outside the in-flight
// discipline (fire and forget). On failure the returned SendError carries
// the original text; on success the channel's next poll is accelerated so
// the echo shows up quickly.
func (s *Syncer) SendMessage(ctx context.Context, channel, text string) error {
	var sendable bool
	if err := s.reg.View(channel, func(c *store.ChannelState) { sendable = c.Sendable }); err != nil {
		return err
	}
	if !sendable {
		return ErrNotSendable
	}

	bounds, _ := s.currentBounds()
	lat, lng := bounds.Center()
	err := s.client.Send(ctx, feed.SendParams{
		Channel: channel,
		Text:    text,
		LatE6:   models.E6(lat),
		LngE6:   models.E6(lng),
	})
	if err != nil {
		metrics.SendTotal.WithLabelValues(channel, "failure").Inc()
		logger.Warn("send_failed", "channel", channel, "error", err)
		return &SendError{Channel: channel, Text: text, Err: err}
	}
	metrics.SendTotal.WithLabelValues(channel, "success").Inc()
	s.RequestSoon(channel, s.opts.AcceleratedDelay)
	return nil
}

// RequestSoon schedules a one-off newer-page fetch after delay.
func (s *Syncer) RequestSoon(channel string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if err := s.RequestChannel(context.Background(), channel, false); err != nil && !isBenign(err) {
			logger.Warn("accelerated_fetch_failed", "channel", channel, "error", err)
		}
	})
}

// ResetAll clears every channel and marks it for a forced re-render; the
// next poll cycle refetches from scratch.
func (s *Syncer) ResetAll() {
	s.reg.MutateAll(func(c *store.ChannelState) {
		c.Reset()
		c.PendingRender = true
	})
	s.refreshGauges()
}

// Run polls every registered channel for new arrivals on the configured
// interval until ctx is done. Channels are independent; their fetches run
// concurrently.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("syncer_stopping")
			return
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

func (s *Syncer) pollAll(ctx context.Context) {
	for _, id := range s.reg.Channels() {
		go func(channel string) {
			if err := s.RequestChannel(ctx, channel, false); err != nil && !isBenign(err) {
				logger.Debug("poll_cycle_error", "channel", channel, "error", err)
			}
		}(id)
	}
	s.firstCycle.Store(true)
}

// Status returns a snapshot of every channel's fetch cycle.
func (s *Syncer) Status() []ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelStatus, 0)
	for _, id := range s.reg.Channels() {
		out = append(out, ChannelStatus{
			Channel:    id,
			InFlight:   s.inFlight[id],
			Failures:   s.failures[id],
			LastFetch:  s.lastFetch[id],
			LastChange: s.lastChange[id],
		})
	}
	return out
}

func (s *Syncer) idle() bool {
	s.mu.Lock()
	fn := s.idleFn
	s.mu.Unlock()
	return fn != nil && fn()
}

func (s *Syncer) currentBounds() (models.Bounds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boundsSet {
		return models.WorldBounds, false
	}
	return s.bounds, true
}

func (s *Syncer) limiter(channel string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[channel]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.opts.RPS), s.opts.Burst)
		s.limiters[channel] = l
	}
	return l
}

// buildParams derives the request parameters from the channel's current
// watermarks. Returns the params and whether the resulting batch will be
// ascending.
func (s *Syncer) buildParams(channel string, wantOlder bool) (feed.FetchParams, bool) {
	bounds, _ := s.currentBounds()
	p := feed.FetchParams{
		Channel:        channel,
		MinLatE6:       models.E6(bounds.MinLat),
		MinLngE6:       models.E6(bounds.MinLng),
		MaxLatE6:       models.E6(bounds.MaxLat),
		MaxLngE6:       models.E6(bounds.MaxLng),
		MinTimestampMs: store.EmptyWatermark,
		MaxTimestampMs: store.EmptyWatermark,
	}
	_ = s.reg.View(channel, func(c *store.ChannelState) {
		if wantOlder {
			if c.OldestTimestampMs > store.EmptyWatermark {
				p.MaxTimestampMs = c.OldestTimestampMs
				p.ContinuationID = c.OldestID
			}
			return
		}
		if c.NewestTimestampMs > store.EmptyWatermark {
			// explicit ascending order guarantees a gap-free catch-up when
			// an idle period produced more new items than one page holds
			p.MinTimestampMs = c.NewestTimestampMs
			p.ContinuationID = c.NewestID
			p.Ascending = true
		}
	})
	return p, p.Ascending
}

// ingestResult merges the batch, updates metrics and dispatches hooks plus
// the render notification. A stale response arriving after a viewport reset
// is merged against the freshly emptied state under the same dedup rule;
// ingestion is idempotent and order-preserving regardless of when it runs.
func (s *Syncer) ingestResult(channel string, res *feed.Result, wantOlder, ascending bool) {
	var (
		ir        ingest.Result
		processed map[string]models.Message
		forced    bool
		stored    int
	)
	_ = s.reg.Mutate(channel, func(c *store.ChannelState) {
		ir = ingest.Apply(c, res.Result, wantOlder, ascending)
		forced = c.PendingRender
		if ir.Added > 0 || forced {
			c.PendingRender = false
		}
		processed = c.MergedByID()
		stored = c.Len()
	})

	now := time.Now()
	s.mu.Lock()
	s.lastFetch[channel] = now
	if ir.Added > 0 {
		s.lastChange[channel] = now
	}
	s.mu.Unlock()

	metrics.EntriesAdded.WithLabelValues(channel).Add(float64(ir.Added))
	metrics.EntriesDuplicate.WithLabelValues(channel).Add(float64(ir.Duplicates))
	metrics.EntriesMalformed.WithLabelValues(channel).Add(float64(ir.Malformed))
	metrics.StoredMessages.WithLabelValues(channel).Set(float64(stored))

	ev := hooks.Event{
		Channel:   channel,
		Raw:       res,
		Result:    res.Result,
		Processed: processed,
	}
	ev.Name = hooks.ChannelEvent(channel)
	s.hooks.Publish(ev)
	ev.Name = hooks.GenericEvent
	s.hooks.Publish(ev)

	// an empty or fully-duplicate response skips the re-render unless a
	// pending forced clear must become visible
	if ir.Added > 0 || forced {
		reason := "ingest"
		if ir.Added == 0 {
			reason = "forced"
		}
		s.notifyRender(RenderEvent{
			Channel:    channel,
			Reason:     reason,
			Added:      ir.Added,
			OlderAdded: ir.OlderAdded,
		})
	}
	logger.Debug("ingest_done",
		"channel", channel,
		"added", ir.Added,
		"duplicates", ir.Duplicates,
		"malformed", ir.Malformed,
		"stored", stored)
}

func (s *Syncer) notifyRender(ev RenderEvent) {
	s.mu.Lock()
	fn := s.renderFn
	s.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (s *Syncer) refreshGauges() {
	for _, id := range s.reg.Channels() {
		_ = s.reg.View(id, func(c *store.ChannelState) {
			metrics.StoredMessages.WithLabelValues(id).Set(float64(c.Len()))
		})
	}
}

func isBenign(err error) bool {
	return errors.Is(err, ErrInFlight) || errors.Is(err, ErrIdle) || errors.Is(err, ErrPaced)
}
