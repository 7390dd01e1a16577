// Package app wires the engine together: registry, feed client, viewport
// gate, syncer, hooks, scheduler and the HTTP view API.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"commsync/internal/resync"
	"commsync/pkg/api"
	"commsync/pkg/config"
	"commsync/pkg/feed"
	"commsync/pkg/hooks"
	"commsync/pkg/logger"
	"commsync/pkg/store"
	"commsync/pkg/syncer"
	"commsync/pkg/viewport"
)

// App encapsulates the engine components and lifecycle.
type App struct {
	cfg     *config.Config
	source  string
	version string

	reg   *store.Registry
	sync  *syncer.Syncer
	hooks *hooks.Registry
	hub   *api.Hub
	api   *api.API
}

// New initializes all components from the effective config. It does not
// start the poll loop or the HTTP server; call Run to start those and block
// until shutdown.
func New(cfg *config.Config, source, version string) (*App, error) {
	_ = godotenv.Load(".env")
	logger.InitWithLevel(cfg.Logging.Level)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	specs := channelSpecs(cfg)
	reg := store.NewRegistry(specs)

	client := feed.NewHTTPClient(feed.HTTPClientOptions{
		BaseURL:      cfg.Feed.BaseURL,
		APIKey:       cfg.Feed.APIKey,
		Timeout:      cfg.Feed.Timeout.Duration(),
		MaxBodyBytes: cfg.Feed.MaxResponseBytes.Int64(),
	})

	gate := viewport.NewGate(cfg.Viewport.PaddingFraction)
	hk := hooks.NewRegistry()
	hub := api.NewHub()

	s := syncer.New(client, reg, gate, hk, syncer.Options{
		Interval:         cfg.Poll.Interval.Duration(),
		AcceleratedDelay: cfg.Poll.AcceleratedDelay.Duration(),
		RPS:              cfg.Poll.RPS,
		Burst:            cfg.Poll.Burst,
	})
	s.SetRenderNotifier(hub.Broadcast)

	grace := cfg.Poll.IdleGrace.Duration()
	s.SetIdleFunc(func() bool {
		return hub.SubscriberCount() == 0 && time.Since(s.LastActivity()) > grace
	})

	if cfg.Viewport.Initial != nil {
		s.SetViewport(*cfg.Viewport.Initial)
	}

	a := &App{
		cfg:     cfg,
		source:  source,
		version: version,
		reg:     reg,
		sync:    s,
		hooks:   hk,
		hub:     hub,
	}
	a.api = api.New(reg, s, hub)
	return a, nil
}

// Hooks exposes the extension registry so embedders can subscribe observers
// before Run.
func (a *App) Hooks() *hooks.Registry { return a.hooks }

// Syncer exposes the orchestrator for embedders and tests.
func (a *App) Syncer() *syncer.Syncer { return a.sync }

// Run starts the resync scheduler, the poll loop and the HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	cancelResync, err := resync.Start(ctx, a.cfg.Resync, a.sync)
	if err != nil {
		return err
	}
	defer cancelResync()

	go a.sync.Run(ctx)

	errCh := a.startHTTP(ctx)

	logger.Info("app_started",
		"addr", a.cfg.Addr(),
		"channels", len(a.reg.Channels()),
		"poll_interval", a.cfg.Poll.Interval.Duration().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func validateConfig(cfg *config.Config) error {
	if cfg.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	seen := map[string]bool{}
	for _, ch := range cfg.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel with empty id in config")
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id: %s", ch.ID)
		}
		seen[ch.ID] = true
	}
	if v := cfg.Viewport.Initial; v != nil {
		if v.MinLat > v.MaxLat || v.MinLng > v.MaxLng {
			return fmt.Errorf("viewport.initial bounds are inverted")
		}
	}
	return nil
}

func channelSpecs(cfg *config.Config) []store.ChannelSpec {
	if len(cfg.Channels) == 0 {
		return store.DefaultChannels()
	}
	specs := make([]store.ChannelSpec, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		specs = append(specs, store.ChannelSpec{
			ID:             ch.ID,
			ViewportScoped: ch.ViewportScoped,
			Sendable:       ch.Sendable,
		})
	}
	return specs
}
