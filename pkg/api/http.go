// Package api serves the read-side view of the synchronized channels plus
// the small control surface (send, viewport, history paging).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"commsync/pkg/logger"
	"commsync/pkg/models"
	"commsync/pkg/store"
	"commsync/pkg/syncer"
)

// API wires the HTTP view endpoints to the registry and the syncer.
type API struct {
	reg     *store.Registry
	sync    *syncer.Syncer
	hub     *Hub
	started time.Time
}

// New returns an API over the given collaborators.
func New(reg *store.Registry, s *syncer.Syncer, hub *Hub) *API {
	return &API{reg: reg, sync: s, hub: hub, started: time.Now()}
}

// Handler returns the http.Handler with all JSON endpoints mounted.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !a.sync.Ready() {
			http.Error(w, `{"status":"starting"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	mux.HandleFunc("/v1/channels", a.handleChannels)
	mux.HandleFunc("/v1/channels/", a.handleChannelSub)
	mux.HandleFunc("/v1/status", a.handleStatus)
	mux.HandleFunc("/v1/viewport", a.handleViewport)
	if a.hub != nil {
		mux.HandleFunc("/v1/stream", a.hub.ServeHTTP)
	}
	return mux
}

type channelInfo struct {
	ID             string `json:"id"`
	ViewportScoped bool   `json:"viewport_scoped"`
	Sendable       bool   `json:"sendable"`
	Messages       int    `json:"messages"`
}

func (a *API) handleChannels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	out := make([]channelInfo, 0)
	for _, id := range a.reg.Channels() {
		_ = a.reg.View(id, func(c *store.ChannelState) {
			out = append(out, channelInfo{
				ID:             c.ID,
				ViewportScoped: c.ViewportScoped,
				Sendable:       c.Sendable,
				Messages:       c.Len(),
			})
		})
	}
	_ = json.NewEncoder(w).Encode(struct {
		Channels []channelInfo `json:"channels"`
	}{Channels: out})
}

// handleChannelSub routes /v1/channels/{id}/(messages|send|history).
func (a *API) handleChannelSub(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	p := r.URL.Path[len("/v1/channels/"):]
	parts := splitPath(p)
	if len(parts) < 2 || parts[0] == "" {
		http.Error(w, `{"error":"channel id missing"}`, http.StatusBadRequest)
		return
	}
	channel, action := parts[0], parts[1]
	if !a.reg.Has(channel) {
		http.Error(w, `{"error":"unknown channel"}`, http.StatusNotFound)
		return
	}

	switch action {
	case "messages":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		a.handleMessages(w, r, channel)
	case "send":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		a.handleSend(w, r, channel)
	case "history":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		a.handleHistory(w, r, channel)
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request, channel string) {
	// reads count as consumer activity for idle detection
	a.sync.TouchActivity()

	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	var out []models.Message
	_ = a.reg.View(channel, func(c *store.ChannelState) {
		out = c.Ordered(limit)
	})
	_ = json.NewEncoder(w).Encode(struct {
		Channel  string           `json:"channel"`
		Messages []models.Message `json:"messages"`
	}{Channel: channel, Messages: out})
}

func (a *API) handleSend(w http.ResponseWriter, r *http.Request, channel string) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, `{"error":"text required"}`, http.StatusBadRequest)
		return
	}
	err := a.sync.SendMessage(r.Context(), channel, req.Text)
	if err != nil {
		var se *syncer.SendError
		if errors.As(err, &se) {
			// hand the text back so the caller can resubmit it
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(struct {
				Error string `json:"error"`
				Text  string `json:"text"`
			}{Error: "send failed", Text: se.Text})
			return
		}
		if errors.Is(err, syncer.ErrNotSendable) {
			http.Error(w, `{"error":"channel does not accept messages"}`, http.StatusForbidden)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	logger.Info("message_sent", "channel", channel)
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, channel string) {
	a.sync.TouchActivity()
	err := a.sync.RequestHistory(r.Context(), channel)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case errors.Is(err, syncer.ErrInFlight):
		http.Error(w, `{"error":"request already in flight"}`, http.StatusConflict)
	case errors.Is(err, syncer.ErrPaced), errors.Is(err, syncer.ErrIdle):
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusTooManyRequests)
	default:
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadGateway)
	}
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	a.sync.TouchActivity()
	subs := 0
	if a.hub != nil {
		subs = a.hub.SubscriberCount()
	}
	_ = json.NewEncoder(w).Encode(struct {
		UptimeSeconds int64                  `json:"uptime_seconds"`
		Subscribers   int                    `json:"subscribers"`
		Channels      []syncer.ChannelStatus `json:"channels"`
	}{
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
		Subscribers:   subs,
		Channels:      a.sync.Status(),
	})
}

func (a *API) handleViewport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", "PUT")
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	var b models.Bounds
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		http.Error(w, `{"error":"invalid bounds"}`, http.StatusBadRequest)
		return
	}
	a.sync.TouchActivity()
	a.sync.SetViewport(b)
	logger.Info("viewport_updated",
		"min_lat", b.MinLat, "min_lng", b.MinLng,
		"max_lat", b.MaxLat, "max_lng", b.MaxLng)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
