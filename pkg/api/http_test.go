package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commsync/pkg/feed"
	"commsync/pkg/hooks"
	"commsync/pkg/models"
	"commsync/pkg/store"
	"commsync/pkg/syncer"
	"commsync/pkg/viewport"
)

type stubClient struct {
	result  *feed.Result
	sendErr error
}

func (c *stubClient) Fetch(ctx context.Context, p feed.FetchParams) (*feed.Result, error) {
	if c.result != nil {
		return c.result, nil
	}
	return &feed.Result{}, nil
}

func (c *stubClient) Send(ctx context.Context, p feed.SendParams) error { return c.sendErr }

func newTestAPI(t *testing.T, client feed.Client) (*API, *store.Registry, *syncer.Syncer) {
	t.Helper()
	reg := store.NewRegistry([]store.ChannelSpec{
		{ID: "all", ViewportScoped: true, Sendable: true},
		{ID: "alerts"},
	})
	s := syncer.New(client, reg, viewport.NewGate(0.1), hooks.NewRegistry(), syncer.Options{
		Interval: time.Hour,
		RPS:      1000,
		Burst:    1000,
	})
	return New(reg, s, NewHub()), reg, s
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestReadyzBeforeFirstCycle(t *testing.T) {
	a, _, s := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first cycle: %d", rec.Code)
	}
	// one completed cycle flips readiness
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for !s.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("syncer never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	rec = doJSON(t, a.Handler(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz after first cycle: %d", rec.Code)
	}
}

func TestListChannels(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/v1/channels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Channels []channelInfo `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Channels) != 2 || out.Channels[0].ID != "all" || !out.Channels[0].Sendable {
		t.Fatalf("channels: %+v", out.Channels)
	}
}

func TestMessagesTailWithLimit(t *testing.T) {
	a, reg, _ := newTestAPI(t, &stubClient{})
	_ = reg.Mutate("all", func(c *store.ChannelState) {
		for i, id := range []string{"a", "b", "c"} {
			c.Messages[id] = models.Message{ID: id, TimestampMs: int64(100 * (i + 1))}
			c.Order = append(c.Order, id)
		}
	})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/v1/channels/all/messages?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Channel  string           `json:"channel"`
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Channel != "all" || len(out.Messages) != 2 {
		t.Fatalf("body: %+v", out)
	}
	if out.Messages[0].ID != "b" || out.Messages[1].ID != "c" {
		t.Fatalf("limit did not keep newest tail: %+v", out.Messages)
	}
}

func TestMessagesUnknownChannel(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/v1/channels/nope/messages", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSendValidation(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	h := a.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/channels/all/send", `{"text":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank text accepted: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/v1/channels/alerts/send", `{"text":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-sendable channel: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/channels/all/send", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET send: %d", rec.Code)
	}
}

func TestSendAcceptedAndFailureEcho(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodPost, "/v1/channels/all/send", `{"text":"hello"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send status %d: %s", rec.Code, rec.Body.String())
	}

	failing, _, _ := newTestAPI(t, &stubClient{sendErr: &feed.TransportError{Status: 500}})
	rec = doJSON(t, failing.Handler(), http.MethodPost, "/v1/channels/all/send", `{"text":"precious words"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed send status %d", rec.Code)
	}
	var out struct {
		Error string `json:"error"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "precious words" {
		t.Fatalf("failed send lost the text: %+v", out)
	}
}

func TestViewportUpdate(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	h := a.Handler()

	rec := doJSON(t, h, http.MethodPut, "/v1/viewport",
		`{"min_lat":1,"min_lng":2,"max_lat":3,"max_lng":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("viewport update: %d %s", rec.Code, rec.Body.String())
	}
	// inverted box rejected
	rec = doJSON(t, h, http.MethodPut, "/v1/viewport",
		`{"min_lat":5,"min_lng":2,"max_lat":3,"max_lng":4}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted bounds accepted: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/v1/viewport", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET viewport: %d", rec.Code)
	}
}

func TestHistoryRequest(t *testing.T) {
	client := &stubClient{result: &feed.Result{}}
	a, _, _ := newTestAPI(t, client)
	rec := doJSON(t, a.Handler(), http.MethodPost, "/v1/channels/all/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	a, _, _ := newTestAPI(t, &stubClient{})
	rec := doJSON(t, a.Handler(), http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var out struct {
		Channels []syncer.ChannelStatus `json:"channels"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Channels) != 2 {
		t.Fatalf("status channels: %+v", out.Channels)
	}
}
