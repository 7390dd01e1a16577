package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"commsync/pkg/logger"
	"commsync/pkg/syncer"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamSendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the view API is same-host tooling, not a public browser surface
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans render events out to websocket subscribers. Its subscriber count
// also feeds the idle predicate: with no listeners and no recent reads,
// polling pauses.
type Hub struct {
	mu    sync.Mutex
	conns map[*streamConn]struct{}
}

type streamConn struct {
	ws   *websocket.Conn
	send chan syncer.RenderEvent
}

// NewHub returns an empty stream hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*streamConn]struct{})}
}

// SubscriberCount returns the number of connected stream clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast queues ev for every subscriber. A subscriber whose buffer is
// full is dropped; render events are refresh hints, not a durable stream.
func (h *Hub) Broadcast(ev syncer.RenderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- ev:
		default:
			delete(h.conns, c)
			close(c.send)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams render events
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("stream_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	c := &streamConn{ws: ws, send: make(chan syncer.RenderEvent, streamSendBuffer)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	logger.Info("stream_subscribed", "remote", r.RemoteAddr, "subscribers", n)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *streamConn) {
	defer h.drop(c)
	c.ws.SetReadLimit(512)
	for {
		// clients send nothing meaningful; reads only detect disconnect
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *streamConn) {
	ping := time.NewTicker(streamPingPeriod)
	defer func() {
		ping.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				h.drop(c)
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

func (h *Hub) drop(c *streamConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.ws.Close()
}
