package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"simctl/internal/domain"
)

// MonitorEvent is pushed to monitor clients. Progress events carry
// Current/Total; state events carry State.
type MonitorEvent struct {
	Type      string       `json:"type"`
	SessionID string       `json:"sessionId,omitempty"`
	Current   int          `json:"current"`
	Total     int          `json:"total"`
	State     domain.State `json:"state,omitempty"`
	Time      time.Time    `json:"time"`
}

const (
	EventProgress = "progress"
	EventState    = "state"
)

type MonitorHub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	wmu      sync.Mutex
	// listeners are in-process subscribers
	lmu       sync.RWMutex
	listeners map[chan MonitorEvent]struct{}
	now       func() time.Time
}

func NewMonitorHub() *MonitorHub {
	return &MonitorHub{
		clients:   make(map[*websocket.Conn]struct{}),
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		listeners: make(map[chan MonitorEvent]struct{}),
		now:       time.Now,
	}
}

func (h *MonitorHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	_ = c.SetReadDeadline(time.Time{})
	for {
		// keepalive reads to detect client close
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.Close()
}

// OnProgress makes the hub a controller progress listener.
func (h *MonitorHub) OnProgress(current, total int) {
	h.Broadcast(MonitorEvent{Type: EventProgress, Current: current, Total: total})
}

// PublishState announces a lifecycle change of the current session.
func (h *MonitorHub) PublishState(sess domain.Session) {
	h.Broadcast(MonitorEvent{
		Type:      EventState,
		SessionID: sess.ID,
		Current:   sess.CurrentIteration,
		Total:     sess.TotalIterations,
		State:     sess.State,
	})
}

func (h *MonitorHub) Broadcast(ev MonitorEvent) {
	if ev.Time.IsZero() {
		ev.Time = h.now().UTC()
	}
	data, _ := json.Marshal(ev)
	// snapshot clients to avoid holding read lock during writes
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	// serialize writes to prevent concurrent writes to same conn
	h.wmu.Lock()
	for _, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
	h.wmu.Unlock()
	// sends never block, so the read lock is held across them; Unsubscribe
	// closes under the write lock and cannot race a send
	h.lmu.RLock()
	for ch := range h.listeners {
		select {
		case ch <- ev:
		default: // drop if slow
		}
	}
	h.lmu.RUnlock()
}

// Subscribe returns a channel receiving monitor events. Caller must Unsubscribe.
func (h *MonitorHub) Subscribe() chan MonitorEvent {
	ch := make(chan MonitorEvent, 256)
	h.lmu.Lock()
	h.listeners[ch] = struct{}{}
	h.lmu.Unlock()
	return ch
}

func (h *MonitorHub) Unsubscribe(ch chan MonitorEvent) {
	h.lmu.Lock()
	if _, ok := h.listeners[ch]; ok {
		delete(h.listeners, ch)
		close(ch)
	}
	h.lmu.Unlock()
}

// Subscribers reports in-process event subscribers.
func (h *MonitorHub) Subscribers() int {
	h.lmu.RLock()
	defer h.lmu.RUnlock()
	return len(h.listeners)
}

// Clients reports connected WebSocket clients.
func (h *MonitorHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
