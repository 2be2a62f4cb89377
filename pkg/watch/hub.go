// Package watch fans out applied record changes to interested listeners.
package watch

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one applied change to a peering record.
type Event struct {
	Source        string    `json:"source"` // ixf, rollback
	Action        string    `json:"action"`
	ExchangeLANID uint      `json:"exchangeLanId"`
	RecordID      uint      `json:"recordId"`
	ASN           uint32    `json:"asn"`
	VersionBefore *uint     `json:"versionBefore,omitempty"`
	VersionAfter  uint      `json:"versionAfter"`
	Reason        string    `json:"reason,omitempty"`
	Time          time.Time `json:"time"`
}

// Fanout receives change events. Push must not block for long.
type Fanout interface {
	Push(ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Push(Event) {}

// Hub streams events to websocket subscribers of an exchange LAN.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	writeMu  sync.Mutex // gorilla allows one writer per connection
	subs     map[uint]map[*websocket.Conn]struct{} // lan id -> subscribers, 0 = all
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs:   map[uint]map[*websocket.Conn]struct{}{},
		logger: logger.With("component", "watch"),
	}
}

// HandleWS subscribes the caller; ?lan=ID limits the stream to one LAN.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var lan uint
	if raw := r.URL.Query().Get("lan"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid lan", http.StatusBadRequest)
			return
		}
		lan = uint(v)
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	h.mu.Lock()
	if h.subs[lan] == nil {
		h.subs[lan] = map[*websocket.Conn]struct{}{}
	}
	h.subs[lan][c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("subscriber connected", "lan", lan)
	go h.subLoop(c)
}

// Subscribers counts open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		n += len(s)
	}
	return n
}

func (h *Hub) Push(ev Event) {
	h.mu.RLock()
	var targets []*websocket.Conn
	for c := range h.subs[ev.ExchangeLANID] {
		targets = append(targets, c)
	}
	if ev.ExchangeLANID != 0 {
		for c := range h.subs[0] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range targets {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			go h.closeSub(c)
		}
	}
}

func (h *Hub) subLoop(c *websocket.Conn) {
	defer h.closeSub(c)
	for {
		if _, _, err := c.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) closeSub(c *websocket.Conn) {
	_ = c.Close()
	h.mu.Lock()
	for lan, subs := range h.subs {
		if _, ok := subs[c]; !ok {
			continue
		}
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subs, lan)
		}
	}
	h.mu.Unlock()
}
