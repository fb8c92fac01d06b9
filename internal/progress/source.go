package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// subscriberBuffer bounds how many notifications may queue per subscriber
// before new ones are dropped.
const subscriberBuffer = 256

// Notification signals that one item of a bulk search has been processed.
type Notification struct {
	// BatchID is optional. When empty the notification applies to whichever
	// batch is in flight.
	BatchID string `json:"batch_id,omitempty"`
	Item    string `json:"company"`
}

// Source delivers out-of-band progress notifications.
type Source interface {
	// Subscribe returns a channel receiving notifications until ctx is done,
	// at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan Notification, error)
}

// Hub is an in-process Source. Producers call Publish; every live subscriber
// receives a copy. Publish never blocks.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Notification]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chan Notification]struct{}),
		logger: slog.Default(),
	}
}

// Subscribe implements Source.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Notification, error) {
	ch := make(chan Notification, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()
	return ch, nil
}

// Publish fans n out to all subscribers. A subscriber whose buffer is full
// misses the notification.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Debug("progress subscriber full, dropping notification", "item", n.Item)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ParseNotification decodes a wire payload. JSON objects carry "company" and
// an optional "batch_id"; anything else is taken as a bare company name.
func ParseNotification(data []byte) (Notification, bool) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return Notification{}, false
	}
	if strings.HasPrefix(raw, "{") {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n.Item == "" {
			return Notification{}, false
		}
		return n, true
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil || s == "" {
			return Notification{}, false
		}
		return Notification{Item: s}, true
	}
	return Notification{Item: raw}, true
}
