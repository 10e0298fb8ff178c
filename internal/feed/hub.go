package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fandex/exchange/internal/model"
)

// Event is one feed message.
type Event struct {
	Type  string      `json:"type"` // "trade" or "order"
	Trade *TradeEvent `json:"trade,omitempty"`
	Order *OrderEvent `json:"order,omitempty"`
}

// TradeEvent is the public view of an executed trade. Counterparty
// identities are not exposed on the feed.
type TradeEvent struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Price      string    `json:"price"`
	Quantity   int64     `json:"quantity"`
	ExecutedAt time.Time `json:"executed_at"`
}

// OrderEvent reports an order's status after placement or cancellation.
type OrderEvent struct {
	ID         string `json:"id"`
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Kind       string `json:"kind"`
	Quantity   int64  `json:"quantity"`
	Filled     int64  `json:"filled"`
	Status     string `json:"status"`
}

const subscriberBuffer = 128

// Hub fans events out to subscribers.
type Hub struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[int64]chan Event
	seq  atomic.Int64

	dropped atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[int64]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (h *Hub) Subscribe() (int64, <-chan Event) {
	id := h.seq.Add(1)
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int64) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every subscriber that can keep up.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped returns how many events were skipped for lagging subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishTrade implements the exchange publisher interface.
func (h *Hub) PublishTrade(t model.Trade) {
	h.Broadcast(Event{Type: "trade", Trade: &TradeEvent{
		ID:         t.ID.String(),
		Instrument: t.InstrumentID,
		Price:      t.Price.String(),
		Quantity:   t.Quantity,
		ExecutedAt: t.ExecutedAt,
	}})
}

// PublishOrder implements the exchange publisher interface.
func (h *Hub) PublishOrder(o model.Order) {
	h.Broadcast(Event{Type: "order", Order: &OrderEvent{
		ID:         o.ID.String(),
		Account:    o.AccountID,
		Instrument: o.InstrumentID,
		Side:       string(o.Side),
		Kind:       string(o.Kind),
		Quantity:   o.Quantity,
		Filled:     o.Filled,
		Status:     string(o.Status),
	}})
}
