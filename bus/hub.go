package bus

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names pushed by the hub.
const (
	EventConnect = "connect"
	EventMessage = "message"
)

// ConnectPayload is the confirmation sent to every new subscriber.
const ConnectPayload = "MCP Server connected"

const defaultQueueSize = 64

// HubConfig configures a Hub.
type HubConfig struct {
	// QueueSize is the per-subscriber delivery buffer (default: 64). A
	// subscriber whose buffer is full when a broadcast reaches it is removed.
	QueueSize int
	Logger    *slog.Logger
	Observer  Observer
}

// Hub is the set of live subscribers.
//
// The set is a copy-on-write slice: writers serialize on mu and publish a
// fresh slice, while Broadcast iterates whatever slice was current when it
// started. A subscriber added after that point does not see the broadcast;
// one removed during it is skipped because its send fails.
type Hub struct {
	mu     sync.Mutex
	subs   atomic.Pointer[[]*Subscriber]
	closed atomic.Bool

	queueSize int
	logger    *slog.Logger
	observer  Observer
}

// NewHub creates an empty hub.
func NewHub(cfg HubConfig) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	h := &Hub{
		queueSize: queueSize,
		logger:    logger,
		observer:  observer,
	}
	empty := []*Subscriber{}
	h.subs.Store(&empty)
	return h
}

// Subscribe registers a new subscriber and queues the connect event to it.
// After Close, Subscribe returns a subscriber that is already closed.
func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber(h.queueSize)
	// Queued before the subscriber is visible so it always comes first.
	_ = sub.send(newEvent(EventConnect, []byte(ConnectPayload)))

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	current := *h.subs.Load()
	next := make([]*Subscriber, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, sub)
	h.subs.Store(&next)
	h.mu.Unlock()

	h.logger.Info("subscriber connected", "subscriber", sub.ID(), "subscribers", len(next))
	h.observer.ObserveSubscribers(1)
	return sub
}

// Unsubscribe removes sub from the hub and closes it. Removing a
// subscriber that is not present is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h.remove(sub) {
		h.logger.Info("subscriber disconnected", "subscriber", sub.ID(), "subscribers", h.Len())
	}
}

// Broadcast sends one named event to every subscriber present when the
// call starts and returns how many accepted it. A subscriber whose send
// fails is removed immediately; delivery to the others continues.
func (h *Hub) Broadcast(name string, data []byte) int {
	snapshot := *h.subs.Load()
	if len(snapshot) == 0 {
		return 0
	}

	event := newEvent(name, data)
	delivered, removed := 0, 0
	for _, sub := range snapshot {
		if err := sub.send(event); err != nil {
			if h.remove(sub) {
				removed++
				h.logger.Warn("subscriber removed after failed send",
					"subscriber", sub.ID(),
					"event", name,
					"error", err,
				)
			}
			continue
		}
		delivered++
	}

	h.observer.ObserveBroadcast(BroadcastObservation{
		Event:     name,
		Delivered: delivered,
		Removed:   removed,
	})
	return delivered
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	return len(*h.subs.Load())
}

// Subscribers returns a snapshot of the live subscribers.
func (h *Hub) Subscribers() []*Subscriber {
	return slices.Clone(*h.subs.Load())
}

// Close closes every subscriber. Later Broadcasts reach nobody and later
// Subscribes return closed subscribers.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed.Store(true)
	current := *h.subs.Load()
	empty := []*Subscriber{}
	h.subs.Store(&empty)
	h.mu.Unlock()

	for _, sub := range current {
		sub.close()
	}
	if len(current) > 0 {
		h.observer.ObserveSubscribers(-len(current))
	}
	return nil
}

// remove deletes sub from the set and closes it. It reports whether sub
// was present.
func (h *Hub) remove(sub *Subscriber) bool {
	if sub == nil {
		return false
	}
	h.mu.Lock()
	current := *h.subs.Load()
	idx := slices.Index(current, sub)
	if idx < 0 {
		h.mu.Unlock()
		return false
	}
	next := make([]*Subscriber, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	h.subs.Store(&next)
	h.mu.Unlock()

	sub.close()
	h.observer.ObserveSubscribers(-1)
	return true
}

func newEvent(name string, data []byte) Event {
	return Event{
		ID:   ulid.Make().String(),
		Name: name,
		Data: slices.Clone(data),
		Time: time.Now().UTC(),
	}
}
