package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSubscriberClosed is returned when sending to a closed subscriber.
	ErrSubscriberClosed = errors.New("bus: subscriber closed")
	// ErrSubscriberBackedUp is returned when a subscriber's queue is full.
	ErrSubscriberBackedUp = errors.New("bus: subscriber queue full")
)

// Event is one named message pushed to subscribers.
type Event struct {
	ID   string
	Name string
	Data []byte
	Time time.Time
}

// Subscriber is one push-channel connection registered with a Hub. Events
// are queued in a bounded buffer and drained by the transport goroutine
// that owns the connection.
type Subscriber struct {
	id      string
	created time.Time
	ch      chan Event
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSubscriber(queueSize int) *Subscriber {
	return &Subscriber{
		id:      uuid.NewString(),
		created: time.Now().UTC(),
		ch:      make(chan Event, queueSize),
		done:    make(chan struct{}),
	}
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id
}

// Created returns when the subscriber connected.
func (s *Subscriber) Created() time.Time {
	return s.created
}

// Events returns the subscriber's delivery queue. The channel is never
// closed; readers should also select on Done.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Done is closed once the subscriber has been removed from its hub.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the subscriber has been closed.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send queues e without blocking.
func (s *Subscriber) send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return ErrSubscriberBackedUp
	}
}

// close marks the subscriber closed. It reports whether this call did the
// transition.
func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}
