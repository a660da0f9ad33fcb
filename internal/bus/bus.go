// Package bus implements the process-wide, typed publish/subscribe message
// bus described by the core: publishers dispatch without knowing
// subscribers, and subscribers receive an immutable snapshot of every
// message published for a kind they registered for.
package bus

import (
	"log"
	"sync"

	"github.com/jrsynow/dune/internal/messages"
)

// Message is the bus envelope: a kind discriminant plus its payload. The
// payload's embedded messages.Header carries source/destination/timestamp.
// Once dispatched, a Message is never mutated — subscribers that need to
// change fields must clone the payload first.
type Message struct {
	Kind    messages.Kind
	Payload any
}

// Subscriber is the minimal contract the bus needs from a task: somewhere
// to enqueue deliveries, and a way to mark the task faulted when delivering
// to it panics.
type Subscriber interface {
	Name() string
	Inbox() *Mailbox
	MarkFault(err error)
}

// Bus is a process-wide, typed publish/subscribe dispatcher. The zero value
// is not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[messages.Kind][]Subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[messages.Kind][]Subscriber)}
}

// Subscribe registers sub as a consumer of kind. Subscribing the same
// (sub, kind) pair more than once is idempotent.
func (b *Bus) Subscribe(sub Subscriber, kind messages.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.subscribers[kind] {
		if existing == sub {
			return
		}
	}
	b.subscribers[kind] = append(b.subscribers[kind], sub)
}

// Unsubscribe removes sub as a consumer of kind, if present.
func (b *Bus) Unsubscribe(sub Subscriber, kind messages.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[kind]
	for i, existing := range subs {
		if existing == sub {
			b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Dispatch enqueues msg into every subscriber registered for msg.Kind. The
// fan-out is synchronous to this call (every subscriber's mailbox has
// received the message, or dropped it for overflow, before Dispatch
// returns) but delivery to the task's handler is asynchronous — the
// subscriber drains its own mailbox on its own schedule. A subscriber whose
// delivery panics is marked faulted and does not prevent delivery to the
// others.
func (b *Bus) Dispatch(msg Message) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subscribers[msg.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		deliverSafely(sub, msg)
	}
}

func deliverSafely(sub Subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: subscriber %s panicked on delivery of %s: %v", sub.Name(), msg.Kind, r)
			sub.MarkFault(nil)
		}
	}()
	sub.Inbox().Enqueue(msg)
}

// SubscriberCount reports how many tasks are currently subscribed to kind,
// for tests and diagnostics.
func (b *Bus) SubscriberCount(kind messages.Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}
