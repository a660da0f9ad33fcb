// Package task implements the runtime that schedules the core's long-lived
// tasks: each owns a mailbox, a set of bus subscriptions, and optionally a
// periodic tick, and runs on its own goroutine communicating only via the
// bus (§4.2, §5 of the core's concurrency model).
package task

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
)

// EntityState is one of the three states a task's entity can be in.
type EntityState int

const (
	StateBoot EntityState = iota
	StateNormal
	StateFault
)

func (s EntityState) String() string {
	switch s {
	case StateBoot:
		return "boot"
	case StateNormal:
		return "normal"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Handler processes one delivered message.
type Handler func(msg bus.Message)

// defaultPollInterval bounds how long an aperiodic task's wait_for_messages
// call blocks before re-checking the stop flag.
const defaultPollInterval = 500 * time.Millisecond

// Task is one schedulable unit of the core: a mailbox, a set of per-kind
// handlers, an optional tick, and the lifecycle hooks its owner overrode.
type Task struct {
	name      string
	entityID  int32
	bus       *bus.Bus
	inbox     *bus.Mailbox
	lifecycle Lifecycle

	period time.Duration
	tick   func(now time.Time)

	handlersMu sync.RWMutex
	handlers   map[messages.Kind]Handler

	stateMu  sync.Mutex
	state    EntityState
	lastErr  error
	stopping bool
}

// New creates a task bound to bus b. lifecycle may be nil, in which case
// NoopLifecycle is used.
func New(name string, entityID int32, b *bus.Bus, lifecycle Lifecycle, mailboxCapacity int) *Task {
	if lifecycle == nil {
		lifecycle = NoopLifecycle{}
	}
	return &Task{
		name:      name,
		entityID:  entityID,
		bus:       b,
		inbox:     bus.NewMailbox(mailboxCapacity),
		lifecycle: lifecycle,
		handlers:  make(map[messages.Kind]Handler),
		state:     StateBoot,
	}
}

// Name implements bus.Subscriber.
func (t *Task) Name() string { return t.name }

// Inbox implements bus.Subscriber.
func (t *Task) Inbox() *bus.Mailbox { return t.inbox }

// EntityID returns the task's numeric entity identifier.
func (t *Task) EntityID() int32 { return t.entityID }

// MarkFault implements bus.Subscriber: it transitions the task's entity
// state to fault. err may be nil (e.g. when the cause was a subscriber
// panic already logged by the bus).
func (t *Task) MarkFault(err error) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.state = StateFault
	if err != nil {
		t.lastErr = err
	}
}

// State returns the task's current entity state.
func (t *Task) State() EntityState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// LastError returns the error recorded by the most recent MarkFault call.
func (t *Task) LastError() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.lastErr
}

// setNormal clears a fault and returns the task to the normal state.
func (t *Task) setNormal() {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.state = StateNormal
}

// On subscribes the task to kind on its bus and registers h as the handler
// invoked for every message of that kind drained from the mailbox.
func (t *Task) On(kind messages.Kind, h Handler) {
	t.handlersMu.Lock()
	t.handlers[kind] = h
	t.handlersMu.Unlock()
	t.bus.Subscribe(t, kind)
}

// SetTick configures a periodic callback invoked at best-effort rate
// `period`. A non-positive period leaves the task aperiodic.
func (t *Task) SetTick(period time.Duration, fn func(now time.Time)) {
	t.period = period
	t.tick = fn
}

// Publish dispatches payload under kind on the task's bus. Callers are
// expected to have populated payload's embedded messages.Header
// (SourceSystem, SourceEntity, Timestamp) before calling Publish.
func (t *Task) Publish(kind messages.Kind, payload any) {
	t.bus.Dispatch(bus.Message{Kind: kind, Payload: payload})
}

// RequestStop sets the task's sticky stop flag. The task observes it at its
// next suspension point inside WaitForMessages.
func (t *Task) RequestStop() {
	t.stateMu.Lock()
	t.stopping = true
	t.stateMu.Unlock()
}

// Stopping reports whether RequestStop has been called.
func (t *Task) Stopping() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.stopping
}

// WaitForMessages drains the mailbox, dispatching each pending message to
// its registered handler, after blocking at most timeout for the first one.
// It returns the number of messages handled. Unlike a single
// Mailbox.Receive, it keeps draining without blocking again once the
// mailbox is known non-empty, so a burst of traffic is serviced within one
// call; that draining is not bounded by timeout.
func (t *Task) WaitForMessages(timeout time.Duration) int {
	handled := 0

	msg, ok := t.inbox.Receive(timeout)
	for ok {
		t.dispatch(msg)
		handled++
		msg, ok = t.inbox.Receive(0)
	}
	return handled
}

func (t *Task) dispatch(msg bus.Message) {
	t.handlersMu.RLock()
	h, ok := t.handlers[msg.Kind]
	t.handlersMu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.MarkFault(fmt.Errorf("handler for %s panicked: %v", msg.Kind, r))
			log.Printf("task %s: handler for %s panicked: %v", t.name, msg.Kind, r)
		}
	}()
	h(msg)
}

// Run executes the task's full lifecycle: boot hooks, then the main loop
// (mailbox drain interleaved with the periodic tick and OnMain), until ctx
// is done, then the release hook. It never blocks on I/O beyond the bus's
// own timeouts; drivers that need real I/O waits are expected to run
// outside the core.
func (t *Task) Run(ctx context.Context) error {
	for _, hook := range []func(context.Context) error{
		t.lifecycle.OnEntityReservation,
		t.lifecycle.OnResourceAcquisition,
		t.lifecycle.OnResourceInitialization,
	} {
		if err := hook(ctx); err != nil {
			t.MarkFault(err)
			return err
		}
	}
	t.setNormal()

	if err := t.lifecycle.OnActivation(ctx); err != nil {
		t.MarkFault(err)
		return err
	}

	var nextTick time.Time
	if t.period > 0 {
		nextTick = time.Now().Add(t.period)
	}

	for ctx.Err() == nil && !t.Stopping() {
		timeout := defaultPollInterval
		if t.period > 0 {
			if remaining := time.Until(nextTick); remaining < timeout {
				timeout = remaining
			}
			if timeout < 0 {
				timeout = 0
			}
		}

		t.WaitForMessages(timeout)

		now := time.Now()
		if t.period > 0 && !now.Before(nextTick) {
			if t.tick != nil {
				t.tick(now)
			}
			// Catch up at most one accumulated period; never let drift
			// compound into a burst of ticks.
			nextTick = nextTick.Add(t.period)
			if nextTick.Before(now) {
				nextTick = now.Add(t.period)
			}
		}

		if err := t.lifecycle.OnMain(ctx); err != nil {
			t.MarkFault(err)
		}
	}

	if err := t.lifecycle.OnDeactivation(ctx); err != nil {
		log.Printf("task %s: deactivation error: %v", t.name, err)
	}
	return t.lifecycle.OnResourceRelease(ctx)
}
