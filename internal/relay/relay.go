// Package relay implements the Telemetry Relay: a bus subscriber that
// republishes a coarse subset of bus traffic onto NATS JetStream for
// out-of-process observers (§4.7). It is the only task in this module
// permitted to block on network I/O; VS and PCB never do.
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
	"github.com/nats-io/nats.go"
)

const streamName = "VEHICLE_STATE"

func subject(entityID int32) string {
	return fmt.Sprintf("vehicle.%d.state", entityID)
}

// JetStream is the narrow JetStream surface the relay depends on.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Connection bundles a live NATS connection with its JetStream context so
// the relay task can close both on shutdown.
type Connection struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Dial connects to NATS at url, obtains a JetStream context, and
// idempotently ensures the vehicle-state stream exists via an
// AddStream-if-missing call.
func Dial(url string) (*Connection, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("relay: failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("relay: failed to get jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"vehicle.*.state"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("relay: failed to create stream: %w", err)
	}

	return &Connection{conn: nc, js: js}, nil
}

// Close closes the underlying NATS connection.
func (c *Connection) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// JetStream exposes the connection's publish surface to Relay.
func (c *Connection) JetStream() JetStream { return c.js }

// Relay is the Telemetry Relay task.
type Relay struct {
	*task.Task

	js JetStream
}

// New creates a Relay task bound to b, publishing through js.
func New(name string, entityID int32, b *bus.Bus, js JetStream) *Relay {
	r := &Relay{js: js}
	r.Task = task.New(name, entityID, b, nil, 256)

	r.On(messages.KindVehicleState, r.handleVehicleState)
	r.On(messages.KindPathControlState, r.handlePathControlState)
	return r
}

func (r *Relay) handleVehicleState(msg bus.Message) {
	vs := msg.Payload.(messages.VehicleState)
	r.publish(vs.Header.SourceEntity, vs)
}

func (r *Relay) handlePathControlState(msg bus.Message) {
	pcs := msg.Payload.(messages.PathControlState)
	r.publish(pcs.Header.SourceEntity, pcs)
}

func (r *Relay) publish(entityID int32, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("relay %s: failed to marshal payload: %v", r.Name(), err)
		return
	}
	// A fresh Nats-Msg-Id per publish lets JetStream's dedup window collapse
	// retried publishes on reconnect without the relay tracking state itself.
	if _, err := r.js.Publish(subject(entityID), data, nats.MsgId(uuid.NewString())); err != nil {
		log.Printf("relay %s: failed to publish to %s: %v", r.Name(), subject(entityID), err)
	}
}
