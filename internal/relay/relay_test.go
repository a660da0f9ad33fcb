package relay

import (
	"encoding/json"
	"testing"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/nats-io/nats.go"
)

type fakeJetStream struct {
	published []publishedMsg
	failNext  bool
}

type publishedMsg struct {
	subject string
	data    []byte
	opts    []nats.PubOpt
}

func (f *fakeJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	if f.failNext {
		f.failNext = false
		return nil, errPublishFailed
	}
	f.published = append(f.published, publishedMsg{subject: subj, data: data, opts: opts})
	return &nats.PubAck{}, nil
}

var errPublishFailed = publishErr("publish failed")

type publishErr string

func (e publishErr) Error() string { return string(e) }

func TestVehicleStateRepublishedUnderEntitySubject(t *testing.T) {
	b := bus.New()
	js := &fakeJetStream{}
	r := New("relay", 1, b, js)

	r.handleVehicleState(bus.Message{Kind: messages.KindVehicleState, Payload: messages.VehicleState{
		Header: messages.Header{SourceEntity: 12},
		OpMode: messages.OpModeManeuver,
	}})

	if len(js.published) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(js.published))
	}
	if js.published[0].subject != "vehicle.12.state" {
		t.Fatalf("expected subject vehicle.12.state, got %s", js.published[0].subject)
	}
	if len(js.published[0].opts) != 1 {
		t.Fatalf("expected the publish to carry a dedup Nats-Msg-Id option, got %d opts", len(js.published[0].opts))
	}

	var decoded messages.VehicleState
	if err := json.Unmarshal(js.published[0].data, &decoded); err != nil {
		t.Fatalf("failed to decode relayed payload: %v", err)
	}
	if decoded.OpMode != messages.OpModeManeuver {
		t.Fatalf("expected decoded OpMode Maneuver, got %s", decoded.OpMode)
	}
}

func TestPathControlStateRepublished(t *testing.T) {
	b := bus.New()
	js := &fakeJetStream{}
	r := New("relay", 1, b, js)

	r.handlePathControlState(bus.Message{Kind: messages.KindPathControlState, Payload: messages.PathControlState{
		Header: messages.Header{SourceEntity: 3}, Diverging: true,
	}})

	if len(js.published) != 1 || js.published[0].subject != "vehicle.3.state" {
		t.Fatalf("expected one publish to vehicle.3.state, got %v", js.published)
	}
}

func TestPublishFailureIsLoggedNotPanicked(t *testing.T) {
	b := bus.New()
	js := &fakeJetStream{failNext: true}
	r := New("relay", 1, b, js)

	r.handleVehicleState(bus.Message{Kind: messages.KindVehicleState, Payload: messages.VehicleState{
		Header: messages.Header{SourceEntity: 1},
	}})

	if len(js.published) != 0 {
		t.Fatal("expected the failed publish not to be recorded")
	}
}
