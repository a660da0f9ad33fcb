package supervisor

import (
	"testing"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
)

type recorder struct {
	inbox *bus.Mailbox
}

func newRecorder() *recorder { return &recorder{inbox: bus.NewMailbox(64)} }

func (r *recorder) Name() string        { return "recorder" }
func (r *recorder) Inbox() *bus.Mailbox { return r.inbox }
func (r *recorder) MarkFault(err error) {}

func (r *recorder) next(t *testing.T, kind messages.Kind) bus.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msg, ok := r.inbox.Receive(50 * time.Millisecond)
		if !ok {
			continue
		}
		if msg.Kind == kind {
			return msg
		}
	}
	t.Fatalf("timed out waiting for a %s message", kind)
	return bus.Message{}
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *recorder) {
	t.Helper()
	b := bus.New()
	rec := newRecorder()
	for _, k := range []messages.Kind{
		messages.KindVehicleState, messages.KindVehicleCommand, messages.KindCalibration,
		messages.KindStopManeuver, messages.KindIdleManeuver,
	} {
		b.Subscribe(rec, k)
	}
	s := New("vs", 1, 1, b, cfg)
	return s, rec
}

func TestExecManeuverSucceedsFromService(t *testing.T) {
	s, rec := newTestSupervisor(t, DefaultConfig())

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Header:    messages.Header{SourceSystem: 5, SourceEntity: 20},
		Type:      messages.CommandExecManeuver,
		RequestID: 42,
		ManeuverType: 7,
	}})

	reply := rec.next(t, messages.KindVehicleCommand).Payload.(messages.VehicleCommand)
	if reply.Type != messages.CommandSuccess || reply.RequestID != 42 {
		t.Fatalf("expected a SUCCESS reply to request 42, got %+v", reply)
	}
	if *reply.Header.DestEntity != 20 || *reply.Header.DestSystem != 5 {
		t.Fatalf("expected reply addressed back to the requester, got %+v", reply.Header)
	}
	if s.State().OpMode != messages.OpModeManeuver {
		t.Fatalf("expected OpModeManeuver, got %s", s.State().OpMode)
	}
}

func TestExecManeuverFailsDuringCalibration(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())
	s.calibrate(messages.VehicleCommand{RequestID: 1})

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Type: messages.CommandExecManeuver, RequestID: 2,
	}})

	if s.State().OpMode != messages.OpModeCalibration {
		t.Fatalf("expected calibration to be undisturbed, got %s", s.State().OpMode)
	}
}

func TestStopManeuverResetsToService(t *testing.T) {
	s, rec := newTestSupervisor(t, DefaultConfig())
	s.execManeuver(messages.VehicleCommand{RequestID: 1, ManeuverType: 3})
	rec.next(t, messages.KindVehicleState)

	s.stopManeuver(messages.VehicleCommand{RequestID: 2})

	rec.next(t, messages.KindStopManeuver)
	rec.next(t, messages.KindIdleManeuver)
	if s.State().OpMode != messages.OpModeService {
		t.Fatalf("expected OpModeService after stop, got %s", s.State().OpMode)
	}
	if s.State().ManeuverType != messages.ManeuverNone {
		t.Fatal("expected maneuver_type reset to ManeuverNone")
	}
}

func TestCalibrationExpiresAfterConfiguredDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationTime = 10 * time.Millisecond
	s, _ := newTestSupervisor(t, cfg)

	s.calibrate(messages.VehicleCommand{RequestID: 1})
	if s.State().OpMode != messages.OpModeCalibration {
		t.Fatal("expected calibration to start")
	}

	s.onTick(time.Now().Add(20 * time.Millisecond))
	if s.State().OpMode != messages.OpModeService {
		t.Fatalf("expected calibration to expire back to SERVICE, got %s", s.State().OpMode)
	}
}

func TestControlLoopsNonOverridableForcesExternalMode(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())

	s.handleControlLoops(bus.Message{Kind: messages.KindControlLoops, Payload: messages.ControlLoops{
		Op: messages.ControlLoopEnable, Mask: messages.CLTeleoperation,
	}})

	if s.State().OpMode != messages.OpModeExternal {
		t.Fatalf("expected OpModeExternal, got %s", s.State().OpMode)
	}

	s.handleControlLoops(bus.Message{Kind: messages.KindControlLoops, Payload: messages.ControlLoops{
		Op: messages.ControlLoopDisable, Mask: messages.CLTeleoperation,
	}})

	if s.State().OpMode != messages.OpModeService {
		t.Fatalf("expected OpModeService after teleoperation released, got %s", s.State().OpMode)
	}
}

func TestEntityErrorForcesErrorAndClearsOnRecovery(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())

	s.handleEntityMonitoringState(bus.Message{Kind: messages.KindEntityMonitoringState, Payload: messages.EntityMonitoringState{
		CCount: 1, CNames: "gps",
	}})
	if s.State().OpMode != messages.OpModeError {
		t.Fatalf("expected OpModeError, got %s", s.State().OpMode)
	}

	s.handleEntityMonitoringState(bus.Message{Kind: messages.KindEntityMonitoringState, Payload: messages.EntityMonitoringState{
		CCount: 0, CNames: "",
	}})
	if s.State().OpMode != messages.OpModeService {
		t.Fatalf("expected recovery to OpModeService, got %s", s.State().OpMode)
	}
}

func TestSafePlanWhitelistToleratesKnownEntityErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SafeEnts = []string{"dvl"}
	s, _ := newTestSupervisor(t, cfg)
	s.safePlan = true

	s.handleEntityMonitoringState(bus.Message{Kind: messages.KindEntityMonitoringState, Payload: messages.EntityMonitoringState{
		CCount: 1, CNames: "dvl",
	}})

	if s.State().OpMode == messages.OpModeError {
		t.Fatal("expected a whitelisted entity error under a safe plan not to force ERROR")
	}
}

func TestAbortResetsToServiceOutsideError(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())
	s.execManeuver(messages.VehicleCommand{RequestID: 1, ManeuverType: 3})

	s.handleAbort(bus.Message{Kind: messages.KindAbort, Payload: messages.Abort{}})

	if s.State().OpMode != messages.OpModeService {
		t.Fatalf("expected abort to force OpModeService, got %s", s.State().OpMode)
	}
	if s.State().LastError != "got abort request" {
		t.Fatalf("expected last_error to record the abort, got %q", s.State().LastError)
	}
}

func TestAbortDuringRealEntityErrorStaysInError(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())
	s.handleEntityMonitoringState(bus.Message{Kind: messages.KindEntityMonitoringState, Payload: messages.EntityMonitoringState{
		CCount: 1, CNames: "gps",
	}})

	s.handleAbort(bus.Message{Kind: messages.KindAbort, Payload: messages.Abort{}})

	if s.State().OpMode != messages.OpModeError {
		t.Fatalf("expected abort not to mask a real entity fault, got %s", s.State().OpMode)
	}
	if s.State().LastError != "got abort request" {
		t.Fatalf("expected last_error to record the abort, got %q", s.State().LastError)
	}
	if len(s.entityErrors) != 1 {
		t.Fatal("expected abort not to clear tracked entity errors while a real fault is active")
	}
}

func TestExecManeuverRejectedUnderExternalControl(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())
	s.handleControlLoops(bus.Message{Kind: messages.KindControlLoops, Payload: messages.ControlLoops{
		Op: messages.ControlLoopEnable, Mask: messages.CLTeleoperation,
	}})

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Type: messages.CommandExecManeuver, RequestID: 9,
	}})

	if s.State().OpMode != messages.OpModeExternal {
		t.Fatalf("expected EXEC_MANEUVER to be rejected under EXTERNAL, got %s", s.State().OpMode)
	}
}

func TestCalibrateRejectedUnderExternalControl(t *testing.T) {
	s, _ := newTestSupervisor(t, DefaultConfig())
	s.handleControlLoops(bus.Message{Kind: messages.KindControlLoops, Payload: messages.ControlLoops{
		Op: messages.ControlLoopEnable, Mask: messages.CLTeleoperation,
	}})

	s.calibrate(messages.VehicleCommand{RequestID: 1})

	if s.State().OpMode != messages.OpModeExternal {
		t.Fatalf("expected CALIBRATE to be rejected under EXTERNAL, got %s", s.State().OpMode)
	}
}

func TestCalibrateDuringManeuverResetsFirst(t *testing.T) {
	s, rec := newTestSupervisor(t, DefaultConfig())
	s.execManeuver(messages.VehicleCommand{RequestID: 1, ManeuverType: 3})
	rec.next(t, messages.KindVehicleState)

	s.calibrate(messages.VehicleCommand{RequestID: 2})

	rec.next(t, messages.KindIdleManeuver)
	if s.State().OpMode != messages.OpModeCalibration {
		t.Fatalf("expected calibration to start after resetting the maneuver, got %s", s.State().OpMode)
	}
	if s.State().ManeuverType != messages.ManeuverNone {
		t.Fatal("expected the reset to clear maneuver_type before calibration started")
	}
}

func TestStopManeuverIsIdempotent(t *testing.T) {
	s, rec := newTestSupervisor(t, DefaultConfig())

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Type: messages.CommandStopManeuver, RequestID: 1,
	}})
	reply := rec.next(t, messages.KindVehicleCommand).Payload.(messages.VehicleCommand)
	if reply.Type != messages.CommandSuccess {
		t.Fatalf("expected STOP_MANEUVER with no active maneuver to reply SUCCESS, got %+v", reply)
	}

	s.execManeuver(messages.VehicleCommand{RequestID: 2, ManeuverType: 3})
	rec.next(t, messages.KindVehicleState)

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Type: messages.CommandStopManeuver, RequestID: 3,
	}})
	first := rec.next(t, messages.KindVehicleCommand).Payload.(messages.VehicleCommand)

	s.handleVehicleCommand(bus.Message{Kind: messages.KindVehicleCommand, Payload: messages.VehicleCommand{
		Type: messages.CommandStopManeuver, RequestID: 4,
	}})
	second := rec.next(t, messages.KindVehicleCommand).Payload.(messages.VehicleCommand)

	if first.Type != messages.CommandSuccess || second.Type != messages.CommandSuccess {
		t.Fatalf("expected both STOP_MANEUVER calls to reply SUCCESS, got %+v, %+v", first, second)
	}
}
