// Package supervisor implements the Vehicle Supervisor: the single task
// that owns the vehicle's operating mode, arbitrates control-loop claims
// from every other task, aggregates entity errors, and drives maneuver
// requests to completion (§4.4).
package supervisor

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
)

// maneuverRequestTimeout bounds how long the Supervisor waits for the
// active maneuver task to report ManeuverExecuting/Done/Error after
// EXEC_MANEUVER is accepted, before failing the request on its own.
const maneuverRequestTimeout = time.Second

// Config holds the Supervisor's tunables (§6).
type Config struct {
	// SwitchTime is carried in the configuration but not read by the
	// Supervisor: no mode transition is timed against it.
	SwitchTime time.Duration
	// CalibrationTime is the default calibration duration used when a
	// CALIBRATE command doesn't override it.
	CalibrationTime time.Duration
	// TickPeriod is how often VehicleState is rebroadcast even absent a
	// transition.
	TickPeriod time.Duration
	// SafeEnts whitelists entity names whose errors do not block a safe
	// plan from continuing to run in ERROR (§4.4's safe-plan filtering).
	SafeEnts []string
}

// DefaultConfig returns the Supervisor's default tunables.
func DefaultConfig() Config {
	return Config{
		SwitchTime:      5 * time.Second,
		CalibrationTime: 10 * time.Second,
		TickPeriod:      500 * time.Millisecond,
	}
}

// entityError is one named entity's most recent fault.
type entityError struct {
	name string
	at   time.Time
}

// Supervisor is the Vehicle Supervisor task.
type Supervisor struct {
	*task.Task

	cfg          Config
	sourceSystem int32

	state messages.VehicleState

	entityErrors map[string]entityError
	safePlan     bool

	calibrationUntil time.Time
	maneuverDeadline time.Time

	lastTick time.Time
}

// New creates a Supervisor task bound to b.
func New(name string, entityID, sourceSystem int32, b *bus.Bus, cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		sourceSystem: sourceSystem,
		entityErrors: make(map[string]entityError),
	}
	s.Task = task.New(name, entityID, b, nil, 256)
	s.state = messages.VehicleState{
		OpMode:       messages.OpModeService,
		ManeuverType: messages.ManeuverNone,
		ManeuverETA:  messages.ManeuverETAUnknown,
	}

	s.On(messages.KindVehicleCommand, s.handleVehicleCommand)
	s.On(messages.KindControlLoops, s.handleControlLoops)
	s.On(messages.KindEntityMonitoringState, s.handleEntityMonitoringState)
	s.On(messages.KindManeuverControlState, s.handleManeuverControlState)
	s.On(messages.KindPlanControl, s.handlePlanControl)
	s.On(messages.KindAbort, s.handleAbort)

	s.SetTick(cfg.TickPeriod, s.onTick)
	return s
}

func (s *Supervisor) header() messages.Header {
	return messages.Header{SourceSystem: s.sourceSystem, SourceEntity: s.EntityID(), Timestamp: messages.Now()}
}

// State returns a copy of the Supervisor's current VehicleState. The
// Supervisor's own copy is never shared by reference; every mutation
// clones before changing a field, per the bus's immutable-message
// discipline (§4.4 design notes).
func (s *Supervisor) State() messages.VehicleState { return s.state }

func (s *Supervisor) publishState() {
	s.state.Header = s.header()
	s.Publish(messages.KindVehicleState, s.state)
}

// reset returns the Supervisor to a neutral SERVICE state: clears the
// active maneuver, re-idles the vehicle, and republishes state. Flags are
// kept, so FlagManeuverDone set on completion is part of the published
// state until the next EXEC_MANEUVER clears it. Called on STOP_MANEUVER
// and CALIBRATE during a maneuver, on maneuver completion, and on an abort
// outside ERROR.
func (s *Supervisor) reset() {
	next := s.state
	next.OpMode = messages.OpModeService
	next.ManeuverType = messages.ManeuverNone
	next.ManeuverSTime = -1
	next.ManeuverETA = messages.ManeuverETAUnknown
	s.state = next
	s.maneuverDeadline = time.Time{}

	s.Publish(messages.KindIdleManeuver, messages.IdleManeuver{Header: s.header()})
	s.publishState()
}

func (s *Supervisor) reply(cmd messages.VehicleCommand, ok bool, info string) {
	typ := messages.CommandFailure
	if ok {
		typ = messages.CommandSuccess
	}
	dest := cmd.Header.SourceEntity
	destSystem := cmd.Header.SourceSystem
	s.Publish(messages.KindVehicleCommand, messages.VehicleCommand{
		Header:    messages.Header{SourceSystem: s.sourceSystem, SourceEntity: s.EntityID(), DestSystem: &destSystem, DestEntity: &dest, Timestamp: messages.Now()},
		Type:      typ,
		RequestID: cmd.RequestID,
		Info:      info,
	})
}

func (s *Supervisor) handleVehicleCommand(msg bus.Message) {
	cmd := msg.Payload.(messages.VehicleCommand)
	switch cmd.Type {
	case messages.CommandExecManeuver:
		s.execManeuver(cmd)
	case messages.CommandStopManeuver:
		s.stopManeuver(cmd)
	case messages.CommandCalibrate:
		s.calibrate(cmd)
	}
}

func (s *Supervisor) execManeuver(cmd messages.VehicleCommand) {
	if s.state.OpMode == messages.OpModeExternal {
		s.reply(cmd, false, "vehicle is under external control")
		return
	}
	if s.state.OpMode == messages.OpModeCalibration {
		s.reply(cmd, false, "cannot start a maneuver while calibrating")
		return
	}
	if s.state.OpMode == messages.OpModeError && !s.hasUnsafeError() {
		// A safe-plan whitelist filtering exception: errors confined to
		// SafeEnts do not block a new maneuver.
	} else if s.state.OpMode == messages.OpModeError {
		s.reply(cmd, false, "vehicle is in ERROR")
		return
	}

	next := s.state
	next.OpMode = messages.OpModeManeuver
	next.ManeuverType = cmd.ManeuverType
	next.ManeuverSTime = messages.Now()
	next.ManeuverETA = messages.ManeuverETAUnknown
	next.Flags &^= messages.FlagManeuverDone
	s.state = next

	s.maneuverDeadline = time.Now().Add(maneuverRequestTimeout)
	s.reply(cmd, true, "")
	s.publishState()
}

// stopManeuver always replies SUCCESS, including when no maneuver is
// active: a second STOP_MANEUVER arriving after the first already reset
// the vehicle is a duplicate, not an error.
func (s *Supervisor) stopManeuver(cmd messages.VehicleCommand) {
	if s.state.OpMode == messages.OpModeManeuver {
		s.Publish(messages.KindStopManeuver, messages.StopManeuver{Header: s.header()})
		s.reset()
	}
	s.reply(cmd, true, "")
}

func (s *Supervisor) calibrate(cmd messages.VehicleCommand) {
	if s.state.OpMode == messages.OpModeExternal {
		s.reply(cmd, false, "vehicle is under external control")
		return
	}
	if s.state.OpMode == messages.OpModeManeuver {
		s.reset()
	}
	duration := s.cfg.CalibrationTime
	if cmd.CalibrationTime > 0 {
		duration = time.Duration(cmd.CalibrationTime * float64(time.Second))
	}

	next := s.state
	next.OpMode = messages.OpModeCalibration
	s.state = next
	s.calibrationUntil = time.Now().Add(duration)

	s.Publish(messages.KindCalibration, messages.Calibration{Header: s.header(), Duration: duration.Seconds()})
	s.reply(cmd, true, "")
	s.publishState()
}

// handleControlLoops folds every producer's claim into the Supervisor's
// aggregate ControlLoops bitmask (§4.4's arbitration) and, when EXTERNAL
// bits (teleoperation or explicit no-override) appear, forces EXTERNAL
// mode regardless of whatever else is running.
func (s *Supervisor) handleControlLoops(msg bus.Message) {
	cl := msg.Payload.(messages.ControlLoops)

	next := s.state
	switch cl.Op {
	case messages.ControlLoopEnable:
		next.ControlLoops |= cl.Mask
	case messages.ControlLoopDisable:
		next.ControlLoops &^= cl.Mask
	}

	wasExternal := s.state.OpMode == messages.OpModeExternal
	nowOverridden := next.ControlLoops&messages.NonOverridableMask != 0

	if nowOverridden && !wasExternal {
		next.OpMode = messages.OpModeExternal
	} else if wasExternal && !nowOverridden {
		next.OpMode = messages.OpModeService
	}
	s.state = next
	s.publishState()
}

// hasUnsafeError reports whether any entity currently in error is outside
// the configured safe-plan whitelist.
func (s *Supervisor) hasUnsafeError() bool {
	if len(s.entityErrors) == 0 {
		return false
	}
	for name := range s.entityErrors {
		if !s.isSafeEnt(name) {
			return true
		}
	}
	return false
}

func (s *Supervisor) isSafeEnt(name string) bool {
	for _, safe := range s.cfg.SafeEnts {
		if safe == name {
			return true
		}
	}
	return false
}

func (s *Supervisor) handleEntityMonitoringState(msg bus.Message) {
	ems := msg.Payload.(messages.EntityMonitoringState)

	now := time.Now()
	names := splitNonEmpty(ems.CNames)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
		s.entityErrors[n] = entityError{name: n, at: now}
	}
	for n := range s.entityErrors {
		if !seen[n] {
			delete(s.entityErrors, n)
		}
	}

	s.entityError()
}

// entityError reconciles the Supervisor's mode against the current set of
// entities in error. If the plan running is marked safe and every errored
// entity is whitelisted, the vehicle stays in whatever mode it was in;
// otherwise an unsafe error forces ERROR, and ERROR clears automatically
// once every entity recovers, unless a non-overridable control loop is
// still claimed.
func (s *Supervisor) entityError() {
	next := s.state
	unsafe := s.hasUnsafeError() || (!s.safePlan && len(s.entityErrors) > 0)

	next.ErrorCount = uint32(len(s.entityErrors))
	names := make([]string, 0, len(s.entityErrors))
	for n := range s.entityErrors {
		names = append(names, n)
	}
	next.ErrorEnts = strings.Join(names, ",")

	switch {
	case unsafe && next.OpMode != messages.OpModeError:
		next.OpMode = messages.OpModeError
		next.LastError = fmt.Sprintf("entities in error: %s", next.ErrorEnts)
		next.LastErrorTime = messages.Now()
	case !unsafe && next.OpMode == messages.OpModeError:
		if next.ControlLoops&messages.NonOverridableMask == 0 {
			next.OpMode = messages.OpModeService
		}
	}
	s.state = next
	s.publishState()
}

func (s *Supervisor) handleManeuverControlState(msg bus.Message) {
	mcs := msg.Payload.(messages.ManeuverControlState)
	if s.state.OpMode != messages.OpModeManeuver {
		return
	}

	next := s.state
	switch mcs.State {
	case messages.ManeuverExecuting:
		next.ManeuverETA = etaFromSeconds(mcs.ETA)
		s.maneuverDeadline = time.Now().Add(maneuverRequestTimeout)
	case messages.ManeuverDone:
		next.Flags |= messages.FlagManeuverDone
		s.state = next
		s.reset()
		return
	case messages.ManeuverError:
		next.LastError = mcs.Info
		next.LastErrorTime = messages.Now()
		next.OpMode = messages.OpModeError
	}
	s.state = next
	s.publishState()
}

func etaFromSeconds(seconds float64) uint16 {
	if seconds < 0 {
		return messages.ManeuverETAUnknown
	}
	if seconds > float64(messages.ManeuverETAUnknown-1) {
		return messages.ManeuverETAUnknown - 1
	}
	return uint16(seconds)
}

func (s *Supervisor) handlePlanControl(msg bus.Message) {
	pc := msg.Payload.(messages.PlanControl)
	switch pc.Type {
	case messages.PlanControlStart:
		s.safePlan = pc.SafePlan
	case messages.PlanControlStop:
		s.safePlan = false
	}
}

// handleAbort always records the abort as the vehicle's last error, but
// only resets to SERVICE when the vehicle isn't in ERROR for a real
// entity fault — an abort during a genuine fault must not mask it.
func (s *Supervisor) handleAbort(msg bus.Message) {
	log.Printf("supervisor %s: abort received", s.Name())
	s.safePlan = false

	next := s.state
	next.LastError = "got abort request"
	next.LastErrorTime = messages.Now()
	s.state = next

	if !s.errorMode() {
		s.reset()
	} else {
		s.publishState()
	}
}

func (s *Supervisor) errorMode() bool {
	return s.state.OpMode == messages.OpModeError
}

func (s *Supervisor) onTick(now time.Time) {
	if s.state.OpMode == messages.OpModeCalibration && !s.calibrationUntil.IsZero() && !now.Before(s.calibrationUntil) {
		s.calibrationUntil = time.Time{}
		next := s.state
		next.OpMode = messages.OpModeService
		s.state = next
	}

	if s.state.OpMode == messages.OpModeManeuver && !s.maneuverDeadline.IsZero() && now.After(s.maneuverDeadline) {
		next := s.state
		next.OpMode = messages.OpModeError
		next.LastError = "maneuver request timed out"
		next.LastErrorTime = messages.Now()
		s.state = next
		s.maneuverDeadline = time.Time{}
	}

	if s.lastTick.IsZero() || now.Sub(s.lastTick) >= s.cfg.TickPeriod {
		s.lastTick = now
		s.publishState()
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
