// Package pathctl implements the Path Controller Base: the task
// specialization that turns DesiredPath messages into periodic control
// steps against a live navigation estimate, while monitoring along-track
// and cross-track divergence (§4.3). Vehicle-specific control laws plug in
// through the Controller interface; PCB owns the lifecycle, the tracking
// state, and the monitors.
package pathctl

import (
	"fmt"
	"log"
	"time"

	"github.com/jrsynow/dune/internal/bus"
	"github.com/jrsynow/dune/internal/messages"
	"github.com/jrsynow/dune/internal/task"
)

// Phase is PCB's per-path state machine, meaningful only while the
// controller is active (§4.3).
type Phase int

const (
	PhaseAwaitingPath Phase = iota
	PhaseTracking
	PhaseBraking
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingPath:
		return "awaiting_path"
	case PhaseTracking:
		return "tracking"
	case PhaseBraking:
		return "braking"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// divergenceLogInterval rate-limits divergence error logging per §7.
const divergenceLogInterval = 2 * time.Second

// Config holds PCB's tunables (§6 configuration surface).
type Config struct {
	ControlPeriod      time.Duration
	StateReportPeriod  time.Duration
	CourseControl      bool
	NearbyRadius       float64
	ActivationLoops    uint32 // loop bits whose enable/disable from a path executor activate/deactivate PCB
	ATM                ATMConfig
	CTM                CTMConfig
}

// DefaultConfig returns reasonable defaults grounded in the periods named
// throughout the core's control-loop design.
func DefaultConfig() Config {
	return Config{
		ControlPeriod:     200 * time.Millisecond,
		StateReportPeriod: time.Second,
		NearbyRadius:      5,
		ActivationLoops:   messages.CLHeading | messages.CLSpeed,
		ATM: ATMConfig{
			Period:   time.Second,
			MinSpeed: 0.1,
			MinYaw:   2.4, // ~137 degrees: "facing backwards"
		},
		CTM: CTMConfig{
			DistanceLimit: 10,
			TimeLimit:     3 * time.Second,
			NavUncFactor:  1,
		},
	}
}

// Base is the Path Controller Base task. Construct with NewBase and run it
// with task.Runtime like any other task.
type Base struct {
	*task.Task

	cfg          Config
	controller   Controller
	sourceSystem int32

	active   bool
	phase    Phase
	tracking *TrackingState

	lastNav        messages.EstimatedState
	haveNav        bool
	requestedSpeed float64
	lastDistance   messages.Distance
	navUncertainty float64

	enabledLoops uint32

	atm *ATMData
	ctm *CTMData

	lastReport          time.Time
	lastDivergenceLogAt time.Time
}

// NewBase creates a PCB task named name, identified by entityID on
// sourceSystem, driving controller according to cfg.
func NewBase(name string, entityID, sourceSystem int32, b *bus.Bus, controller Controller, cfg Config) *Base {
	base := &Base{
		cfg:          cfg,
		controller:   controller,
		sourceSystem: sourceSystem,
		phase:        PhaseAwaitingPath,
	}
	base.Task = task.New(name, entityID, b, nil, 256)

	base.On(messages.KindEstimatedState, base.handleEstimatedState)
	base.On(messages.KindDesiredPath, base.handleDesiredPath)
	base.On(messages.KindDesiredSpeed, base.handleDesiredSpeed)
	base.On(messages.KindBrake, base.handleBrake)
	base.On(messages.KindControlLoops, base.handleControlLoops)
	base.On(messages.KindNavigationUncertainty, base.handleNavUncertainty)
	base.On(messages.KindDistance, base.handleDistance)

	base.SetTick(cfg.ControlPeriod, base.onControlTick)
	return base
}

func (b *Base) header() messages.Header {
	return messages.Header{SourceSystem: b.sourceSystem, SourceEntity: b.EntityID(), Timestamp: messages.Now()}
}

// Phase reports PCB's current per-path phase, for tests and diagnostics.
// Safe to call only from the task's own goroutine or after it has stopped:
// the phase is read and written without synchronization.
func (b *Base) Phase() Phase { return b.phase }

// Tracking exposes the current tracking state, or nil if no path is
// active. Controllers receive it directly as a Step/Loiter argument; this
// accessor exists for tests.
func (b *Base) Tracking() *TrackingState { return b.tracking }

// Activate transitions PCB from idle into the active state, ready to
// accept DesiredPath messages. Idempotent.
func (b *Base) Activate() {
	if b.active {
		return
	}
	b.active = true
	b.phase = PhaseAwaitingPath
	b.controller.OnPathActivation(b)
	b.reportNow("activated", false)
}

// Deactivate ends tracking, discards the tracking state, disengages
// whatever control loops PCB itself had claimed, and returns PCB to idle.
// Idempotent.
func (b *Base) Deactivate() {
	if !b.active {
		return
	}
	b.controller.OnPathDeactivation(b)
	if b.enabledLoops != 0 {
		b.DisableControlLoops(b.enabledLoops)
	}
	b.active = false
	b.tracking = nil
	b.phase = PhaseAwaitingPath
	b.reportNow("deactivated", false)
}

// EnableControlLoops claims mask and dispatches ControlLoops.enable.
func (b *Base) EnableControlLoops(mask uint32) {
	b.enabledLoops |= mask
	b.Publish(messages.KindControlLoops, messages.ControlLoops{
		Header: b.header(), Op: messages.ControlLoopEnable, Mask: mask,
	})
}

// DisableControlLoops releases mask and dispatches ControlLoops.disable.
func (b *Base) DisableControlLoops(mask uint32) {
	b.enabledLoops &^= mask
	b.Publish(messages.KindControlLoops, messages.ControlLoops{
		Header: b.header(), Op: messages.ControlLoopDisable, Mask: mask,
	})
}

// SignalError is how a Controller reports an unrecoverable error: PCB
// transitions to fault and disengages. Only ever called from within Step
// or Loiter, which PCB invokes from its own task goroutine, so no
// synchronization is needed here (§4.2's single-threaded-per-task
// contract).
func (b *Base) SignalError(reason string) {
	b.enterError(reason)
}

// LastDistance returns the most recently received bottom/obstacle reading.
func (b *Base) LastDistance() messages.Distance { return b.lastDistance }

// RequestedSpeed returns the last requested speed, taken from a
// DesiredSpeed message or from a DesiredPath with a positive Speed,
// whichever came last; 0 if neither has been received. It is not cleared
// when a new path starts.
func (b *Base) RequestedSpeed() float64 { return b.requestedSpeed }

func (b *Base) handleEstimatedState(msg bus.Message) {
	b.lastNav = msg.Payload.(messages.EstimatedState)
	b.haveNav = true
}

func (b *Base) handleDesiredSpeed(msg bus.Message) {
	speed := msg.Payload.(messages.DesiredSpeed)
	b.requestedSpeed = speed.Value
}

func (b *Base) handleDesiredPath(msg bus.Message) {
	if !b.active {
		log.Printf("pathctl %s: dropping DesiredPath received while idle", b.Name())
		return
	}
	path := msg.Payload.(messages.DesiredPath)

	b.tracking = NewTrackingState(path, b.cfg.CourseControl)
	b.tracking.StartTime = messages.Now()
	if path.Speed > 0 {
		b.requestedSpeed = path.Speed
	}

	if !b.controller.HasSpecificZControl() {
		b.Publish(messages.KindDesiredZ, messages.DesiredZ{
			Header: b.header(), Value: path.End.Z, ZUnits: "depth",
		})
	}

	b.controller.OnPathStartup(b, b.lastNav, b.tracking)
	b.phase = PhaseTracking
	b.reportNow("path started", false)
}

func (b *Base) handleBrake(msg bus.Message) {
	brake := msg.Payload.(messages.Brake)
	if !b.active || b.tracking == nil {
		return
	}
	if brake.Enable && b.phase != PhaseBraking && b.phase != PhaseError {
		b.phase = PhaseBraking
		b.Publish(messages.KindDesiredSpeed, messages.DesiredSpeed{Header: b.header(), Value: 0})
		b.reportNow("braking", false)
	} else if !brake.Enable && b.phase == PhaseBraking {
		b.phase = PhaseTracking
		b.reportNow("brake released", false)
	}
}

func (b *Base) handleControlLoops(msg bus.Message) {
	cl := msg.Payload.(messages.ControlLoops)
	if cl.Header.SourceEntity == b.EntityID() {
		return // ignore our own echoes
	}
	if cl.Mask&b.cfg.ActivationLoops == 0 {
		return
	}
	switch cl.Op {
	case messages.ControlLoopEnable:
		b.Activate()
	case messages.ControlLoopDisable:
		b.Deactivate()
	}
}

func (b *Base) handleNavUncertainty(msg bus.Message) {
	nu := msg.Payload.(messages.NavigationUncertainty)
	b.navUncertainty = nu.Horizontal
}

func (b *Base) handleDistance(msg bus.Message) {
	b.lastDistance = msg.Payload.(messages.Distance)
}

func (b *Base) onControlTick(now time.Time) {
	if !b.active || b.tracking == nil {
		return
	}

	switch b.phase {
	case PhaseBraking:
		b.Publish(messages.KindDesiredSpeed, messages.DesiredSpeed{Header: b.header(), Value: 0})
		b.maybeReport(now)
	case PhaseTracking:
		if !b.haveNav {
			return
		}
		b.step(now)
	case PhaseError, PhaseAwaitingPath:
		// No periodic work while erroring out or before the first path.
	}
}

func (b *Base) step(now time.Time) {
	b.tracking.Update(b.lastNav, now, b.cfg.NearbyRadius)

	if diverging, reason := atmMonitorFor(b).Check(b.tracking, now); diverging {
		b.enterError(reason)
		return
	}
	if diverging, reason := ctmMonitorFor(b).Check(b.tracking, b.navUncertainty, now); diverging {
		b.enterError(reason)
		return
	}

	if b.tracking.Loitering {
		b.controller.Loiter(b, b.lastNav, b.tracking)
	} else {
		b.controller.Step(b, b.lastNav, b.tracking)
	}

	b.maybeReport(now)
}

func (b *Base) enterError(reason string) {
	if b.phase == PhaseError {
		return
	}
	b.phase = PhaseError
	b.controller.OnPathDeactivation(b)
	if b.enabledLoops != 0 {
		b.DisableControlLoops(b.enabledLoops)
	}
	b.MarkFault(fmt.Errorf("pathctl: %s", reason))
	b.reportNow(reason, true)

	if time.Since(b.lastDivergenceLogAt) > divergenceLogInterval {
		b.lastDivergenceLogAt = time.Now()
		log.Printf("pathctl %s: entering error: %s", b.Name(), reason)
	}
}

func (b *Base) maybeReport(now time.Time) {
	if b.lastReport.IsZero() || now.Sub(b.lastReport) >= b.cfg.StateReportPeriod {
		b.reportNow("", false)
	}
}

func (b *Base) reportNow(divergenceReason string, diverging bool) {
	b.lastReport = time.Now()
	report := messages.PathControlState{Header: b.header()}
	if b.tracking != nil {
		report.Range = b.tracking.Range
		report.TrackBearing = b.tracking.TrackBearing
		report.TrackLength = b.tracking.TrackLength
		report.CourseError = b.tracking.CourseError
		report.Along = b.tracking.TrackPos.Along
		report.Cross = b.tracking.TrackPos.Cross
		report.Z = b.tracking.TrackPos.Z
		report.ETA = b.tracking.ETA
		report.StartTime = b.tracking.StartTime
		report.EndTime = b.tracking.EndTime
		report.Loitering = b.tracking.Loitering
		report.NearEnd = b.tracking.Nearby
	}
	report.Diverging = diverging
	report.DivergenceReason = divergenceReason
	b.Publish(messages.KindPathControlState, report)
}

// atmMonitorFor/ctmMonitorFor lazily build per-Base monitors on first use.
// Kept as functions (rather than constructed in NewBase) so zero-value
// Config in tests still produces a usable, if permissive, monitor.
func atmMonitorFor(b *Base) *ATMData {
	if b.atm == nil {
		b.atm = NewATMData(b.cfg.ATM)
	}
	return b.atm
}

func ctmMonitorFor(b *Base) *CTMData {
	if b.ctm == nil {
		b.ctm = NewCTMData(b.cfg.CTM)
	}
	return b.ctm
}
