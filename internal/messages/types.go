package messages

import "time"

// Header carries the bus-level identity of a message, independent of its
// payload. It is embedded (by value) into every dispatched Message; it is
// never mutated after dispatch.
type Header struct {
	SourceSystem int32
	SourceEntity int32
	DestSystem   *int32
	DestEntity   *int32
	Timestamp    float64 // wall-clock seconds, double precision
}

// Now returns the current wall-clock time as the double-precision seconds
// format used on Header.Timestamp.
func Now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Waypoint is a 3-D point in the vehicle's local tangent-plane frame.
// Z follows the vehicle convention of the system it came from (depth or
// altitude); this module never interprets its sign, only its magnitude.
type Waypoint struct {
	X, Y, Z float64
}

// EstimatedState is the navigation snapshot produced by navigation
// producers (out of scope for this module). Angles are radians, positions
// and velocities are meters / meters-per-second.
type EstimatedState struct {
	Header

	Position Waypoint
	Yaw      float64
	Pitch    float64
	Roll     float64

	// Body-frame velocity.
	U, V, W float64
	// Ground-frame (NED-equivalent local plane) velocity.
	Vx, Vy, Vz float64

	Depth    float64
	Altitude float64
}

// GroundCourse is the course over ground implied by the horizontal ground
// velocity, in (-pi, pi].
func (e EstimatedState) GroundCourse() float64 {
	if e.Vx == 0 && e.Vy == 0 {
		return e.Yaw
	}
	return wrapPi(atan2(e.Vy, e.Vx))
}

// GroundSpeed is the horizontal ground speed implied by Vx, Vy.
func (e EstimatedState) GroundSpeed() float64 {
	return hypot(e.Vx, e.Vy)
}

// LoiterRequest describes a circular hold embedded in a DesiredPath.
type LoiterRequest struct {
	Center    Waypoint
	Radius    float64
	Clockwise bool
}

// DesiredPath is dispatched by a guidance requester to start (or restart)
// path following between Start and End. Loiter is non-nil when the
// requester wants the endpoint held on a circle rather than passed through.
type DesiredPath struct {
	Header

	Start Waypoint
	End   Waypoint
	Speed float64

	Loiter *LoiterRequest
}

// DesiredZ requests a vertical setpoint. PCB fires this itself at path
// startup unless the subclass controller owns vertical control.
type DesiredZ struct {
	Header

	Value float64
	// ZUnits distinguishes depth-below-surface from altitude-above-bottom;
	// interpretation is left to the consuming actuator.
	ZUnits string
}

// DesiredSpeed requests a speed setpoint, in the units the vehicle's speed
// actuator expects (left opaque to this module).
type DesiredSpeed struct {
	Header

	Value float64
	Units string
}

// Brake requests that the path controller hold zero speed (Enable) or
// resume normal tracking (disable).
type Brake struct {
	Header

	Enable bool
}

// ControlLoopOp selects whether ControlLoops enables or disables the bits
// in Mask.
type ControlLoopOp int

const (
	ControlLoopEnable ControlLoopOp = iota
	ControlLoopDisable
)

// Control loop bits. Named capabilities a producer claims; see glossary.
const (
	CLHeading       uint32 = 1 << 0
	CLSpeed         uint32 = 1 << 1
	CLAltitude      uint32 = 1 << 2
	CLYaw           uint32 = 1 << 3
	CLRoll          uint32 = 1 << 4
	CLTeleoperation uint32 = 1 << 5
	// CLNoOverride marks a loop bit as non-overridable: while any bit with
	// this flag set (OR'd alongside a capability bit by its producer) is
	// active, control-loop disengagement cannot revert ERROR to SERVICE.
	CLNoOverride uint32 = 1 << 31
)

// NonOverridableMask is the set of bits that, if present in control_loops,
// prevent an automatic return to SERVICE (teleoperation or explicit
// no-override).
const NonOverridableMask = CLTeleoperation | CLNoOverride

// ControlLoops is dispatched by any control-loop producer (PCB, a
// maneuver, a teleoperation bridge) to claim or release capability bits,
// and by the Vehicle Supervisor to echo the reconciled mask.
type ControlLoops struct {
	Header

	Op   ControlLoopOp
	Mask uint32
}

// PathControlState is PCB's periodic/transition report of tracking
// progress and divergence status.
type PathControlState struct {
	Header

	Range        float64
	TrackBearing float64
	TrackLength  float64
	CourseError  float64
	Along        float64
	Cross        float64
	Z            float64
	ETA          float64
	StartTime    float64
	EndTime      float64
	Loitering    bool
	NearEnd      bool

	Diverging        bool
	DivergenceReason string
}

// NavigationUncertainty carries the navigation filter's estimate of its own
// horizontal position error, consumed by PCB's cross-track monitor.
type NavigationUncertainty struct {
	Header

	Horizontal float64
	Vertical   float64
}

// Distance is a bottom/obstacle range reading from a driver.
type Distance struct {
	Header

	Value float64
	Valid bool
}

// OpMode is the Vehicle Supervisor's operating mode. Exactly one is active
// at any time.
type OpMode int

const (
	OpModeService OpMode = iota
	OpModeCalibration
	OpModeError
	OpModeManeuver
	OpModeExternal
)

func (m OpMode) String() string {
	switch m {
	case OpModeService:
		return "SERVICE"
	case OpModeCalibration:
		return "CALIBRATION"
	case OpModeError:
		return "ERROR"
	case OpModeManeuver:
		return "MANEUVER"
	case OpModeExternal:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// ManeuverNone is the maneuver_type sentinel meaning "no maneuver active".
const ManeuverNone uint16 = 0xFFFF

// ManeuverETAUnknown is the maneuver_eta sentinel meaning "ETA not yet
// known".
const ManeuverETAUnknown uint16 = 0xFFFF

// VehicleState flags.
const (
	FlagManeuverDone uint32 = 1 << 0
)

// VehicleState is the Vehicle Supervisor's authoritative, periodically and
// transition-triggered broadcast of the vehicle's mode. It is also the
// shape of the Supervisor's single owned instance; the Supervisor clones it
// before every mutation per the bus's immutable-message discipline.
type VehicleState struct {
	Header

	OpMode OpMode

	ManeuverType  uint16
	ManeuverSTime float64 // seconds, or -1 when none
	ManeuverETA   uint16  // seconds, or ManeuverETAUnknown

	ErrorEnts  string // comma-joined entity names
	ErrorCount uint32

	Flags uint32

	LastError     string
	LastErrorTime float64

	ControlLoops uint32
}

// HasFlag reports whether f is set in Flags.
func (v VehicleState) HasFlag(f uint32) bool { return v.Flags&f != 0 }

// VehicleCommandType enumerates the command taxonomy accepted from
// VehicleCommand.
type VehicleCommandType int

const (
	CommandExecManeuver VehicleCommandType = iota
	CommandStopManeuver
	CommandCalibrate
	CommandSuccess
	CommandFailure
)

// VehicleCommand is dispatched by a plan executor to request a mode
// transition, and echoed by the Supervisor (as CommandSuccess/CommandFailure)
// addressed back to (SourceSystem, SourceEntity, RequestID).
type VehicleCommand struct {
	Header

	Type      VehicleCommandType
	RequestID uint32

	// ManeuverType/ManeuverPayload are populated for CommandExecManeuver;
	// the payload itself is opaque (maneuver implementations are out of
	// scope for this module).
	ManeuverType    uint16
	ManeuverPayload any

	// CalibrationTime overrides the configured default when > 0, for
	// CommandCalibrate.
	CalibrationTime float64

	// Info carries a human-readable reason on CommandSuccess/CommandFailure.
	Info string
}

// Calibration is dispatched by the Supervisor to begin a calibration
// sequence of the given duration.
type Calibration struct {
	Header

	Duration float64
}

// ManeuverState enumerates ManeuverControlState.State.
type ManeuverState int

const (
	ManeuverExecuting ManeuverState = iota
	ManeuverDone
	ManeuverError
)

// ManeuverControlState is dispatched by the active maneuver task to report
// progress back to the Supervisor.
type ManeuverControlState struct {
	Header

	State ManeuverState
	ETA   float64
	Info  string
}

// PlanControlType enumerates the small set of plan-executor requests the
// Supervisor reacts to.
type PlanControlType int

const (
	PlanControlStart PlanControlType = iota
	PlanControlStop
)

// PlanControl is dispatched by a plan executor around the execution of a
// plan, in particular to mark whether the plan is "safe" (see SafeEnts).
type PlanControl struct {
	Header

	Type     PlanControlType
	PlanID   string
	SafePlan bool
}

// EntityMonitoringState is dispatched by a driver (or an entity-monitoring
// aggregator) to report the current count and names of entities in error.
type EntityMonitoringState struct {
	Header

	CCount uint32
	CNames string // comma-joined entity names in error
}

// Abort is dispatched by any source to request an immediate return to a
// safe state.
type Abort struct {
	Header
}

// StopManeuver is dispatched by the Supervisor (or a plan executor) to end
// the currently executing maneuver.
type StopManeuver struct {
	Header
}

// IdleManeuver is dispatched by the Supervisor on reset to place the
// vehicle in a neutral, station-keeping maneuver.
type IdleManeuver struct {
	Header
}
