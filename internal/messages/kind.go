// Package messages defines the message kinds and payloads exchanged on the
// vehicle's in-process bus. Every payload type here corresponds to a kind
// consumed or produced by the core (Path Controller Base, Vehicle
// Supervisor) as described by the external interface contract; drivers,
// maneuvers and plan executors that originate or consume these messages are
// external collaborators and are not implemented in this module.
package messages

// Kind discriminates the payload carried by a Message.
type Kind int

const (
	KindUnknown Kind = iota

	KindEstimatedState
	KindDesiredPath
	KindDesiredZ
	KindDesiredSpeed
	KindBrake
	KindControlLoops
	KindPathControlState
	KindNavigationUncertainty
	KindDistance
	KindVehicleCommand
	KindVehicleState
	KindCalibration
	KindManeuverControlState
	KindPlanControl
	KindEntityMonitoringState
	KindAbort
	KindStopManeuver
	KindIdleManeuver
)

func (k Kind) String() string {
	switch k {
	case KindEstimatedState:
		return "EstimatedState"
	case KindDesiredPath:
		return "DesiredPath"
	case KindDesiredZ:
		return "DesiredZ"
	case KindDesiredSpeed:
		return "DesiredSpeed"
	case KindBrake:
		return "Brake"
	case KindControlLoops:
		return "ControlLoops"
	case KindPathControlState:
		return "PathControlState"
	case KindNavigationUncertainty:
		return "NavigationUncertainty"
	case KindDistance:
		return "Distance"
	case KindVehicleCommand:
		return "VehicleCommand"
	case KindVehicleState:
		return "VehicleState"
	case KindCalibration:
		return "Calibration"
	case KindManeuverControlState:
		return "ManeuverControlState"
	case KindPlanControl:
		return "PlanControl"
	case KindEntityMonitoringState:
		return "EntityMonitoringState"
	case KindAbort:
		return "Abort"
	case KindStopManeuver:
		return "StopManeuver"
	case KindIdleManeuver:
		return "IdleManeuver"
	default:
		return "Unknown"
	}
}
