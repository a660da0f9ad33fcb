package pathctl

import (
	"math"

	"github.com/jrsynow/dune/internal/messages"
)

// Controller is the contract a vehicle-specific control law implements.
// PCB (Base) drives the lifecycle and tracking bookkeeping; the Controller
// only ever computes setpoints and dispatches them, via the *Base handle it
// is given, onto the bus (§4.3, §9 design notes: re-architected from
// inheritance into an explicit interface).
type Controller interface {
	// Step is invoked once per control period with a coherent navigation
	// snapshot and the current tracking state. It must produce setpoints
	// via b.Publish.
	Step(b *Base, nav messages.EstimatedState, tr *TrackingState)

	// Loiter is invoked instead of Step while tr.Loitering is set. The
	// default implementation (DefaultController.Loiter) holds a circular
	// pattern around tr.LoiterState.
	Loiter(b *Base, nav messages.EstimatedState, tr *TrackingState)

	// OnPathStartup runs once when a new DesiredPath is accepted, before
	// the first Step/Loiter call for that path.
	OnPathStartup(b *Base, nav messages.EstimatedState, tr *TrackingState)

	// OnPathActivation/OnPathDeactivation run on PCB activation and
	// deactivation (ControlLoops.enable/disable from a path executor),
	// independent of any particular path.
	OnPathActivation(b *Base)
	OnPathDeactivation(b *Base)

	// HasSpecificZControl reports whether the controller owns vertical
	// control itself. If false (the common case), PCB fires DesiredZ at
	// path startup on the controller's behalf.
	HasSpecificZControl() bool
}

// DesiredHeading is a vehicle-specific setpoint: the line-of-sight/loiter
// heading a Controller asks an actuator to hold. It is not part of the
// core message taxonomy in §3/§6 (heading-law setpoints are explicitly
// vehicle-specific), but Controllers need some concrete kind to publish;
// this is the one DefaultController and the sample Controllers in this
// package use.
type DesiredHeading struct {
	messages.Header

	Value float64 // radians
}

// KindDesiredHeading is the bus kind for DesiredHeading.
const KindDesiredHeading messages.Kind = 1000

const defaultLoiterSpeed = 1.0 // m/s, used when tr.Speed (Loiter) or CruiseSpeed (StraightLineController) is not positive

// DefaultController implements every Controller method except Step with
// the framework defaults described in §4.3, so a concrete controller only
// has to embed it and provide Step.
type DefaultController struct{}

// Loiter holds station on tr.LoiterState's circle: it heads the vehicle
// tangent to the circle, nudged inward or outward as the vehicle's
// distance from the center departs from the target radius.
func (DefaultController) Loiter(b *Base, nav messages.EstimatedState, tr *TrackingState) {
	dx := nav.Position.X - tr.LoiterState.Center.X
	dy := nav.Position.Y - tr.LoiterState.Center.Y
	radial := math.Hypot(dx, dy)
	bearingFromCenter := math.Atan2(dy, dx)

	turn := math.Pi / 2
	if tr.LoiterState.Clockwise {
		turn = -turn
	}
	heading := wrapPi(bearingFromCenter + turn)

	if tr.LoiterState.Radius > 0 {
		radialError := radial - tr.LoiterState.Radius
		// Correct up to ~30 degrees inward/outward proportional to how
		// far off the target radius the vehicle has drifted.
		correction := clamp(radialError/tr.LoiterState.Radius, -1, 1) * (math.Pi / 6)
		if tr.LoiterState.Clockwise {
			heading = wrapPi(heading - correction)
		} else {
			heading = wrapPi(heading + correction)
		}
	}

	b.Publish(KindDesiredHeading, DesiredHeading{Header: b.header(), Value: heading})

	speed := tr.Speed
	if speed <= 0 {
		speed = defaultLoiterSpeed
	}
	b.Publish(messages.KindDesiredSpeed, messages.DesiredSpeed{Header: b.header(), Value: speed})
}

func (DefaultController) OnPathStartup(b *Base, nav messages.EstimatedState, tr *TrackingState) {}
func (DefaultController) OnPathActivation(b *Base)                                              {}
func (DefaultController) OnPathDeactivation(b *Base)                                             {}
func (DefaultController) HasSpecificZControl() bool                                              { return false }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
