package pathctl

import (
	"math"
	"time"

	"github.com/jrsynow/dune/internal/messages"
)

// TrackVector is a position or velocity expressed in the track frame:
// Along the desired track, Cross to it, and vertical.
type TrackVector struct {
	Along, Cross, Z float64
}

// Loiter describes an active circular hold.
type Loiter struct {
	Center    messages.Waypoint
	Radius    float64
	Clockwise bool
}

// TrackingState is the geometric and temporal snapshot PCB maintains once
// per control period (§3). It is owned exclusively by a *Base and never
// leaves it; subclass controllers observe it by reference during Step and
// Loiter but must not retain it across calls.
type TrackingState struct {
	Now, Delta           float64
	StartTime, EndTime   float64
	ETA                  float64

	Start, End messages.Waypoint

	TrackBearing float64
	TrackLength  float64
	Range        float64
	LOSAngle     float64
	Course       float64
	Speed        float64
	CourseError  float64

	TrackPos TrackVector
	TrackVel TrackVector

	LoiterState Loiter

	ZControl      bool
	Loitering     bool
	Nearby        bool
	CourseControl bool

	lastStepTime time.Time
	havePrevPos  bool
}

// NewTrackingState creates a tracking state for a newly accepted
// DesiredPath. End always equals the desired endpoint per the invariant in
// §3.
func NewTrackingState(path messages.DesiredPath, courseControl bool) *TrackingState {
	ts := &TrackingState{
		Start:         path.Start,
		End:           path.End,
		CourseControl: courseControl,
	}
	if path.Loiter != nil {
		ts.Loitering = true
		ts.LoiterState = Loiter{
			Center:    path.Loiter.Center,
			Radius:    path.Loiter.Radius,
			Clockwise: path.Loiter.Clockwise,
		}
	}
	ts.recomputeTrackGeometry()
	return ts
}

func (ts *TrackingState) recomputeTrackGeometry() {
	dx := ts.End.X - ts.Start.X
	dy := ts.End.Y - ts.Start.Y
	ts.TrackBearing = math.Atan2(dy, dx)
	ts.TrackLength = math.Hypot(dx, dy)
}

// NearbyRadius configures when Nearby is flagged; passed in by Base from
// its configuration rather than stored on TrackingState, since it is a
// controller-period-invariant tuning parameter, not tracking geometry.

// Update runs the per-step tracking algorithm described in §4.3: it
// recomputes course, speed, track position/velocity and course error from
// the latest navigation snapshot. now is the monotonic-equivalent wall
// clock sample for this step; nearbyRadius is the configured nearby
// threshold.
func (ts *TrackingState) Update(nav messages.EstimatedState, now time.Time, nearbyRadius float64) {
	nowSeconds := float64(now.UnixNano()) / 1e9
	if ts.lastStepTime.IsZero() {
		ts.Delta = 0
	} else {
		ts.Delta = now.Sub(ts.lastStepTime).Seconds()
	}
	ts.Now = nowSeconds
	ts.lastStepTime = now

	if ts.CourseControl {
		ts.Course = nav.GroundCourse()
		ts.Speed = nav.GroundSpeed()
	} else {
		ts.Course = nav.Yaw
		ts.Speed = nav.U
	}

	ts.recomputeTrackGeometry()

	dxEnd := ts.End.X - nav.Position.X
	dyEnd := ts.End.Y - nav.Position.Y
	ts.Range = math.Hypot(dxEnd, dyEnd)
	ts.LOSAngle = math.Atan2(dyEnd, dxEnd)

	// Rotate the current position into the track frame: along/cross of
	// the vector from Start to the vehicle, relative to TrackBearing.
	dxStart := nav.Position.X - ts.Start.X
	dyStart := nav.Position.Y - ts.Start.Y
	sinB, cosB := math.Sin(ts.TrackBearing), math.Cos(ts.TrackBearing)
	along := dxStart*cosB + dyStart*sinB
	cross := -dxStart*sinB + dyStart*cosB

	if ts.havePrevPos && ts.Delta > 0 {
		ts.TrackVel.Along = (along - ts.TrackPos.Along) / ts.Delta
		ts.TrackVel.Cross = (cross - ts.TrackPos.Cross) / ts.Delta
		ts.TrackVel.Z = (nav.Position.Z - ts.TrackPos.Z) / ts.Delta
	}
	ts.TrackPos.Along = along
	ts.TrackPos.Cross = cross
	ts.TrackPos.Z = nav.Position.Z
	ts.havePrevPos = true

	ts.CourseError = wrapPi(ts.Course - ts.TrackBearing)

	ts.Nearby = nearbyRadius > 0 && ts.Range <= nearbyRadius

	if ts.Speed > 0 && ts.Range >= 0 {
		ts.ETA = ts.Range / ts.Speed
	}
}

func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
