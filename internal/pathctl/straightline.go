package pathctl

import (
	"math"

	"github.com/jrsynow/dune/internal/messages"
)

// StraightLineController is a minimal concrete Controller: it commands a
// heading along the track bearing (Start to End), corrected
// proportionally by cross-track error, and a constant cruise speed. It
// exists to exercise the Base framework in tests and as a worked example
// for vehicle-specific controllers built the same way.
type StraightLineController struct {
	DefaultController

	CruiseSpeed float64
	// CrossTrackGain scales cross-track error (meters) into a heading
	// correction (radians), clamped to +/- 45 degrees.
	CrossTrackGain float64
}

// NewStraightLineController returns a StraightLineController with sane
// defaults.
func NewStraightLineController() *StraightLineController {
	return &StraightLineController{CruiseSpeed: 1.5, CrossTrackGain: 0.05}
}

func (c *StraightLineController) Step(b *Base, nav messages.EstimatedState, tr *TrackingState) {
	correction := clamp(c.CrossTrackGain*tr.TrackPos.Cross, -math.Pi/4, math.Pi/4)
	heading := wrapPi(tr.TrackBearing - correction)

	b.Publish(KindDesiredHeading, DesiredHeading{Header: b.header(), Value: heading})

	speed := c.CruiseSpeed
	if speed <= 0 {
		speed = defaultLoiterSpeed
	}
	b.Publish(messages.KindDesiredSpeed, messages.DesiredSpeed{Header: b.header(), Value: speed})
}
