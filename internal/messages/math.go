package messages

import "math"

func atan2(y, x float64) float64 { return math.Atan2(y, x) }
func hypot(x, y float64) float64 { return math.Hypot(x, y) }

// wrapPi wraps a radians angle into (-pi, pi].
func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
