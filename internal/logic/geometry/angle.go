package geometry

import (
	"math"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

const fullTurn = 2 * math.Pi

// BoundedAngleDiff returns the signed rotation that takes from onto to,
// reduced to (-π, π]. Both inputs may be wound up by any number of turns.
func BoundedAngleDiff(from, to units.Angle) units.Angle {
	d := math.Mod(float64(to-from), fullTurn)
	if d > math.Pi {
		d -= fullTurn
	} else if d <= -math.Pi {
		d += fullTurn
	}
	return units.Angle(d)
}

// RotateVector rotates (x, y) counterclockwise by theta.
func RotateVector(x, y float64, theta units.Angle) (float64, float64) {
	sin, cos := math.Sincos(theta.Radians())
	return x*cos - y*sin, x*sin + y*cos
}

// Clamp limits val to [lo, hi].
func Clamp(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
