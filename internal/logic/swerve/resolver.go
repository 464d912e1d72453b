// Package swerve holds the per-module half of the drivetrain: the decision to
// steer or to reverse the wheel, and the state that decision leaves behind.
package swerve

import (
	"math"

	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// FlipThreshold is the largest steering correction performed by rotating.
// Anything larger is handled by reversing the drive motor and steering to the
// opposite heading. A correction exactly at the threshold does not flip.
const FlipThreshold = units.Angle(0.65 * math.Pi)

// Resolution is the outcome of resolving a target heading against the
// module's current sensor angle.
type Resolution struct {
	// Angle is the sensor angle to steer to. It stays within half a turn of
	// the current sensor angle so the module never unwinds.
	Angle units.Angle
	// Flipped reports that the drive direction must be toggled.
	Flipped bool
	// FlipOffset is π or -π when Flipped, 0 otherwise.
	FlipOffset units.Angle
}

// Resolve picks the sensor angle that reaches target from current with the
// least steering motion, reversing the wheel when that is cheaper.
func Resolve(target, current units.Angle) Resolution {
	diff := geometry.BoundedAngleDiff(current, target)

	if math.Abs(diff.Radians()) > FlipThreshold.Radians() {
		offset := units.Angle(math.Pi)
		if diff < 0 {
			offset = -offset
		}
		return Resolution{
			Angle:      current + diff - offset,
			Flipped:    true,
			FlipOffset: offset,
		}
	}

	return Resolution{Angle: current + diff}
}
