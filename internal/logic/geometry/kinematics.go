package geometry

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// RotationScale is the half diagonal of a unit square footprint. It scales
// the rotational term so that a unit angular rate produces a unit tangential
// speed at the nominal module radius.
const RotationScale = math.Sqrt2 / 2

// BodyVelocity is a chassis velocity command. VX and VY are along two
// orthogonal body axes, Omega is counterclockwise about the robot center.
type BodyVelocity struct {
	VX    units.Speed        `json:"vx_mps"`
	VY    units.Speed        `json:"vy_mps"`
	Omega units.AngularSpeed `json:"omega_rps"`
}

// ModuleTarget is the speed and steering angle computed for one module.
type ModuleTarget struct {
	Speed units.Speed
	Angle units.Angle
}

// Solve computes the target for a module mounted at pos.
//
// The rotational contribution is applied along the unit tangent of the circle
// through pos; only the direction of pos matters, not its distance from the
// center. A zero command yields zero speed and an angle that carries no
// information, so callers must not steer on it.
func Solve(pos Position, cmd BodyVelocity) ModuleTarget {
	tangent := pos.point().Ortho().Normalize()
	v := r2.Point{X: float64(cmd.VX), Y: float64(cmd.VY)}.
		Add(tangent.Mul(RotationScale * float64(cmd.Omega)))

	return ModuleTarget{
		Speed: units.Speed(v.Norm()),
		Angle: units.Angle(math.Atan2(v.Y, v.X)),
	}
}

// Rotated returns v with its translation rotated by theta. Omega is unchanged.
func (v BodyVelocity) Rotated(theta units.Angle) BodyVelocity {
	x, y := RotateVector(float64(v.VX), float64(v.VY), theta)
	return BodyVelocity{VX: units.Speed(x), VY: units.Speed(y), Omega: v.Omega}
}

// BodyRotation estimates the body rotation rate from the velocity of each
// wheel, given as a speed along a heading. It is the least-squares inverse
// of the rotational term of Solve; translation cancels out because the
// layout is symmetric.
func BodyRotation(l Layout, wheels [4]ModuleTarget) units.AngularSpeed {
	var sum float64
	for _, c := range Corners {
		tangent := l[c].point().Ortho().Normalize()
		sin, cos := math.Sincos(wheels[c].Angle.Radians())
		v := r2.Point{X: cos, Y: sin}.Mul(float64(wheels[c].Speed))
		sum += v.Dot(tangent)
	}
	return units.AngularSpeed(sum / (4 * RotationScale))
}
