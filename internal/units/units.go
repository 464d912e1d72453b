// Package units defines the scalar types used across the drivetrain.
// Every value is stored in SI base units (meters, seconds, radians) and the
// conversion constants live here so callers never recompute them.
package units

import "math"

const (
	radiansPerDegree = math.Pi / 180
	degreesPerRadian = 180 / math.Pi
)

// Angle is an angle in radians. It is allowed to wind up past ±2π;
// use geometry.BoundedAngleDiff to compare two angles.
type Angle float64

// Speed is a linear speed in meters per second.
type Speed float64

// AngularSpeed is a rotation rate in radians per second.
type AngularSpeed float64

// Distance is a length in meters.
type Distance float64

// Radians builds an Angle from radians.
func Radians(r float64) Angle { return Angle(r) }

// Degrees builds an Angle from degrees.
func Degrees(d float64) Angle { return Angle(d * radiansPerDegree) }

// Radians returns the angle in radians.
func (a Angle) Radians() float64 { return float64(a) }

// Degrees returns the angle in degrees.
func (a Angle) Degrees() float64 { return float64(a) * degreesPerRadian }

// MetersPerSecond returns the speed in m/s.
func (s Speed) MetersPerSecond() float64 { return float64(s) }

// Abs returns the magnitude of s.
func (s Speed) Abs() Speed { return Speed(math.Abs(float64(s))) }

// RadiansPerSecond returns the rate in rad/s.
func (w AngularSpeed) RadiansPerSecond() float64 { return float64(w) }

// Abs returns the magnitude of w.
func (w AngularSpeed) Abs() AngularSpeed { return AngularSpeed(math.Abs(float64(w))) }

// Meters returns the distance in meters.
func (d Distance) Meters() float64 { return float64(d) }
