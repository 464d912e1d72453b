// Package actuator defines what the drivetrain needs from one swerve module's
// hardware, regardless of how it is driven (GPIO, CAN, simulation, etc.).
package actuator

import "github.com/cjeanneret/SwerveGo/internal/units"

// Module is the steering and drive motor pair of a single swerve module.
//
// Angles are raw sensor angles: they are not wrapped and may accumulate
// multiple turns. Velocities are signed wheel surface speeds.
type Module interface {
	// SetMotorAngle commands the steering motor to a raw sensor angle.
	SetMotorAngle(a units.Angle) error
	// CurrentMotorAngle returns the last known raw steering angle.
	CurrentMotorAngle() units.Angle
	// SetMotorVelocity commands the drive motor.
	SetMotorVelocity(v units.Speed) error
	// MotorVelocity returns the last known drive speed.
	MotorVelocity() units.Speed
}
