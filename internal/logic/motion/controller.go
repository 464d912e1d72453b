package motion

import (
	"go.uber.org/multierr"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/hw/actuator"
	"github.com/cjeanneret/SwerveGo/internal/hw/gyro"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/logic/swerve"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// Limits bounds the commands accepted by the Controller.
type Limits struct {
	// Commands with every component below its deadzone stop the wheels
	// without steering them.
	DeadzoneVelocity units.Speed
	DeadzoneAngular  units.AngularSpeed

	// Full-scale values for DriveNormalized.
	MaxVelocity        units.Speed
	MaxAngularVelocity units.AngularSpeed
}

// Controller orchestrates the four swerve modules of a drivetrain.
// It's an intermediate layer between command sources (web, control loop)
// and the actuators. It is owned by a single goroutine.
type Controller struct {
	layout  geometry.Layout
	modules [4]*swerve.Module
	gyro    gyro.Gyro
	limits  Limits
}

// NewController builds a controller driving hw[c] at layout[c] for each
// corner c. g may be nil if driver-centric commands are never used.
func NewController(layout geometry.Layout, hw [4]actuator.Module, g gyro.Gyro, limits Limits) *Controller {
	c := &Controller{
		layout: layout,
		gyro:   g,
		limits: limits,
	}
	for _, corner := range geometry.Corners {
		c.modules[corner] = swerve.NewModule(corner.String(), hw[corner])
	}
	return c
}

// Module returns the module mounted at corner.
func (c *Controller) Module(corner geometry.Corner) *swerve.Module {
	return c.modules[corner]
}

func (c *Controller) inDeadzone(v geometry.BodyVelocity) bool {
	return v.VX.Abs() < c.limits.DeadzoneVelocity &&
		v.VY.Abs() < c.limits.DeadzoneVelocity &&
		v.Omega.Abs() < c.limits.DeadzoneAngular
}

// SetRobotCentric drives the modules so the body moves at v, expressed in
// the robot frame. A command inside the deadzone stops every drive motor
// and leaves steering alone. So does a single module whose own wheel speed
// falls inside the velocity deadzone: its target angle is meaningless.
func (c *Controller) SetRobotCentric(v geometry.BodyVelocity) error {
	if c.inDeadzone(v) {
		debug.Verbose("Deadzone: holding modules")
		return c.Hold()
	}

	var err error
	for _, corner := range geometry.Corners {
		t := geometry.Solve(c.layout[corner], v)
		if t.Speed.Abs() < c.limits.DeadzoneVelocity {
			debug.Verbose("%s: wheel speed %.3f m/s inside deadzone, holding", corner, t.Speed.MetersPerSecond())
			err = multierr.Append(err, c.modules[corner].Hold())
			continue
		}
		debug.Verbose("%s: target speed=%.3f m/s angle=%.4f rad", corner, t.Speed.MetersPerSecond(), t.Angle.Radians())
		err = multierr.Append(err, c.modules[corner].Set(t))
	}
	return err
}

// SetDriverCentric drives the body at v, expressed in the field frame. The
// translation is rotated by the negated gyro heading before solving.
func (c *Controller) SetDriverCentric(v geometry.BodyVelocity) error {
	var heading units.Angle
	if c.gyro != nil {
		heading = c.gyro.Heading()
	}
	return c.SetRobotCentric(v.Rotated(-heading))
}

// Set dispatches v in the requested frame.
func (c *Controller) Set(v geometry.BodyVelocity, driverCentric bool) error {
	if driverCentric {
		return c.SetDriverCentric(v)
	}
	return c.SetRobotCentric(v)
}

// Stop commands zero speed and zero heading to every module.
func (c *Controller) Stop() error {
	debug.Live("Stopping drivetrain")
	var err error
	for _, m := range c.modules {
		err = multierr.Append(err, m.Set(geometry.ModuleTarget{}))
	}
	return err
}

// DriveNormalized scales x, y and rot, each clamped to [-1, 1], by the
// maximum velocities and dispatches the result.
func (c *Controller) DriveNormalized(x, y, rot float64, driverCentric bool) error {
	v := Normalized(c.limits, x, y, rot)
	frame := "robot"
	if driverCentric {
		frame = "driver"
	}
	debug.Command(frame, v.VX.MetersPerSecond(), v.VY.MetersPerSecond(), v.Omega.RadiansPerSecond())
	return c.Set(v, driverCentric)
}

// Normalized converts unit-range inputs to a body velocity under limits.
func Normalized(limits Limits, x, y, rot float64) geometry.BodyVelocity {
	return geometry.BodyVelocity{
		VX:    units.Speed(geometry.Clamp(x, -1, 1)) * limits.MaxVelocity,
		VY:    units.Speed(geometry.Clamp(y, -1, 1)) * limits.MaxVelocity,
		Omega: units.AngularSpeed(geometry.Clamp(rot, -1, 1)) * limits.MaxAngularVelocity,
	}
}

// Hold stops every drive motor without steering.
func (c *Controller) Hold() error {
	var err error
	for _, m := range c.modules {
		err = multierr.Append(err, m.Hold())
	}
	return err
}

// Readings samples every module, in corner order.
func (c *Controller) Readings() []swerve.Reading {
	out := make([]swerve.Reading, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, m.Reading())
	}
	return out
}
