package swerve

import (
	"go.uber.org/multierr"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/hw/actuator"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// Module couples one actuator with its reversal state. It is owned by the
// control loop and is not safe for concurrent use.
type Module struct {
	name  string
	hw    actuator.Module
	state State
}

// NewModule wraps hw with a fresh, unreversed state.
func NewModule(name string, hw actuator.Module) *Module {
	return &Module{name: name, hw: hw}
}

// Name returns the module's label, used in logs and telemetry.
func (m *Module) Name() string { return m.name }

// State returns a copy of the module's reversal state.
func (m *Module) State() State { return m.state }

// Set steers and drives the module toward t.
//
// The steering command is the resolved angle minus the sensor offset in
// effect before this call; the offset is updated afterwards if the wheel
// flipped. Both motors are always commanded, and their errors combined.
func (m *Module) Set(t geometry.ModuleTarget) error {
	current := m.hw.CurrentMotorAngle() + m.state.SensorOffset
	res := Resolve(t.Angle, current)
	steer := res.Angle - m.state.SensorOffset

	m.state.apply(res)
	if res.Flipped {
		debug.Flip(m.name, res.FlipOffset.Radians(), m.state.Reversed)
	}

	speed := t.Speed
	if m.state.Reversed {
		speed = -speed
	}

	debug.Trace("%s: steer=%.4f rad drive=%.3f m/s", m.name, steer.Radians(), speed.MetersPerSecond())
	return multierr.Combine(
		m.hw.SetMotorAngle(steer),
		m.hw.SetMotorVelocity(speed),
	)
}

// Hold stops the drive motor and leaves steering and state untouched.
func (m *Module) Hold() error {
	return m.hw.SetMotorVelocity(0)
}

// Reading is a module's measured output after a tick, expressed in the
// module's travel frame: Angle is wrapped to (-π, π] and Speed is positive
// when the wheel moves along Angle.
type Reading struct {
	Name     string      `json:"name"`
	Speed    units.Speed `json:"speed_mps"`
	Angle    units.Angle `json:"angle_rad"`
	Reversed bool        `json:"reversed"`
}

// Reading samples the actuator.
func (m *Module) Reading() Reading {
	speed := m.hw.MotorVelocity()
	if m.state.Reversed {
		speed = -speed
	}
	heading := m.hw.CurrentMotorAngle() + m.state.SensorOffset
	return Reading{
		Name:     m.name,
		Speed:    speed,
		Angle:    geometry.BoundedAngleDiff(0, heading),
		Reversed: m.state.Reversed,
	}
}
