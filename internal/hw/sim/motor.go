// Package sim provides software stand-ins for the drivetrain hardware so the
// full control stack can run on a development machine.
package sim

import (
	"time"

	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
)

// ControlMode selects what a Motor's set point means.
type ControlMode int

const (
	Percent  ControlMode = iota // fraction of max velocity, acceleration limited
	Position                    // target position, velocity limited
	Velocity                    // target velocity, acceleration limited
)

// Motor is a first-order motor model: position follows the set point
// within the velocity and acceleration limits. Units are whatever the caller
// uses consistently (radians, meters...). Not safe for concurrent use.
type Motor struct {
	maxVel   float64
	maxAccel float64

	mode     ControlMode
	setPoint float64
	pos      float64
	vel      float64
	prevPos  float64
	prevDt   float64
}

// NewMotor creates a motor at rest in Percent mode with zero output.
func NewMotor(maxVel, maxAccel float64) *Motor {
	return &Motor{maxVel: maxVel, maxAccel: maxAccel}
}

// SetRawOutput commands a fraction of max velocity.
func (m *Motor) SetRawOutput(x float64) {
	m.mode = Percent
	m.setPoint = x
}

// SetTargetPosition commands an absolute position.
func (m *Motor) SetTargetPosition(pos float64) {
	m.mode = Position
	m.setPoint = pos
}

// SetTargetVelocity commands a velocity.
func (m *Motor) SetTargetVelocity(vel float64) {
	m.mode = Velocity
	m.setPoint = vel
}

// Mode returns the current control mode.
func (m *Motor) Mode() ControlMode { return m.mode }

// Update advances the model by dt.
func (m *Motor) Update(dt time.Duration) {
	s := dt.Seconds()
	m.prevPos = m.pos
	m.prevDt = s

	switch m.mode {
	case Percent:
		m.accelerateTo(m.setPoint*m.maxVel, s)
	case Velocity:
		m.accelerateTo(m.setPoint, s)
	case Position:
		step := geometry.Clamp(m.setPoint-m.pos, -m.maxVel*s, m.maxVel*s)
		m.pos += step
	}
}

func (m *Motor) accelerateTo(target, s float64) {
	m.vel += geometry.Clamp(target-m.vel, -m.maxAccel*s, m.maxAccel*s)
	m.pos += m.vel * s
}

// Position returns the sensor position.
func (m *Motor) Position() float64 { return m.pos }

// Velocity returns the sensor velocity. Outside Velocity mode it is the
// average over the last Update.
func (m *Motor) Velocity() float64 {
	if m.mode == Velocity {
		return m.vel
	}
	if m.prevDt == 0 {
		return 0
	}
	return (m.pos - m.prevPos) / m.prevDt
}
