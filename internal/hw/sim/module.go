package sim

import (
	"math"
	"time"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// ModuleConfig tunes a simulated module. A zero config gives a direct
// module that follows every command instantly.
type ModuleConfig struct {
	// AngleOffset is the angle of the steering motor's zero in the module
	// frame. Commands and readings are in the module frame.
	AngleOffset units.Angle

	// Motors enables rate-limited motors instead of instant response.
	Motors           bool
	SteerMaxVelocity units.AngularSpeed
	SteerMaxAccel    float64 // rad/s², unused in position mode
	DriveMaxVelocity units.Speed
	DriveMaxAccel    float64 // m/s²
}

// Module is a simulated swerve module. It implements actuator.Module and
// is owned by the control loop goroutine.
type Module struct {
	cfg ModuleConfig

	// direct mode
	angle units.Angle // motor frame
	vel   units.Speed

	// motor mode
	steer *Motor
	drive *Motor
}

// NewModule creates a simulated module pointing along its offset, at rest.
func NewModule(cfg ModuleConfig) *Module {
	m := &Module{cfg: cfg}
	if cfg.Motors {
		driveMax := float64(cfg.DriveMaxVelocity)
		if driveMax <= 0 {
			driveMax = math.Inf(1)
		}
		m.steer = NewMotor(float64(cfg.SteerMaxVelocity), cfg.SteerMaxAccel)
		m.steer.SetTargetPosition(0)
		m.drive = NewMotor(driveMax, cfg.DriveMaxAccel)
		m.drive.SetTargetVelocity(0)
	}
	return m
}

func (m *Module) SetMotorAngle(a units.Angle) error {
	pos := a - m.cfg.AngleOffset
	if m.steer != nil {
		m.steer.SetTargetPosition(pos.Radians())
		return nil
	}
	m.angle = pos
	return nil
}

func (m *Module) CurrentMotorAngle() units.Angle {
	if m.steer != nil {
		return units.Angle(m.steer.Position()) + m.cfg.AngleOffset
	}
	return m.angle + m.cfg.AngleOffset
}

func (m *Module) SetMotorVelocity(v units.Speed) error {
	if m.drive != nil {
		m.drive.SetTargetVelocity(v.MetersPerSecond())
		return nil
	}
	m.vel = v
	return nil
}

func (m *Module) MotorVelocity() units.Speed {
	if m.drive != nil {
		return units.Speed(m.drive.Velocity())
	}
	return m.vel
}

// Update advances the motors by dt. It is a no-op in direct mode.
func (m *Module) Update(dt time.Duration) {
	if m.steer == nil {
		return
	}
	m.steer.Update(dt)
	m.drive.Update(dt)
}
