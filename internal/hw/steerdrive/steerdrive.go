// Package steerdrive drives a swerve module built from a stepper-steered
// fork and a hobby ESC driven wheel, both on Raspberry Pi GPIO.
package steerdrive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/SwerveGo/internal/debug"
	"github.com/cjeanneret/SwerveGo/internal/hw/gpio"
	"github.com/cjeanneret/SwerveGo/internal/hw/stepper"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// ESC signal: 50 Hz servo frames, 1000 µs full reverse, 1500 µs neutral,
// 2000 µs full forward.
const (
	ESCFrequencyHz = 50
	ESCPeriod      = time.Second / ESCFrequencyHz
	ESCNeutral     = 1500 * time.Microsecond
	ESCRange       = 500 * time.Microsecond
)

// SettleTimeout bounds how long Close keeps steering toward the last target.
const SettleTimeout = 2 * time.Second

// Config describes one module's wiring.
type Config struct {
	Name        string
	Steer       stepper.Config
	GearRatio   float64     // stepper turns per fork turn
	DrivePWMPin int         // ESC signal pin
	MaxVelocity units.Speed // wheel speed at full throttle
	AngleOffset units.Angle // fork angle when the stepper count is zero
}

// Module implements actuator.Module. Steering is open loop: SetMotorAngle
// records a step target and Run moves the stepper toward it in the
// background. Drive speed is open loop too and reported as commanded.
type Module struct {
	cfg   Config
	drv   gpio.Driver
	motor *stepper.Stepper
	steps *geometry.StepsCalculator
	wake  chan struct{}

	mu       sync.Mutex
	target   int
	position int
	velocity units.Speed
}

// New sets up the pins, enables the stepper driver and puts the ESC in
// neutral.
func New(drv gpio.Driver, cfg Config) (*Module, error) {
	if cfg.MaxVelocity <= 0 {
		return nil, fmt.Errorf("module %s: max velocity must be > 0", cfg.Name)
	}
	m := &Module{
		cfg:   cfg,
		drv:   drv,
		motor: stepper.NewStepper(drv, cfg.Steer),
		steps: geometry.NewStepsCalculator(cfg.Steer.StepsPerRev, cfg.Steer.Microstepping, cfg.GearRatio),
		wake:  make(chan struct{}, 1),
	}
	// A previous Close leaves ENABLE high.
	if err := m.motor.Enable(); err != nil {
		return nil, fmt.Errorf("module %s: enable stepper: %w", cfg.Name, err)
	}
	if err := m.writeThrottle(0); err != nil {
		return nil, fmt.Errorf("module %s: arm ESC: %w", cfg.Name, err)
	}
	return m, nil
}

// PulseWidth maps a throttle in [-1, 1] to an ESC pulse width.
func PulseWidth(throttle float64) time.Duration {
	throttle = geometry.Clamp(throttle, -1, 1)
	return ESCNeutral + time.Duration(throttle*float64(ESCRange))
}

func (m *Module) writeThrottle(throttle float64) error {
	duty := float64(PulseWidth(throttle)) / float64(ESCPeriod)
	return m.drv.SetPWM(m.cfg.DrivePWMPin, ESCFrequencyHz, duty)
}

func (m *Module) SetMotorAngle(a units.Angle) error {
	target := m.steps.StepsFromAngle(a - m.cfg.AngleOffset)

	m.mu.Lock()
	m.target = target
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *Module) CurrentMotorAngle() units.Angle {
	m.mu.Lock()
	pos := m.position
	m.mu.Unlock()
	return m.steps.AngleFromSteps(pos) + m.cfg.AngleOffset
}

func (m *Module) SetMotorVelocity(v units.Speed) error {
	throttle := geometry.Clamp(float64(v/m.cfg.MaxVelocity), -1, 1)
	if err := m.writeThrottle(throttle); err != nil {
		return fmt.Errorf("module %s: set throttle: %w", m.cfg.Name, err)
	}
	m.mu.Lock()
	m.velocity = units.Speed(throttle) * m.cfg.MaxVelocity
	m.mu.Unlock()
	return nil
}

func (m *Module) MotorVelocity() units.Speed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.velocity
}

func (m *Module) targetSteps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// remaining returns the signed step count left to the target.
func (m *Module) remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target - m.position
}

func (m *Module) step(forward bool) error {
	if err := m.motor.Step(forward); err != nil {
		return fmt.Errorf("module %s: step: %w", m.cfg.Name, err)
	}
	m.mu.Lock()
	m.position = m.motor.Position()
	m.mu.Unlock()
	return nil
}

// Run steps the steering motor toward the latest target until ctx is done.
// It must run in its own goroutine, one per module.
func (m *Module) Run(ctx context.Context) error {
	debug.Info("Steering %s: running", m.cfg.Name)
	for {
		delta := m.remaining()
		if delta == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-m.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := m.step(delta > 0); err != nil {
			return err
		}
	}
}

// settle steps toward the target until it is reached or timeout elapses.
// Run must not be running.
func (m *Module) settle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		delta := m.remaining()
		if delta == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("module %s: steering %d steps short after %v", m.cfg.Name, delta, timeout)
		}
		if err := m.step(delta > 0); err != nil {
			return err
		}
	}
}

// Close puts the ESC in neutral, finishes the pending steering move (a
// final Stop usually lands after Run has returned) and releases the
// steering motor. Call it once Run has returned.
func (m *Module) Close() error {
	debug.Info("Steering %s: closing", m.cfg.Name)
	if n := m.remaining(); n != 0 {
		debug.Live("Steering %s: settling %d steps", m.cfg.Name, n)
	}
	return multierr.Combine(
		m.writeThrottle(0),
		m.settle(SettleTimeout),
		m.motor.Disable(),
	)
}
