package stepper

import (
	"time"

	"github.com/cjeanneret/SwerveGo/internal/hw/gpio"
)

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin       int
	DirPin        int
	EnablePin     int // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int
	Microstepping int
	StepDelay     time.Duration // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives an A4988-style stepper driver and counts the steps it
// has issued. There is no encoder: Position is the open-loop count since
// construction.
// A Stepper is not safe for concurrent use.
type Stepper struct {
	gpio     gpio.Driver
	cfg      Config
	delay    time.Duration // delay between STEP pulse half-cycles
	position int
	dir      int // last direction written to DirPin: 1, -1, or 0 if unknown
}

// NewStepper creates a new stepper motor controller. The driver stays in
// its power-on state until Enable.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
	}

	return s
}

// Position returns the step count.
func (s *Stepper) Position() int { return s.position }

// Step issues a single step. DirPin is only written when the direction
// changes.
func (s *Stepper) Step(forward bool) error {
	dir, level := 1, gpio.High
	if !forward {
		dir, level = -1, gpio.Low
	}
	if dir != s.dir {
		if err := s.gpio.WritePin(s.cfg.DirPin, level); err != nil {
			return err
		}
		s.dir = dir
	}
	if err := s.stepPulse(); err != nil {
		return err
	}
	s.position += dir
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motors freewheel,
// no holding torque, and the step count may no longer match the shaft.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
