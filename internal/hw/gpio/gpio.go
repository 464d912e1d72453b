package gpio

import (
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/SwerveGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC. Implementations are safe for use by
// several steering goroutines at once.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// SetPWM drives pin with a hardware PWM signal at freqHz, high for
	// duty (0 to 1) of each period.
	SetPWM(pin int, freqHz int, duty float64) error
	Close() error
}

// MockDriver is a test implementation that logs actions and remembers
// the last level and duty cycle written to each pin.
// Used for development on PC or testing.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	duties map[int]float64
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func validDuty(duty float64) error {
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return fmt.Errorf("duty cycle must be between 0 and 1, got %v", duty)
	}
	return nil
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) SetPWM(pin int, freqHz int, duty float64) error {
	debug.GPIO("SetPWM", pin, fmt.Sprintf("%dHz %.4f", freqHz, duty))
	if err := validDuty(duty); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.duties == nil {
		m.duties = make(map[int]float64)
	}
	m.duties[pin] = duty
	return nil
}

// Duty returns the last duty cycle set on pin.
func (m *MockDriver) Duty(pin int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duties[pin]
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
