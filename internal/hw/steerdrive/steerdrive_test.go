package steerdrive

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/SwerveGo/internal/hw/actuator"
	"github.com/cjeanneret/SwerveGo/internal/hw/gpio"
	"github.com/cjeanneret/SwerveGo/internal/hw/stepper"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

const (
	drivePin  = 18
	enablePin = 5
)

func newTestModule(t *testing.T) (*Module, *gpio.MockDriver) {
	t.Helper()
	drv := &gpio.MockDriver{}
	m, err := New(drv, Config{
		Name: "left_rear",
		Steer: stepper.Config{
			StepPin:       17,
			DirPin:        27,
			EnablePin:     enablePin,
			StepsPerRev:   200,
			Microstepping: 1,
			StepDelay:     time.Microsecond,
		},
		GearRatio:   1,
		DrivePWMPin: drivePin,
		MaxVelocity: 2,
	})
	require.NoError(t, err)
	return m, drv
}

func runModule(t *testing.T, m *Module) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestPulseWidth(t *testing.T) {
	assert.Equal(t, 1500*time.Microsecond, PulseWidth(0))
	assert.Equal(t, 2000*time.Microsecond, PulseWidth(1))
	assert.Equal(t, 1000*time.Microsecond, PulseWidth(-1))
	assert.Equal(t, 1750*time.Microsecond, PulseWidth(0.5))
	assert.Equal(t, 2000*time.Microsecond, PulseWidth(3), "clamped")
}

func TestNew_ArmsESCInNeutral(t *testing.T) {
	_, drv := newTestModule(t)
	assert.InDelta(t, 0.075, drv.Duty(drivePin), 1e-12)
}

func TestNew_RejectsZeroMaxVelocity(t *testing.T) {
	_, err := New(&gpio.MockDriver{}, Config{Name: "x"})
	assert.Error(t, err)
}

func TestModule_SetMotorVelocity(t *testing.T) {
	m, drv := newTestModule(t)

	require.NoError(t, m.SetMotorVelocity(1))
	assert.InDelta(t, 0.0875, drv.Duty(drivePin), 1e-12)
	assert.Equal(t, units.Speed(1), m.MotorVelocity())

	require.NoError(t, m.SetMotorVelocity(-5))
	assert.InDelta(t, 0.05, drv.Duty(drivePin), 1e-12)
	assert.Equal(t, units.Speed(-2), m.MotorVelocity(), "saturates at max velocity")
}

func TestModule_SteersInBackground(t *testing.T) {
	m, _ := newTestModule(t)
	runModule(t, m)

	require.NoError(t, m.SetMotorAngle(units.Angle(math.Pi/2)))
	assert.Equal(t, 50, m.targetSteps())

	require.Eventually(t, func() bool {
		return math.Abs(m.CurrentMotorAngle().Radians()-math.Pi/2) < 1e-9
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, m.SetMotorAngle(units.Angle(-math.Pi/4)))
	require.Eventually(t, func() bool {
		return math.Abs(m.CurrentMotorAngle().Radians()+math.Pi/4) < 1e-9
	}, 2*time.Second, time.Millisecond)
}

func TestModule_AngleOffset(t *testing.T) {
	drv := &gpio.MockDriver{}
	m, err := New(drv, Config{
		Name:        "right_front",
		Steer:       stepper.Config{StepPin: 6, DirPin: 16, StepsPerRev: 200, Microstepping: 1, StepDelay: time.Microsecond},
		DrivePWMPin: 19,
		MaxVelocity: 1,
		AngleOffset: units.Angle(math.Pi / 2),
	})
	require.NoError(t, err)

	assert.InDelta(t, math.Pi/2, m.CurrentMotorAngle().Radians(), 1e-12)
	require.NoError(t, m.SetMotorAngle(units.Angle(math.Pi)))
	assert.Equal(t, 50, m.targetSteps())
}

func TestModule_RunStopsOnCancel(t *testing.T) {
	m, _ := newTestModule(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Run(ctx))
}

func TestModule_Close(t *testing.T) {
	m, drv := newTestModule(t)
	require.NoError(t, m.SetMotorVelocity(2))

	require.NoError(t, m.Close())

	assert.InDelta(t, 0.075, drv.Duty(drivePin), 1e-12, "ESC back to neutral")
	lvl, err := drv.ReadPin(enablePin)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, lvl, "driver disabled")
}

func TestModule_CloseFinishesPendingMove(t *testing.T) {
	m, drv := newTestModule(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.NoError(t, m.SetMotorAngle(units.Angle(1)))
	require.Eventually(t, func() bool {
		return math.Abs(m.CurrentMotorAngle().Radians()-1) < 2*math.Pi/200
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// Stop lands after Run has returned.
	require.NoError(t, m.SetMotorAngle(0))
	require.NoError(t, m.Close())

	assert.InDelta(t, 0, m.CurrentMotorAngle().Radians(), 1e-12)
	lvl, err := drv.ReadPin(enablePin)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, lvl)
}

func TestNew_ReenablesStepper(t *testing.T) {
	m, drv := newTestModule(t)
	require.NoError(t, m.Close())

	_, err := New(drv, Config{
		Name:        "left_rear",
		Steer:       stepper.Config{StepPin: 17, DirPin: 27, EnablePin: enablePin, StepsPerRev: 200, Microstepping: 1},
		DrivePWMPin: drivePin,
		MaxVelocity: 2,
	})
	require.NoError(t, err)

	lvl, err := drv.ReadPin(enablePin)
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, lvl)
}

func TestModule_ImplementsActuator(t *testing.T) {
	var _ actuator.Module = &Module{}
}
