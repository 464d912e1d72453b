package swerve

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// recordingActuator tracks the commands it receives and reports the last
// commanded values back, like an ideal motor.
type recordingActuator struct {
	angle    units.Angle
	velocity units.Speed

	angles     []units.Angle
	velocities []units.Speed

	angleErr    error
	velocityErr error
}

func (a *recordingActuator) SetMotorAngle(v units.Angle) error {
	a.angles = append(a.angles, v)
	if a.angleErr != nil {
		return a.angleErr
	}
	a.angle = v
	return nil
}

func (a *recordingActuator) CurrentMotorAngle() units.Angle { return a.angle }

func (a *recordingActuator) SetMotorVelocity(v units.Speed) error {
	a.velocities = append(a.velocities, v)
	if a.velocityErr != nil {
		return a.velocityErr
	}
	a.velocity = v
	return nil
}

func (a *recordingActuator) MotorVelocity() units.Speed { return a.velocity }

func TestModule_SetSubtractsSensorOffset(t *testing.T) {
	hw := &recordingActuator{angle: 2}
	m := NewModule("test", hw)
	m.state.SensorOffset = 1

	// raw 2 + offset 1 = 3; resolving -3 against 3 gives 3.2832, minus offset 1.
	require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 1, Angle: -3}))
	require.Len(t, hw.angles, 1)
	assert.InDelta(t, 2.2831853071, hw.angles[0].Radians(), 1e-6)
	assert.False(t, m.State().Reversed)
	assert.Equal(t, units.Angle(1), m.State().SensorOffset)
}

func TestModule_FlipReversesDrive(t *testing.T) {
	hw := &recordingActuator{angle: 3}
	m := NewModule("test", hw)

	require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 2, Angle: 6}))

	st := m.State()
	assert.True(t, st.Reversed)
	assert.Equal(t, units.Angle(math.Pi), st.SensorOffset)
	assert.InDelta(t, 6-math.Pi, hw.angles[0].Radians(), 1e-9)
	assert.Equal(t, units.Speed(-2), hw.velocities[0])
}

func TestModule_StableTargetDoesNotToggle(t *testing.T) {
	hw := &recordingActuator{}
	m := NewModule("test", hw)
	target := geometry.ModuleTarget{Speed: 1, Angle: units.Angle(math.Pi)}

	require.NoError(t, m.Set(target))
	first := m.State()
	assert.True(t, first.Reversed)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Set(target))
		assert.Equal(t, first, m.State(), "tick %d", i)
	}
	for _, v := range hw.velocities {
		assert.Equal(t, units.Speed(-1), v)
	}
}

func TestModule_DoubleFlipRestoresDirection(t *testing.T) {
	hw := &recordingActuator{}
	m := NewModule("test", hw)

	require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 1, Angle: units.Angle(math.Pi)}))
	require.True(t, m.State().Reversed)

	require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 1, Angle: 0}))
	assert.False(t, m.State().Reversed)
	assert.Equal(t, units.Speed(1), hw.velocities[len(hw.velocities)-1])
}

func TestModule_TravelHeadingMatchesTarget(t *testing.T) {
	hw := &recordingActuator{}
	m := NewModule("test", hw)

	for _, a := range []float64{0.3, 2.9, -2.8, 1.0, -0.4, 3.1, -3.1, 0} {
		require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 1.5, Angle: units.Angle(a)}))
		r := m.Reading()
		d := geometry.BoundedAngleDiff(units.Angle(a), r.Angle)
		assert.InDelta(t, 0, d.Radians(), 1e-9, "target %v", a)
		assert.Equal(t, units.Speed(1.5), r.Speed)
		assert.Equal(t, m.State().Reversed, r.Reversed)
	}
}

func TestModule_HoldKeepsAngleAndState(t *testing.T) {
	hw := &recordingActuator{}
	m := NewModule("test", hw)
	require.NoError(t, m.Set(geometry.ModuleTarget{Speed: 1, Angle: 3}))
	before := m.State()
	angles := len(hw.angles)

	require.NoError(t, m.Hold())
	assert.Equal(t, before, m.State())
	assert.Len(t, hw.angles, angles, "hold must not steer")
	assert.Equal(t, units.Speed(0), hw.velocity)
}

func TestModule_SetCombinesErrors(t *testing.T) {
	errAngle := errors.New("steer bus down")
	errDrive := errors.New("drive bus down")
	hw := &recordingActuator{angleErr: errAngle, velocityErr: errDrive}
	m := NewModule("test", hw)

	err := m.Set(geometry.ModuleTarget{Speed: 1, Angle: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errAngle)
	assert.ErrorIs(t, err, errDrive)
	assert.Len(t, hw.velocities, 1, "drive is commanded even if steering fails")
}

func TestModule_Name(t *testing.T) {
	assert.Equal(t, "left_front", NewModule("left_front", &recordingActuator{}).Name())
}
