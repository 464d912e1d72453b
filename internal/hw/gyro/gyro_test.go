package gyro

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

func TestStatic_HeadingAndReset(t *testing.T) {
	g := NewStatic(units.Degrees(90))
	assert.InDelta(t, 90, g.Heading().Degrees(), 1e-9)

	g.Set(units.Degrees(-45))
	assert.InDelta(t, -45, g.Heading().Degrees(), 1e-9)

	g.Reset()
	assert.Zero(t, g.Heading().Radians())
}

func TestStatic_ImplementsGyro(t *testing.T) {
	var _ Resetter = NewStatic(0)
}
