package geometry

import (
	"math"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// StepsCalculator converts steering angles to stepper step counts.
type StepsCalculator struct {
	stepsPerRadian float64
}

// NewStepsCalculator creates a step calculator for a steering stepper.
// gearRatio is motor turns per steering turn; values <= 0 mean direct drive.
func NewStepsCalculator(stepsPerRev, microstepping int, gearRatio float64) *StepsCalculator {
	if gearRatio <= 0 {
		gearRatio = 1
	}
	microstepsPerRev := float64(stepsPerRev*microstepping) * gearRatio
	return &StepsCalculator{
		stepsPerRadian: microstepsPerRev / fullTurn,
	}
}

// StepsFromAngle converts a steering angle to the nearest motor step.
func (s *StepsCalculator) StepsFromAngle(a units.Angle) int {
	return int(math.Round(a.Radians() * s.stepsPerRadian))
}

// AngleFromSteps converts a step count back to a steering angle.
func (s *StepsCalculator) AngleFromSteps(steps int) units.Angle {
	if s.stepsPerRadian == 0 {
		return 0
	}
	return units.Angle(float64(steps) / s.stepsPerRadian)
}
