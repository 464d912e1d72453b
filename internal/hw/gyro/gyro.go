// Package gyro defines the heading source used for driver-centric driving.
package gyro

import (
	"sync"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// Gyro reports the robot's heading relative to the field.
type Gyro interface {
	Heading() units.Angle
}

// Resetter is a Gyro whose heading can be re-zeroed, e.g. when the driver
// realigns the robot with the field.
type Resetter interface {
	Gyro
	Reset()
}

// Static is a Gyro whose heading only changes when set. It stands in for a
// missing IMU so that driver-centric commands degrade to robot-centric ones.
type Static struct {
	mu      sync.Mutex
	heading units.Angle
}

// NewStatic creates a Static gyro reporting heading.
func NewStatic(heading units.Angle) *Static {
	return &Static{heading: heading}
}

func (s *Static) Heading() units.Angle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heading
}

// Set changes the reported heading.
func (s *Static) Set(heading units.Angle) {
	s.mu.Lock()
	s.heading = heading
	s.mu.Unlock()
}

// Reset zeroes the heading.
func (s *Static) Reset() { s.Set(0) }
