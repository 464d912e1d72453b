package swerve

import "github.com/cjeanneret/SwerveGo/internal/units"

// State is what a module remembers between ticks.
//
// SensorOffset accumulates one half turn per flip so that the raw sensor angle
// plus the offset is always the heading the wheel is travelling along.
// Reversed is true after an odd number of flips.
type State struct {
	SensorOffset units.Angle
	Reversed     bool
}

func (s *State) apply(r Resolution) {
	if !r.Flipped {
		return
	}
	s.Reversed = !s.Reversed
	s.SensorOffset += r.FlipOffset
}
