package sim

import (
	"sync"
	"time"

	"github.com/cjeanneret/SwerveGo/internal/hw/actuator"
	"github.com/cjeanneret/SwerveGo/internal/logic/geometry"
	"github.com/cjeanneret/SwerveGo/internal/units"
)

// Gyro integrates the rotation rate implied by the simulated wheels. Heading
// and Reset may be called from any goroutine; Update belongs to the control
// loop.
type Gyro struct {
	layout geometry.Layout
	wheels [4]actuator.Module

	mu      sync.Mutex
	heading units.Angle
}

// NewGyro creates a gyro watching wheels, mounted at layout.
func NewGyro(layout geometry.Layout, wheels [4]actuator.Module) *Gyro {
	return &Gyro{layout: layout, wheels: wheels}
}

// Update integrates the current body rotation over dt.
func (g *Gyro) Update(dt time.Duration) {
	var w [4]geometry.ModuleTarget
	for c, m := range g.wheels {
		w[c] = geometry.ModuleTarget{Speed: m.MotorVelocity(), Angle: m.CurrentMotorAngle()}
	}
	rate := geometry.BodyRotation(g.layout, w)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading += units.Angle(rate.RadiansPerSecond() * dt.Seconds())
}

func (g *Gyro) Heading() units.Angle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading
}

// Reset zeroes the heading.
func (g *Gyro) Reset() {
	g.mu.Lock()
	g.heading = 0
	g.mu.Unlock()
}
