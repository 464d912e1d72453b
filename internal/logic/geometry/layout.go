package geometry

import (
	"fmt"

	"github.com/golang/geo/r2"

	"github.com/cjeanneret/SwerveGo/internal/units"
)

// Corner identifies one of the four module mounting points. The numeric value
// encodes the vertex as 2*i + j, i being the X side (0 = negative) and j the
// Y side (0 = negative).
type Corner int

const (
	LeftRear   Corner = iota // (-x, -y)
	LeftFront                // (-x, +y)
	RightRear                // (+x, -y)
	RightFront               // (+x, +y)
)

// Corners lists every corner in dispatch order.
var Corners = [4]Corner{LeftRear, LeftFront, RightRear, RightFront}

func (c Corner) String() string {
	switch c {
	case LeftRear:
		return "left_rear"
	case LeftFront:
		return "left_front"
	case RightRear:
		return "right_rear"
	case RightFront:
		return "right_front"
	default:
		return fmt.Sprintf("corner(%d)", int(c))
	}
}

// Position is a module offset from the robot's geometric center.
type Position struct {
	X units.Distance
	Y units.Distance
}

func (p Position) point() r2.Point {
	return r2.Point{X: float64(p.X), Y: float64(p.Y)}
}

// Layout holds the four fixed module positions, indexed by Corner.
type Layout [4]Position

// NewLayout places the modules on the corners of a trackWidth x wheelBase
// rectangle centered on the robot. trackWidth spans the X axis.
func NewLayout(trackWidth, wheelBase units.Distance) Layout {
	rect := r2.RectFromCenterSize(r2.Point{}, r2.Point{X: float64(trackWidth), Y: float64(wheelBase)})

	var l Layout
	for _, c := range Corners {
		v := rect.VertexIJ(int(c)/2, int(c)%2)
		l[c] = Position{X: units.Distance(v.X), Y: units.Distance(v.Y)}
	}
	return l
}

// SquareLayout places the modules at (±w/2, ±w/2).
func SquareLayout(trackWidth units.Distance) Layout {
	return NewLayout(trackWidth, trackWidth)
}
