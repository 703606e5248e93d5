// Package hardware defines the motors and sensors a matched object can act on.
package hardware

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Direction is the spin direction of a motor.
type Direction int

// Known directions.
const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// ParseDirection parses "forward" or "reverse", case insensitively. An empty string is Forward.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forward", "fwd":
		return Forward, nil
	case "reverse", "rev", "backward":
		return Reverse, nil
	default:
		return Forward, errors.Errorf("unknown direction %q", s)
	}
}

// ColorReading is what a color sensor reports.
type ColorReading struct {
	Color string  `json:"color"`
	Hue   float64 `json:"hue"`
}

// Hardware is the device side of a robot, addressed by port number. Implementations must
// be safe for concurrent use and honor ctx cancellation.
type Hardware interface {
	// Spin runs the motor on port in dir at powerPct percent, in [0, 100].
	Spin(ctx context.Context, port int, dir Direction, powerPct float64) error
	// ReadDistance returns the distance in millimeters.
	ReadDistance(ctx context.Context, port int) (float64, error)
	ReadColor(ctx context.Context, port int) (ColorReading, error)
}

// PortError reports a port with no device of the requested kind attached.
type PortError struct {
	Kind string
	Port int
}

func (e *PortError) Error() string {
	return fmt.Sprintf("no %s on port %d", e.Kind, e.Port)
}
