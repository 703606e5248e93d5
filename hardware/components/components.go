// Package components adapts robot components to hardware.Hardware by port number.
package components

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/viam-labs/catalog-match-detector/hardware"
)

// Motor is the part of a robot motor component used here.
type Motor interface {
	SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error
}

// Sensor is the part of a robot sensor component used here.
type Sensor interface {
	Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error)
}

// Board maps ports to motor and sensor components.
type Board struct {
	mu      sync.RWMutex
	motors  map[int]Motor
	sensors map[int]Sensor
}

var _ = hardware.Hardware(&Board{})

// NewBoard returns a board with nothing attached.
func NewBoard() *Board {
	return &Board{motors: map[int]Motor{}, sensors: map[int]Sensor{}}
}

// AttachMotor puts m on port.
func (b *Board) AttachMotor(port int, m Motor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.motors[port] = m
}

// AttachSensor puts s on port.
func (b *Board) AttachSensor(port int, s Sensor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors[port] = s
}

// Spin sets the motor power, negated for Reverse, as a fraction in [-1, 1].
func (b *Board) Spin(ctx context.Context, port int, dir hardware.Direction, powerPct float64) error {
	b.mu.RLock()
	m, ok := b.motors[port]
	b.mu.RUnlock()
	if !ok {
		return &hardware.PortError{Kind: "motor", Port: port}
	}
	power := math.Min(math.Abs(powerPct), 100) / 100
	if dir == hardware.Reverse {
		power = -power
	}
	return m.SetPower(ctx, power, nil)
}

// ReadDistance reads the "distance" key, in meters, and returns millimeters.
func (b *Board) ReadDistance(ctx context.Context, port int) (float64, error) {
	readings, err := b.read(ctx, "distance sensor", port)
	if err != nil {
		return 0, err
	}
	meters, err := number(readings, "distance")
	if err != nil {
		return 0, err
	}
	return meters * 1000, nil
}

// ReadColor reads the "color" and "hue" keys.
func (b *Board) ReadColor(ctx context.Context, port int) (hardware.ColorReading, error) {
	readings, err := b.read(ctx, "color sensor", port)
	if err != nil {
		return hardware.ColorReading{}, err
	}
	name, ok := readings["color"].(string)
	if !ok {
		return hardware.ColorReading{}, errors.Errorf("color sensor on port %d reported no color", port)
	}
	reading := hardware.ColorReading{Color: name}
	if _, ok := readings["hue"]; ok {
		hue, err := number(readings, "hue")
		if err != nil {
			return hardware.ColorReading{}, err
		}
		reading.Hue = hue
	}
	return reading, nil
}

func (b *Board) read(ctx context.Context, kind string, port int) (map[string]interface{}, error) {
	b.mu.RLock()
	s, ok := b.sensors[port]
	b.mu.RUnlock()
	if !ok {
		return nil, &hardware.PortError{Kind: kind, Port: port}
	}
	readings, err := s.Readings(ctx, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s on port %d", kind, port)
	}
	return readings, nil
}

func number(readings map[string]interface{}, key string) (float64, error) {
	switch v := readings[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, errors.Errorf("reading %q missing", key)
	default:
		return 0, errors.Errorf("reading %q has unexpected type %T", key, v)
	}
}
