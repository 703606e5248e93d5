package inject

import (
	"context"

	"github.com/viam-labs/catalog-match-detector/hardware"
)

// Hardware is injected hardware.
type Hardware struct {
	hardware.Hardware
	SpinFunc         func(ctx context.Context, port int, dir hardware.Direction, powerPct float64) error
	ReadDistanceFunc func(ctx context.Context, port int) (float64, error)
	ReadColorFunc    func(ctx context.Context, port int) (hardware.ColorReading, error)
}

// Spin calls the injected Spin or the real version.
func (h *Hardware) Spin(ctx context.Context, port int, dir hardware.Direction, powerPct float64) error {
	if h.SpinFunc == nil {
		return h.Hardware.Spin(ctx, port, dir, powerPct)
	}
	return h.SpinFunc(ctx, port, dir, powerPct)
}

// ReadDistance calls the injected ReadDistance or the real version.
func (h *Hardware) ReadDistance(ctx context.Context, port int) (float64, error) {
	if h.ReadDistanceFunc == nil {
		return h.Hardware.ReadDistance(ctx, port)
	}
	return h.ReadDistanceFunc(ctx, port)
}

// ReadColor calls the injected ReadColor or the real version.
func (h *Hardware) ReadColor(ctx context.Context, port int) (hardware.ColorReading, error) {
	if h.ReadColorFunc == nil {
		return h.Hardware.ReadColor(ctx, port)
	}
	return h.ReadColorFunc(ctx, port)
}

// Motor is an injected motor component.
type Motor struct {
	SetPowerFunc func(ctx context.Context, powerPct float64, extra map[string]interface{}) error
}

// SetPower calls the injected SetPower.
func (m *Motor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	return m.SetPowerFunc(ctx, powerPct, extra)
}

// Sensor is an injected sensor component.
type Sensor struct {
	ReadingsFunc func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error)
}

// Readings calls the injected Readings.
func (s *Sensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	return s.ReadingsFunc(ctx, extra)
}
