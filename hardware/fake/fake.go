// Package fake implements an in-memory hardware.Hardware for simulation and tests.
package fake

import (
	"context"
	"sync"

	"github.com/viam-labs/catalog-match-detector/hardware"
)

// A SpinCommand records one call to Spin.
type SpinCommand struct {
	Port      int
	Direction hardware.Direction
	PowerPct  float64
}

// Hardware records motor commands and returns configured sensor readings. Reads from a
// port with nothing configured fail with a *hardware.PortError.
type Hardware struct {
	mu        sync.Mutex
	spins     []SpinCommand
	distances map[int]float64
	colors    map[int]hardware.ColorReading
	failures  map[int]error
}

// NewHardware returns an empty simulator.
func NewHardware() *Hardware {
	return &Hardware{
		distances: map[int]float64{},
		colors:    map[int]hardware.ColorReading{},
		failures:  map[int]error{},
	}
}

// SetDistance configures the reading of the distance sensor on port.
func (h *Hardware) SetDistance(port int, mm float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.distances[port] = mm
}

// SetColor configures the reading of the color sensor on port.
func (h *Hardware) SetColor(port int, reading hardware.ColorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.colors[port] = reading
}

// FailPort makes every call on port return err.
func (h *Hardware) FailPort(port int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures[port] = err
}

// Spin records the command.
func (h *Hardware) Spin(ctx context.Context, port int, dir hardware.Direction, powerPct float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures[port]; err != nil {
		return err
	}
	h.spins = append(h.spins, SpinCommand{Port: port, Direction: dir, PowerPct: powerPct})
	return nil
}

// ReadDistance returns the configured distance.
func (h *Hardware) ReadDistance(ctx context.Context, port int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures[port]; err != nil {
		return 0, err
	}
	mm, ok := h.distances[port]
	if !ok {
		return 0, &hardware.PortError{Kind: "distance sensor", Port: port}
	}
	return mm, nil
}

// ReadColor returns the configured color.
func (h *Hardware) ReadColor(ctx context.Context, port int) (hardware.ColorReading, error) {
	if err := ctx.Err(); err != nil {
		return hardware.ColorReading{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.failures[port]; err != nil {
		return hardware.ColorReading{}, err
	}
	c, ok := h.colors[port]
	if !ok {
		return hardware.ColorReading{}, &hardware.PortError{Kind: "color sensor", Port: port}
	}
	return c, nil
}

// Spins returns a copy of the recorded motor commands.
func (h *Hardware) Spins() []SpinCommand {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SpinCommand, len(h.spins))
	copy(out, h.spins)
	return out
}
