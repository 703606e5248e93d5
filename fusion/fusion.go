// Package fusion combines a vision match with the actions and sensor readings of the
// matched catalog entry.
package fusion

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/viam-labs/catalog-match-detector/hardware"
	"github.com/viam-labs/catalog-match-detector/ranking"
)

// Status values reported in a Decision.
const (
	StatusNoSensorData   = "no sensor data available"
	StatusSimulation     = "hardware not connected (simulation mode)"
	StatusCommandsSent   = "commands sent to hardware"
	StatusHardwareError  = "error communicating with hardware"
	StatusInvalidActions = "invalid action configuration"

	// NoAction is the action of an entry whose sensor data names none.
	NoAction = "no action defined"
)

// DefaultCallTimeout bounds each individual hardware call.
const DefaultCallTimeout = 2 * time.Second

// ActionConfig is the part of an entry's sensor data the integrator understands.
type ActionConfig struct {
	Action             string   `json:"action"`
	MotorPort          *int     `json:"motor_port"`
	Power              *float64 `json:"power"`
	Direction          string   `json:"direction"`
	DistanceSensorPort *int     `json:"distance_sensor_port"`
	ColorSensorPort    *int     `json:"color_sensor_port"`
}

// DecodeActionConfig decodes sensor data. Numbers given as strings are accepted. Each key is
// decoded on its own: a key that cannot be decoded is left unset and reported in the
// returned error, while the other keys are still filled in.
func DecodeActionConfig(sensorData map[string]interface{}) (*ActionConfig, error) {
	cfg := &ActionConfig{}
	fields := []struct {
		key string
		out interface{}
	}{
		{"action", &cfg.Action},
		{"motor_port", &cfg.MotorPort},
		{"power", &cfg.Power},
		{"direction", &cfg.Direction},
		{"distance_sensor_port", &cfg.DistanceSensorPort},
		{"color_sensor_port", &cfg.ColorSensorPort},
	}
	var errs error
	for _, f := range fields {
		v, ok := sensorData[f.key]
		if !ok || v == nil {
			continue
		}
		if err := decodeField(v, f.out); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "cannot decode %q", f.key))
		}
	}
	return cfg, errs
}

func decodeField(v, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(v)
}

// MotorCommand is the motor command issued for a decision.
type MotorCommand struct {
	Port      int     `json:"port"`
	Direction string  `json:"direction"`
	PowerPct  float64 `json:"power"`
}

// Decision is the fused outcome of vision and hardware for one frame.
type Decision struct {
	IdentifiedObject string                 `json:"identified_object,omitempty"`
	ObjectID         string                 `json:"object_id,omitempty"`
	VisionConfidence float64                `json:"vision_confidence"`
	SensorData       map[string]interface{} `json:"sensor_data,omitempty"`
	Action           string                 `json:"action,omitempty"`
	Motor            *MotorCommand          `json:"motor,omitempty"`
	DistanceMM       *float64               `json:"distance_mm,omitempty"`
	ColorDetected    *string                `json:"color_detected,omitempty"`
	Hue              *float64               `json:"hue,omitempty"`
	Status           string                 `json:"status"`
	Err              error                  `json:"-"`
}

// HardwareIntegrationError is a failed hardware call.
type HardwareIntegrationError struct {
	Op   string
	Port int
	Err  error
}

func (e *HardwareIntegrationError) Error() string {
	return fmt.Sprintf("%s on port %d: %v", e.Op, e.Port, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HardwareIntegrationError) Unwrap() error {
	return e.Err
}

// Options tune an Integrator.
type Options struct {
	CallTimeout time.Duration
}

// Integrator turns the best match into a Decision, driving hardware when it is present.
type Integrator struct {
	hw          hardware.Hardware
	callTimeout time.Duration
	logger      golog.Logger
}

// NewIntegrator returns an Integrator. hw may be nil, in which case no hardware is driven.
func NewIntegrator(hw hardware.Hardware, logger golog.Logger, opts Options) *Integrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Integrator{hw: hw, callTimeout: opts.CallTimeout, logger: logger}
}

// Integrate fuses best with the hardware. It always returns a Decision; hardware failures
// are reported in its Status and Err while the vision fields stay populated.
func (i *Integrator) Integrate(ctx context.Context, best *ranking.MatchResult) *Decision {
	ctx, span := trace.StartSpan(ctx, "fusion::Integrate")
	defer span.End()

	if best == nil {
		return &Decision{Status: StatusNoSensorData}
	}

	d := &Decision{
		IdentifiedObject: best.ObjectName,
		ObjectID:         best.ObjectID,
		VisionConfidence: best.Confidence,
		SensorData:       best.SensorData,
		Action:           NoAction,
	}
	if action, ok := best.SensorData["action"]; ok && action != nil {
		d.Action = fmt.Sprint(action)
	}

	if i.hw == nil {
		d.Status = StatusSimulation
		return d
	}

	cfg, decodeErr := DecodeActionConfig(best.SensorData)
	if decodeErr != nil {
		i.logger.Warnw("ignoring part of the sensor data", "object_id", best.ObjectID, "error", decodeErr)
	}

	var errs error
	if cfg.MotorPort != nil && cfg.Power != nil {
		errs = multierr.Append(errs, i.spin(ctx, d, *cfg.MotorPort, *cfg.Power, cfg.Direction))
	}
	if cfg.DistanceSensorPort != nil {
		errs = multierr.Append(errs, i.readDistance(ctx, d, *cfg.DistanceSensorPort))
	}
	if cfg.ColorSensorPort != nil {
		errs = multierr.Append(errs, i.readColor(ctx, d, *cfg.ColorSensorPort))
	}

	switch {
	case errs != nil:
		i.logger.Warnw("hardware integration failed", "object_id", best.ObjectID, "error", errs)
		d.Err = multierr.Append(errs, decodeErr)
		d.Status = fmt.Sprintf("%s: %v", StatusHardwareError, errs)
	case decodeErr != nil:
		d.Err = decodeErr
		d.Status = fmt.Sprintf("%s: %v", StatusInvalidActions, decodeErr)
	default:
		d.Status = StatusCommandsSent
	}
	return d
}

func (i *Integrator) spin(ctx context.Context, d *Decision, port int, power float64, direction string) error {
	dir, err := hardware.ParseDirection(direction)
	if err != nil {
		return &HardwareIntegrationError{Op: "spin", Port: port, Err: err}
	}
	if power < 0 {
		dir = hardware.Reverse
	}
	pct := math.Min(math.Abs(power), 100)

	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()
	if err := i.hw.Spin(callCtx, port, dir, pct); err != nil {
		return &HardwareIntegrationError{Op: "spin", Port: port, Err: err}
	}
	d.Motor = &MotorCommand{Port: port, Direction: dir.String(), PowerPct: pct}
	i.logger.Debugw("motor spun", "port", port, "direction", dir.String(), "power", pct)
	return nil
}

func (i *Integrator) readDistance(ctx context.Context, d *Decision, port int) error {
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()
	mm, err := i.hw.ReadDistance(callCtx, port)
	if err != nil {
		return &HardwareIntegrationError{Op: "read distance", Port: port, Err: err}
	}
	d.DistanceMM = &mm
	return nil
}

func (i *Integrator) readColor(ctx context.Context, d *Decision, port int) error {
	callCtx, cancel := context.WithTimeout(ctx, i.callTimeout)
	defer cancel()
	c, err := i.hw.ReadColor(callCtx, port)
	if err != nil {
		return &HardwareIntegrationError{Op: "read color", Port: port, Err: err}
	}
	d.ColorDetected = &c.Color
	d.Hue = &c.Hue
	return nil
}
