// Package smartcontrol nudges a primary thermostat's setpoint from the mean
// of remote temperature sensors, optionally limited to occupied rooms.
package smartcontrol

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/metrics"
	"github.com/joshp123/thermohub/internal/thermostat"
)

// Skip reasons reported in Decision.Skipped.
const (
	SkipUnoccupied   = "unoccupied"
	SkipNoReadings   = "no_readings"
	SkipMode         = "mode"
	SkipWithinTarget = "within_target"
)

// Sensor links a sensor id to the room it sits in.
type Sensor struct {
	ID   string `yaml:"id"`
	Room string `yaml:"room"`
}

type Config struct {
	Primary            thermostat.DeviceKey
	TemperatureSensors []Sensor
	// OccupancySensors, when set, restrict the mean to temperature sensors
	// in rooms with an active occupancy sensor.
	OccupancySensors []Sensor
	DesiredSetpoint  float64
	Offset           float64
}

func (c Config) Validate() error {
	if c.Primary.DeviceID == "" {
		return thermostat.Errorf(thermostat.KindConfig, "smart control", "primary thermostat is required")
	}
	if len(c.TemperatureSensors) == 0 {
		return thermostat.Errorf(thermostat.KindConfig, "smart control", "at least one temperature sensor is required")
	}
	if c.Offset < 0 {
		return thermostat.Errorf(thermostat.KindConfig, "smart control", "offset must not be negative, got %.2f", c.Offset)
	}
	for _, s := range c.TemperatureSensors {
		if s.ID == "" {
			return thermostat.Errorf(thermostat.KindConfig, "smart control", "temperature sensor id is required")
		}
		if len(c.OccupancySensors) > 0 && s.Room == "" {
			return thermostat.Errorf(thermostat.KindConfig, "smart control", "temperature sensor %s needs a room when occupancy sensors are configured", s.ID)
		}
	}
	for _, s := range c.OccupancySensors {
		if s.ID == "" || s.Room == "" {
			return thermostat.Errorf(thermostat.KindConfig, "smart control", "occupancy sensor needs both id and room")
		}
	}
	return nil
}

// Readings supplies the latest sensor values. ok is false when a sensor has
// not reported yet.
type Readings interface {
	Temperature(id string) (value float64, ok bool)
	Occupied(id string) (active bool, ok bool)
}

// Thermostat is the control path to the primary device.
type Thermostat interface {
	Current(ctx context.Context, key thermostat.DeviceKey) (thermostat.State, error)
	Control(ctx context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error
}

// Decision describes one evaluation.
type Decision struct {
	Skipped  string
	Eligible []string
	Mean     float64
	Mode     thermostat.Mode
	Changes  *thermostat.Changes
}

func (d Decision) String() string {
	if d.Changes != nil {
		return fmt.Sprintf("mean %.2f in %s: %s", d.Mean, d.Mode, d.Changes)
	}
	return "skipped: " + d.Skipped
}

type Engine struct {
	cfg      Config
	readings Readings
	thermo   Thermostat
	log      *zap.SugaredLogger

	notifyCh chan struct{}
}

func New(cfg Config, readings Readings, thermo Thermostat, log *zap.SugaredLogger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		readings: readings,
		thermo:   thermo,
		log:      logging.OrNop(log),
		notifyCh: make(chan struct{}, 1),
	}, nil
}

// Notify schedules an evaluation. Calls made while one is pending collapse.
func (e *Engine) Notify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}

// Run evaluates once and then after every Notify until ctx is done.
// Evaluations never overlap.
func (e *Engine) Run(ctx context.Context) {
	for {
		decision, err := e.Evaluate(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			metrics.ObserveSmartControl("error")
			e.log.Warnw("smart control evaluation failed", "primary", e.cfg.Primary, "error", err)
		case err == nil:
			e.log.Debugw("smart control evaluated", "primary", e.cfg.Primary, "decision", decision.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-e.notifyCh:
		}
	}
}

// Evaluate runs one cycle and issues at most one control command.
func (e *Engine) Evaluate(ctx context.Context) (Decision, error) {
	eligible, skip := e.eligibleSensors()
	if skip != "" {
		return e.skip(Decision{Skipped: skip}), nil
	}

	var values []float64
	var used []string
	for _, id := range eligible {
		if v, ok := e.readings.Temperature(id); ok {
			values = append(values, v)
			used = append(used, id)
		}
	}
	if len(values) == 0 {
		return e.skip(Decision{Skipped: SkipNoReadings}), nil
	}
	mean := Mean(values)

	state, err := e.thermo.Current(ctx, e.cfg.Primary)
	if err != nil {
		return Decision{}, fmt.Errorf("primary state: %w", err)
	}
	decision := Decision{Eligible: used, Mean: mean, Mode: state.Mode}
	changes, skip := Decide(state.Mode, mean, e.cfg.DesiredSetpoint, e.cfg.Offset)
	if changes == nil {
		decision.Skipped = skip
		return e.skip(decision), nil
	}

	if err := e.thermo.Control(ctx, e.cfg.Primary, *changes); err != nil {
		return Decision{}, fmt.Errorf("apply %s: %w", changes, err)
	}
	decision.Changes = changes
	metrics.ObserveSmartControl("command")
	e.log.Infow("smart control adjusted setpoint", "primary", e.cfg.Primary, "mean", mean, "sensors", used, "mode", state.Mode, "changes", changes.String())
	return decision, nil
}

func (e *Engine) skip(d Decision) Decision {
	metrics.ObserveSmartControl(d.Skipped)
	return d
}

// eligibleSensors returns the temperature sensors that count this cycle.
func (e *Engine) eligibleSensors() ([]string, string) {
	if len(e.cfg.OccupancySensors) == 0 {
		ids := make([]string, 0, len(e.cfg.TemperatureSensors))
		for _, s := range e.cfg.TemperatureSensors {
			ids = append(ids, s.ID)
		}
		return ids, ""
	}

	active := make(map[string]bool)
	for _, s := range e.cfg.OccupancySensors {
		if occupied, ok := e.readings.Occupied(s.ID); ok && occupied {
			active[s.Room] = true
		}
	}
	if len(active) == 0 {
		return nil, SkipUnoccupied
	}
	var ids []string
	for _, s := range e.cfg.TemperatureSensors {
		if active[s.Room] {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return nil, SkipNoReadings
	}
	return ids, ""
}

// Decide applies the policy: in cool mode above target, cool to
// desired-offset; in heat mode below target, heat to desired+offset. Auto
// and off never act.
func Decide(mode thermostat.Mode, mean, desired, offset float64) (*thermostat.Changes, string) {
	switch mode {
	case thermostat.ModeCool:
		if mean > desired {
			cool := round1(desired - offset)
			return &thermostat.Changes{CoolingSetpoint: &cool}, ""
		}
	case thermostat.ModeHeat:
		if mean < desired {
			heat := round1(desired + offset)
			return &thermostat.Changes{HeatingSetpoint: &heat}, ""
		}
	default:
		return nil, SkipMode
	}
	return nil, SkipWithinTarget
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
