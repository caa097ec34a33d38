package smartcontrol

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
)

var primary = thermostat.DeviceKey{Vendor: thermostat.VendorLyric, LocationID: "1", DeviceID: "main"}

type fakeThermostat struct {
	mu     sync.Mutex
	mode   thermostat.Mode
	pushed []thermostat.Changes
	err    error
}

func (f *fakeThermostat) Current(context.Context, thermostat.DeviceKey) (thermostat.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return thermostat.State{}, f.err
	}
	return thermostat.State{Mode: f.mode}, nil
}

func (f *fakeThermostat) Control(_ context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key != primary {
		return errors.New("wrong device")
	}
	f.pushed = append(f.pushed, changes)
	return nil
}

func (f *fakeThermostat) pushes() []thermostat.Changes {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]thermostat.Changes(nil), f.pushed...)
}

func newEngine(t *testing.T, cfg Config, cache *SensorCache, thermo *fakeThermostat) *Engine {
	t.Helper()
	cfg.Primary = primary
	engine, err := New(cfg, cache, thermo, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestCoolModeAboveTarget(t *testing.T) {
	cache := NewSensorCache()
	cache.SetTemperature("bed", 74)
	cache.SetTemperature("office", 76)
	thermo := &fakeThermostat{mode: thermostat.ModeCool}
	engine := newEngine(t, Config{
		TemperatureSensors: []Sensor{{ID: "bed"}, {ID: "office"}},
		DesiredSetpoint:    72,
		Offset:             1.0,
	}, cache, thermo)

	decision, err := engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Mean != 75 {
		t.Fatalf("expected mean 75, got %v", decision.Mean)
	}
	pushed := thermo.pushes()
	if len(pushed) != 1 {
		t.Fatalf("expected one command, got %d", len(pushed))
	}
	c := pushed[0]
	if c.CoolingSetpoint == nil || *c.CoolingSetpoint != 71.0 || c.HeatingSetpoint != nil || c.Mode != nil {
		t.Fatalf("expected only coolingSetpoint=71.0, got %s", c)
	}
}

func TestHeatModeBelowTarget(t *testing.T) {
	cache := NewSensorCache()
	cache.SetTemperature("hall", 66)
	thermo := &fakeThermostat{mode: thermostat.ModeHeat}
	engine := newEngine(t, Config{
		TemperatureSensors: []Sensor{{ID: "hall"}},
		DesiredSetpoint:    70,
		Offset:             1.5,
	}, cache, thermo)

	if _, err := engine.Evaluate(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	pushed := thermo.pushes()
	if len(pushed) != 1 || pushed[0].HeatingSetpoint == nil || *pushed[0].HeatingSetpoint != 71.5 || pushed[0].CoolingSetpoint != nil {
		t.Fatalf("expected only heatingSetpoint=71.5, got %+v", pushed)
	}
}

func TestNoCommandCases(t *testing.T) {
	cases := []struct {
		name string
		mode thermostat.Mode
		temp float64
		want string
	}{
		{name: "cool at or below target", mode: thermostat.ModeCool, temp: 72, want: SkipWithinTarget},
		{name: "heat above target", mode: thermostat.ModeHeat, temp: 73, want: SkipWithinTarget},
		{name: "auto never acts", mode: thermostat.ModeAuto, temp: 80, want: SkipMode},
		{name: "off never acts", mode: thermostat.ModeOff, temp: 60, want: SkipMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cache := NewSensorCache()
			cache.SetTemperature("a", tc.temp)
			thermo := &fakeThermostat{mode: tc.mode}
			engine := newEngine(t, Config{TemperatureSensors: []Sensor{{ID: "a"}}, DesiredSetpoint: 72, Offset: 1}, cache, thermo)
			decision, err := engine.Evaluate(context.Background())
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if decision.Skipped != tc.want || len(thermo.pushes()) != 0 {
				t.Fatalf("expected skip %q and no command, got %q with %d commands", tc.want, decision.Skipped, len(thermo.pushes()))
			}
		})
	}
}

func TestOccupancyFiltersSensors(t *testing.T) {
	cache := NewSensorCache()
	cache.SetTemperature("bed-temp", 78)
	cache.SetTemperature("office-temp", 74)
	cache.SetTemperature("kitchen-temp", 90)
	cache.SetOccupancy("bed-motion", true)
	cache.SetOccupancy("office-motion", true)
	cache.SetOccupancy("kitchen-motion", false)

	thermo := &fakeThermostat{mode: thermostat.ModeCool}
	engine := newEngine(t, Config{
		TemperatureSensors: []Sensor{{ID: "bed-temp", Room: "bedroom"}, {ID: "office-temp", Room: "office"}, {ID: "kitchen-temp", Room: "kitchen"}},
		OccupancySensors:   []Sensor{{ID: "bed-motion", Room: "bedroom"}, {ID: "office-motion", Room: "office"}, {ID: "kitchen-motion", Room: "kitchen"}},
		DesiredSetpoint:    72,
		Offset:             1,
	}, cache, thermo)

	decision, err := engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Mean != 76 {
		t.Fatalf("mean must cover only occupied rooms, got %v over %v", decision.Mean, decision.Eligible)
	}
	for _, id := range decision.Eligible {
		if id == "kitchen-temp" {
			t.Fatalf("unoccupied sensor counted: %v", decision.Eligible)
		}
	}

	cache.SetOccupancy("bed-motion", false)
	cache.SetOccupancy("office-motion", false)
	before := len(thermo.pushes())
	decision, err = engine.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Skipped != SkipUnoccupied || len(thermo.pushes()) != before {
		t.Fatalf("all rooms inactive must issue no command, got %+v", decision)
	}
}

func TestMissingReadingsAndPrimaryErrors(t *testing.T) {
	cache := NewSensorCache()
	thermo := &fakeThermostat{mode: thermostat.ModeCool}
	engine := newEngine(t, Config{TemperatureSensors: []Sensor{{ID: "a"}}, DesiredSetpoint: 72}, cache, thermo)

	decision, err := engine.Evaluate(context.Background())
	if err != nil || decision.Skipped != SkipNoReadings {
		t.Fatalf("expected no_readings skip, got %+v %v", decision, err)
	}

	cache.SetTemperature("a", 80)
	thermo.err = thermostat.Wrap(thermostat.KindNetwork, thermostat.VendorLyric, "fetch", errors.New("down"))
	if _, err := engine.Evaluate(context.Background()); !errors.Is(err, thermostat.ErrNetwork) {
		t.Fatalf("expected primary error surfaced, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if _, err := New(Config{TemperatureSensors: []Sensor{{ID: "a"}}}, NewSensorCache(), &fakeThermostat{}, nil); !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("missing primary must be a config error, got %v", err)
	}
	cfg := Config{Primary: primary, TemperatureSensors: []Sensor{{ID: "a"}}, Offset: -1}
	if err := cfg.Validate(); !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("negative offset must be rejected, got %v", err)
	}
	cfg = Config{Primary: primary, TemperatureSensors: []Sensor{{ID: "a"}}, OccupancySensors: []Sensor{{ID: "m", Room: "r"}}}
	if err := cfg.Validate(); !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("temperature sensor without room must be rejected with occupancy, got %v", err)
	}
}

func TestMeanAndRound(t *testing.T) {
	if got := Mean([]float64{70, 71, 72.5}); math.Abs(got-71.1666667) > 1e-6 {
		t.Fatalf("unexpected mean: %v", got)
	}
	if got := Mean(nil); got != 0 {
		t.Fatalf("mean of nothing should be 0, got %v", got)
	}
	if got := round1(71.25); got != 71.3 {
		t.Fatalf("unexpected rounding: %v", got)
	}
}

func TestRunEvaluatesAtStartAndOnNotify(t *testing.T) {
	cache := NewSensorCache()
	cache.SetTemperature("a", 80)
	thermo := &fakeThermostat{mode: thermostat.ModeCool}
	engine := newEngine(t, Config{TemperatureSensors: []Sensor{{ID: "a"}}, DesiredSetpoint: 72, Offset: 1}, cache, thermo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(thermo.pushes()) == 1 })
	engine.Notify()
	waitFor(t, func() bool { return len(thermo.pushes()) == 2 })
	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
