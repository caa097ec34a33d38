package lyric

import (
	"fmt"
	"strings"

	"github.com/joshp123/thermohub/internal/thermostat"
)

type location struct {
	LocationID int      `json:"locationID"`
	Name       string   `json:"name"`
	Devices    []device `json:"devices"`
}

type device struct {
	DeviceClass           string   `json:"deviceClass"`
	DeviceID              string   `json:"deviceID"`
	Name                  string   `json:"name"`
	UserDefinedDeviceName string   `json:"userDefinedDeviceName"`
	Units                 string   `json:"units"`
	IndoorTemperature     *float64 `json:"indoorTemperature"`
	IndoorHumidity        *float64 `json:"indoorHumidity"`
	AllowedModes          []string `json:"allowedModes"`
	ChangeableValues      struct {
		Mode         string  `json:"mode"`
		HeatSetpoint float64 `json:"heatSetpoint"`
		CoolSetpoint float64 `json:"coolSetpoint"`
	} `json:"changeableValues"`
	OperationStatus struct {
		Mode string `json:"mode"`
	} `json:"operationStatus"`
	Settings struct {
		Fan struct {
			AllowedModes     []string `json:"allowedModes"`
			ChangeableValues struct {
				Mode string `json:"mode"`
			} `json:"changeableValues"`
		} `json:"fan"`
	} `json:"settings"`
}

func (d device) displayName() string {
	if d.UserDefinedDeviceName != "" {
		return d.UserDefinedDeviceName
	}
	if d.Name != "" {
		return d.Name
	}
	return d.DeviceID
}

func (d device) isThermostat() bool {
	return strings.EqualFold(d.DeviceClass, "Thermostat")
}

func parseMode(raw string) (thermostat.Mode, error) {
	switch strings.ToLower(raw) {
	case "heat", "emergencyheat":
		return thermostat.ModeHeat, nil
	case "cool":
		return thermostat.ModeCool, nil
	case "off":
		return thermostat.ModeOff, nil
	case "auto":
		return thermostat.ModeAuto, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

func formatMode(mode thermostat.Mode) (string, error) {
	switch mode {
	case thermostat.ModeHeat:
		return "Heat", nil
	case thermostat.ModeCool:
		return "Cool", nil
	case thermostat.ModeOff:
		return "Off", nil
	case thermostat.ModeAuto:
		return "Auto", nil
	}
	return "", fmt.Errorf("unsupported mode %q", mode)
}

func parseFanMode(raw string) (thermostat.FanMode, bool) {
	switch strings.ToLower(raw) {
	case "auto":
		return thermostat.FanAuto, true
	case "on":
		return thermostat.FanOn, true
	case "circulate":
		return thermostat.FanCirculate, true
	}
	return "", false
}

func parseOperatingState(raw string) thermostat.OperatingState {
	switch raw {
	case "EquipmentOff":
		return thermostat.OperatingIdle
	case "Heat":
		return thermostat.OperatingHeating
	case "Cool":
		return thermostat.OperatingCooling
	case "Fan":
		return thermostat.OperatingFanOnly
	default:
		return thermostat.OperatingUnknown
	}
}

func parseUnit(raw string) (thermostat.Unit, error) {
	switch strings.ToLower(raw) {
	case "fahrenheit", "f", "":
		return thermostat.Fahrenheit, nil
	case "celsius", "c":
		return thermostat.Celsius, nil
	}
	return "", fmt.Errorf("unknown units %q", raw)
}

func supportedModes(raw []string) []thermostat.Mode {
	out := make([]thermostat.Mode, 0, len(raw))
	seen := make(map[thermostat.Mode]bool, len(raw))
	for _, value := range raw {
		mode, err := parseMode(value)
		if err != nil || seen[mode] {
			continue
		}
		seen[mode] = true
		out = append(out, mode)
	}
	return out
}

func supportedFanModes(raw []string) []thermostat.FanMode {
	out := make([]thermostat.FanMode, 0, len(raw))
	for _, value := range raw {
		if mode, ok := parseFanMode(value); ok {
			out = append(out, mode)
		}
	}
	return out
}

func (d device) normalize() (thermostat.State, error) {
	if d.IndoorTemperature == nil {
		return thermostat.State{}, fmt.Errorf("device %s missing indoorTemperature", d.DeviceID)
	}
	mode, err := parseMode(d.ChangeableValues.Mode)
	if err != nil {
		return thermostat.State{}, err
	}
	unit, err := parseUnit(d.Units)
	if err != nil {
		return thermostat.State{}, err
	}
	fan := thermostat.FanAuto
	if raw := d.Settings.Fan.ChangeableValues.Mode; raw != "" {
		parsed, ok := parseFanMode(raw)
		if !ok {
			return thermostat.State{}, fmt.Errorf("unknown fan mode %q", raw)
		}
		fan = parsed
	}
	return thermostat.State{
		Temperature:       *d.IndoorTemperature,
		Humidity:          d.IndoorHumidity,
		HeatingSetpoint:   d.ChangeableValues.HeatSetpoint,
		CoolingSetpoint:   d.ChangeableValues.CoolSetpoint,
		Mode:              mode,
		FanMode:           fan,
		OperatingState:    parseOperatingState(d.OperationStatus.Mode),
		Unit:              unit,
		SupportedModes:    supportedModes(d.AllowedModes),
		SupportedFanModes: supportedFanModes(d.Settings.Fan.AllowedModes),
	}, nil
}
