package tcc

import (
	"fmt"
	"strings"

	"github.com/joshp123/thermohub/internal/thermostat"
)

// System switch positions used by the portal.
const (
	switchHeat = 1
	switchCool = 2
	switchOff  = 3
	switchAuto = 4
)

// Fan switch positions.
const (
	fanAuto      = 0
	fanOn        = 1
	fanCirculate = 2
)

// Equipment output status.
const (
	equipmentOff     = 0
	equipmentHeating = 1
	equipmentCooling = 2
)

type location struct {
	LocationID int      `json:"LocationID"`
	Name       string   `json:"Name"`
	Devices    []device `json:"Devices"`
}

type device struct {
	DeviceID       int            `json:"DeviceID"`
	Name           string         `json:"Name"`
	ThermostatData thermostatData `json:"ThermostatData"`
	FanData        *fanData       `json:"FanData"`
}

type thermostatData struct {
	IndoorTemperature     *float64 `json:"IndoorTemperature"`
	IndoorHumidity        *float64 `json:"IndoorHumidity"`
	HeatSetpoint          float64  `json:"HeatSetpoint"`
	CoolSetpoint          float64  `json:"CoolSetpoint"`
	Mode                  int      `json:"Mode"`
	DisplayUnits          string   `json:"DisplayUnits"`
	EquipmentOutputStatus int      `json:"EquipmentOutputStatus"`
	AllowedModes          []int    `json:"AllowedModes"`
}

type fanData struct {
	Mode         int   `json:"Mode"`
	AllowedModes []int `json:"AllowedModes"`
	IsFanRunning bool  `json:"IsFanRunning"`
}

// controlRequest is the SubmitControlScreenChanges body. Nil fields are sent
// as null, which the portal treats as "leave unchanged". The portal binds keys
// case-insensitively; DeviceId matches its control form field.
type controlRequest struct {
	DeviceID       int      `json:"DeviceId"`
	SystemSwitch   *int     `json:"SystemSwitch"`
	HeatSetpoint   *float64 `json:"HeatSetpoint"`
	CoolSetpoint   *float64 `json:"CoolSetpoint"`
	HeatNextPeriod *int     `json:"HeatNextPeriod"`
	CoolNextPeriod *int     `json:"CoolNextPeriod"`
	StatusHeat     *int     `json:"StatusHeat"`
	StatusCool     *int     `json:"StatusCool"`
}

func modeFromCode(code int) (thermostat.Mode, error) {
	switch code {
	case switchHeat:
		return thermostat.ModeHeat, nil
	case switchCool:
		return thermostat.ModeCool, nil
	case switchOff:
		return thermostat.ModeOff, nil
	case switchAuto:
		return thermostat.ModeAuto, nil
	}
	return "", fmt.Errorf("unknown system switch %d", code)
}

func modeToCode(mode thermostat.Mode) (int, error) {
	switch mode {
	case thermostat.ModeHeat:
		return switchHeat, nil
	case thermostat.ModeCool:
		return switchCool, nil
	case thermostat.ModeOff:
		return switchOff, nil
	case thermostat.ModeAuto:
		return switchAuto, nil
	}
	return 0, fmt.Errorf("unsupported mode %q", mode)
}

func fanFromCode(code int) (thermostat.FanMode, error) {
	switch code {
	case fanAuto:
		return thermostat.FanAuto, nil
	case fanOn:
		return thermostat.FanOn, nil
	case fanCirculate:
		return thermostat.FanCirculate, nil
	}
	return "", fmt.Errorf("unknown fan mode %d", code)
}

func operatingState(status int, fan *fanData) thermostat.OperatingState {
	switch status {
	case equipmentHeating:
		return thermostat.OperatingHeating
	case equipmentCooling:
		return thermostat.OperatingCooling
	case equipmentOff:
		if fan != nil && fan.IsFanRunning {
			return thermostat.OperatingFanOnly
		}
		return thermostat.OperatingIdle
	}
	return thermostat.OperatingUnknown
}

func parseUnit(raw string) (thermostat.Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "F", "FAHRENHEIT", "":
		return thermostat.Fahrenheit, nil
	case "C", "CELSIUS":
		return thermostat.Celsius, nil
	}
	return "", fmt.Errorf("unknown display units %q", raw)
}

func supportedModes(codes []int) []thermostat.Mode {
	out := make([]thermostat.Mode, 0, len(codes))
	for _, code := range codes {
		if mode, err := modeFromCode(code); err == nil {
			out = append(out, mode)
		}
	}
	return out
}

func (d device) supportedFanModes() []thermostat.FanMode {
	if d.FanData == nil {
		return nil
	}
	out := make([]thermostat.FanMode, 0, len(d.FanData.AllowedModes))
	for _, code := range d.FanData.AllowedModes {
		if mode, err := fanFromCode(code); err == nil {
			out = append(out, mode)
		}
	}
	return out
}

func (d device) normalize() (thermostat.State, error) {
	data := d.ThermostatData
	if data.IndoorTemperature == nil {
		return thermostat.State{}, fmt.Errorf("device %d missing IndoorTemperature", d.DeviceID)
	}
	mode, err := modeFromCode(data.Mode)
	if err != nil {
		return thermostat.State{}, err
	}
	unit, err := parseUnit(data.DisplayUnits)
	if err != nil {
		return thermostat.State{}, err
	}
	fan := thermostat.FanAuto
	if d.FanData != nil {
		if fan, err = fanFromCode(d.FanData.Mode); err != nil {
			return thermostat.State{}, err
		}
	}
	return thermostat.State{
		Temperature:       *data.IndoorTemperature,
		Humidity:          data.IndoorHumidity,
		HeatingSetpoint:   data.HeatSetpoint,
		CoolingSetpoint:   data.CoolSetpoint,
		Mode:              mode,
		FanMode:           fan,
		OperatingState:    operatingState(data.EquipmentOutputStatus, d.FanData),
		Unit:              unit,
		SupportedModes:    supportedModes(data.AllowedModes),
		SupportedFanModes: d.supportedFanModes(),
	}, nil
}
