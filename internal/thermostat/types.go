package thermostat

import (
	"fmt"
	"strings"
	"time"
)

// Vendor identifies which cloud API owns an account.
type Vendor string

const (
	// VendorLyric is the Honeywell Home / Resideo OAuth2 API.
	VendorLyric Vendor = "lyric"
	// VendorTCC is the legacy Total Connect Comfort session-cookie portal.
	VendorTCC Vendor = "tcc"
)

var vendors = []Vendor{VendorLyric, VendorTCC}

// Vendors lists every supported vendor.
func Vendors() []Vendor {
	out := make([]Vendor, len(vendors))
	copy(out, vendors)
	return out
}

func ParseVendor(raw string) (Vendor, error) {
	v := Vendor(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range vendors {
		if v == known {
			return v, nil
		}
	}
	return "", Errorf(KindConfig, "parse vendor", "unknown vendor %q", raw)
}

func (v Vendor) String() string { return string(v) }

// Mode is the normalized HVAC system mode.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeAuto Mode = "auto"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeOff:
		return ModeOff, nil
	case ModeHeat:
		return ModeHeat, nil
	case ModeCool:
		return ModeCool, nil
	case ModeAuto:
		return ModeAuto, nil
	}
	return "", Errorf(KindConfig, "parse mode", "unknown mode %q", raw)
}

// FanMode is the normalized fan setting.
type FanMode string

const (
	FanAuto      FanMode = "auto"
	FanOn        FanMode = "on"
	FanCirculate FanMode = "circulate"
)

// OperatingState is what the equipment is doing right now.
type OperatingState string

const (
	OperatingIdle    OperatingState = "idle"
	OperatingHeating OperatingState = "heating"
	OperatingCooling OperatingState = "cooling"
	OperatingFanOnly OperatingState = "fan-only"
	OperatingUnknown OperatingState = "unknown"
)

// Unit is the temperature scale reported by the device.
type Unit string

const (
	Fahrenheit Unit = "F"
	Celsius    Unit = "C"
)

// DeviceKey identifies a thermostat across vendors.
type DeviceKey struct {
	Vendor     Vendor
	LocationID string
	DeviceID   string
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Vendor, k.LocationID, k.DeviceID)
}

// ParseDeviceKey parses the vendor/location/device form produced by String.
func ParseDeviceKey(raw string) (DeviceKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return DeviceKey{}, Errorf(KindConfig, "parse device key", "device key %q must be vendor/location/device", raw)
	}
	vendor, err := ParseVendor(parts[0])
	if err != nil {
		return DeviceKey{}, err
	}
	return DeviceKey{Vendor: vendor, LocationID: parts[1], DeviceID: parts[2]}, nil
}

// DeviceDescriptor is what discovery reports for one thermostat.
type DeviceDescriptor struct {
	Key               DeviceKey
	AccountID         string
	Name              string
	SupportedModes    []Mode
	SupportedFanModes []FanMode
}

// State is the vendor-agnostic thermostat state every adapter produces.
type State struct {
	Temperature       float64        `json:"temperature"`
	Humidity          *float64       `json:"humidity,omitempty"`
	HeatingSetpoint   float64        `json:"heating_setpoint"`
	CoolingSetpoint   float64        `json:"cooling_setpoint"`
	Mode              Mode           `json:"mode"`
	FanMode           FanMode        `json:"fan_mode"`
	OperatingState    OperatingState `json:"operating_state"`
	Unit              Unit           `json:"unit"`
	SupportedModes    []Mode         `json:"supported_modes"`
	SupportedFanModes []FanMode      `json:"supported_fan_modes"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices.
func (s State) Clone() State {
	out := s
	if s.Humidity != nil {
		h := *s.Humidity
		out.Humidity = &h
	}
	out.SupportedModes = append([]Mode(nil), s.SupportedModes...)
	out.SupportedFanModes = append([]FanMode(nil), s.SupportedFanModes...)
	return out
}

// Changes is a partial control request. Nil fields are left untouched.
type Changes struct {
	Mode            *Mode
	HeatingSetpoint *float64
	CoolingSetpoint *float64
}

func (c Changes) Empty() bool {
	return c.Mode == nil && c.HeatingSetpoint == nil && c.CoolingSetpoint == nil
}

func (c Changes) Validate() error {
	if c.Empty() {
		return Errorf(KindConfig, "control", "no changes requested")
	}
	if c.HeatingSetpoint != nil && c.CoolingSetpoint != nil && *c.HeatingSetpoint > *c.CoolingSetpoint {
		return Errorf(KindConfig, "control", "heating setpoint %.1f above cooling setpoint %.1f", *c.HeatingSetpoint, *c.CoolingSetpoint)
	}
	return nil
}

func (c Changes) String() string {
	parts := make([]string, 0, 3)
	if c.Mode != nil {
		parts = append(parts, "mode="+string(*c.Mode))
	}
	if c.HeatingSetpoint != nil {
		parts = append(parts, fmt.Sprintf("heat=%.1f", *c.HeatingSetpoint))
	}
	if c.CoolingSetpoint != nil {
		parts = append(parts, fmt.Sprintf("cool=%.1f", *c.CoolingSetpoint))
	}
	return strings.Join(parts, " ")
}
