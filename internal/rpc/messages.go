package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/thermohub/internal/inventory"
	"github.com/joshp123/thermohub/internal/thermostat"
)

// Messages travel as google.protobuf.Struct; these types are their JSON shape.

type Thermostat struct {
	Device            string               `json:"device"`
	AccountID         string               `json:"account_id"`
	Name              string               `json:"name"`
	SupportedModes    []thermostat.Mode    `json:"supported_modes,omitempty"`
	SupportedFanModes []thermostat.FanMode `json:"supported_fan_modes,omitempty"`
	State             *thermostat.State    `json:"state,omitempty"`
	LastError         string               `json:"last_error,omitempty"`
}

func FromDevice(d inventory.Device) Thermostat {
	return Thermostat{
		Device:            d.Key.String(),
		AccountID:         d.AccountID,
		Name:              d.Name,
		SupportedModes:    d.SupportedModes,
		SupportedFanModes: d.SupportedFanModes,
		State:             d.State,
		LastError:         d.LastError,
	}
}

type ListThermostatsRequest struct{}

type ListThermostatsResponse struct {
	Thermostats []Thermostat `json:"thermostats"`
}

type SetThermostatRequest struct {
	Device          string   `json:"device"`
	Mode            string   `json:"mode,omitempty"`
	HeatingSetpoint *float64 `json:"heating_setpoint,omitempty"`
	CoolingSetpoint *float64 `json:"cooling_setpoint,omitempty"`
}

// Changes validates the request into a partial control change.
func (r SetThermostatRequest) Changes() (thermostat.DeviceKey, thermostat.Changes, error) {
	key, err := thermostat.ParseDeviceKey(r.Device)
	if err != nil {
		return thermostat.DeviceKey{}, thermostat.Changes{}, err
	}
	changes := thermostat.Changes{HeatingSetpoint: r.HeatingSetpoint, CoolingSetpoint: r.CoolingSetpoint}
	if r.Mode != "" {
		mode, err := thermostat.ParseMode(r.Mode)
		if err != nil {
			return thermostat.DeviceKey{}, thermostat.Changes{}, err
		}
		changes.Mode = &mode
	}
	if err := changes.Validate(); err != nil {
		return thermostat.DeviceKey{}, thermostat.Changes{}, err
	}
	return key, changes, nil
}

type SetThermostatResponse struct {
	Device string `json:"device"`
	Status string `json:"status"`
}

type AddAccountRequest struct {
	Vendor       string `json:"vendor"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	APISecret    string `json:"api_secret,omitempty"`
	AuthCode     string `json:"auth_code,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Label        string `json:"label,omitempty"`
}

func (r AddAccountRequest) Credentials() (thermostat.Credentials, error) {
	vendor, err := thermostat.ParseVendor(r.Vendor)
	if err != nil {
		return thermostat.Credentials{}, err
	}
	creds := thermostat.Credentials{
		Vendor:       vendor,
		APIKey:       r.APIKey,
		APISecret:    r.APISecret,
		AuthCode:     r.AuthCode,
		RedirectURL:  r.RedirectURL,
		RefreshToken: r.RefreshToken,
		Label:        r.Label,
		Username:     r.Username,
		Password:     r.Password,
	}
	return creds, creds.Validate()
}

type AddAccountResponse struct {
	AccountID string   `json:"account_id"`
	Vendor    string   `json:"vendor"`
	Devices   []string `json:"devices"`
}

type RemoveAccountRequest struct {
	AccountID string `json:"account_id"`
}

type RemoveAccountResponse struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
}

type RefreshThermostatRequest struct {
	Device string `json:"device"`
}

type RefreshThermostatResponse struct {
	Device string           `json:"device"`
	State  thermostat.State `json:"state"`
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
