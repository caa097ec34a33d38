// Package metrics holds the service-level Prometheus collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/thermohub/internal/thermostat"
)

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_refresh_total",
			Help: "Device state refreshes by outcome",
		},
		[]string{"vendor", "outcome"},
	)
	controlTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_control_total",
			Help: "Control commands by outcome",
		},
		[]string{"vendor", "outcome"},
	)
	renewalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_credential_renewal_total",
			Help: "Credential renewals by outcome",
		},
		[]string{"vendor", "outcome"},
	)
	authRetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_auth_retry_total",
			Help: "Operations retried after an authorization failure",
		},
		[]string{"vendor"},
	)
	smartControlTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thermohub_smart_control_evaluations_total",
			Help: "Smart control evaluations by result",
		},
		[]string{"result"},
	)
	credentialValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermohub_credential_valid",
			Help: "Whether the account credential is usable (1=yes, 0=needs re-authentication)",
		},
		[]string{"account", "vendor"},
	)
	temperature = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermohub_thermostat_temperature",
			Help: "Indoor temperature in the thermostat's display unit",
		},
		[]string{"device", "unit"},
	)
	humidity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermohub_thermostat_humidity_percent",
			Help: "Indoor relative humidity",
		},
		[]string{"device"},
	)
	setpoint = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermohub_thermostat_setpoint",
			Help: "Heating and cooling setpoints",
		},
		[]string{"device", "kind"},
	)
	mode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "thermohub_thermostat_mode",
			Help: "Current thermostat mode (1 for the active mode)",
		},
		[]string{"device", "mode"},
	)
)

// Collectors returns every collector defined here.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		refreshTotal,
		controlTotal,
		renewalTotal,
		authRetryTotal,
		smartControlTotal,
		credentialValid,
		temperature,
		humidity,
		setpoint,
		mode,
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := thermostat.KindOf(err); kind != 0 {
		return kind.String()
	}
	return "error"
}

func ObserveRefresh(vendor thermostat.Vendor, err error) {
	refreshTotal.WithLabelValues(string(vendor), outcome(err)).Inc()
}

func ObserveControl(vendor thermostat.Vendor, err error) {
	controlTotal.WithLabelValues(string(vendor), outcome(err)).Inc()
}

func ObserveRenewal(vendor thermostat.Vendor, err error) {
	renewalTotal.WithLabelValues(string(vendor), outcome(err)).Inc()
}

func ObserveAuthRetry(vendor thermostat.Vendor) {
	authRetryTotal.WithLabelValues(string(vendor)).Inc()
}

func ObserveSmartControl(result string) {
	smartControlTotal.WithLabelValues(result).Inc()
}

func SetCredentialValid(accountID string, vendor thermostat.Vendor, valid bool) {
	value := 0.0
	if valid {
		value = 1
	}
	credentialValid.WithLabelValues(accountID, string(vendor)).Set(value)
}

// ForgetAccount drops the series of a removed account.
func ForgetAccount(accountID string, vendor thermostat.Vendor) {
	credentialValid.DeleteLabelValues(accountID, string(vendor))
}

// StateSink mirrors normalized state into gauges.
type StateSink struct{}

func (StateSink) PublishState(_ context.Context, key thermostat.DeviceKey, state thermostat.State) error {
	device := key.String()
	temperature.WithLabelValues(device, string(state.Unit)).Set(state.Temperature)
	if state.Humidity != nil {
		humidity.WithLabelValues(device).Set(*state.Humidity)
	}
	setpoint.WithLabelValues(device, "heat").Set(state.HeatingSetpoint)
	setpoint.WithLabelValues(device, "cool").Set(state.CoolingSetpoint)
	for _, m := range []thermostat.Mode{thermostat.ModeOff, thermostat.ModeHeat, thermostat.ModeCool, thermostat.ModeAuto} {
		value := 0.0
		if m == state.Mode {
			value = 1
		}
		mode.WithLabelValues(device, string(m)).Set(value)
	}
	return nil
}

// ForgetDevice drops the series of a removed device.
func (StateSink) ForgetDevice(key thermostat.DeviceKey) {
	device := key.String()
	temperature.DeletePartialMatch(prometheus.Labels{"device": device})
	humidity.DeleteLabelValues(device)
	setpoint.DeletePartialMatch(prometheus.Labels{"device": device})
	mode.DeletePartialMatch(prometheus.Labels{"device": device})
}
