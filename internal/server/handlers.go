package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// writeHubError maps the error taxonomy onto HTTP statuses.
func writeHubError(w http.ResponseWriter, err error) {
	kind := thermostat.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case thermostat.KindConfig:
		status = http.StatusBadRequest
	case thermostat.KindDeviceNotFound, thermostat.KindAccountNotFound:
		status = http.StatusNotFound
	case thermostat.KindRateLimited:
		status = http.StatusTooManyRequests
		var te *thermostat.Error
		if errors.As(err, &te) && !te.RetryAt.IsZero() {
			if wait := time.Until(te.RetryAt); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds()+0.5)))
			}
		}
	case thermostat.KindAuth:
		status = http.StatusUnauthorized
	case thermostat.KindNetwork, thermostat.KindParse:
		status = http.StatusBadGateway
	}
	code := "internal"
	if kind != 0 {
		code = kind.String()
	}
	writeError(w, status, code, err.Error())
}
