package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/inventory"
	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/rpc"
	"github.com/joshp123/thermohub/internal/thermostat"
)

// Hub is what the JSON API reads and controls.
type Hub interface {
	List() []inventory.Device
	Control(ctx context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error
}

type API struct {
	hub Hub
	log *zap.SugaredLogger
}

func NewAPI(hub Hub, log *zap.SugaredLogger) *API {
	return &API{hub: hub, log: logging.OrNop(log)}
}

func (a *API) listThermostats(w http.ResponseWriter, _ *http.Request) {
	devices := a.hub.List()
	items := make([]rpc.Thermostat, 0, len(devices))
	for _, dev := range devices {
		items = append(items, rpc.FromDevice(dev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"thermostats": items})
}

func (a *API) setThermostat(w http.ResponseWriter, r *http.Request) {
	var req rpc.SetThermostatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return
	}
	req.Device = thermostat.DeviceKey{
		Vendor:     thermostat.Vendor(urlParam(r, "vendor")),
		LocationID: urlParam(r, "location"),
		DeviceID:   urlParam(r, "device"),
	}.String()

	key, changes, err := req.Changes()
	if err != nil {
		writeHubError(w, err)
		return
	}
	if err := a.hub.Control(r.Context(), key, changes); err != nil {
		a.log.Warnw("control failed", "device", key.String(), "changes", changes.String(), "error", err)
		writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rpc.SetThermostatResponse{Device: key.String(), Status: "accepted"})
}

func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if value, err := url.PathUnescape(raw); err == nil {
		return value
	}
	return raw
}
