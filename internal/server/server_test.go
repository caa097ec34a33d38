package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/joshp123/thermohub/internal/inventory"
	"github.com/joshp123/thermohub/internal/thermostat"
)

type fakeHub struct {
	devices  []inventory.Device
	controls map[string]thermostat.Changes
	added    []thermostat.Credentials
	err      error
}

func (f *fakeHub) List() []inventory.Device { return f.devices }

func (f *fakeHub) Control(ctx context.Context, key thermostat.DeviceKey, changes thermostat.Changes) error {
	if f.err != nil {
		return f.err
	}
	if f.controls == nil {
		f.controls = map[string]thermostat.Changes{}
	}
	f.controls[key.String()] = changes
	return nil
}

func (f *fakeHub) AddAccount(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, []thermostat.DeviceDescriptor, error) {
	f.added = append(f.added, creds)
	key := thermostat.DeviceKey{Vendor: thermostat.VendorLyric, LocationID: "12345", DeviceID: "LCC-1"}
	return thermostat.Credential{AccountID: "lyric-abc", Vendor: thermostat.VendorLyric}, []thermostat.DeviceDescriptor{{Key: key}}, nil
}

type fakeConsent struct{}

func (fakeConsent) AuthCodeURL(apiKey, redirectURL, state string) string {
	return "https://api.example.com/oauth2/authorize?client_id=" + apiKey + "&state=" + state
}

func newTestServer(t *testing.T, hub *fakeHub) (*httptest.Server, *LyricOnboarding) {
	t.Helper()
	onboarding := NewLyricOnboarding(LyricOnboardingConfig{
		APIKey:      "key",
		APISecret:   "secret",
		RedirectURL: "http://localhost/oauth/lyric/callback",
	}, fakeConsent{}, hub, nil)
	srv := httptest.NewServer(NewRouter(NewAPI(hub, nil), onboarding, NewRegistry()))
	t.Cleanup(srv.Close)
	return srv, onboarding
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeHub{})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "thermohub_build_info") {
		t.Fatalf("metrics output missing build info")
	}
}

func TestListAndControlThermostats(t *testing.T) {
	key := thermostat.DeviceKey{Vendor: thermostat.VendorTCC, LocationID: "501", DeviceID: "9001"}
	hub := &fakeHub{devices: []inventory.Device{{
		DeviceDescriptor: thermostat.DeviceDescriptor{Key: key, Name: "Upstairs"},
		State:            &thermostat.State{Temperature: 72, Mode: thermostat.ModeCool},
	}}}
	srv, _ := newTestServer(t, hub)

	resp, err := http.Get(srv.URL + "/api/thermostats")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list struct {
		Thermostats []struct {
			Device string `json:"device"`
			State  struct {
				Temperature float64 `json:"temperature"`
			} `json:"state"`
		} `json:"thermostats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list.Thermostats) != 1 || list.Thermostats[0].Device != "tcc/501/9001" || list.Thermostats[0].State.Temperature != 72 {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp, err = http.Post(srv.URL+"/api/thermostats/tcc/501/9001", "application/json", strings.NewReader(`{"mode":"heat","heating_setpoint":68}`))
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected control status: %d", resp.StatusCode)
	}
	change, ok := hub.controls["tcc/501/9001"]
	if !ok || change.Mode == nil || *change.Mode != thermostat.ModeHeat || change.HeatingSetpoint == nil || *change.HeatingSetpoint != 68 {
		t.Fatalf("unexpected control: %+v", hub.controls)
	}
	if change.CoolingSetpoint != nil {
		t.Fatalf("cooling setpoint must stay unset")
	}
}

func TestControlErrorStatuses(t *testing.T) {
	hub := &fakeHub{}
	srv, _ := newTestServer(t, hub)

	cases := map[string]struct {
		path string
		body string
		err  error
		want int
	}{
		"empty change":  {path: "/api/thermostats/tcc/501/9001", body: `{}`, want: http.StatusBadRequest},
		"bad json":      {path: "/api/thermostats/tcc/501/9001", body: `{`, want: http.StatusBadRequest},
		"bad vendor":    {path: "/api/thermostats/nest/1/2", body: `{"mode":"off"}`, want: http.StatusBadRequest},
		"unknown":       {path: "/api/thermostats/tcc/501/404", body: `{"mode":"off"}`, err: thermostat.Errorf(thermostat.KindDeviceNotFound, "control", "no such device"), want: http.StatusNotFound},
		"rate limited":  {path: "/api/thermostats/tcc/501/9001", body: `{"mode":"off"}`, err: &thermostat.Error{Kind: thermostat.KindRateLimited, Op: "control", RetryAt: time.Now().Add(time.Minute)}, want: http.StatusTooManyRequests},
		"vendor denied": {path: "/api/thermostats/tcc/501/9001", body: `{"mode":"off"}`, err: thermostat.Errorf(thermostat.KindAuth, "control", "rejected after renewal"), want: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		hub.err = tc.err
		resp, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", name, tc.want, resp.StatusCode)
		}
		if tc.want == http.StatusTooManyRequests && resp.Header.Get("Retry-After") == "" {
			t.Fatalf("%s: missing Retry-After", name)
		}
	}
}

func TestLyricOnboarding(t *testing.T) {
	hub := &fakeHub{}
	srv, _ := newTestServer(t, hub)
	client := noRedirect()

	resp, err := client.Get(srv.URL + "/oauth/lyric/start")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := location.Query().Get("state")
	if state == "" || location.Query().Get("client_id") != "key" {
		t.Fatalf("unexpected consent url: %s", location)
	}

	resp, err = client.Get(srv.URL + "/oauth/lyric/callback?state=forged&code=abc")
	if err != nil {
		t.Fatalf("forged callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || len(hub.added) != 0 {
		t.Fatalf("forged state must be rejected, got %d", resp.StatusCode)
	}

	resp, err = client.Get(srv.URL + "/oauth/lyric/callback?state=" + state + "&code=abc")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected callback status: %d", resp.StatusCode)
	}
	if len(hub.added) != 1 {
		t.Fatalf("expected one account add, got %d", len(hub.added))
	}
	got := hub.added[0]
	if got.Vendor != thermostat.VendorLyric || got.AuthCode != "abc" || got.APISecret != "secret" || got.RedirectURL == "" {
		t.Fatalf("unexpected credentials: %+v", got)
	}

	resp, err = client.Get(srv.URL + "/oauth/lyric/callback?state=" + state + "&code=abc")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replayed state must be rejected, got %d", resp.StatusCode)
	}
}

func TestOnboardingStateExpires(t *testing.T) {
	o := NewLyricOnboarding(LyricOnboardingConfig{APIKey: "key"}, fakeConsent{}, &fakeHub{}, nil)
	now := time.Now()
	o.now = func() time.Time { return now }
	o.states["s1"] = now.Add(time.Minute)
	o.states["s2"] = now.Add(-time.Second)

	if o.consumeState("s2") {
		t.Fatalf("expired state accepted")
	}
	if !o.consumeState("s1") {
		t.Fatalf("valid state rejected")
	}
	if o.consumeState("s1") {
		t.Fatalf("state accepted twice")
	}
}
