package tcc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
	"github.com/joshp123/thermohub/internal/vendors/vendorhttp"
)

const vendor = thermostat.VendorTCC

// Adapter talks to the Total Connect Comfort web portal.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

var _ thermostat.Adapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	return &Adapter{
		baseURL:    cfg.baseURL(),
		httpClient: cfg.httpClient(),
		now:        time.Now,
	}
}

func (a *Adapter) Vendor() thermostat.Vendor { return vendor }

// Authenticate logs in with username and password and captures the session.
func (a *Adapter) Authenticate(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, error) {
	creds.Vendor = vendor
	if err := creds.Validate(); err != nil {
		return thermostat.Credential{}, err
	}
	session, err := a.login(ctx, strings.TrimSpace(creds.Username), creds.Password)
	if err != nil {
		return thermostat.Credential{}, err
	}
	return thermostat.Credential{
		AccountID: creds.AccountID(),
		Vendor:    vendor,
		Session:   session,
	}, nil
}

// Refresh re-runs the full login; the portal has no incremental renewal.
func (a *Adapter) Refresh(ctx context.Context, cred thermostat.Credential) (thermostat.Credential, error) {
	if cred.Session == nil || cred.Session.Username == "" || cred.Session.Password == "" {
		return thermostat.Credential{}, thermostat.Wrap(thermostat.KindAuth, vendor, "refresh", errors.New("no stored login"))
	}
	session, err := a.login(ctx, cred.Session.Username, cred.Session.Password)
	if err != nil {
		return thermostat.Credential{}, err
	}
	next := cred.Clone()
	next.Invalid = false
	next.Session = session
	return next, nil
}

func (a *Adapter) login(ctx context.Context, username, password string) (*thermostat.Session, error) {
	form := url.Values{
		"UserName":   {username},
		"Password":   {password},
		"RememberMe": {"false"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/portal", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, vendorhttp.Transport(vendor, "login", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 400 {
		return nil, vendorhttp.Status(vendor, "login", resp)
	}

	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == authCookie && c.Value != "" {
			cookie = c.Value
		}
	}
	if cookie == "" {
		// A rejected login re-renders the form with 200 and no auth cookie.
		return nil, thermostat.Wrap(thermostat.KindAuth, vendor, "login", errors.New("login rejected: no session cookie"))
	}

	userID, err := parseUserID(resp.Header.Get("Location"))
	if err != nil {
		return nil, thermostat.Wrap(thermostat.KindParse, vendor, "login", err)
	}
	return &thermostat.Session{
		Username: username,
		Password: password,
		Cookie:   cookie,
		UserID:   userID,
	}, nil
}

// parseUserID reads the user id from the post-login redirect, which is either
// /portal?userId=N or /portal/N/....
func parseUserID(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", errors.New("login response had no redirect")
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse login redirect: %w", err)
	}
	for key, values := range u.Query() {
		if strings.EqualFold(key, "userId") && len(values) > 0 && values[0] != "" {
			return values[0], nil
		}
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if !strings.EqualFold(seg, "portal") || i+1 >= len(segments) {
			continue
		}
		if _, err := strconv.Atoi(segments[i+1]); err == nil {
			return segments[i+1], nil
		}
	}
	return "", fmt.Errorf("no user id in login redirect %q", location)
}

func (a *Adapter) locations(ctx context.Context, cred thermostat.Credential, op string) ([]location, error) {
	if cred.Session == nil || cred.Session.UserID == "" {
		return nil, thermostat.Wrap(thermostat.KindAuth, vendor, op, errors.New("no session"))
	}
	query := url.Values{"userId": {cred.Session.UserID}, "allData": {"True"}}
	resp, err := a.doRequest(ctx, cred, http.MethodGet, "/portal/GetLocations", query, nil)
	if err != nil {
		return nil, vendorhttp.Transport(vendor, op, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(op, resp); err != nil {
		return nil, err
	}
	var out []location
	if err := vendorhttp.DecodeJSON(vendor, op, resp.Body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) ListDevices(ctx context.Context, cred thermostat.Credential) ([]thermostat.DeviceDescriptor, error) {
	locations, err := a.locations(ctx, cred, "list devices")
	if err != nil {
		return nil, err
	}
	var out []thermostat.DeviceDescriptor
	for _, loc := range locations {
		for _, dev := range loc.Devices {
			name := dev.Name
			if name == "" {
				name = strconv.Itoa(dev.DeviceID)
			}
			out = append(out, thermostat.DeviceDescriptor{
				Key: thermostat.DeviceKey{
					Vendor:     vendor,
					LocationID: strconv.Itoa(loc.LocationID),
					DeviceID:   strconv.Itoa(dev.DeviceID),
				},
				AccountID:         cred.AccountID,
				Name:              name,
				SupportedModes:    supportedModes(dev.ThermostatData.AllowedModes),
				SupportedFanModes: dev.supportedFanModes(),
			})
		}
	}
	return out, nil
}

func (a *Adapter) FetchState(ctx context.Context, cred thermostat.Credential, key thermostat.DeviceKey) (thermostat.State, error) {
	if key.Vendor != vendor {
		return thermostat.State{}, thermostat.Errorf(thermostat.KindConfig, "fetch state", "device %s is not a tcc device", key)
	}
	locations, err := a.locations(ctx, cred, "fetch state")
	if err != nil {
		return thermostat.State{}, err
	}
	for _, loc := range locations {
		if strconv.Itoa(loc.LocationID) != key.LocationID {
			continue
		}
		for _, dev := range loc.Devices {
			if strconv.Itoa(dev.DeviceID) != key.DeviceID {
				continue
			}
			state, err := dev.normalize()
			if err != nil {
				return thermostat.State{}, thermostat.Wrap(thermostat.KindParse, vendor, "fetch state", err)
			}
			state.UpdatedAt = a.now().UTC()
			return state, nil
		}
	}
	return thermostat.State{}, thermostat.Wrap(thermostat.KindDeviceNotFound, vendor, "fetch state", fmt.Errorf("%s not in location listing", key))
}

// PushControl submits the changed fields and forces a permanent hold so the
// thermostat does not fall back to its schedule.
func (a *Adapter) PushControl(ctx context.Context, cred thermostat.Credential, key thermostat.DeviceKey, changes thermostat.Changes) error {
	if key.Vendor != vendor {
		return thermostat.Errorf(thermostat.KindConfig, "push control", "device %s is not a tcc device", key)
	}
	if err := changes.Validate(); err != nil {
		return err
	}
	deviceID, err := strconv.Atoi(key.DeviceID)
	if err != nil {
		return thermostat.Wrap(thermostat.KindDeviceNotFound, vendor, "push control", fmt.Errorf("device id %q is not numeric", key.DeviceID))
	}

	body, err := buildControl(deviceID, changes)
	if err != nil {
		return thermostat.Wrap(thermostat.KindConfig, vendor, "push control", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := a.doRequest(ctx, cred, http.MethodPost, "/portal/Device/SubmitControlScreenChanges", nil, bytes.NewReader(payload))
	if err != nil {
		return vendorhttp.Transport(vendor, "push control", err)
	}
	defer resp.Body.Close()
	return checkResponse("push control", resp)
}

func buildControl(deviceID int, changes thermostat.Changes) (controlRequest, error) {
	req := controlRequest{DeviceID: deviceID}
	if changes.Mode != nil {
		code, err := modeToCode(*changes.Mode)
		if err != nil {
			return controlRequest{}, err
		}
		req.SystemSwitch = &code
	}
	req.HeatSetpoint = changes.HeatingSetpoint
	req.CoolSetpoint = changes.CoolingSetpoint
	if !changes.Empty() {
		hold := 1
		req.StatusHeat = &hold
		req.StatusCool = &hold
	}
	return req, nil
}

func (a *Adapter) doRequest(ctx context.Context, cred thermostat.Credential, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if cred.Session == nil || cred.Session.Cookie == "" {
		return nil, thermostat.Wrap(thermostat.KindAuth, vendor, "request", errors.New("no session cookie"))
	}
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: authCookie, Value: cred.Session.Cookie})
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return a.httpClient.Do(req)
}

// checkResponse treats a bounce to the login page as an expired session.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return thermostat.Wrap(thermostat.KindAuth, vendor, op, fmt.Errorf("session expired: redirected to %s", resp.Header.Get("Location")))
	}
	if err := vendorhttp.Status(vendor, op, resp); err != nil {
		return err
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return thermostat.Wrap(thermostat.KindAuth, vendor, op, errors.New("session expired: got login page"))
	}
	return nil
}
