package lyric

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

	"golang.org/x/oauth2"

	"github.com/joshp123/thermohub/internal/thermostat"
	"github.com/joshp123/thermohub/internal/vendors/vendorhttp"
)

const vendor = thermostat.VendorLyric

// Adapter talks to the Honeywell Home (Lyric) REST API.
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

func (a *Adapter) oauthConfig(apiKey, apiSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     apiKey,
		ClientSecret: apiSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.baseURL + "/oauth2/authorize",
			TokenURL:  a.baseURL + "/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: redirectURL,
	}
}

// AuthCodeURL returns the consent page for the authorization-code flow.
func (a *Adapter) AuthCodeURL(apiKey, redirectURL, state string) string {
	return a.oauthConfig(apiKey, "", redirectURL).AuthCodeURL(state)
}

// Authenticate exchanges an authorization code, or redeems a seeded refresh
// token, for a fresh access/refresh pair.
func (a *Adapter) Authenticate(ctx context.Context, creds thermostat.Credentials) (thermostat.Credential, error) {
	creds.Vendor = vendor
	if err := creds.Validate(); err != nil {
		return thermostat.Credential{}, err
	}

	conf := a.oauthConfig(creds.APIKey, creds.APISecret, creds.RedirectURL)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	var (
		token *oauth2.Token
		err   error
	)
	if creds.AuthCode != "" {
		token, err = conf.Exchange(ctx, creds.AuthCode)
	} else {
		token, err = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	}
	if err != nil {
		return thermostat.Credential{}, classifyTokenError("authenticate", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = creds.RefreshToken
	}
	if token.RefreshToken == "" {
		return thermostat.Credential{}, thermostat.Wrap(thermostat.KindParse, vendor, "authenticate", errors.New("no refresh_token returned"))
	}

	return thermostat.Credential{
		AccountID: creds.AccountID(),
		Vendor:    vendor,
		OAuth: &thermostat.OAuthToken{
			APIKey:       creds.APIKey,
			APISecret:    creds.APISecret,
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
		},
	}, nil
}

// Refresh trades the refresh token for a new access/refresh pair.
func (a *Adapter) Refresh(ctx context.Context, cred thermostat.Credential) (thermostat.Credential, error) {
	if cred.OAuth == nil || cred.OAuth.RefreshToken == "" {
		return thermostat.Credential{}, thermostat.Wrap(thermostat.KindAuth, vendor, "refresh", errors.New("no refresh token"))
	}
	conf := a.oauthConfig(cred.OAuth.APIKey, cred.OAuth.APISecret, "")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.OAuth.RefreshToken}).Token()
	if err != nil {
		return thermostat.Credential{}, classifyTokenError("refresh", err)
	}

	next := cred.Clone()
	next.Invalid = false
	next.OAuth.AccessToken = token.AccessToken
	next.OAuth.Expiry = token.Expiry
	if token.RefreshToken != "" {
		next.OAuth.RefreshToken = token.RefreshToken
	}
	return next, nil
}

func (a *Adapter) ListDevices(ctx context.Context, cred thermostat.Credential) ([]thermostat.DeviceDescriptor, error) {
	var locations []location
	if err := a.getJSON(ctx, cred, "list devices", "/v2/locations", nil, &locations); err != nil {
		return nil, err
	}

	var out []thermostat.DeviceDescriptor
	for _, loc := range locations {
		for _, dev := range loc.Devices {
			if !dev.isThermostat() || dev.DeviceID == "" {
				continue
			}
			out = append(out, thermostat.DeviceDescriptor{
				Key: thermostat.DeviceKey{
					Vendor:     vendor,
					LocationID: strconv.Itoa(loc.LocationID),
					DeviceID:   dev.DeviceID,
				},
				AccountID:         cred.AccountID,
				Name:              dev.displayName(),
				SupportedModes:    supportedModes(dev.AllowedModes),
				SupportedFanModes: supportedFanModes(dev.Settings.Fan.AllowedModes),
			})
		}
	}
	return out, nil
}

func (a *Adapter) FetchState(ctx context.Context, cred thermostat.Credential, key thermostat.DeviceKey) (thermostat.State, error) {
	if key.Vendor != vendor {
		return thermostat.State{}, thermostat.Errorf(thermostat.KindConfig, "fetch state", "device %s is not a lyric device", key)
	}
	var dev device
	query := url.Values{"locationId": {key.LocationID}}
	if err := a.getJSON(ctx, cred, "fetch state", "/v2/devices/thermostats/"+url.PathEscape(key.DeviceID), query, &dev); err != nil {
		return thermostat.State{}, err
	}
	if dev.DeviceID != "" && dev.DeviceID != key.DeviceID {
		return thermostat.State{}, thermostat.Wrap(thermostat.KindDeviceNotFound, vendor, "fetch state", fmt.Errorf("asked for %s, got %s", key.DeviceID, dev.DeviceID))
	}
	state, err := dev.normalize()
	if err != nil {
		return thermostat.State{}, thermostat.Wrap(thermostat.KindParse, vendor, "fetch state", err)
	}
	state.UpdatedAt = a.now().UTC()
	return state, nil
}

// PushControl sends only the requested fields; the API leaves the rest alone.
func (a *Adapter) PushControl(ctx context.Context, cred thermostat.Credential, key thermostat.DeviceKey, changes thermostat.Changes) error {
	if key.Vendor != vendor {
		return thermostat.Errorf(thermostat.KindConfig, "push control", "device %s is not a lyric device", key)
	}
	if err := changes.Validate(); err != nil {
		return err
	}

	payload := make(map[string]any, 3)
	if changes.Mode != nil {
		mode, err := formatMode(*changes.Mode)
		if err != nil {
			return thermostat.Wrap(thermostat.KindConfig, vendor, "push control", err)
		}
		payload["mode"] = mode
	}
	if changes.HeatingSetpoint != nil {
		payload["heatSetpoint"] = *changes.HeatingSetpoint
	}
	if changes.CoolingSetpoint != nil {
		payload["coolSetpoint"] = *changes.CoolingSetpoint
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	query := url.Values{"locationId": {key.LocationID}}
	resp, err := a.doRequest(ctx, cred, http.MethodPost, "/v2/devices/thermostats/"+url.PathEscape(key.DeviceID), query, bytes.NewReader(body))
	if err != nil {
		return vendorhttp.Transport(vendor, "push control", err)
	}
	defer resp.Body.Close()
	return vendorhttp.Status(vendor, "push control", resp)
}

func (a *Adapter) getJSON(ctx context.Context, cred thermostat.Credential, op, path string, query url.Values, out any) error {
	resp, err := a.doRequest(ctx, cred, http.MethodGet, path, query, nil)
	if err != nil {
		return vendorhttp.Transport(vendor, op, err)
	}
	defer resp.Body.Close()
	if err := vendorhttp.Status(vendor, op, resp); err != nil {
		return err
	}
	return vendorhttp.DecodeJSON(vendor, op, resp.Body, out)
}

func (a *Adapter) doRequest(ctx context.Context, cred thermostat.Credential, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if cred.OAuth == nil || cred.OAuth.AccessToken == "" {
		return nil, thermostat.Wrap(thermostat.KindAuth, vendor, "request", errors.New("no access token"))
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", cred.OAuth.APIKey)

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path+"?"+query.Encode(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.OAuth.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.httpClient.Do(req)
}

func classifyTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		body := strings.TrimSpace(string(retrieveErr.Body))
		cause := fmt.Errorf("token endpoint %d: %s", retrieveErr.Response.StatusCode, body)
		switch status := retrieveErr.Response.StatusCode; {
		case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
			return thermostat.Wrap(thermostat.KindAuth, vendor, op, cause)
		case status == http.StatusTooManyRequests:
			return thermostat.Wrap(thermostat.KindRateLimited, vendor, op, cause)
		}
		return thermostat.Wrap(thermostat.KindNetwork, vendor, op, cause)
	}
	return vendorhttp.Transport(vendor, op, err)
}
