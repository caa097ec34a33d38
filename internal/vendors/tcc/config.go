package tcc

import (
	"net/http"
	"strings"
	"time"

	"github.com/joshp123/thermohub/internal/rate"
)

const (
	defaultBaseURL           = "https://www.mytotalconnectcomfort.com"
	defaultRequestsPerMinute = 20

	// authCookie is the portal's forms-auth cookie; every other cookie it sets
	// is irrelevant to the API calls we make.
	authCookie = ".ASPXAUTH_TRUEHOME"
)

// Config defines runtime configuration for the TCC adapter.
type Config struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
}

// RateLimits declares the portal request budget. The portal has no published
// limit; it invalidates sessions under bursts, so the default is conservative.
func RateLimits(perMinute int) rate.Declaration {
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	return rate.Provider("tcc").
		MaxRequestsPerMinute(perMinute).
		CooldownOn429(2 * time.Minute)
}

func (c Config) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	return base
}

func (c Config) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := rate.WrapHTTP(RateLimits(c.RequestsPerMinute), &http.Client{Timeout: timeout})
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}
