package lyric

import (
	"net/http"
	"strings"
	"time"

	"github.com/joshp123/thermohub/internal/rate"
)

const (
	defaultBaseURL           = "https://api.honeywell.com"
	defaultRequestsPerMinute = 30
)

// Config defines runtime configuration for the Lyric adapter.
type Config struct {
	BaseURL           string
	RequestsPerMinute int
	Timeout           time.Duration
}

// RateLimits declares the Lyric request budget.
func RateLimits(perMinute int) rate.Declaration {
	if perMinute <= 0 {
		perMinute = defaultRequestsPerMinute
	}
	return rate.Provider("lyric").
		MaxRequestsPerMinute(perMinute).
		CooldownOn429(time.Minute)
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
		timeout = 15 * time.Second
	}
	return rate.WrapHTTP(RateLimits(c.RequestsPerMinute), &http.Client{Timeout: timeout})
}
