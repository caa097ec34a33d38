package rate

import (
	"fmt"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Declaration defines a provider's request budget and header mapping.
type Declaration struct {
	provider        string
	perMinute       int
	defaultCooldown time.Duration
	retryAfter      string
	remaining       string
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{
		provider:        name,
		defaultCooldown: time.Minute,
		retryAfter:      "Retry-After",
	}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPerMinute caps the sustained request rate. Zero means unlimited.
func (d Declaration) MaxRequestsPerMinute(limit int) Declaration {
	d.perMinute = limit
	return d
}

// CooldownOn429 sets the pause used when a 429 carries no Retry-After.
func (d Declaration) CooldownOn429(wait time.Duration) Declaration {
	d.defaultCooldown = wait
	return d
}

// ReadRemaining names a header reporting the remaining request budget.
func (d Declaration) ReadRemaining(header string) Declaration {
	d.remaining = header
	return d
}
