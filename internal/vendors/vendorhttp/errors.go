// Package vendorhttp maps vendor HTTP outcomes onto the thermostat error
// taxonomy so both adapters classify failures the same way.
package vendorhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/thermohub/internal/rate"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const maxErrorBody = 4 << 10

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Transport classifies an error returned by http.Client.Do.
func Transport(vendor thermostat.Vendor, op string, err error) error {
	var rle rate.RateLimitError
	if errors.As(err, &rle) {
		return &thermostat.Error{Kind: thermostat.KindRateLimited, Op: op, Vendor: vendor, Err: rle, RetryAt: rle.RetryAt}
	}
	return thermostat.Wrap(thermostat.KindNetwork, vendor, op, err)
}

// Status classifies a non-2xx response and drains its body. It returns nil
// for 2xx responses.
func Status(vendor thermostat.Vendor, op string, resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := HTTPStatusError{Status: resp.StatusCode, Body: string(body)}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return thermostat.Wrap(thermostat.KindAuth, vendor, op, statusErr)
	case resp.StatusCode == http.StatusTooManyRequests:
		rl := &thermostat.Error{Kind: thermostat.KindRateLimited, Op: op, Vendor: vendor, Err: statusErr}
		if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && seconds > 0 {
			rl.RetryAt = time.Now().Add(time.Duration(seconds) * time.Second)
		}
		return rl
	case resp.StatusCode == http.StatusNotFound:
		return thermostat.Wrap(thermostat.KindDeviceNotFound, vendor, op, statusErr)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return thermostat.Wrap(thermostat.KindConfig, vendor, op, statusErr)
	default:
		return thermostat.Wrap(thermostat.KindNetwork, vendor, op, statusErr)
	}
}

// DecodeJSON decodes a response body, reporting shape mismatches as parse errors.
func DecodeJSON(vendor thermostat.Vendor, op string, r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return thermostat.Wrap(thermostat.KindParse, vendor, op, err)
	}
	return nil
}
