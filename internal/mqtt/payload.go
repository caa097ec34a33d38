package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseTemperature accepts a bare number or a JSON object holding one under
// field (default "temperature").
func ParseTemperature(payload []byte, field string) (float64, error) {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty payload")
	}
	if raw[0] == '{' {
		if field == "" {
			field = "temperature"
		}
		value, err := jsonField(raw, field)
		if err != nil {
			return 0, err
		}
		switch v := value.(type) {
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		default:
			return 0, fmt.Errorf("field %q is %T, not a number", field, value)
		}
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return v, nil
}

// ParseOccupancy accepts the usual boolean spellings, bare or inside a JSON
// object under field (default "occupancy").
func ParseOccupancy(payload []byte, field string) (bool, error) {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 {
		return false, fmt.Errorf("empty payload")
	}
	if raw[0] == '{' {
		if field == "" {
			field = "occupancy"
		}
		value, err := jsonField(raw, field)
		if err != nil {
			return false, err
		}
		switch v := value.(type) {
		case bool:
			return v, nil
		case float64:
			return v != 0, nil
		case string:
			return parseOccupancyWord(v)
		default:
			return false, fmt.Errorf("field %q is %T, not a boolean", field, value)
		}
	}
	return parseOccupancyWord(string(raw))
}

func parseOccupancyWord(raw string) (bool, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), `"`)) {
	case "on", "true", "1", "active", "occupied", "detected", "yes":
		return true, nil
	case "off", "false", "0", "inactive", "clear", "unoccupied", "no":
		return false, nil
	}
	return false, fmt.Errorf("unknown occupancy value %q", raw)
}

func jsonField(raw []byte, field string) (any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode json payload: %w", err)
	}
	value, ok := obj[field]
	if !ok {
		return nil, fmt.Errorf("payload has no field %q", field)
	}
	return value, nil
}
