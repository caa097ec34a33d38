package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/thermohub/internal/rpc"
	"github.com/joshp123/thermohub/internal/thermostat"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveDevice accepts a device key or a thermostat name.
func resolveDevice(input string, thermostats []rpc.Thermostat) (string, error) {
	if key, err := thermostat.ParseDeviceKey(input); err == nil {
		return key.String(), nil
	}
	needle := normalizeName(input)
	var matches []string
	for _, t := range thermostats {
		if normalizeName(t.Name) == needle {
			matches = append(matches, t.Device)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := make([]string, 0, len(thermostats))
		for _, t := range thermostats {
			available = append(available, t.Name)
		}
		sort.Strings(available)
		return "", fmt.Errorf("thermostat %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("thermostat %q is ambiguous: %s", input, strings.Join(matches, ", "))
	}
}

// splitDeviceArg pulls the positional device out of args so flags may
// appear before or after it.
func splitDeviceArg(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}
