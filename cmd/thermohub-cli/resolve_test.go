package main

import (
	"strings"
	"testing"

	"github.com/joshp123/thermohub/internal/rpc"
)

func TestResolveDevice(t *testing.T) {
	thermostats := []rpc.Thermostat{
		{Device: "tcc/501/9001", Name: "Upstairs Hall"},
		{Device: "lyric/12345/LCC-1", Name: "Basement"},
		{Device: "lyric/12345/LCC-2", Name: "basement"},
	}

	got, err := resolveDevice("upstairs-hall", thermostats)
	if err != nil || got != "tcc/501/9001" {
		t.Fatalf("expected name match, got %q %v", got, err)
	}
	got, err = resolveDevice("lyric/999/LCC-9", thermostats)
	if err != nil || got != "lyric/999/LCC-9" {
		t.Fatalf("device keys must pass through, got %q %v", got, err)
	}
	if _, err := resolveDevice("Basement", thermostats); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if _, err := resolveDevice("attic", thermostats); err == nil || !strings.Contains(err.Error(), "Available") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestSplitDeviceArg(t *testing.T) {
	device, rest := splitDeviceArg([]string{"tcc/1/2", "--mode", "cool"})
	if device != "tcc/1/2" || len(rest) != 2 {
		t.Fatalf("unexpected split: %q %v", device, rest)
	}
	device, rest = splitDeviceArg([]string{"--heat", "68"})
	if device != "" || len(rest) != 2 {
		t.Fatalf("unexpected split: %q %v", device, rest)
	}
}

func TestDialAddr(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0:9000": "localhost:9000",
		":9000":        "localhost:9000",
		"hub.lan:9100": "hub.lan:9100",
		"":             "",
	}
	for in, want := range cases {
		if got := dialAddr(in); got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
}
