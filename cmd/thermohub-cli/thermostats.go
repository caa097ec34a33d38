package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joshp123/thermohub/internal/rpc"
	"github.com/joshp123/thermohub/internal/thermostat"
)

func listCmd(ctx context.Context, client *rpc.Client, out outputMode) {
	resp, err := client.ListThermostats(ctx)
	if err != nil {
		fatal("list thermostats", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	rows := [][]string{{"DEVICE", "NAME", "MODE", "TEMP", "HEAT", "COOL", "STATE", "ERROR"}}
	for _, t := range resp.Thermostats {
		if t.State == nil {
			rows = append(rows, []string{t.Device, t.Name, "-", "-", "-", "-", "-", orDash(t.LastError)})
			continue
		}
		s := t.State
		rows = append(rows, []string{
			t.Device,
			t.Name,
			string(s.Mode),
			formatTemp(s.Temperature, s.Unit),
			formatTemp(s.HeatingSetpoint, s.Unit),
			formatTemp(s.CoolingSetpoint, s.Unit),
			string(s.OperatingState),
			orDash(t.LastError),
		})
	}
	out.table(rows)
}

func setCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	device, rest := splitDeviceArg(args)
	flags := flag.NewFlagSet("set", flag.ExitOnError)
	mode := flags.String("mode", "", "System mode: off, heat, cool, auto")
	heat := flags.Float64("heat", 0, "Heating setpoint")
	cool := flags.Float64("cool", 0, "Cooling setpoint")
	_ = flags.Parse(rest)
	if device == "" && flags.NArg() > 0 {
		device = flags.Arg(0)
	}
	if device == "" {
		fatal("set", fmt.Errorf("usage: thermohub-cli set <device> [--mode m] [--heat t] [--cool t]"))
	}

	req := rpc.SetThermostatRequest{Device: lookupDevice(ctx, client, device)}
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			req.Mode = strings.ToLower(*mode)
		case "heat":
			req.HeatingSetpoint = heat
		case "cool":
			req.CoolingSetpoint = cool
		}
	})
	if req.Mode == "" && req.HeatingSetpoint == nil && req.CoolingSetpoint == nil {
		fatal("set", fmt.Errorf("nothing to change; pass --mode, --heat or --cool"))
	}

	resp, err := client.SetThermostat(ctx, req)
	if err != nil {
		fatal("set thermostat", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	fmt.Printf("%s: %s\n", resp.Status, resp.Device)
}

func refreshCmd(ctx context.Context, client *rpc.Client, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("refresh", fmt.Errorf("usage: thermohub-cli refresh <device>"))
	}
	resp, err := client.RefreshThermostat(ctx, lookupDevice(ctx, client, args[0]))
	if err != nil {
		fatal("refresh thermostat", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	s := resp.State
	rows := [][]string{
		{"device", resp.Device},
		{"mode", string(s.Mode)},
		{"temperature", formatTemp(s.Temperature, s.Unit)},
		{"heating_setpoint", formatTemp(s.HeatingSetpoint, s.Unit)},
		{"cooling_setpoint", formatTemp(s.CoolingSetpoint, s.Unit)},
		{"fan", string(s.FanMode)},
		{"operating", string(s.OperatingState)},
	}
	if s.Humidity != nil {
		rows = append(rows, []string{"humidity", fmt.Sprintf("%.0f%%", *s.Humidity)})
	}
	out.table(rows)
}

func lookupDevice(ctx context.Context, client *rpc.Client, input string) string {
	if key, err := thermostat.ParseDeviceKey(input); err == nil {
		return key.String()
	}
	resp, err := client.ListThermostats(ctx)
	if err != nil {
		fatal("list thermostats", err)
	}
	device, err := resolveDevice(input, resp.Thermostats)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return device
}
