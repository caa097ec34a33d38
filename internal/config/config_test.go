package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshp123/thermohub/internal/thermostat"
)

const fullConfig = `
schema_version: 1
core:
  grpc_addr: 127.0.0.1:9100
  log_level: debug
  state_path: /var/lib/thermohub/credentials.json
poll:
  interval: 2m
  throttle: 3s
lyric:
  api_key: abc
  api_secret_file: /run/secrets/lyric
tcc: {}
accounts:
  - vendor: TCC
    username: alice@example.com
    password_file: /run/secrets/tcc
mqtt:
  broker: tcp://broker:1883
  sensors:
    - {id: bed-temp, topic: zigbee/bed, kind: temperature}
    - {id: bed-motion, topic: zigbee/bed, kind: occupancy}
smart_control:
  enabled: true
  primary: lyric/123/LCC-1
  desired_setpoint: 72
  offset: 1
  temperature_sensors:
    - {id: bed-temp, room: bedroom}
  occupancy_sensors:
    - {id: bed-motion, room: bedroom}
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Core.HTTPAddr != DefaultHTTPAddr || cfg.Core.GRPCAddr != "127.0.0.1:9100" {
		t.Fatalf("unexpected core: %+v", cfg.Core)
	}
	if *cfg.Poll.Interval != 2*time.Minute || cfg.Poll.Throttle != 3*time.Second || cfg.Poll.RenewMargin != DefaultRenewMargin {
		t.Fatalf("unexpected poll: %+v", cfg.Poll)
	}
	if cfg.Accounts[0].Vendor != "tcc" {
		t.Fatalf("vendor not normalized: %q", cfg.Accounts[0].Vendor)
	}
	engine, err := cfg.SmartControl.EngineConfig()
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}
	if engine.Primary.Vendor != thermostat.VendorLyric || engine.Primary.DeviceID != "LCC-1" || engine.OccupancySensors[0].Room != "bedroom" {
		t.Fatalf("unexpected engine config: %+v", engine)
	}
}

func TestZeroPollIntervalDisables(t *testing.T) {
	cfg, err := Parse([]byte("schema_version: 1\npoll:\n  interval: 0s\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *cfg.Poll.Interval != 0 {
		t.Fatalf("explicit zero interval must survive defaults, got %s", *cfg.Poll.Interval)
	}
	cfg, err = Parse([]byte("schema_version: 1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *cfg.Poll.Interval != DefaultPollInterval {
		t.Fatalf("missing interval should default, got %s", *cfg.Poll.Interval)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"schema":           "schema_version: 2\n",
		"relative state":   "schema_version: 1\ncore: {state_path: creds.json}\n",
		"blob incomplete":  "schema_version: 1\nblob: {endpoint: http://minio:9000}\n",
		"lyric secret":     "schema_version: 1\nlyric: {api_key: k}\n",
		"tcc account":      "schema_version: 1\naccounts: [{vendor: tcc, username: a, password_file: /p}]\n",
		"unknown vendor":   "schema_version: 1\naccounts: [{vendor: nest}]\n",
		"mqtt bad scheme":  "schema_version: 1\nmqtt: {broker: 'http://x'}\n",
		"negative poll":    "schema_version: 1\npoll: {interval: -1m}\n",
		"smart no sensors": "schema_version: 1\nsmart_control: {enabled: true, primary: tcc/1/2}\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestSmartControlWithoutPrimaryIsConfigError(t *testing.T) {
	doc := strings.Replace(fullConfig, "primary: lyric/123/LCC-1", "primary: ''", 1)
	_, err := Parse([]byte(doc))
	if !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}

	doc = strings.Replace(fullConfig, "enabled: true", "enabled: false", 1)
	doc = strings.Replace(doc, "primary: lyric/123/LCC-1", "primary: ''", 1)
	if _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("disabled smart control must not require a primary: %v", err)
	}

	doc = strings.Replace(fullConfig, "id: bed-motion, room", "id: hall-motion, room", 1)
	if _, err := Parse([]byte(doc)); !errors.Is(err, thermostat.ErrConfig) {
		t.Fatalf("expected config error for unmapped sensor, got %v", err)
	}
}

func TestAccountCredentialsReadSecrets(t *testing.T) {
	dir := t.TempDir()
	write := func(name, value string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		return path
	}
	lyricCfg := &LyricConfig{APIKey: "key", APISecretFile: write("secret", "s3cret\n")}

	creds, err := AccountConfig{Vendor: "lyric", Label: "home", RefreshTokenFile: write("refresh", " rt-1 ")}.Credentials(lyricCfg)
	if err != nil {
		t.Fatalf("lyric creds: %v", err)
	}
	if creds.APISecret != "s3cret" || creds.RefreshToken != "rt-1" || creds.Label != "home" {
		t.Fatalf("unexpected lyric creds: %+v", creds)
	}

	creds, err = AccountConfig{Vendor: "tcc", Username: "bob", PasswordFile: write("pw", "hunter2")}.Credentials(nil)
	if err != nil || creds.Password != "hunter2" || creds.Username != "bob" {
		t.Fatalf("unexpected tcc creds: %+v %v", creds, err)
	}

	if _, err := ReadSecretFile(write("empty", "\n")); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
