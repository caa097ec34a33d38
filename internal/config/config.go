package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshp123/thermohub/internal/credstore"
	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/mqtt"
	"github.com/joshp123/thermohub/internal/smartcontrol"
	"github.com/joshp123/thermohub/internal/thermostat"
	"github.com/joshp123/thermohub/internal/vendors/lyric"
	"github.com/joshp123/thermohub/internal/vendors/tcc"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/thermohub/config.yaml"
	DefaultGRPCAddr     = "0.0.0.0:9000"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultStatePath    = "/var/lib/thermohub/credentials.json"
	DefaultBlobPrefix   = "thermohub"
	DefaultPollInterval = 5 * time.Minute
	DefaultThrottle     = 2 * time.Second
	DefaultRenewMargin  = 5 * time.Minute
	DefaultConfirmDelay = 5 * time.Second
	DefaultRetryBackoff = time.Minute
)

type Config struct {
	SchemaVersion int                 `yaml:"schema_version"`
	Core          CoreConfig          `yaml:"core"`
	Poll          PollConfig          `yaml:"poll"`
	Blob          *BlobConfig         `yaml:"blob"`
	Lyric         *LyricConfig        `yaml:"lyric"`
	TCC           *TCCConfig          `yaml:"tcc"`
	Accounts      []AccountConfig     `yaml:"accounts"`
	MQTT          *MQTTConfig         `yaml:"mqtt"`
	SmartControl  *SmartControlConfig `yaml:"smart_control"`
}

type CoreConfig struct {
	GRPCAddr  string `yaml:"grpc_addr"`
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	StatePath string `yaml:"state_path"`
}

type PollConfig struct {
	// Interval is a pointer so an explicit 0 (disabled) survives defaults.
	Interval     *time.Duration `yaml:"interval"`
	Throttle     time.Duration  `yaml:"throttle"`
	RenewMargin  time.Duration  `yaml:"renew_margin"`
	ConfirmDelay time.Duration  `yaml:"confirm_delay"`
	RetryBackoff time.Duration  `yaml:"retry_backoff"`
}

type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

type LyricConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	APISecretFile     string `yaml:"api_secret_file"`
	RedirectURL       string `yaml:"redirect_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

type TCCConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// AccountConfig seeds an account at startup when the credential store does
// not know it yet.
type AccountConfig struct {
	Vendor           string `yaml:"vendor"`
	Username         string `yaml:"username"`
	PasswordFile     string `yaml:"password_file"`
	Label            string `yaml:"label"`
	RefreshTokenFile string `yaml:"refresh_token_file"`
}

type MQTTConfig struct {
	Broker       string         `yaml:"broker"`
	Username     string         `yaml:"username"`
	PasswordFile string         `yaml:"password_file"`
	ClientID     string         `yaml:"client_id"`
	TopicPrefix  string         `yaml:"topic_prefix"`
	Sensors      []SensorConfig `yaml:"sensors"`
}

type SensorConfig struct {
	ID    string `yaml:"id"`
	Topic string `yaml:"topic"`
	Kind  string `yaml:"kind"`
	Field string `yaml:"field"`
}

type SmartControlConfig struct {
	Enabled            bool                  `yaml:"enabled"`
	Primary            string                `yaml:"primary"`
	DesiredSetpoint    float64               `yaml:"desired_setpoint"`
	Offset             float64               `yaml:"offset"`
	TemperatureSensors []smartcontrol.Sensor `yaml:"temperature_sensors"`
	OccupancySensors   []smartcontrol.Sensor `yaml:"occupancy_sensors"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = logging.InfoLevel
	}
	if cfg.Core.StatePath == "" {
		cfg.Core.StatePath = DefaultStatePath
	}

	if cfg.Poll.Interval == nil {
		interval := DefaultPollInterval
		cfg.Poll.Interval = &interval
	}
	if cfg.Poll.Throttle == 0 {
		cfg.Poll.Throttle = DefaultThrottle
	}
	if cfg.Poll.RenewMargin == 0 {
		cfg.Poll.RenewMargin = DefaultRenewMargin
	}
	if cfg.Poll.ConfirmDelay == 0 {
		cfg.Poll.ConfirmDelay = DefaultConfirmDelay
	}
	if cfg.Poll.RetryBackoff == 0 {
		cfg.Poll.RetryBackoff = DefaultRetryBackoff
	}

	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].Vendor = strings.ToLower(strings.TrimSpace(cfg.Accounts[i].Vendor))
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	if !filepath.IsAbs(cfg.Core.StatePath) {
		return fmt.Errorf("core.state_path must be absolute")
	}
	if *cfg.Poll.Interval < 0 {
		return fmt.Errorf("poll.interval must not be negative")
	}

	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if cfg.Lyric != nil {
		if cfg.Lyric.APIKey == "" {
			return fmt.Errorf("lyric.api_key is required")
		}
		if cfg.Lyric.APISecretFile == "" {
			return fmt.Errorf("lyric.api_secret_file is required")
		}
	}

	for i, acct := range cfg.Accounts {
		vendor, err := thermostat.ParseVendor(acct.Vendor)
		if err != nil {
			return fmt.Errorf("accounts[%d].vendor: %w", i, err)
		}
		switch vendor {
		case thermostat.VendorTCC:
			if cfg.TCC == nil {
				return fmt.Errorf("accounts[%d]: tcc section is required for tcc accounts", i)
			}
			if acct.Username == "" || acct.PasswordFile == "" {
				return fmt.Errorf("accounts[%d]: username and password_file are required", i)
			}
		case thermostat.VendorLyric:
			if cfg.Lyric == nil {
				return fmt.Errorf("accounts[%d]: lyric section is required for lyric accounts", i)
			}
			if acct.RefreshTokenFile == "" {
				return fmt.Errorf("accounts[%d]: refresh_token_file is required", i)
			}
		}
	}

	if cfg.MQTT != nil {
		if err := cfg.MQTT.bridgeConfig("").Validate(); err != nil {
			return err
		}
	}
	return validateSmartControl(cfg)
}

func validateSmartControl(cfg *Config) error {
	sc := cfg.SmartControl
	if sc == nil || !sc.Enabled {
		return nil
	}
	if strings.TrimSpace(sc.Primary) == "" {
		return thermostat.Errorf(thermostat.KindConfig, "config", "smart_control.primary is required when smart control is enabled")
	}
	engineCfg, err := sc.EngineConfig()
	if err != nil {
		return err
	}
	if err := engineCfg.Validate(); err != nil {
		return err
	}
	if cfg.MQTT == nil {
		return thermostat.Errorf(thermostat.KindConfig, "config", "smart_control requires an mqtt section for sensor input")
	}
	kinds := make(map[string]string, len(cfg.MQTT.Sensors))
	for _, s := range cfg.MQTT.Sensors {
		kinds[s.ID] = s.Kind
	}
	for _, s := range sc.TemperatureSensors {
		if kinds[s.ID] != string(mqtt.SensorTemperature) {
			return thermostat.Errorf(thermostat.KindConfig, "config", "smart_control temperature sensor %s has no mqtt temperature topic", s.ID)
		}
	}
	for _, s := range sc.OccupancySensors {
		if kinds[s.ID] != string(mqtt.SensorOccupancy) {
			return thermostat.Errorf(thermostat.KindConfig, "config", "smart_control occupancy sensor %s has no mqtt occupancy topic", s.ID)
		}
	}
	return nil
}

// EngineConfig converts the section into the engine's config.
func (s *SmartControlConfig) EngineConfig() (smartcontrol.Config, error) {
	primary, err := thermostat.ParseDeviceKey(s.Primary)
	if err != nil {
		return smartcontrol.Config{}, fmt.Errorf("smart_control.primary: %w", err)
	}
	return smartcontrol.Config{
		Primary:            primary,
		TemperatureSensors: s.TemperatureSensors,
		OccupancySensors:   s.OccupancySensors,
		DesiredSetpoint:    s.DesiredSetpoint,
		Offset:             s.Offset,
	}, nil
}

// BridgeConfig resolves the MQTT section, reading the password file.
func (m *MQTTConfig) BridgeConfig() (mqtt.Config, error) {
	var password string
	if m.PasswordFile != "" {
		var err error
		if password, err = ReadSecretFile(m.PasswordFile); err != nil {
			return mqtt.Config{}, fmt.Errorf("mqtt.password_file: %w", err)
		}
	}
	return m.bridgeConfig(password), nil
}

func (m *MQTTConfig) bridgeConfig(password string) mqtt.Config {
	sensors := make([]mqtt.SensorTopic, 0, len(m.Sensors))
	for _, s := range m.Sensors {
		sensors = append(sensors, mqtt.SensorTopic{ID: s.ID, Topic: s.Topic, Kind: mqtt.SensorKind(s.Kind), Field: s.Field})
	}
	return mqtt.Config{
		Broker:      m.Broker,
		Username:    m.Username,
		Password:    password,
		ClientID:    m.ClientID,
		TopicPrefix: m.TopicPrefix,
		Sensors:     sensors,
	}
}

func (b *BlobConfig) StoreConfig() credstore.BlobConfig {
	return credstore.BlobConfig{
		Endpoint:      b.Endpoint,
		Bucket:        b.Bucket,
		Prefix:        b.Prefix,
		Region:        b.Region,
		AccessKeyFile: b.AccessKeyFile,
		SecretKeyFile: b.SecretKeyFile,
	}
}

func (l *LyricConfig) AdapterConfig() lyric.Config {
	return lyric.Config{BaseURL: l.BaseURL, RequestsPerMinute: l.RequestsPerMinute}
}

func (t *TCCConfig) AdapterConfig() tcc.Config {
	return tcc.Config{BaseURL: t.BaseURL, RequestsPerMinute: t.RequestsPerMinute}
}

// Credentials resolves a seeded account into adapter input.
func (a AccountConfig) Credentials(lyricCfg *LyricConfig) (thermostat.Credentials, error) {
	vendor, err := thermostat.ParseVendor(a.Vendor)
	if err != nil {
		return thermostat.Credentials{}, err
	}
	creds := thermostat.Credentials{Vendor: vendor, Label: a.Label}
	switch vendor {
	case thermostat.VendorTCC:
		creds.Username = a.Username
		if creds.Password, err = ReadSecretFile(a.PasswordFile); err != nil {
			return thermostat.Credentials{}, fmt.Errorf("password_file: %w", err)
		}
	case thermostat.VendorLyric:
		if lyricCfg == nil {
			return thermostat.Credentials{}, fmt.Errorf("lyric section is required")
		}
		creds.APIKey = lyricCfg.APIKey
		if creds.APISecret, err = ReadSecretFile(lyricCfg.APISecretFile); err != nil {
			return thermostat.Credentials{}, fmt.Errorf("lyric.api_secret_file: %w", err)
		}
		if creds.RefreshToken, err = ReadSecretFile(a.RefreshTokenFile); err != nil {
			return thermostat.Credentials{}, fmt.Errorf("refresh_token_file: %w", err)
		}
	}
	return creds, nil
}

// ReadSecretFile returns the trimmed contents of a secret file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return value, nil
}
