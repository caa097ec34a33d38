// Package mqtt feeds sensor readings from an MQTT broker into the smart
// control engine and publishes normalized thermostat state back.
package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/joshp123/thermohub/internal/logging"
	"github.com/joshp123/thermohub/internal/thermostat"
)

const (
	defaultTopicPrefix = "thermohub"
	publishTimeout     = 10 * time.Second
)

type SensorKind string

const (
	SensorTemperature SensorKind = "temperature"
	SensorOccupancy   SensorKind = "occupancy"
)

// SensorTopic binds a sensor id to the topic it reports on. Field selects a
// key when the payload is a JSON object.
type SensorTopic struct {
	ID    string
	Topic string
	Kind  SensorKind
	Field string
}

type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Sensors     []SensorTopic
}

func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt broker is required")
	}
	u, err := url.Parse(c.Broker)
	if err != nil {
		return fmt.Errorf("mqtt broker: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("mqtt broker %q: unsupported scheme %q", c.Broker, u.Scheme)
	}
	for _, s := range c.Sensors {
		if s.ID == "" || s.Topic == "" {
			return fmt.Errorf("mqtt sensor needs id and topic")
		}
		if s.Kind != SensorTemperature && s.Kind != SensorOccupancy {
			return fmt.Errorf("mqtt sensor %s: unknown kind %q", s.ID, s.Kind)
		}
	}
	return nil
}

// SensorCache receives parsed readings; both setters report whether the
// value changed.
type SensorCache interface {
	SetTemperature(id string, value float64) bool
	SetOccupancy(id string, active bool) bool
}

type publishFunc func(topic string, retained bool, payload []byte) error

type Bridge struct {
	client  paho.Client
	prefix  string
	sensors map[string][]SensorTopic
	cache   SensorCache
	notify  func()
	log     *zap.SugaredLogger
	publish publishFunc
}

// Connect dials the broker and subscribes to every sensor topic. Topics are
// re-subscribed after reconnects.
func Connect(cfg Config, cache SensorCache, notify func(), log *zap.SugaredLogger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := newBridge(cfg, cache, notify, log)

	opts := paho.NewClientOptions()
	opts.AddBroker(normalizeBroker(cfg.Broker))
	if strings.HasPrefix(cfg.Broker, "ssl://") || strings.HasPrefix(cfg.Broker, "mqtts://") || strings.HasPrefix(cfg.Broker, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = randomClientID()
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(b.prefix+"/status", "offline", 1, true)
	opts.OnConnect = func(c paho.Client) {
		b.subscribeAll(c)
		c.Publish(b.prefix+"/status", 1, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.log.Warnw("mqtt connection lost", "error", err)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	b.client = client
	b.publish = func(topic string, retained bool, payload []byte) error {
		token := client.Publish(topic, 1, retained, payload)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("mqtt publish %s: timeout", topic)
		}
		return token.Error()
	}
	return b, nil
}

func newBridge(cfg Config, cache SensorCache, notify func(), log *zap.SugaredLogger) *Bridge {
	prefix := strings.Trim(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	sensors := make(map[string][]SensorTopic)
	for _, s := range cfg.Sensors {
		sensors[s.Topic] = append(sensors[s.Topic], s)
	}
	if notify == nil {
		notify = func() {}
	}
	return &Bridge{
		prefix:  prefix,
		sensors: sensors,
		cache:   cache,
		notify:  notify,
		log:     logging.OrNop(log),
	}
}

func (b *Bridge) Close() {
	if b.client == nil {
		return
	}
	if b.publish != nil {
		_ = b.publish(b.prefix+"/status", true, []byte("offline"))
	}
	b.client.Disconnect(250)
}

func (b *Bridge) subscribeAll(c paho.Client) {
	for topic := range b.sensors {
		topic := topic
		token := c.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
			b.handle(msg.Topic(), msg.Payload())
		})
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			b.log.Warnw("mqtt subscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		b.log.Debugw("mqtt subscribed", "topic", topic)
	}
}

// handle updates the cache for every sensor bound to topic and notifies once
// if anything changed.
func (b *Bridge) handle(topic string, payload []byte) {
	changed := false
	for _, s := range b.sensors[topic] {
		switch s.Kind {
		case SensorTemperature:
			v, err := ParseTemperature(payload, s.Field)
			if err != nil {
				b.log.Warnw("ignoring temperature payload", "sensor", s.ID, "topic", topic, "error", err)
				continue
			}
			if b.cache.SetTemperature(s.ID, v) {
				changed = true
			}
		case SensorOccupancy:
			v, err := ParseOccupancy(payload, s.Field)
			if err != nil {
				b.log.Warnw("ignoring occupancy payload", "sensor", s.ID, "topic", topic, "error", err)
				continue
			}
			if b.cache.SetOccupancy(s.ID, v) {
				changed = true
			}
		}
	}
	if changed {
		b.notify()
	}
}

// StateTopic returns the retained topic for a device's normalized state.
func (b *Bridge) StateTopic(key thermostat.DeviceKey) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", b.prefix, key.Vendor, topicSegment(key.LocationID), topicSegment(key.DeviceID))
}

type statePayload struct {
	Device string `json:"device"`
	thermostat.State
}

// PublishState implements the hub's state sink.
func (b *Bridge) PublishState(_ context.Context, key thermostat.DeviceKey, state thermostat.State) error {
	payload, err := json.Marshal(statePayload{Device: key.String(), State: state})
	if err != nil {
		return err
	}
	return b.publish(b.StateTopic(key), true, payload)
}

// ForgetDevice clears the retained state of a removed device.
func (b *Bridge) ForgetDevice(key thermostat.DeviceKey) {
	if err := b.publish(b.StateTopic(key), true, nil); err != nil {
		b.log.Warnw("failed to clear retained state", "device", key, "error", err)
	}
}

func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

func normalizeBroker(raw string) string {
	switch {
	case strings.HasPrefix(raw, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(raw, "mqtt://")
	case strings.HasPrefix(raw, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(raw, "mqtts://")
	}
	return raw
}

func randomClientID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("thermohub-%d", time.Now().UnixNano())
	}
	return "thermohub-" + hex.EncodeToString(buf)
}
