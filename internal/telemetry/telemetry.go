// Package telemetry optionally publishes shadow-store state to an MQTT
// broker in a Home-Assistant-discoverable shape, using the same client
// library the teacher used for its own (subscribe-only) MQTT
// connection — here driven purely as a publisher (spec.md's domain
// stack, supplemented per SPEC_FULL.md §2).
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/besim-project/besimd/internal/config"
	"github.com/besim-project/besimd/internal/logging"
	"github.com/besim-project/besimd/internal/shadow"
)

// Publisher pushes room state to an MQTT broker. The service's
// telemetryLoop calls PublishRoom for every known room on a fixed
// interval.
type Publisher struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger *zap.Logger

	discovered map[string]struct{}
}

// New returns a Publisher that has not yet connected. Connect must be
// called before PublishRoom has any effect.
func New(cfg config.MQTTConfig) *Publisher {
	return &Publisher{
		cfg:        cfg,
		logger:     logging.With(zap.String("component", "telemetry")),
		discovered: make(map[string]struct{}),
	}
}

// Connect dials the configured broker. Callers should only invoke this
// when cfg.Broker is non-empty — telemetry is entirely optional (spec
// §6: "telemetry publishing disabled if empty").
func (p *Publisher) Connect() error {
	clientID := p.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("besimd-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("telemetry: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: connect: %w", err)
	}

	p.client = client
	p.logger.Info("connected to mqtt broker", zap.String("broker", p.cfg.Broker))
	return nil
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.logger.Warn("mqtt connection lost", zap.Error(err))
}

// Close disconnects from the broker, if connected.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

type roomState struct {
	Temperature      float64 `json:"current_temperature"`
	TargetTemperature float64 `json:"temperature"`
	Mode             string  `json:"mode"`
	Heating          bool    `json:"heating"`
}

// PublishRoom sends the room's current state and, on first sight of
// this (device, room) pair, the retained Home Assistant MQTT discovery
// config for a climate entity.
func (p *Publisher) PublishRoom(deviceID, roomID uint32, r *shadow.Room) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}

	uid := fmt.Sprintf("besimd_%08x_%d", deviceID, roomID)
	if _, ok := p.discovered[uid]; !ok {
		p.publishDiscovery(uid, deviceID, roomID)
		p.discovered[uid] = struct{}{}
	}

	state := roomState{
		Temperature:       float64(r.Temp) / 10,
		TargetTemperature: float64(r.SetTemp) / 10,
		Mode:              modeName(r.Mode),
		Heating:           r.Heating != nil && *r.Heating,
	}

	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Warn("marshal room state", zap.Error(err))
		return
	}

	topic := fmt.Sprintf("%s/climate/%s/state", p.cfg.Prefix, uid)
	p.publish(topic, payload, false)
}

// discoveryConfig is the subset of a Home Assistant MQTT climate
// discovery payload besimd can honestly populate.
type discoveryConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	CurrentTempTopic  string `json:"current_temperature_topic"`
	TempStateTopic    string `json:"temperature_state_topic"`
	TempCommandTopic  string `json:"temperature_command_topic"`
	ValueTemplate     string `json:"value_template"`
	TempUnit          string `json:"temperature_unit"`
}

func (p *Publisher) publishDiscovery(uid string, deviceID, roomID uint32) {
	stateTopic := fmt.Sprintf("%s/climate/%s/state", p.cfg.Prefix, uid)
	cfg := discoveryConfig{
		Name:             fmt.Sprintf("Besmart %08x room %d", deviceID, roomID),
		UniqueID:         uid,
		StateTopic:       stateTopic,
		CurrentTempTopic: stateTopic,
		TempStateTopic:   stateTopic,
		TempCommandTopic: fmt.Sprintf("%s/climate/%s/set", p.cfg.Prefix, uid),
		ValueTemplate:    "{{ value_json.current_temperature }}",
		TempUnit:         "C",
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		p.logger.Warn("marshal discovery config", zap.Error(err))
		return
	}

	topic := fmt.Sprintf("homeassistant/climate/%s/config", uid)
	p.publish(topic, payload, true)
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) {
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
}

func modeName(mode byte) string {
	switch mode {
	case 0:
		return "off"
	case 1:
		return "manual"
	case 2:
		return "auto"
	case 3:
		return "boost"
	default:
		return "unknown"
	}
}
