package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig selects the broker, base topic and delivery guarantee.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
}

const mqttConnectTimeout = 10 * time.Second

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes each record to <topic>/<station code>.
type MQTT struct {
	topic  string
	qos    byte
	client mqttPublisher
}

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt sink: broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("mqtt sink: topic must not be empty")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttConnectTimeout)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt sink: connect to %s timed out", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt sink: connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTWithClient(cfg, c), nil
}

func newMQTTWithClient(cfg MQTTConfig, c mqttPublisher) *MQTT {
	return &MQTT{topic: strings.TrimSuffix(cfg.Topic, "/"), qos: cfg.QoS, client: c}
}

func (m *MQTT) Name() string { return "mqtt" }

// TopicFor returns the topic a record is published on.
func (m *MQTT) TopicFor(r Record) string {
	station := r.Station
	if station == "" {
		station = fmt.Sprintf("%d", r.GroundStationID)
	}
	return m.topic + "/" + station
}

func (m *MQTT) Publish(ctx context.Context, records []Record) error {
	for _, r := range records {
		b, err := r.encode()
		if err != nil {
			return err
		}
		tok := m.client.Publish(m.TopicFor(r), m.qos, false, b)
		select {
		case <-tok.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", m.TopicFor(r), err)
		}
	}
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}
