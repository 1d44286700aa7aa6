package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/output"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "water-monitor"
	DefaultStateTopic = "water-monitor/state"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplateFmt       = "{{ value_json.%s.value }}"
)

// Quantity is one field of the composite reading as announced to Home
// Assistant.
type Quantity struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
}

var Quantities = []Quantity{
	{Key: "ph", Name: "pH", Unit: "pH", DeviceClass: "ph"},
	{Key: "orp", Name: "ORP", Unit: "mV", DeviceClass: "voltage"},
	{Key: "ec", Name: "Conductivity", Unit: "µS/cm"},
	{Key: "temperature", Name: "Temperature", Unit: "°C", DeviceClass: "temperature"},
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

// WithDefaults fills the empty fields of cfg.
func WithDefaults(cfg config.MQTTConfig) config.MQTTConfig {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	return cfg
}

func NewMQTT(cfg config.MQTTConfig) (output.Output, error) {
	cfg = WithDefaults(cfg)
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTT(client, cfg), nil
}

// newMQTT wraps a connected client and publishes the discovery entries.
func newMQTT(client mqtt.Client, cfg config.MQTTConfig) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}
	if cfg.DiscoveryTopic == "" {
		return m
	}
	for _, q := range Quantities {
		b, err := json.Marshal(discoveryPayload(cfg, q))
		if err == nil {
			err = m.PublishRaw(discoveryTopic(cfg.DiscoveryTopic, q.Key), b, true)
		}
		if err != nil {
			log.Printf("mqtt discovery publish error: %v", err)
		}
	}
	return m
}

// Publish sends the composite reading as one JSON document. Failed fields
// carry their error text instead of a value.
func (m *MQTTOutput) Publish(r sensor.Readings) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.stateTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// discoveryTopic formats a per-quantity topic; a base without %s gets the
// quantity appended in the Home Assistant layout.
func discoveryTopic(base, key string) string {
	if strings.Contains(base, "%s") {
		return fmt.Sprintf(base, key)
	}
	return strings.TrimSuffix(base, "/") + "/" + key + "/config"
}

func discoveryPayload(cfg config.MQTTConfig, q Quantity) map[string]interface{} {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Water %s", cfg.ClientID)
	}
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	payload := map[string]interface{}{
		keyName:                fmt.Sprintf("%s %s", name, q.Name),
		keyStateTopic:          cfg.StateTopic,
		keyUnitOfMeasurement:   q.Unit,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf(valueTemplateFmt, q.Key),
		keyJSONAttributesTopic: cfg.StateTopic,
	}
	if q.DeviceClass != "" {
		payload[keyDeviceClass] = q.DeviceClass
	}
	if uid != "" {
		payload[keyUniqueID] = uid + "_" + q.Key
	}
	return payload
}
