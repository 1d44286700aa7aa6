package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/water-monitor/pkg/config"
	"github.com/ericogr/water-monitor/pkg/sensor"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool   { return true }
func (t doneToken) Error() error { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient records publishes; methods the output never calls stay on the
// embedded nil interface.
type fakeClient struct {
	mqtt.Client
	sent         []message
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestDiscoveryPerQuantity(t *testing.T) {
	c := &fakeClient{}
	cfg := WithDefaults(config.MQTTConfig{
		ClientID:       "pool",
		DiscoveryTopic: "homeassistant/sensor/pool_%s/config",
	})
	newMQTT(c, cfg)

	require.Len(t, c.sent, len(Quantities))
	var ph map[string]interface{}
	require.NoError(t, json.Unmarshal(c.sent[0].payload, &ph))
	assert.Equal(t, "homeassistant/sensor/pool_ph/config", c.sent[0].topic)
	assert.True(t, c.sent[0].retained)
	assert.Equal(t, "Water pool pH", ph[keyName])
	assert.Equal(t, "pool_ph", ph[keyUniqueID])
	assert.Equal(t, DefaultStateTopic, ph[keyStateTopic])
	assert.Equal(t, "{{ value_json.ph.value }}", ph[keyValueTemplate])

	var ec map[string]interface{}
	require.NoError(t, json.Unmarshal(c.sent[2].payload, &ec))
	assert.Equal(t, "µS/cm", ec[keyUnitOfMeasurement])
	assert.NotContains(t, ec, keyDeviceClass)
}

func TestDiscoveryFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	c := &fakeClient{err: errors.New("not connected")}
	m := newMQTT(c, WithDefaults(config.MQTTConfig{DiscoveryTopic: "homeassistant/sensor/pool"}))
	require.NotNil(t, m)
	assert.Len(t, c.sent, len(Quantities))
	assert.Equal(t, "homeassistant/sensor/pool/temperature/config", c.sent[3].topic)
	assert.Contains(t, buf.String(), "mqtt discovery publish error: not connected")
}

func TestDiscoveryTopicWithoutFormatter(t *testing.T) {
	assert.Equal(t, "homeassistant/sensor/pool/orp/config", discoveryTopic("homeassistant/sensor/pool/", "orp"))
	assert.Equal(t, "a/ec/b", discoveryTopic("a/%s/b", "ec"))
}

func TestNoDiscoveryWithoutTopic(t *testing.T) {
	c := &fakeClient{}
	newMQTT(c, WithDefaults(config.MQTTConfig{}))
	assert.Empty(t, c.sent)
}

func TestPublishReadings(t *testing.T) {
	c := &fakeClient{}
	m := newMQTT(c, WithDefaults(config.MQTTConfig{StateTopic: "pool/state"}))
	r := sensor.Readings{
		Timestamp:   time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC),
		PH:          sensor.OK(7.25),
		Temperature: sensor.Failed(errors.New("rtd open")),
		EC:          sensor.OK(1413),
		ORP:         sensor.OK(412.5),
	}
	require.NoError(t, m.Publish(r))
	require.Len(t, c.sent, 1)
	assert.Equal(t, "pool/state", c.sent[0].topic)
	assert.False(t, c.sent[0].retained)
	assert.JSONEq(t, `{
		"timestamp": "2025-09-19T14:41:54Z",
		"ph": {"value": 7.25},
		"temperature": {"error": "rtd open"},
		"ec": {"value": 1413},
		"orp": {"value": 412.5}
	}`, string(c.sent[0].payload))

	c.err = errors.New("not connected")
	assert.EqualError(t, m.Publish(r), "not connected")

	require.NoError(t, m.Close())
	assert.True(t, c.disconnected)
}

func TestPublishRaw(t *testing.T) {
	c := &fakeClient{}
	m := newMQTT(c, WithDefaults(config.MQTTConfig{}))
	require.NoError(t, m.PublishRaw("homeassistant/sensor/pool_ph/config", []byte{}, true))
	require.Len(t, c.sent, 1)
	assert.True(t, c.sent[0].retained)

	var none MQTTOutput
	assert.EqualError(t, none.PublishRaw("x", nil, false), "mqtt client not connected")
}
