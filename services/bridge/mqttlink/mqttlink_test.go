package mqttlink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"flightcode-go/bus"
	"flightcode-go/errcode"
	"flightcode-go/services/bridge"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeClient implements the parts of paho.Client the bridge uses.
type fakeClient struct {
	paho.Client
	opts       *paho.ClientOptions
	connectErr error

	mu      sync.Mutex
	pubs    []published
	handler paho.MessageHandler
	subTo   string
	discon  bool
}

func (c *fakeClient) Connect() paho.Token { return doneToken{c.connectErr} }
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.discon = true
	c.mu.Unlock()
}
func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{topic, retained, payload.([]byte)})
	return doneToken{}
}
func (c *fakeClient) Subscribe(topic string, _ byte, h paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subTo, c.handler = topic, h
	return doneToken{}
}

func (c *fakeClient) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.pubs...)
}

type fakeMsg struct {
	paho.Message
	topic   string
	payload []byte
}

func (m fakeMsg) Topic() string   { return m.topic }
func (m fakeMsg) Payload() []byte { return m.payload }

func withFakeMQTT(t *testing.T, connectErr error) chan *fakeClient {
	t.Helper()
	clients := make(chan *fakeClient, 4)
	prev := NewMQTTClient
	NewMQTTClient = func(o *paho.ClientOptions) paho.Client {
		c := &fakeClient{opts: o, connectErr: connectErr}
		select {
		case clients <- c:
		default:
		}
		return c
	}
	t.Cleanup(func() { NewMQTTClient = prev })
	return clients
}

func TestMQTT_OptionsFromConfig(t *testing.T) {
	clients := withFakeMQTT(t, nil)
	tr, err := bridge.NewTransport(bridge.TransportConfig{Type: "mqtt", MQTT: &bridge.MQTTConfig{
		Broker: "tcp://broker:1883", TopicPrefix: "fc1/", ClientID: "fc-test",
	}})
	require.NoError(t, err)

	link, err := tr.Open(context.Background())
	require.NoError(t, err)
	defer link.Close()

	c := <-clients
	require.Equal(t, "fc-test", c.opts.ClientID)
	require.Len(t, c.opts.Servers, 1)
	require.Equal(t, "broker:1883", c.opts.Servers[0].Host)
	require.Equal(t, "fc1/bridge/state", c.opts.WillTopic)
	require.Equal(t, "fc1/config/+", c.subTo)
}

func TestMQTT_RequiresBroker(t *testing.T) {
	_, err := bridge.NewTransport(bridge.TransportConfig{Type: "mqtt", MQTT: &bridge.MQTTConfig{}})
	require.Equal(t, errcode.InvalidParams, errcode.Of(err))
}

func TestMQTT_DefaultClientIDIsStable(t *testing.T) {
	a, b := DefaultClientID(), DefaultClientID()
	require.Equal(t, a, b)
	require.Contains(t, a, machineIDApp)
}

func TestBridge_MQTTForwardsAndRecovers(t *testing.T) {
	clients := withFakeMQTT(t, nil)

	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_mqtt")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(stateSub)
	go bridge.Start(ctx, conn)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		`{"transport":{"type":"mqtt","mqtt":{"broker":"tcp://localhost:1883","topic_prefix":"fc1"}}}`, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")
	c := <-clients

	conn.Publish(conn.NewMessage(bus.T("rc", "channels"), map[string]any{"seq": 7}, false))
	require.Eventually(t, func() bool {
		for _, p := range c.published() {
			if p.topic == "fc1/rc/channels" && string(p.payload) == `{"seq":7}` {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Downlink config.
	cfgSub := conn.Subscribe(bus.T("config", "heartbeat"))
	defer conn.Unsubscribe(cfgSub)
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, fakeMsg{topic: "fc1/config/heartbeat", payload: []byte(`{"interval":5}`)})
	select {
	case m := <-cfgSub.Channel():
		require.Equal(t, []byte(`{"interval":5}`), m.Payload)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for downlink config")
	}

	// Broker drop.
	c.opts.OnConnectionLost(c, errors.New("EOF"))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "degraded", "link_lost_retrying")
	select {
	case <-clients:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt")
	}
}

func TestBridge_MQTTConnectFailureBacksOff(t *testing.T) {
	withFakeMQTT(t, errors.New("connection refused"))

	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_mqtt_fail")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(stateSub)
	go bridge.Start(ctx, conn)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		`{"transport":{"type":"mqtt","mqtt":{"broker":"tcp://localhost:1883"}}}`, false))
	st := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, st, "degraded", "dial_failed_retrying")
	require.Contains(t, st["error"], "connection refused")
}

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		require.True(t, ok, "state payload type %T", m.Payload)
		return p
	case <-time.After(d):
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	require.Equal(t, wantLevel, payload["level"], "payload=%v", payload)
	require.Equal(t, wantStatus, payload["status"], "payload=%v", payload)
}
