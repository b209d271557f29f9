// Package mqttlink is the MQTT uplink transport for the bridge service.
// Importing it registers the "mqtt" transport type.
package mqttlink

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"

	"flightcode-go/errcode"
	"flightcode-go/services/bridge"
)

func init() { bridge.RegisterTransport("mqtt", newMQTTTransport) }

const (
	mqttConnectTimeout = 5 * time.Second
	mqttQuiesceMs      = 250
	machineIDApp       = "flightcode"
)

// NewMQTTClient builds the paho client. Tests replace it.
var NewMQTTClient = paho.NewClient

type mqttTransport struct {
	cfg bridge.MQTTConfig
}

func newMQTTTransport(cfg bridge.TransportConfig) (bridge.Transport, error) {
	if cfg.MQTT == nil || cfg.MQTT.Broker == "" {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "bridge", Msg: "mqtt transport requires a broker"}
	}
	return &mqttTransport{cfg: *cfg.MQTT}, nil
}

func (t *mqttTransport) String() string { return "mqtt" }

// DefaultClientID derives a stable client id from the host machine id.
func DefaultClientID() string {
	id, err := machineid.ProtectedID(machineIDApp)
	if err != nil || len(id) < 12 {
		return machineIDApp
	}
	return machineIDApp + "-" + id[:12]
}

func (t *mqttTransport) options(l *mqttLink) *paho.ClientOptions {
	id := t.cfg.ClientID
	if id == "" {
		id = DefaultClientID()
	}
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(id).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(mqttConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) { l.fail(err) })
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username).SetPassword(t.cfg.Password)
	}
	// Last will marks the link down on ungraceful loss.
	opts.SetWill(l.topic("bridge/state"), `{"level":"degraded","status":"link_lost"}`, 0, true)
	return opts
}

func (t *mqttTransport) Open(ctx context.Context) (bridge.Link, error) {
	l := &mqttLink{
		prefix: strings.TrimSuffix(t.cfg.TopicPrefix, "/"),
		qos:    t.cfg.QoS,
		in:     make(chan bridge.Inbound, 8),
		done:   make(chan struct{}),
	}
	c := NewMQTTClient(t.options(l))
	if err := wait(ctx, c.Connect()); err != nil {
		return nil, errcode.Wrap("bridge.mqtt.connect", err)
	}
	l.c = c
	if err := wait(ctx, c.Subscribe(l.topic("config/+"), l.qos, l.onMessage)); err != nil {
		c.Disconnect(mqttQuiesceMs)
		return nil, errcode.Wrap("bridge.mqtt.subscribe", err)
	}
	return l, nil
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttConnectTimeout):
		return errcode.Timeout
	}
}

type mqttLink struct {
	c      paho.Client
	prefix string
	qos    byte
	in     chan bridge.Inbound
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (l *mqttLink) topic(t string) string {
	if l.prefix == "" {
		return t
	}
	return l.prefix + "/" + t
}

func (l *mqttLink) onMessage(_ paho.Client, m paho.Message) {
	t := strings.TrimPrefix(m.Topic(), l.prefix+"/")
	select {
	case l.in <- bridge.Inbound{Topic: t, Payload: m.Payload()}:
	case <-l.done:
	}
}

func (l *mqttLink) Send(topic string, payload []byte, retained bool) error {
	tok := l.c.Publish(l.topic(topic), l.qos, retained, payload)
	if l.qos == 0 {
		return nil
	}
	if !tok.WaitTimeout(mqttConnectTimeout) {
		return errcode.Timeout
	}
	return tok.Error()
}

func (l *mqttLink) Recv() <-chan bridge.Inbound { return l.in }
func (l *mqttLink) Done() <-chan struct{}       { return l.done }

func (l *mqttLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *mqttLink) Close() error {
	l.fail(nil)
	return nil
}

func (l *mqttLink) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		if l.c != nil && err == nil {
			l.c.Disconnect(mqttQuiesceMs)
		}
		close(l.done)
	})
}
