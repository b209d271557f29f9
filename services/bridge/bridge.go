// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flightcode-go/bus"
	"flightcode-go/services/config"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`
	// Forward lists local topic filters sent uplink. Empty selects the
	// receiver topics.
	Forward []string `json:"forward,omitempty"`
}

type TransportConfig struct {
	// "uart", "mqtt", or other names registered via RegisterTransport.
	Type string      `json:"type"`
	UART *UARTConfig `json:"uart,omitempty"`
	MQTT *MQTTConfig `json:"mqtt,omitempty"`
}

// UARTConfig names a board serial port carrying the framed link.
type UARTConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

type MQTTConfig struct {
	Broker      string `json:"broker"` // e.g. tcp://localhost:1883
	TopicPrefix string `json:"topic_prefix,omitempty"`
	ClientID    string `json:"client_id,omitempty"` // empty derives one from the machine id
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	QoS         byte   `json:"qos,omitempty"`
}

var defaultForward = []string{"rc/channels", "rc/status"}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := NewTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.publishState("up", "link_established", nil)
		if err := s.handleLink(ctx, link, cfg.Forward); err != nil {
			_ = link.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		// Clean close: restart only on new config.
		return
	}
}

// handleLink forwards local topics uplink and remote config downlink until
// the link drops or ctx ends.
func (s *Service) handleLink(ctx context.Context, link Link, forward []string) error {
	if len(forward) == 0 {
		forward = defaultForward
	}
	fwd := make(chan *bus.Message, 16)
	subs := make([]*bus.Subscription, 0, len(forward))
	for _, f := range forward {
		sub := s.conn.Subscribe(parseTopic(f))
		subs = append(subs, sub)
		go pipe(ctx, sub, fwd)
	}
	defer func() {
		for _, sub := range subs {
			s.conn.Unsubscribe(sub)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = link.Close()
			return nil
		case <-link.Done():
			if err := link.Err(); err != nil {
				return err
			}
			return fmt.Errorf("link closed")
		case m := <-fwd:
			body, err := json.Marshal(m.Payload)
			if err != nil {
				continue
			}
			if err := link.Send(topicString(m.Topic), body, m.Retained); err != nil {
				return err
			}
		case in := <-link.Recv():
			// Only configuration is accepted from the remote side.
			t := parseTopic(in.Topic)
			if len(t) != 2 || t[0] != "config" {
				continue
			}
			s.conn.Publish(s.conn.NewMessage(t, append([]byte(nil), in.Payload...), true))
		}
	}
}

func pipe(ctx context.Context, sub *bus.Subscription, out chan<- *bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func parseTopic(s string) bus.Topic {
	parts := strings.Split(s, "/")
	t := make(bus.Topic, len(parts))
	for i, p := range parts {
		t[i] = p
	}
	return t
}

func topicString(t bus.Topic) string {
	parts := make([]string, len(t))
	for i, tok := range t {
		parts[i] = fmt.Sprint(tok)
	}
	return strings.Join(parts, "/")
}

func decodeConfig(p any) (Config, error) {
	var cfg Config
	err := config.Decode(p, &cfg)
	return cfg, err
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
