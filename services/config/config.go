package config

import (
	"context"
	"encoding/json"
	"fmt"

	"flightcode-go/bus"
	"flightcode-go/errcode"
)

const (
	serviceName  = "config"
	configPrefix = "config"
)

type ctxKey string

// CtxDeviceKey is the context key carrying the device ID.
const CtxDeviceKey ctxKey = "device"

// WithDevice returns ctx carrying device.
func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, CtxDeviceKey, device)
}

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// Load parses the embedded config of device into its top-level sections.
func Load(device string) (map[string]any, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "config.load", Msg: "no embedded config for device " + device}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "config.load", Msg: "embedded config is not a JSON object", Err: err}
	}
	return m, nil
}

// Section decodes one section of the device config into dst. A missing
// section leaves dst untouched.
func Section(device, name string, dst any) error {
	m, err := Load(device)
	if err != nil {
		return err
	}
	v, ok := m[name]
	if !ok {
		return nil
	}
	return Decode(v, dst)
}

// Decode fills dst from a config payload as it travels on the bus: raw JSON
// bytes or string, or an already decoded object.
func Decode(p any, dst any) error {
	switch v := p.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	default:
		return &errcode.E{C: errcode.InvalidParams, Op: "config.decode", Msg: fmt.Sprintf("unsupported payload type %T", p)}
	}
}

// publishConfig reads the device config from embedded data and publishes it as retained messages.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return &errcode.E{C: errcode.InvalidParams, Op: "config.publish", Msg: "missing device ID in context"}
	}
	m, err := Load(device)
	if err != nil {
		return err
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("Error: config:", err.Error())
		}
	}()
}
