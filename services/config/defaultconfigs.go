package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgPico = `{
  "serial": {
      "rx_port": "uart1",
      "rx_protocol": "sumh"
  },
  "rc": {
      "rate_hz": 50,
      "failsafe_ms": 500,
      "min": -500,
      "max": 500
  },
  "bridge": {
      "transport": {"type": "uart", "uart": {"port": "uart0", "baud": 115200}}
  },
  "heartbeat": {
      "interval": 2
  }
}`

const cfgHost = `{
  "serial": {
      "rx_port": "uart1",
      "rx_protocol": "sumh"
  },
  "rc": {
      "rate_hz": 50,
      "failsafe_ms": 500
  },
  "heartbeat": {
      "interval": 5
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico": []byte(cfgPico),
	"host": []byte(cfgHost),
}
