package types

// Configuration sections supplied on topic "config/<section>".

type HeartbeatConfig struct {
	Interval float64 `json:"interval"` // seconds
}

type RCConfig struct {
	RateHz     uint32 `json:"rate_hz,omitempty"`
	FailsafeMs uint32 `json:"failsafe_ms,omitempty"`
	Min        int32  `json:"min,omitempty"`
	Max        int32  `json:"max,omitempty"`
}

// SerialConfig assigns board ports to functions.
type SerialConfig struct {
	RXPort     string `json:"rx_port"`
	RXProtocol string `json:"rx_protocol"`
}
