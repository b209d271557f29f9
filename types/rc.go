package types

// ------------------------
// Receiver
// ------------------------

// RCChannels is published on rc/channels for every accepted frame.
type RCChannels struct {
	Seq    uint32  `json:"seq"`
	Values []int32 `json:"values"`
	TS     int64   `json:"ts_ms"`
}

// RCStatus is published retained on rc/status on link transitions.
type RCStatus struct {
	Link     Link   `json:"link"`
	Protocol string `json:"protocol,omitempty"`
	Port     string `json:"port,omitempty"`
	TS       int64  `json:"ts_ms"`
}

// RCStats answers rc/stats requests.
type RCStats struct {
	Bytes    uint32 `json:"bytes"`
	Frames   uint32 `json:"frames"`
	Rejected uint32 `json:"rejected"`
	Resyncs  uint32 `json:"resyncs"`
	Dropped  uint32 `json:"dropped"`
	Overruns uint32 `json:"overruns"`
}
