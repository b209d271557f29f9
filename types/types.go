package types

// ---- Common service state (retained) ----

type ServiceState struct {
	Level  string `json:"level"`  // e.g. "idle", "up", "degraded", "error"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
	Error  string `json:"error,omitempty"`
}

// Link is the link state reported for a receiver or uplink.
type Link string

const (
	LinkUp       Link = "up"
	LinkLost     Link = "lost"
	LinkDegraded Link = "degraded"
)

// Generic replies
type OKReply struct {
	OK bool `json:"ok"`
}
type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
