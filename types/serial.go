package types

// ------------------------
// Serial
// ------------------------

// SerialStats is published on serial/<port>/stats.
type SerialStats struct {
	Port       string `json:"port"`
	Mode       uint32 `json:"mode"`
	RxBytes    uint32 `json:"rx_bytes"`
	TxBytes    uint32 `json:"tx_bytes"`
	RxOverruns uint32 `json:"rx_overruns"`
	TxDrops    uint32 `json:"tx_drops"`
}

// SchedulerStats is published on sched/stats.
type SchedulerStats struct {
	Triggers      uint32 `json:"triggers"`
	Drains        uint32 `json:"drains"`
	Serviced      uint32 `json:"serviced"`
	RegisterDrops uint32 `json:"register_drops"`
	Free          uint32 `json:"free_mask"`
}
