// drivers/serial/port.go
package serial

// Port is the capability set every serial transport offers. Hot-path
// methods have no error return; callers check BytesWaiting before GetByte.
type Port interface {
	Name() string

	Configure(cfg Config)
	Release()
	UpdateState(and, or State)
	GetConfig() Config
	State() State
	Mode() Mode

	PutByte(b byte) bool
	GetByte() byte
	IsTransmitEmpty() bool
	BytesWaiting() int
}

// Handler receives the interrupt-side events of a Peripheral.
type Handler interface {
	HandleRx(b byte) // one received byte (RX-ready interrupt)
	HandleTxReady()  // transmitter can take another byte (TX-ready interrupt)
}

// Peripheral is the hardware seam under a UART port.
type Peripheral interface {
	Attach(h Handler)
	Disable()
	Apply(lc LineConfig) error
	Enable()
	SetRxInterrupt(on bool)
	SetTxInterrupt(on bool)
	SendByte(b byte)
}

// RxDMA is a peripheral-to-memory channel running in circular mode.
// Remaining mirrors the hardware transfer count: it counts down from
// len(buf) per byte and reloads on wrap.
type RxDMA interface {
	StartCircular(buf []byte)
	Remaining() int
	Stop()
}

// TxDMA is a one-shot memory-to-peripheral channel. The completion callback
// runs in the channel's interrupt context.
type TxDMA interface {
	Start(p []byte)
	Busy() bool
	OnComplete(fn func())
	Stop()
}

// Hardware describes one enabled peripheral. It is supplied by the board
// layer and consumed at Register time.
type Hardware struct {
	Name         string
	Peripheral   Peripheral
	RxDMA        RxDMA // optional
	TxDMA        TxDMA // optional
	RxBufferSize int   // power of two; 0 selects DefaultBufferSize
	TxBufferSize int
}

const DefaultBufferSize = 256

// Stats are monotonically increasing port counters.
type Stats struct {
	RxBytes    uint32
	TxBytes    uint32
	RxOverruns uint32 // RX ring full, byte dropped
	TxDrops    uint32 // TX ring full, byte dropped
}

// StatsReporter is implemented by ports that keep counters.
type StatsReporter interface {
	Stats() Stats
}
