// drivers/serial/uart.go
package serial

import (
	"sync/atomic"

	"flightcode-go/x/shmring"
)

// UART binds a Port to one Peripheral and its optional DMA channels.
// The board layer owns the *UART; consumers only see Port.
type UART struct {
	hw Hardware
	rx *shmring.Ring
	tx *shmring.Ring

	mode  atomic.Uint32 // Mode
	state atomic.Uint32 // State
	baud  atomic.Uint32
	rxCb  atomic.Pointer[func(byte)]
	open  atomic.Bool

	// DMA bookkeeping.
	rxDMAPos   int           // consumer-owned, counts down like the hardware
	txIdle     atomic.Bool   // no TX DMA transfer in flight
	txInflight atomic.Uint32 // bytes handed to the running transfer

	rxBytes    atomic.Uint32
	txBytes    atomic.Uint32
	rxOverruns atomic.Uint32
	txDrops    atomic.Uint32
}

func newUART(hw Hardware) *UART {
	if hw.RxBufferSize == 0 {
		hw.RxBufferSize = DefaultBufferSize
	}
	if hw.TxBufferSize == 0 {
		hw.TxBufferSize = DefaultBufferSize
	}
	u := &UART{
		hw: hw,
		rx: shmring.New(hw.RxBufferSize),
		tx: shmring.New(hw.TxBufferSize),
	}
	u.txIdle.Store(true)
	hw.Peripheral.Attach(u)
	if hw.TxDMA != nil {
		hw.TxDMA.OnComplete(u.handleTxDMAComplete)
	}
	return u
}

func (u *UART) Name() string { return u.hw.Name }
func (u *UART) Mode() Mode   { return Mode(u.mode.Load()) }
func (u *UART) State() State { return State(u.state.Load()) }

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// start brings the port up for cfg. Buffers are emptied and DMA is used per
// direction only when both requested and wired.
func (u *UART) start(cfg Config) {
	p := u.hw.Peripheral
	p.Disable()
	p.SetRxInterrupt(false)
	p.SetTxInterrupt(false)

	u.rx.Reset()
	u.tx.Reset()
	u.txIdle.Store(true)
	u.txInflight.Store(0)
	u.setCallback(cfg.RxCallback)
	u.baud.Store(cfg.BaudRate)

	mode := cfg.Mode &^ modeDMA
	u.mode.Store(uint32(mode))
	u.state.Store(uint32(stateFor(mode)))
	u.applyLine()

	if mode.Has(ModeRX) {
		if cfg.Mode.Has(ModeDMARX) && u.hw.RxDMA != nil {
			u.hw.RxDMA.StartCircular(u.rx.Storage())
			u.rxDMAPos = u.hw.RxDMA.Remaining()
			mode |= ModeDMARX
		} else {
			p.SetRxInterrupt(true)
		}
	}
	if mode.Has(ModeTX) && cfg.Mode.Has(ModeDMATX) && u.hw.TxDMA != nil {
		mode |= ModeDMATX
	}
	u.mode.Store(uint32(mode))
	u.open.Store(true)
	p.Enable()
}

// applyLine stops the engine and writes the line parameters. The
// peripheral is left disabled.
func (u *UART) applyLine() {
	p := u.hw.Peripheral
	p.Disable()
	if err := p.Apply(lineFor(u.Mode(), u.State(), u.baud.Load())); err != nil {
		println("[serial]", u.hw.Name, "apply failed:", err.Error())
	}
}

// reconfigure re-applies line parameters to a running port.
func (u *UART) reconfigure() {
	u.applyLine()
	u.hw.Peripheral.Enable()
}

// UpdateState sets state = (state & and) | or and reconfigures.
func (u *UART) UpdateState(and, or State) {
	for {
		old := u.state.Load()
		next := uint32((State(old) & and) | or)
		if u.state.CompareAndSwap(old, next) {
			break
		}
	}
	u.reconfigure()
}

// Configure re-applies mode, baud and callback to an open port. A zero mode
// is a placeholder config and is ignored. DMA cannot be gained here: only
// directions that already run on DMA keep it.
func (u *UART) Configure(cfg Config) {
	if cfg.Mode == 0 {
		return
	}
	keep := u.Mode() & cfg.Mode & modeDMA
	mode := cfg.Mode&^modeDMA | keep
	u.mode.Store(uint32(mode))
	u.baud.Store(cfg.BaudRate)
	u.setCallback(cfg.RxCallback)
	u.state.Store(uint32(stateFor(mode)))
	u.reconfigure()
}

// Release applies an all-off line, leaves the peripheral disabled and
// clears the mode. DMA channels are stopped but stay bound to this port.
func (u *UART) Release() {
	p := u.hw.Peripheral
	p.Disable()
	p.SetRxInterrupt(false)
	p.SetTxInterrupt(false)
	if u.hw.RxDMA != nil {
		u.hw.RxDMA.Stop()
	}
	if u.hw.TxDMA != nil {
		u.hw.TxDMA.Stop()
	}
	u.state.Store(0)
	u.applyLine()
	u.mode.Store(0)
	u.setCallback(nil)
	u.txIdle.Store(true)
	u.open.Store(false)
}

func (u *UART) GetConfig() Config {
	cfg := Config{Mode: u.Mode(), BaudRate: u.baud.Load()}
	if cb := u.rxCb.Load(); cb != nil {
		cfg.RxCallback = *cb
	}
	return cfg
}

func (u *UART) setCallback(fn func(byte)) {
	if fn == nil {
		u.rxCb.Store(nil)
		return
	}
	u.rxCb.Store(&fn)
}

// -----------------------------------------------------------------------------
// Foreground side
// -----------------------------------------------------------------------------

// PutByte queues b for transmission. A full TX ring drops the byte and
// counts it in Stats().TxDrops rather than overwriting unsent data.
func (u *UART) PutByte(b byte) bool {
	if !u.tx.PutByte(b) {
		u.txDrops.Add(1)
		return false
	}
	if u.Mode().Has(ModeDMATX) {
		if u.txIdle.CompareAndSwap(true, false) {
			u.startTxDMA()
		}
		return true
	}
	u.hw.Peripheral.SetTxInterrupt(true)
	return true
}

// GetByte pops the oldest received byte. Calling it with nothing waiting
// returns stale data; check BytesWaiting first.
func (u *UART) GetByte() byte {
	if u.Mode().Has(ModeDMARX) {
		buf := u.rx.Storage()
		b := buf[len(buf)-u.rxDMAPos]
		if u.rxDMAPos--; u.rxDMAPos == 0 {
			u.rxDMAPos = len(buf)
		}
		return b
	}
	b, _ := u.rx.GetByte()
	return b
}

// TxFree is the room left in the TX ring.
func (u *UART) TxFree() int { return u.tx.Space() }

func (u *UART) IsTransmitEmpty() bool {
	if u.Mode().Has(ModeDMATX) {
		return u.txIdle.Load()
	}
	return u.tx.Empty()
}

func (u *UART) BytesWaiting() int {
	if u.Mode().Has(ModeDMARX) {
		return (u.rxDMAPos - u.hw.RxDMA.Remaining()) & int(u.rx.Mask())
	}
	return u.rx.Available()
}

func (u *UART) Stats() Stats {
	return Stats{
		RxBytes:    u.rxBytes.Load(),
		TxBytes:    u.txBytes.Load(),
		RxOverruns: u.rxOverruns.Load(),
		TxDrops:    u.txDrops.Load(),
	}
}

// -----------------------------------------------------------------------------
// Interrupt side
// -----------------------------------------------------------------------------

// HandleRx is the RX-ready path. A registered callback takes the byte
// directly; otherwise it goes into the RX ring.
func (u *UART) HandleRx(b byte) {
	if u.Mode().Has(ModeDMARX) {
		return
	}
	u.rxBytes.Add(1)
	if cb := u.rxCb.Load(); cb != nil {
		(*cb)(b)
		return
	}
	if !u.rx.PutByte(b) {
		u.rxOverruns.Add(1)
	}
}

// HandleTxReady is the TX-ready path: send the next queued byte or mask the
// interrupt until the next PutByte.
func (u *UART) HandleTxReady() {
	if u.Mode().Has(ModeDMATX) {
		return
	}
	p := u.hw.Peripheral
	if b, ok := u.tx.GetByte(); ok {
		p.SendByte(b)
		u.txBytes.Add(1)
		return
	}
	p.SetTxInterrupt(false)
	// A PutByte may have landed between the empty check and the mask.
	if !u.tx.Empty() {
		p.SetTxInterrupt(true)
	}
}

// startTxDMA hands the contiguous queued run to the TX channel. The caller
// has already claimed txIdle. Bytes leave the ring when the transfer
// completes, so in-flight data cannot be overwritten.
func (u *UART) startTxDMA() {
	run := u.tx.Contiguous()
	if len(run) == 0 {
		u.txIdle.Store(true)
		if !u.tx.Empty() && u.txIdle.CompareAndSwap(true, false) {
			u.startTxDMA()
		}
		return
	}
	u.txInflight.Store(uint32(len(run)))
	u.hw.TxDMA.Start(run)
}

func (u *UART) handleTxDMAComplete() {
	n := u.txInflight.Swap(0)
	u.tx.Consume(int(n))
	u.txBytes.Add(n)
	u.txIdle.Store(true)
	if !u.tx.Empty() && u.Mode().Has(ModeDMATX) && u.txIdle.CompareAndSwap(true, false) {
		u.startTxDMA()
	}
}
