// drivers/serial/simhw/simhw.go

// Package simhw is a host-side model of a UART peripheral and its DMA
// channels. Tests and the simulator drive the interrupt paths explicitly:
// Inject raises RX-ready, Pump services TX-ready.
package simhw

import (
	"sync"
	"sync/atomic"

	"flightcode-go/drivers/serial"
)

// UART models one peripheral.
type UART struct {
	mu      sync.Mutex
	h       serial.Handler
	enabled bool
	line    serial.LineConfig
	rxIE    bool
	txIE    bool
	wire    []byte
	applies int
	peer    *UART
	rxDMA   *RxDMA

	// ApplyErr, when set, is returned by the next Apply.
	ApplyErr error
}

func NewUART() *UART { return &UART{} }

// Link cross-wires two simulated UARTs: bytes sent by one are received by
// the other.
func Link(a, b *UART) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (u *UART) Attach(h serial.Handler) {
	u.mu.Lock()
	u.h = h
	u.mu.Unlock()
}

func (u *UART) Disable() {
	u.mu.Lock()
	u.enabled = false
	u.mu.Unlock()
}

func (u *UART) Enable() {
	u.mu.Lock()
	u.enabled = true
	u.mu.Unlock()
}

func (u *UART) Apply(lc serial.LineConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.enabled {
		panic("simhw: line changed while enabled")
	}
	if err := u.ApplyErr; err != nil {
		u.ApplyErr = nil
		return err
	}
	u.line = lc
	u.applies++
	return nil
}

func (u *UART) SetRxInterrupt(on bool) {
	u.mu.Lock()
	u.rxIE = on
	u.mu.Unlock()
}

func (u *UART) SetTxInterrupt(on bool) {
	u.mu.Lock()
	u.txIE = on
	u.mu.Unlock()
}

// SendByte is the data register write.
func (u *UART) SendByte(b byte) {
	u.mu.Lock()
	u.wire = append(u.wire, b)
	peer := u.peer
	u.mu.Unlock()
	if peer != nil {
		peer.Inject(b)
	}
}

// -----------------------------------------------------------------------------
// Test/simulator controls
// -----------------------------------------------------------------------------

// Inject delivers bytes as if they arrived on the RX pin and returns how
// many the peripheral accepted. Bytes are lost while the receiver is off.
func (u *UART) Inject(p ...byte) int {
	n := 0
	for _, b := range p {
		u.mu.Lock()
		ok := u.enabled && u.line.RX
		dma := u.rxDMA
		h := u.h
		irq := u.rxIE
		u.mu.Unlock()
		if !ok {
			continue
		}
		switch {
		case dma != nil && dma.running.Load():
			dma.write(b)
		case irq && h != nil:
			h.HandleRx(b)
		default:
			continue
		}
		n++
	}
	return n
}

// Pump services the TX-ready interrupt until the port masks it, and
// returns the number of interrupts taken.
func (u *UART) Pump() int {
	n := 0
	for {
		u.mu.Lock()
		fire := u.enabled && u.line.TX && u.txIE && u.h != nil
		h := u.h
		u.mu.Unlock()
		if !fire {
			return n
		}
		h.HandleTxReady()
		n++
	}
}

// Sent returns and clears the bytes written to the transmitter.
func (u *UART) Sent() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.wire
	u.wire = nil
	return out
}

func (u *UART) Line() serial.LineConfig {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.line
}

func (u *UART) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

func (u *UART) TxInterrupt() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.txIE
}

func (u *UART) RxInterrupt() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rxIE
}

// Applies counts successful line reconfigurations.
func (u *UART) Applies() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.applies
}

// -----------------------------------------------------------------------------
// DMA
// -----------------------------------------------------------------------------

// RxDMA models a circular peripheral-to-memory channel with a down-counting
// transfer count register.
type RxDMA struct {
	mu        sync.Mutex
	buf       []byte
	remaining atomic.Int32
	running   atomic.Bool
}

// NewRxDMA creates the channel and wires it to u's receive request line.
func NewRxDMA(u *UART) *RxDMA {
	d := &RxDMA{}
	u.mu.Lock()
	u.rxDMA = d
	u.mu.Unlock()
	return d
}

func (d *RxDMA) StartCircular(buf []byte) {
	d.mu.Lock()
	d.buf = buf
	d.mu.Unlock()
	d.remaining.Store(int32(len(buf)))
	d.running.Store(true)
}

func (d *RxDMA) Remaining() int { return int(d.remaining.Load()) }

func (d *RxDMA) Stop() { d.running.Store(false) }

func (d *RxDMA) write(b byte) {
	d.mu.Lock()
	n := int32(len(d.buf))
	rem := d.remaining.Load()
	d.buf[n-rem] = b
	d.mu.Unlock()
	if rem--; rem == 0 {
		rem = n
	}
	d.remaining.Store(rem)
}

// TxDMA models a one-shot memory-to-peripheral channel. Transfers finish
// when Complete is called, or immediately with Auto set.
type TxDMA struct {
	mu      sync.Mutex
	u       *UART
	pending []byte
	busy    bool
	done    func()
	starts  int

	Auto bool
}

func NewTxDMA(u *UART) *TxDMA { return &TxDMA{u: u} }

func (d *TxDMA) OnComplete(fn func()) {
	d.mu.Lock()
	d.done = fn
	d.mu.Unlock()
}

func (d *TxDMA) Start(p []byte) {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		panic("simhw: tx dma started while busy")
	}
	d.pending = append(d.pending[:0], p...)
	d.busy = true
	d.starts++
	auto := d.Auto
	d.mu.Unlock()
	if auto {
		d.Complete()
	}
}

func (d *TxDMA) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func (d *TxDMA) Stop() {
	d.mu.Lock()
	d.busy = false
	d.pending = d.pending[:0]
	d.mu.Unlock()
}

// Starts counts transfers started so far.
func (d *TxDMA) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

// Complete finishes the running transfer: the bytes go out on the wire and
// the transfer-complete interrupt fires. It reports whether a transfer was
// running.
func (d *TxDMA) Complete() bool {
	d.mu.Lock()
	if !d.busy {
		d.mu.Unlock()
		return false
	}
	out := append([]byte(nil), d.pending...)
	d.busy = false
	done := d.done
	d.mu.Unlock()

	for _, b := range out {
		d.u.SendByte(b)
	}
	if done != nil {
		done()
	}
	return true
}
