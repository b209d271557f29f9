// drivers/serial/uartxhw/uartxhw.go
//go:build rp2040 || rp2350

// Package uartxhw puts a serial.Peripheral face on a uartx PL011. The uartx
// interrupt handler owns the data register and its FIFO rings; the pumps
// here replay its RX and TX readiness into the serial port's handlers.
package uartxhw

import (
	"context"
	"machine"
	"sync/atomic"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"flightcode-go/drivers/serial"
	"flightcode-go/errcode"
)

type UART struct {
	u      *uartx.UART
	tx, rx machine.Pin

	h          atomic.Pointer[handlerBox]
	enabled    atomic.Bool
	rxIE, txIE atomic.Bool
	configured bool
	kick       chan struct{}
}

type handlerBox struct{ h serial.Handler }

// New binds a uartx instance and its pins. Call Start once the port is
// registered.
func New(u *uartx.UART, tx, rx machine.Pin) *UART {
	return &UART{u: u, tx: tx, rx: rx, kick: make(chan struct{}, 1)}
}

func (p *UART) Attach(h serial.Handler) { p.h.Store(&handlerBox{h}) }

func (p *UART) Disable() { p.enabled.Store(false) }
func (p *UART) Enable()  { p.enabled.Store(true) }

// Apply configures the PL011. Inversion and single-wire need pad and GPIO
// overrides uartx does not expose.
func (p *UART) Apply(lc serial.LineConfig) error {
	if lc.Inverted || lc.HalfDuplex {
		return &errcode.E{C: errcode.Unsupported, Op: "uartx.apply", Msg: "inverted/half-duplex"}
	}
	if !p.configured {
		if err := p.u.Configure(uartx.UARTConfig{BaudRate: lc.Baud, TX: p.tx, RX: p.rx}); err != nil {
			return errcode.Wrap("uartx.apply", err)
		}
		p.configured = true
	} else {
		p.u.SetBaudRate(lc.Baud)
	}
	par := uartx.ParityNone
	switch lc.Parity {
	case serial.ParityEven:
		par = uartx.ParityEven
	case serial.ParityOdd:
		par = uartx.ParityOdd
	}
	return p.u.SetFormat(lc.DataBits, lc.StopBits, par)
}

func (p *UART) SetRxInterrupt(on bool) { p.rxIE.Store(on) }

func (p *UART) SetTxInterrupt(on bool) {
	p.txIE.Store(on)
	if on {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

// SendByte queues into the uartx TX ring; its ISR moves it to the FIFO.
func (p *UART) SendByte(b byte) {
	if err := p.u.WriteByte(b); err != nil {
		println("[uartxhw] write:", err.Error())
	}
}

// Start launches the RX and TX pumps. They exit with ctx.
func (p *UART) Start(ctx context.Context) {
	go p.rxPump(ctx)
	go p.txPump(ctx)
}

func (p *UART) rxPump(ctx context.Context) {
	var buf [32]byte
	for {
		n, err := p.u.RecvSomeContext(ctx, buf[:])
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		hb := p.h.Load()
		if hb == nil || !p.enabled.Load() || !p.rxIE.Load() {
			continue // receiver off: bytes are lost, as on the bare PL011
		}
		for _, b := range buf[:n] {
			hb.h.HandleRx(b)
		}
	}
}

func (p *UART) txPump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		}
		hb := p.h.Load()
		if hb == nil {
			continue
		}
		for p.enabled.Load() && p.txIE.Load() {
			hb.h.HandleTxReady()
		}
	}
}
