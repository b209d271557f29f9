// drivers/serial/hostport/hostport.go

// Package hostport backs a serial.Peripheral with an OS serial device, so
// the firmware stack can run on a workstation against a real receiver.
package hostport

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	tserial "github.com/tarm/serial"

	"flightcode-go/drivers/serial"
	"flightcode-go/errcode"
)

// Opener opens the device with the given settings.
type Opener func(c *tserial.Config) (io.ReadWriteCloser, error)

// OpenDevice is the default Opener.
func OpenDevice(c *tserial.Config) (io.ReadWriteCloser, error) {
	p, err := tserial.OpenPort(c)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Port struct {
	dev  string
	open Opener

	mu   sync.Mutex
	rwc  io.ReadWriteCloser
	line serial.LineConfig
	h    serial.Handler

	enabled    atomic.Bool
	rxIE, txIE atomic.Bool
	kick       chan struct{}
}

// New creates a peripheral for device dev. A nil opener uses OpenDevice.
func New(dev string, open Opener) *Port {
	if open == nil {
		open = OpenDevice
	}
	return &Port{dev: dev, open: open, kick: make(chan struct{}, 1)}
}

// Config maps a line configuration to tarm settings.
func Config(dev string, lc serial.LineConfig) *tserial.Config {
	c := &tserial.Config{
		Name:        dev,
		Baud:        int(lc.Baud),
		Size:        lc.DataBits,
		ReadTimeout: 100 * time.Millisecond,
		Parity:      tserial.ParityNone,
		StopBits:    tserial.Stop1,
	}
	switch lc.Parity {
	case serial.ParityEven:
		c.Parity = tserial.ParityEven
	case serial.ParityOdd:
		c.Parity = tserial.ParityOdd
	}
	if lc.StopBits == 2 {
		c.StopBits = tserial.Stop2
	}
	return c
}

func (p *Port) Attach(h serial.Handler) {
	p.mu.Lock()
	p.h = h
	p.mu.Unlock()
}

func (p *Port) Disable() { p.enabled.Store(false) }
func (p *Port) Enable()  { p.enabled.Store(true) }

// Apply reopens the device with the new line settings.
func (p *Port) Apply(lc serial.LineConfig) error {
	if lc.Inverted || lc.HalfDuplex {
		return &errcode.E{C: errcode.Unsupported, Op: "hostport.apply", Msg: p.dev}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rwc != nil && p.line == lc {
		return nil
	}
	if p.rwc != nil {
		_ = p.rwc.Close()
		p.rwc = nil
	}
	rwc, err := p.open(Config(p.dev, lc))
	if err != nil {
		return errcode.Wrap("hostport.apply", err)
	}
	p.rwc = rwc
	p.line = lc
	glog.V(1).Infof("hostport: %s %d %d%c%d", p.dev, lc.Baud, lc.DataBits, parityChar(lc.Parity), lc.StopBits)
	go p.reader(rwc)
	return nil
}

// Close releases the device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rwc == nil {
		return nil
	}
	err := p.rwc.Close()
	p.rwc = nil
	return err
}

func (p *Port) SetRxInterrupt(on bool) { p.rxIE.Store(on) }

func (p *Port) SetTxInterrupt(on bool) {
	p.txIE.Store(on)
	if on {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

func (p *Port) SendByte(b byte) {
	p.mu.Lock()
	rwc := p.rwc
	p.mu.Unlock()
	if rwc == nil {
		return
	}
	if _, err := rwc.Write([]byte{b}); err != nil {
		glog.Warningf("hostport: %s write: %v", p.dev, err)
	}
}

// Start launches the TX pump. It exits with ctx.
func (p *Port) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.kick:
			}
			p.mu.Lock()
			h := p.h
			p.mu.Unlock()
			for h != nil && p.enabled.Load() && p.txIE.Load() {
				h.HandleTxReady()
			}
		}
	}()
}

// reader runs for the lifetime of one opened handle.
func (p *Port) reader(rwc io.ReadWriteCloser) {
	buf := make([]byte, 64)
	for {
		n, err := rwc.Read(buf)
		if n > 0 && p.enabled.Load() && p.rxIE.Load() {
			p.mu.Lock()
			h := p.h
			p.mu.Unlock()
			if h != nil {
				for _, b := range buf[:n] {
					h.HandleRx(b)
				}
			}
		}
		if err != nil && err != io.EOF {
			glog.V(2).Infof("hostport: %s reader exit: %v", p.dev, err)
			return
		}
		if err == io.EOF {
			p.mu.Lock()
			cur := p.rwc
			p.mu.Unlock()
			if cur != rwc {
				return
			}
		}
	}
}

func parityChar(pa serial.Parity) byte {
	switch pa {
	case serial.ParityEven:
		return 'E'
	case serial.ParityOdd:
		return 'O'
	}
	return 'N'
}
