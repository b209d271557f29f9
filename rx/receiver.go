// rx/receiver.go
package rx

import (
	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/errcode"
)

// Receiver is a decoder bound to the serial port feeding it.
type Receiver struct {
	*Decoder
	port serial.Port
	name string
}

func (r *Receiver) Port() serial.Port { return r.port }
func (r *Receiver) PortName() string  { return r.name }

// Close releases the port. The decoder keeps its last channels.
func (r *Receiver) Close() {
	if r.port != nil {
		r.port.Release()
	}
}

type options struct {
	table *serial.Table
	clk   Clock
	sched *callback.Scheduler
	rec   *callback.Record
}

type Option func(*options)

// WithTable opens the port from t instead of serial.Default.
func WithTable(t *serial.Table) Option { return func(o *options) { o.table = t } }

func WithClock(c Clock) Option { return func(o *options) { o.clk = c } }

// WithFrameTrigger triggers rec on s whenever a frame finishes. rec must
// already be registered.
func WithFrameTrigger(s *callback.Scheduler, rec *callback.Record) Option {
	return func(o *options) { o.sched, o.rec = s, rec }
}

// Init opens the named serial port for format f with the decoder as its RX
// callback. The channel layout is fixed by f, so a receiver exists even
// before its port does; Init still fails when the port cannot be opened.
func Init(port string, f Format, opts ...Option) (*Receiver, error) {
	o := options{table: serial.Default}
	for _, opt := range opts {
		opt(&o)
	}
	d := NewDecoder(f, o.clk)
	if o.sched != nil && o.rec != nil {
		s, rec := o.sched, o.rec
		d.OnFrame = func() { s.Trigger(rec) }
	}
	p, err := o.table.OpenErr(port, serial.Config{
		Mode:       f.Mode,
		BaudRate:   f.Baud,
		RxCallback: d.HandleByte,
	})
	if err != nil {
		return &Receiver{Decoder: d, name: port}, errcode.Wrap("rx.init", err)
	}
	return &Receiver{Decoder: d, port: p, name: port}, nil
}

// Lookup returns a protocol by name.
func Lookup(name string) (Format, bool) {
	switch name {
	case SUMH.Name:
		return SUMH, true
	case SUMD.Name:
		return SUMD, true
	}
	return Format{}, false
}
