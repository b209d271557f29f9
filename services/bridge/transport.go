// bridge/transport.go
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"flightcode-go/drivers/serial"
	"flightcode-go/errcode"
)

// -----------------------------------------------------------------------------
// Link and transport registry
// -----------------------------------------------------------------------------

// Inbound is a message received from the remote side.
type Inbound struct {
	Topic   string
	Payload []byte
}

// Link is one established uplink session.
type Link interface {
	Send(topic string, payload []byte, retained bool) error
	Recv() <-chan Inbound
	Done() <-chan struct{} // closed when the session ends
	Err() error
	Close() error
}

// Transport is a pluggable link dialler.
type Transport interface {
	Open(ctx context.Context) (Link, error)
	String() string
}

type TransportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]TransportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f TransportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func init() {
	RegisterTransport("uart", newUARTTransport)
}

// NewTransport builds the transport registered for cfg.Type.
func NewTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownTransport, Op: "bridge", Msg: fmt.Sprintf("%q", cfg.Type)}
	}
	return f(cfg)
}

// -----------------------------------------------------------------------------
// UART transport
// -----------------------------------------------------------------------------

// UARTDial opens the byte stream for the uart transport. Tests replace it.
var UARTDial = func(ctx context.Context, u UARTConfig) (io.ReadWriteCloser, error) {
	p, err := serial.OpenErr(u.Port, serial.Config{Mode: serial.ModeRXTX, BaudRate: uint32(u.Baud)})
	if err != nil {
		return nil, err
	}
	return serial.NewStream(p), nil
}

type uartTransport struct {
	cfg UARTConfig
}

func newUARTTransport(cfg TransportConfig) (Transport, error) {
	if cfg.UART == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "bridge", Msg: "uart transport requires uart config"}
	}
	return &uartTransport{cfg: *cfg.UART}, nil
}

func (u *uartTransport) Open(ctx context.Context) (Link, error) {
	rwc, err := UARTDial(ctx, u.cfg)
	if err != nil {
		return nil, err
	}
	return newStreamLink(rwc, pingInterval), nil
}

func (u *uartTransport) String() string { return "uart" }

// -----------------------------------------------------------------------------
// Framed stream link
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameClose byte = 0x7f

	// framePub payload: flags, topic, 0x00, body.
	flagRetained byte = 0x01
)

const pingInterval = 5 * time.Second

// Frame is a length-prefixed frame: type, big-endian uint16 length, payload.
type Frame struct {
	Type    byte
	Payload []byte
}

type framedReader struct{ r io.Reader }
type framedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	buf := make([]byte, 0, 3+len(f.Payload))
	buf = append(buf, f.Type, byte(len(f.Payload)>>8), byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(buf)
	return err
}

func encodePub(topic string, payload []byte, retained bool) []byte {
	var flags byte
	if retained {
		flags |= flagRetained
	}
	out := make([]byte, 0, 2+len(topic)+len(payload))
	out = append(out, flags)
	out = append(out, topic...)
	out = append(out, 0)
	return append(out, payload...)
}

func decodePub(p []byte) (topic string, payload []byte, retained bool, err error) {
	if len(p) < 2 {
		return "", nil, false, errors.New("short pub frame")
	}
	i := bytes.IndexByte(p[1:], 0)
	if i < 0 {
		return "", nil, false, errors.New("pub frame without topic terminator")
	}
	return string(p[1 : 1+i]), p[2+i:], p[0]&flagRetained != 0, nil
}

type streamLink struct {
	rwc  io.ReadWriteCloser
	wr   *framedWriter
	in   chan Inbound
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newStreamLink(rwc io.ReadWriteCloser, ping time.Duration) *streamLink {
	l := &streamLink{
		rwc:  rwc,
		wr:   newFramedWriter(rwc),
		in:   make(chan Inbound, 8),
		done: make(chan struct{}),
	}
	go l.readLoop()
	go l.pingLoop(ping)
	return l
}

var errPeerClosed = &errcode.E{C: errcode.LinkDown, Op: "bridge.link", Msg: "peer closed"}

func (l *streamLink) Send(topic string, payload []byte, retained bool) error {
	select {
	case <-l.done:
		return &errcode.E{C: errcode.LinkDown, Op: "bridge.send", Err: l.Err()}
	default:
	}
	if err := l.wr.WriteFrame(Frame{Type: framePub, Payload: encodePub(topic, payload, retained)}); err != nil {
		l.fail(err)
		return err
	}
	return nil
}

func (l *streamLink) Recv() <-chan Inbound  { return l.in }
func (l *streamLink) Done() <-chan struct{} { return l.done }

func (l *streamLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close sends a best-effort close frame and ends the session.
func (l *streamLink) Close() error {
	select {
	case <-l.done:
		return nil
	default:
	}
	_ = l.wr.WriteFrame(Frame{Type: frameClose})
	l.fail(nil)
	return nil
}

func (l *streamLink) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		_ = l.rwc.Close()
		close(l.done)
	})
}

func (l *streamLink) readLoop() {
	rd := newFramedReader(l.rwc)
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			l.fail(err)
			return
		}
		switch f.Type {
		case framePing:
			_ = l.wr.WriteFrame(Frame{Type: framePong})
		case framePong:
		case framePub:
			topic, body, _, err := decodePub(f.Payload)
			if err != nil {
				continue
			}
			select {
			case l.in <- Inbound{Topic: topic, Payload: body}:
			case <-l.done:
				return
			}
		case frameClose:
			l.fail(errPeerClosed)
			return
		}
	}
}

func (l *streamLink) pingLoop(d time.Duration) {
	tick := time.NewTicker(d)
	defer tick.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-tick.C:
			if err := l.wr.WriteFrame(Frame{Type: framePing}); err != nil {
				l.fail(err)
				return
			}
		}
	}
}
