// rx/decoder.go
package rx

import (
	"sync/atomic"

	"flightcode-go/drivers/serial"
	"flightcode-go/x/timex"
)

// FrameStatus is the poll result of a receiver.
type FrameStatus uint8

const (
	FramePending FrameStatus = iota
	FrameComplete
)

func (s FrameStatus) String() string {
	if s == FrameComplete {
		return "complete"
	}
	return "pending"
}

// Clock supplies a free-running microsecond counter.
type Clock interface {
	Micros() uint32
}

type systemClock struct{}

func (systemClock) Micros() uint32 { return timex.Micros() }

// SystemClock is the default clock.
var SystemClock Clock = systemClock{}

// MaxFrame bounds Format.Size.
const MaxFrame = 64

// MaxChannels bounds Format.Channels.
const MaxChannels = 16

// Format describes a fixed-size, gap-delimited frame protocol. Frames start
// after an inter-byte silence longer than Gap and are structurally checked
// only when polled.
type Format struct {
	Name string
	Baud uint32
	Mode serial.Mode

	Size int    // bytes per frame (upper bound when Length is set)
	Gap  uint32 // µs of silence that starts a new frame

	Marker      byte
	MarkerIndex int
	ZeroIndex   int // index that must read 0; -1 disables

	Channels     int
	FirstChannel int     // index of the first big-endian channel word
	Scale        float64 // raw / Scale - Offset
	Offset       float64

	// Length, when set, returns the full frame length once enough header
	// bytes (frame[:n]) are in, or 0 if still unknown.
	Length func(frame []byte, n int) int
	// Validate adds protocol checks on top of marker and zero byte.
	Validate func(frame []byte) bool
	// Decode overrides the default channel conversion.
	Decode func(frame []byte, ch int) int32
}

// DecodeChannel applies the default big-endian word conversion. The result
// is truncated toward zero.
func (f *Format) DecodeChannel(frame []byte, ch int) int32 {
	i := f.FirstChannel + 2*ch
	raw := uint32(frame[i])<<8 | uint32(frame[i+1])
	return int32(float64(raw)/f.Scale - f.Offset)
}

// Stats are decoder counters.
type Stats struct {
	Bytes    uint32 // bytes seen by HandleByte
	Frames   uint32 // frames accepted
	Rejected uint32 // complete frames that failed validation
	Resyncs  uint32 // gaps that cut a partial frame
	Dropped  uint32 // bytes ignored after a full frame
	Overruns uint32 // frames finished before the previous one was polled
}

// Frame is a copy of the published channels taken between two frame
// publications, never across one.
type Frame struct {
	Seq      uint32
	Channels []int32
}

// Decoder accumulates bytes from the serial RX callback and publishes
// channel values on a successful poll.
//
// HandleByte runs in interrupt context and owns work/pos/last. A finished
// frame is copied into ready only while done is clear; FrameStatus reads
// ready only while done is set, then clears it.
type Decoder struct {
	f   Format
	clk Clock

	work [MaxFrame]byte
	pos  int
	n    int // expected length of the current frame
	full bool
	last uint32

	ready    [MaxFrame]byte
	readyLen int
	done     atomic.Bool

	channels [MaxChannels]atomic.Int32
	seq      atomic.Uint32 // odd while channels are being stored

	// OnFrame runs in interrupt context when a frame finishes. It must not
	// block; typically it triggers a deferred callback.
	OnFrame func()

	nBytes, nFrames, nRejected atomic.Uint32
	nResyncs, nDropped         atomic.Uint32
	nOverruns                  atomic.Uint32
}

// NewDecoder panics on formats that cannot fit the fixed buffers.
func NewDecoder(f Format, clk Clock) *Decoder {
	if f.Size <= 0 || f.Size > MaxFrame {
		panic("rx: bad frame size")
	}
	if f.Channels < 0 || f.Channels > MaxChannels {
		panic("rx: bad channel count")
	}
	if f.Scale == 0 {
		f.Scale = 1
	}
	if clk == nil {
		clk = SystemClock
	}
	return &Decoder{f: f, clk: clk, n: f.Size}
}

func (d *Decoder) Format() Format { return d.f }

// HandleByte is the serial RX callback.
func (d *Decoder) HandleByte(c byte) {
	d.nBytes.Add(1)
	now := d.clk.Micros()
	interval := now - d.last
	d.last = now

	if interval > d.f.Gap {
		if d.pos != 0 && !d.full {
			d.nResyncs.Add(1)
		}
		d.pos = 0
		d.n = d.f.Size
		d.full = false
	}
	if d.full {
		d.nDropped.Add(1)
		return
	}

	d.work[d.pos] = c
	if d.f.Length != nil {
		if n := d.f.Length(d.work[:d.pos+1], d.pos+1); n > 0 && n <= d.f.Size {
			d.n = n
		}
	}
	if d.pos < d.n-1 {
		d.pos++
		return
	}

	d.full = true
	if d.done.Load() {
		d.nOverruns.Add(1)
		return
	}
	copy(d.ready[:], d.work[:d.n])
	d.readyLen = d.n
	d.done.Store(true)
	if d.OnFrame != nil {
		d.OnFrame()
	}
}

// FrameStatus validates a finished frame and publishes its channels. A
// frame failing validation is discarded and reported as pending; the done
// flag is cleared either way.
func (d *Decoder) FrameStatus() FrameStatus {
	if !d.done.Load() {
		return FramePending
	}
	frame := d.ready[:d.readyLen]
	ok := d.valid(frame)
	if ok {
		d.seq.Add(1)
		for ch := 0; ch < d.f.Channels; ch++ {
			d.channels[ch].Store(d.decode(frame, ch))
		}
		d.seq.Add(1)
		d.nFrames.Add(1)
	} else {
		d.nRejected.Add(1)
	}
	d.done.Store(false)
	if !ok {
		return FramePending
	}
	return FrameComplete
}

func (d *Decoder) valid(frame []byte) bool {
	f := &d.f
	if f.MarkerIndex >= len(frame) || frame[f.MarkerIndex] != f.Marker {
		return false
	}
	if f.ZeroIndex >= 0 && (f.ZeroIndex >= len(frame) || frame[f.ZeroIndex] != 0) {
		return false
	}
	if f.Validate != nil && !f.Validate(frame) {
		return false
	}
	return true
}

func (d *Decoder) decode(frame []byte, ch int) int32 {
	if d.f.Decode != nil {
		return d.f.Decode(frame, ch)
	}
	return d.f.DecodeChannel(frame, ch)
}

// ReadRawRC returns the last published value of ch, or 0 for channels the
// protocol does not carry.
func (d *Decoder) ReadRawRC(ch int) int32 {
	if ch < 0 || ch >= d.f.Channels {
		return 0
	}
	return d.channels[ch].Load()
}

// Snapshot copies the published channels with the number of frames
// accepted so far. It retries while a publication is in progress.
func (d *Decoder) Snapshot() Frame {
	fr := Frame{Channels: make([]int32, d.f.Channels)}
	for {
		seq := d.seq.Load()
		if seq&1 != 0 {
			continue
		}
		for i := range fr.Channels {
			fr.Channels[i] = d.channels[i].Load()
		}
		if d.seq.Load() == seq {
			fr.Seq = seq / 2
			return fr
		}
	}
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Bytes:    d.nBytes.Load(),
		Frames:   d.nFrames.Load(),
		Rejected: d.nRejected.Load(),
		Resyncs:  d.nResyncs.Load(),
		Dropped:  d.nDropped.Load(),
		Overruns: d.nOverruns.Load(),
	}
}
