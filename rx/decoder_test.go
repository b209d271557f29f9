package rx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"flightcode-go/rx"
)

type fakeClock struct{ now uint32 }

func (c *fakeClock) Micros() uint32 { return c.now }

// feed delivers bytes step µs apart, starting step µs from now.
func feed(d *rx.Decoder, c *fakeClock, step uint32, p ...byte) {
	for _, b := range p {
		c.now += step
		d.HandleByte(b)
	}
}

// byteTime is roughly one byte at 115200 baud.
const byteTime = 87

func newSUMH() (*rx.Decoder, *fakeClock) {
	c := &fakeClock{now: 1_000_000}
	return rx.NewDecoder(rx.SUMH, c), c
}

func sumhFrame(words ...uint16) []byte {
	f := make([]byte, 21)
	f[0] = 0xA8
	for i, w := range words {
		f[3+2*i] = byte(w >> 8)
		f[4+2*i] = byte(w)
	}
	return f
}

// sendFrame starts with a line gap so the frame is aligned.
func sendFrame(d *rx.Decoder, c *fakeClock, frame []byte) {
	c.now += 10_000
	d.HandleByte(frame[0])
	feed(d, c, byteTime, frame[1:]...)
}

func TestSUMH_DecodesChannels(t *testing.T) {
	d, c := newSUMH()
	sendFrame(d, c, sumhFrame(2000, 3000, 0x0960, 0, 0, 0, 0, 0xFFFF))

	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(-62), d.ReadRawRC(0))
	require.Equal(t, int32(93), d.ReadRawRC(1))   // 468.75 - 375
	require.Equal(t, int32(0), d.ReadRawRC(2))    // 2400 / 6.4 = 375
	require.Equal(t, int32(-375), d.ReadRawRC(3)) // raw 0
	require.Equal(t, int32(9864), d.ReadRawRC(7)) // 65535 / 6.4 - 375
	require.Equal(t, rx.FramePending, d.FrameStatus(), "done is cleared")
}

func TestSUMH_ChannelOutOfRangeReadsZero(t *testing.T) {
	d, c := newSUMH()
	sendFrame(d, c, sumhFrame(3000, 3000, 3000, 3000, 3000, 3000, 3000, 3000))
	require.Equal(t, rx.FrameComplete, d.FrameStatus())

	require.Equal(t, int32(93), d.ReadRawRC(7))
	require.Equal(t, int32(0), d.ReadRawRC(8))
	require.Equal(t, int32(0), d.ReadRawRC(200))
	require.Equal(t, int32(0), d.ReadRawRC(-1))
}

func TestSUMH_PendingUntilFrameDone(t *testing.T) {
	d, c := newSUMH()
	f := sumhFrame(3000)
	c.now += 10_000
	d.HandleByte(f[0])
	feed(d, c, byteTime, f[1:20]...)
	require.Equal(t, rx.FramePending, d.FrameStatus())

	feed(d, c, byteTime, f[20])
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
}

func TestSUMH_RejectsBadMarkerAndKeepsChannels(t *testing.T) {
	d, c := newSUMH()
	sendFrame(d, c, sumhFrame(3000))
	require.Equal(t, rx.FrameComplete, d.FrameStatus())

	bad := sumhFrame(2000)
	bad[0] = 0xA9
	sendFrame(d, c, bad)
	require.Equal(t, rx.FramePending, d.FrameStatus())
	require.Equal(t, rx.FramePending, d.FrameStatus(), "rejected frame is consumed")
	require.Equal(t, int32(93), d.ReadRawRC(0))
	require.Equal(t, uint32(1), d.Stats().Rejected)
}

func TestSUMH_RejectsNonZeroByte19(t *testing.T) {
	d, c := newSUMH()
	bad := sumhFrame(2000)
	bad[19] = 1
	sendFrame(d, c, bad)
	require.Equal(t, rx.FramePending, d.FrameStatus())
	require.Equal(t, int32(0), d.ReadRawRC(0))

	// Byte 20 is not checked.
	ok := sumhFrame(2000)
	ok[20] = 0x5A
	sendFrame(d, c, ok)
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(-62), d.ReadRawRC(0))
}

func TestSUMH_GapResynchronises(t *testing.T) {
	d, c := newSUMH()
	// A partial frame, then silence longer than the gap.
	feed(d, c, 10_000, 0xA8)
	feed(d, c, byteTime, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	sendFrame(d, c, sumhFrame(2000))
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(-62), d.ReadRawRC(0))
	require.Equal(t, uint32(1), d.Stats().Resyncs)
}

func TestSUMH_GapIsStrictlyGreater(t *testing.T) {
	d, c := newSUMH()
	f := sumhFrame(2000)
	c.now += 10_000
	d.HandleByte(f[0])
	// 5000 µs between bytes is not a gap.
	feed(d, c, 5000, f[1:]...)
	require.Equal(t, rx.FrameComplete, d.FrameStatus())

	// 5001 µs is.
	f2 := sumhFrame(3000)
	c.now += 10_000
	d.HandleByte(f2[0])
	feed(d, c, 5001, f2[1:]...)
	require.Equal(t, rx.FramePending, d.FrameStatus())
}

func TestSUMH_TimerWrapIsNotAGap(t *testing.T) {
	c := &fakeClock{now: 0xFFFFFFFF - 5*byteTime}
	d := rx.NewDecoder(rx.SUMH, c)
	f := sumhFrame(3000)
	d.HandleByte(f[0])
	feed(d, c, byteTime, f[1:]...)
	require.Less(t, c.now, uint32(10_000), "clock wrapped mid-frame")
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(93), d.ReadRawRC(0))
}

func TestSUMH_ExtraBytesDroppedUntilGap(t *testing.T) {
	d, c := newSUMH()
	sendFrame(d, c, sumhFrame(2000))
	feed(d, c, byteTime, 0xA8, 0xA8, 0, 0, 0)

	st := d.Stats()
	require.Equal(t, uint32(5), st.Dropped)
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(-62), d.ReadRawRC(0))

	sendFrame(d, c, sumhFrame(3000))
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(93), d.ReadRawRC(0))
}

func TestSUMH_UnpolledFrameIsNotOverwritten(t *testing.T) {
	d, c := newSUMH()
	sendFrame(d, c, sumhFrame(2000))
	sendFrame(d, c, sumhFrame(3000))

	require.Equal(t, uint32(1), d.Stats().Overruns)
	require.Equal(t, rx.FrameComplete, d.FrameStatus())
	require.Equal(t, int32(-62), d.ReadRawRC(0))
}

func TestSUMH_OnFrameFiresOncePerFrame(t *testing.T) {
	d, c := newSUMH()
	n := 0
	d.OnFrame = func() { n++ }
	sendFrame(d, c, sumhFrame(2000))
	feed(d, c, byteTime, 1, 2, 3)
	require.Equal(t, 1, n)

	d.FrameStatus()
	sendFrame(d, c, sumhFrame(2000))
	require.Equal(t, 2, n)
}

func TestSnapshot_TracksSequence(t *testing.T) {
	d, c := newSUMH()
	require.Equal(t, uint32(0), d.Snapshot().Seq)

	sendFrame(d, c, sumhFrame(2000, 3000))
	d.FrameStatus()
	s := d.Snapshot()
	require.Equal(t, uint32(1), s.Seq)
	require.Len(t, s.Channels, 8)
	require.Equal(t, []int32{-62, 93}, s.Channels[:2])
	require.Equal(t, uint32(1), d.Stats().Frames)
	require.Equal(t, uint32(21), d.Stats().Bytes)
}

func TestEncodeSUMH_DecodesBack(t *testing.T) {
	d, c := newSUMH()
	for _, v := range [][]int32{
		{-62, 0, 25, 100, -100, 125, -125, 1},
		{-375, 500, 7, -7, 42, -42, 300, -300},
	} {
		sendFrame(d, c, rx.EncodeSUMH(v))
		require.Equal(t, rx.FrameComplete, d.FrameStatus())
		require.Equal(t, v, d.Snapshot().Channels)
	}
}

func TestNewDecoder_RejectsOversizedFormats(t *testing.T) {
	f := rx.SUMH
	f.Size = rx.MaxFrame + 1
	require.Panics(t, func() { rx.NewDecoder(f, nil) })

	f = rx.SUMH
	f.Channels = rx.MaxChannels + 1
	require.Panics(t, func() { rx.NewDecoder(f, nil) })
}

func TestSnapshot_NeverMixesFrames(t *testing.T) {
	d, c := newSUMH()
	done := make(chan struct{})
	go func() {
		defer close(done)
		vals := make([]int32, 8)
		for k := 0; k < 500; k++ {
			for i := range vals {
				vals[i] = int32(k%700) - 300
			}
			sendFrame(d, c, rx.EncodeSUMH(vals))
			d.FrameStatus()
		}
	}()

	for {
		s := d.Snapshot()
		for i := 1; i < len(s.Channels); i++ {
			require.Equal(t, s.Channels[0], s.Channels[i], "seq %d channel %d", s.Seq, i)
		}
		select {
		case <-done:
			require.Equal(t, uint32(500), d.Snapshot().Seq)
			return
		default:
		}
	}
}
