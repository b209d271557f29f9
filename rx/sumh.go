// rx/sumh.go
package rx

import "flightcode-go/drivers/serial"

const (
	sumhFrameSize = 21
	sumhChannels  = 8
)

// SUMH is the Graupner SUMH legacy frame: 0xA8 marker, eight big-endian
// channel words from byte 3, byte 19 always zero.
var SUMH = Format{
	Name: "sumh",
	Baud: 115200,
	// DMA would bypass the RX callback the decoder depends on.
	Mode: serial.ModeRX | (serial.ModeDefaultFast &^ serial.ModeDMARX),

	Size: sumhFrameSize,
	Gap:  5000,

	Marker:      0xA8,
	MarkerIndex: 0,
	ZeroIndex:   sumhFrameSize - 2,

	Channels:     sumhChannels,
	FirstChannel: 3,
	Scale:        6.4,
	Offset:       375,
}

// EncodeSUMH builds a SUMH frame whose channels decode to the given values.
func EncodeSUMH(values []int32) []byte {
	out := make([]byte, sumhFrameSize)
	out[0] = 0xA8
	for i := 0; i < sumhChannels && i < len(values); i++ {
		raw := sumhRaw(values[i])
		out[SUMH.FirstChannel+2*i] = byte(raw >> 8)
		out[SUMH.FirstChannel+2*i+1] = byte(raw)
	}
	return out
}

// sumhRaw finds a channel word whose truncated decode equals v.
func sumhRaw(v int32) uint16 {
	x := (float64(v) + SUMH.Offset) * SUMH.Scale
	if x <= 0 {
		return 0
	}
	if x >= 0xFFFF {
		return 0xFFFF
	}
	raw := uint16(x)
	dec := func(r uint16) int32 { return int32(float64(r)/SUMH.Scale - SUMH.Offset) }
	for raw < 0xFFFF && dec(raw) < v {
		raw++
	}
	for raw > 0 && dec(raw) > v {
		raw--
	}
	return raw
}
