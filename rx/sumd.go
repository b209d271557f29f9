// rx/sumd.go
package rx

import (
	"github.com/sigurn/crc16"

	"flightcode-go/drivers/serial"
)

const (
	sumdHeader      = 3
	sumdCRC         = 2
	sumdMaxChannels = 16
	sumdMaxFrame    = sumdHeader + 2*sumdMaxChannels + sumdCRC

	sumdStatusLive     = 0x01
	sumdStatusFailsafe = 0x81
)

var sumdTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// SUMD is the Graupner SUMD frame: 0xA8, status, channel count N, N
// big-endian words in 1/8 µs, CRC16/XMODEM over everything before it.
// Channels are published in µs.
var SUMD = Format{
	Name: "sumd",
	Baud: 115200,
	Mode: serial.ModeRX | (serial.ModeDefaultFast &^ serial.ModeDMARX),

	Size: sumdMaxFrame,
	Gap:  5000,

	Marker:      0xA8,
	MarkerIndex: 0,
	ZeroIndex:   -1,

	Channels:     sumdMaxChannels,
	FirstChannel: sumdHeader,
	Scale:        8,

	Length:   sumdLength,
	Validate: sumdValid,
}

// Decode is assigned in init: sumdDecode refers back to SUMD, which a
// composite-literal field would turn into an initialization cycle.
func init() { SUMD.Decode = sumdDecode }

func sumdLength(frame []byte, n int) int {
	if n < sumdHeader {
		return 0
	}
	count := int(frame[2])
	if count == 0 || count > sumdMaxChannels {
		return sumdMaxFrame
	}
	return sumdHeader + 2*count + sumdCRC
}

func sumdValid(frame []byte) bool {
	if len(frame) < sumdHeader+sumdCRC {
		return false
	}
	if s := frame[1]; s != sumdStatusLive && s != sumdStatusFailsafe {
		return false
	}
	count := int(frame[2])
	if count == 0 || count > sumdMaxChannels || len(frame) != sumdHeader+2*count+sumdCRC {
		return false
	}
	body := frame[:len(frame)-sumdCRC]
	want := uint16(frame[len(frame)-2])<<8 | uint16(frame[len(frame)-1])
	return crc16.Checksum(body, sumdTable) == want
}

func sumdDecode(frame []byte, ch int) int32 {
	if ch >= int(frame[2]) {
		return 0
	}
	return SUMD.DecodeChannel(frame, ch)
}

// SUMDFailsafe reports whether a SUMD frame carries the failsafe status.
func SUMDFailsafe(frame []byte) bool {
	return len(frame) > 1 && frame[1] == sumdStatusFailsafe
}

// EncodeSUMD builds a SUMD frame from µs channel values. Used by the
// generator in rxmon and by tests.
func EncodeSUMD(failsafe bool, us []uint16) []byte {
	if len(us) > sumdMaxChannels {
		us = us[:sumdMaxChannels]
	}
	out := make([]byte, 0, sumdHeader+2*len(us)+sumdCRC)
	status := byte(sumdStatusLive)
	if failsafe {
		status = sumdStatusFailsafe
	}
	out = append(out, 0xA8, status, byte(len(us)))
	for _, v := range us {
		raw := uint32(v) * 8
		out = append(out, byte(raw>>8), byte(raw))
	}
	crc := crc16.Checksum(out, sumdTable)
	return append(out, byte(crc>>8), byte(crc))
}
