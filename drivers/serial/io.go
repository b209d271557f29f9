// drivers/serial/io.go
package serial

import (
	"context"
	"time"
)

// txFree is implemented by ports that can report TX ring space, so bulk
// writes stop short of the ring instead of counting a drop.
type txFree interface {
	TxFree() int
}

func fit(port Port, n int) int {
	if f, ok := port.(txFree); ok {
		if free := f.TxFree(); free < n {
			return free
		}
	}
	return n
}

// Write queues as much of p as the TX ring accepts and returns the count.
func Write(port Port, p []byte) int {
	p = p[:fit(port, len(p))]
	for i, b := range p {
		if !port.PutByte(b) {
			return i
		}
	}
	return len(p)
}

func Print(port Port, s string) int {
	s = s[:fit(port, len(s))]
	for i := 0; i < len(s); i++ {
		if !port.PutByte(s[i]) {
			return i
		}
	}
	return len(s)
}

// Drain moves waiting bytes into dst and returns the count.
func Drain(port Port, dst []byte) int {
	n := port.BytesWaiting()
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = port.GetByte()
	}
	return n
}

// SetBaudRate reconfigures only the line speed.
func SetBaudRate(port Port, baud uint32) {
	cfg := port.GetConfig()
	cfg.BaudRate = baud
	port.Configure(cfg)
}

// SetMode reconfigures only the mode.
func SetMode(port Port, mode Mode) {
	cfg := port.GetConfig()
	cfg.Mode = mode
	port.Configure(cfg)
}

const transmitPoll = time.Millisecond

// WaitForTransmit polls until the TX side is empty or ctx ends.
func WaitForTransmit(ctx context.Context, port Port) error {
	if port.IsTransmitEmpty() {
		return nil
	}
	tick := time.NewTicker(transmitPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if port.IsTransmitEmpty() {
				return nil
			}
		}
	}
}
