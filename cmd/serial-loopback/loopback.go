package main

import (
	"bytes"
	"context"
	"time"

	"flightcode-go/drivers/serial"
)

const pollEvery = time.Millisecond

// sendReceiveExact sends msg and waits for it to show up on rx.
func sendReceiveExact(tx, rx serial.Port, msg []byte, timeout time.Duration) bool {
	if serial.Write(tx, msg) != len(msg) {
		return false
	}
	deadline := time.Now().Add(timeout)

	buf := make([]byte, 0, 4*len(msg)) // small rolling window
	tmp := make([]byte, 128)
	for time.Now().Before(deadline) {
		n := serial.Drain(rx, tmp)
		buf = append(buf, tmp[:n]...)
		if bytes.Contains(buf, msg) {
			return true
		}
		if len(buf) > cap(buf)/2 {
			// keep only the tail
			buf = append(buf[:0], buf[len(buf)-len(msg):]...)
		}
		if n == 0 {
			time.Sleep(pollEvery)
		}
	}
	return false
}

type integrity struct {
	total, written, received int
	txHash, rxHash           uint32
}

func (r integrity) ok() bool {
	return r.written == r.total && r.received == r.total && r.txHash == r.rxHash
}

const (
	fnvOffset = uint32(2166136261)
	fnvPrime  = uint32(16777619)
)

func fnv(h uint32, p []byte) uint32 {
	for _, b := range p {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}

// integrityTest streams a deterministic pattern and compares FNV-1a hashes
// of what went out and what came back.
func integrityTest(tx, rx serial.Port, total, chunk int, timeout time.Duration) integrity {
	gen := patternGenerator(0xA5)
	r := integrity{total: total, txHash: fnvOffset, rxHash: fnvOffset}

	out := make([]byte, chunk)
	tmp := make([]byte, 128)
	pending := out[:0]
	deadline := time.Now().Add(timeout)

	for (r.written < total || r.received < total) && time.Now().Before(deadline) {
		if len(pending) == 0 && r.written < total {
			m := chunk
			if m > total-r.written {
				m = total - r.written
			}
			fillPattern(out[:m], &gen)
			pending = out[:m]
		}
		if len(pending) > 0 {
			n := serial.Write(tx, pending)
			r.txHash = fnv(r.txHash, pending[:n])
			r.written += n
			pending = pending[n:]
		}
		moved := false
		for {
			n := serial.Drain(rx, tmp)
			if n == 0 {
				break
			}
			moved = true
			r.rxHash = fnv(r.rxHash, tmp[:n])
			r.received += n
		}
		if !moved {
			time.Sleep(pollEvery)
		}
	}
	return r
}

// throughput writes and reads concurrently for d and returns the byte
// counts and elapsed time.
func throughput(parent context.Context, tx, rx serial.Port, d time.Duration, chunk int) (written, received int, elapsed time.Duration) {
	out := make([]byte, chunk)
	gen := patternGenerator(0x42)
	fillPattern(out, &gen)

	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	doneW := make(chan struct{})
	go func() {
		defer close(doneW)
		for ctx.Err() == nil {
			out[0] ^= gen.next()
			if n := serial.Write(tx, out); n > 0 {
				written += n
				continue
			}
			time.Sleep(pollEvery)
		}
	}()

	in := make([]byte, 256)
	for ctx.Err() == nil {
		if n := serial.Drain(rx, in); n > 0 {
			received += n
			continue
		}
		time.Sleep(pollEvery)
	}
	<-doneW

	// Grace drain for bytes still in flight.
	grace := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(grace) {
		n := serial.Drain(rx, in)
		received += n
		if n == 0 {
			time.Sleep(pollEvery)
		}
	}
	return written, received, time.Since(start)
}

func bps(n int, el time.Duration) int64 {
	if el <= 0 {
		el = time.Nanosecond
	}
	return int64(n) * int64(time.Second) / int64(el)
}

// Simple deterministic pattern generator (xorshift8 over byte).
type patGen struct{ s byte }

func patternGenerator(seed byte) patGen { return patGen{s: seed} }

func (g *patGen) next() byte {
	x := g.s
	x ^= x << 3
	x ^= x >> 5
	x ^= x << 1
	g.s = x
	return x
}

func fillPattern(dst []byte, g *patGen) {
	for i := range dst {
		dst[i] = g.next()
	}
}
