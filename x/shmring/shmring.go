// x/shmring/shmring.go
package shmring

import (
	"sync/atomic"
)

// Ring is a single-producer, single-consumer byte ring. The producer may run
// in interrupt context: no method blocks or allocates.
//
// Indices are free-running uint32 counters; positions in the backing array
// are always (index & mask), so size must be a power of two.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)
}

func New(size int) *Ring {
	if size < 2 || (size&(size-1)) != 0 {
		panic("shmring: size must be power of two >= 2")
	}
	return &Ring{
		buf:  make([]byte, size),
		mask: uint32(size - 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

func (r *Ring) Mask() uint32 { return r.mask }

// Storage exposes the backing array for hardware that writes it directly
// (circular DMA). Index bookkeeping is then the caller's business.
func (r *Ring) Storage() []byte { return r.buf }

// Reset empties the ring. Only safe while neither side is running.
func (r *Ring) Reset() {
	r.rd.Store(0)
	r.wr.Store(0)
}

func (r *Ring) Space() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(r.size() - (wr - rd))
}

func (r *Ring) Available() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

func (r *Ring) Empty() bool { return r.rd.Load() == r.wr.Load() }

// -----------------------------------------------------------------------------
// Producer side
// -----------------------------------------------------------------------------

// PutByte appends one byte. It returns false, leaving the ring unchanged,
// when the ring is full.
func (r *Ring) PutByte(b byte) bool {
	rd := r.rd.Load()
	wr := r.wr.Load()
	if wr-rd >= r.size() {
		return false
	}
	r.buf[wr&r.mask] = b
	r.wr.Store(wr + 1) // release
	return true
}

// -----------------------------------------------------------------------------
// Consumer side
// -----------------------------------------------------------------------------

// GetByte pops one byte; ok is false when the ring is empty.
func (r *Ring) GetByte() (b byte, ok bool) {
	rd := r.rd.Load()
	wr := r.wr.Load() // acquire
	if rd == wr {
		return 0, false
	}
	b = r.buf[rd&r.mask]
	r.rd.Store(rd + 1) // release
	return b, true
}

// Contiguous returns the readable run that starts at the consumer index and
// ends at the producer index or the end of the backing array, whichever
// comes first. The bytes stay in the ring until Consume.
func (r *Ring) Contiguous() []byte {
	rd := r.rd.Load()
	wr := r.wr.Load()
	n := wr - rd
	if n == 0 {
		return nil
	}
	rdIdx := rd & r.mask
	if end := r.size() - rdIdx; n > end {
		n = end
	}
	return r.buf[rdIdx : rdIdx+n]
}

// Consume releases n bytes previously returned by Contiguous.
func (r *Ring) Consume(n int) {
	if n <= 0 {
		return
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	if uint32(n) > wr-rd {
		n = int(wr - rd)
	}
	r.rd.Store(rd + uint32(n))
}
