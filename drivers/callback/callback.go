// drivers/callback/callback.go
package callback

import (
	"math/bits"
	"sync/atomic"
)

// Slots is the fixed capacity of the scheduler table.
const Slots = 32

// NoSlot is the id of a record that is not registered.
const NoSlot = -1

// Record is a deferred callback owned by the driver that declares it.
// The scheduler only keeps a non-owning reference in its slot table.
// The zero value is an unregistered record.
type Record struct {
	Fn   func(*Record)
	slot atomic.Int32 // slot+1; 0 = unregistered
}

// ID returns the assigned slot or NoSlot.
func (r *Record) ID() int { return int(r.slot.Load()) - 1 }

func (r *Record) setID(id int) { r.slot.Store(int32(id + 1)) }

// emptyRecord occupies every free slot.
var emptyRecord = &Record{Fn: func(*Record) {}}

// Pender requests an asynchronous Service run at the lowest priority.
// Pend is called from interrupt context and must not block.
type Pender interface {
	Pend()
}

// Binder is implemented by penders that need to know which scheduler to drain.
type Binder interface {
	Bind(s *Scheduler)
}

type Stats struct {
	Triggers      uint32
	Drains        uint32
	Serviced      uint32
	RegisterDrops uint32
}

// Scheduler is the soft-IRQ deferred callback table. Interrupt handlers
// Trigger records; Service drains them from a lower priority context.
type Scheduler struct {
	table    [Slots]atomic.Pointer[Record]
	free     atomic.Uint32 // 1 = free
	triggers atomic.Uint32 // 1 = pending
	pender   Pender

	nTriggers atomic.Uint32
	nDrains   atomic.Uint32
	nServiced atomic.Uint32
	nDrops    atomic.Uint32
}

// New builds and initialises a scheduler. A nil pender leaves draining to
// explicit Service calls.
func New(p Pender) *Scheduler {
	s := &Scheduler{pender: p}
	s.Init()
	return s
}

// Init resets all slots to free and installs the deferred handler.
func (s *Scheduler) Init() {
	s.triggers.Store(0)
	for i := range s.table {
		s.table[i].Store(emptyRecord)
	}
	s.free.Store(^uint32(0))
	if b, ok := s.pender.(Binder); ok {
		b.Bind(s)
	}
}

// -----------------------------------------------------------------------------
// Mask helpers
// -----------------------------------------------------------------------------

// Each helper is a CAS loop so that every single-bit update is atomic with
// respect to the others without relying on atomic Or/And.

func setBit(m *atomic.Uint32, bit uint32) (old uint32) {
	for {
		old = m.Load()
		if m.CompareAndSwap(old, old|bit) {
			return old
		}
	}
}

func clearBit(m *atomic.Uint32, bit uint32) (old uint32) {
	for {
		old = m.Load()
		if m.CompareAndSwap(old, old&^bit) {
			return old
		}
	}
}

// claimLowest atomically clears and returns the lowest set bit, or -1.
func claimLowest(m *atomic.Uint32) int {
	for {
		old := m.Load()
		if old == 0 {
			return -1
		}
		slot := bits.TrailingZeros32(old)
		if m.CompareAndSwap(old, old&^(1<<slot)) {
			return slot
		}
	}
}

// claimHighest atomically clears and returns the highest set bit, or -1.
func claimHighest(m *atomic.Uint32) int {
	for {
		old := m.Load()
		if old == 0 {
			return -1
		}
		slot := 31 - bits.LeadingZeros32(old)
		if m.CompareAndSwap(old, old&^(1<<slot)) {
			return slot
		}
	}
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Register binds fn to rec and installs it in the lowest free slot.
// With the table full the call is dropped and rec.ID() stays NoSlot.
func (s *Scheduler) Register(rec *Record, fn func(*Record)) {
	if rec == nil || rec.ID() != NoSlot {
		return
	}
	slot := claimLowest(&s.free)
	if slot < 0 {
		s.nDrops.Add(1)
		return
	}
	rec.Fn = fn
	clearBit(&s.triggers, 1<<slot)
	s.table[slot].Store(rec)
	rec.setID(slot)
}

// Release clears any pending trigger, restores the empty record and frees
// the slot, in that order.
func (s *Scheduler) Release(rec *Record) {
	if rec == nil {
		return
	}
	slot := rec.ID()
	if slot < 0 || s.table[slot].Load() != rec {
		return
	}
	bit := uint32(1) << slot
	clearBit(&s.triggers, bit)
	s.table[slot].Store(emptyRecord)
	rec.setID(NoSlot)
	setBit(&s.free, bit)
}

// Trigger marks rec pending and requests a drain. Safe from any interrupt.
func (s *Scheduler) Trigger(rec *Record) {
	slot := rec.ID()
	if slot < 0 {
		return
	}
	s.nTriggers.Add(1)
	if setBit(&s.triggers, 1<<slot)&(1<<slot) != 0 {
		return // already pending, a drain is on its way
	}
	if s.pender != nil {
		s.pender.Pend()
	}
}

// Service is the deferred handler: it drains pending slots highest first,
// re-reading the live mask so late triggers are not lost.
func (s *Scheduler) Service() {
	s.nDrains.Add(1)
	for {
		slot := claimHighest(&s.triggers)
		if slot < 0 {
			return
		}
		rec := s.table[slot].Load()
		if rec == emptyRecord || rec.Fn == nil {
			continue // released after its trigger was claimed
		}
		s.nServiced.Add(1)
		rec.Fn(rec)
	}
}

// Pending returns the live triggered mask.
func (s *Scheduler) Pending() uint32 { return s.triggers.Load() }

// Free returns the live free-slot mask.
func (s *Scheduler) Free() uint32 { return s.free.Load() }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Triggers:      s.nTriggers.Load(),
		Drains:        s.nDrains.Load(),
		Serviced:      s.nServiced.Load(),
		RegisterDrops: s.nDrops.Load(),
	}
}
