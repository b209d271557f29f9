// drivers/callback/pender_rp2040.go

//go:build rp2040

package callback

import (
	"device/rp"
	"runtime/interrupt"
)

// IRQ 26..31 have no hardware source on the RP2040 and can only be pended
// from software, which makes them a stand-in for PendSV.
const softIRQ = 26

// SoftIRQPender drains the scheduler from a spare NVIC line at the lowest
// priority, so every hardware interrupt preempts the drain.
type SoftIRQPender struct {
	intr interrupt.Interrupt
	s    *Scheduler
}

var softPender SoftIRQPender

// NewSoftIRQPender returns the single soft-IRQ pender of the image.
func NewSoftIRQPender() *SoftIRQPender { return &softPender }

func (p *SoftIRQPender) Bind(s *Scheduler) {
	p.s = s
	p.intr = interrupt.New(softIRQ, softPender.handleInterrupt)
	p.intr.SetPriority(0xff)
	rp.PPB.NVIC_ICPR.Set(1 << softIRQ)
	p.intr.Enable()
}

func (p *SoftIRQPender) Pend() { rp.PPB.NVIC_ISPR.Set(1 << softIRQ) }

func (p *SoftIRQPender) handleInterrupt(interrupt.Interrupt) {
	if p.s != nil {
		p.s.Service()
	}
}
