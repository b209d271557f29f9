// drivers/callback/pender.go
package callback

import (
	"context"
	"sync/atomic"
)

// GoroutinePender runs Service on a worker goroutine. Pend requests are
// coalesced into a single buffered slot so the caller never blocks.
type GoroutinePender struct {
	s       *Scheduler
	kick    chan struct{}
	stopped chan struct{}
}

func NewGoroutinePender() *GoroutinePender {
	return &GoroutinePender{
		kick:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

func (p *GoroutinePender) Bind(s *Scheduler) { p.s = s }

func (p *GoroutinePender) Pend() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Start launches the drain worker. It exits when ctx is cancelled.
func (p *GoroutinePender) Start(ctx context.Context) {
	go func() {
		defer close(p.stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.kick:
				if p.s != nil {
					p.s.Service()
				}
			}
		}
	}()
}

// Done is closed once the worker has exited.
func (p *GoroutinePender) Done() <-chan struct{} { return p.stopped }

// ManualPender only records requests; the owner calls Service itself.
type ManualPender struct {
	n atomic.Uint32
}

func (p *ManualPender) Pend()         { p.n.Add(1) }
func (p *ManualPender) Count() uint32 { return p.n.Load() }
