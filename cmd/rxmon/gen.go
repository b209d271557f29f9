package main

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"flightcode-go/drivers/serial/simhw"
	"flightcode-go/rx"
	"flightcode-go/x/mathx"
)

// sweepPeriod is the number of frames in one full stick sweep.
const sweepPeriod = 200

// generator injects synthetic frames into a simulated port.
type generator struct {
	u *simhw.UART
	f rx.Format

	mu       sync.Mutex
	hz       int
	step     int
	failsafe bool
	cancel   context.CancelFunc
	sent     uint64
}

func newGenerator(u *simhw.UART, f rx.Format, hz int) *generator {
	if hz <= 0 {
		hz = 50
	}
	return &generator{u: u, f: f, hz: hz}
}

// sweep returns n channel values in [-500,500]. Each channel runs a
// triangle wave shifted by a fixed phase.
func sweep(step, n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		p := (step + i*sweepPeriod/8) % sweepPeriod
		if p >= sweepPeriod/2 {
			p = sweepPeriod - p
		}
		out[i] = mathx.Map(int32(p), 0, sweepPeriod/2, -500, 500)
	}
	return out
}

// encode renders values in the generator's protocol. SUMD carries µs, so
// the stick range maps onto 1000..2000.
func encode(f rx.Format, values []int32, failsafe bool) []byte {
	if f.Name == rx.SUMD.Name {
		us := make([]uint16, len(values))
		for i, v := range values {
			us[i] = uint16(mathx.Map(v, -500, 500, 1000, 2000))
		}
		return rx.EncodeSUMD(failsafe, us)
	}
	return rx.EncodeSUMH(values)
}

func (g *generator) channels() int {
	if g.f.Name == rx.SUMD.Name {
		return 8
	}
	return g.f.Channels
}

// Tick sends one frame and reports how many bytes the port accepted.
func (g *generator) Tick() int {
	g.mu.Lock()
	frame := encode(g.f, sweep(g.step, g.channels()), g.failsafe)
	g.step++
	g.sent++
	g.mu.Unlock()
	return g.u.Inject(frame...)
}

func (g *generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	period := time.Second / time.Duration(g.hz)
	go func() {
		tick := time.NewTicker(period)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if n := g.Tick(); n == 0 {
					glog.V(2).Info("generator: port not accepting bytes")
				}
			}
		}
	}()
	glog.Infof("generator started at %d Hz", g.hz)
}

func (g *generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
		glog.Info("generator stopped")
	}
}

// SetRate restarts a running generator at hz.
func (g *generator) SetRate(ctx context.Context, hz int) {
	g.mu.Lock()
	running := g.cancel != nil
	g.hz = hz
	g.mu.Unlock()
	if running {
		g.Stop()
		g.Start(ctx)
	}
}

func (g *generator) SetFailsafe(on bool) {
	g.mu.Lock()
	g.failsafe = on
	g.mu.Unlock()
}

func (g *generator) Running() (bool, int, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil, g.hz, g.sent
}
