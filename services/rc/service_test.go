package rc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flightcode-go/bus"
	"flightcode-go/drivers/callback"
	"flightcode-go/rx"
	"flightcode-go/types"
)

type clock struct{ now uint32 }

func (c *clock) Micros() uint32 { return c.now }

type rig struct {
	d    *rx.Decoder
	clk  *clock
	conn *bus.Connection
	svc  *Service
}

func newRig(t *testing.T, tune func(*Service)) *rig {
	t.Helper()
	clk := &clock{now: 1_000_000}
	d := rx.NewDecoder(rx.SUMH, clk)
	b := bus.NewBus(32)
	r := &rig{d: d, clk: clk, conn: b.NewConnection("rc_test"), svc: New(d)}
	if tune != nil {
		tune(r.svc)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, r.svc.Start(ctx, b.NewConnection("rc")))
	return r
}

// send delivers one aligned SUMH frame through the decoder.
func (r *rig) send(values ...int32) {
	f := rx.EncodeSUMH(values)
	r.clk.now += 10_000
	for _, b := range f {
		r.d.HandleByte(b)
		r.clk.now += 87
	}
}

func next(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting on %v", sub.Topic())
		return nil
	}
}

func TestRC_PublishesClampedChannels(t *testing.T) {
	r := newRig(t, nil)
	ch := r.conn.Subscribe(TopicChannels)
	st := r.conn.Subscribe(TopicStatus)

	r.send(-62, 900, -900, 0, 0, 0, 0, 125)

	m := next(t, ch)
	p := m.Payload.(types.RCChannels)
	require.Equal(t, uint32(1), p.Seq)
	require.Equal(t, []int32{-62, 500, -500, 0, 0, 0, 0, 125}, p.Values)
	require.False(t, m.Retained)

	s := next(t, st)
	require.True(t, s.Retained)
	require.Equal(t, types.LinkUp, s.Payload.(types.RCStatus).Link)
	require.Equal(t, "sumh", s.Payload.(types.RCStatus).Protocol)
}

func TestRC_RejectedFrameIsNotPublished(t *testing.T) {
	r := newRig(t, nil)
	ch := r.conn.Subscribe(TopicChannels)

	f := rx.EncodeSUMH([]int32{10})
	f[19] = 1
	r.clk.now += 10_000
	for _, b := range f {
		r.d.HandleByte(b)
		r.clk.now += 87
	}
	select {
	case m := <-ch.Channel():
		t.Fatalf("unexpected publish %v", m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
	require.Eventually(t, func() bool { return r.d.Stats().Rejected == 1 }, time.Second, time.Millisecond)
}

func TestRC_FailsafeAndRecovery(t *testing.T) {
	r := newRig(t, func(s *Service) {
		s.rate = 200
		s.failsafe = 50 * time.Millisecond
	})
	st := r.conn.Subscribe(TopicStatus)

	r.send(1, 2, 3)
	require.Equal(t, types.LinkUp, next(t, st).Payload.(types.RCStatus).Link)

	lost := next(t, st)
	require.Equal(t, types.LinkLost, lost.Payload.(types.RCStatus).Link)
	require.True(t, lost.Retained)

	r.send(1, 2, 3)
	require.Equal(t, types.LinkUp, next(t, st).Payload.(types.RCStatus).Link)
}

func TestRC_NoFrameAtAllGoesLost(t *testing.T) {
	r := newRig(t, func(s *Service) {
		s.rate = 200
		s.failsafe = 30 * time.Millisecond
	})
	st := r.conn.Subscribe(TopicStatus)
	require.Equal(t, types.LinkLost, next(t, st).Payload.(types.RCStatus).Link)
}

func TestRC_DeferredCallbackWakesPoll(t *testing.T) {
	r := newRig(t, func(s *Service) { s.rate = 1 })
	ch := r.conn.Subscribe(TopicChannels)

	sched := callback.New(nil)
	rec := &callback.Record{}
	sched.Register(rec, r.svc.OnDeferred)
	r.d.OnFrame = func() { sched.Trigger(rec) }

	start := time.Now()
	r.send(42)
	sched.Service()

	m := next(t, ch)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, int32(42), m.Payload.(types.RCChannels).Values[0])
}

func TestRC_ConfigTopicRetunes(t *testing.T) {
	r := newRig(t, nil)
	ch := r.conn.Subscribe(TopicChannels)
	r.conn.Publish(r.conn.NewMessage(topicConfigRC, map[string]any{"min": -50.0, "max": 50.0}, true))

	require.Eventually(t, func() bool {
		r.send(200)
		select {
		case m := <-ch.Channel():
			return m.Payload.(types.RCChannels).Values[0] == 50
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, time.Millisecond)
}

func TestRC_StatsRequest(t *testing.T) {
	r := newRig(t, nil)
	r.send(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		rep, err := r.conn.RequestWait(ctx, r.conn.NewMessage(TopicStats, nil, false))
		if err != nil {
			return false
		}
		return rep.Payload.(types.RCStats).Frames == 1
	}, time.Second, 10*time.Millisecond)
}
