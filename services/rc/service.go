// Package rc polls the receiver, publishes channel values and tracks link
// loss.
package rc

import (
	"context"
	"sync/atomic"
	"time"

	"flightcode-go/bus"
	"flightcode-go/drivers/callback"
	"flightcode-go/rx"
	"flightcode-go/services/config"
	"flightcode-go/types"
	"flightcode-go/x/mathx"
	"flightcode-go/x/timex"
)

var (
	topicConfigRC = bus.T("config", "rc")
	TopicChannels = bus.T("rc", "channels")
	TopicStatus   = bus.T("rc", "status")
	TopicStats    = bus.T("rc", "stats")
)

const (
	DefaultRateHz   = 50
	DefaultFailsafe = 500 * time.Millisecond
	DefaultMin      = -500
	DefaultMax      = 500
)

// Source is the receiver side the service polls.
type Source interface {
	FrameStatus() rx.FrameStatus
	Snapshot() rx.Frame
	Stats() rx.Stats
}

type Service struct {
	src      Source
	protocol string
	port     string

	rate     uint32
	failsafe time.Duration
	min, max atomic.Int32

	wake chan struct{}
	now  func() time.Time

	link     types.Link
	lastGood time.Time
}

// New builds the service around a receiver.
func New(src Source) *Service {
	s := &Service{
		src:      src,
		rate:     DefaultRateHz,
		failsafe: DefaultFailsafe,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
	s.min.Store(DefaultMin)
	s.max.Store(DefaultMax)
	if f, ok := src.(interface{ Format() rx.Format }); ok {
		s.protocol = f.Format().Name
	}
	if p, ok := src.(interface{ PortName() string }); ok {
		s.port = p.PortName()
	}
	return s
}

// Wake requests an early poll. Never blocks.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// OnDeferred is the deferred-callback body for the receiver's frame record.
func (s *Service) OnDeferred(*callback.Record) { s.Wake() }

// Limits returns the clamp range applied to published channels.
func (s *Service) Limits() (lo, hi int32) { return s.min.Load(), s.max.Load() }

func (s *Service) apply(cfg types.RCConfig, tick *time.Ticker) {
	if cfg.RateHz != 0 && cfg.RateHz != s.rate {
		s.rate = cfg.RateHz
		tick.Reset(timex.DurationFromHz(s.rate))
		println("Info: rc poll rate", s.rate, "Hz")
	}
	if cfg.FailsafeMs != 0 {
		s.failsafe = time.Duration(cfg.FailsafeMs) * time.Millisecond
	}
	if cfg.Min != 0 || cfg.Max != 0 {
		s.min.Store(cfg.Min)
		s.max.Store(cfg.Max)
	}
}

func (s *Service) poll(conn *bus.Connection) {
	if s.src.FrameStatus() != rx.FrameComplete {
		return
	}
	fr := s.src.Snapshot()
	lo, hi := s.Limits()
	for i, v := range fr.Channels {
		fr.Channels[i] = mathx.Clamp(v, lo, hi)
	}
	now := s.now()
	s.lastGood = now
	conn.Publish(conn.NewMessage(TopicChannels, types.RCChannels{
		Seq:    fr.Seq,
		Values: fr.Channels,
		TS:     now.UnixMilli(),
	}, false))
	s.setLink(conn, types.LinkUp, now)
}

func (s *Service) checkFailsafe(conn *bus.Connection) {
	now := s.now()
	if s.lastGood.IsZero() {
		s.lastGood = now // grace period from start
	}
	if s.link != types.LinkLost && now.Sub(s.lastGood) > s.failsafe {
		s.setLink(conn, types.LinkLost, now)
	}
}

func (s *Service) setLink(conn *bus.Connection, l types.Link, now time.Time) {
	if s.link == l {
		return
	}
	s.link = l
	println("Info: rc link", string(l))
	conn.Publish(conn.NewMessage(TopicStatus, types.RCStatus{
		Link:     l,
		Protocol: s.protocol,
		Port:     s.port,
		TS:       now.UnixMilli(),
	}, true))
}

func (s *Service) stats() types.RCStats {
	st := s.src.Stats()
	return types.RCStats{
		Bytes:    st.Bytes,
		Frames:   st.Frames,
		Rejected: st.Rejected,
		Resyncs:  st.Resyncs,
		Dropped:  st.Dropped,
		Overruns: st.Overruns,
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigRC)
	defer conn.Unsubscribe(cfgSub)
	statsSub := conn.Subscribe(TopicStats)
	defer conn.Unsubscribe(statsSub)

	tick := time.NewTicker(timex.DurationFromHz(s.rate))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("Info: rc service stopping")
			return
		case <-tick.C:
			s.poll(conn)
			s.checkFailsafe(conn)
		case <-s.wake:
			s.poll(conn)
		case msg := <-cfgSub.Channel():
			var cfg types.RCConfig
			if err := config.Decode(msg.Payload, &cfg); err != nil {
				println("Warn: rc config:", err.Error())
				continue
			}
			s.apply(cfg, tick)
		case msg := <-statsSub.Channel():
			if msg.ReplyTo != nil {
				conn.Reply(msg, s.stats(), false)
			}
		}
	}
}

// Start the rc service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
