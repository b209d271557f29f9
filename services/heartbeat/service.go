package heartbeat

import (
	"context"
	"time"

	"flightcode-go/bus"
	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/services/config"
	"flightcode-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	TopicSchedStats      = bus.T("sched", "stats")
)

// Service prints and publishes driver counters on every beat.
type Service struct {
	Sched *callback.Scheduler // optional
	Ports *serial.Table       // optional
}

func (s *Service) beat(t time.Time, conn *bus.Connection) {
	println("Info:", t.Format("15:04:05"), "Heartbeat")
	if s.Sched != nil {
		st := s.Sched.Stats()
		println("Info: sched triggers", st.Triggers, "drains", st.Drains, "serviced", st.Serviced, "drops", st.RegisterDrops)
		conn.Publish(conn.NewMessage(TopicSchedStats, types.SchedulerStats{
			Triggers:      st.Triggers,
			Drains:        st.Drains,
			Serviced:      st.Serviced,
			RegisterDrops: st.RegisterDrops,
			Free:          s.Sched.Free(),
		}, false))
	}
	if s.Ports == nil {
		return
	}
	for _, name := range s.Ports.Names() {
		u, ok := s.Ports.Lookup(name)
		if !ok || u.Mode() == 0 {
			continue
		}
		st := u.Stats()
		println("Info:", name, "rx", st.RxBytes, "tx", st.TxBytes, "ovr", st.RxOverruns, "drop", st.TxDrops)
		conn.Publish(conn.NewMessage(bus.T("serial", name, "stats"), types.SerialStats{
			Port:       name,
			Mode:       uint32(u.Mode()),
			RxBytes:    st.RxBytes,
			TxBytes:    st.TxBytes,
			RxOverruns: st.RxOverruns,
			TxDrops:    st.TxDrops,
		}, false))
	}
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			println("Info: heartbeat service stopping")
			return
		case t := <-tick.C:
			s.beat(t, conn)
		case msg := <-cfgSub.Channel():
			var cfg types.HeartbeatConfig
			if err := config.Decode(msg.Payload, &cfg); err != nil || cfg.Interval <= 0 {
				continue
			}
			tick.Reset(time.Duration(cfg.Interval * float64(time.Second)))
			println("Info:", "Heartbeat interval set to", cfg.Interval, "seconds")
		}
	}
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
