package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"flightcode-go/bus"
	"flightcode-go/drivers/serial"
	"flightcode-go/services/rc"
	"flightcode-go/types"
)

var commands = []*ishell.Cmd{
	&ChannelsCmd,
	&StatusCmd,
	&StatsCmd,
	&PortsCmd,
	&GenCmd,
	&RateCmd,
	&BaudCmd,
}

// printValue prints v as JSON when -json is set, otherwise with text.
func printValue(c *ishell.Context, v any, text string) {
	if appFrom(c).asJSON {
		out, err := json.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// ChannelsCmd shows the last published channels.
var ChannelsCmd = ishell.Cmd{
	Name:    "channels",
	Aliases: []string{"ch"},
	Help:    "show the last published channels",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		ch, st, n := a.mon.last()
		if a.asJSON {
			printValue(c, ch, "")
			return
		}
		c.Printf("seq %d  link %s  updates %d\n", ch.Seq, statusText(st), n)
		lo, hi := a.rc.Limits()
		for i, v := range ch.Values {
			c.Printf("ch%-2d %6d %s\n", i+1, v, bar(v, lo, hi))
		}
	},
}

// StatusCmd prints the link state.
var StatusCmd = ishell.Cmd{
	Name: "status",
	Help: "show receiver link state",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		_, st, _ := a.mon.last()
		printValue(c, st, fmt.Sprintf("%s %s on %s", statusText(st), st.Protocol, st.Port))
	},
}

// StatsCmd asks the rc service for decoder counters and adds port and
// scheduler counters.
var StatsCmd = ishell.Cmd{
	Name: "stats",
	Help: "show decoder, port and scheduler counters",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		ctx, cancel := context.WithTimeout(a.ctx, time.Second)
		defer cancel()
		reply, err := a.conn.RequestWait(ctx, a.conn.NewMessage(rc.TopicStats, nil, false))
		if err != nil {
			c.Err(err)
			return
		}
		rs, _ := reply.Payload.(types.RCStats)
		ss := a.sched.Stats()
		var ps serial.Stats
		if r, ok := a.recv.Port().(serial.StatsReporter); ok {
			ps = r.Stats()
		}
		printValue(c, map[string]any{"rc": rs, "port": ps, "sched": ss},
			fmt.Sprintf("rc    bytes %d frames %d rejected %d resyncs %d dropped %d overruns %d\n"+
				"port  rx %d tx %d rx_overruns %d tx_drops %d\n"+
				"sched triggers %d drains %d serviced %d free %#x",
				rs.Bytes, rs.Frames, rs.Rejected, rs.Resyncs, rs.Dropped, rs.Overruns,
				ps.RxBytes, ps.TxBytes, ps.RxOverruns, ps.TxDrops,
				ss.Triggers, ss.Drains, ss.Serviced, a.sched.Free()))
	},
}

// PortsCmd lists the registered peripherals.
var PortsCmd = ishell.Cmd{
	Name: "ports",
	Help: "list board serial ports",
	Func: func(c *ishell.Context) {
		for _, name := range serial.Default.Names() {
			u, _ := serial.Lookup(name)
			state := "closed"
			if u.Mode() != 0 {
				cfg := u.GetConfig()
				state = fmt.Sprintf("open %d baud mode %#x", cfg.BaudRate, uint32(u.Mode()))
			}
			c.Printf("%-6s %s\n", name, state)
		}
	},
}

// GenCmd controls the frame generator.
var GenCmd = ishell.Cmd{
	Name: "gen",
	Help: "gen [on|off|once|failsafe on|off|rate HZ]: control the frame generator",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		if a.gen == nil {
			c.Err(fmt.Errorf("generator needs a simulated port"))
			return
		}
		if len(c.Args) == 0 {
			on, hz, sent := a.gen.Running()
			c.Printf("running %v at %d Hz, %d frames sent\n", on, hz, sent)
			return
		}
		switch c.Args[0] {
		case "on":
			a.gen.Start(a.ctx)
		case "off":
			a.gen.Stop()
		case "once":
			c.Printf("%d bytes accepted\n", a.gen.Tick())
		case "failsafe":
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("failsafe on|off"))
				return
			}
			a.gen.SetFailsafe(c.Args[1] == "on")
		case "rate":
			hz, err := argInt(c, 1)
			if err != nil || hz <= 0 {
				c.Err(fmt.Errorf("rate needs a positive number"))
				return
			}
			a.gen.SetRate(a.ctx, hz)
		default:
			c.Err(fmt.Errorf("unknown gen argument %q", c.Args[0]))
		}
	},
}

// RateCmd retunes the rc service through its config topic.
var RateCmd = ishell.Cmd{
	Name: "rate",
	Help: "rate HZ [FAILSAFE_MS]: set the rc publish rate",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		hz, err := argInt(c, 0)
		if err != nil || hz <= 0 {
			c.Err(fmt.Errorf("rate needs a positive number"))
			return
		}
		cfg := types.RCConfig{RateHz: uint32(hz)}
		if ms, err := argInt(c, 1); err == nil && ms > 0 {
			cfg.FailsafeMs = uint32(ms)
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			c.Err(err)
			return
		}
		a.conn.Publish(a.conn.NewMessage(bus.T("config", "rc"), raw, true))
		c.Println("OK")
	},
}

// BaudCmd changes the receiver port's baud rate.
var BaudCmd = ishell.Cmd{
	Name: "baud",
	Help: "baud RATE: reconfigure the receiver port",
	Func: func(c *ishell.Context) {
		a := appFrom(c)
		baud, err := argInt(c, 0)
		if err != nil || baud <= 0 {
			c.Err(fmt.Errorf("baud needs a positive number"))
			return
		}
		p := a.recv.Port()
		if p == nil {
			c.Err(fmt.Errorf("port not open"))
			return
		}
		serial.SetBaudRate(p, uint32(baud))
		c.Println("OK")
	},
}

func argInt(c *ishell.Context, i int) (int, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	return strconv.Atoi(c.Args[i])
}
