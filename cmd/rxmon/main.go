// Command rxmon runs the receiver stack on a host: frames come from an OS
// serial device (-dev) or from the built-in generator on a simulated port,
// and the decoded channels are shown in an interactive shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"flightcode-go/bus"
	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/platform"
	"flightcode-go/rx"
	"flightcode-go/services/bridge"
	_ "flightcode-go/services/bridge/mqttlink"
	"flightcode-go/services/rc"
	"flightcode-go/types"
)

var (
	portName   = flag.String("port", "uart1", "Board port the receiver is wired to.")
	devPath    = flag.String("dev", "", "OS serial device backing -port; empty simulates it.")
	protoName  = flag.String("proto", rx.SUMH.Name, "Receiver protocol (sumh, sumd).")
	mqttBroker = flag.String("mqtt", "", "Forward rc topics to this MQTT broker.")
	genOn      = flag.Bool("gen", false, "Start the frame generator (simulated ports only).")
	genHz      = flag.Int("hz", 50, "Generator frame rate.")
	evalOnly   = flag.Bool("e", false, "Run the command line arguments and exit.")
	outputJSON = flag.Bool("json", false, "Print output in JSON.")
)

const appKey = "$app"

// app holds everything the shell commands reach.
type app struct {
	ctx    context.Context
	sched  *callback.Scheduler
	conn   *bus.Connection
	recv   *rx.Receiver
	rc     *rc.Service
	mon    *monitor
	gen    *generator
	asJSON bool
}

func appFrom(c *ishell.Context) *app { return c.Get(appKey).(*app) }

func main() {
	flag.Parse()
	defer glog.Flush()

	f, ok := rx.Lookup(*protoName)
	if !ok {
		glog.Exitf("unknown protocol %q", *protoName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opt := platform.Options{}
	if *devPath != "" {
		opt.Devices = map[string]string{*portName: *devPath}
	}
	sched := platform.Setup(ctx, opt)
	b := bus.NewBus(16)

	rec := &callback.Record{}
	recv, err := rx.Init(*portName, f, rx.WithFrameTrigger(sched, rec))
	if err != nil {
		glog.Exitf("open receiver: %v", err)
	}
	defer recv.Close()

	svc := rc.New(recv)
	sched.Register(rec, svc.OnDeferred)
	if err := svc.Start(ctx, b.NewConnection("rc")); err != nil {
		glog.Exitf("rc: %v", err)
	}

	if *mqttBroker != "" {
		raw, err := json.Marshal(bridge.Config{
			Transport: bridge.TransportConfig{
				Type: "mqtt",
				MQTT: &bridge.MQTTConfig{Broker: *mqttBroker},
			},
		})
		if err != nil {
			glog.Exitf("bridge config: %v", err)
		}
		conn := b.NewConnection("rxmon-config")
		conn.Publish(conn.NewMessage(bus.T("config", "bridge"), raw, true))
		go bridge.Start(ctx, b.NewConnection("bridge"))
		glog.Infof("bridging rc topics to %s", *mqttBroker)
	}

	a := &app{
		ctx:    ctx,
		sched:  sched,
		conn:   b.NewConnection("rxmon"),
		recv:   recv,
		rc:     svc,
		mon:    newMonitor(),
		asJSON: *outputJSON,
	}
	go a.mon.watch(ctx, b.NewConnection("monitor"))

	if u, ok := platform.Sim[*portName]; ok {
		a.gen = newGenerator(u, f, *genHz)
		if *genOn {
			a.gen.Start(ctx)
		}
	} else if *genOn {
		glog.Warningf("generator needs a simulated port; %s is %s", *portName, *devPath)
	}
	glog.Infof("%s on %s (%s)", f.Name, *portName, describePort(recv))

	sh := ishell.New()
	sh.Set(appKey, a)
	sh.SetPrompt(fmt.Sprintf("[%s %s] > ", f.Name, *portName))
	for _, cmd := range commands {
		sh.AddCmd(cmd)
	}
	if *evalOnly {
		if err := sh.Process(flag.Args()...); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	sh.Run()
	sh.Close()
}

func describePort(r *rx.Receiver) string {
	p := r.Port()
	if p == nil {
		return "closed"
	}
	var modes []string
	m := p.Mode()
	for _, x := range []struct {
		bit  serial.Mode
		name string
	}{
		{serial.ModeRX, "rx"},
		{serial.ModeTX, "tx"},
		{serial.ModeDMARX, "dmarx"},
		{serial.ModeDMATX, "dmatx"},
	} {
		if m&x.bit != 0 {
			modes = append(modes, x.name)
		}
	}
	return strings.Join(modes, ",")
}

// status is the shell view of the last rc/status.
func statusText(st types.RCStatus) string {
	if st.Link == "" {
		return "unknown"
	}
	return string(st.Link)
}
