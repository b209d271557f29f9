package main

import (
	"context"
	"time"

	"flightcode-go/bus"
	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/platform"
	"flightcode-go/rx"
	"flightcode-go/services/bridge"
	"flightcode-go/services/config"
	"flightcode-go/services/heartbeat"
	"flightcode-go/services/rc"
	"flightcode-go/types"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	ctx := config.WithDevice(context.Background(), platform.DeviceID)
	sched := platform.Setup(ctx, platform.Options{})
	b := bus.NewBus(8)

	var sc types.SerialConfig
	if err := config.Section(platform.DeviceID, "serial", &sc); err != nil {
		println("Error: serial config:", err.Error())
	}
	f, ok := rx.Lookup(sc.RXProtocol)
	if !ok {
		println("Warn: unknown rx protocol", sc.RXProtocol, "using", rx.SUMH.Name)
		f = rx.SUMH
	}

	// The frame callback wakes the rc service through the scheduler so
	// decoding stays out of the RX interrupt.
	rec := &callback.Record{}
	recv, err := rx.Init(sc.RXPort, f, rx.WithFrameTrigger(sched, rec))
	if err != nil {
		println("Error:", err.Error())
	}
	rcSvc := rc.New(recv)
	sched.Register(rec, rcSvc.OnDeferred)

	config.NewConfigService().Start(ctx, b.NewConnection("config"))
	hb := &heartbeat.Service{Sched: sched, Ports: serial.Default}
	if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
		println("Error: heartbeat:", err.Error())
	}
	if err := rcSvc.Start(ctx, b.NewConnection("rc")); err != nil {
		println("Error: rc:", err.Error())
	}
	go bridge.Start(ctx, b.NewConnection("bridge"))

	println("[main] running", f.Name, "on", sc.RXPort)
	select {}
}
