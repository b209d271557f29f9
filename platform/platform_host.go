//go:build !rp2040 && !rp2350

package platform

import (
	"context"

	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/drivers/serial/hostport"
	"flightcode-go/drivers/serial/simhw"
)

// DeviceID selects the embedded config.
const DeviceID = "host"

// Sim holds the simulated peripherals by port name.
var Sim = map[string]*simhw.UART{}

// Setup must run once. Ports named in opt.Devices are backed by the OS
// serial device; the rest are simulated with RX and TX DMA.
func Setup(ctx context.Context, opt Options) *callback.Scheduler {
	p := callback.NewGoroutinePender()
	s := callback.New(p)
	p.Start(ctx)

	for _, name := range Ports {
		if dev, ok := opt.Devices[name]; ok {
			hp := hostport.New(dev, nil)
			hp.Start(ctx)
			serial.Register(serial.Hardware{Name: name, Peripheral: hp})
			continue
		}
		u := simhw.NewUART()
		txd := simhw.NewTxDMA(u)
		txd.Auto = true
		serial.Register(serial.Hardware{
			Name:       name,
			Peripheral: u,
			RxDMA:      simhw.NewRxDMA(u),
			TxDMA:      txd,
		})
		Sim[name] = u
	}
	return s
}
