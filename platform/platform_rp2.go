//go:build rp2040 || rp2350

package platform

import (
	"context"
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"flightcode-go/drivers/callback"
	"flightcode-go/drivers/serial"
	"flightcode-go/drivers/serial/uartxhw"
)

const DeviceID = "pico"

// Setup must run once.
func Setup(ctx context.Context, _ Options) *callback.Scheduler {
	p := newPender()
	s := callback.New(p)
	if g, ok := p.(*callback.GoroutinePender); ok {
		g.Start(ctx)
	}

	u0 := uartxhw.New(uartx.UART0, machine.GP0, machine.GP1)
	u0.Start(ctx)
	serial.Register(serial.Hardware{Name: "uart0", Peripheral: u0})

	u1 := uartxhw.New(uartx.UART1, machine.GP4, machine.GP5)
	u1.Start(ctx)
	serial.Register(serial.Hardware{Name: "uart1", Peripheral: u1})
	return s
}
