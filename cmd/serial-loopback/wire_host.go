//go:build !rp2040 && !rp2350

package main

import (
	"flightcode-go/drivers/serial/simhw"
	"flightcode-go/platform"
)

func wire() {
	simhw.Link(platform.Sim["uart0"], platform.Sim["uart1"])
}
