//go:build rp2040 || rp2350

package main

func wire() {
	println("[loop] expecting a jumper from uart0 TX (GP0) to uart1 RX (GP5)")
}
