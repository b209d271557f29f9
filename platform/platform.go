// Package platform registers the board's serial peripherals and builds the
// deferred callback scheduler. Only peripherals registered here can be
// opened; everything else fails with unknown_port.
package platform

// Options tune Setup.
type Options struct {
	// Devices maps a port name to a host serial device (host builds only).
	Devices map[string]string
}

// Ports lists the peripherals every board provides.
var Ports = []string{"uart0", "uart1"}
