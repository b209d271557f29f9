//go:build rp2350

package platform

import "flightcode-go/drivers/callback"

// The RP2350 NVIC soft lines are not wired up yet; drain from a goroutine.
func newPender() callback.Pender { return callback.NewGoroutinePender() }
