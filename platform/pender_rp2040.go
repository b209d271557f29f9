//go:build rp2040

package platform

import "flightcode-go/drivers/callback"

func newPender() callback.Pender { return callback.NewSoftIRQPender() }
