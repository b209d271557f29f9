package main

import (
	"context"
	"strings"
	"sync"

	"flightcode-go/bus"
	"flightcode-go/services/rc"
	"flightcode-go/types"
	"flightcode-go/x/mathx"
)

// monitor keeps the latest receiver topics for the shell.
type monitor struct {
	mu       sync.Mutex
	channels types.RCChannels
	status   types.RCStatus
	updates  uint64
}

func newMonitor() *monitor { return &monitor{} }

func (m *monitor) watch(ctx context.Context, conn *bus.Connection) {
	chSub := conn.Subscribe(rc.TopicChannels)
	stSub := conn.Subscribe(rc.TopicStatus)
	defer conn.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-chSub.Channel():
			if v, ok := msg.Payload.(types.RCChannels); ok {
				m.mu.Lock()
				m.channels = v
				m.updates++
				m.mu.Unlock()
			}
		case msg := <-stSub.Channel():
			if v, ok := msg.Payload.(types.RCStatus); ok {
				m.mu.Lock()
				m.status = v
				m.mu.Unlock()
			}
		}
	}
}

func (m *monitor) last() (types.RCChannels, types.RCStatus, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := m.channels
	ch.Values = append([]int32(nil), ch.Values...)
	return ch, m.status, m.updates
}

const barWidth = 40

// bar draws v within [lo,hi] as a fixed-width gauge with the centre marked.
func bar(v, lo, hi int32) string {
	pos := mathx.Map(v, lo, hi, 0, barWidth)
	var sb strings.Builder
	sb.Grow(barWidth + 3)
	sb.WriteByte('[')
	for i := int32(0); i <= barWidth; i++ {
		switch {
		case i == pos:
			sb.WriteByte('#')
		case i == barWidth/2:
			sb.WriteByte('|')
		default:
			sb.WriteByte('.')
		}
	}
	sb.WriteByte(']')
	return sb.String()
}
