// bridge/bridge_test.go
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"flightcode-go/bus"
	"flightcode-go/errcode"
)

func TestBridge_EstablishesUARTLinkAndReportsState(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	// Subscribe to bridge/state (retained) and verify initial status.
	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(stateSub)

	first := nextStatePayload(t, stateSub, 500*time.Millisecond)
	assertLevelStatus(t, first, "idle", "awaiting_config")

	// Inject a UART dialler that returns a net.Pipe; keep the remote end to simulate link loss.
	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	remotes := make(chan *peer, 1)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		p := newPeer(rc)
		go p.serve()
		remotes <- p
		return lc, nil
	}

	cfg := `{"transport":{"type":"uart","uart":{"port":"uart1","baud":115200}}}`
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), cfg, false))

	up := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, up, "up", "link_established")

	// Close the remote to force link loss; expect degraded state.
	remote := <-remotes
	_ = remote.c.Close()

	degraded := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, degraded, "degraded", "link_lost_retrying")
}

func TestBridge_ForwardsReceiverTopicsAndAcceptsConfig(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("bridge_fwd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prevDial := UARTDial
	defer func() { UARTDial = prevDial }()
	remotes := make(chan *peer, 1)
	UARTDial = func(ctx context.Context, _ UARTConfig) (io.ReadWriteCloser, error) {
		lc, rc := net.Pipe()
		p := newPeer(rc)
		go p.serve()
		remotes <- p
		return lc, nil
	}

	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(stateSub)
	go Start(ctx, conn)
	_ = nextStatePayload(t, stateSub, 500*time.Millisecond)

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		map[string]any{"transport": map[string]any{"type": "uart", "uart": map[string]any{"port": "uart1"}}}, false))
	assertLevelStatus(t, nextStatePayload(t, stateSub, time.Second), "up", "link_established")
	remote := <-remotes

	conn.Publish(conn.NewMessage(bus.T("rc", "status"), map[string]any{"link": "up"}, true))

	select {
	case pub := <-remote.pubs:
		if pub.topic != "rc/status" || !pub.retained {
			t.Fatalf("unexpected pub: %+v", pub)
		}
		var body map[string]any
		if err := json.Unmarshal(pub.body, &body); err != nil || body["link"] != "up" {
			t.Fatalf("unexpected body %q (%v)", pub.body, err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forwarded rc/status")
	}

	// Remote config comes back onto the local bus.
	cfgSub := conn.Subscribe(bus.T("config", "rc"))
	defer conn.Unsubscribe(cfgSub)
	if err := remote.send("config/rc", []byte(`{"rate_hz":100}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-cfgSub.Channel():
		if string(m.Payload.([]byte)) != `{"rate_hz":100}` {
			t.Fatalf("config payload = %v", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for downlink config")
	}
}

func TestBridge_UnknownTransportYieldsErrorState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("bridge_test_bad")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Start(ctx, conn)

	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	defer conn.Unsubscribe(stateSub)

	_ = nextStatePayload(t, stateSub, 500*time.Millisecond) // initial awaiting_config

	cfg := `{"transport":{"type":"bogus"}}`
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), cfg, false))

	errState := nextStatePayload(t, stateSub, time.Second)
	assertLevelStatus(t, errState, "error", "transport_init_failed")
	if e, _ := errState["error"].(string); e != `bridge: unknown_transport: "bogus"` {
		t.Fatalf("error = %q", e)
	}
}

func TestPubFrame_RoundTrip(t *testing.T) {
	topic, body, retained, err := decodePub(encodePub("rc/channels", []byte(`{"seq":1}`), true))
	if err != nil || topic != "rc/channels" || string(body) != `{"seq":1}` || !retained {
		t.Fatalf("got %q %q %v %v", topic, body, retained, err)
	}
	if _, _, _, err := decodePub([]byte{0, 'a', 'b'}); err == nil {
		t.Fatal("expected error for missing terminator")
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

type pub struct {
	topic    string
	body     []byte
	retained bool
}

// peer is the remote end of the framed link: it answers pings and records
// published frames. It exits on read/write error.
type peer struct {
	c    net.Conn
	wr   *framedWriter
	pubs chan pub
}

func newPeer(c net.Conn) *peer {
	return &peer{c: c, wr: newFramedWriter(c), pubs: make(chan pub, 16)}
}

func (p *peer) serve() {
	defer p.c.Close()
	rd := newFramedReader(p.c)
	for {
		f, err := rd.ReadFrame()
		if err != nil {
			return
		}
		switch f.Type {
		case framePing:
			if err := p.wr.WriteFrame(Frame{Type: framePong}); err != nil {
				return
			}
		case framePub:
			topic, body, retained, err := decodePub(f.Payload)
			if err == nil {
				p.pubs <- pub{topic, body, retained}
			}
		}
	}
}

func (p *peer) send(topic string, body []byte) error {
	return p.wr.WriteFrame(Frame{Type: framePub, Payload: encodePub(topic, body, false)})
}

func nextStatePayload(t *testing.T, sub *bus.Subscription, d time.Duration) map[string]any {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case m := <-sub.Channel():
		p, ok := m.Payload.(map[string]any)
		if !ok {
			t.Fatalf("state payload type: got %T, want map[string]any", m.Payload)
		}
		return p
	case <-timer.C:
		t.Fatalf("timeout waiting for bridge/state")
		return nil
	}
}

func assertLevelStatus(t *testing.T, payload map[string]any, wantLevel, wantStatus string) {
	t.Helper()
	gotLevel, _ := payload["level"].(string)
	gotStatus, _ := payload["status"].(string)
	if gotLevel != wantLevel || gotStatus != wantStatus {
		t.Fatalf("unexpected state: level=%q status=%q, want level=%q status=%q (payload=%v)",
			gotLevel, gotStatus, wantLevel, wantStatus, payload)
	}
}

func TestStreamLink_PeerCloseIsLinkDown(t *testing.T) {
	lc, rc := net.Pipe()
	defer rc.Close()
	l := newStreamLink(lc, time.Hour)

	if err := newFramedWriter(rc).WriteFrame(Frame{Type: frameClose}); err != nil {
		t.Fatalf("write close: %v", err)
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not end on close frame")
	}
	if c := errcode.Of(l.Err()); c != errcode.LinkDown {
		t.Fatalf("Err code = %q, want %q", c, errcode.LinkDown)
	}
	if c := errcode.Of(l.Send("rc/status", []byte("{}"), false)); c != errcode.LinkDown {
		t.Fatalf("Send after close code = %q", c)
	}
}
