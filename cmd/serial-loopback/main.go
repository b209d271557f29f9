// Command serial-loopback checks the serial port layer end to end: uart0
// transmits, uart1 receives. On a board, jumper uart0 TX to uart1 RX; on a
// host the two simulated ports are wired together.
package main

import (
	"context"
	"time"

	"flightcode-go/drivers/serial"
	"flightcode-go/platform"
)

func main() {
	println("[loop] boot …")
	time.Sleep(1500 * time.Millisecond)

	ctx := context.Background()
	platform.Setup(ctx, platform.Options{})
	wire()

	cfg := serial.Config{Mode: serial.ModeDefaultFast, BaudRate: 115200}
	tx := serial.Open("uart0", cfg)
	rx := serial.Open("uart1", cfg)
	if tx == nil || rx == nil {
		println("[loop] FAIL: ports did not open")
		return
	}
	defer tx.Release()
	defer rx.Release()

	println("[loop] smoke: send 'hello-uart' and verify")
	if !sendReceiveExact(tx, rx, []byte("hello-uart"), 3*time.Second) {
		println("[loop] smoke: FAIL")
	} else {
		println("[loop] smoke: PASS")
	}

	println("[loop] integrity: 4096 bytes, chunk 64")
	if r := integrityTest(tx, rx, 4096, 64, 5*time.Second); r.ok() {
		println("[loop] integrity: PASS")
	} else {
		println("[loop] integrity: written=", r.written, " received=", r.received)
		println("[loop] integrity: txHash=", r.txHash, " rxHash=", r.rxHash)
		println("[loop] integrity: FAIL")
	}

	println("[loop] throughput: 5s, chunk 256")
	w, n, el := throughput(ctx, tx, rx, 5*time.Second, 256)
	println("[loop] throughput: TX bytes=", w, " (~", bps(w, el), " B/s)")
	println("[loop] throughput: RX bytes=", n, " (~", bps(n, el), " B/s)")

	if st, ok := rx.(serial.StatsReporter); ok {
		s := st.Stats()
		println("[loop] uart1 overruns=", s.RxOverruns)
	}
}
