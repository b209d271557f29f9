// drivers/serial/stream.go
package serial

import (
	"io"
	"sync/atomic"
	"time"
)

// Stream adapts a Port to io.ReadWriteCloser for byte-stream consumers
// such as the bridge link. Read and Write poll the rings; Close releases
// the port and unblocks both.
type Stream struct {
	port   Port
	poll   time.Duration
	closed atomic.Bool
}

const streamPoll = time.Millisecond

func NewStream(p Port) *Stream { return &Stream{port: p, poll: streamPoll} }

func (s *Stream) Port() Port { return s.port }

// Read blocks until at least one byte is waiting.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if s.closed.Load() {
			return 0, io.EOF
		}
		if n := Drain(s.port, p); n > 0 {
			return n, nil
		}
		time.Sleep(s.poll)
	}
}

// Write blocks until all of p is queued.
func (s *Stream) Write(p []byte) (int, error) {
	done := 0
	for done < len(p) {
		if s.closed.Load() {
			return done, io.ErrClosedPipe
		}
		n := Write(s.port, p[done:])
		done += n
		if done < len(p) {
			time.Sleep(s.poll)
		}
	}
	return done, nil
}

func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.port.Release()
	return nil
}
