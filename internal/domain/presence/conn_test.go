package presence

import (
	"errors"
	"sync"
)

// fakeConn records frames and probes in place of a real WebSocket.
type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	pings      int
	closeCode  int
	closed     bool
	terminated bool

	failWrites bool
	failPings  bool
}

var errConnDown = errors.New("connection down")

func (c *fakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errConnDown
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPings {
		return errConnDown
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	return nil
}

func (c *fakeConn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	return nil
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) wasTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}
