package channel

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSChannel adapts a websocket connection to the Channel interface. Message
// payloads (binary or text) are exposed as a contiguous byte stream.
//
// A single pump goroutine owns all websocket reads; bounded waits are
// implemented by selecting against the pump rather than read deadlines,
// which would poison the websocket connection on expiry. Close releases the
// pump even when it is blocked handing off an unconsumed frame.
type WSChannel struct {
	conn *websocket.Conn

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	pumpDone  chan struct{}
	frames    chan []byte
	readErr   error
	rem       []byte

	writeMu sync.Mutex
}

func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{
		conn:     conn,
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		frames:   make(chan []byte, 1),
	}
}

func (c *WSChannel) start() {
	c.startOnce.Do(func() {
		go c.pump()
	})
}

func (c *WSChannel) pump() {
	defer close(c.pumpDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			close(c.frames)
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case c.frames <- data:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) Read(p []byte) (int, error) {
	c.start()
	if len(c.rem) == 0 {
		select {
		case data, ok := <-c.frames:
			if !ok {
				return 0, c.readErr
			}
			c.rem = data
		case <-c.done:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.rem)
	c.rem = c.rem[n:]
	return n, nil
}

func (c *WSChannel) ReadWithTimeout(p []byte, wait time.Duration) (int, error) {
	c.start()
	if len(c.rem) == 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case data, ok := <-c.frames:
			if !ok {
				return 0, c.readErr
			}
			c.rem = data
		case <-c.done:
			return 0, net.ErrClosed
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
	n := copy(p, c.rem)
	c.rem = c.rem[n:]
	return n, nil
}

func (c *WSChannel) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}
