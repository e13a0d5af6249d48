package channel

import (
	"errors"
	"net"
	"os"
	"time"
)

// NetChannel adapts a net.Conn to the Channel interface using read
// deadlines for bounded waits.
type NetChannel struct {
	conn net.Conn
}

func NewNetChannel(conn net.Conn) *NetChannel {
	return &NetChannel{conn: conn}
}

func (c *NetChannel) Read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}
	return c.conn.Read(p)
}

func (c *NetChannel) ReadWithTimeout(p []byte, wait time.Duration) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}

func (c *NetChannel) Write(p []byte) error {
	for len(p) > 0 {
		n, err := c.conn.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (c *NetChannel) Close() error {
	return c.conn.Close()
}

// RemoteAddr exposes the peer address for session accounting.
func (c *NetChannel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
