package ftp

import (
	"net"
	"time"
)

// deadlineConn wraps a net.Conn and resets a read/write deadline
// before every operation, so a data connection that is idle for
// longer than timeout fails instead of hanging forever mid-transfer.
// Used for both passive and active-mode data connections, not just
// control-channel reads, since a stalled peer on either path is the
// same failure mode.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}
