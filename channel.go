package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arvo-dev/ftpc/internal/resolver"
	"github.com/arvo-dev/ftpc/internal/tlsprovider"
)

// Encoding is the character encoding currently in effect on a
// control channel: ASCII until the server advertises UTF8 support and
// the client opts in with OPTS UTF8 ON. The value records that opt-in;
// command lines are written as their UTF-8 bytes in either case.
type Encoding int

const (
	EncodingASCII Encoding = iota
	EncodingUTF8
)

// controlChannel is the framed, line-oriented command/response
// transport over a (maybe-TLS) byte stream: spec component D. It
// owns the two mutual-exclusion tokens ("send" and "receive") that
// keep at most one command in flight and let the engine read a
// post-transfer completion response without holding the send token.
type controlChannel struct {
	conn net.Conn
	r    *bufio.Reader

	host      string
	encrypted bool
	encoding  Encoding

	timeout time.Duration

	sendMu chan struct{} // 1-buffered: acts as the "send" token
	recvMu chan struct{} // 1-buffered: acts as the "receive" token

	activityMu   sync.Mutex
	lastActivity time.Time

	logger      *slog.Logger
	tlsProvider tlsprovider.Provider
	resolver    resolver.Resolver
}

func newControlChannel(timeout time.Duration, logger *slog.Logger, tp tlsprovider.Provider, res resolver.Resolver) *controlChannel {
	ch := &controlChannel{
		timeout:     timeout,
		logger:      logger,
		tlsProvider: tp,
		resolver:    res,
		sendMu:      make(chan struct{}, 1),
		recvMu:      make(chan struct{}, 1),
	}
	ch.sendMu <- struct{}{}
	ch.recvMu <- struct{}{}
	return ch
}

func (c *controlChannel) acquireSend(ctx context.Context) error {
	select {
	case <-c.sendMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *controlChannel) releaseSend() { c.sendMu <- struct{}{} }

func (c *controlChannel) acquireRecv(ctx context.Context) error {
	select {
	case <-c.recvMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *controlChannel) releaseRecv() { c.recvMu <- struct{}{} }

// touchActivity records that a command just went out, for the
// keep-alive goroutine's idle check.
func (c *controlChannel) touchActivity() {
	c.activityMu.Lock()
	c.lastActivity = time.Now()
	c.activityMu.Unlock()
}

// idleSince reports how long it has been since the last command was
// sent. Zero before the first command.
func (c *controlChannel) idleSince() time.Duration {
	c.activityMu.Lock()
	last := c.lastActivity
	c.activityMu.Unlock()
	if last.IsZero() {
		return 0
	}
	return time.Since(last)
}

// dial resolves host:port, opens the TCP connection, and, for
// implicit TLS, upgrades it before any byte is read.
func (c *controlChannel) dial(ctx context.Context, host string, port int, implicitTLS bool) error {
	c.host = host

	ep, err := c.resolver.Resolve(ctx, host, port)
	if err != nil {
		return transportErr("connect", err)
	}

	addr := net.JoinHostPort(ep.IP.String(), fmt.Sprintf("%d", ep.Port))
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return transportErr("connect", err)
	}

	if implicitTLS {
		tlsConn, err := c.tlsProvider.ClientHandshake(ctx, conn, host)
		if err != nil {
			conn.Close()
			return transportErr("connect", err)
		}
		conn = tlsConn
		c.encrypted = true
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

// welcome reads the greeting (the 220 banner). Callers are expected
// to have already performed the implicit-TLS upgrade inside dial; for
// explicit TLS the banner is read in plain text and the caller issues
// AUTH TLS afterwards via activateExplicitTLS.
func (c *controlChannel) welcome(ctx context.Context) (*Response, error) {
	if err := c.acquireRecv(ctx); err != nil {
		return nil, cancelledErr("connect", err)
	}
	defer c.releaseRecv()

	c.setDeadlines()
	resp, err := readResponse(c.r)
	if err != nil {
		return nil, transportErr("connect", err)
	}
	c.logResponse(resp)
	return resp, nil
}

// activateExplicitTLS sends AUTH TLS and performs the client
// handshake. TLS, once activated, is permanent for this channel's
// lifetime.
func (c *controlChannel) activateExplicitTLS(ctx context.Context) error {
	resp, err := c.send(ctx, command{Verb: VerbAUTH, Arg: "TLS"})
	if err != nil {
		return err
	}
	if resp.Code != 234 {
		return protocolErr("connect", "AUTH TLS", resp)
	}

	tlsConn, err := c.tlsProvider.ClientHandshake(ctx, c.conn, c.host)
	if err != nil {
		return transportErr("connect", err)
	}
	c.conn = tlsConn
	c.r = bufio.NewReader(tlsConn)
	c.encrypted = true
	return nil
}

// send acquires the send token for the whole command round-trip,
// drains any stale buffered data first, writes the command, and
// reads exactly one response while holding the receive token.
func (c *controlChannel) send(ctx context.Context, cmd command) (*Response, error) {
	if err := c.acquireSend(ctx); err != nil {
		return nil, cancelledErr("send", err)
	}
	defer c.releaseSend()

	if err := c.drainStale(ctx); err != nil {
		return nil, err
	}

	if err := c.acquireRecv(ctx); err != nil {
		return nil, cancelledErr("send", err)
	}
	defer c.releaseRecv()

	c.logCommand(cmd)
	c.setDeadlines()
	c.touchActivity()

	line := cmd.line() + "\r\n"
	if _, err := io.WriteString(c.conn, line); err != nil {
		return nil, transportErr(string(cmd.Verb), err)
	}

	resp, err := readResponse(c.r)
	if err != nil {
		return nil, transportErr(string(cmd.Verb), err)
	}
	c.logResponse(resp)
	return resp, nil
}

// readPending acquires only the receive token and reads one response.
// This is how the engine reads the post-transfer completion code
// without contending with the send token held by a new command.
func (c *controlChannel) readPending(ctx context.Context, overrideTimeout time.Duration) (*Response, error) {
	if err := c.acquireRecv(ctx); err != nil {
		return nil, cancelledErr("finish", err)
	}
	defer c.releaseRecv()

	if overrideTimeout > 0 {
		prev := c.timeout
		c.timeout = overrideTimeout
		c.setDeadlines()
		c.timeout = prev
	} else {
		c.setDeadlines()
	}

	resp, err := readResponse(c.r)
	if err != nil {
		return nil, transportErr("finish", err)
	}
	c.logResponse(resp)
	return resp, nil
}

// drainStale reads and discards a response already sitting in the
// buffer before a new command is sent — leftover data usually means a
// prior transfer's completion code was never consumed.
func (c *controlChannel) drainStale(ctx context.Context) error {
	for c.r.Buffered() > 0 {
		resp, err := readResponse(c.r)
		if err != nil {
			return transportErr("drain-stale", err)
		}
		c.logger.Warn("ftp: draining stale control response", "code", resp.Code, "message", resp.Message)
	}
	return nil
}

// Disconnected is a best-effort poll for the peer having closed the
// connection: it peeks for EOF on the underlying TCP connection
// without blocking. It always reports false for a TLS-wrapped
// channel, since peeking would consume protected application data.
func (c *controlChannel) Disconnected() bool {
	if c.encrypted || c.conn == nil {
		return false
	}
	tc, ok := c.conn.(*net.TCPConn)
	if !ok {
		return false
	}
	if c.r.Buffered() > 0 {
		return false
	}
	_ = tc.SetReadDeadline(time.Now())
	_, err := c.r.Peek(1)
	_ = tc.SetReadDeadline(time.Time{})
	return err == io.EOF
}

func (c *controlChannel) setDeadlines() {
	if c.timeout <= 0 || c.conn == nil {
		return
	}
	deadline := time.Now().Add(c.timeout)
	_ = c.conn.SetReadDeadline(deadline)
	_ = c.conn.SetWriteDeadline(deadline)
}

func (c *controlChannel) close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *controlChannel) logCommand(cmd command) {
	if cmd.Verb == VerbPASS {
		c.logger.Debug("ftp: command", "verb", cmd.Verb, "arg", "****")
		return
	}
	c.logger.Debug("ftp: command", "verb", cmd.Verb, "arg", cmd.Arg)
}

func (c *controlChannel) logResponse(resp *Response) {
	c.logger.Debug("ftp: response", "code", resp.Code, "message", resp.Message)
}
