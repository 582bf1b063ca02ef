package ftp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	pasvPattern = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)
	epsvPattern = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// openDataConn negotiates a data connection for one transfer or
// listing command, preferring EPSV and falling back to PASV when the
// server doesn't understand it, then dials (or accepts, in active
// mode) and wraps the result in TLS if the control channel is
// encrypted.
func (c *Client) openDataConn(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	var err error
	var asServer bool
	if c.cfg.ActiveMode {
		// The server dials us, so the accepted socket authenticates as
		// the TLS server side of the handshake.
		conn, err = c.openActive(ctx)
		asServer = true
	} else {
		conn, err = c.openPassive(ctx)
	}
	if err != nil {
		return nil, err
	}

	conn, err = c.maybeWrapTLS(ctx, conn, asServer)
	if err != nil {
		return nil, transportErr("open-data", err)
	}
	return &deadlineConn{Conn: conn, timeout: c.channel.timeout}, nil
}

func (c *Client) maybeWrapTLS(ctx context.Context, conn net.Conn, asServer bool) (net.Conn, error) {
	if !c.channel.encrypted {
		return conn, nil
	}
	if asServer {
		return c.tlsProvider.ServerHandshake(ctx, conn)
	}
	return c.tlsProvider.ClientHandshake(ctx, conn, c.channel.host)
}

// openPassive tries EPSV first (RFC 2428), then falls back to PASV
// (RFC 959) if the server rejects or doesn't understand it.
func (c *Client) openPassive(ctx context.Context) (net.Conn, error) {
	resp, err := c.channel.send(ctx, command{Verb: VerbEPSV})
	if err == nil && resp.Code == CodeEnteringExtendedPassive {
		port, perr := parseEpsvPort(resp.Message)
		if perr == nil {
			return c.dialData(ctx, c.channel.host, port)
		}
	}

	resp, err = c.channel.send(ctx, command{Verb: VerbPASV})
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeEnteringPassive {
		return nil, protocolErr("open-data", "PASV", resp)
	}
	host, port, perr := parsePasvAddr(resp.Message)
	if perr != nil {
		return nil, protocolErr("open-data", "PASV", resp)
	}
	if host == "0.0.0.0" {
		host = c.channel.host
	}
	return c.dialData(ctx, host, port)
}

func (c *Client) dialData(ctx context.Context, host string, port int) (net.Conn, error) {
	ep, err := c.channel.resolver.Resolve(ctx, host, port)
	if err != nil {
		return nil, transportErr("open-data", err)
	}
	dialer := &net.Dialer{Timeout: c.channel.timeout}
	addr := net.JoinHostPort(ep.IP.String(), strconv.Itoa(ep.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportErr("open-data", err)
	}
	return conn, nil
}

// openActive opens a listening socket on a randomly chosen high port,
// tells the server about it with PORT, and returns the connection
// once the server dials back. The port is picked from a mid-range
// band and retried a bounded number of times on bind failure, since
// another process may already own the chosen port.
func (c *Client) openActive(ctx context.Context) (net.Conn, error) {
	const maxAttempts = 5

	var ln net.Listener
	var port int
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		port = randomActivePort()
		ln, err = net.Listen("tcp", net.JoinHostPort(c.localIP, strconv.Itoa(port)))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, transportErr("open-data", err)
	}
	defer ln.Close()

	resp, err := c.channel.send(ctx, command{Verb: VerbPORT, Arg: formatPortArg(c.localIP, port)})
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, protocolErr("open-data", "PORT", resp)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		acceptCh <- result{conn, err}
	}()

	select {
	case r := <-acceptCh:
		if r.err != nil {
			return nil, transportErr("open-data", r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, cancelledErr("open-data", ctx.Err())
	}
}

// randomActivePort picks a port per the same band used widely by
// FTP clients for active mode: high byte in [5,200), low byte in
// [0,200), giving ports from 1280 to 51143. That stays clear of the
// well-known ports but overlaps common ephemeral port ranges.
func randomActivePort() int {
	hi := 5 + rand.Intn(195)
	lo := rand.Intn(200)
	return hi<<8 | lo
}

func formatPortArg(ip string, port int) string {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		octets = []string{"127", "0", "0", "1"}
	}
	return fmt.Sprintf("%s,%s,%s,%s,%d,%d", octets[0], octets[1], octets[2], octets[3], port>>8, port&0xff)
}

func parsePasvAddr(message string) (string, int, error) {
	m := pasvPattern.FindStringSubmatch(message)
	if m == nil {
		return "", 0, fmt.Errorf("ftp: no address in PASV reply %q", message)
	}
	host := strings.Join(m[1:5], ".")
	p1, _ := strconv.Atoi(m[5])
	p2, _ := strconv.Atoi(m[6])
	return host, p1*256 + p2, nil
}

func parseEpsvPort(message string) (int, error) {
	m := epsvPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, fmt.Errorf("ftp: no port in EPSV reply %q", message)
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	return port, nil
}

