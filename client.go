package ftp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arvo-dev/ftpc/internal/resolver"
	"github.com/arvo-dev/ftpc/internal/tlsprovider"
)

// Client is a single FTP/FTPS session: one control channel plus the
// session state that accumulates as the login sequence runs
// (negotiated features, the chosen directory-listing strategy, the
// working directory) and the synchronization needed to keep data
// transfers from overlapping.
type Client struct {
	channel  *controlChannel
	provider directoryProvider

	cfg         Config
	localIP     string
	tlsProvider tlsprovider.Provider

	dataSemaphore chan struct{}

	connected     bool
	authenticated bool

	workingDirectory string
	features         map[string]string

	currentMode           TransferMode
	currentModeSecondType byte
	currentModeSet        bool

	transferInProgress int32
	keepAliveDone      chan struct{}

	logger *slog.Logger
}

// Dial connects to host on the default FTP port and logs in
// anonymously. It is a convenience wrapper over DialConfig for the
// common case.
func Dial(ctx context.Context, host string, opts ...Option) (*Client, error) {
	return DialConfig(ctx, Config{Host: host}, opts...)
}

// DialConfig connects, negotiates TLS per cfg.Encryption, and runs the
// full login sequence (USER/PASS, PBSZ/PROT, FEAT, listing-strategy
// selection, UTF8 negotiation, TYPE, base-directory setup).
func DialConfig(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultClientOptions()
	for _, opt := range opts {
		opt(&o)
	}

	tp := o.tlsProvider
	if tp == nil {
		tp = tlsprovider.Default(tlsprovider.Config{
			TrustAllCertificates: cfg.TrustAllCertificates,
			Certificates:         cfg.ClientCertificates,
			MinVersion:           cfg.MinTLSVersion,
			MaxVersion:           cfg.MaxTLSVersion,
		})
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	channel := newControlChannel(timeout, o.logger, tp, resolverFor(o, cfg))

	c := &Client{
		channel:       channel,
		cfg:           cfg,
		tlsProvider:   tp,
		dataSemaphore: make(chan struct{}, 1),
		logger:        o.logger,
	}
	c.dataSemaphore <- struct{}{}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.login(ctx); err != nil {
		c.disconnect()
		return nil, err
	}
	return c, nil
}

func resolverFor(o clientOptions, cfg Config) resolver.Resolver {
	if o.resolverSet {
		return o.resolver
	}
	var resOpts []resolver.Option
	switch cfg.IPVersion {
	case IPv4Only:
		resOpts = append(resOpts, resolver.PreferIPv4())
	case IPv6Only:
		resOpts = append(resOpts, resolver.PreferIPv6())
	}
	return resolver.NewCaching(resolver.Default(resOpts...), 0)
}

func (c *Client) connect(ctx context.Context) error {
	implicit := c.cfg.Encryption == EncryptionImplicit
	if err := c.channel.dial(ctx, c.cfg.Host, c.cfg.Port, implicit); err != nil {
		return err
	}

	if host, _, err := net.SplitHostPort(c.channel.conn.LocalAddr().String()); err == nil {
		c.localIP = host
	}

	resp, err := c.channel.welcome(ctx)
	if err != nil {
		return err
	}
	if !resp.Success() {
		c.disconnect()
		return protocolErr("connect", "", resp)
	}

	if c.cfg.Encryption == EncryptionExplicit {
		if err := c.channel.activateExplicitTLS(ctx); err != nil {
			c.disconnect()
			return err
		}
	}

	c.connected = true
	return nil
}

// login runs the ten-step authentication sequence: credentials,
// data-protection level if encrypted, feature discovery, listing
// strategy selection, UTF-8 opt-in, transfer type, and finally the
// configured base directory.
func (c *Client) login(ctx context.Context) error {
	if c.cfg.VirtualHost != "" {
		resp, err := c.channel.send(ctx, command{Verb: VerbHOST, Arg: c.cfg.VirtualHost})
		if err != nil {
			return err
		}
		if !resp.Success() {
			return protocolErr("login", "HOST", resp)
		}
	}

	resp, err := c.channel.send(ctx, command{Verb: VerbUSER, Arg: c.cfg.Username})
	if err != nil {
		return err
	}
	switch resp.Code {
	case CodeLoggedInProceed:
		// no password required
	case CodeSendPasswordCommand, CodeSendUserCommand:
		resp, err = c.channel.send(ctx, command{Verb: VerbPASS, Arg: c.cfg.Password})
		if err != nil {
			return err
		}
		if resp.Code != CodeLoggedInProceed {
			return protocolErr("login", "PASS", resp)
		}
	default:
		return protocolErr("login", "USER", resp)
	}

	if c.channel.encrypted {
		if resp, err = c.channel.send(ctx, command{Verb: VerbPBSZ, Arg: "0"}); err != nil {
			return err
		}
		if !resp.Success() {
			return protocolErr("login", "PBSZ", resp)
		}
		if resp, err = c.channel.send(ctx, command{Verb: VerbPROT, Arg: "P"}); err != nil {
			return err
		}
		if !resp.Success() {
			return protocolErr("login", "PROT", resp)
		}
	}

	resp, err = c.channel.send(ctx, command{Verb: VerbFEAT})
	if err != nil {
		return err
	}
	if resp.Code == CodeSystemStatus {
		c.features = parseFeatureLines(resp.Lines)
	} else {
		c.features = map[string]string{}
	}

	c.provider = selectDirectoryProvider(c.features)

	if hasFeature(c.features, "UTF8") {
		_, _ = c.channel.send(ctx, command{Verb: VerbOPTS, Arg: "UTF8 ON"})
		c.channel.encoding = EncodingUTF8
	}

	if err := c.SetTransferMode(ctx, c.cfg.Mode, c.cfg.ModeSecondType); err != nil {
		return err
	}

	if err := c.ensureBaseDirectory(ctx); err != nil {
		return err
	}

	wd, err := c.pwd(ctx)
	if err != nil {
		return err
	}
	c.workingDirectory = wd
	c.authenticated = true
	c.startKeepAlive()
	return nil
}

func (c *Client) ensureBaseDirectory(ctx context.Context) error {
	dir := c.cfg.BaseDirectory
	if dir == "" || dir == "/" {
		_, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: "/"})
		return err
	}
	return c.MakeDir(ctx, dir)
}

// Logout drains any stale data, sends QUIT if still connected, and
// tears down the connection unconditionally. A failed or rejected QUIT
// is logged at Warn and not returned, like other cleanup failures.
func (c *Client) Logout(ctx context.Context) error {
	if !c.connected {
		return nil
	}
	_ = c.channel.drainStale(ctx)

	if c.connected {
		resp, err := c.channel.send(ctx, command{Verb: VerbQUIT})
		if err != nil {
			c.logger.Warn("ftp: logout failed", "error", err)
		} else if !resp.Success() {
			c.logger.Warn("ftp: logout failed", "error", protocolErr("logout", "QUIT", resp))
		}
	}
	c.disconnect()
	return nil
}

func (c *Client) disconnect() {
	c.stopKeepAlive()
	if c.channel != nil {
		_ = c.channel.close()
	}
	c.connected = false
	c.authenticated = false
}

// ChangeDir changes the working directory, rejecting the degenerate
// empty path and "." (a no-op the server would otherwise silently
// accept, masking caller bugs).
func (c *Client) ChangeDir(ctx context.Context, dir string) error {
	if dir == "" || dir == "." {
		return preconditionErr("change-dir", "directory must be non-empty and not \".\"")
	}
	resp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: dir})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("change-dir", "CWD", resp)
	}
	wd, err := c.pwd(ctx)
	if err != nil {
		return err
	}
	c.workingDirectory = wd
	return nil
}

func (c *Client) pwd(ctx context.Context) (string, error) {
	resp, err := c.channel.send(ctx, command{Verb: VerbPWD})
	if err != nil {
		return "", err
	}
	if resp.Code != CodePathnameCreated {
		return "", protocolErr("pwd", "PWD", resp)
	}
	wd, err := parseQuotedPath(resp.Message)
	if err != nil {
		return "", protocolErr("pwd", "PWD", resp)
	}
	return wd, nil
}

// parseQuotedPath extracts the quoted pathname from a 257 reply body,
// where a literal double quote inside the path is escaped by doubling
// it (RFC 959 §4.1.1's "pathname" production).
func parseQuotedPath(message string) (string, error) {
	if len(message) == 0 || message[0] != '"' {
		return "", fmt.Errorf("ftp: malformed pathname reply %q", message)
	}
	var b strings.Builder
	i := 1
	for i < len(message) {
		if message[i] == '"' {
			if i+1 < len(message) && message[i+1] == '"' {
				b.WriteByte('"')
				i += 2
				continue
			}
			return b.String(), nil
		}
		b.WriteByte(message[i])
		i++
	}
	return "", fmt.Errorf("ftp: unterminated pathname reply %q", message)
}

// MakeDir creates path, walking and creating each missing path
// segment in turn, and restores the working directory to what it was
// on entry. When no working directory is known yet (during login,
// before the first PWD), nothing is restored and the session is left
// inside path.
func (c *Client) MakeDir(ctx context.Context, path string) error {
	original := c.workingDirectory

	if strings.HasPrefix(path, "/") {
		if resp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: "/"}); err != nil {
			return err
		} else if !resp.Success() {
			return protocolErr("mkdir", "CWD", resp)
		}
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		resp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: seg})
		if err != nil {
			return err
		}
		if resp.Success() {
			continue
		}

		mkResp, err := c.channel.send(ctx, command{Verb: VerbMKD, Arg: seg})
		if err != nil {
			return err
		}
		if !mkResp.Success() {
			return protocolErr("mkdir", "MKD", mkResp)
		}
		cdResp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: seg})
		if err != nil {
			return err
		}
		if !cdResp.Success() {
			return protocolErr("mkdir", "CWD", cdResp)
		}
	}

	if original != "" {
		if _, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: original}); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDir removes path, recursing into it to delete its contents
// first if the server reports it as non-empty. Removing the root is a
// no-op.
func (c *Client) RemoveDir(ctx context.Context, path string) error {
	if path == "" || path == "/" {
		return nil
	}

	resp, err := c.channel.send(ctx, command{Verb: VerbRMD, Arg: path})
	if err != nil {
		return err
	}
	if resp.Success() {
		return nil
	}
	if resp.Code != CodeActionNotTakenFileUnavail {
		return protocolErr("remove-dir", "RMD", resp)
	}

	if cdResp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: path}); err != nil {
		return err
	} else if !cdResp.Success() {
		return protocolErr("remove-dir", "CWD", cdResp)
	}

	entries, err := c.listAll(ctx, "")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Kind == NodeDirectory {
			if err := c.RemoveDir(ctx, e.Name); err != nil {
				return err
			}
			continue
		}
		if err := c.DeleteFile(ctx, e.Name); err != nil {
			return err
		}
	}

	if resp, err := c.channel.send(ctx, command{Verb: VerbCWD, Arg: ".."}); err != nil {
		return err
	} else if !resp.Success() {
		return protocolErr("remove-dir", "CWD", resp)
	}

	resp, err = c.channel.send(ctx, command{Verb: VerbRMD, Arg: path})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("remove-dir", "RMD", resp)
	}
	return nil
}

// SetTransferMode sends TYPE to switch between ASCII and binary
// transfers, with an optional second type argument (e.g. the byte
// size for "L n"). A no-op if mode and secondType already match the
// last TYPE sent on this connection.
func (c *Client) SetTransferMode(ctx context.Context, mode TransferMode, secondType byte) error {
	if c.currentModeSet && c.currentMode == mode && c.currentModeSecondType == secondType {
		c.logger.Debug("transfer type already set, skipping TYPE command", "mode", string(mode))
		return nil
	}

	typeArg := string(mode)
	if secondType != 0 {
		typeArg = fmt.Sprintf("%s %c", typeArg, secondType)
	}
	resp, err := c.channel.send(ctx, command{Verb: VerbTYPE, Arg: typeArg})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("set-transfer-mode", "TYPE", resp)
	}

	c.currentMode = mode
	c.currentModeSecondType = secondType
	c.currentModeSet = true
	return nil
}

// DeleteFile removes a single file via DELE.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	resp, err := c.channel.send(ctx, command{Verb: VerbDELE, Arg: path})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("delete-file", "DELE", resp)
	}
	return nil
}

// Rename renames oldPath to newPath via RNFR/RNTO.
func (c *Client) Rename(ctx context.Context, oldPath, newPath string) error {
	resp, err := c.channel.send(ctx, command{Verb: VerbRNFR, Arg: oldPath})
	if err != nil {
		return err
	}
	if resp.Code != CodeFileCommandPending {
		return protocolErr("rename", "RNFR", resp)
	}
	resp, err = c.channel.send(ctx, command{Verb: VerbRNTO, Arg: newPath})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("rename", "RNTO", resp)
	}
	return nil
}

// Size returns the size in bytes of path, via the SIZE command.
func (c *Client) Size(ctx context.Context, path string) (int64, error) {
	resp, err := c.channel.send(ctx, command{Verb: VerbSIZE, Arg: path})
	if err != nil {
		return 0, err
	}
	if resp.Code != CodeFileStatus {
		return 0, protocolErr("size", "SIZE", resp)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if err != nil {
		return 0, protocolErr("size", "SIZE", resp)
	}
	return n, nil
}

// NameList returns bare file/directory names via NLST, for servers
// that advertise neither MLSD nor a LIST format this package parses.
func (c *Client) NameList(ctx context.Context, dir string) ([]string, error) {
	if err := c.acquireDataSemaphore(ctx); err != nil {
		return nil, err
	}
	defer c.releaseDataSemaphore()

	conn, err := c.openDataConn(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.channel.send(ctx, command{Verb: VerbNLST, Arg: dir})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Code != CodeDataAlreadyOpen && resp.Code != CodeOpeningData {
		conn.Close()
		return nil, protocolErr("name-list", "NLST", resp)
	}

	stream := newDataStream(ctx, conn, c.logger, c.finalizeTransfer)
	lines, readErr := readAllLines(stream)
	closeErr := stream.Close()
	if readErr != nil {
		return nil, transportErr("name-list", readErr)
	}
	if closeErr != nil {
		return nil, transportErr("name-list", closeErr)
	}

	names := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// ModTime returns path's modification time via MDTM (RFC 3659),
// reported in UTC. Only meaningful when the server advertises MDTM.
func (c *Client) ModTime(ctx context.Context, path string) (time.Time, error) {
	resp, err := c.channel.send(ctx, command{Verb: VerbMDTM, Arg: path})
	if err != nil {
		return time.Time{}, err
	}
	if resp.Code != CodeFileStatus {
		return time.Time{}, protocolErr("mod-time", "MDTM", resp)
	}
	timestamp := strings.TrimSpace(resp.Message)
	t, parseErr := time.Parse("20060102150405", timestamp)
	if parseErr != nil {
		return time.Time{}, protocolErr("mod-time", "MDTM", resp)
	}
	return t.UTC(), nil
}

// SetModTime sets path's modification time via MFMT.
func (c *Client) SetModTime(ctx context.Context, path string, t time.Time) error {
	resp, err := c.channel.send(ctx, command{Verb: VerbMFMT, Arg: fmt.Sprintf("%s %s", t.UTC().Format("20060102150405"), path)})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("set-mod-time", "MFMT", resp)
	}
	return nil
}

// Chmod changes path's permissions via SITE CHMOD.
func (c *Client) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	resp, err := c.channel.send(ctx, command{Verb: VerbSITE, Arg: fmt.Sprintf("CHMOD %04o %s", mode&os.ModePerm, path)})
	if err != nil {
		return err
	}
	if !resp.Success() {
		return protocolErr("chmod", "SITE CHMOD", resp)
	}
	return nil
}

// ListAll, ListFiles and ListDirectories expose the three listing
// shapes callers typically need.
func (c *Client) ListAll(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.listAll(ctx, dir)
}
func (c *Client) ListFiles(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.listFiles(ctx, dir)
}
func (c *Client) ListDirectories(ctx context.Context, dir string) ([]NodeInfo, error) {
	return c.listDirectories(ctx, dir)
}

// OpenRead opens path for reading over a fresh data connection. The
// returned stream must be closed to free the one data-connection slot
// this client allows at a time, and closing it reads the transfer's
// completion code off the control channel.
func (c *Client) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := c.acquireDataSemaphore(ctx); err != nil {
		return nil, err
	}

	conn, err := c.openDataConn(ctx)
	if err != nil {
		c.releaseDataSemaphore()
		return nil, err
	}

	resp, err := c.channel.send(ctx, command{Verb: VerbRETR, Arg: path})
	if err != nil {
		conn.Close()
		c.releaseDataSemaphore()
		return nil, err
	}
	var finalize func(ctx context.Context) error
	switch {
	case resp.Code == CodeClosingData:
		// Some servers answer RETR with 226 directly (e.g. a zero-byte
		// file) and never send a separate completion line to read later.
		c.releaseDataSemaphore()
	case resp.Code == CodeDataAlreadyOpen || resp.Code == CodeOpeningData:
		finalize = c.finalizeAndRelease
	default:
		conn.Close()
		c.releaseDataSemaphore()
		return nil, protocolErr("open-read", "RETR", resp)
	}

	return newDataStream(ctx, conn, c.logger, finalize), nil
}

// OpenWrite opens path for writing over a fresh data connection,
// creating any missing parent directories first.
func (c *Client) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	if idx := strings.LastIndex(path, "/"); idx > 0 {
		_ = c.MakeDir(ctx, path[:idx])
	}

	if err := c.acquireDataSemaphore(ctx); err != nil {
		return nil, err
	}

	conn, err := c.openDataConn(ctx)
	if err != nil {
		c.releaseDataSemaphore()
		return nil, err
	}

	resp, err := c.channel.send(ctx, command{Verb: VerbSTOR, Arg: path})
	if err != nil {
		conn.Close()
		c.releaseDataSemaphore()
		return nil, err
	}
	var finalize func(ctx context.Context) error
	switch {
	case resp.Code == CodeClosingData:
		// Some servers answer STOR with 226 directly, with no separate
		// completion line to read later.
		c.releaseDataSemaphore()
	case resp.Code == CodeDataAlreadyOpen || resp.Code == CodeOpeningData:
		finalize = c.finalizeAndRelease
	default:
		conn.Close()
		c.releaseDataSemaphore()
		return nil, protocolErr("open-write", "STOR", resp)
	}

	return newDataStream(ctx, conn, c.logger, finalize), nil
}

// SendCommand is an escape hatch for verbs this client doesn't
// otherwise expose a method for.
func (c *Client) SendCommand(ctx context.Context, verb, arg string) (*Response, error) {
	return c.channel.send(ctx, command{Verb: Verb(verb), Arg: arg})
}

func (c *Client) finalizeTransfer(ctx context.Context) error {
	var override time.Duration
	if c.cfg.DisconnectTimeoutMilliseconds != nil {
		override = time.Duration(*c.cfg.DisconnectTimeoutMilliseconds) * time.Millisecond
	}
	resp, err := c.channel.readPending(ctx, override)
	if err != nil {
		return err
	}
	if resp.Code != CodeClosingData && resp.Code != CodeFileActionOK {
		return protocolErr("finish", "", resp)
	}
	return nil
}

func (c *Client) finalizeAndRelease(ctx context.Context) error {
	defer c.releaseDataSemaphore()
	return c.finalizeTransfer(ctx)
}

func (c *Client) acquireDataSemaphore(ctx context.Context) error {
	select {
	case <-c.dataSemaphore:
		atomic.StoreInt32(&c.transferInProgress, 1)
		return nil
	case <-ctx.Done():
		return cancelledErr("data-semaphore", ctx.Err())
	}
}

func (c *Client) releaseDataSemaphore() {
	atomic.StoreInt32(&c.transferInProgress, 0)
	c.dataSemaphore <- struct{}{}
}

// startKeepAlive starts a goroutine that sends NOOP once the control
// channel has sat idle for cfg.IdleTimeout, skipping ticks while a
// data transfer holds the semaphore. A no-op if IdleTimeout is zero.
func (c *Client) startKeepAlive() {
	if c.cfg.IdleTimeout <= 0 {
		return
	}
	c.keepAliveDone = make(chan struct{})
	ticker := time.NewTicker(c.cfg.IdleTimeout / 2)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if atomic.LoadInt32(&c.transferInProgress) == 1 {
					continue
				}
				if c.channel.idleSince() < c.cfg.IdleTimeout {
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), c.channel.timeout)
				if _, err := c.channel.send(ctx, command{Verb: VerbNOOP}); err != nil {
					c.logger.Debug("keep-alive NOOP failed", "error", err)
				}
				cancel()
			case <-c.keepAliveDone:
				return
			}
		}
	}()
}

// stopKeepAlive stops the keep-alive goroutine started by
// startKeepAlive, if one is running.
func (c *Client) stopKeepAlive() {
	if c.keepAliveDone != nil {
		close(c.keepAliveDone)
		c.keepAliveDone = nil
	}
}

// IsConnected reports whether the control channel is open.
func (c *Client) IsConnected() bool { return c.connected }

// IsAuthenticated reports whether login completed successfully.
func (c *Client) IsAuthenticated() bool { return c.authenticated }

// IsEncrypted reports whether the control channel is running over TLS.
func (c *Client) IsEncrypted() bool { return c.channel.encrypted }

// WorkingDirectory returns the last directory PWD reported.
func (c *Client) WorkingDirectory() string { return c.workingDirectory }
