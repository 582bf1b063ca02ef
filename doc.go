// Package ftp implements an asynchronous FTP/FTPS client: the control
// and data channel state machines that drive an FTP session.
//
// # Overview
//
// The client speaks RFC 959 over a single control connection, opens a
// transient data connection per transfer or listing (EPSV/PASV or
// PORT), and can upgrade either channel to TLS (implicit or explicit
// via AUTH TLS). Directory listings are parsed with MLSD when the
// server advertises it, falling back to LIST with Unix or DOS style
// parsing.
//
// # Basic usage
//
// Dial and DialConfig connect and log in in one step; there is no
// separate Login call.
//
//	c, err := ftp.Dial(ctx, "ftp.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Logout(ctx)
//
//	r, err := c.OpenRead(ctx, "readme.txt")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//	io.Copy(os.Stdout, r)
//
// # TLS
//
// Explicit TLS negotiates AUTH TLS on the configured port (usually
// 21) after the greeting. Implicit TLS wraps the connection in TLS
// before the greeting is read, on the configured port (usually 990).
// Both modes send PBSZ 0 / PROT P once the control channel is
// encrypted, and carry the negotiated TLS session onto the data
// channel via the [Config.Encryption] setting.
//
//	cfg := ftp.Config{
//	    Host:       "ftp.example.com",
//	    Encryption: ftp.EncryptionExplicit,
//	}
//	c, err := ftp.DialConfig(ctx, cfg)
package ftp
