package ftp

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/arvo-dev/ftpc/internal/ftptest"
)

func dialTestServer(t *testing.T, srv *ftptest.Server, cfg Config) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Host = host
	cfg.Port = port
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := DialConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("DialConfig: %v", err)
	}
	return c
}

// withPassiveData scripts EPSV to decline and PASV to advertise ln,
// reproducing the EPSV-unsupported fallback path for any test that
// needs a working data channel.
func withPassiveData(t *testing.T, srv *ftptest.Server) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("EPSV", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("502 EPSV not implemented")
	})
	srv.Handle("PASV", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("%s", ftptest.PasvResponse(ln))
	})
	return ln
}

func TestDialConfig_AnonymousLogin(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	if !c.IsConnected() || !c.IsAuthenticated() {
		t.Fatal("expected connected and authenticated")
	}
	if c.WorkingDirectory() != "/" {
		t.Fatalf("working directory = %q, want /", c.WorkingDirectory())
	}

	commands := srv.Commands()
	if len(commands) == 0 || commands[0] != "USER" {
		t.Fatalf("expected USER first, got %v", commands)
	}
}

func TestDialConfig_PasswordRequired(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("USER", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("331 need password")
	})
	srv.Handle("PASS", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("230 logged in")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{Username: "bob", Password: "secret"})
	defer c.Logout(context.Background())

	if !c.IsAuthenticated() {
		t.Fatal("expected authenticated after PASS")
	}
}

func TestEPSVFallsBackToPASV(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	ln := withPassiveData(t, srv)
	srv.Handle("LIST", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("150 opening data connection")
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("-rw-r--r-- 1 owner group 4 Jan 1 00:00 a.txt\r\n"))
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	ctx := context.Background()
	entries, err := c.ListAll(ctx, ".")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	epsvCount, pasvCount := 0, 0
	for _, cmd := range srv.Commands() {
		switch cmd {
		case "EPSV":
			epsvCount++
		case "PASV":
			pasvCount++
		}
	}
	if epsvCount != 1 || pasvCount != 1 {
		t.Fatalf("expected exactly one EPSV and one PASV, got epsv=%d pasv=%d", epsvCount, pasvCount)
	}
}

// parsePortArg decodes a PORT command's h1,h2,h3,h4,p1,p2 argument into
// a dialable address, mirroring what a real server does with PORT.
func parsePortArg(t *testing.T, args string) string {
	t.Helper()
	parts := strings.Split(args, ",")
	if len(parts) != 6 {
		t.Fatalf("malformed PORT args %q", args)
	}
	host := strings.Join(parts[0:4], ".")
	p1, err := strconv.Atoi(parts[4])
	if err != nil {
		t.Fatal(err)
	}
	p2, err := strconv.Atoi(parts[5])
	if err != nil {
		t.Fatal(err)
	}
	return net.JoinHostPort(host, strconv.Itoa(p1*256+p2))
}

func TestActiveModeListing(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	var portArg string
	srv.Handle("PORT", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		portArg = args
		_ = tc.PrintfLine("200 PORT OK")
	})
	srv.Handle("LIST", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		conn, err := net.Dial("tcp", parsePortArg(t, portArg))
		if err != nil {
			_ = tc.PrintfLine("425 can't open data connection")
			return
		}
		_ = tc.PrintfLine("150 opening data connection")
		_, _ = conn.Write([]byte("-rw-r--r-- 1 owner group 4 Jan 1 00:00 a.txt\r\n"))
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{ActiveMode: true})
	defer c.Logout(context.Background())

	entries, err := c.ListAll(context.Background(), ".")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "a.txt" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	foundPort := false
	for _, cmd := range srv.Commands() {
		if cmd == "PORT" {
			foundPort = true
		}
		if cmd == "EPSV" || cmd == "PASV" {
			t.Fatalf("active mode should never send %s", cmd)
		}
	}
	if !foundPort {
		t.Fatal("expected a PORT command")
	}
}

func TestMLSDListing(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("FEAT", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("211-Features:")
		_ = tc.PrintfLine(" MLSD")
		_ = tc.PrintfLine("211 End")
	})
	ln := withPassiveData(t, srv)
	srv.Handle("MLSD", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("150 opening data connection")
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("type=file;size=4; a.txt\r\ntype=dir; sub\r\n"))
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	ctx := context.Background()
	entries, err := c.ListAll(ctx, ".")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Name != "a.txt" || entries[0].Kind != NodeFile {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Name != "sub" || entries[1].Kind != NodeDirectory {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestMLSDEmptyDirectoryNoDataConnection(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	ln := withPassiveData(t, srv)
	defer ln.Close()
	srv.Handle("FEAT", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("211-Features:")
		_ = tc.PrintfLine(" MLSD")
		_ = tc.PrintfLine("211 End")
	})
	srv.Handle("MLSD", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	entries, err := c.ListAll(context.Background(), ".")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected zero entries, got %+v", entries)
	}
}

func TestMakeDirRecursiveDuringLogin(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}

	created := map[string]bool{"/": true}
	srv.Handle("CWD", func(tc *textproto.Conn, s *ftptest.Session, args string) {
		var target string
		switch {
		case args == "/":
			target = "/"
		case args == "..":
			target = path.Dir(s.Dir)
		default:
			target = path.Join(s.Dir, args)
		}
		if !created[target] {
			_ = tc.PrintfLine("550 directory does not exist")
			return
		}
		s.Dir = target
		_ = tc.PrintfLine("250 directory changed")
	})
	srv.Handle("MKD", func(tc *textproto.Conn, s *ftptest.Session, args string) {
		full := path.Join(s.Dir, args)
		created[full] = true
		_ = tc.PrintfLine("257 %q created", full)
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{BaseDirectory: "/a/b/c"})
	defer c.Logout(context.Background())

	if c.WorkingDirectory() != "/a/b/c" {
		t.Fatalf("working directory = %q, want /a/b/c", c.WorkingDirectory())
	}
	if !created["/a"] || !created["/a/b"] || !created["/a/b/c"] {
		t.Fatalf("expected all three segments created, got %v", created)
	}
}

func TestRemoveDirNonEmpty(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}

	emptied := false
	srv.Handle("RMD", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		if args == "x" && !emptied {
			_ = tc.PrintfLine("550 directory not empty")
			return
		}
		_ = tc.PrintfLine("250 removed")
	})
	var deleted []string
	srv.Handle("DELE", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		deleted = append(deleted, args)
		emptied = true
		_ = tc.PrintfLine("250 deleted")
	})
	ln := withPassiveData(t, srv)
	srv.Handle("LIST", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("150 opening data connection")
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("-rw-r--r-- 1 owner group 4 Jan 1 00:00 a.txt\r\n"))
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	if err := c.RemoveDir(context.Background(), "x"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "a.txt" {
		t.Fatalf("expected a.txt deleted, got %v", deleted)
	}
}

func TestRemoveDirRoot(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	if err := c.RemoveDir(context.Background(), "/"); err != nil {
		t.Fatalf("RemoveDir(/) should be a no-op, got %v", err)
	}
	for _, cmd := range srv.Commands() {
		if cmd == "RMD" {
			t.Fatal("RMD should never be sent for the root")
		}
	}
}

func TestOpenReadDownload(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	ln := withPassiveData(t, srv)
	const payload = "hello from the data channel"
	srv.Handle("RETR", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("150 opening data connection")
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(payload))
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	stream, err := c.OpenRead(context.Background(), "readme.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	buf := make([]byte, len(payload))
	n, _ := stream.Read(buf)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if string(buf[:n]) != payload {
		t.Fatalf("got %q, want %q", buf[:n], payload)
	}
}

func TestOpenReadZeroByteImmediateComplete(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	ln := withPassiveData(t, srv)
	srv.Handle("RETR", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
		// Some servers answer a zero-byte file with 226 directly,
		// rather than 150 followed by a separate completion line.
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	stream, err := c.OpenRead(context.Background(), "empty.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	buf := make([]byte, 1)
	n, _ := stream.Read(buf)
	if n != 0 {
		t.Fatalf("read %d bytes, want 0", n)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	var deletedArg string
	srv.Handle("DELE", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		deletedArg = args
		_ = tc.PrintfLine("250 deleted")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	if err := c.DeleteFile(context.Background(), "old.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if deletedArg != "old.txt" {
		t.Fatalf("DELE arg = %q, want old.txt", deletedArg)
	}
}

func TestDeleteFile_Failure(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("DELE", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("550 no such file")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	if err := c.DeleteFile(context.Background(), "missing.txt"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetTransferMode(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	var typeArgs []string
	srv.Handle("TYPE", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		typeArgs = append(typeArgs, args)
		_ = tc.PrintfLine("200 type set")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	// login already sent the default ASCII TYPE.
	if len(typeArgs) != 1 || typeArgs[0] != "A" {
		t.Fatalf("typeArgs after login = %v, want [A]", typeArgs)
	}

	ctx := context.Background()
	if err := c.SetTransferMode(ctx, ModeBinary, 0); err != nil {
		t.Fatalf("SetTransferMode: %v", err)
	}
	if len(typeArgs) != 2 || typeArgs[1] != "I" {
		t.Fatalf("typeArgs = %v, want second entry I", typeArgs)
	}

	// Switching to the same mode again must not resend TYPE.
	if err := c.SetTransferMode(ctx, ModeBinary, 0); err != nil {
		t.Fatalf("SetTransferMode (repeat): %v", err)
	}
	if len(typeArgs) != 2 {
		t.Fatalf("expected no additional TYPE command, got %v", typeArgs)
	}
}

func TestKeepAliveSendsNoopWhenIdle(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	noopCh := make(chan struct{}, 1)
	srv.Handle("NOOP", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		select {
		case noopCh <- struct{}{}:
		default:
		}
		_ = tc.PrintfLine("200 noop ok")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{IdleTimeout: 50 * time.Millisecond})
	defer c.Logout(context.Background())

	select {
	case <-noopCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a keep-alive NOOP while idle")
	}
}

func TestRenameAndSize(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("RNFR", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("350 ready for RNTO")
	})
	srv.Handle("RNTO", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("250 renamed")
	})
	srv.Handle("SIZE", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("213 1024")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	ctx := context.Background()
	if err := c.Rename(ctx, "old.txt", "new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	size, err := c.Size(ctx, "new.txt")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1024 {
		t.Fatalf("size = %d, want 1024", size)
	}
}

func TestModTimeSetModTimeChmod(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	var sawMFMT, sawSITE string
	srv.Handle("MDTM", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("213 20231220143000")
	})
	srv.Handle("MFMT", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		sawMFMT = args
		_ = tc.PrintfLine("213 modified")
	})
	srv.Handle("SITE", func(tc *textproto.Conn, _ *ftptest.Session, args string) {
		sawSITE = args
		_ = tc.PrintfLine("200 SITE command OK")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	ctx := context.Background()
	mt, err := c.ModTime(ctx, "file.txt")
	if err != nil {
		t.Fatalf("ModTime: %v", err)
	}
	want := time.Date(2023, 12, 20, 14, 30, 0, 0, time.UTC)
	if !mt.Equal(want) {
		t.Fatalf("ModTime = %v, want %v", mt, want)
	}

	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.SetModTime(ctx, "file.txt", stamp); err != nil {
		t.Fatalf("SetModTime: %v", err)
	}
	if sawMFMT != "20240102030405 file.txt" {
		t.Fatalf("MFMT args = %q", sawMFMT)
	}

	if err := c.Chmod(ctx, "script.sh", 0o755); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	if sawSITE != "CHMOD 0755 script.sh" {
		t.Fatalf("SITE args = %q", sawSITE)
	}
}

func TestNameList(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	ln := withPassiveData(t, srv)
	defer ln.Close()
	srv.Handle("NLST", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("150 opening data connection")
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fmt.Fprint(conn, "a.txt\r\nb.txt\r\n")
		conn.Close()
		_ = tc.PrintfLine("226 transfer complete")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	names, err := c.NameList(context.Background(), "/")
	if err != nil {
		t.Fatalf("NameList: %v", err)
	}
	if len(names) != 2 || names[0] != "a.txt" || names[1] != "b.txt" {
		t.Fatalf("names = %v", names)
	}
}

func TestHostSentBeforeLoginWhenConfigured(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Handle("HOST", func(tc *textproto.Conn, _ *ftptest.Session, _ string) {
		_ = tc.PrintfLine("220 host accepted")
	})
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{VirtualHost: "virt.example.com"})
	defer c.Logout(context.Background())

	cmds := srv.Commands()
	if len(cmds) == 0 || cmds[0] != "HOST" {
		t.Fatalf("expected HOST to be the first command sent, got %v", cmds)
	}
}

func TestChangeDirRejectsDegenerate(t *testing.T) {
	t.Parallel()
	srv, err := ftptest.New()
	if err != nil {
		t.Fatal(err)
	}
	srv.Serve()
	defer srv.Close()

	c := dialTestServer(t, srv, Config{})
	defer c.Logout(context.Background())

	for _, dir := range []string{"", "."} {
		if err := c.ChangeDir(context.Background(), dir); !IsKind(err, KindPrecondition) {
			t.Fatalf("ChangeDir(%q) error = %v, want KindPrecondition", dir, err)
		}
	}
}
