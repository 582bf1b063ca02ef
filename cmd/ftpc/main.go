// Command ftpc is a thin command-line façade over the ftp package: a
// handful of subcommands (ls, get, put, mkdir, rmdir, rename, size,
// delete) that wire flags and an optional YAML config file into an
// ftp.Config and run one operation per invocation.
//
// Usage:
//
//	ftpc [flags] <command> [args]
//
// Commands:
//
//	ls <dir>               list a directory
//	get <remote> <local>   download a file
//	put <local> <remote>   upload a file
//	mkdir <dir>            create a directory, recursively
//	rmdir <dir>            remove a directory, recursively
//	rename <old> <new>     rename a file or directory
//	size <remote>          print a file's size in bytes
//	delete <remote>        delete a file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/arvo-dev/ftpc/internal/config"

	"github.com/arvo-dev/ftpc"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("ftpc", flag.ContinueOnError)
	host := fs.String("host", "", "FTP server host (required unless -config sets it)")
	port := fs.Int("port", 0, "control port (default 21, or 990 for -implicit-tls)")
	user := fs.String("user", "anonymous", "username")
	pass := fs.String("pass", "", "password")
	configPath := fs.String("config", "", "path to a YAML config file")
	implicitTLS := fs.Bool("implicit-tls", false, "use implicit TLS (FTPS on a dedicated port)")
	explicitTLS := fs.Bool("explicit-tls", false, "use explicit TLS (AUTH TLS)")
	active := fs.Bool("active", false, "use active mode (PORT) instead of passive")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := newLogger(*debug)

	cfg := ftp.Config{
		Host:       *host,
		Port:       *port,
		Username:   *user,
		Password:   *pass,
		ActiveMode: *active,
	}
	switch {
	case *implicitTLS:
		cfg.Encryption = ftp.EncryptionImplicit
	case *explicitTLS:
		cfg.Encryption = ftp.EncryptionExplicit
	}

	if *configPath != "" {
		if err := applyConfigFile(&cfg, *configPath); err != nil {
			logger.Error("loading config file", "error", err)
			return 1
		}
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ftpc [flags] <command> [args]")
		fs.PrintDefaults()
		return 2
	}

	ctx := context.Background()
	client, err := ftp.DialConfig(ctx, cfg, ftp.WithLogger(logger))
	if err != nil {
		logger.Error("connecting", "error", err)
		return 1
	}
	defer client.Logout(ctx)

	if err := dispatch(ctx, client, rest[0], rest[1:]); err != nil {
		logger.Error("command failed", "command", rest[0], "error", err)
		return 1
	}
	return 0
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
}

func applyConfigFile(cfg *ftp.Config, path string) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.Username != "" {
		cfg.Username = f.Username
	}
	if f.Password != "" {
		cfg.Password = f.Password
	}
	if f.BaseDirectory != "" {
		cfg.BaseDirectory = f.BaseDirectory
	}
	if f.UsePassive != nil {
		cfg.ActiveMode = !*f.UsePassive
	}
	switch f.Encryption {
	case "implicit":
		cfg.Encryption = ftp.EncryptionImplicit
	case "explicit":
		cfg.Encryption = ftp.EncryptionExplicit
	}
	switch f.IPVersion {
	case "v4":
		cfg.IPVersion = ftp.IPv4Only
	case "v6":
		cfg.IPVersion = ftp.IPv6Only
	}
	cfg.TrustAllCertificates = f.TrustAllCerts
	if f.TimeoutSecs != 0 {
		cfg.TimeoutSeconds = f.TimeoutSecs
	}
	if f.Mode == "Binary" {
		cfg.Mode = ftp.ModeBinary
	}
	return nil
}

func dispatch(ctx context.Context, c *ftp.Client, cmd string, args []string) error {
	switch cmd {
	case "ls":
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		entries, err := c.ListAll(ctx, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-10s %10d %s\n", e.Kind, e.Size, e.Name)
		}
		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <remote> <local>")
		}
		return downloadFile(ctx, c, args[0], args[1])

	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <local> <remote>")
		}
		return uploadFile(ctx, c, args[0], args[1])

	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir <dir>")
		}
		return c.MakeDir(ctx, args[0])

	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: rmdir <dir>")
		}
		return c.RemoveDir(ctx, args[0])

	case "rename":
		if len(args) != 2 {
			return fmt.Errorf("usage: rename <old> <new>")
		}
		return c.Rename(ctx, args[0], args[1])

	case "size":
		if len(args) != 1 {
			return fmt.Errorf("usage: size <remote>")
		}
		n, err := c.Size(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <remote>")
		}
		return c.DeleteFile(ctx, args[0])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func downloadFile(ctx context.Context, c *ftp.Client, remote, local string) error {
	src, err := c.OpenRead(ctx, remote)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func uploadFile(ctx context.Context, c *ftp.Client, local, remote string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := c.OpenWrite(ctx, remote)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
