package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ftpc.yaml")
	contents := `
host: ftp.example.com
port: 990
username: alice
password: secret
base_directory: /incoming
use_passive: false
encryption: implicit
ip_version: v4
ignore_certificate_errors: true
timeout_seconds: 45
mode: Binary
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if f.Host != "ftp.example.com" || f.Port != 990 || f.Username != "alice" {
		t.Fatalf("got %+v", f)
	}
	if f.UsePassive == nil || *f.UsePassive != false {
		t.Fatalf("expected use_passive=false, got %+v", f.UsePassive)
	}
	if f.Encryption != "implicit" || f.Mode != "Binary" {
		t.Fatalf("got %+v", f)
	}
	if !f.TrustAllCerts {
		t.Fatal("expected TrustAllCerts=true")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/ftpc.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
