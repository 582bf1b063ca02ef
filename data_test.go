package ftp

import "testing"

func TestParsePasvAddr(t *testing.T) {
	host, port, err := parsePasvAddr("Entering Passive Mode (10,0,0,1,19,136).")
	if err != nil {
		t.Fatal(err)
	}
	if host != "10.0.0.1" {
		t.Errorf("host = %q, want 10.0.0.1", host)
	}
	if port != 19*256+136 {
		t.Errorf("port = %d, want %d", port, 19*256+136)
	}
}

func TestParsePasvAddr_NoMatch(t *testing.T) {
	if _, _, err := parsePasvAddr("not a pasv reply"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEpsvPort(t *testing.T) {
	port, err := parseEpsvPort("Entering Extended Passive Mode (|||5000|)")
	if err != nil {
		t.Fatal(err)
	}
	if port != 5000 {
		t.Errorf("port = %d, want 5000", port)
	}
}

func TestFormatPortArg(t *testing.T) {
	got := formatPortArg("192.168.1.5", 5000)
	want := "192,168,1,5,19,136"
	if got != want {
		t.Errorf("formatPortArg() = %q, want %q", got, want)
	}
}

func TestRandomActivePort_Range(t *testing.T) {
	for i := 0; i < 100; i++ {
		port := randomActivePort()
		if port < 5<<8 || port >= 200<<8+200 {
			t.Fatalf("port %d outside expected band", port)
		}
	}
}
