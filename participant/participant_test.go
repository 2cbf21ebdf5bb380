package participant

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bketelsen/runison"
	"github.com/bketelsen/runison/server"
)

// TestFirstRunFetchesServerFile exercises scenario S1: a server with
// one file and an empty participant root. After a session the
// participant should end up with a byte-identical copy of the file.
func TestFirstRunFetchesServerFile(t *testing.T) {
	serverRoot := t.TempDir()
	content := []byte("0123456789")
	if err := os.WriteFile(filepath.Join(serverRoot, "f1"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &runison.Config{RootPath: serverRoot}
	srv, err := server.New(cfg, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Run()
	defer srv.Stop()

	time.Sleep(50 * time.Millisecond)

	participantRoot := t.TempDir()
	pcfg := &runison.Config{RootPath: participantRoot}
	p, err := New(pcfg, "bob", "tcp", srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run() }()

	deadline := time.After(3 * time.Second)
	target := filepath.Join(participantRoot, "f1")
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for file to be replicated")
		case err := <-done:
			t.Fatalf("participant session ended early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		got, err := os.ReadFile(target)
		if err == nil {
			if string(got) != string(content) {
				t.Fatalf("got %q, want %q", got, content)
			}
			return
		}
	}
}
