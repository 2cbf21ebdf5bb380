package server

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bketelsen/runison"
	"github.com/bketelsen/runison/transport"
	"github.com/bketelsen/runison/wire"
)

func newTestServer(t *testing.T, root string) *Server {
	t.Helper()
	cfg := &runison.Config{RootPath: root}
	s, err := New(cfg, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		if err := s.Run(); err != nil {
			t.Logf("server Run returned: %v", err)
		}
	}()
	return s
}

func waitFor(t *testing.T, events <-chan transport.Event, kind transport.EventKind) transport.Event {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

func TestDuplicateParticipantNameRejected(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)
	defer s.Stop()

	time.Sleep(50 * time.Millisecond) // allow Indexing -> Running

	c1, e1, err := transport.Connect("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c1.Close()
	c2, e2, err := transport.Connect("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	if err := c1.Send(e1, wire.RegisterParticipant{Name: "alice", PublicAddr: "1.2.3.4:1"}); err != nil {
		t.Fatal(err)
	}
	// First registration gets an (empty) ParticipantList.
	ev := waitFor(t, c1.Events(), transport.MessageEvent)
	if _, ok := ev.Message.(wire.ParticipantList); !ok {
		t.Fatalf("expected ParticipantList, got %T", ev.Message)
	}

	if err := c2.Send(e2, wire.RegisterParticipant{Name: "alice", PublicAddr: "5.6.7.8:1"}); err != nil {
		t.Fatal(err)
	}

	// The duplicate gets no reply at all; confirm by instead observing
	// that a subsequent, distinguishable request on the same connection
	// receives its own reply without an intervening ParticipantList.
	if err := c2.Send(e2, wire.GetStatus{}); err != nil {
		t.Fatal(err)
	}
	ev = waitFor(t, c2.Events(), transport.MessageEvent)
	if _, ok := ev.Message.(wire.ServerStatus); !ok {
		t.Fatalf("expected ServerStatus (duplicate register must produce no reply), got %T", ev.Message)
	}
}

func TestSendMeStreamsChunks(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("x"), 65537) // exercises S6: two chunks, 65536 + 1
	if err := os.WriteFile(filepath.Join(root, "f1"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, root)
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)

	c, e, err := transport.Connect("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Send(e, wire.SendMe{RelativePath: "f1"}); err != nil {
		t.Fatal(err)
	}

	ev := waitFor(t, c.Events(), transport.MessageEvent)
	fr, ok := ev.Message.(wire.FileRequest)
	if !ok {
		t.Fatalf("expected FileRequest, got %T", ev.Message)
	}
	if fr.Size != uint64(len(content)) {
		t.Fatalf("FileRequest.Size = %d, want %d", fr.Size, len(content))
	}

	var received []byte
	var chunkSizes []int
	for len(received) < len(content) {
		ev := waitFor(t, c.Events(), transport.MessageEvent)
		chunk, ok := ev.Message.(wire.Chunk)
		if !ok {
			t.Fatalf("expected Chunk, got %T", ev.Message)
		}
		chunkSizes = append(chunkSizes, len(chunk.Bytes))
		received = append(received, chunk.Bytes...)
	}

	if !bytes.Equal(received, content) {
		t.Fatal("received bytes do not match the source file")
	}
	if len(chunkSizes) != 2 || chunkSizes[0] != 65536 || chunkSizes[1] != 1 {
		t.Fatalf("chunk sizes = %v, want [65536 1]", chunkSizes)
	}
}

func TestRemovedEndpointCleansUpRegistry(t *testing.T) {
	root := t.TempDir()
	s := newTestServer(t, root)
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)

	c, e, err := transport.Connect("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Send(e, wire.RegisterParticipant{Name: "alice", PublicAddr: "1.2.3.4:1"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, c.Events(), transport.MessageEvent) // ParticipantList

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// Give the server loop a moment to process RemovedEndpoint, then
	// verify via a fresh connection that "alice" can register again.
	time.Sleep(100 * time.Millisecond)

	c2, e2, err := transport.Connect("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if err := c2.Send(e2, wire.RegisterParticipant{Name: "alice", PublicAddr: "9.9.9.9:1"}); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, c2.Events(), transport.MessageEvent)
	if _, ok := ev.Message.(wire.ParticipantList); !ok {
		t.Fatalf("expected re-registration of \"alice\" to succeed after cleanup, got %T", ev.Message)
	}
}
