package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bketelsen/runison"
)

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []Message{
		RegisterParticipant{Name: "alice", PublicAddr: "127.0.0.1:9000"},
		GetStatus{},
		GetNodes{},
		GetChangeset{RemoteTree: []NodeEntry{{Key: "f1", Node: runison.Node{IsFile: true, Len: 5}}}},
		SendMe{RelativePath: "f1"},
		ParticipantList{Participants: []ParticipantAddr{{Name: "bob", Addr: "10.0.0.1:1"}}},
		ServerStatus{Status: Running},
		NodeList{Entries: []NodeEntry{{Key: "", Node: runison.Node{IsDir: true}}}},
		Changeset{Changes: []ChangeEntry{{Type: runison.Added, Key: "f1"}}},
		FileRequest{Name: "f1", Size: 65537},
		Chunk{Bytes: []byte("hello")},
		CanReceive{OK: true},
		Greetings{Name: "alice", Text: "hi"},
	}

	for _, want := range cases {
		got := roundTrip(t, want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", want.Kind(), diff)
		}
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	// A length prefix exceeding MaxFrameSize.
	lenBuf := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(lenBuf)

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected an error for an oversized frame")
	}
}

func TestReadMessageUnknownTagIsDeserializationError(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{0xFE} // unknown tag, no payload
	lenPrefix := []byte{0, 0, 0, byte(len(body))}
	buf.Write(lenPrefix)
	buf.Write(body)

	_, err := ReadMessage(&buf)
	if err == nil {
		t.Fatal("expected a deserialization error for an unknown tag")
	}
	if !errors.Is(err, runison.ErrDeserialization) {
		t.Fatalf("expected ErrDeserialization, got %v", err)
	}
}

func TestChunkSizeLimit(t *testing.T) {
	if MaxChunkSize != 65536 {
		t.Fatalf("MaxChunkSize = %d, want 65536", MaxChunkSize)
	}
}
