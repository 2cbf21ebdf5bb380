package transport

import (
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/bketelsen/runison/wire"
)

func TestListenDialSendReceive(t *testing.T) {
	defer leaktest.Check(t)()

	srv, err := Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cli, clientEndpoint, err := Connect("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	var serverEndpoint EndpointID
	select {
	case ev := <-srv.Events():
		if ev.Kind != AddedEndpoint {
			t.Fatalf("expected AddedEndpoint, got %v", ev.Kind)
		}
		serverEndpoint = ev.Endpoint
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddedEndpoint")
	}

	want := wire.Greetings{Name: "alice", Text: "hi"}
	if err := cli.Send(clientEndpoint, want); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-srv.Events():
		if ev.Kind != MessageEvent {
			t.Fatalf("expected MessageEvent, got %v", ev.Kind)
		}
		if ev.Endpoint != serverEndpoint {
			t.Fatalf("got endpoint %v, want %v", ev.Endpoint, serverEndpoint)
		}
		got, ok := ev.Message.(wire.Greetings)
		if !ok {
			t.Fatalf("message has wrong type: %T", ev.Message)
		}
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for MessageEvent")
	}
}

func TestCloseEmitsRemovedEndpoint(t *testing.T) {
	defer leaktest.Check(t)()

	srv, err := Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	cli, _, err := Connect("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-srv.Events():
		if ev.Kind != AddedEndpoint {
			t.Fatalf("expected AddedEndpoint, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AddedEndpoint")
	}

	if err := cli.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-srv.Events():
		if ev.Kind != RemovedEndpoint {
			t.Fatalf("expected RemovedEndpoint, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RemovedEndpoint")
	}
}
