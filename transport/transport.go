// Package transport carries runison's two wire channels: a
// connection-oriented control/bulk stream (TCP) used for every
// message except peer-to-peer Greetings, and a datagram gossip
// channel (UDP) used only for Greetings between participants.
//
// The control/bulk side multiplexes every accepted or dialed
// connection's events — AddedEndpoint, RemovedEndpoint,
// Message(endpoint, msg), DeserializationError(endpoint) — into a
// single channel, so the owning state machine (server or
// participant) can process them one at a time from its own loop, as
// required by the single-threaded, cooperative scheduling model: no
// lock is needed because only that loop ever touches the endpoint
// registry.
//
// This generalizes the accept/serve shape of bobg/bs's
// cmd/bs/serve.go (net.Listen, then hand connections to a server
// object) from gRPC's request/response calls to runison's
// asynchronous, server-initiated-notification-carrying protocol.
package transport

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bketelsen/runison"
	"github.com/bketelsen/runison/wire"
)

// EndpointID names one control/bulk connection. It is assigned
// locally (by whichever side accepted or dialed the connection) using
// a random UUID rather than, say, the remote address, because a
// participant may reconnect from the same address and the state
// machine needs to tell old and new connections apart.
type EndpointID = uuid.UUID

// EventKind classifies a Transport event.
type EventKind int

const (
	AddedEndpoint EventKind = iota
	RemovedEndpoint
	MessageEvent
	DeserializationErrorEvent
)

// Event is one item from a Transport's event queue.
type Event struct {
	Kind     EventKind
	Endpoint EndpointID
	Message  wire.Message
}

// Transport owns a listener and every connection accepted or dialed
// through it, and multiplexes their traffic into one event queue.
type Transport struct {
	listener net.Listener
	events   chan Event

	mu    sync.Mutex
	conns map[EndpointID]net.Conn
}

// Listen binds a control listener on network/addr (normally "tcp")
// and begins accepting connections. If the address cannot be bound it
// returns the net.Listen error as is; server.New wraps that as
// ErrListenFailed, matching the fatal startup policy for the server's
// Starting state.
func Listen(network, addr string) (*Transport, error) {
	lis, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	t := newTransport(lis)
	go t.acceptLoop()
	return t, nil
}

func newTransport(lis net.Listener) *Transport {
	return &Transport{
		listener: lis,
		events:   make(chan Event, 1024),
		conns:    make(map[EndpointID]net.Conn),
	}
}

// Connect dials network/addr without binding a listener, for callers
// (participants) that only ever originate one outbound connection and
// never accept inbound ones. It returns the new Transport and the
// EndpointID assigned to the dialed connection.
func Connect(network, addr string) (*Transport, EndpointID, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, EndpointID{}, err
	}
	t := newTransport(nil)
	id := t.addConn(conn)
	go t.readLoop(id, conn)
	return t, id, nil
}

// Dial opens a control connection to addr and registers it as an
// endpoint, starting its reader loop, on a Transport that already
// exists. Participants reach the server's discovery endpoint through
// Connect instead.
func (t *Transport) Dial(network, addr string) (EndpointID, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return EndpointID{}, err
	}
	id := t.addConn(conn)
	go t.readLoop(id, conn)
	return id, nil
}

// Addr returns the address the listener is bound to. Useful when the
// caller asked for an ephemeral port ("addr" ending in ":0" or ":").
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Events returns the channel every AddedEndpoint, RemovedEndpoint,
// Message and DeserializationError event arrives on.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Send writes msg to the endpoint's connection. Errors here are
// non-fatal on a non-discovery endpoint per the error handling
// design; the caller logs and continues.
func (t *Transport) Send(id EndpointID, msg wire.Message) error {
	t.mu.Lock()
	conn, ok := t.conns[id]
	t.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown endpoint %s", id)
	}
	return wire.WriteMessage(conn, msg)
}

// Close shuts down the listener and every connection it has accepted
// or dialed.
func (t *Transport) Close() error {
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}

func (t *Transport) addConn(conn net.Conn) EndpointID {
	id := uuid.New()
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()
	return id
}

func (t *Transport) removeConn(id EndpointID) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		id := t.addConn(conn)
		t.events <- Event{Kind: AddedEndpoint, Endpoint: id}
		go t.readLoop(id, conn)
	}
}

// readLoop decodes frames off conn until it closes, pushing a
// Message event for each successfully decoded frame, a
// DeserializationError event (and nothing else — the connection
// stays open) for a malformed one, and finally a RemovedEndpoint
// event when the connection is gone.
func (t *Transport) readLoop(id EndpointID, conn net.Conn) {
	defer func() {
		t.removeConn(id)
		t.events <- Event{Kind: RemovedEndpoint, Endpoint: id}
	}()

	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, runison.ErrDeserialization) {
				log.WithField("endpoint", id).Warn("dropping malformed frame")
				t.events <- Event{Kind: DeserializationErrorEvent, Endpoint: id}
				continue
			}
			// Any other transport error (reset, closed, etc.) ends the
			// connection.
			return
		}
		t.events <- Event{Kind: MessageEvent, Endpoint: id, Message: msg}
	}
}
