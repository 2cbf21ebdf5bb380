// Package server implements the discovery endpoint's state machine:
// Starting, Indexing, Running, Stopping. It owns the participant
// registry, the current index, and every outbound file transfer, and
// mutates all three only from its own event loop, per the
// single-threaded cooperative scheduling model.
//
// This generalizes the accept-loop-plus-single-owner shape of
// bobg/bs's dsync.Tree.RunPrimary (ingest the tree, then react to
// filesystem and anchor events from one goroutine) from a
// content-addressed replication target to runison's registry-and-
// changeset protocol.
package server

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bketelsen/runison"
	"github.com/bketelsen/runison/internal/indexstore"
	"github.com/bketelsen/runison/transport"
	"github.com/bketelsen/runison/wire"
)

// State is the server's lifecycle state.
type State int

const (
	Starting State = iota
	Indexing
	Running
	Stopping
)

func (s State) wireStatus() wire.ServerStatusValue {
	switch s {
	case Starting:
		return wire.Starting
	case Indexing:
		return wire.Indexing
	case Running:
		return wire.Running
	default:
		return wire.Stopping
	}
}

// participant is one registry entry.
type participant struct {
	name     string
	addr     string
	endpoint transport.EndpointID
}

// transfer tracks one in-progress outbound SendMe response.
type transfer struct {
	name string
	size uint64
	file *os.File
}

// Server is the discovery endpoint. Construct with New and drive with
// Run; Run blocks until the transport closes or Stop is called.
type Server struct {
	cfg   *runison.Config
	store *indexstore.Store
	t     *transport.Transport

	state State
	index *runison.Index

	// byName and byEndpoint index the registry by name and, separately,
	// by endpoint, because RemovedEndpoint and UnregisterParticipant look
	// it up by different keys.
	byName     map[string]*participant
	byEndpoint map[transport.EndpointID]*participant

	// outbound is, per endpoint, the FIFO queue of requested transfers.
	// Only the head of each queue is ever streaming: since a Chunk
	// carries no file identifier, at most one file may be in flight to
	// a given endpoint at a time, so a second SendMe queues behind the
	// first rather than interleaving with it.
	outbound map[transport.EndpointID][]*transfer

	// internalEvents carries self-enqueued SendChunk continuations so
	// they interleave fairly with the transport's event queue instead
	// of running to completion inline.
	internalEvents chan sendChunkEvent
}

type sendChunkEvent struct {
	endpoint transport.EndpointID
	name     string
}

// New constructs a Server bound to cfg's root and listening on
// network/addr.
func New(cfg *runison.Config, network, addr string) (*Server, error) {
	t, err := transport.Listen(network, addr)
	if err != nil {
		return nil, errors.Wrap(runison.ErrListenFailed, err.Error())
	}
	return &Server{
		cfg:            cfg,
		store:          indexstore.New(cfg),
		t:              t,
		state:          Starting,
		byName:         make(map[string]*participant),
		byEndpoint:     make(map[transport.EndpointID]*participant),
		outbound:       make(map[transport.EndpointID][]*transfer),
		internalEvents: make(chan sendChunkEvent, 256),
	}, nil
}

// Addr returns the bound control address.
func (s *Server) Addr() string { return s.t.Addr().String() }

// Run transitions Starting -> Indexing -> Running and then services
// the event loop until the transport is closed.
func (s *Server) Run() error {
	s.state = Indexing
	if err := s.store.MoveIndex(); err != nil {
		return err
	}
	idx, err := s.store.BuildIndex()
	if err != nil {
		return err
	}
	s.index = idx
	s.state = Running
	log.Info("server running")

	events := s.t.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleTransportEvent(ev)
		case sc := <-s.internalEvents:
			s.handleSendChunk(sc.endpoint, sc.name)
		}
	}
}

// Stop closes the transport, ending Run's loop.
func (s *Server) Stop() error {
	s.state = Stopping
	return s.t.Close()
}

func (s *Server) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.MessageEvent:
		s.handleMessage(ev.Endpoint, ev.Message)
	case transport.RemovedEndpoint:
		s.handleRemovedEndpoint(ev.Endpoint)
	case transport.DeserializationErrorEvent:
		log.WithField("endpoint", ev.Endpoint).Warn("dropped malformed frame")
	}
}

func (s *Server) handleMessage(endpoint transport.EndpointID, msg wire.Message) {
	switch m := msg.(type) {
	case wire.RegisterParticipant:
		s.handleRegister(endpoint, m)
	case wire.UnregisterParticipant:
		s.handleUnregister(m)
	case wire.GetStatus:
		s.send(endpoint, wire.ServerStatus{Status: s.state.wireStatus()})
	case wire.GetNodes:
		s.handleGetNodes(endpoint)
	case wire.GetChangeset:
		s.handleGetChangeset(endpoint, m)
	case wire.SendMe:
		s.handleSendMe(endpoint, m)
	default:
		log.WithField("kind", msg.Kind()).Warn("server: unexpected message")
	}
}

func (s *Server) handleRegister(endpoint transport.EndpointID, m wire.RegisterParticipant) {
	if _, taken := s.byName[m.Name]; taken {
		log.WithField("name", m.Name).Info("rejecting duplicate participant name")
		return
	}

	p := &participant{name: m.Name, addr: m.PublicAddr, endpoint: endpoint}
	s.byName[m.Name] = p
	s.byEndpoint[endpoint] = p

	existing := make([]wire.ParticipantAddr, 0, len(s.byName)-1)
	for name, other := range s.byName {
		if name == m.Name {
			continue
		}
		existing = append(existing, wire.ParticipantAddr{Name: other.name, Addr: other.addr})
	}
	s.send(endpoint, wire.ParticipantList{Participants: existing})

	for name, other := range s.byName {
		if name == m.Name {
			continue
		}
		s.send(other.endpoint, wire.ParticipantNotificationAdded{Name: m.Name, Addr: m.PublicAddr})
	}
}

func (s *Server) handleUnregister(m wire.UnregisterParticipant) {
	p, ok := s.byName[m.Name]
	if !ok {
		return
	}
	s.removeParticipant(p)
}

func (s *Server) removeParticipant(p *participant) {
	delete(s.byName, p.name)
	delete(s.byEndpoint, p.endpoint)
	for name, other := range s.byName {
		if name == p.name {
			continue
		}
		s.send(other.endpoint, wire.ParticipantNotificationRemoved{Name: p.name})
	}
}

func (s *Server) handleGetNodes(endpoint transport.EndpointID) {
	if s.state != Running {
		s.send(endpoint, wire.ServerStatus{Status: s.state.wireStatus()})
		return
	}
	s.send(endpoint, wire.NodeList{Entries: wire.IndexToEntries(s.index)})
}

func (s *Server) handleGetChangeset(endpoint transport.EndpointID, m wire.GetChangeset) {
	if s.state != Running {
		s.send(endpoint, wire.ServerStatus{Status: s.state.wireStatus()})
		return
	}
	remote := wire.EntriesToIndex(m.RemoteTree)
	changes := indexstore.RemoteChanges(remote, s.index)
	if len(changes) == 0 {
		return
	}
	s.send(endpoint, wire.Changeset{Changes: wire.ChangesToEntries(changes)})
}

func (s *Server) handleSendMe(endpoint transport.EndpointID, m wire.SendMe) {
	abs := filepath.Join(s.cfg.RootPath, m.RelativePath)
	fi, err := os.Stat(abs)
	if err != nil || !fi.Mode().IsRegular() {
		log.WithField("path", m.RelativePath).Info("SendMe: file missing or not regular, dropping")
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		log.WithField("path", m.RelativePath).WithError(err).Info("SendMe: open failed, dropping")
		return
	}

	tr := &transfer{name: m.RelativePath, size: uint64(fi.Size()), file: f}
	queue := s.outbound[endpoint]
	s.outbound[endpoint] = append(queue, tr)
	if len(queue) == 0 {
		s.startTransfer(endpoint, tr)
	}
}

// startTransfer announces the head-of-queue transfer's name and size
// so the receiver can open its destination file and know when it is
// complete, then begins streaming its chunks.
func (s *Server) startTransfer(endpoint transport.EndpointID, tr *transfer) {
	s.send(endpoint, wire.FileRequest{Name: tr.name, Size: tr.size})
	s.enqueueSendChunk(endpoint, tr.name)
}

func (s *Server) enqueueSendChunk(endpoint transport.EndpointID, name string) {
	select {
	case s.internalEvents <- sendChunkEvent{endpoint: endpoint, name: name}:
	default:
		// Internal queue is saturated; drop and let nothing advance this
		// transfer further. This should not happen in practice since the
		// queue capacity comfortably exceeds concurrent transfers.
		log.WithField("name", name).Warn("internal event queue full, stalling transfer")
	}
}

func (s *Server) handleSendChunk(endpoint transport.EndpointID, name string) {
	queue := s.outbound[endpoint]
	if len(queue) == 0 || queue[0].name != name {
		return
	}
	tr := queue[0]

	buf := make([]byte, wire.MaxChunkSize)
	n, err := tr.file.Read(buf)
	if n > 0 {
		s.send(endpoint, wire.Chunk{Bytes: buf[:n]})
		s.enqueueSendChunk(endpoint, name)
		return
	}
	if err != nil && err != io.EOF {
		log.WithField("name", name).WithError(err).Warn("reading transfer file")
	}

	tr.file.Close()
	queue = queue[1:]
	s.outbound[endpoint] = queue
	if len(queue) == 0 {
		delete(s.outbound, endpoint)
		return
	}
	s.startTransfer(endpoint, queue[0])
}

func (s *Server) handleRemovedEndpoint(endpoint transport.EndpointID) {
	if p, ok := s.byEndpoint[endpoint]; ok {
		s.removeParticipant(p)
	}
	if queue, ok := s.outbound[endpoint]; ok {
		for _, tr := range queue {
			tr.file.Close()
		}
		delete(s.outbound, endpoint)
	}
}

func (s *Server) send(endpoint transport.EndpointID, msg wire.Message) {
	if err := s.t.Send(endpoint, msg); err != nil {
		log.WithField("endpoint", endpoint).WithError(err).Info("send failed, continuing")
	}
}
