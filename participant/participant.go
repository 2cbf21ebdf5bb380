// Package participant implements the replica side of the protocol: it
// registers with a server, learns about peers, fetches whatever the
// server says has changed, and gossips Greetings to other
// participants it learns about.
//
// Like server.Server, this generalizes the single-goroutine-owns-its-
// state shape of bobg/bs's dsync.Tree.RunPrimary, here applied to the
// consumer side of the protocol instead of the producer side.
package participant

import (
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/bketelsen/runison"
	"github.com/bketelsen/runison/internal/indexstore"
	"github.com/bketelsen/runison/transport"
	"github.com/bketelsen/runison/wire"
)

// knownPeersCacheSize bounds how many peer gossip addresses a
// participant remembers at once. A session that churns through many
// short-lived peers should not grow this map without limit; eviction
// just means the next ParticipantNotificationAdded for a name re-sends
// Greetings, which is harmless.
const knownPeersCacheSize = 1024

// inboundTransfer tracks one file being received over the discovery
// endpoint.
type inboundTransfer struct {
	name         string
	expectedSize uint64
	currentSize  uint64
	file         *os.File
}

// peer is one other participant this one has learned about.
type peer struct {
	name string
	addr string
}

// Participant is the replica-side state machine. Construct with New
// and drive with Run; Run blocks until the discovery endpoint is
// lost.
type Participant struct {
	cfg  *runison.Config
	name string

	t      *transport.Transport
	gossip *transport.Gossip
	store  *indexstore.Store

	discovery transport.EndpointID
	index     *runison.Index

	// knownPeers caches gossip addresses of peers already greeted, the
	// way bs/lru wraps a blob store's Get with a bounded cache in front
	// of it: a hit here skips re-sending Greetings, a miss greets and
	// inserts.
	knownPeers *lru.Cache
	inbound    map[transport.EndpointID]*inboundTransfer
}

// New dials network/addr as the discovery endpoint and binds a gossip
// socket. Run registers with the server under name.
func New(cfg *runison.Config, name, network, addr string) (*Participant, error) {
	g, err := transport.NewGossip()
	if err != nil {
		return nil, err
	}

	t, endpoint, err := transport.Connect(network, addr)
	if err != nil {
		g.Close()
		return nil, errors.Wrap(runison.ErrConnectFailed, err.Error())
	}

	cache, err := lru.New(knownPeersCacheSize)
	if err != nil {
		g.Close()
		t.Close()
		return nil, err
	}

	p := &Participant{
		cfg:        cfg,
		name:       name,
		t:          t,
		gossip:     g,
		store:      indexstore.New(cfg),
		discovery:  endpoint,
		knownPeers: cache,
		inbound:    make(map[transport.EndpointID]*inboundTransfer),
	}
	return p, nil
}

// Run builds the local index, registers with the server, and services
// the event loop until the discovery endpoint is lost.
func (p *Participant) Run() error {
	if err := p.store.MoveIndex(); err != nil {
		return err
	}
	idx, err := p.store.BuildIndex()
	if err != nil {
		return err
	}
	p.index = idx

	if changes, ok, err := p.store.LocalChanges(); err != nil {
		return err
	} else if ok {
		log.WithField("count", len(changes)).Info("local changes since last run")
		for _, c := range changes {
			log.WithField("key", c.Key).WithField("type", c.Type).Debug("local change")
		}
	} else {
		log.Info("first run: no previous snapshot to diff against")
	}

	p.send(wire.RegisterParticipant{Name: p.name, PublicAddr: p.gossip.LocalAddr()})
	if p.store.FirstRun {
		p.send(wire.GetChangeset{RemoteTree: wire.IndexToEntries(idx)})
	}
	p.send(wire.GetStatus{})

	events := p.t.Events()
	gossipMsgs := p.gossip.Messages()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if done := p.handleTransportEvent(ev); done {
				return nil
			}
		case gm, ok := <-gossipMsgs:
			if !ok {
				continue
			}
			log.WithField("from", gm.From).WithField("name", gm.Greetings.Name).
				WithField("text", gm.Greetings.Text).Info("greetings")
		}
	}
}

// Close releases the control connection and gossip socket.
func (p *Participant) Close() error {
	gerr := p.gossip.Close()
	terr := p.t.Close()
	if terr != nil {
		return terr
	}
	return gerr
}

// handleTransportEvent returns true when the session should terminate
// (the discovery endpoint was lost).
func (p *Participant) handleTransportEvent(ev transport.Event) bool {
	switch ev.Kind {
	case transport.MessageEvent:
		p.handleMessage(ev.Message)
		return false
	case transport.RemovedEndpoint:
		if ev.Endpoint == p.discovery {
			log.Warn("discovery endpoint lost, terminating session")
			return true
		}
		return false
	case transport.DeserializationErrorEvent:
		log.Warn("dropped malformed frame from discovery endpoint")
		return false
	default:
		return false
	}
}

func (p *Participant) handleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case wire.ParticipantList:
		for _, pa := range m.Participants {
			p.greetPeer(pa.Name, pa.Addr)
		}
	case wire.ParticipantNotificationAdded:
		p.greetPeer(m.Name, m.Addr)
	case wire.ParticipantNotificationRemoved:
		p.knownPeers.Remove(m.Name)
	case wire.ServerStatus:
		if m.Status == wire.Running {
			p.send(wire.GetNodes{})
		} else {
			// Status polling backoff: retry until the server is Running.
			p.send(wire.GetStatus{})
		}
	case wire.NodeList:
		p.reconcile(m)
	case wire.Changeset:
		for _, ce := range m.Changes {
			p.send(wire.SendMe{RelativePath: ce.Key})
		}
	case wire.FileRequest:
		p.beginReceive(m)
	case wire.Chunk:
		p.appendChunk(m)
	default:
		log.WithField("kind", msg.Kind()).Warn("participant: unexpected message")
	}
}

func (p *Participant) greetPeer(name, addr string) {
	if p.knownPeers.Contains(name) {
		return
	}
	p.knownPeers.Add(name, peer{name: name, addr: addr})
	if err := p.gossip.SendGreetings(addr, p.name, "hello from "+p.name); err != nil {
		log.WithField("peer", name).WithError(err).Info("gossip send failed, continuing")
	}
}

// reconcile logs, per entry of the server's NodeList, whether that key
// is already present in this participant's own index. It does not
// itself fetch anything; the server-driven Changeset message (and the
// participant's own GetChangeset on first run) is what actually
// triggers SendMe requests.
func (p *Participant) reconcile(m wire.NodeList) {
	for _, e := range m.Entries {
		_, exists := p.index.Get(e.Key)
		log.WithField("key", e.Key).WithField("have", exists).Debug("reconciling remote entry")
	}
}

func (p *Participant) beginReceive(m wire.FileRequest) {
	abs := filepath.Join(p.cfg.RootPath, m.Name)
	if dir := filepath.Dir(abs); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.WithField("name", m.Name).WithError(err).Warn("cannot create directory for incoming file")
			return
		}
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.WithField("name", m.Name).WithError(err).Warn("cannot open destination file")
		return
	}
	p.inbound[p.discovery] = &inboundTransfer{name: m.Name, expectedSize: m.Size, file: f}
}

func (p *Participant) appendChunk(m wire.Chunk) {
	tr, ok := p.inbound[p.discovery]
	if !ok {
		log.Warn("received Chunk with no active transfer, dropping")
		return
	}
	if _, err := tr.file.Write(m.Bytes); err != nil {
		log.WithField("name", tr.name).WithError(err).Warn("writing incoming chunk")
		tr.file.Close()
		delete(p.inbound, p.discovery)
		return
	}
	tr.currentSize += uint64(len(m.Bytes))
	if tr.currentSize >= tr.expectedSize {
		tr.file.Close()
		delete(p.inbound, p.discovery)
		log.WithField("name", tr.name).Info("file received")
	}
}

func (p *Participant) send(msg wire.Message) {
	if err := p.t.Send(p.discovery, msg); err != nil {
		log.WithError(err).Warn("send to discovery endpoint failed, terminating")
	}
}
