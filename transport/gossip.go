package transport

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bketelsen/runison/wire"
)

// gossipMaxDatagram bounds a single UDP datagram's decoded size; it
// only ever carries a Greetings payload, which is small.
const gossipMaxDatagram = 4096

// GossipMessage pairs a decoded Greetings with the address it arrived
// from.
type GossipMessage struct {
	From      string
	Greetings wire.Greetings
}

// Gossip is the datagram channel participants use to exchange
// Greetings directly with one another, independent of the control
// connection to the server. Because UDP has no connection lifecycle,
// nothing here produces Added/RemovedEndpoint events; the owning
// state machine tracks which peer addresses it has greeted and drops
// them explicitly on ParticipantNotificationRemoved.
type Gossip struct {
	conn     *net.UDPConn
	messages chan GossipMessage
}

// NewGossip binds a UDP socket on an ephemeral local port and starts
// its receive loop.
func NewGossip() (*Gossip, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	g := &Gossip{
		conn:     conn,
		messages: make(chan GossipMessage, 256),
	}
	go g.recvLoop()
	return g, nil
}

// LocalAddr returns the bound ephemeral address, which is what a
// participant reports as its public_addr in RegisterParticipant.
func (g *Gossip) LocalAddr() string {
	return g.conn.LocalAddr().String()
}

// Messages returns the channel decoded Greetings arrive on.
func (g *Gossip) Messages() <-chan GossipMessage {
	return g.messages
}

// SendGreetings sends name/text as a Greetings datagram to addr.
func (g *Gossip) SendGreetings(addr, name, text string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolving gossip address %s", addr)
	}
	payload, err := msgpack.Marshal(wire.Greetings{Name: name, Text: text})
	if err != nil {
		return errors.Wrap(err, "marshaling greetings")
	}
	_, err = g.conn.WriteToUDP(payload, raddr)
	return err
}

// Close releases the datagram socket.
func (g *Gossip) Close() error {
	return g.conn.Close()
}

func (g *Gossip) recvLoop() {
	buf := make([]byte, gossipMaxDatagram)
	for {
		n, addr, err := g.conn.ReadFromUDP(buf)
		if err != nil {
			close(g.messages)
			return
		}
		var greet wire.Greetings
		if err := msgpack.Unmarshal(buf[:n], &greet); err != nil {
			// Malformed datagram: drop it, keep listening.
			continue
		}
		g.messages <- GossipMessage{From: addr.String(), Greetings: greet}
	}
}
