// Package wire defines the tagged-union message set exchanged
// between server and participant, and the length-framed codec used
// to put them on a connection-oriented byte stream.
//
// Each message is a distinct Go type implementing Message. Encoding
// tags the message with its Kind and msgpack-encodes the payload;
// decoding switches on the tag to know which concrete type to
// populate. This plays the same role bobg/bs's store/rpc package
// plays for its Get/Put/Delete request-reply pairs, generalized from
// net/rpc's method-name dispatch to an explicit length-framed tagged
// union, because the protocol here must also carry unsolicited,
// server-initiated notifications and raw chunk payloads that don't
// fit the request/reply shape net/rpc assumes.
package wire

import "github.com/bketelsen/runison"

// Kind identifies which concrete Message a frame carries.
type Kind uint8

const (
	KindRegisterParticipant Kind = iota
	KindUnregisterParticipant
	KindGetStatus
	KindGetNodes
	KindGetChangeset
	KindSendMe
	KindParticipantList
	KindParticipantNotificationAdded
	KindParticipantNotificationRemoved
	KindServerStatus
	KindNodeList
	KindChangeset
	KindFileRequest
	KindChunk
	KindCanReceive
	KindGreetings
)

func (k Kind) String() string {
	switch k {
	case KindRegisterParticipant:
		return "RegisterParticipant"
	case KindUnregisterParticipant:
		return "UnregisterParticipant"
	case KindGetStatus:
		return "GetStatus"
	case KindGetNodes:
		return "GetNodes"
	case KindGetChangeset:
		return "GetChangeset"
	case KindSendMe:
		return "SendMe"
	case KindParticipantList:
		return "ParticipantList"
	case KindParticipantNotificationAdded:
		return "ParticipantNotificationAdded"
	case KindParticipantNotificationRemoved:
		return "ParticipantNotificationRemoved"
	case KindServerStatus:
		return "ServerStatus"
	case KindNodeList:
		return "NodeList"
	case KindChangeset:
		return "Changeset"
	case KindFileRequest:
		return "FileRequest"
	case KindChunk:
		return "Chunk"
	case KindCanReceive:
		return "CanReceive"
	case KindGreetings:
		return "Greetings"
	default:
		return "Unknown"
	}
}

// ServerStatusValue is the server's lifecycle state, as reported in a
// ServerStatus message.
type ServerStatusValue uint8

const (
	Starting ServerStatusValue = iota
	Indexing
	Running
	Stopping
)

func (s ServerStatusValue) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Indexing:
		return "Indexing"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Message is implemented by every concrete wire message type.
type Message interface {
	Kind() Kind
}

// NodeEntry is a (key, Node) pair, the wire representation of one
// Index entry. A sequence of NodeEntry in key order is how both
// NodeList and GetChangeset's remote tree travel on the wire.
type NodeEntry struct {
	Key  string
	Node runison.Node
}

// ChangeEntry is the wire representation of one runison.Change.
type ChangeEntry struct {
	Type runison.ChangeType
	Key  string
	Node runison.Node
}

// ParticipantAddr names one entry of a ParticipantList.
type ParticipantAddr struct {
	Name string
	Addr string
}

type RegisterParticipant struct {
	Name       string
	PublicAddr string
}

func (RegisterParticipant) Kind() Kind { return KindRegisterParticipant }

type UnregisterParticipant struct {
	Name string
}

func (UnregisterParticipant) Kind() Kind { return KindUnregisterParticipant }

type GetStatus struct{}

func (GetStatus) Kind() Kind { return KindGetStatus }

type GetNodes struct{}

func (GetNodes) Kind() Kind { return KindGetNodes }

type GetChangeset struct {
	RemoteTree []NodeEntry
}

func (GetChangeset) Kind() Kind { return KindGetChangeset }

type SendMe struct {
	RelativePath string
}

func (SendMe) Kind() Kind { return KindSendMe }

type ParticipantList struct {
	Participants []ParticipantAddr
}

func (ParticipantList) Kind() Kind { return KindParticipantList }

type ParticipantNotificationAdded struct {
	Name string
	Addr string
}

func (ParticipantNotificationAdded) Kind() Kind { return KindParticipantNotificationAdded }

type ParticipantNotificationRemoved struct {
	Name string
}

func (ParticipantNotificationRemoved) Kind() Kind { return KindParticipantNotificationRemoved }

type ServerStatus struct {
	Status ServerStatusValue
}

func (ServerStatus) Kind() Kind { return KindServerStatus }

type NodeList struct {
	Entries []NodeEntry
}

func (NodeList) Kind() Kind { return KindNodeList }

type Changeset struct {
	Changes []ChangeEntry
}

func (Changeset) Kind() Kind { return KindChangeset }

type FileRequest struct {
	Name string
	Size uint64
}

func (FileRequest) Kind() Kind { return KindFileRequest }

// MaxChunkSize is the largest number of content bytes a single Chunk
// may carry.
const MaxChunkSize = 65536

type Chunk struct {
	Bytes []byte
}

func (Chunk) Kind() Kind { return KindChunk }

type CanReceive struct {
	OK bool
}

func (CanReceive) Kind() Kind { return KindCanReceive }

type Greetings struct {
	Name string
	Text string
}

func (Greetings) Kind() Kind { return KindGreetings }

// IndexToEntries converts a runison.Index to its wire representation,
// in key order.
func IndexToEntries(idx *runison.Index) []NodeEntry {
	var entries []NodeEntry
	idx.Each(func(key string, n runison.Node) bool {
		entries = append(entries, NodeEntry{Key: key, Node: n})
		return true
	})
	return entries
}

// EntriesToIndex reconstructs a runison.Index from its wire
// representation.
func EntriesToIndex(entries []NodeEntry) *runison.Index {
	idx := runison.NewIndex()
	for _, e := range entries {
		idx.Put(e.Key, e.Node)
	}
	return idx
}

// ChangesToEntries converts a []runison.Change to its wire form.
func ChangesToEntries(changes []runison.Change) []ChangeEntry {
	entries := make([]ChangeEntry, len(changes))
	for i, c := range changes {
		entries[i] = ChangeEntry{Type: c.Type, Key: c.Key, Node: c.Node}
	}
	return entries
}

// EntriesToChanges converts wire change entries back to []runison.Change.
func EntriesToChanges(entries []ChangeEntry) []runison.Change {
	changes := make([]runison.Change, len(entries))
	for i, e := range entries {
		changes[i] = runison.Change{Type: e.Type, Key: e.Key, Node: e.Node}
	}
	return changes
}
