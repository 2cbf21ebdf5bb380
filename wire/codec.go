package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bketelsen/runison"
)

// MaxFrameSize bounds the length prefix so a corrupt or hostile
// length field can't make a reader allocate unboundedly. It
// comfortably exceeds MaxChunkSize plus msgpack's encoding overhead.
const MaxFrameSize = MaxChunkSize + 4096

// WriteMessage frames msg as a fixed-width length prefix (32 bits,
// network byte order) followed by one tag byte and the
// msgpack-encoded payload, and writes it to w.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshaling payload")
	}

	body := make([]byte, 1+len(payload))
	body[0] = byte(msg.Kind())
	copy(body[1:], payload)

	if len(body) > MaxFrameSize {
		return errors.Errorf("frame of %d bytes exceeds max %d", len(body), MaxFrameSize)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "writing frame length")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "writing frame body")
	}
	return nil
}

// ReadMessage reads one length-framed message from r and decodes it
// according to its tag. A frame whose length exceeds MaxFrameSize, or
// whose payload fails to decode as the type its tag names, produces
// ErrDeserialization — the caller should drop the frame and keep the
// connection, per the error handling design, rather than tearing
// anything down.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err // EOF / connection closed: not a deserialization error
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || int(n) > MaxFrameSize {
		return nil, errors.Wrapf(runison.ErrDeserialization, "frame length %d out of bounds", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	kind := Kind(body[0])
	payload := body[1:]

	msg, err := decode(kind, payload)
	if err != nil {
		return nil, errors.Wrapf(runison.ErrDeserialization, "kind %s: %v", kind, err)
	}
	return msg, nil
}

func decode(kind Kind, payload []byte) (Message, error) {
	switch kind {
	case KindRegisterParticipant:
		var m RegisterParticipant
		return m, msgpack.Unmarshal(payload, &m)
	case KindUnregisterParticipant:
		var m UnregisterParticipant
		return m, msgpack.Unmarshal(payload, &m)
	case KindGetStatus:
		return GetStatus{}, nil
	case KindGetNodes:
		return GetNodes{}, nil
	case KindGetChangeset:
		var m GetChangeset
		return m, msgpack.Unmarshal(payload, &m)
	case KindSendMe:
		var m SendMe
		return m, msgpack.Unmarshal(payload, &m)
	case KindParticipantList:
		var m ParticipantList
		return m, msgpack.Unmarshal(payload, &m)
	case KindParticipantNotificationAdded:
		var m ParticipantNotificationAdded
		return m, msgpack.Unmarshal(payload, &m)
	case KindParticipantNotificationRemoved:
		var m ParticipantNotificationRemoved
		return m, msgpack.Unmarshal(payload, &m)
	case KindServerStatus:
		var m ServerStatus
		return m, msgpack.Unmarshal(payload, &m)
	case KindNodeList:
		var m NodeList
		return m, msgpack.Unmarshal(payload, &m)
	case KindChangeset:
		var m Changeset
		return m, msgpack.Unmarshal(payload, &m)
	case KindFileRequest:
		var m FileRequest
		return m, msgpack.Unmarshal(payload, &m)
	case KindChunk:
		var m Chunk
		return m, msgpack.Unmarshal(payload, &m)
	case KindCanReceive:
		var m CanReceive
		return m, msgpack.Unmarshal(payload, &m)
	case KindGreetings:
		var m Greetings
		return m, msgpack.Unmarshal(payload, &m)
	default:
		return nil, errors.Errorf("unknown tag %d", kind)
	}
}
