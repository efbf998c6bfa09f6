package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type messageID uint8

// Generally every two minutes a message of length zero (keepalive) is sent.
//
// All non-keepalive messages with their IDs:
//   - choke 0 (communication channel not ready to receive messages)
//   - unchoke 1 (communication channel ready to receive messages)
//   - interested 2 (communication channel ready to send messages)
//   - not interested 3 (communication channel not ready to send messages)
//   - have 4 (piece index downloader/peer downloaded/has)
//   - bitfield 5 (encode which piece peer is able to send)
//   - request 6 (message payload of the form <index><begin><length> requesting a block)
//   - piece 7 (message payload of the form <index><begin><block> containing a block)
//   - cancel 8 (identical to request message used to cancel block requests)
const (
	Choke         messageID = 0
	Unchoke       messageID = 1
	Interested    messageID = 2
	NotInterested messageID = 3
	Have          messageID = 4
	Bitfield      messageID = 5
	Request       messageID = 6
	Piece         messageID = 7
	Cancel        messageID = 8
)

// MaxLength bounds the declared length of an inbound frame. A block is at most
// 16kB in practice; bitfields of very large torrents stay well below this.
const MaxLength = 1 << 20

// ProtocolError reports a frame that violates the wire protocol.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Msg
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Every message is of the following form:
// | Message Length | Message ID | Optional Payload |

// Message length is not stored but is just used to parse the message.
// A nil *Message is a keepalive.
type Message struct {
	ID      messageID
	Payload []byte
}

func CreateRequestMessage(index, begin, length int) *Message {
	return &Message{ID: Request, Payload: blockPayload(index, begin, length)}
}

func CreateCancelMessage(index, begin, length int) *Message {
	return &Message{ID: Cancel, Payload: blockPayload(index, begin, length)}
}

func blockPayload(index, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

// Creates peer message with ID of 4 (HAVE).
//
// Format of the message: <length=5><id=4><payload>
func CreateHaveMessage(index int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(index))
	return &Message{ID: Have, Payload: payload}
}

func CreatePieceMessage(index, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(index))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: Piece, Payload: payload}
}

// Extract payload (index) from raw HAVE message.
func ReadHaveMessage(msg *Message) (int, error) {
	if msg.ID != Have {
		return -1, fmt.Errorf("expected ID of %d (HAVE), got ID %d", Have, msg.ID)
	}
	if len(msg.Payload) != 4 {
		return -1, protocolErrorf("expected payload of length 4, got length %d", len(msg.Payload))
	}
	return int(binary.BigEndian.Uint32(msg.Payload)), nil
}

// Extract <index><begin><block> from raw PIECE message. The returned block
// aliases the message payload.
func ReadPieceMessage(msg *Message) (index, begin int, block []byte, err error) {
	if msg.ID != Piece {
		return 0, 0, nil, fmt.Errorf("expected ID of %d (PIECE), got ID %d", Piece, msg.ID)
	}
	if len(msg.Payload) < 8 {
		return 0, 0, nil, protocolErrorf("payload too short: %d < 8", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	return index, begin, msg.Payload[8:], nil
}

// Extract <index><begin><length> from raw REQUEST or CANCEL message.
func ReadBlockMessage(msg *Message) (index, begin, length int, err error) {
	if msg.ID != Request && msg.ID != Cancel {
		return 0, 0, 0, fmt.Errorf("expected ID of %d (REQUEST) or %d (CANCEL), got ID %d", Request, Cancel, msg.ID)
	}
	if len(msg.Payload) != 12 {
		return 0, 0, 0, protocolErrorf("expected payload of length 12, got length %d", len(msg.Payload))
	}
	index = int(binary.BigEndian.Uint32(msg.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(msg.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(msg.Payload[8:12]))
	return index, begin, length, nil
}

// Put together a message.
func (msg *Message) Serialize() []byte {
	// keepalive
	if msg == nil {
		return make([]byte, 4)
	}

	length := uint32(len(msg.Payload) + 1) // payload + ID (1 byte)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(msg.ID)
	copy(buf[5:], msg.Payload)
	return buf
}

// Convert raw message into a Message struct. A keepalive is returned as a nil
// message and a nil error.
func Read(r io.Reader) (*Message, error) {
	bufLen := make([]byte, 4)
	_, err := io.ReadFull(r, bufLen)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(bufLen)

	// keepalive
	if length == 0 {
		return nil, nil
	}
	if length > MaxLength {
		return nil, protocolErrorf("declared length %d exceeds %d", length, MaxLength)
	}

	payloadBuf := make([]byte, length)
	_, err = io.ReadFull(r, payloadBuf)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	msg := Message{
		ID:      messageID(payloadBuf[0]),
		Payload: payloadBuf[1:],
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// validate checks the ID and, for fixed size messages, that the declared
// length matched the payload the message needs.
func (msg *Message) validate() error {
	var want int
	switch msg.ID {
	case Choke, Unchoke, Interested, NotInterested:
		want = 0
	case Have:
		want = 4
	case Request, Cancel:
		want = 12
	case Bitfield:
		return nil
	case Piece:
		if len(msg.Payload) < 8 {
			return protocolErrorf("piece payload too short: %d < 8", len(msg.Payload))
		}
		return nil
	default:
		return protocolErrorf("unknown message ID %d", msg.ID)
	}
	if len(msg.Payload) != want {
		return protocolErrorf("%s expects payload of length %d, got %d", msg.name(), want, len(msg.Payload))
	}
	return nil
}

func (msg *Message) name() string {
	if msg == nil {
		return "KeepAlive"
	}
	switch msg.ID {
	case Choke:
		return "Choke"
	case Unchoke:
		return "Unchoke"
	case Interested:
		return "Interested"
	case NotInterested:
		return "NotInterested"
	case Have:
		return "Have"
	case Bitfield:
		return "Bitfield"
	case Request:
		return "Request"
	case Piece:
		return "Piece"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("unknown message type with ID: %d", msg.ID)
	}
}

func (msg *Message) String() string {
	if msg == nil {
		return msg.name()
	}

	return fmt.Sprintf("%s [%d]", msg.name(), len(msg.Payload))
}
