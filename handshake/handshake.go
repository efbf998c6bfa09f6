package handshake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Protocol identifier sent in every handshake.
const Pstr = "BitTorrent protocol"

// length of handshake string in bytes
const handshakeLen = 49 + len(Pstr)

var (
	ErrBadProtocol      = errors.New("unexpected protocol identifier")
	ErrInfoHashMismatch = errors.New("info hash mismatch")
)

// Handshake string consists of (in order):
//   - 1 byte for pstr length (length of protocol identifier - has to be 19)
//   - 19 bytes for pstr (protocol identifier - BitTorrent protocol)
//   - 8 reserved bytes for extension support (not supported here)
//   - 20 bytes for infohash (SHA-1 of bencoded info dictionary)
//   - 20 bytes for peerID (random id to identify ourselves)
type Handshake struct {
	Pstr     string
	InfoHash [20]byte
	PeerID   [20]byte
}

// Create new Handshake struct with given infoHash and peerID.
func New(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{
		Pstr:     Pstr,
		InfoHash: infoHash,
		PeerID:   peerID,
	}
}

// Put together a handshake string.
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, len(h.Pstr)+49)
	buf[0] = byte(len(h.Pstr))
	curr := 1
	curr += copy(buf[curr:], h.Pstr)
	curr += copy(buf[curr:], make([]byte, 8))
	curr += copy(buf[curr:], h.InfoHash[:])
	curr += copy(buf[curr:], h.PeerID[:])
	return buf
}

// Convert raw handshake string into a Handshake struct.
func Read(r io.Reader) (*Handshake, error) {
	pstrLenBuf := make([]byte, 1)
	_, err := io.ReadFull(r, pstrLenBuf)
	if err != nil {
		return nil, err
	}
	pstrLen := int(pstrLenBuf[0])
	if pstrLen != len(Pstr) {
		return nil, fmt.Errorf("%w: pstr length should be 19 (0x13) but is %d", ErrBadProtocol, pstrLen)
	}

	handshakeBuf := make([]byte, handshakeLen-1)
	_, err = io.ReadFull(r, handshakeBuf)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(handshakeBuf[:pstrLen], []byte(Pstr)) {
		return nil, fmt.Errorf("%w: %q", ErrBadProtocol, handshakeBuf[:pstrLen])
	}

	var infoHash, peerID [20]byte
	copy(infoHash[:], handshakeBuf[pstrLen+8:pstrLen+8+20])
	copy(peerID[:], handshakeBuf[pstrLen+8+20:])

	h := Handshake{
		Pstr:     string(handshakeBuf[0:pstrLen]),
		InfoHash: infoHash,
		PeerID:   peerID,
	}
	return &h, nil
}

// Verify checks that a peer answered for the torrent we asked about.
func (h *Handshake) Verify(infoHash [20]byte) error {
	if !bytes.Equal(h.InfoHash[:], infoHash[:]) {
		return fmt.Errorf("%w: expected infohash %x but got %x", ErrInfoHashMismatch, infoHash, h.InfoHash)
	}
	return nil
}
