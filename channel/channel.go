package channel

import (
	"context"
	"errors"
	"net"
	"time"

	"bitlet/bitfield"
	"bitlet/peer"
	"bitlet/piece"

	"github.com/rs/zerolog"
)

// ErrRequestTimeout is returned by Run when the peer kept a request
// unanswered for longer than RequestTimeout.
var ErrRequestTimeout = errors.New("peer did not answer a request in time")

type NetworkState int

const (
	Connecting NetworkState = iota
	AwaitingHandshake
	Connected
	Closed
)

func (s NetworkState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingHandshake:
		return "awaiting handshake"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Pieces is the part of the piece manager a connection talks to.
type Pieces interface {
	Next(peerID string, have bitfield.Bitfield) (piece.Request, bool)
	Receive(index, begin int, data []byte) piece.Outcome
	Release(peerID string) int
	Complete() bool
	AddPeer(bf bitfield.Bitfield)
	RemovePeer(bf bitfield.Bitfield)
	PeerHave(index int)
	NumPieces() int
}

type Config struct {
	InfoHash [20]byte
	PeerID   [20]byte

	// PipelineDepth bounds the requests outstanding to one peer.
	PipelineDepth int

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	// RequestTimeout is how long a request may stay unanswered. The
	// connection is dropped once the oldest one is overdue.
	RequestTimeout time.Duration
	// IdleTimeout is how long a peer may stay silent otherwise.
	IdleTimeout time.Duration

	// Dial opens the stream to a peer; net.Dialer.DialContext when nil.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// OnBlock is called with the outcome and size of every block received.
	OnBlock func(outcome piece.Outcome, n int)
}

var DefaultConfig = Config{
	PipelineDepth:    5,
	DialTimeout:      5 * time.Second,
	HandshakeTimeout: 5 * time.Second,
	RequestTimeout:   30 * time.Second,
	IdleTimeout:      2 * time.Minute,
}

type requestKey struct {
	index int
	begin int
}

// Represents the communication channel between client and peer.
type Channel struct {
	Conn     net.Conn
	Network  NetworkState
	Choked   bool // peer is choking us
	Interest bool // we told the peer we are interested
	// PeerInterested records the peer's interest in us; we never upload.
	PeerInterested bool
	Bitfield       bitfield.Bitfield
	RemoteID       [20]byte

	peer     peer.Peer
	id       string
	cfg      Config
	pieces   Pieces
	log      zerolog.Logger
	requests map[requestKey]piece.Request
}

// New prepares a channel to addr. Nothing touches the network until Run.
func New(addr peer.Peer, cfg Config, pieces Pieces, log zerolog.Logger) *Channel {
	return &Channel{
		Network:  Connecting,
		Choked:   true,
		Bitfield: bitfield.New(pieces.NumPieces()),
		peer:     addr,
		id:       addr.String(),
		cfg:      cfg,
		pieces:   pieces,
		log:      log.With().Str("peer", addr.String()).Logger(),
		requests: make(map[requestKey]piece.Request),
	}
}

// Peer returns the remote address.
func (ch *Channel) Peer() peer.Peer {
	return ch.peer
}

// Outstanding returns the number of requests pipelined to this peer.
func (ch *Channel) Outstanding() int {
	return len(ch.requests)
}
