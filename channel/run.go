package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"bitlet/bitfield"
	"bitlet/handshake"
	"bitlet/message"
	"bitlet/piece"
)

// Run connects to the peer and downloads from it until the torrent completes,
// the peer misbehaves or goes away, or ctx is cancelled. Whatever ends the
// connection, every request it held is handed back to the piece manager.
// A nil error means the download completed.
func (ch *Channel) Run(ctx context.Context) error {
	defer ch.close()

	if err := ch.connect(ctx); err != nil {
		return err
	}
	// closing the socket unblocks any pending read or write
	stop := context.AfterFunc(ctx, func() { ch.Conn.Close() })
	defer stop()

	err := ch.run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (ch *Channel) run() error {
	if err := ch.completeHandshake(); err != nil {
		return err
	}
	ch.Network = Connected
	ch.log.Debug().Hex("remote_id", ch.RemoteID[:]).Msg("completed handshake")

	if err := ch.sendInterested(); err != nil {
		return err
	}
	ch.Interest = true

	for {
		if ch.pieces.Complete() {
			ch.sendNotInterested()
			return nil
		}
		if err := ch.fillPipeline(); err != nil {
			return err
		}
		// check status between client and peer
		// might get choked/unchoked/have/bitfield/piece message
		if err := ch.readMessage(); err != nil {
			return err
		}
	}
}

func (ch *Channel) connect(ctx context.Context) error {
	dial := ch.cfg.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: ch.cfg.DialTimeout}).DialContext
	}
	conn, err := dial(ctx, "tcp", ch.id)
	if err != nil {
		return err
	}
	ch.Conn = conn
	ch.Network = AwaitingHandshake
	return nil
}

func (ch *Channel) completeHandshake() error {
	ch.Conn.SetDeadline(time.Now().Add(ch.cfg.HandshakeTimeout))
	defer ch.Conn.SetDeadline(time.Time{})

	request := handshake.New(ch.cfg.InfoHash, ch.cfg.PeerID)
	_, err := ch.Conn.Write(request.Serialize())
	if err != nil {
		return err
	}

	result, err := handshake.Read(ch.Conn)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}
	if err := result.Verify(ch.cfg.InfoHash); err != nil {
		return err
	}
	ch.RemoteID = result.PeerID
	return nil
}

// fillPipeline keeps up to PipelineDepth requests in flight while unchoked.
func (ch *Channel) fillPipeline() error {
	if ch.Choked {
		return nil
	}
	for len(ch.requests) < ch.cfg.PipelineDepth {
		req, ok := ch.pieces.Next(ch.id, ch.Bitfield)
		if !ok {
			return nil
		}
		ch.requests[requestKey{req.Index, req.Begin}] = req
		if err := ch.sendRequest(req.Index, req.Begin, req.Length); err != nil {
			return err
		}
	}
	return nil
}

func (ch *Channel) readMessage() error {
	// the request deadline runs from the oldest request, so other traffic
	// from the peer does not extend it
	deadline := time.Now().Add(ch.cfg.IdleTimeout)
	oldest, pending := ch.oldestRequest()
	if pending {
		deadline = oldest.Add(ch.cfg.RequestTimeout)
		if !time.Now().Before(deadline) {
			return ErrRequestTimeout
		}
	}
	ch.Conn.SetReadDeadline(deadline)

	msg, err := message.Read(ch.Conn)
	if err != nil {
		if pending && errors.Is(err, os.ErrDeadlineExceeded) {
			return ErrRequestTimeout
		}
		return err
	}

	// keep-alive
	if msg == nil {
		return nil
	}

	switch msg.ID {
	case message.Choke:
		ch.Choked = true
		ch.abandonRequests()
	case message.Unchoke:
		ch.Choked = false
	case message.Interested:
		ch.PeerInterested = true
	case message.NotInterested:
		ch.PeerInterested = false
	case message.Have:
		index, err := message.ReadHaveMessage(msg)
		if err != nil {
			return err
		}
		return ch.have(index)
	case message.Bitfield:
		return ch.replaceBitfield(msg.Payload)
	case message.Piece:
		index, begin, block, err := message.ReadPieceMessage(msg)
		if err != nil {
			return err
		}
		return ch.receive(index, begin, block)
	case message.Request, message.Cancel:
		// uploading is not supported; the frame was already validated
	}
	return nil
}

func (ch *Channel) have(index int) error {
	if index < 0 || index >= ch.pieces.NumPieces() {
		return &message.ProtocolError{Msg: fmt.Sprintf("have for piece %d out of range", index)}
	}
	if !ch.Bitfield.HasPiece(index) {
		ch.Bitfield.SetPiece(index)
		ch.pieces.PeerHave(index)
	}
	return nil
}

func (ch *Channel) replaceBitfield(payload []byte) error {
	bf := bitfield.Bitfield(payload)
	if err := bitfield.Validate(bf, ch.pieces.NumPieces()); err != nil {
		return &message.ProtocolError{Msg: err.Error()}
	}
	ch.pieces.RemovePeer(ch.Bitfield)
	ch.Bitfield = bf.Clone()
	ch.pieces.AddPeer(ch.Bitfield)
	return nil
}

func (ch *Channel) receive(index, begin int, block []byte) error {
	delete(ch.requests, requestKey{index, begin})

	outcome := ch.pieces.Receive(index, begin, block)
	if ch.cfg.OnBlock != nil {
		ch.cfg.OnBlock(outcome, len(block))
	}
	switch outcome {
	case piece.PieceVerified:
		ch.log.Debug().Int("piece", index).Msg("downloaded piece")
		return ch.sendHave(index)
	case piece.PieceCorrupt:
		ch.log.Info().Int("piece", index).Msg("piece failed integrity check")
	case piece.DuplicateBlock:
		ch.log.Debug().Int("piece", index).Int("begin", begin).Msg("ignored duplicate block")
	}
	return nil
}

func (ch *Channel) oldestRequest() (time.Time, bool) {
	var oldest time.Time
	for _, req := range ch.requests {
		if oldest.IsZero() || req.IssuedAt.Before(oldest) {
			oldest = req.IssuedAt
		}
	}
	return oldest, len(ch.requests) > 0
}

// abandonRequests gives every pipelined request back to the piece manager.
func (ch *Channel) abandonRequests() {
	if len(ch.requests) == 0 {
		return
	}
	n := ch.pieces.Release(ch.id)
	ch.requests = make(map[requestKey]piece.Request)
	ch.log.Debug().Int("released", n).Msg("abandoned requests")
}

func (ch *Channel) close() {
	ch.Network = Closed
	ch.pieces.Release(ch.id)
	ch.requests = make(map[requestKey]piece.Request)
	ch.pieces.RemovePeer(ch.Bitfield)
	if ch.Conn != nil {
		ch.Conn.Close()
	}
}

// IsProtocolError reports whether a Run error was caused by the peer breaking
// the wire protocol rather than by the network.
func IsProtocolError(err error) bool {
	return message.IsProtocolError(err) ||
		errors.Is(err, handshake.ErrBadProtocol) ||
		errors.Is(err, handshake.ErrInfoHashMismatch)
}
