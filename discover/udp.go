package discover

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"bitlet/helper"
	"bitlet/peer"
)

const (
	protocolID = 0x41727101980

	actionConnect  = 0
	actionAnnounce = 1
	actionError    = 3

	connectLen          = 16
	announceLen         = 98
	announceResponseLen = 20

	// maxDatagram is the largest UDP payload, so no peer list is truncated
	maxDatagram = 65507
)

// UDP event codes are fixed by the protocol: 0 none, 1 completed, 2 started,
// 3 stopped.
func (e Event) udpCode() uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

type connect struct {
	Action        uint32 // request & response
	TransactionID []byte // request & response
	ConnectionID  []byte // response
}

func newConnect() *connect {
	return &connect{
		Action:        actionConnect,
		TransactionID: helper.GenerateRandomID(4),
	}
}

func (c *connect) serialize() []byte {
	buf := make([]byte, connectLen)
	binary.BigEndian.PutUint64(buf[0:8], protocolID)
	binary.BigEndian.PutUint32(buf[8:12], c.Action)
	copy(buf[12:16], c.TransactionID)
	return buf
}

func readConnect(buf []byte) (*connect, error) {
	if len(buf) < connectLen {
		return nil, fmt.Errorf("connect response too short: %d bytes", len(buf))
	}
	return &connect{
		Action:        binary.BigEndian.Uint32(buf[0:4]),
		TransactionID: append([]byte(nil), buf[4:8]...),
		ConnectionID:  append([]byte(nil), buf[8:16]...),
	}, nil
}

type announce struct {
	Action        uint32 // request & response
	TransactionID []byte // request & response

	ConnectionID []byte // request
	Request             // request
	Key          []byte // request

	Interval uint32 // response
	Leechers uint32 // response
	Seeders  uint32 // response
	Peers    []byte // response
}

func newAnnounce(req Request, connectionID []byte) *announce {
	return &announce{
		Action:        actionAnnounce,
		TransactionID: helper.GenerateRandomID(4),
		ConnectionID:  connectionID,
		Request:       req,
		Key:           helper.GenerateRandomID(4),
	}
}

func (a *announce) serialize() []byte {
	buf := make([]byte, announceLen)
	copy(buf[:8], a.ConnectionID)
	binary.BigEndian.PutUint32(buf[8:12], a.Action)
	copy(buf[12:16], a.TransactionID)
	copy(buf[16:36], a.InfoHash[:])
	copy(buf[36:56], a.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(a.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(a.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(a.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], a.Event.udpCode())
	binary.BigEndian.PutUint32(buf[84:88], 0) // ip: tracker uses the sender address
	copy(buf[88:92], a.Key)
	binary.BigEndian.PutUint32(buf[92:96], 0xFFFFFFFF) // num_want: -1, tracker default
	binary.BigEndian.PutUint16(buf[96:98], a.Port)
	return buf
}

func readAnnounce(buf []byte) (*announce, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("announce response too short: %d bytes", len(buf))
	}
	a := &announce{
		Action:        binary.BigEndian.Uint32(buf[0:4]),
		TransactionID: append([]byte(nil), buf[4:8]...),
	}
	if a.Action == actionError {
		return a, fmt.Errorf("%w: %s", ErrTrackerFailure, buf[8:])
	}
	if len(buf) < announceResponseLen {
		return nil, fmt.Errorf("announce response too short: %d bytes", len(buf))
	}
	a.Interval = binary.BigEndian.Uint32(buf[8:12])
	a.Leechers = binary.BigEndian.Uint32(buf[12:16])
	a.Seeders = binary.BigEndian.Uint32(buf[16:20])
	a.Peers = append([]byte(nil), buf[announceResponseLen:]...)
	return a, nil
}

// UDPTracker speaks the connect/announce exchange of the UDP tracker protocol.
type UDPTracker struct {
	Addr    string
	Timeout time.Duration
}

func (tr *UDPTracker) Announce(ctx context.Context, req Request) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", tr.Addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	timeout := tr.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	connectReq := newConnect()
	_, err = conn.Write(connectReq.serialize())
	if err != nil {
		return nil, err
	}
	connectBuf := make([]byte, 2048)
	size, err := conn.Read(connectBuf)
	if err != nil {
		return nil, err
	}
	connectRes, err := readConnect(connectBuf[:size])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(connectReq.TransactionID, connectRes.TransactionID) {
		return nil, fmt.Errorf("expected TID %s received %s", connectReq.TransactionID, connectRes.TransactionID)
	}
	if connectRes.Action != actionConnect {
		return nil, fmt.Errorf("expected action %d (connect) received %d", actionConnect, connectRes.Action)
	}

	announceReq := newAnnounce(req, connectRes.ConnectionID)
	_, err = conn.Write(announceReq.serialize())
	if err != nil {
		return nil, err
	}
	announceBuf := make([]byte, maxDatagram)
	size, err = conn.Read(announceBuf)
	if err != nil {
		return nil, err
	}
	announceRes, err := readAnnounce(announceBuf[:size])
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(announceReq.TransactionID, announceRes.TransactionID) {
		return nil, fmt.Errorf("expected TID %s received %s", announceReq.TransactionID, announceRes.TransactionID)
	}
	if announceRes.Action != actionAnnounce {
		return nil, fmt.Errorf("expected action %d (announce) received %d", actionAnnounce, announceRes.Action)
	}

	peers, err := peer.Unmarshal(announceRes.Peers)
	if err != nil {
		return nil, err
	}
	return &Response{
		Interval:   time.Duration(announceRes.Interval) * time.Second,
		Complete:   int(announceRes.Seeders),
		Incomplete: int(announceRes.Leechers),
		Peers:      peers,
	}, nil
}
