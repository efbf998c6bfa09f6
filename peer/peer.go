package peer

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

type Peer struct {
	IP   net.IP
	Port uint16
}

// Size of one peer in the compact format.
const peerSize = 6

// Unmarshal peers list from the tracker.
//
// Each peer is 6 bytes long: 4 for IP and 2 for port number.
// Hence, peers list has to be a multiple of 6.
func Unmarshal(peersBinary []byte) ([]Peer, error) {
	if len(peersBinary)%peerSize != 0 {
		err := fmt.Errorf("received malformed binary of peers with length %d", len(peersBinary))
		return nil, err
	}

	numPeers := len(peersBinary) / peerSize
	peers := make([]Peer, numPeers)
	for i := 0; i < numPeers; i++ {
		offset := i * peerSize
		ip := make(net.IP, 4)
		copy(ip, peersBinary[offset:offset+4])
		peers[i].IP = ip
		peers[i].Port = binary.BigEndian.Uint16(peersBinary[offset+4 : offset+6])
	}

	return peers, nil
}

// Marshal is the inverse of Unmarshal. Peers without an IPv4 address are
// skipped.
func Marshal(peers []Peer) []byte {
	buf := make([]byte, 0, len(peers)*peerSize)
	for _, p := range peers {
		ip := p.IP.To4()
		if ip == nil {
			continue
		}
		buf = append(buf, ip...)
		buf = binary.BigEndian.AppendUint16(buf, p.Port)
	}
	return buf
}

// Return Peer ip and port with suitable format - ip:port
func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Parse converts an "ip:port" address into a Peer.
func Parse(addr string) (Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Peer{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Peer{}, fmt.Errorf("invalid peer ip %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid peer port %q: %w", portStr, err)
	}
	return Peer{IP: ip, Port: uint16(port)}, nil
}
