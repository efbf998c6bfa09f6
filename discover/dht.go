package discover

import (
	"context"
	"errors"
	"time"

	"bitlet/peer"

	"github.com/nictuku/dht"
	"github.com/rs/zerolog"
)

const (
	// dhtQueryInterval is how often the DHT is asked for more peers.
	dhtQueryInterval = 5 * time.Second
	// DefaultDHTIdleLimit is how long the DHT may go without finding a peer.
	DefaultDHTIdleLimit = 10 * time.Minute
)

var ErrDHTExhausted = errors.New("dht found no peers")

// DHT finds peers for one torrent through the mainline DHT.
type DHT struct {
	node     *dht.DHT
	infoHash dht.InfoHash
	log      zerolog.Logger

	// IdleLimit ends Run when no peer was found for that long.
	IdleLimit time.Duration
}

// NewDHT creates a DHT node listening on port (0 picks a random port).
func NewDHT(infoHash [20]byte, port int, log zerolog.Logger) (*DHT, error) {
	cfg := dht.NewConfig()
	cfg.Port = port
	node, err := dht.New(cfg)
	if err != nil {
		return nil, err
	}
	return &DHT{
		node:     node,
		infoHash:  dht.InfoHash(string(infoHash[:])),
		log:       log,
		IdleLimit: DefaultDHTIdleLimit,
	}, nil
}

// Run queries the DHT until ctx is done or IdleLimit passes without a new
// peer, and sends the peers found to out.
func (d *DHT) Run(ctx context.Context, out chan<- []peer.Peer) error {
	if err := d.node.Start(); err != nil {
		return err
	}
	defer d.node.Stop()

	ticker := time.NewTicker(dhtQueryInterval)
	defer ticker.Stop()
	idle := time.NewTimer(d.IdleLimit)
	defer idle.Stop()

	d.node.PeersRequest(string(d.infoHash), false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return ErrDHTExhausted
		case <-ticker.C:
			d.node.PeersRequest(string(d.infoHash), false)
		case r := <-d.node.PeersRequestResults:
			peers := decodeDHTPeers(r[d.infoHash], d.log)
			if len(peers) == 0 {
				continue
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(d.IdleLimit)
			select {
			case out <- peers:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeDHTPeers converts the compact addresses returned by the DHT.
func decodeDHTPeers(addrs []string, log zerolog.Logger) []peer.Peer {
	var peers []peer.Peer
	for _, x := range addrs {
		if len(x) != 6 {
			log.Debug().Int("length", len(x)).Msg("skipping dht peer")
			continue
		}
		p, err := peer.Parse(dht.DecodePeerAddress(x))
		if err != nil {
			log.Debug().Err(err).Msg("skipping dht peer")
			continue
		}
		peers = append(peers, p)
	}
	return peers
}
