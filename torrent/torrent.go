package torrent

import (
	"context"
	"errors"
	"net"
	"sync"

	"bitlet/discover"
	"bitlet/file"
	"bitlet/helper"
	"bitlet/peer"
	"bitlet/piece"

	"github.com/gosuri/uiprogress"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// ErrNoPeers is returned when every peer source has stopped and no connection
// is left before the download completed.
var ErrNoPeers = errors.New("ran out of peers")

// Source produces batches of peer addresses until ctx is done.
type Source interface {
	Run(ctx context.Context, out chan<- []peer.Peer) error
}

type Torrent struct {
	torrentFile *file.TorrentFile
	peerID      [20]byte
	config      Config
	log         zerolog.Logger

	pieces  *piece.Manager
	peers   chan []peer.Peer
	sources []Source
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	limiter *rate.Limiter

	outputBuffer []byte
	downloaded   atomic.Int64
	activePeers  atomic.Int32
	bar          *uiprogress.Bar

	done   chan struct{}
	finish sync.Once
}

type Option func(*Torrent)

// WithSources replaces the tracker and DHT discovery the config asks for.
func WithSources(sources ...Source) Option {
	return func(t *Torrent) { t.sources = sources }
}

// WithDialer sets how peer connections are opened.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(t *Torrent) { t.dial = dial }
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *Torrent) { t.log = log }
}

// New prepares the download of tf. config must come from NewConfig.
func New(tf *file.TorrentFile, config Config, opts ...Option) (*Torrent, error) {
	selector, err := piece.ParseSelector(config.Selection)
	if err != nil {
		return nil, err
	}

	t := &Torrent{
		torrentFile:  tf,
		peerID:       helper.GeneratePeerID(),
		config:       config,
		log:          zerolog.Nop(),
		peers:        make(chan []peer.Peer),
		limiter:      rate.NewLimiter(rate.Every(config.DialInterval), config.MaxPeers),
		outputBuffer: make([]byte, tf.Length),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.pieces = piece.New(tf,
		piece.WithSelector(selector),
		piece.WithBlockSize(config.BlockSize),
		piece.WithLogger(t.log),
		piece.WithVerifiedHandler(t.assemble),
	)

	if t.sources == nil {
		if err := t.discoverPeers(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Torrent) discoverPeers() error {
	if t.config.UseTrackers {
		req := discover.Request{
			InfoHash: t.torrentFile.InfoHash,
			PeerID:   t.peerID,
			Port:     t.config.Port,
		}
		announcer := discover.NewAnnouncer(t.torrentFile.Trackers(), req, t.stats,
			discover.WithAnnouncerLogger(t.log))
		t.sources = append(t.sources, announcer)
	}
	// private torrents only get peers from their trackers
	if t.config.UseDHT && !t.torrentFile.Private {
		d, err := discover.NewDHT(t.torrentFile.InfoHash, int(t.config.Port), t.log)
		if err != nil {
			return err
		}
		t.sources = append(t.sources, d)
	}
	return nil
}

func (t *Torrent) stats() discover.Stats {
	return discover.Stats{
		Downloaded: t.downloaded.Load(),
		Left:       t.pieces.Left(),
	}
}

// Downloaded returns the number of block bytes received so far, including
// duplicates and blocks of corrupt pieces.
func (t *Torrent) Downloaded() int64 {
	return t.downloaded.Load()
}

// ActivePeers returns the number of running peer connections.
func (t *Torrent) ActivePeers() int {
	return int(t.activePeers.Load())
}
