package torrent

import (
	"fmt"
	"time"

	"bitlet/piece"
)

type Config struct {
	UseTrackers          bool
	UseDHT               bool
	ShowDownloadProgress bool

	// MaxPeers bounds the number of simultaneous peer connections.
	MaxPeers int
	// PipelineDepth bounds the requests outstanding to one peer.
	PipelineDepth int
	BlockSize     int
	// Selection is "sequential" or "rarest".
	Selection string

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	// DialInterval is the minimum spacing between two new connections.
	DialInterval time.Duration

	// Port is reported to trackers and used by the DHT node.
	Port uint16
}

var DefaultConfig = Config{
	UseTrackers:          true,
	UseDHT:               true,
	ShowDownloadProgress: true,
	MaxPeers:             30,
	PipelineDepth:        5,
	BlockSize:            piece.DefaultBlockSize,
	Selection:            "sequential",
	DialTimeout:          5 * time.Second,
	HandshakeTimeout:     5 * time.Second,
	RequestTimeout:       30 * time.Second,
	DialInterval:         50 * time.Millisecond,
	Port:                 6881,
}

// NewConfig validates config and fills zero durations from DefaultConfig.
func NewConfig(config Config) (Config, error) {
	if !config.UseTrackers && !config.UseDHT {
		err := fmt.Errorf("enable tracker or dht peer discovery")
		return Config{}, err
	}
	if config.MaxPeers <= 0 {
		return Config{}, fmt.Errorf("max peers must be positive, got %d", config.MaxPeers)
	}
	if config.PipelineDepth <= 0 {
		return Config{}, fmt.Errorf("pipeline depth must be positive, got %d", config.PipelineDepth)
	}
	if config.BlockSize <= 0 || config.BlockSize > piece.DefaultBlockSize {
		return Config{}, fmt.Errorf("block size must be in (0, %d], got %d", piece.DefaultBlockSize, config.BlockSize)
	}
	if _, err := piece.ParseSelector(config.Selection); err != nil {
		return Config{}, err
	}

	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultConfig.DialTimeout
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultConfig.HandshakeTimeout
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultConfig.RequestTimeout
	}
	if config.DialInterval == 0 {
		config.DialInterval = DefaultConfig.DialInterval
	}
	return config, nil
}
