package discover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"bitlet/peer"
)

var (
	ErrUnsupportedScheme = errors.New("bad or unsupported url scheme")
	// ErrNonCompactPeers is returned for trackers that answer with a list of
	// peer dictionaries instead of the compact string we ask for.
	ErrNonCompactPeers = errors.New("tracker returned a non-compact peer list")
	ErrTrackerFailure  = errors.New("tracker failure")
)

type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventStopped   Event = "stopped"
)

// Stats are the transfer counters reported on every announce.
type Stats struct {
	Uploaded   int64
	Downloaded int64
	Left       int64
}

type Request struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Event    Event
	Stats
}

// Response returns:
//   - interval (time to announce again)
//   - complete and incomplete (number of seeders and leechers)
//   - peers (list of peers)
type Response struct {
	Interval   time.Duration
	Complete   int
	Incomplete int
	Peers      []peer.Peer
}

// Tracker announces to one tracker URL.
type Tracker interface {
	Announce(ctx context.Context, req Request) (*Response, error)
}

// Open returns the tracker implementation for the scheme of rawURL.
func Open(rawURL string, client *http.Client) (Tracker, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	switch base.Scheme {
	case "http", "https":
		return &HTTPTracker{URL: base, Client: client}, nil
	case "udp":
		if base.Host == "" {
			return nil, fmt.Errorf("udp tracker %q has no host", rawURL)
		}
		return &UDPTracker{Addr: base.Host}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, base.Scheme)
	}
}
