package discover

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitlet/peer"

	"github.com/nictuku/dht"
	"github.com/rs/zerolog"
)

type fakeTracker struct {
	err      error
	res      *Response
	requests []Request
}

func (f *fakeTracker) Announce(ctx context.Context, req Request) (*Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func TestAnnouncerFallsBackAndPromotes(t *testing.T) {
	down := &fakeTracker{err: errors.New("connection refused")}
	up := &fakeTracker{res: &Response{Interval: time.Millisecond, Peers: testPeers}}
	trackers := map[string]Tracker{"udp://down:1": down, "http://up/announce": up}

	left := int64(100)
	a := NewAnnouncer(
		[]string{"udp://down:1", "wss://unsupported", "http://up/announce"},
		testRequest(),
		func() Stats { left -= 10; return Stats{Left: left} },
		WithMinInterval(time.Millisecond),
		WithOpener(func(u string) (Tracker, error) {
			if tr, ok := trackers[u]; ok {
				return tr, nil
			}
			return nil, ErrUnsupportedScheme
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []peer.Peer)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, out) }()

	for i := 0; i < 2; i++ {
		select {
		case peers := <-out:
			if len(peers) != len(testPeers) {
				t.Errorf("got %d peers, want %d", len(peers), len(testPeers))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no peers announced")
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want %v", err, context.Canceled)
	}

	if len(down.requests) != 1 {
		t.Errorf("failing tracker asked %d times, want 1 before promotion", len(down.requests))
	}
	if a.trackers[0] != "http://up/announce" {
		t.Errorf("trackers = %v, answering tracker not promoted", a.trackers)
	}
	if len(up.requests) < 2 {
		t.Fatalf("answering tracker asked %d times", len(up.requests))
	}
	if up.requests[0].Event != EventStarted {
		t.Errorf("first announce event = %q, want %q", up.requests[0].Event, EventStarted)
	}
	if up.requests[1].Event != EventNone {
		t.Errorf("second announce event = %q, want none", up.requests[1].Event)
	}
	if up.requests[0].Left != 90 || up.requests[1].Left != 80 {
		t.Errorf("left = %d, %d; stats not refreshed per announce", up.requests[0].Left, up.requests[1].Left)
	}
}

func TestAnnouncerNoTrackers(t *testing.T) {
	a := NewAnnouncer([]string{"wss://a", "ftp://b"}, testRequest(), func() Stats { return Stats{} })
	err := a.Run(context.Background(), make(chan []peer.Peer))
	if !errors.Is(err, ErrNoTrackers) {
		t.Fatalf("Run() = %v, want %v", err, ErrNoTrackers)
	}
}

func TestAnnouncerRetriesAfterFailure(t *testing.T) {
	down := &fakeTracker{err: errors.New("timeout")}
	a := NewAnnouncer([]string{"udp://down:1"}, testRequest(), func() Stats { return Stats{} },
		WithOpener(func(string) (Tracker, error) { return down, nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Run(ctx, make(chan []peer.Peer))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want %v", err, context.DeadlineExceeded)
	}
	if a.started {
		t.Error("announcer marked started without a successful announce")
	}
	if len(down.requests) != 1 || down.requests[0].Event != EventStarted {
		t.Errorf("requests = %+v", down.requests)
	}
}

func TestAnnouncerGivesUp(t *testing.T) {
	down := &fakeTracker{err: errors.New("timeout")}
	up := &fakeTracker{res: &Response{Interval: time.Millisecond}}
	answers := 1
	a := NewAnnouncer([]string{"udp://flaky:1"}, testRequest(), func() Stats { return Stats{} },
		WithMinInterval(time.Millisecond),
		WithRetry(time.Millisecond, 3),
		WithOpener(func(string) (Tracker, error) {
			// one success in the middle resets the failure count
			if len(down.requests) == 2 && answers > 0 {
				answers--
				return up, nil
			}
			return down, nil
		}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.Run(ctx, make(chan []peer.Peer))
	if !errors.Is(err, ErrTrackersExhausted) {
		t.Fatalf("Run() = %v, want %v", err, ErrTrackersExhausted)
	}
	if len(down.requests) != 5 || len(up.requests) != 1 {
		t.Errorf("failed announces = %d, successful = %d; want 5 and 1", len(down.requests), len(up.requests))
	}
}

func TestDecodeDHTPeers(t *testing.T) {
	addrs := []string{string(peer.Marshal(testPeers)[:6]), "bad", string(peer.Marshal(testPeers)[6:])}
	peers := decodeDHTPeers(addrs, zerolog.Nop())
	if len(peers) != 2 || peers[0].String() != "192.0.2.1:6881" || peers[1].String() != "192.0.2.2:51413" {
		t.Errorf("decodeDHTPeers() = %v", peers)
	}
	if got := dht.DecodePeerAddress(addrs[0]); got != "192.0.2.1:6881" {
		t.Errorf("DecodePeerAddress() = %q", got)
	}
}
