package discover

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"bitlet/peer"

	"github.com/jackpal/bencode-go"
)

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, v); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var testPeers = []peer.Peer{
	{IP: net.IP{192, 0, 2, 1}, Port: 6881},
	{IP: net.IP{192, 0, 2, 2}, Port: 51413},
}

func testRequest() Request {
	return Request{
		InfoHash: [20]byte{0xde, 0xad, 0xbe, 0xef},
		PeerID:   [20]byte{'-', 'B', 'L', '0', '0', '0', '1', '-'},
		Port:     6881,
		Event:    EventStarted,
		Stats:    Stats{Uploaded: 1, Downloaded: 2, Left: 3},
	}
}

func TestHTTPAnnounce(t *testing.T) {
	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		w.Write(marshal(t, map[string]interface{}{
			"interval":   900,
			"complete":   4,
			"incomplete": 7,
			"peers":      string(peer.Marshal(testPeers)),
		}))
	}))
	defer srv.Close()

	tr, err := Open(srv.URL+"/announce?passkey=abc", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	req := testRequest()
	res, err := tr.Announce(context.Background(), req)
	if err != nil {
		t.Fatalf("Announce() error: %v", err)
	}

	if res.Interval != 900*time.Second || res.Complete != 4 || res.Incomplete != 7 {
		t.Errorf("Announce() = %+v", res)
	}
	if len(res.Peers) != 2 || res.Peers[1].String() != "192.0.2.2:51413" {
		t.Errorf("peers = %v", res.Peers)
	}

	query := <-queries
	want := map[string]string{
		"info_hash":  string(req.InfoHash[:]),
		"peer_id":    string(req.PeerID[:]),
		"port":       "6881",
		"uploaded":   "1",
		"downloaded": "2",
		"left":       "3",
		"compact":    "1",
		"event":      "started",
		"passkey":    "abc",
	}
	for key, value := range want {
		if got := query.Get(key); got != value {
			t.Errorf("query %s = %q, want %q", key, got, value)
		}
	}
}

func TestHTTPAnnounceOmitsEmptyEvent(t *testing.T) {
	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		w.Write(marshal(t, map[string]interface{}{"peers": ""}))
	}))
	defer srv.Close()

	tr, _ := Open(srv.URL, srv.Client())
	req := testRequest()
	req.Event = EventNone
	res, err := tr.Announce(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if query := <-queries; query.Has("event") {
		t.Errorf("event = %q sent on a regular announce", query.Get("event"))
	}
	if res.Interval != 0 || len(res.Peers) != 0 {
		t.Errorf("Announce() = %+v", res)
	}
}

func TestHTTPAnnounceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   []byte
		target error
	}{
		{
			name:   "failure reason",
			status: http.StatusOK,
			body:   []byte("d14:failure reason12:unregisterede"),
			target: ErrTrackerFailure,
		},
		{
			name:   "dictionary peers",
			status: http.StatusOK,
			body:   []byte("d8:intervali60e5:peersld2:ip9:127.0.0.14:porti1eeee"),
			target: ErrNonCompactPeers,
		},
		{
			name:   "missing peers",
			status: http.StatusOK,
			body:   []byte("d8:intervali60ee"),
		},
		{
			name:   "malformed peers",
			status: http.StatusOK,
			body:   []byte("d5:peers5:abcdee"),
		},
		{
			name:   "not bencode",
			status: http.StatusOK,
			body:   []byte("<html>"),
		},
		{
			name:   "bad status",
			status: http.StatusNotFound,
			body:   []byte("d5:peers0:e"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			defer srv.Close()

			tr, _ := Open(srv.URL, srv.Client())
			_, err := tr.Announce(context.Background(), testRequest())
			if err == nil {
				t.Fatal("Announce() succeeded")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Announce() error = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{url: "http://tracker.example/announce"},
		{url: "https://tracker.example/announce"},
		{url: "udp://tracker.example:1337"},
		{url: "udp:///nohost", wantErr: true},
		{url: "wss://tracker.example", wantErr: true},
		{url: "://", wantErr: true},
	}
	for _, tt := range tests {
		if _, err := Open(tt.url, nil); (err != nil) != tt.wantErr {
			t.Errorf("Open(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}
