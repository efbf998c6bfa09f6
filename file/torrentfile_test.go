package file

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"os"
	"path/filepath"
	"testing"

	jackpal "github.com/jackpal/bencode-go"
)

type bencodeInfo struct {
	PieceLength int               `bencode:"piece length"`
	Pieces      string            `bencode:"pieces"`
	Length      int               `bencode:"length,omitempty"`
	Name        string            `bencode:"name"`
	Private     int               `bencode:"private,omitempty"`
	Files       []bencodeFileInfo `bencode:"files,omitempty"`
}

type bencodeFileInfo struct {
	Length int      `bencode:"length"`
	Path   []string `bencode:"path"`
}

type bencodeTorrent struct {
	Announce     string      `bencode:"announce"`
	AnnounceList [][]string  `bencode:"announce-list,omitempty"`
	Info         bencodeInfo `bencode:"info"`
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jackpal.Marshal(&buf, v); err != nil {
		t.Fatalf("jackpal.Marshal() error = %v", err)
	}
	return buf.Bytes()
}

func sampleInfo() bencodeInfo {
	h1 := sha1.Sum([]byte("first"))
	h2 := sha1.Sum([]byte("second"))
	return bencodeInfo{
		PieceLength: 4,
		Pieces:      string(h1[:]) + string(h2[:]),
		Length:      6,
		Name:        "sample.txt",
	}
}

func TestParse(t *testing.T) {
	info := sampleInfo()
	data := marshal(t, bencodeTorrent{
		Announce: "http://tracker.example/announce",
		AnnounceList: [][]string{
			{"udp://tracker.one:1337"},
			{"http://tracker.two/announce", "http://backup.two/announce"},
		},
		Info: info,
	})

	tf, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if want := sha1.Sum(marshal(t, info)); tf.InfoHash != want {
		t.Errorf("InfoHash = %x, want %x", tf.InfoHash, want)
	}
	if tf.Name != "sample.txt" || tf.Length != 6 || tf.PieceLength != 4 {
		t.Errorf("Parse() = %+v", tf)
	}
	if tf.NumPieces() != 2 || tf.PieceHashes[1] != sha1.Sum([]byte("second")) {
		t.Errorf("PieceHashes = %x", tf.PieceHashes)
	}
	if tf.Announce != "http://tracker.example/announce" {
		t.Errorf("Announce = %q", tf.Announce)
	}
	trackers := tf.Trackers()
	if len(trackers) != 2 || trackers[0] != "udp://tracker.one:1337" || trackers[1] != "http://tracker.two/announce" {
		t.Errorf("Trackers() = %v", trackers)
	}
}

func TestPieceBounds(t *testing.T) {
	tf := &TorrentFile{PieceLength: 4, Length: 6, PieceHashes: make([][20]byte, 2)}
	if begin, end := tf.PieceBounds(1); begin != 4 || end != 6 {
		t.Errorf("PieceBounds(1) = %d, %d", begin, end)
	}
	if size := tf.PieceSize(0); size != 4 {
		t.Errorf("PieceSize(0) = %d", size)
	}
	if size := tf.PieceSize(1); size != 2 {
		t.Errorf("PieceSize(1) = %d", size)
	}
	if trackers := (&TorrentFile{Announce: "http://a"}).Trackers(); len(trackers) != 1 || trackers[0] != "http://a" {
		t.Errorf("Trackers() = %v", trackers)
	}
}

func TestParseErrors(t *testing.T) {
	multi := sampleInfo()
	multi.Length = 0
	multi.Files = []bencodeFileInfo{{Length: 6, Path: []string{"a"}}}

	wrongCount := sampleInfo()
	wrongCount.Length = 100

	badPieces := sampleInfo()
	badPieces.Pieces = "short"

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "multi file", data: marshal(t, bencodeTorrent{Announce: "http://a", Info: multi}), want: ErrMultiFile},
		{name: "wrong piece count", data: marshal(t, bencodeTorrent{Announce: "http://a", Info: wrongCount})},
		{name: "pieces not multiple of 20", data: marshal(t, bencodeTorrent{Announce: "http://a", Info: badPieces})},
		{name: "missing info", data: []byte("d8:announce8:http://ae")},
		{name: "not a dictionary", data: []byte("li1ee")},
		{name: "truncated", data: []byte("d8:announce8:http")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.torrent")
	data := marshal(t, bencodeTorrent{Announce: "http://a", Info: sampleInfo()})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	tf, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if tf.Name != "sample.txt" {
		t.Errorf("Name = %q", tf.Name)
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.torrent")); err == nil {
		t.Error("Open() of a missing file succeeded")
	}
}
