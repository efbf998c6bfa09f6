package file

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"os"

	"bitlet/bencode"

	"github.com/samber/lo"
)

// Only single file torrents are supported.
var ErrMultiFile = errors.New("multi-file torrents are not supported")

const hashLength = 20

type TorrentFile struct {
	Announce     string
	AnnounceList []string
	InfoHash     [20]byte
	PieceLength  int
	PieceHashes  [][20]byte
	Length       int
	Name         string
	Private      bool
}

// Open reads and parses the metainfo file at path.
func Open(path string) (*TorrentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

// Parse decodes a bencoded metainfo blob.
func Parse(data []byte) (*TorrentFile, error) {
	v, err := bencode.DecodeAll(data)
	if err != nil {
		return nil, err
	}
	root, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("expected metainfo dictionary")
	}
	return toTorrentFile(root)
}

// The info hash is the SHA-1 of the info dictionary re-encoded exactly as it
// was decoded.
func hash(info bencode.Dict) ([20]byte, error) {
	buf, err := bencode.Encode(info)
	if err != nil {
		return [20]byte{}, err
	}
	return sha1.Sum(buf), nil
}

func generatePieceHashes(pieces []byte) ([][20]byte, error) {
	if len(pieces)%hashLength != 0 {
		err := fmt.Errorf("received incorrect number of pieces with length %d", len(pieces))
		return nil, err
	}

	numHashes := len(pieces) / hashLength
	hashes := make([][20]byte, numHashes)

	for i := 0; i < numHashes; i++ {
		copy(hashes[i][:], pieces[i*hashLength:(i+1)*hashLength])
	}
	return hashes, nil
}

// flattenAnnounceList keeps the first tracker of every tier.
func flattenAnnounceList(announceList bencode.List) []string {
	return lo.FilterMap(announceList, func(tier bencode.Value, _ int) (string, bool) {
		urls, ok := tier.(bencode.List)
		if !ok || len(urls) == 0 {
			return "", false
		}
		url, ok := urls[0].(bencode.String)
		return string(url), ok && len(url) > 0
	})
}

func toTorrentFile(root bencode.Dict) (*TorrentFile, error) {
	announce, err := root.GetString("announce")
	if err != nil {
		return nil, err
	}
	info, err := root.GetDict("info")
	if err != nil {
		return nil, err
	}
	if info.Has("files") {
		return nil, ErrMultiFile
	}

	name, err := info.GetString("name")
	if err != nil {
		return nil, err
	}
	pieceLength, err := info.GetInt("piece length")
	if err != nil {
		return nil, err
	}
	if pieceLength <= 0 {
		return nil, fmt.Errorf("invalid piece length %d", pieceLength)
	}
	length, err := info.GetInt("length")
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid length %d", length)
	}
	pieces, err := info.GetString("pieces")
	if err != nil {
		return nil, err
	}
	pieceHashes, err := generatePieceHashes(pieces)
	if err != nil {
		return nil, err
	}
	if want := (length + pieceLength - 1) / pieceLength; int64(len(pieceHashes)) != want {
		return nil, fmt.Errorf("expected %d piece hashes for length %d but got %d", want, length, len(pieceHashes))
	}

	infoHash, err := hash(info)
	if err != nil {
		return nil, err
	}

	tf := TorrentFile{
		Announce:    string(announce),
		InfoHash:    infoHash,
		PieceHashes: pieceHashes,
		PieceLength: int(pieceLength),
		Length:      int(length),
		Name:        string(name),
	}
	if list, err := root.GetList("announce-list"); err == nil {
		tf.AnnounceList = flattenAnnounceList(list)
	}
	if private, err := info.GetInt("private"); err == nil {
		tf.Private = private == 1
	}
	return &tf, nil
}

// Trackers returns the announce URLs to try, in order.
func (tf *TorrentFile) Trackers() []string {
	if len(tf.AnnounceList) == 0 {
		return []string{tf.Announce}
	}
	return lo.Uniq(tf.AnnounceList)
}

// NumPieces is the number of pieces in the torrent.
func (tf *TorrentFile) NumPieces() int {
	return len(tf.PieceHashes)
}

// PieceBounds returns the byte range [begin, end) of a piece within the file.
func (tf *TorrentFile) PieceBounds(index int) (int, int) {
	begin := index * tf.PieceLength
	end := begin + tf.PieceLength
	if end > tf.Length {
		end = tf.Length
	}
	return begin, end
}

// PieceSize returns the length of a piece; the last one may be shorter.
func (tf *TorrentFile) PieceSize(index int) int {
	begin, end := tf.PieceBounds(index)
	return end - begin
}

func (tf *TorrentFile) String() string {
	return fmt.Sprintf("Filename: %s\nFile length: %d\nAnnounce URL: %s\nHash: %x",
		tf.Name, tf.Length, tf.Announce, tf.InfoHash)
}
