package piece

import (
	"bytes"
	"crypto/sha1"
	"sync"
	"time"

	"bitlet/bitfield"
	"bitlet/file"

	"github.com/kelindar/bitmap"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// data is downloaded in blocks (16kB) and not pieces
const DefaultBlockSize = 16 * 1024

type Status int

const (
	Missing Status = iota
	InProgress
	Verified
)

func (s Status) String() string {
	switch s {
	case Missing:
		return "missing"
	case InProgress:
		return "in progress"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// Outcome is the result of handing a block to Receive.
type Outcome int

const (
	BlockAccepted Outcome = iota
	PieceVerified
	PieceCorrupt
	DuplicateBlock
)

func (o Outcome) String() string {
	switch o {
	case BlockAccepted:
		return "block accepted"
	case PieceVerified:
		return "piece verified"
	case PieceCorrupt:
		return "piece corrupt"
	case DuplicateBlock:
		return "duplicate block"
	default:
		return "unknown"
	}
}

// Request is an outstanding block request assigned to one peer.
type Request struct {
	Index    int
	Begin    int
	Length   int
	IssuedAt time.Time
	Peer     string
}

type blockKey struct {
	index int
	begin int
}

type pieceState struct {
	status    Status
	length    int
	numBlocks int
	buffer    []byte
	received  bitmap.Bitmap // block indexes written into buffer
	pending   int           // blocks requested and not yet received
}

func (ps *pieceState) free() int {
	return ps.numBlocks - ps.received.Count() - ps.pending
}

// Manager owns the state of every piece. Its methods are safe for concurrent
// use; they serialize on a single mutex.
type Manager struct {
	mu           sync.Mutex
	hashes       [][20]byte
	pieces       []pieceState
	have         bitfield.Bitfield
	verified     int
	left         int64
	availability []int
	outstanding  map[blockKey]Request

	selector   Selector
	blockSize  int
	onVerified func(index int, data []byte)
	log        zerolog.Logger
	now        func() time.Time

	complete atomic.Bool
}

type Option func(*Manager)

func WithSelector(s Selector) Option {
	return func(m *Manager) { m.selector = s }
}

func WithBlockSize(size int) Option {
	return func(m *Manager) { m.blockSize = size }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithVerifiedHandler registers fn to receive the bytes of every verified
// piece. fn is called without the manager's lock held and owns data.
func WithVerifiedHandler(fn func(index int, data []byte)) Option {
	return func(m *Manager) { m.onVerified = fn }
}

func New(tf *file.TorrentFile, opts ...Option) *Manager {
	m := &Manager{
		hashes:       tf.PieceHashes,
		pieces:       make([]pieceState, len(tf.PieceHashes)),
		have:         bitfield.New(len(tf.PieceHashes)),
		left:         int64(tf.Length),
		availability: make([]int, len(tf.PieceHashes)),
		outstanding:  make(map[blockKey]Request),
		selector:     Sequential{},
		blockSize:    DefaultBlockSize,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	for i := range m.pieces {
		length := tf.PieceSize(i)
		m.pieces[i] = pieceState{
			length:    length,
			numBlocks: (length + m.blockSize - 1) / m.blockSize,
		}
	}
	if len(m.pieces) == 0 {
		m.complete.Store(true)
	}
	return m
}

func (m *Manager) blockLength(index, block int) int {
	begin := block * m.blockSize
	length := m.pieces[index].length - begin
	if length > m.blockSize {
		length = m.blockSize
	}
	return length
}

// Next selects a block the peer can serve that is neither verified nor
// already requested, and records it as outstanding for peerID.
func (m *Manager) Next(peerID string, have bitfield.Bitfield) (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.complete.Load() {
		return Request{}, false
	}

	var candidates []int
	for i := range m.pieces {
		ps := &m.pieces[i]
		if ps.status != Verified && ps.free() > 0 && have.HasPiece(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return Request{}, false
	}

	index := m.selector.Pick(candidates, m.availability)
	ps := &m.pieces[index]
	for block := 0; block < ps.numBlocks; block++ {
		key := blockKey{index, block * m.blockSize}
		if ps.received.Contains(uint32(block)) {
			continue
		}
		if _, taken := m.outstanding[key]; taken {
			continue
		}
		req := Request{
			Index:    index,
			Begin:    key.begin,
			Length:   m.blockLength(index, block),
			IssuedAt: m.now(),
			Peer:     peerID,
		}
		m.outstanding[key] = req
		ps.pending++
		ps.status = InProgress
		return req, true
	}
	// free() promised a block; reaching here means the counters drifted
	m.log.Error().Int("piece", index).Msg("no free block in candidate piece")
	return Request{}, false
}

// Receive writes a block into its piece. A block that completes the piece
// triggers hash verification.
func (m *Manager) Receive(index, begin int, data []byte) Outcome {
	m.mu.Lock()
	outcome, verified := m.receive(index, begin, data)
	m.mu.Unlock()

	if verified != nil && m.onVerified != nil {
		m.onVerified(index, verified)
	}
	return outcome
}

func (m *Manager) receive(index, begin int, data []byte) (Outcome, []byte) {
	if index < 0 || index >= len(m.pieces) || begin < 0 || begin%m.blockSize != 0 {
		return DuplicateBlock, nil
	}
	ps := &m.pieces[index]
	block := begin / m.blockSize
	if block >= ps.numBlocks || len(data) != m.blockLength(index, block) {
		return DuplicateBlock, nil
	}

	key := blockKey{index, begin}
	if _, ok := m.outstanding[key]; ok {
		delete(m.outstanding, key)
		ps.pending--
	}
	if ps.status == Verified || ps.received.Contains(uint32(block)) {
		return DuplicateBlock, nil
	}

	if ps.buffer == nil {
		ps.buffer = make([]byte, ps.length)
	}
	ps.status = InProgress
	copy(ps.buffer[begin:], data)
	ps.received.Set(uint32(block))

	if ps.received.Count() < ps.numBlocks {
		return BlockAccepted, nil
	}

	hash := sha1.Sum(ps.buffer)
	if !bytes.Equal(hash[:], m.hashes[index][:]) {
		m.log.Warn().Int("piece", index).Msg("piece failed integrity check")
		m.reset(ps)
		return PieceCorrupt, nil
	}

	buf := ps.buffer
	ps.buffer = nil
	ps.received.Clear()
	ps.status = Verified
	m.have.SetPiece(index)
	m.verified++
	m.left -= int64(ps.length)
	if m.verified == len(m.pieces) {
		m.complete.Store(true)
	}
	return PieceVerified, buf
}

// reset discards everything received for a piece. Only called once every
// block has arrived, so nothing of the piece is still outstanding.
func (m *Manager) reset(ps *pieceState) {
	ps.buffer = nil
	ps.received.Clear()
	ps.status = Missing
}

// Release returns every request outstanding for peerID to the pool.
func (m *Manager) Release(peerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for key, req := range m.outstanding {
		if req.Peer == peerID {
			m.drop(key)
			released++
		}
	}
	return released
}

func (m *Manager) drop(key blockKey) {
	delete(m.outstanding, key)
	ps := &m.pieces[key.index]
	ps.pending--
	if ps.status == InProgress && ps.pending == 0 && ps.received.Count() == 0 {
		ps.status = Missing
		ps.buffer = nil
	}
}

// AddPeer counts a newly advertised bitfield towards piece availability.
func (m *Manager) AddPeer(bf bitfield.Bitfield) {
	m.adjustAvailability(bf, 1)
}

// RemovePeer undoes AddPeer and every PeerHave for a departing peer.
func (m *Manager) RemovePeer(bf bitfield.Bitfield) {
	m.adjustAvailability(bf, -1)
}

func (m *Manager) adjustAvailability(bf bitfield.Bitfield, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.availability {
		if bf.HasPiece(i) {
			m.availability[i] += delta
		}
	}
}

// PeerHave counts one more peer advertising index.
func (m *Manager) PeerHave(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.availability) {
		m.availability[index]++
	}
}

// Complete reports whether every piece has been verified.
func (m *Manager) Complete() bool {
	return m.complete.Load()
}

// Bitfield returns a copy of the verified pieces.
func (m *Manager) Bitfield() bitfield.Bitfield {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.have.Clone()
}

func (m *Manager) NumPieces() int {
	return len(m.pieces)
}

// Verified returns the number of verified pieces.
func (m *Manager) Verified() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verified
}

// Left returns the number of bytes not yet verified.
func (m *Manager) Left() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.left
}

func (m *Manager) Status(index int) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pieces[index].status
}

// Outstanding returns the number of requests currently assigned to peers.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outstanding)
}
