package bitfield

import "fmt"

// Bitfield encodes which pieces a peer is able to send, most significant bit
// first. Pieces are zero indexed.
//
// Example:
//   - [0 0 1 0 1 0 0 0] (only pieces 2 and 4 are available)
//   - [1 1 1 1 1 1 1 1] (only pieces in the interval [0, 7] are available)
//   - [0 0 0 0 0 0 0 0] [0 0 0 0 0 0 0 1] (only piece 15 is available)
type Bitfield []byte

// New returns an empty bitfield large enough for n pieces.
func New(n int) Bitfield {
	return make(Bitfield, (n+7)/8)
}

// Check if piece at the given index can be sent by the peer.
func (bf Bitfield) HasPiece(index int) bool {
	byteIndex := index / 8 // determine which byte we need
	offset := index % 8    // determine offset within that byte
	if index < 0 || byteIndex >= len(bf) {
		return false
	}
	return bf[byteIndex]>>(7-offset)&1 != 0
}

// Set piece at the given index as available. Out of range indexes are ignored.
func (bf Bitfield) SetPiece(index int) {
	byteIndex := index / 8
	offset := index % 8
	if index < 0 || byteIndex >= len(bf) {
		return
	}
	bf[byteIndex] |= 1 << (7 - offset)
}

// Count returns the number of pieces set among the first n.
func (bf Bitfield) Count(n int) int {
	count := 0
	for i := 0; i < n; i++ {
		if bf.HasPiece(i) {
			count++
		}
	}
	return count
}

// Clone returns a copy that can be mutated independently.
func (bf Bitfield) Clone() Bitfield {
	c := make(Bitfield, len(bf))
	copy(c, bf)
	return c
}

// Validate checks a bitfield received from a peer for a torrent of n pieces:
// the length must be exactly ceil(n/8) bytes and the spare bits must be clear.
func Validate(bf Bitfield, n int) error {
	if want := (n + 7) / 8; len(bf) != want {
		return fmt.Errorf("expected bitfield of %d bytes but got %d", want, len(bf))
	}
	for i := n; i < len(bf)*8; i++ {
		if bf.HasPiece(i) {
			return fmt.Errorf("spare bit %d set in bitfield", i)
		}
	}
	return nil
}
