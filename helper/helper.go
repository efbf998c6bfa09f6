package helper

import "math/rand"

// Client prefix of an Azureus-style peer id: '-', two characters for the client,
// four digits for the version, '-'.
const clientPrefix = "-BL0001-"

// GeneratePeerID returns a 20 byte peer id: the client prefix followed by
// random digits.
func GeneratePeerID() [20]byte {
	digits := "1234567890"
	peerID := [20]byte{}
	n := copy(peerID[:], clientPrefix)
	for i := n; i < 20; i++ {
		peerID[i] = digits[rand.Intn(len(digits))]
	}
	return peerID
}

func GenerateRandomID(size int) []byte {
	symbols := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"
	id := make([]byte, size)
	for i := 0; i < size; i++ {
		id[i] = symbols[rand.Intn(len(symbols))]
	}
	return id
}
