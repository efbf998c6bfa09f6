package bencode

import (
	"bytes"
	"fmt"
	"math/big"
)

// Value is one of Int, String, List or Dict.
type Value interface {
	bencodeValue()
}

// Int holds an arbitrary precision signed integer.
type Int struct {
	N *big.Int
}

// String holds a raw byte string, not necessarily valid UTF-8.
type String []byte

// List is an ordered sequence of values.
type List []Value

// Entry is a single key/value pair of a Dict.
type Entry struct {
	Key   []byte
	Value Value
}

// Dict keeps its entries in the order they were decoded or set. Encoding never
// reorders them, so re-encoding a decoded info dictionary reproduces its hash.
type Dict []Entry

func (Int) bencodeValue()    {}
func (String) bencodeValue() {}
func (List) bencodeValue()   {}
func (Dict) bencodeValue()   {}

func NewInt(n int64) Int {
	return Int{N: big.NewInt(n)}
}

func NewString(s string) String {
	return String(s)
}

// Int64 returns the integer if it fits into 64 bits.
func (i Int) Int64() (int64, error) {
	if i.N == nil {
		return 0, nil
	}
	if !i.N.IsInt64() {
		return 0, fmt.Errorf("integer %s overflows int64", i.N)
	}
	return i.N.Int64(), nil
}

func (i Int) String() string {
	if i.N == nil {
		return "0"
	}
	return i.N.String()
}

// Get returns the value stored under key.
func (d Dict) Get(key string) (Value, bool) {
	for _, e := range d {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key in place, or appends a new entry.
func (d Dict) Set(key string, v Value) Dict {
	for i, e := range d {
		if string(e.Key) == key {
			d[i].Value = v
			return d
		}
	}
	return append(d, Entry{Key: []byte(key), Value: v})
}

// Has reports whether key is present.
func (d Dict) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Equal reports whether a and b hold the same value, comparing dictionaries
// entry by entry in order.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		if !ok {
			return false
		}
		return x.cmp(y) == 0
	case String:
		y, ok := b.(String)
		return ok && bytes.Equal(x, y)
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Dict:
		y, ok := b.(Dict)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !bytes.Equal(x[i].Key, y[i].Key) || !Equal(x[i].Value, y[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (i Int) cmp(j Int) int {
	a, b := i.N, j.N
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b)
}
