package bencode

import (
	"math/big"
	"strconv"
)

// Nested lists and dictionaries deeper than this are rejected.
const maxDepth = 256

// Decode parses one value from the start of data and returns it together with
// the number of bytes consumed. Trailing bytes are left alone.
func Decode(data []byte) (Value, int, error) {
	d := decoder{data: data}
	v, err := d.value(0)
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

// DecodeAll parses data as exactly one value.
func DecodeAll(data []byte) (Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, &SyntaxError{Offset: n, Msg: "trailing data after value"}
	}
	return v, nil
}

// decoder is a forward-only cursor over the input.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) eof(msg string) error {
	return &SyntaxError{Offset: d.pos, Msg: msg, Err: ErrUnexpectedEOF}
}

func (d *decoder) syntax(offset int, msg string) error {
	return &SyntaxError{Offset: offset, Msg: msg}
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.data) {
		return 0, false
	}
	return d.data[d.pos], true
}

func (d *decoder) value(depth int) (Value, error) {
	c, ok := d.peek()
	if !ok {
		return nil, d.eof("expected value")
	}
	switch {
	case c == 'i':
		d.pos++
		return d.integer()
	case c == 'l':
		if depth >= maxDepth {
			return nil, d.syntax(d.pos, "nesting too deep")
		}
		d.pos++
		return d.list(depth + 1)
	case c == 'd':
		if depth >= maxDepth {
			return nil, d.syntax(d.pos, "nesting too deep")
		}
		d.pos++
		return d.dict(depth + 1)
	case c >= '0' && c <= '9':
		return d.string()
	default:
		return nil, d.syntax(d.pos, "invalid token "+strconv.QuoteRune(rune(c)))
	}
}

// readUntil returns the bytes up to the terminator and moves past it.
func (d *decoder) readUntil(term byte, what string) ([]byte, error) {
	start := d.pos
	for i := start; i < len(d.data); i++ {
		if d.data[i] == term {
			d.pos = i + 1
			return d.data[start:i], nil
		}
	}
	d.pos = len(d.data)
	return nil, d.eof("unterminated " + what)
}

func (d *decoder) integer() (Value, error) {
	start := d.pos
	digits, err := d.readUntil('e', "integer")
	if err != nil {
		return nil, err
	}
	if !canonicalInt(digits) {
		return nil, d.syntax(start, "malformed integer "+strconv.Quote(string(digits)))
	}
	n, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return nil, d.syntax(start, "malformed integer "+strconv.Quote(string(digits)))
	}
	return Int{N: n}, nil
}

// canonicalInt accepts an optional minus sign followed by digits with no
// leading zeros, and rejects "-0".
func canonicalInt(b []byte) bool {
	if len(b) > 0 && b[0] == '-' {
		b = b[1:]
		if len(b) > 0 && b[0] == '0' {
			return false
		}
	}
	if len(b) == 0 {
		return false
	}
	if b[0] == '0' && len(b) > 1 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (d *decoder) string() (String, error) {
	start := d.pos
	digits, err := d.readUntil(':', "string length")
	if err != nil {
		return nil, err
	}
	if len(digits) == 0 || (digits[0] == '0' && len(digits) > 1) {
		return nil, d.syntax(start, "malformed string length")
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil || length < 0 {
		return nil, d.syntax(start, "malformed string length "+strconv.Quote(string(digits)))
	}
	if length > len(d.data)-d.pos {
		d.pos = len(d.data)
		return nil, d.eof("string of length " + strconv.Itoa(length))
	}
	s := make(String, length)
	copy(s, d.data[d.pos:d.pos+length])
	d.pos += length
	return s, nil
}

func (d *decoder) list(depth int) (Value, error) {
	l := List{}
	for {
		c, ok := d.peek()
		if !ok {
			return nil, d.eof("unterminated list")
		}
		if c == 'e' {
			d.pos++
			return l, nil
		}
		v, err := d.value(depth)
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
}

func (d *decoder) dict(depth int) (Value, error) {
	dict := Dict{}
	seen := make(map[string]struct{})
	for {
		c, ok := d.peek()
		if !ok {
			return nil, d.eof("unterminated dictionary")
		}
		if c == 'e' {
			d.pos++
			return dict, nil
		}
		if c < '0' || c > '9' {
			return nil, d.syntax(d.pos, "dictionary key is not a string")
		}
		keyAt := d.pos
		key, err := d.string()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[string(key)]; dup {
			return nil, d.syntax(keyAt, "duplicate dictionary key "+strconv.Quote(string(key)))
		}
		seen[string(key)] = struct{}{}
		v, err := d.value(depth)
		if err != nil {
			return nil, err
		}
		dict = append(dict, Entry{Key: key, Value: v})
	}
}
