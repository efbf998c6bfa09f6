package bencode

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// Encode returns the bencoded form of v.
//
//   - Int    -> i<decimal>e
//   - String -> <length>:<bytes>
//   - List   -> l<items>e
//   - Dict   -> d<key><value>...e, in stored order
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the bencoded form of v to w.
func EncodeTo(w io.Writer, v Value) error {
	bw := bufio.NewWriter(w)
	if err := encodeValue(bw, v); err != nil {
		return err
	}
	return bw.Flush()
}

type writer interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

func encodeValue(w writer, v Value) error {
	switch v := v.(type) {
	case Int:
		w.WriteByte('i')
		w.WriteString(v.String())
		return w.WriteByte('e')
	case String:
		encodeString(w, v)
		return nil
	case List:
		w.WriteByte('l')
		for _, item := range v {
			if err := encodeValue(w, item); err != nil {
				return err
			}
		}
		return w.WriteByte('e')
	case Dict:
		w.WriteByte('d')
		for _, e := range v {
			encodeString(w, e.Key)
			if err := encodeValue(w, e.Value); err != nil {
				return err
			}
		}
		return w.WriteByte('e')
	default:
		return &EncodeError{Value: v}
	}
}

func encodeString(w writer, s []byte) {
	w.WriteString(strconv.Itoa(len(s)))
	w.WriteByte(':')
	w.Write(s)
}
