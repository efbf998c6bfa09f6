package bencode

import "fmt"

// GetString returns the byte string stored under key.
func (d Dict) GetString(key string) ([]byte, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing key %q", key)
	}
	s, ok := v.(String)
	if !ok {
		return nil, fmt.Errorf("key %q: expected string but got %s", key, kind(v))
	}
	return s, nil
}

// GetInt returns the integer stored under key as an int64.
func (d Dict) GetInt(key string) (int64, error) {
	v, ok := d.Get(key)
	if !ok {
		return 0, fmt.Errorf("missing key %q", key)
	}
	i, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("key %q: expected integer but got %s", key, kind(v))
	}
	n, err := i.Int64()
	if err != nil {
		return 0, fmt.Errorf("key %q: %w", key, err)
	}
	return n, nil
}

// GetDict returns the dictionary stored under key.
func (d Dict) GetDict(key string) (Dict, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing key %q", key)
	}
	dict, ok := v.(Dict)
	if !ok {
		return nil, fmt.Errorf("key %q: expected dictionary but got %s", key, kind(v))
	}
	return dict, nil
}

// GetList returns the list stored under key.
func (d Dict) GetList(key string) (List, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing key %q", key)
	}
	l, ok := v.(List)
	if !ok {
		return nil, fmt.Errorf("key %q: expected list but got %s", key, kind(v))
	}
	return l, nil
}

func kind(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case String:
		return "string"
	case List:
		return "list"
	case Dict:
		return "dictionary"
	default:
		return fmt.Sprintf("%T", v)
	}
}
