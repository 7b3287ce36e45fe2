// Package serialization holds the closed table of primitive kinds that can be
// passed as method parameters or persisted through contract state. Each kind
// has one fixed, explicit byte encoding. New kinds are added by extending the
// table.
package serialization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/govm-net/scvm/core"
)

var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// Kind identifies a primitive type. The numeric values are part of the wire
// format of method parameters.
type Kind byte

const (
	KindBool Kind = iota + 1
	KindByte
	KindChar
	KindString
	KindUInt32
	KindInt32
	KindUInt64
	KindInt64
	KindAddress
	KindByteArray
)

// Char is a single unicode code point. It exists so that characters can be
// told apart from int32 values.
type Char rune

type codec struct {
	name string
	// size is the fixed encoded width, or -1 for variable length kinds
	size   int
	encode func(v any) ([]byte, bool)
	decode func(data []byte) (any, error)
}

var codecs = map[Kind]codec{
	KindBool: {
		name: "bool",
		size: 1,
		encode: func(v any) ([]byte, bool) {
			b, ok := v.(bool)
			if !ok {
				return nil, false
			}
			if b {
				return []byte{1}, true
			}
			return []byte{0}, true
		},
		decode: func(data []byte) (any, error) {
			switch data[0] {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
			return nil, fmt.Errorf("%w: bool byte %#x", ErrInvalidEncoding, data[0])
		},
	},
	KindByte: {
		name: "byte",
		size: 1,
		encode: func(v any) ([]byte, bool) {
			b, ok := v.(byte)
			return []byte{b}, ok
		},
		decode: func(data []byte) (any, error) {
			return data[0], nil
		},
	},
	KindChar: {
		name: "char",
		size: 4,
		encode: func(v any) ([]byte, bool) {
			c, ok := v.(Char)
			if !ok || !utf8.ValidRune(rune(c)) {
				return nil, false
			}
			return binary.LittleEndian.AppendUint32(nil, uint32(c)), true
		},
		decode: func(data []byte) (any, error) {
			r := rune(binary.LittleEndian.Uint32(data))
			if !utf8.ValidRune(r) {
				return nil, fmt.Errorf("%w: rune %#x", ErrInvalidEncoding, r)
			}
			return Char(r), nil
		},
	},
	KindString: {
		name: "string",
		size: -1,
		encode: func(v any) ([]byte, bool) {
			s, ok := v.(string)
			if !ok || !utf8.ValidString(s) {
				return nil, false
			}
			return []byte(s), true
		},
		decode: func(data []byte) (any, error) {
			if !utf8.Valid(data) {
				return nil, fmt.Errorf("%w: string is not utf-8", ErrInvalidEncoding)
			}
			return string(data), nil
		},
	},
	KindUInt32: {
		name: "uint32",
		size: 4,
		encode: func(v any) ([]byte, bool) {
			n, ok := v.(uint32)
			return binary.LittleEndian.AppendUint32(nil, n), ok
		},
		decode: func(data []byte) (any, error) {
			return binary.LittleEndian.Uint32(data), nil
		},
	},
	KindInt32: {
		name: "int32",
		size: 4,
		encode: func(v any) ([]byte, bool) {
			n, ok := v.(int32)
			return binary.LittleEndian.AppendUint32(nil, uint32(n)), ok
		},
		decode: func(data []byte) (any, error) {
			return int32(binary.LittleEndian.Uint32(data)), nil
		},
	},
	KindUInt64: {
		name: "uint64",
		size: 8,
		encode: func(v any) ([]byte, bool) {
			n, ok := v.(uint64)
			return binary.LittleEndian.AppendUint64(nil, n), ok
		},
		decode: func(data []byte) (any, error) {
			return binary.LittleEndian.Uint64(data), nil
		},
	},
	KindInt64: {
		name: "int64",
		size: 8,
		encode: func(v any) ([]byte, bool) {
			n, ok := v.(int64)
			return binary.LittleEndian.AppendUint64(nil, uint64(n)), ok
		},
		decode: func(data []byte) (any, error) {
			return int64(binary.LittleEndian.Uint64(data)), nil
		},
	},
	KindAddress: {
		name: "address",
		size: core.AddressLength,
		encode: func(v any) ([]byte, bool) {
			a, ok := v.(core.Address)
			return a.Bytes(), ok
		},
		decode: func(data []byte) (any, error) {
			return core.AddressFromBytes(data), nil
		},
	},
	KindByteArray: {
		name: "bytes",
		size: -1,
		encode: func(v any) ([]byte, bool) {
			b, ok := v.([]byte)
			if !ok {
				return nil, false
			}
			out := make([]byte, len(b))
			copy(out, b)
			return out, true
		},
		decode: func(data []byte) (any, error) {
			out := make([]byte, len(data))
			copy(out, data)
			return out, nil
		},
	},
}

func (k Kind) String() string {
	if c, ok := codecs[k]; ok {
		return c.name
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Valid reports whether k is in the table.
func (k Kind) Valid() bool {
	_, ok := codecs[k]
	return ok
}

// KindOf returns the kind of a Go value, or ErrUnsupportedType.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case bool:
		return KindBool, nil
	case byte:
		return KindByte, nil
	case Char:
		return KindChar, nil
	case string:
		return KindString, nil
	case uint32:
		return KindUInt32, nil
	case int32:
		return KindInt32, nil
	case uint64:
		return KindUInt64, nil
	case int64:
		return KindInt64, nil
	case core.Address:
		return KindAddress, nil
	case []byte:
		return KindByteArray, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

// KindByName looks a kind up by its table name.
func KindByName(name string) (Kind, error) {
	for k, c := range codecs {
		if c.name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, name)
}

// Serialize encodes v with the encoding of its kind.
func Serialize(v any) ([]byte, error) {
	k, err := KindOf(v)
	if err != nil {
		return nil, err
	}
	return SerializeAs(k, v)
}

// SerializeAs encodes v, which must be of kind k.
func SerializeAs(k Kind, v any) ([]byte, error) {
	c, ok := codecs[k]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, k)
	}
	data, ok := c.encode(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a valid %v", ErrUnsupportedType, v, k)
	}
	return data, nil
}

// Deserialize decodes data as a value of kind k.
func Deserialize(k Kind, data []byte) (any, error) {
	c, ok := codecs[k]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, k)
	}
	if c.size >= 0 && len(data) != c.size {
		return nil, fmt.Errorf("%w: %v needs %d bytes, got %d", ErrInvalidEncoding, k, c.size, len(data))
	}
	return c.decode(data)
}

// Zero returns the zero value of kind k.
func Zero(k Kind) (any, error) {
	switch k {
	case KindBool:
		return false, nil
	case KindByte:
		return byte(0), nil
	case KindChar:
		return Char(0), nil
	case KindString:
		return "", nil
	case KindUInt32:
		return uint32(0), nil
	case KindInt32:
		return int32(0), nil
	case KindUInt64:
		return uint64(0), nil
	case KindInt64:
		return int64(0), nil
	case KindAddress:
		return core.Address{}, nil
	case KindByteArray:
		return []byte(nil), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, k)
}
