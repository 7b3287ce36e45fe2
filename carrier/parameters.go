package carrier

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/serialization"
)

// Parameter is one typed method argument.
type Parameter struct {
	Kind  serialization.Kind
	Value any
}

// NewParameter infers the kind of v.
func NewParameter(v any) (Parameter, error) {
	kind, err := serialization.KindOf(v)
	if err != nil {
		return Parameter{}, err
	}
	return Parameter{Kind: kind, Value: v}, nil
}

// EncodeParameters writes each parameter as kind byte followed by its
// length-prefixed value. An empty list encodes to nothing.
func EncodeParameters(params []Parameter) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range params {
		data, err := serialization.SerializeAs(p.Kind, p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		buf.WriteByte(byte(p.Kind))
		writeField(&buf, data)
	}
	return buf.Bytes(), nil
}

// DecodeParameters parses an encoded parameter block. A zero-length block
// means no parameters.
func DecodeParameters(data []byte) ([]Parameter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var params []Parameter
	r := &fieldReader{data: data}
	for r.remaining() > 0 {
		field := fmt.Sprintf("parameter %d", len(params))
		kind := serialization.Kind(r.data[r.pos])
		r.pos++
		raw, err := r.next(field)
		if err != nil {
			return nil, err
		}
		value, err := serialization.Deserialize(kind, raw)
		if err != nil {
			return nil, &DecodeError{Field: field, Err: err}
		}
		params = append(params, Parameter{Kind: kind, Value: value})
	}
	return params, nil
}

const (
	paramSeparator = '|'
	kindSeparator  = '#'
	escape         = '\\'
)

var errBadParameterText = errors.New("malformed parameter text")

// FormatParameters renders params in the operator text form
// "kind#value|kind#value" where kind is the numeric kind. Separators inside
// values are escaped with a backslash.
func FormatParameters(params []Parameter) (string, error) {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		text, err := formatValue(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%d%c%s", p.Kind, kindSeparator, escapeText(text)))
	}
	return strings.Join(parts, string(paramSeparator)), nil
}

// ParseParameters parses the operator text form produced by FormatParameters.
func ParseParameters(text string) ([]Parameter, error) {
	if text == "" {
		return nil, nil
	}
	var params []Parameter
	for _, part := range splitEscaped(text, paramSeparator) {
		fields := splitEscaped(part, kindSeparator)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q", errBadParameterText, part)
		}
		n, err := strconv.ParseUint(fields[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: kind %q", errBadParameterText, fields[0])
		}
		kind := serialization.Kind(n)
		value, err := parseValue(kind, unescapeText(fields[1]))
		if err != nil {
			return nil, err
		}
		params = append(params, Parameter{Kind: kind, Value: value})
	}
	return params, nil
}

func formatValue(p Parameter) (string, error) {
	if _, err := serialization.SerializeAs(p.Kind, p.Value); err != nil {
		return "", err
	}
	switch v := p.Value.(type) {
	case core.Address:
		return v.String(), nil
	case []byte:
		return hex.EncodeToString(v), nil
	case serialization.Char:
		return string(rune(v)), nil
	}
	return fmt.Sprint(p.Value), nil
}

func parseValue(kind serialization.Kind, text string) (any, error) {
	var (
		v   any
		err error
	)
	switch kind {
	case serialization.KindBool:
		v, err = strconv.ParseBool(text)
	case serialization.KindByte:
		var n uint64
		n, err = strconv.ParseUint(text, 10, 8)
		v = byte(n)
	case serialization.KindChar:
		r, size := utf8.DecodeRuneInString(text)
		if r == utf8.RuneError || size != len(text) {
			err = errBadParameterText
		}
		v = serialization.Char(r)
	case serialization.KindString:
		v = text
	case serialization.KindUInt32:
		var n uint64
		n, err = strconv.ParseUint(text, 10, 32)
		v = uint32(n)
	case serialization.KindInt32:
		var n int64
		n, err = strconv.ParseInt(text, 10, 32)
		v = int32(n)
	case serialization.KindUInt64:
		v, err = strconv.ParseUint(text, 10, 64)
	case serialization.KindInt64:
		v, err = strconv.ParseInt(text, 10, 64)
	case serialization.KindAddress:
		var raw []byte
		raw, err = hex.DecodeString(strings.TrimPrefix(text, "0x"))
		if err == nil && len(raw) != core.AddressLength {
			err = errBadParameterText
		}
		v = core.AddressFromBytes(raw)
	case serialization.KindByteArray:
		v, err = hex.DecodeString(text)
	default:
		return nil, fmt.Errorf("%w: kind %d", serialization.ErrUnsupportedType, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v value %q: %v", errBadParameterText, kind, text, err)
	}
	return v, nil
}

func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == paramSeparator || r == kindSeparator || r == escape {
			b.WriteRune(escape)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unescapeText(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == escape {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// splitEscaped splits s at unescaped occurrences of sep, leaving escapes in
// place for a later unescapeText.
func splitEscaped(s string, sep rune) []string {
	var (
		parts   []string
		current strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == escape:
			escaped = true
		case r == sep:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	return append(parts, current.String())
}
