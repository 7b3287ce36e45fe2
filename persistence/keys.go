package persistence

import (
	"fmt"

	"github.com/govm-net/scvm/core"
)

// KeyEncodingStrategy maps a logical storage key to the key stored in the
// repository.
type KeyEncodingStrategy interface {
	EncodeKey(key []byte) []byte
}

// BasicKeyEncoding stores keys as they are.
type BasicKeyEncoding struct{}

func (BasicKeyEncoding) EncodeKey(key []byte) []byte {
	out := make([]byte, len(key))
	copy(out, key)
	return out
}

// Keccak256KeyEncoding stores the keccak-256 digest of each key, so stored
// keys look like random bytes on chain.
type Keccak256KeyEncoding struct{}

func (Keccak256KeyEncoding) EncodeKey(key []byte) []byte {
	return core.Keccak256(key)
}

// KeyEncodingByName returns the strategy called name ("basic" or
// "keccak256"). It is used when loading configuration files.
func KeyEncodingByName(name string) (KeyEncodingStrategy, error) {
	switch name {
	case "basic", "":
		return BasicKeyEncoding{}, nil
	case "keccak256":
		return Keccak256KeyEncoding{}, nil
	}
	return nil, fmt.Errorf("unknown key encoding %q: %w", name, core.ErrInvalidArgument)
}

// KeyEncodingName is the inverse of KeyEncodingByName.
func KeyEncodingName(s KeyEncodingStrategy) string {
	switch s.(type) {
	case Keccak256KeyEncoding, *Keccak256KeyEncoding:
		return "keccak256"
	}
	return "basic"
}
