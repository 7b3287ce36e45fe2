// Package core defines the types shared by every layer of the contract
// execution core: account addresses, event logs and hashing helpers.
package core

import (
	"encoding/hex"
	"strings"
)

// AddressLength is the byte length of a contract or account address (uint160).
const AddressLength = 20

// Address is a 160-bit account address in its raw big-endian form.
type Address [AddressLength]byte

var ZeroAddress = Address{}

func (addr Address) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns a copy of the raw address bytes.
func (addr Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, addr[:])
	return out
}

// IsZero reports whether the address is all zeroes.
func (addr Address) IsZero() bool {
	return addr == ZeroAddress
}

// AddressFromString parses a hex string (optionally 0x prefixed) into an
// Address. Short input is left padded, invalid input yields ZeroAddress.
func AddressFromString(str string) Address {
	str = strings.TrimPrefix(strings.TrimPrefix(str, "0x"), "0X")
	if len(str)%2 == 1 {
		str = "0" + str
	}
	data, err := hex.DecodeString(str)
	if err != nil {
		return ZeroAddress
	}
	return AddressFromBytes(data)
}

// AddressFromBytes converts b to an Address. If b is longer than 20 bytes the
// leading bytes are kept, if shorter it is left padded with zeroes.
func AddressFromBytes(b []byte) Address {
	var addr Address
	if len(b) >= AddressLength {
		copy(addr[:], b[:AddressLength])
		return addr
	}
	copy(addr[AddressLength-len(b):], b)
	return addr
}

// Log is an event emitted by a contract during execution.
type Log struct {
	Address Address
	Topics  [][]byte
	Data    []byte
}

// Transfer is a value movement requested by contract code. From is always
// the executing contract.
type Transfer struct {
	From  Address
	To    Address
	Value uint64
}
