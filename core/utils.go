package core

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Keccak256 returns the legacy Keccak-256 digest of the concatenated inputs.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// NewContractAddress derives the address of a contract created by the
// transaction txHash. nonce is zero for a top-level create.
func NewContractAddress(txHash []byte, nonce uint64) Address {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], nonce)
	return AddressFromBytes(Keccak256(txHash, n[:]))
}
