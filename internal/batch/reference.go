package batch

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DigestReference maps an opaque payment reference to the fixed-size
// identifier carried by settlement records. Keccak-256 over the raw
// bytes: deterministic across processes and reproducible by any reader
// holding the same reference. The empty reference is a valid input and
// digests like any other byte string.
func DigestReference(reference []byte) common.Hash {
	return crypto.Keccak256Hash(reference)
}
