// Package crypto provides the cryptographic primitives used by the EVM core:
// Keccak-256 hashing for code hashes, storage keys, and address derivation.
package crypto

import (
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the Keccak-256 hash (Ethereum's pre-standard SHA3).
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var result [32]byte
	copy(result[:], h.Sum(nil))
	return result
}

// Keccak256Hash is like Keccak256 but returns a slice, for call sites that
// want to avoid naming the array type.
func Keccak256Hash(data ...[]byte) []byte {
	h := Keccak256(data...)
	return h[:]
}

// HashToAddress converts a 32-byte hash to a 20-byte address (its low 20 bytes).
func HashToAddress(hash [32]byte) [20]byte {
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// PubKeyToAddress derives an account address from a public key, the same way
// the EVM derives contract-creator addresses from externally owned accounts.
func PubKeyToAddress(pubKey []byte) [20]byte {
	return HashToAddress(Keccak256(pubKey))
}

// CreateAddress computes the address of a contract created via CREATE:
// keccak256(rlpEncodeSimple(sender, nonce))[12:]. RLP is reimplemented
// minimally here rather than pulled in as a dependency, since only the
// two-element (address, uint64) case is ever needed.
func CreateAddress(sender [20]byte, nonce uint64) [20]byte {
	return HashToAddress(Keccak256(rlpAddressNonce(sender, nonce)))
}

// CreateAddress2 computes the address of a contract created via CREATE2:
// keccak256(0xff ++ sender ++ salt ++ keccak256(initcode))[12:].
func CreateAddress2(sender [20]byte, salt [32]byte, initCodeHash [32]byte) [20]byte {
	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, sender[:]...)
	data = append(data, salt[:]...)
	data = append(data, initCodeHash[:]...)
	return HashToAddress(Keccak256(data))
}

// rlpAddressNonce RLP-encodes the (address, nonce) pair used by CREATE's
// address derivation formula.
func rlpAddressNonce(addr [20]byte, nonce uint64) []byte {
	nonceBytes := encodeUint(nonce)
	addrField := rlpBytes(addr[:])
	nonceField := rlpBytes(nonceBytes)

	payload := append(addrField, nonceField...)
	return append(rlpListHeader(len(payload)), payload...)
}

func encodeUint(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	n := 8
	for v > 0 {
		n--
		buf[n] = byte(v)
		v >>= 8
	}
	return buf[n:]
}

func rlpBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		return append([]byte{0x80 + byte(len(b))}, b...)
	}
	lenBytes := encodeUint(uint64(len(b)))
	header := append([]byte{0xb7 + byte(len(lenBytes))}, lenBytes...)
	return append(header, b...)
}

func rlpListHeader(payloadLen int) []byte {
	if payloadLen < 56 {
		return []byte{0xc0 + byte(payloadLen)}
	}
	lenBytes := encodeUint(uint64(payloadLen))
	return append([]byte{0xf7 + byte(len(lenBytes))}, lenBytes...)
}
