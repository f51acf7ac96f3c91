package database

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// addressSize and hashSize mirror the byte widths original_source/db.rs
// encodes DbAddress/DbTxHash as: raw big-endian bytes, no padding beyond
// the type's own width.
const (
	addressSize = common.AddressLength // 20
	hashSize    = common.HashLength    // 32
	u256Size    = 32
)

// EncodeAddress returns the raw 20-byte big-endian form of addr.
func EncodeAddress(addr common.Address) []byte {
	b := make([]byte, addressSize)
	copy(b, addr.Bytes())
	return b
}

// DecodeAddress parses the raw 20-byte form produced by EncodeAddress.
func DecodeAddress(b []byte) (common.Address, error) {
	if len(b) != addressSize {
		return common.Address{}, fmt.Errorf("invalid address length: got %d, want %d", len(b), addressSize)
	}
	return common.BytesToAddress(b), nil
}

// EncodeHash returns the raw 32-byte big-endian form of h.
func EncodeHash(h common.Hash) []byte {
	b := make([]byte, hashSize)
	copy(b, h.Bytes())
	return b
}

// DecodeHash parses the raw 32-byte form produced by EncodeHash.
func DecodeHash(b []byte) (common.Hash, error) {
	if len(b) != hashSize {
		return common.Hash{}, fmt.Errorf("invalid hash length: got %d, want %d", len(b), hashSize)
	}
	return common.BytesToHash(b), nil
}

// EncodeU256 returns the fixed-width 32-byte big-endian encoding of v.
// v must be non-negative and fit in 256 bits.
func EncodeU256(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("value cannot be nil")
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("value cannot be negative: %s", v.String())
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("value does not fit in 256 bits: %s", v.String())
	}

	b := make([]byte, u256Size)
	v.FillBytes(b)
	return b, nil
}

// DecodeU256 parses the fixed-width 32-byte big-endian encoding produced
// by EncodeU256.
func DecodeU256(b []byte) (*big.Int, error) {
	if len(b) != u256Size {
		return nil, fmt.Errorf("invalid u256 length: got %d, want %d", len(b), u256Size)
	}
	return new(big.Int).SetBytes(b), nil
}
