package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Header commits to the state produced by one block. Every block carries at
// most one transaction; heartbeat blocks carry none and exist to keep the
// head's clock fresh for key-holders.
type Header struct {
	Height   uint64
	Parent   common.Hash
	Root     common.Hash
	Time     Timestamp
	TxHash   common.Hash
	TxStatus uint64
}

const (
	// TxStatusNone marks a heartbeat block.
	TxStatusNone uint64 = iota
	// TxStatusApplied marks a block whose transaction mutated state.
	TxStatusApplied
)

// Hash returns the keccak256 digest of the rlp-encoded header.
func (h *Header) Hash() common.Hash {
	b, err := rlp.EncodeToBytes(h)
	if err != nil {
		return common.Hash{}
	}
	return crypto.Keccak256Hash(b)
}

// EncodeHeader serializes a header for storage.
func EncodeHeader(h *Header) ([]byte, error) {
	return rlp.EncodeToBytes(h)
}

// DecodeHeader deserializes a stored header.
func DecodeHeader(data []byte) (*Header, error) {
	h := new(Header)
	if err := rlp.DecodeBytes(data, h); err != nil {
		return nil, err
	}
	return h, nil
}
