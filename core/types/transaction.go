package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer          TxType = 0x01 // Move balance between accounts
	TxTypeRegisterIdentity  TxType = 0x02 // Create the caller's identity
	TxTypeBindAvatar        TxType = 0x03 // Bind a 3D avatar to an identity
	TxTypeUpdateBio         TxType = 0x04
	TxTypeUpdateImage       TxType = 0x05
	TxTypeInitializeSpace   TxType = 0x10 // Pay the init fee and publish a space
	TxTypeUpdateSpaceConfig TxType = 0x11
	TxTypeAddVideo          TxType = 0x12
	TxTypeRecordContent     TxType = 0x13 // Announcement only, no state change
	TxTypeTransferOwnership TxType = 0x14
	TxTypeSubscribe         TxType = 0x20
	TxTypeRenewSubscription TxType = 0x21
	TxTypeGateOwner         TxType = 0x30 // Dry-run only: owner-path gate check
	TxTypeGateSubscriber    TxType = 0x31 // Dry-run only: subscriber-path gate check
)

var (
	// ErrUnsigned is returned when a sender is requested from an unsigned transaction.
	ErrUnsigned = errors.New("transaction: missing signature")
)

// SimulationOnly reports whether the type may only be evaluated as a dry run.
func (t TxType) SimulationOnly() bool {
	return t == TxTypeGateOwner || t == TxTypeGateSubscriber
}

func (t TxType) String() string {
	switch t {
	case TxTypeTransfer:
		return "transfer"
	case TxTypeRegisterIdentity:
		return "register_identity"
	case TxTypeBindAvatar:
		return "bind_avatar"
	case TxTypeUpdateBio:
		return "update_bio"
	case TxTypeUpdateImage:
		return "update_image"
	case TxTypeInitializeSpace:
		return "initialize_space"
	case TxTypeUpdateSpaceConfig:
		return "update_space_config"
	case TxTypeAddVideo:
		return "add_video"
	case TxTypeRecordContent:
		return "record_content"
	case TxTypeTransferOwnership:
		return "transfer_ownership"
	case TxTypeSubscribe:
		return "subscribe"
	case TxTypeRenewSubscription:
		return "renew_subscription"
	case TxTypeGateOwner:
		return "gate_owner"
	case TxTypeGateSubscriber:
		return "gate_subscriber"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Transaction carries a typed, rlp-encoded payload and an optional payment
// amount withdrawn from the sender when the transaction executes.
type Transaction struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Value   uint64
	Payload []byte

	R, S, V *big.Int

	from *Principal
}

type txSigningData struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Value   uint64
	Payload []byte
}

type txEnvelope struct {
	ChainID uint64
	Type    TxType
	Nonce   uint64
	Value   uint64
	Payload []byte
	R, S, V *big.Int
}

// txKind is the logical content of a transaction: what it does, without who
// signed it or which nonce it would consume.
type txKind struct {
	Type    TxType
	Payload []byte
}

// NewTransaction encodes payload with rlp and returns an unsigned transaction.
func NewTransaction(chainID uint64, txType TxType, nonce, value uint64, payload interface{}) (*Transaction, error) {
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", txType, err)
	}
	return &Transaction{ChainID: chainID, Type: txType, Nonce: nonce, Value: value, Payload: encoded}, nil
}

// Hash returns the keccak256 digest of the signed fields.
func (tx *Transaction) Hash() (common.Hash, error) {
	b, err := rlp.EncodeToBytes(txSigningData{tx.ChainID, tx.Type, tx.Nonce, tx.Value, tx.Payload})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// Signed reports whether the signature fields are populated.
func (tx *Transaction) Signed() bool {
	return tx.R != nil && tx.S != nil && tx.V != nil && tx.V.Sign() > 0
}

// From recovers the sender from the signature.
func (tx *Transaction) From() (Principal, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if !tx.Signed() {
		return Principal{}, ErrUnsigned
	}
	hash, err := tx.Hash()
	if err != nil {
		return Principal{}, err
	}
	if len(tx.R.Bytes()) > 32 || len(tx.S.Bytes()) > 32 || tx.V.Uint64() < 27 {
		return Principal{}, errors.New("transaction: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(tx.R.Bytes()):32], tx.R.Bytes())
	copy(sig[64-len(tx.S.Bytes()):64], tx.S.Bytes())
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return Principal{}, err
	}
	var from Principal
	copy(from[:], crypto.PubkeyToAddress(*pubKey).Bytes())
	tx.from = &from
	return from, nil
}

// DecodePayload decodes the rlp payload into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if err := rlp.DecodeBytes(tx.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// MarshalBinary encodes the transaction including its signature.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	return rlp.EncodeToBytes(txEnvelope{tx.ChainID, tx.Type, tx.Nonce, tx.Value, tx.Payload, tx.R, tx.S, tx.V})
}

// UnmarshalBinary decodes a transaction produced by MarshalBinary.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	var env txEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return err
	}
	*tx = Transaction{
		ChainID: env.ChainID,
		Type:    env.Type,
		Nonce:   env.Nonce,
		Value:   env.Value,
		Payload: env.Payload,
		R:       env.R,
		S:       env.S,
		V:       env.V,
	}
	return nil
}

// KindBytes serializes only the logical contents of the transaction. It is the
// byte string a client sends to key-holders: there is no signature and no
// nonce, so the bytes can never be submitted on chain.
func (tx *Transaction) KindBytes() ([]byte, error) {
	return rlp.EncodeToBytes(txKind{Type: tx.Type, Payload: tx.Payload})
}

// DecodeKind reverses KindBytes into an unsigned transaction.
func DecodeKind(data []byte) (*Transaction, error) {
	var kind txKind
	if err := rlp.DecodeBytes(data, &kind); err != nil {
		return nil, fmt.Errorf("decode transaction kind: %w", err)
	}
	return &Transaction{Type: kind.Type, Payload: kind.Payload}, nil
}
