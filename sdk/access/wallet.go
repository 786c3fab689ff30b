package access

import (
	"spacegate/core/types"
	"spacegate/crypto"
)

// Wallet produces signatures over opaque messages on behalf of one
// principal. It is only used to mint session credentials and never
// authorizes a chain mutation.
type Wallet interface {
	Address() types.Principal
	SignMessage(msg []byte) ([]byte, error)
}

// KeyWallet is a Wallet backed by a local private key.
type KeyWallet struct {
	key *crypto.PrivateKey
}

// NewKeyWallet wraps key.
func NewKeyWallet(key *crypto.PrivateKey) *KeyWallet {
	return &KeyWallet{key: key}
}

func (w *KeyWallet) Address() types.Principal {
	return types.PrincipalFromAddress(w.key.PubKey().Address())
}

func (w *KeyWallet) SignMessage(msg []byte) ([]byte, error) {
	return w.key.SignMessage(msg)
}
