package state

import (
	"errors"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"spacegate/core/types"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds the balance.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 64 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
)

// Account is the spendable balance and replay nonce of a principal.
type Account struct {
	Nonce   uint64
	Balance uint64
}

func accountStateKey(addr types.Principal) []byte {
	return ethcrypto.Keccak256(addr[:])
}

// GetAccount returns the account stored for addr. Unknown accounts are empty.
func (m *Manager) GetAccount(addr types.Principal) (*Account, error) {
	data, err := m.trie.Get(accountStateKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &Account{}, nil
	}
	stateAcc := new(gethtypes.StateAccount)
	if err := rlp.DecodeBytes(data, stateAcc); err != nil {
		return nil, err
	}
	if stateAcc.Balance == nil {
		stateAcc.Balance = new(uint256.Int)
	}
	if !stateAcc.Balance.IsUint64() {
		return nil, ErrBalanceOverflow
	}
	return &Account{Nonce: stateAcc.Nonce, Balance: stateAcc.Balance.Uint64()}, nil
}

// PutAccount persists account under addr.
func (m *Manager) PutAccount(addr types.Principal, account *Account) error {
	if account == nil {
		account = &Account{}
	}
	stateAcc := &gethtypes.StateAccount{
		Nonce:    account.Nonce,
		Balance:  uint256.NewInt(account.Balance),
		Root:     gethtypes.EmptyRootHash,
		CodeHash: gethtypes.EmptyCodeHash.Bytes(),
	}
	encoded, err := rlp.EncodeToBytes(stateAcc)
	if err != nil {
		return err
	}
	return m.trie.Update(accountStateKey(addr), encoded)
}

// Withdraw debits amount from addr and returns it as a coin.
func (m *Manager) Withdraw(addr types.Principal, amount uint64) (types.Coin, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return types.Coin{}, err
	}
	if account.Balance < amount {
		return types.Coin{}, ErrInsufficientBalance
	}
	account.Balance -= amount
	if err := m.PutAccount(addr, account); err != nil {
		return types.Coin{}, err
	}
	return types.NewCoin(amount), nil
}

// Credit deposits coin into addr.
func (m *Manager) Credit(addr types.Principal, coin types.Coin) error {
	if coin.Value() == 0 {
		return nil
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	balance := types.NewCoin(account.Balance)
	if err := balance.Join(coin); err != nil {
		return ErrBalanceOverflow
	}
	account.Balance = balance.Value()
	return m.PutAccount(addr, account)
}
