package types

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrInsufficientCoin is returned when a split asks for more than the coin holds.
	ErrInsufficientCoin = errors.New("coin: insufficient value")
	// ErrCoinOverflow is returned when joining coins would overflow.
	ErrCoinOverflow = errors.New("coin: value overflow")
)

// Coin is a fungible payment withdrawn from an account for the duration of a
// single state transition. Whatever remains is credited back as change.
type Coin struct {
	value uint64
}

// NewCoin mints a coin view of value. Only the state processor creates coins,
// from account withdrawals.
func NewCoin(value uint64) Coin {
	return Coin{value: value}
}

// Value returns the amount held by the coin.
func (c Coin) Value() uint64 {
	return c.value
}

// Split removes amount from c and returns it as a new coin.
func (c *Coin) Split(amount uint64) (Coin, error) {
	if amount > c.value {
		return Coin{}, ErrInsufficientCoin
	}
	c.value -= amount
	return Coin{value: amount}, nil
}

// Join merges other into c.
func (c *Coin) Join(other Coin) error {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(c.value), uint256.NewInt(other.value))
	if overflow || !sum.IsUint64() {
		return ErrCoinOverflow
	}
	c.value = sum.Uint64()
	return nil
}

// Covers reports whether the coin holds at least total.
func (c Coin) Covers(total *uint256.Int) bool {
	if total == nil {
		return true
	}
	return !uint256.NewInt(c.value).Lt(total)
}

// PriceFor returns pricePerDay × days without overflow.
func PriceFor(pricePerDay, days uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(pricePerDay), uint256.NewInt(days))
}

// AddDays returns ts + days × OneDay and false if the result does not fit a
// Timestamp.
func AddDays(ts Timestamp, days uint64) (Timestamp, bool) {
	span := new(uint256.Int).Mul(uint256.NewInt(days), uint256.NewInt(OneDay))
	sum := new(uint256.Int).Add(uint256.NewInt(uint64(ts)), span)
	if !sum.IsUint64() {
		return 0, false
	}
	return Timestamp(sum.Uint64()), true
}
