package rpc

import (
	"errors"

	"spacegate/core"
	chainstate "spacegate/core/state"
	"spacegate/core/types"
	"spacegate/native/creator"
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{creator.ErrAlreadyRegistered, "already_registered"},
	{creator.ErrMissingRequiredImage, "missing_required_image"},
	{creator.ErrNotIdentityOwner, "not_identity_owner"},
	{creator.ErrNotOwner, "not_owner"},
	{creator.ErrInsufficientPayment, "insufficient_payment"},
	{creator.ErrAlreadySubscribed, "already_subscribed"},
	{creator.ErrNotSubscriber, "not_subscriber"},
	{creator.ErrAvatarRequired, "avatar_required"},
	{creator.ErrDurationOverflow, "duration_overflow"},
	{creator.ErrNotFound, "not_found"},
	{chainstate.ErrInsufficientBalance, "insufficient_balance"},
	{chainstate.ErrBalanceOverflow, "balance_overflow"},
	{core.ErrNonceMismatch, "nonce_mismatch"},
	{core.ErrChainIDMismatch, "chain_id_mismatch"},
	{core.ErrSimulationOnly, "simulation_only"},
	{core.ErrUnknownTxType, "unknown_tx_type"},
	{types.ErrUnsigned, "unsigned"},
}

// ErrorKind names the failure class of a rejected transaction. The first
// matching sentinel wins, so a missing capability reports not_owner rather
// than not_found.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
