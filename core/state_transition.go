package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"spacegate/core/events"
	chainstate "spacegate/core/state"
	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/storage/trie"
)

var (
	// ErrSimulationOnly is returned when a gate transaction is submitted for
	// execution. Gate calls are evaluated by key-holders and never committed.
	ErrSimulationOnly = errors.New("state transition: transaction type is simulation-only")
	// ErrChainIDMismatch is returned for transactions signed for another chain.
	ErrChainIDMismatch = errors.New("state transition: chain id mismatch")
	// ErrNonceMismatch is returned when the nonce does not match the sender account.
	ErrNonceMismatch = errors.New("state transition: nonce mismatch")
	// ErrUnknownTxType is returned for unrecognised transaction types.
	ErrUnknownTxType = errors.New("state transition: unknown transaction type")
)

// StateProcessor applies transactions to the state trie. A failed
// transaction leaves pending mutations behind; the caller rolls back with
// ResetToRoot.
type StateProcessor struct {
	Trie          *trie.Trie
	state         *chainstate.Manager
	Creator       *creator.Engine
	events        *events.Buffer
	chainID       uint64
	committedRoot common.Hash
}

// NewStateProcessor wires the creator engine to a state manager over tr.
func NewStateProcessor(tr *trie.Trie, chainID uint64) *StateProcessor {
	manager := chainstate.NewManager(tr)
	buf := &events.Buffer{}
	engine := creator.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(buf)
	return &StateProcessor{
		Trie:          tr,
		state:         manager,
		Creator:       engine,
		events:        buf,
		chainID:       chainID,
		committedRoot: tr.Root(),
	}
}

// State exposes the manager over the live trie.
func (sp *StateProcessor) State() *chainstate.Manager { return sp.state }

// CurrentRoot returns the last committed state root.
func (sp *StateProcessor) CurrentRoot() common.Hash {
	return sp.committedRoot
}

// PendingRoot returns the root of the trie including in-memory mutations.
func (sp *StateProcessor) PendingRoot() common.Hash {
	return sp.Trie.Hash()
}

// ResetToRoot discards in-memory changes and buffered events.
func (sp *StateProcessor) ResetToRoot(root common.Hash) error {
	sp.events.Discard()
	if err := sp.Trie.Reset(root); err != nil {
		return err
	}
	sp.committedRoot = root
	return nil
}

// Commit persists the current trie contents and returns the resulting state
// root.
func (sp *StateProcessor) Commit(blockNumber uint64) (common.Hash, error) {
	newRoot, err := sp.Trie.Commit(sp.committedRoot, blockNumber)
	if err != nil {
		return common.Hash{}, err
	}
	sp.committedRoot = newRoot
	return newRoot, nil
}

// DrainEvents returns the events emitted since the last drain.
func (sp *StateProcessor) DrainEvents() []types.Event {
	return sp.events.Drain()
}

// ApplyTransaction validates and executes tx at block time now. The payment
// in tx.Value is withdrawn from the sender up front and whatever the handler
// does not consume is credited back.
func (sp *StateProcessor) ApplyTransaction(tx *types.Transaction, now types.Timestamp) error {
	if tx == nil {
		return fmt.Errorf("state transition: nil transaction")
	}
	if tx.Type.SimulationOnly() {
		return ErrSimulationOnly
	}
	if tx.ChainID != sp.chainID {
		return fmt.Errorf("%w: got %d, want %d", ErrChainIDMismatch, tx.ChainID, sp.chainID)
	}
	sender, err := tx.From()
	if err != nil {
		return err
	}
	account, err := sp.state.GetAccount(sender)
	if err != nil {
		return err
	}
	if tx.Nonce != account.Nonce {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceMismatch, tx.Nonce, account.Nonce)
	}
	account.Nonce++
	if err := sp.state.PutAccount(sender, account); err != nil {
		return err
	}
	payment, err := sp.state.Withdraw(sender, tx.Value)
	if err != nil {
		return err
	}
	change, err := sp.dispatch(tx, sender, payment, now)
	if err != nil {
		return err
	}
	return sp.state.Credit(sender, change)
}

func (sp *StateProcessor) dispatch(tx *types.Transaction, sender types.Principal, payment types.Coin, now types.Timestamp) (types.Coin, error) {
	switch tx.Type {
	case types.TxTypeTransfer:
		return sp.applyTransfer(tx, payment)
	case types.TxTypeRegisterIdentity:
		var p types.RegisterIdentityPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.RegisterIdentity(sender, p.Username, p.Bio, p.AvatarRef, p.ImageRef, now)
		return payment, err
	case types.TxTypeBindAvatar:
		var p types.BindAvatarPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.BindAvatar(p.IdentityID, p.AvatarRef, sender)
		return payment, err
	case types.TxTypeUpdateBio:
		var p types.UpdateBioPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.UpdateBio(p.IdentityID, p.Bio, sender)
		return payment, err
	case types.TxTypeUpdateImage:
		var p types.UpdateImagePayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.UpdateImage(p.IdentityID, p.ImageRef, sender)
		return payment, err
	case types.TxTypeInitializeSpace:
		var p types.InitializeSpacePayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		out, err := sp.Creator.InitializeSpace(sender, creator.SpaceParams{
			Name:        p.Name,
			Description: p.Description,
			CoverRef:    p.CoverRef,
			ConfigRef:   p.ConfigRef,
			PricePerDay: p.PricePerDay,
		}, payment, now)
		if err != nil {
			return payment, err
		}
		return out.Change, nil
	case types.TxTypeUpdateSpaceConfig:
		var p types.UpdateSpaceConfigPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.UpdateSpaceConfig(p.SpaceID, p.OwnershipID, sender, spaceUpdateFrom(p), now)
		return payment, err
	case types.TxTypeAddVideo:
		var p types.AddVideoPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.AddVideo(p.SpaceID, p.OwnershipID, sender, p.BlobRef, now)
		return payment, err
	case types.TxTypeRecordContent:
		var p types.RecordContentPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		record := creator.ContentRecord{BlobRef: p.BlobRef, ResourceID: p.ResourceID, Title: p.Title, MediaType: p.MediaType}
		return payment, sp.Creator.RecordContent(p.SpaceID, p.OwnershipID, sender, record, now)
	case types.TxTypeTransferOwnership:
		var p types.TransferOwnershipPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		_, err := sp.Creator.TransferOwnership(p.OwnershipID, sender, p.To)
		return payment, err
	case types.TxTypeSubscribe:
		var p types.SubscribePayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		out, err := sp.Creator.Subscribe(p.SpaceID, p.IdentityID, sender, payment, p.DurationDays, now)
		if err != nil {
			return payment, err
		}
		return out.Change, nil
	case types.TxTypeRenewSubscription:
		var p types.RenewSubscriptionPayload
		if err := tx.DecodePayload(&p); err != nil {
			return payment, err
		}
		out, err := sp.Creator.RenewSubscription(p.SubscriptionID, p.SpaceID, sender, payment, p.AdditionalDays, now)
		if err != nil {
			return payment, err
		}
		return out.Change, nil
	}
	return payment, fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
}

func (sp *StateProcessor) applyTransfer(tx *types.Transaction, payment types.Coin) (types.Coin, error) {
	var p types.TransferPayload
	if err := tx.DecodePayload(&p); err != nil {
		return payment, err
	}
	if p.To.IsZero() {
		return payment, fmt.Errorf("state transition: transfer recipient required")
	}
	if err := sp.state.Credit(p.To, payment); err != nil {
		return payment, err
	}
	return types.Coin{}, nil
}

func spaceUpdateFrom(p types.UpdateSpaceConfigPayload) creator.SpaceUpdate {
	update := creator.SpaceUpdate{
		Name:        p.Name.Ptr(),
		Description: p.Description.Ptr(),
		PricePerDay: p.PricePerDay.Ptr(),
	}
	if p.CoverRef.Set {
		ref := types.BlobRef(p.CoverRef.Value)
		update.CoverRef = &ref
	}
	if p.ConfigRef.Set {
		ref := types.BlobRef(p.ConfigRef.Value)
		update.ConfigRef = &ref
	}
	return update
}
