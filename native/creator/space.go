package creator

import (
	"errors"
	"fmt"
	"strings"

	"spacegate/core/types"
)

var errTreasuryNotSet = errors.New("creator engine: treasury not configured")

// SpaceInit is everything InitializeSpace hands back to the creator.
type SpaceInit struct {
	Space          *Space
	Ownership      *SpaceOwnership
	Marketplace    *Marketplace
	MarketplaceCap *MarketplaceCap
	Change         types.Coin
}

// InitializeSpace charges the fixed init fee, publishes a space with its
// marketplace and hands the ownership capability to the caller.
func (e *Engine) InitializeSpace(caller types.Principal, params SpaceParams, payment types.Coin, now types.Timestamp) (*SpaceInit, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.treasury.IsZero() {
		return nil, errTreasuryNotSet
	}
	if payment.Value() < e.initFee {
		return nil, fmt.Errorf("%w: init fee is %d, paid %d", ErrInsufficientPayment, e.initFee, payment.Value())
	}
	fee, err := payment.Split(e.initFee)
	if err != nil {
		return nil, err
	}
	if err := e.state.Credit(e.treasury, fee); err != nil {
		return nil, err
	}

	ids := make([]types.ObjectID, 4)
	for i := range ids {
		if ids[i], err = e.state.NextObjectID(); err != nil {
			return nil, err
		}
	}
	space := &Space{
		ID:            ids[0],
		Name:          strings.TrimSpace(params.Name),
		Description:   params.Description,
		CoverRef:      params.CoverRef,
		ConfigRef:     params.ConfigRef,
		VideoRefs:     []types.BlobRef{},
		PricePerDay:   params.PricePerDay,
		Creator:       caller,
		MarketplaceID: ids[2],
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ownership := &SpaceOwnership{ID: ids[1], SpaceID: space.ID, Custodian: caller}
	market := &Marketplace{ID: ids[2], SpaceID: space.ID, Owner: caller}
	marketCap := &MarketplaceCap{ID: ids[3], MarketplaceID: market.ID, Custodian: caller}

	if err := e.state.MarketplacePut(market); err != nil {
		return nil, err
	}
	if err := e.state.MarketplaceCapPut(marketCap); err != nil {
		return nil, err
	}
	if err := e.state.SpacePut(space); err != nil {
		return nil, err
	}
	if err := e.state.OwnershipPut(ownership); err != nil {
		return nil, err
	}
	if err := e.state.SpaceListAppend(space.ID); err != nil {
		return nil, err
	}
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	totals.Spaces++
	if err := e.state.CreatorTotalsPut(totals); err != nil {
		return nil, err
	}
	if err := e.promoteToCreator(caller); err != nil {
		return nil, err
	}
	if _, err := e.createCreatorSubscription(space, caller, now); err != nil {
		return nil, err
	}
	e.emit(SpaceInitializedEvent(space, ownership))
	return &SpaceInit{
		Space:          space,
		Ownership:      ownership,
		Marketplace:    market,
		MarketplaceCap: marketCap,
		Change:         payment,
	}, nil
}

// UpdateSpaceConfig applies each present field of update.
func (e *Engine) UpdateSpaceConfig(spaceID, ownershipID types.ObjectID, caller types.Principal, update SpaceUpdate, now types.Timestamp) (*Space, error) {
	space, _, err := e.authorize(spaceID, ownershipID, caller)
	if err != nil {
		return nil, err
	}
	if update.Name != nil {
		space.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		space.Description = *update.Description
	}
	if update.CoverRef != nil {
		space.CoverRef = *update.CoverRef
	}
	if update.ConfigRef != nil {
		space.ConfigRef = *update.ConfigRef
	}
	if update.PricePerDay != nil {
		space.PricePerDay = *update.PricePerDay
	}
	space.UpdatedAt = now
	if err := e.state.SpacePut(space); err != nil {
		return nil, err
	}
	e.emit(SpaceUpdatedEvent(space))
	return space, nil
}

// AddVideo appends a video reference to the space.
func (e *Engine) AddVideo(spaceID, ownershipID types.ObjectID, caller types.Principal, ref types.BlobRef, now types.Timestamp) (*Space, error) {
	space, _, err := e.authorize(spaceID, ownershipID, caller)
	if err != nil {
		return nil, err
	}
	space.VideoRefs = append(space.VideoRefs, ref)
	space.UpdatedAt = now
	if err := e.state.SpacePut(space); err != nil {
		return nil, err
	}
	e.emit(VideoAddedEvent(space, ref))
	return space, nil
}

// RecordContent announces content for indexers. It writes no state.
func (e *Engine) RecordContent(spaceID, ownershipID types.ObjectID, caller types.Principal, record ContentRecord, now types.Timestamp) error {
	space, _, err := e.authorize(spaceID, ownershipID, caller)
	if err != nil {
		return err
	}
	e.emit(ContentRecordedEvent(space, caller, record, now))
	return nil
}

// TransferOwnership hands the capability to a new custodian.
func (e *Engine) TransferOwnership(ownershipID types.ObjectID, caller, to types.Principal) (*SpaceOwnership, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if to.IsZero() {
		return nil, errors.New("creator engine: transfer recipient required")
	}
	ownership, err := e.ownership(ownershipID)
	if err != nil {
		return nil, err
	}
	if ownership.Custodian != caller {
		return nil, ErrNotOwner
	}
	ownership.Custodian = to
	if err := e.state.OwnershipPut(ownership); err != nil {
		return nil, err
	}
	e.emit(OwnershipTransferredEvent(ownership, caller))
	return ownership, nil
}

// authorize loads the space and capability and requires that caller holds
// the capability and that it controls this space.
func (e *Engine) authorize(spaceID, ownershipID types.ObjectID, caller types.Principal) (*Space, *SpaceOwnership, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	space, err := e.space(spaceID)
	if err != nil {
		return nil, nil, err
	}
	ownership, ok, err := e.state.OwnershipGet(ownershipID)
	if err != nil {
		return nil, nil, err
	}
	if !ok || ownership == nil {
		return nil, nil, fmt.Errorf("%w: unknown capability %s", ErrNotOwner, ownershipID)
	}
	if ownership.Custodian != caller {
		return nil, nil, fmt.Errorf("%w: capability held by another principal", ErrNotOwner)
	}
	if err := CheckOwner(space, ownership); err != nil {
		return nil, nil, err
	}
	return space, ownership, nil
}

func (e *Engine) space(id types.ObjectID) (*Space, error) {
	space, ok, err := e.state.SpaceGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || space == nil {
		return nil, fmt.Errorf("%w: space %s", ErrNotFound, id)
	}
	return space, nil
}

func (e *Engine) ownership(id types.ObjectID) (*SpaceOwnership, error) {
	ownership, ok, err := e.state.OwnershipGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || ownership == nil {
		return nil, fmt.Errorf("%w: ownership %s", ErrNotFound, id)
	}
	return ownership, nil
}

// addFanPresence places the fan's avatar in the space gallery, replacing any
// earlier placement.
func (e *Engine) addFanPresence(space *Space, fan types.Principal, avatarRef types.BlobRef) error {
	presence := &FanAvatar{SpaceID: space.ID, Owner: fan, AvatarRef: avatarRef}
	if err := e.state.FanPut(presence); err != nil {
		return err
	}
	e.emit(FanPresenceEvent(presence))
	return nil
}
