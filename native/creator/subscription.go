package creator

import (
	"fmt"

	"spacegate/core/types"
)

// SubscribeResult is returned by Subscribe.
type SubscribeResult struct {
	Subscription *Subscription
	Charge       uint64
	Change       types.Coin
}

// RenewResult is returned by RenewSubscription.
type RenewResult struct {
	Subscription *Subscription
	Charge       uint64
	Change       types.Coin
	// Restarted is true when the old window had lapsed and the new one
	// starts at the renewal time.
	Restarted bool
}

// createCreatorSubscription grants the creator free lifetime access to their
// own space.
func (e *Engine) createCreatorSubscription(space *Space, creator types.Principal, now types.Timestamp) (*Subscription, error) {
	id, err := e.state.NextObjectID()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:           id,
		SpaceID:      space.ID,
		Subscriber:   creator,
		SubscribedAt: now,
		ExpiresAt:    types.MaxTimestamp,
	}
	if err := e.insertSubscription(sub); err != nil {
		return nil, err
	}
	e.emit(SubscriptionCreatedEvent(sub, 0))
	return sub, nil
}

// Subscribe buys a days-long grant to the space. The caller must own the
// identity and the identity must carry an avatar, which is placed in the
// space gallery.
func (e *Engine) Subscribe(spaceID, identityID types.ObjectID, caller types.Principal, payment types.Coin, days uint64, now types.Timestamp) (*SubscribeResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	space, err := e.space(spaceID)
	if err != nil {
		return nil, err
	}
	identity, err := e.identity(identityID)
	if err != nil {
		return nil, err
	}
	if identity.Owner != caller {
		return nil, ErrNotIdentityOwner
	}
	if !identity.HasAvatar() {
		return nil, ErrAvatarRequired
	}
	if _, ok, err := e.state.SubscriptionIndexGet(space.ID, caller); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadySubscribed
	}
	total := types.PriceFor(space.PricePerDay, days)
	if !payment.Covers(total) {
		return nil, fmt.Errorf("%w: price is %s, paid %d", ErrInsufficientPayment, total.Dec(), payment.Value())
	}
	expiresAt, ok := types.AddDays(now, days)
	if !ok {
		return nil, ErrDurationOverflow
	}
	charge, err := payment.Split(total.Uint64())
	if err != nil {
		return nil, err
	}
	id, err := e.state.NextObjectID()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		ID:           id,
		SpaceID:      space.ID,
		Subscriber:   caller,
		SubscribedAt: now,
		ExpiresAt:    expiresAt,
		DurationDays: days,
	}
	if err := e.insertSubscription(sub); err != nil {
		return nil, err
	}
	if err := e.state.Credit(space.Creator, charge); err != nil {
		return nil, err
	}
	if err := e.addFanPresence(space, caller, identity.AvatarRef); err != nil {
		return nil, err
	}
	e.emit(SubscriptionCreatedEvent(sub, charge.Value()))
	return &SubscribeResult{Subscription: sub, Charge: charge.Value(), Change: payment}, nil
}

// RenewSubscription extends a grant by days. A lapsed grant restarts at now;
// an active one is extended from its current expiry so no paid time is lost.
func (e *Engine) RenewSubscription(subscriptionID, spaceID types.ObjectID, caller types.Principal, payment types.Coin, days uint64, now types.Timestamp) (*RenewResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sub, ok, err := e.state.SubscriptionGet(subscriptionID)
	if err != nil {
		return nil, err
	}
	if !ok || sub == nil {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}
	if sub.Subscriber != caller {
		return nil, ErrNotSubscriber
	}
	space, err := e.space(spaceID)
	if err != nil {
		return nil, err
	}
	if sub.SpaceID != space.ID {
		return nil, fmt.Errorf("%w: subscription belongs to space %s", ErrNotSubscriber, sub.SpaceID)
	}
	total := types.PriceFor(space.PricePerDay, days)
	if !payment.Covers(total) {
		return nil, fmt.Errorf("%w: price is %s, paid %d", ErrInsufficientPayment, total.Dec(), payment.Value())
	}
	base := sub.ExpiresAt
	restarted := sub.IsExpired(now)
	if restarted {
		base = now
	}
	expiresAt, ok := types.AddDays(base, days)
	if !ok {
		return nil, ErrDurationOverflow
	}
	charge, err := payment.Split(total.Uint64())
	if err != nil {
		return nil, err
	}
	sub.ExpiresAt = expiresAt
	if sum := sub.DurationDays + days; sum >= sub.DurationDays {
		sub.DurationDays = sum
	}
	if err := e.state.SubscriptionPut(sub); err != nil {
		return nil, err
	}
	if err := e.state.Credit(space.Creator, charge); err != nil {
		return nil, err
	}
	e.emit(SubscriptionRenewedEvent(sub, charge.Value(), restarted))
	return &RenewResult{Subscription: sub, Charge: charge.Value(), Change: payment, Restarted: restarted}, nil
}

func (e *Engine) insertSubscription(sub *Subscription) error {
	inserted, err := e.state.SubscriptionIndexInsert(sub.SpaceID, sub.Subscriber, sub.ID)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadySubscribed
	}
	if err := e.state.SubscriptionPut(sub); err != nil {
		return err
	}
	totals, err := e.totals()
	if err != nil {
		return err
	}
	totals.Subscriptions++
	totals.ActiveSubscriptions++
	return e.state.CreatorTotalsPut(totals)
}

// IsSubscribed reports registry presence for (spaceID, subscriber). It stays
// true after the grant lapses.
func IsSubscribed(r StateReader, subscriber types.Principal, spaceID types.ObjectID) (bool, error) {
	_, ok, err := r.SubscriptionIndexGet(spaceID, subscriber)
	return ok, err
}

// LookupSubscription resolves the subscription registered for the pair.
func LookupSubscription(r StateReader, spaceID types.ObjectID, subscriber types.Principal) (*Subscription, error) {
	id, ok, err := r.SubscriptionIndexGet(spaceID, subscriber)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no subscription for %s", ErrNotFound, subscriber)
	}
	sub, ok, err := r.SubscriptionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || sub == nil {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, id)
	}
	return sub, nil
}

// IsSubscribed reports registry presence using the engine's state.
func (e *Engine) IsSubscribed(subscriber types.Principal, spaceID types.ObjectID) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return IsSubscribed(e.state, subscriber, spaceID)
}

// Totals returns the registry-wide counters.
func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.totals()
}
