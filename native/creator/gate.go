package creator

import (
	"errors"
	"fmt"

	"spacegate/core/types"
)

// Diagnostics wrapped by ErrNotSubscriber. They are for local logs only; a
// key-holder never returns them to the requester.
var (
	ErrWrongSubscriber = errors.New("subscription held by another principal")
	ErrWrongSpace      = errors.New("subscription is for another space")
	ErrLapsed          = errors.New("subscription window has ended")
	ErrUnregistered    = errors.New("subscription is not the registered grant")
)

// GatePath selects which gate check guards a resource.
type GatePath uint8

const (
	GateOwnerPath GatePath = iota + 1
	GateSubscriberPath
)

func (p GatePath) String() string {
	switch p {
	case GateOwnerPath:
		return "owner"
	case GateSubscriberPath:
		return "subscriber"
	default:
		return "unknown"
	}
}

// GatePathFor maps a simulation-only transaction type to its gate path.
func GatePathFor(t types.TxType) (GatePath, bool) {
	switch t {
	case types.TxTypeGateOwner:
		return GateOwnerPath, true
	case types.TxTypeGateSubscriber:
		return GateSubscriberPath, true
	default:
		return 0, false
	}
}

// CheckOwner grants when the capability controls the space.
func CheckOwner(space *Space, ownership *SpaceOwnership) error {
	if space == nil || ownership == nil {
		return ErrNotOwner
	}
	if ownership.SpaceID != space.ID {
		return fmt.Errorf("%w: capability controls space %s", ErrNotOwner, ownership.SpaceID)
	}
	return nil
}

// CheckSubscriber grants when sub belongs to requester, targets space and is
// inside its paid window at now. A zero-length window is never valid, so a
// zero-day subscription grants nothing even at the instant it was bought.
func CheckSubscriber(space *Space, sub *Subscription, requester types.Principal, now types.Timestamp) error {
	if space == nil || sub == nil {
		return ErrNotSubscriber
	}
	if sub.Subscriber != requester {
		return fmt.Errorf("%w: %w", ErrNotSubscriber, ErrWrongSubscriber)
	}
	if sub.SpaceID != space.ID {
		return fmt.Errorf("%w: %w", ErrNotSubscriber, ErrWrongSpace)
	}
	if sub.IsExpired(now) || (!sub.IsLifetime() && sub.ExpiresAt <= sub.SubscribedAt) {
		return fmt.Errorf("%w: %w", ErrNotSubscriber, ErrLapsed)
	}
	return nil
}

// Evaluate runs a gate check against a state view. The claimed objects are
// resolved from r; nothing is written. A nil error is a grant.
func Evaluate(r StateReader, path GatePath, call types.GateCall, requester types.Principal, now types.Timestamp) error {
	switch path {
	case GateOwnerPath:
		return evaluateOwner(r, call, requester)
	case GateSubscriberPath:
		return evaluateSubscriber(r, call, requester, now)
	default:
		return fmt.Errorf("creator engine: unknown gate path %d", path)
	}
}

func evaluateOwner(r StateReader, call types.GateCall, requester types.Principal) error {
	space, ok, err := r.SpaceGet(call.SpaceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: space %s", ErrNotOwner, ErrNotFound, call.SpaceID)
	}
	ownership, ok, err := r.OwnershipGet(call.CapabilityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: capability %s", ErrNotOwner, ErrNotFound, call.CapabilityID)
	}
	if ownership.Custodian != requester {
		return fmt.Errorf("%w: capability held by another principal", ErrNotOwner)
	}
	return CheckOwner(space, ownership)
}

func evaluateSubscriber(r StateReader, call types.GateCall, requester types.Principal, now types.Timestamp) error {
	space, ok, err := r.SpaceGet(call.SpaceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: space %s", ErrNotSubscriber, ErrNotFound, call.SpaceID)
	}
	sub, ok, err := r.SubscriptionGet(call.CapabilityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %w: subscription %s", ErrNotSubscriber, ErrNotFound, call.CapabilityID)
	}
	if err := CheckSubscriber(space, sub, requester, now); err != nil {
		return err
	}
	registered, ok, err := r.SubscriptionIndexGet(space.ID, requester)
	if err != nil {
		return err
	}
	if !ok || registered != sub.ID {
		return fmt.Errorf("%w: %w", ErrNotSubscriber, ErrUnregistered)
	}
	return nil
}
