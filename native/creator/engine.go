package creator

import (
	"errors"

	"spacegate/core/events"
	"spacegate/core/types"
)

var (
	ErrAlreadyRegistered    = errors.New("creator engine: identity already registered")
	ErrMissingRequiredImage = errors.New("creator engine: image reference required")
	ErrNotOwner             = errors.New("creator engine: caller does not own the object")
	ErrNotIdentityOwner     = errors.New("creator engine: identity not owned by caller")
	ErrInsufficientPayment  = errors.New("creator engine: insufficient payment")
	ErrAlreadySubscribed    = errors.New("creator engine: already subscribed")
	ErrNotSubscriber        = errors.New("creator engine: caller is not the subscriber")
	ErrAvatarRequired       = errors.New("creator engine: identity has no bound avatar")
	ErrDurationOverflow     = errors.New("creator engine: subscription window overflows")
	ErrNotFound             = errors.New("creator engine: object not found")

	errNilState = errors.New("creator engine: state not configured")
)

// DefaultInitFee is the fixed fee charged by InitializeSpace.
const DefaultInitFee uint64 = 10_000_000

// StateReader is the read-only view over the registries. Key-holders evaluate
// gate checks against a StateReader opened at a committed root.
type StateReader interface {
	IdentityGet(id types.ObjectID) (*Identity, bool, error)
	IdentityIndexGet(owner types.Principal) (types.ObjectID, bool, error)
	SpaceGet(id types.ObjectID) (*Space, bool, error)
	SpaceList() ([]types.ObjectID, error)
	OwnershipGet(id types.ObjectID) (*SpaceOwnership, bool, error)
	SubscriptionGet(id types.ObjectID) (*Subscription, bool, error)
	SubscriptionIndexGet(spaceID types.ObjectID, subscriber types.Principal) (types.ObjectID, bool, error)
	SpaceSubscribers(spaceID types.ObjectID) ([]types.Principal, error)
	FanGet(spaceID types.ObjectID, fan types.Principal) (*FanAvatar, bool, error)
	CreatorTotals() (*Totals, error)
}

type engineState interface {
	StateReader
	NextObjectID() (types.ObjectID, error)
	IdentityPut(identity *Identity) error
	// IdentityIndexInsert binds owner to id unless owner is already bound.
	IdentityIndexInsert(owner types.Principal, id types.ObjectID) (bool, error)
	SpacePut(space *Space) error
	SpaceListAppend(id types.ObjectID) error
	OwnershipPut(ownership *SpaceOwnership) error
	MarketplacePut(market *Marketplace) error
	MarketplaceCapPut(cap *MarketplaceCap) error
	SubscriptionPut(sub *Subscription) error
	// SubscriptionIndexInsert is a test-and-set on the (space, subscriber)
	// key. It reports false, writing nothing, when the key already exists.
	SubscriptionIndexInsert(spaceID types.ObjectID, subscriber types.Principal, id types.ObjectID) (bool, error)
	FanPut(fan *FanAvatar) error
	CreatorTotalsPut(totals *Totals) error
	Credit(addr types.Principal, coin types.Coin) error
}

// Engine implements the identity, space and subscription registries on top
// of a state backend. Callers supply the block time explicitly.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	treasury types.Principal
	initFee  uint64
}

// NewEngine constructs an engine with the default init fee.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		initFee: DefaultInitFee,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTreasury configures the account receiving space initialization fees.
func (e *Engine) SetTreasury(addr types.Principal) { e.treasury = addr }

// SetInitFee overrides the fixed space initialization fee.
func (e *Engine) SetInitFee(fee uint64) { e.initFee = fee }

// InitFee returns the configured space initialization fee.
func (e *Engine) InitFee() uint64 { return e.initFee }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Wrap(evt))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) totals() (*Totals, error) {
	totals, err := e.state.CreatorTotals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}
