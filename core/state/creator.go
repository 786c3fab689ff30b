package state

import (
	"spacegate/core/types"
	"spacegate/native/creator"
)

const (
	identityPrefix       = "creator/identity/"
	identityIndexPrefix  = "creator/identity-index/"
	spacePrefix          = "creator/space/"
	ownershipPrefix      = "creator/ownership/"
	marketplacePrefix    = "creator/marketplace/"
	marketplaceCapPrefix = "creator/marketplace-cap/"
	subscriptionPrefix   = "creator/subscription/"
	subIndexPrefix       = "creator/sub-index/"
	subscribersPrefix    = "creator/subscribers/"
	fanPrefix            = "creator/fan/"
)

var _ creator.StateReader = (*Manager)(nil)

var (
	spaceListKey     = []byte("creator/space-list")
	creatorTotalsKey = []byte("creator/totals")
)

func subscribersKey(spaceID types.ObjectID) []byte { return prefixed(subscribersPrefix, spaceID[:]) }

func identityKey(id types.ObjectID) []byte { return prefixed(identityPrefix, id[:]) }

func identityIndexKey(owner types.Principal) []byte { return prefixed(identityIndexPrefix, owner[:]) }

func spaceKey(id types.ObjectID) []byte { return prefixed(spacePrefix, id[:]) }

func ownershipKey(id types.ObjectID) []byte { return prefixed(ownershipPrefix, id[:]) }

func subscriptionKey(id types.ObjectID) []byte { return prefixed(subscriptionPrefix, id[:]) }

// subIndexKey is the composite (space, subscriber) key of the subscription index.
func subIndexKey(spaceID types.ObjectID, subscriber types.Principal) []byte {
	return prefixed(subIndexPrefix, spaceID[:], subscriber[:])
}

func fanKey(spaceID types.ObjectID, fan types.Principal) []byte {
	return prefixed(fanPrefix, spaceID[:], fan[:])
}

func (m *Manager) IdentityGet(id types.ObjectID) (*creator.Identity, bool, error) {
	identity := new(creator.Identity)
	ok, err := m.KVGet(identityKey(id), identity)
	if err != nil || !ok {
		return nil, false, err
	}
	return identity, true, nil
}

func (m *Manager) IdentityPut(identity *creator.Identity) error {
	return m.KVPut(identityKey(identity.ID), identity)
}

func (m *Manager) IdentityIndexGet(owner types.Principal) (types.ObjectID, bool, error) {
	var id types.ObjectID
	ok, err := m.KVGet(identityIndexKey(owner), &id)
	return id, ok, err
}

// IdentityIndexInsert binds owner to id unless owner is already bound.
func (m *Manager) IdentityIndexInsert(owner types.Principal, id types.ObjectID) (bool, error) {
	key := identityIndexKey(owner)
	if ok, err := m.KVGet(key, nil); err != nil || ok {
		return false, err
	}
	return true, m.KVPut(key, id)
}

func (m *Manager) SpaceGet(id types.ObjectID) (*creator.Space, bool, error) {
	space := new(creator.Space)
	ok, err := m.KVGet(spaceKey(id), space)
	if err != nil || !ok {
		return nil, false, err
	}
	if space.VideoRefs == nil {
		space.VideoRefs = []types.BlobRef{}
	}
	return space, true, nil
}

func (m *Manager) SpacePut(space *creator.Space) error {
	return m.KVPut(spaceKey(space.ID), space)
}

func (m *Manager) SpaceListAppend(id types.ObjectID) error {
	_, err := m.KVListAppend(spaceListKey, id[:])
	return err
}

// SpaceList returns every published space id in creation order.
func (m *Manager) SpaceList() ([]types.ObjectID, error) {
	raw, err := m.KVListItems(spaceListKey)
	if err != nil {
		return nil, err
	}
	out := make([]types.ObjectID, len(raw))
	for i, b := range raw {
		copy(out[i][:], b)
	}
	return out, nil
}

func (m *Manager) OwnershipGet(id types.ObjectID) (*creator.SpaceOwnership, bool, error) {
	ownership := new(creator.SpaceOwnership)
	ok, err := m.KVGet(ownershipKey(id), ownership)
	if err != nil || !ok {
		return nil, false, err
	}
	return ownership, true, nil
}

func (m *Manager) OwnershipPut(ownership *creator.SpaceOwnership) error {
	return m.KVPut(ownershipKey(ownership.ID), ownership)
}

func (m *Manager) MarketplacePut(market *creator.Marketplace) error {
	return m.KVPut(prefixed(marketplacePrefix, market.ID[:]), market)
}

func (m *Manager) MarketplaceGet(id types.ObjectID) (*creator.Marketplace, bool, error) {
	market := new(creator.Marketplace)
	ok, err := m.KVGet(prefixed(marketplacePrefix, id[:]), market)
	if err != nil || !ok {
		return nil, false, err
	}
	return market, true, nil
}

func (m *Manager) MarketplaceCapPut(marketCap *creator.MarketplaceCap) error {
	return m.KVPut(prefixed(marketplaceCapPrefix, marketCap.ID[:]), marketCap)
}

func (m *Manager) MarketplaceCapGet(id types.ObjectID) (*creator.MarketplaceCap, bool, error) {
	marketCap := new(creator.MarketplaceCap)
	ok, err := m.KVGet(prefixed(marketplaceCapPrefix, id[:]), marketCap)
	if err != nil || !ok {
		return nil, false, err
	}
	return marketCap, true, nil
}

func (m *Manager) SubscriptionGet(id types.ObjectID) (*creator.Subscription, bool, error) {
	sub := new(creator.Subscription)
	ok, err := m.KVGet(subscriptionKey(id), sub)
	if err != nil || !ok {
		return nil, false, err
	}
	return sub, true, nil
}

func (m *Manager) SubscriptionPut(sub *creator.Subscription) error {
	return m.KVPut(subscriptionKey(sub.ID), sub)
}

func (m *Manager) SubscriptionIndexGet(spaceID types.ObjectID, subscriber types.Principal) (types.ObjectID, bool, error) {
	var id types.ObjectID
	ok, err := m.KVGet(subIndexKey(spaceID, subscriber), &id)
	return id, ok, err
}

// SubscriptionIndexInsert claims the (space, subscriber) key for id. It
// reports false and writes nothing when the key is already taken. The first
// grant for a new pair is also appended to the space's subscriber list.
func (m *Manager) SubscriptionIndexInsert(spaceID types.ObjectID, subscriber types.Principal, id types.ObjectID) (bool, error) {
	key := subIndexKey(spaceID, subscriber)
	if ok, err := m.KVGet(key, nil); err != nil || ok {
		return false, err
	}
	if err := m.KVPut(key, id); err != nil {
		return false, err
	}
	if _, err := m.KVListAppend(subscribersKey(spaceID), subscriber[:]); err != nil {
		return false, err
	}
	return true, nil
}

// SpaceSubscribers lists every principal registered in the space's index.
func (m *Manager) SpaceSubscribers(spaceID types.ObjectID) ([]types.Principal, error) {
	raw, err := m.KVListItems(subscribersKey(spaceID))
	if err != nil {
		return nil, err
	}
	out := make([]types.Principal, len(raw))
	for i, b := range raw {
		copy(out[i][:], b)
	}
	return out, nil
}

func (m *Manager) FanGet(spaceID types.ObjectID, fan types.Principal) (*creator.FanAvatar, bool, error) {
	presence := new(creator.FanAvatar)
	ok, err := m.KVGet(fanKey(spaceID, fan), presence)
	if err != nil || !ok {
		return nil, false, err
	}
	return presence, true, nil
}

func (m *Manager) FanPut(fan *creator.FanAvatar) error {
	return m.KVPut(fanKey(fan.SpaceID, fan.Owner), fan)
}

func (m *Manager) CreatorTotals() (*creator.Totals, error) {
	totals := new(creator.Totals)
	if _, err := m.KVGet(creatorTotalsKey, totals); err != nil {
		return nil, err
	}
	return totals, nil
}

func (m *Manager) CreatorTotalsPut(totals *creator.Totals) error {
	return m.KVPut(creatorTotalsKey, totals)
}
