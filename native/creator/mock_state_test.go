package creator

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"spacegate/core/events"
	"spacegate/core/types"
)

type subKey struct {
	space      types.ObjectID
	subscriber types.Principal
}

type mockState struct {
	seq           uint64
	identities    map[types.ObjectID]*Identity
	identityIndex map[types.Principal]types.ObjectID
	spaces        map[types.ObjectID]*Space
	spaceList     []types.ObjectID
	ownerships    map[types.ObjectID]*SpaceOwnership
	markets       map[types.ObjectID]*Marketplace
	marketCaps    map[types.ObjectID]*MarketplaceCap
	subs          map[types.ObjectID]*Subscription
	subIndex      map[subKey]types.ObjectID
	subscribers   map[types.ObjectID][]types.Principal
	fans          map[subKey]*FanAvatar
	totals        Totals
	balances      map[types.Principal]uint64

	// beforeSubIndexInsert runs ahead of each index insert, letting a test
	// commit a competing subscription between the engine's check and insert.
	beforeSubIndexInsert func(spaceID types.ObjectID, subscriber types.Principal)
}

func newMockState() *mockState {
	return &mockState{
		identities:    make(map[types.ObjectID]*Identity),
		identityIndex: make(map[types.Principal]types.ObjectID),
		spaces:        make(map[types.ObjectID]*Space),
		ownerships:    make(map[types.ObjectID]*SpaceOwnership),
		markets:       make(map[types.ObjectID]*Marketplace),
		marketCaps:    make(map[types.ObjectID]*MarketplaceCap),
		subs:          make(map[types.ObjectID]*Subscription),
		subIndex:      make(map[subKey]types.ObjectID),
		subscribers:   make(map[types.ObjectID][]types.Principal),
		fans:          make(map[subKey]*FanAvatar),
		balances:      make(map[types.Principal]uint64),
	}
}

func (m *mockState) NextObjectID() (types.ObjectID, error) {
	m.seq++
	var id types.ObjectID
	binary.BigEndian.PutUint64(id[24:], m.seq)
	return id, nil
}

func (m *mockState) IdentityGet(id types.ObjectID) (*Identity, bool, error) {
	identity, ok := m.identities[id]
	if !ok {
		return nil, false, nil
	}
	return identity.Clone(), true, nil
}

func (m *mockState) IdentityPut(identity *Identity) error {
	m.identities[identity.ID] = identity.Clone()
	return nil
}

func (m *mockState) IdentityIndexGet(owner types.Principal) (types.ObjectID, bool, error) {
	id, ok := m.identityIndex[owner]
	return id, ok, nil
}

func (m *mockState) IdentityIndexInsert(owner types.Principal, id types.ObjectID) (bool, error) {
	if _, ok := m.identityIndex[owner]; ok {
		return false, nil
	}
	m.identityIndex[owner] = id
	return true, nil
}

func (m *mockState) SpaceGet(id types.ObjectID) (*Space, bool, error) {
	space, ok := m.spaces[id]
	if !ok {
		return nil, false, nil
	}
	return space.Clone(), true, nil
}

func (m *mockState) SpacePut(space *Space) error {
	m.spaces[space.ID] = space.Clone()
	return nil
}

func (m *mockState) SpaceList() ([]types.ObjectID, error) {
	return append([]types.ObjectID(nil), m.spaceList...), nil
}

func (m *mockState) SpaceListAppend(id types.ObjectID) error {
	m.spaceList = append(m.spaceList, id)
	return nil
}

func (m *mockState) OwnershipGet(id types.ObjectID) (*SpaceOwnership, bool, error) {
	ownership, ok := m.ownerships[id]
	if !ok {
		return nil, false, nil
	}
	clone := *ownership
	return &clone, true, nil
}

func (m *mockState) OwnershipPut(ownership *SpaceOwnership) error {
	clone := *ownership
	m.ownerships[ownership.ID] = &clone
	return nil
}

func (m *mockState) MarketplacePut(market *Marketplace) error {
	clone := *market
	m.markets[market.ID] = &clone
	return nil
}

func (m *mockState) MarketplaceCapPut(marketCap *MarketplaceCap) error {
	clone := *marketCap
	m.marketCaps[marketCap.ID] = &clone
	return nil
}

func (m *mockState) SubscriptionGet(id types.ObjectID) (*Subscription, bool, error) {
	sub, ok := m.subs[id]
	if !ok {
		return nil, false, nil
	}
	clone := *sub
	return &clone, true, nil
}

func (m *mockState) SubscriptionPut(sub *Subscription) error {
	clone := *sub
	m.subs[sub.ID] = &clone
	return nil
}

func (m *mockState) SubscriptionIndexGet(spaceID types.ObjectID, subscriber types.Principal) (types.ObjectID, bool, error) {
	id, ok := m.subIndex[subKey{spaceID, subscriber}]
	return id, ok, nil
}

func (m *mockState) SubscriptionIndexInsert(spaceID types.ObjectID, subscriber types.Principal, id types.ObjectID) (bool, error) {
	if m.beforeSubIndexInsert != nil {
		m.beforeSubIndexInsert(spaceID, subscriber)
	}
	key := subKey{spaceID, subscriber}
	if _, ok := m.subIndex[key]; ok {
		return false, nil
	}
	m.subIndex[key] = id
	m.subscribers[spaceID] = append(m.subscribers[spaceID], subscriber)
	return true, nil
}

func (m *mockState) SpaceSubscribers(spaceID types.ObjectID) ([]types.Principal, error) {
	return append([]types.Principal(nil), m.subscribers[spaceID]...), nil
}

func (m *mockState) FanGet(spaceID types.ObjectID, fan types.Principal) (*FanAvatar, bool, error) {
	presence, ok := m.fans[subKey{spaceID, fan}]
	if !ok {
		return nil, false, nil
	}
	clone := *presence
	return &clone, true, nil
}

func (m *mockState) FanPut(fan *FanAvatar) error {
	clone := *fan
	m.fans[subKey{fan.SpaceID, fan.Owner}] = &clone
	return nil
}

func (m *mockState) CreatorTotals() (*Totals, error) {
	return m.totals.Clone(), nil
}

func (m *mockState) CreatorTotalsPut(totals *Totals) error {
	m.totals = *totals
	return nil
}

func (m *mockState) Credit(addr types.Principal, coin types.Coin) error {
	m.balances[addr] += coin.Value()
	return nil
}

const testNow types.Timestamp = 1_700_000_000_000

var (
	alice    = testPrincipal(0xa1)
	bob      = testPrincipal(0xb0)
	carol    = testPrincipal(0xc4)
	treasury = testPrincipal(0xfe)
)

func testPrincipal(b byte) types.Principal {
	var p types.Principal
	p[0] = b
	p[19] = b
	return p
}

type fixture struct {
	engine *Engine
	state  *mockState
	events *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	buf := &events.Buffer{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(buf)
	engine.SetTreasury(treasury)
	return &fixture{engine: engine, state: state, events: buf}
}

func (f *fixture) register(t *testing.T, who types.Principal, avatar types.BlobRef) *Identity {
	t.Helper()
	identity, err := f.engine.RegisterIdentity(who, "user", "bio", avatar, "bafy-image", testNow)
	require.NoError(t, err)
	return identity
}

func (f *fixture) initSpace(t *testing.T, creator types.Principal, pricePerDay uint64) *SpaceInit {
	t.Helper()
	params := SpaceParams{Name: "gallery", CoverRef: "bafy-cover", ConfigRef: "bafy-config", PricePerDay: pricePerDay}
	out, err := f.engine.InitializeSpace(creator, params, types.NewCoin(f.engine.InitFee()), testNow)
	require.NoError(t, err)
	return out
}

func (f *fixture) eventTypes() []string {
	drained := f.events.Drain()
	out := make([]string, 0, len(drained))
	for _, evt := range drained {
		out = append(out, evt.Type)
	}
	return out
}
