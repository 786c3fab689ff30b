package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/storage"
	"spacegate/storage/trie"
)

func newTestManager(t *testing.T) (*Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, common.Hash{})
	require.NoError(t, err)
	return NewManager(tr), db
}

func principal(b byte) types.Principal {
	var p types.Principal
	p[19] = b
	return p
}

func TestKVListHelpers(t *testing.T) {
	mgr, _ := newTestManager(t)

	list, err := mgr.KVListItems([]byte("missing"))
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)

	for i, v := range []string{"a", "b", "c"} {
		pos, err := mgr.KVListAppend([]byte("k"), []byte(v))
		require.NoError(t, err)
		require.Equal(t, uint64(i), pos)
	}
	list, err = mgr.KVListItems([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, list)

	n, err := mgr.KVListLen([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)

	require.Error(t, mgr.KVPut(nil, 1))
	_, err = mgr.KVListAppend(nil, []byte("x"))
	require.Error(t, err)
}

func TestKVListStoresItemsIndividually(t *testing.T) {
	mgr, _ := newTestManager(t)
	key := []byte("k")
	for i := 0; i < 50; i++ {
		_, err := mgr.KVListAppend(key, []byte{byte(i)})
		require.NoError(t, err)
	}
	// Item entries are independent of the length entry and of each other.
	var first []byte
	ok, err := mgr.KVGet(listItemKey(key, 0), &first)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0}, first)

	require.NoError(t, mgr.KVPut(listItemKey(key, 10), []byte{0xee}))
	list, err := mgr.KVListItems(key)
	require.NoError(t, err)
	require.Len(t, list, 50)
	require.Equal(t, []byte{0xee}, list[10])
	require.Equal(t, []byte{49}, list[49])

	// A length pointing past the stored items is corruption, not an empty tail.
	require.NoError(t, mgr.KVPut(key, uint64(51)))
	_, err = mgr.KVListItems(key)
	require.Error(t, err)
}

func TestNextObjectIDIsUniqueAndDeterministic(t *testing.T) {
	first, _ := newTestManager(t)
	second, _ := newTestManager(t)

	seen := make(map[types.ObjectID]struct{})
	for i := 0; i < 16; i++ {
		a, err := first.NextObjectID()
		require.NoError(t, err)
		b, err := second.NextObjectID()
		require.NoError(t, err)
		require.Equal(t, a, b)
		require.False(t, a.IsZero())
		_, dup := seen[a]
		require.False(t, dup)
		seen[a] = struct{}{}
	}
}

func TestAccountsWithdrawAndCredit(t *testing.T) {
	mgr, _ := newTestManager(t)
	alice := principal(1)

	acc, err := mgr.GetAccount(alice)
	require.NoError(t, err)
	require.Equal(t, &Account{}, acc)

	require.NoError(t, mgr.PutAccount(alice, &Account{Nonce: 3, Balance: 1_000}))
	_, err = mgr.Withdraw(alice, 1_001)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	coin, err := mgr.Withdraw(alice, 600)
	require.NoError(t, err)
	require.Equal(t, uint64(600), coin.Value())
	require.NoError(t, mgr.Credit(alice, types.NewCoin(50)))

	acc, err = mgr.GetAccount(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(450), acc.Balance)
	require.Equal(t, uint64(3), acc.Nonce)

	require.NoError(t, mgr.PutAccount(alice, &Account{Balance: ^uint64(0)}))
	require.ErrorIs(t, mgr.Credit(alice, types.NewCoin(1)), ErrBalanceOverflow)
}

func TestCreatorRecordsRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	owner := principal(7)

	id, err := mgr.NextObjectID()
	require.NoError(t, err)
	identity := &creator.Identity{ID: id, Owner: owner, Username: "u", ImageRef: "img", CreatedAt: 5, IsCreator: true}
	require.NoError(t, mgr.IdentityPut(identity))
	got, ok, err := mgr.IdentityGet(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, identity, got)

	space := &creator.Space{ID: types.ObjectID{0x01}, Name: "g", VideoRefs: []types.BlobRef{"v1"}, PricePerDay: 9, Creator: owner}
	require.NoError(t, mgr.SpacePut(space))
	gotSpace, ok, err := mgr.SpaceGet(space.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, space, gotSpace)

	_, ok, err = mgr.SpaceGet(types.ObjectID{0x02})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mgr.SpaceListAppend(space.ID))
	require.NoError(t, mgr.SpaceListAppend(types.ObjectID{0x03}))
	list, err := mgr.SpaceList()
	require.NoError(t, err)
	require.Equal(t, []types.ObjectID{space.ID, {0x03}}, list)

	sub := &creator.Subscription{ID: types.ObjectID{0x10}, SpaceID: space.ID, Subscriber: owner, ExpiresAt: types.MaxTimestamp}
	require.NoError(t, mgr.SubscriptionPut(sub))
	gotSub, ok, err := mgr.SubscriptionGet(sub.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, gotSub.IsLifetime())

	totals := &creator.Totals{Identities: 1, Creators: 2, Spaces: 3}
	require.NoError(t, mgr.CreatorTotalsPut(totals))
	gotTotals, err := mgr.CreatorTotals()
	require.NoError(t, err)
	require.Equal(t, totals, gotTotals)
}

func TestIndexInsertIsTestAndSet(t *testing.T) {
	mgr, _ := newTestManager(t)
	space := types.ObjectID{0xaa}
	fan := principal(2)

	inserted, err := mgr.SubscriptionIndexInsert(space, fan, types.ObjectID{0x01})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = mgr.SubscriptionIndexInsert(space, fan, types.ObjectID{0x02})
	require.NoError(t, err)
	require.False(t, inserted)

	id, ok, err := mgr.SubscriptionIndexGet(space, fan)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.ObjectID{0x01}, id)

	_, ok, err = mgr.SubscriptionIndexGet(types.ObjectID{0xbb}, fan)
	require.NoError(t, err)
	require.False(t, ok)

	subscribers, err := mgr.SpaceSubscribers(space)
	require.NoError(t, err)
	require.Equal(t, []types.Principal{fan}, subscribers)

	inserted, err = mgr.IdentityIndexInsert(fan, types.ObjectID{0x05})
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = mgr.IdentityIndexInsert(fan, types.ObjectID{0x06})
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestCommittedRootStaysReadable(t *testing.T) {
	mgr, db := newTestManager(t)
	space := &creator.Space{ID: types.ObjectID{0x01}, Name: "v1", VideoRefs: []types.BlobRef{}}
	require.NoError(t, mgr.SpacePut(space))
	root1, err := mgr.Trie().Commit(common.Hash{}, 1)
	require.NoError(t, err)

	space.Name = "v2"
	require.NoError(t, mgr.SpacePut(space))
	_, err = mgr.Trie().Commit(root1, 2)
	require.NoError(t, err)

	old, err := trie.NewTrie(db, root1)
	require.NoError(t, err)
	snapshot := NewManager(old)
	got, ok, err := snapshot.SpaceGet(space.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", got.Name)
}
