package keyholder

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"spacegate/core"
	"spacegate/core/genesis"
	"spacegate/core/types"
	"spacegate/crypto"
	"spacegate/native/creator"
	"spacegate/sdk/access"
	"spacegate/storage"
)

const testChainID = 3

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type account struct {
	key    *crypto.PrivateKey
	wallet *access.KeyWallet
	nonce  uint64
}

func newAccount(t *testing.T) *account {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &account{key: key, wallet: access.NewKeyWallet(key)}
}

func (a *account) addr() types.Principal { return a.wallet.Address() }

type gateFixture struct {
	chain        *core.Blockchain
	clock        *testClock
	alice, bob   *account
	carol        *account
	spaceID      types.ObjectID
	ownershipID  types.ObjectID
	subscription types.ObjectID
}

func (f *gateFixture) submit(t *testing.T, a *account, txType types.TxType, value uint64, payload interface{}) *core.Receipt {
	t.Helper()
	tx, err := types.NewTransaction(testChainID, txType, a.nonce, value, payload)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(a.key.PrivateKey))
	receipt, err := f.chain.SubmitTransaction(tx)
	require.NoError(t, err)
	a.nonce++
	return receipt
}

func (f *gateFixture) register(t *testing.T, a *account, name string) types.ObjectID {
	t.Helper()
	f.submit(t, a, types.TxTypeRegisterIdentity, 0, types.RegisterIdentityPayload{
		Username:  name,
		AvatarRef: types.BlobRef("blob://" + name + "/avatar"),
		ImageRef:  types.BlobRef("blob://" + name + "/image"),
	})
	snap, err := f.chain.Snapshot()
	require.NoError(t, err)
	id, ok, err := snap.State.IdentityIndexGet(a.addr())
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

// newGateFixture publishes a space owned by alice and gives bob a five-day
// subscription to it. Carol holds nothing.
func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		clock: &testClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		alice: newAccount(t),
		bob:   newAccount(t),
		carol: newAccount(t),
	}
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-03-01T00:00:00Z",
		ChainID:     testChainID,
		Treasury:    f.carol.addr().String(),
		Alloc: map[string]string{
			f.alice.addr().String(): "50000000",
			f.bob.addr().String():   "10000",
		},
	}
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	chain, err := core.NewBlockchain(db, spec, core.ChainOptions{Clock: f.clock.Now})
	require.NoError(t, err)
	f.chain = chain

	f.register(t, f.alice, "alice")
	receipt := f.submit(t, f.alice, types.TxTypeInitializeSpace, creator.DefaultInitFee, types.InitializeSpacePayload{
		Name:        "studio",
		PricePerDay: 100,
	})
	for _, evt := range receipt.Events {
		if evt.Type == creator.EventTypeSpaceInitialized {
			f.spaceID, err = types.ParseObjectID(evt.Attributes["spaceId"])
			require.NoError(t, err)
			f.ownershipID, err = types.ParseObjectID(evt.Attributes["ownershipId"])
			require.NoError(t, err)
		}
	}
	require.False(t, f.spaceID.IsZero())

	bobIdentity := f.register(t, f.bob, "bob")
	f.submit(t, f.bob, types.TxTypeSubscribe, 500, types.SubscribePayload{
		SpaceID:      f.spaceID,
		IdentityID:   bobIdentity,
		DurationDays: 5,
	})
	snap, err := f.chain.Snapshot()
	require.NoError(t, err)
	sub, err := creator.LookupSubscription(snap.State, f.spaceID, f.bob.addr())
	require.NoError(t, err)
	f.subscription = sub.ID
	return f
}

// service starts holder index. Shares and decisions share store; a nil store
// keeps shares in a private one and skips the audit log.
func (f *gateFixture) service(t *testing.T, index int, store *Store) *Service {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	var shares ShareKeeper = store
	if store == nil {
		shares = openStore(t)
	}
	svc, err := NewService(Config{
		HolderIndex:  index,
		Key:          key,
		MaxStaleness: 30 * time.Second,
		SessionTTL:   5 * time.Minute,
	}, NewLocalView(f.chain), shares, store, nil)
	require.NoError(t, err)
	svc.now = f.clock.Now
	return svc
}

func (f *gateFixture) request(t *testing.T, path creator.GatePath, call types.GateCall) access.FetchKeyRequest {
	t.Helper()
	encoded, err := access.BuildGateRequest(path, call)
	require.NoError(t, err)
	return access.FetchKeyRequest{RequestID: uuid.NewString(), Transaction: encoded}
}

func (f *gateFixture) session(t *testing.T, a *account) string {
	t.Helper()
	token, err := access.MintSession(a.wallet, time.Minute, f.clock.Now())
	require.NoError(t, err)
	return token
}

func (f *gateFixture) ownerCall(name string) types.GateCall {
	return types.GateCall{ResourceID: access.ResourceID(f.spaceID, name), SpaceID: f.spaceID, CapabilityID: f.ownershipID}
}

func (f *gateFixture) depositRequest(t *testing.T, path creator.GatePath, call types.GateCall, value []byte) access.DepositShareRequest {
	t.Helper()
	encoded, err := access.BuildGateRequest(path, call)
	require.NoError(t, err)
	return access.DepositShareRequest{RequestID: uuid.NewString(), Transaction: encoded, Share: hex.EncodeToString(value)}
}

// publish deals a fresh key for name and has alice deposit one share with
// each service. svcs[i] must serve holder index i+1.
func (f *gateFixture) publish(t *testing.T, name string, threshold int, svcs ...*Service) ([]byte, []access.Share) {
	t.Helper()
	key, err := access.NewContentKey()
	require.NoError(t, err)
	indexes := make([]int, len(svcs))
	for i := range svcs {
		indexes[i] = i + 1
	}
	shares, err := access.Deal(key, indexes, threshold)
	require.NoError(t, err)
	call := f.ownerCall(name)
	for i, svc := range svcs {
		req := f.depositRequest(t, creator.GateOwnerPath, call, shares[i].Value)
		resp, err := svc.DepositShare(context.Background(), f.session(t, f.alice), req)
		require.NoError(t, err)
		require.NoError(t, access.VerifyDeposit(resp, req.RequestID, i+1, call.ResourceID, shares[i].Value, svc.Address()))
	}
	return key, shares
}

func (f *gateFixture) subscriberCall(name string) types.GateCall {
	return types.GateCall{ResourceID: access.ResourceID(f.spaceID, name), SpaceID: f.spaceID, CapabilityID: f.subscription}
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir()+"/audit.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestServiceGrantsSubscriber(t *testing.T) {
	f := newGateFixture(t)
	store := openStore(t)
	svc := f.service(t, 1, store)
	_, dealt := f.publish(t, "ep1", 1, svc)

	call := f.subscriberCall("ep1")
	req := f.request(t, creator.GateSubscriberPath, call)
	resp, err := svc.FetchKey(context.Background(), f.session(t, f.bob), req)
	require.NoError(t, err)

	share, err := access.VerifyShare(resp, req.RequestID, 1, call.ResourceID, svc.Address())
	require.NoError(t, err)
	require.Equal(t, dealt[0].Value, share)

	d, err := store.Lookup(req.RequestID)
	require.NoError(t, err)
	require.True(t, d.Granted)
	require.Equal(t, "subscriber", d.Path)
	require.Equal(t, "fetch", d.Action)
	require.Equal(t, f.bob.addr().String(), d.Requester)
	require.Equal(t, f.chain.Head().Height, d.Height)
}

func TestServiceGrantsOwner(t *testing.T) {
	f := newGateFixture(t)
	svc := f.service(t, 1, nil)
	f.publish(t, "raw", 1, svc)

	call := f.ownerCall("raw")
	_, err := svc.FetchKey(context.Background(), f.session(t, f.alice), f.request(t, creator.GateOwnerPath, call))
	require.NoError(t, err)

	_, err = svc.FetchKey(context.Background(), f.session(t, f.bob), f.request(t, creator.GateOwnerPath, call))
	require.ErrorIs(t, err, ErrDenied)
	require.ErrorIs(t, err, creator.ErrNotOwner)
}

func TestServiceDenials(t *testing.T) {
	f := newGateFixture(t)
	store := openStore(t)
	svc := f.service(t, 1, store)
	ctx := context.Background()

	var other types.ObjectID
	other[0] = 0x42
	outside := f.subscriberCall("ep1")
	outside.ResourceID = access.ResourceID(other, "ep1")
	malformed := f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1"))
	malformed.RequestID = "not-a-uuid"

	cases := []struct {
		name    string
		session string
		req     access.FetchKeyRequest
		reason  string
	}{
		{"wrong subscriber", f.session(t, f.carol), f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1")), "wrong_subscriber"},
		{"resource outside space", f.session(t, f.bob), f.request(t, creator.GateSubscriberPath, outside), "resource"},
		{"bad session", "garbage", f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1")), "session"},
		{"bad request id", f.session(t, f.bob), malformed, "request"},
		{"not a gate request", f.session(t, f.bob), access.FetchKeyRequest{RequestID: uuid.NewString(), Transaction: "zz"}, "request"},
		{"unknown capability", f.session(t, f.bob), f.request(t, creator.GateSubscriberPath, types.GateCall{
			ResourceID: access.ResourceID(f.spaceID, "ep1"), SpaceID: f.spaceID, CapabilityID: other,
		}), "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.FetchKey(ctx, tc.session, tc.req)
			require.ErrorIs(t, err, ErrDenied)
			if tc.req.RequestID == "not-a-uuid" {
				return
			}
			d, err := store.Lookup(tc.req.RequestID)
			require.NoError(t, err)
			require.False(t, d.Granted)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestServiceUsesWallClockForExpiry(t *testing.T) {
	f := newGateFixture(t)
	store := openStore(t)
	svc := f.service(t, 1, store)

	f.clock.Advance(6 * 24 * time.Hour)
	_, err := f.chain.SealEmptyBlock()
	require.NoError(t, err)

	req := f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1"))
	_, err = svc.FetchKey(context.Background(), f.session(t, f.bob), req)
	require.ErrorIs(t, err, ErrDenied)
	require.ErrorIs(t, err, creator.ErrLapsed)

	d, err := store.Lookup(req.RequestID)
	require.NoError(t, err)
	require.Equal(t, "lapsed", d.Reason)
}

func TestServiceRefusesStaleState(t *testing.T) {
	f := newGateFixture(t)
	svc := f.service(t, 1, nil)
	f.publish(t, "ep1", 1, svc)

	f.clock.Advance(time.Minute)
	_, err := svc.FetchKey(context.Background(), f.session(t, f.bob), f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1")))
	require.ErrorIs(t, err, ErrStaleState)
	require.NotErrorIs(t, err, ErrDenied)

	_, err = f.chain.SealEmptyBlock()
	require.NoError(t, err)
	_, err = svc.FetchKey(context.Background(), f.session(t, f.bob), f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1")))
	require.NoError(t, err)
}

func TestStoreRecent(t *testing.T) {
	store := openStore(t)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(Decision{RequestID: id, Granted: i%2 == 0}))
	}
	recent, err := store.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].RequestID)
	require.Equal(t, "b", recent[1].RequestID)

	_, err = store.Lookup("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestServiceFetchBeforeDeposit(t *testing.T) {
	f := newGateFixture(t)
	store := openStore(t)
	svc := f.service(t, 1, store)

	req := f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1"))
	_, err := svc.FetchKey(context.Background(), f.session(t, f.bob), req)
	require.ErrorIs(t, err, ErrShareMissing)
	require.NotErrorIs(t, err, ErrDenied)

	d, err := store.Lookup(req.RequestID)
	require.NoError(t, err)
	require.False(t, d.Granted)
	require.Equal(t, "no_share", d.Reason)

	// The gate still runs first: a stranger learns nothing about deposits.
	_, err = svc.FetchKey(context.Background(), f.session(t, f.carol), f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1")))
	require.ErrorIs(t, err, ErrDenied)
	require.NotErrorIs(t, err, ErrShareMissing)
}

func TestServiceDepositRequiresOwner(t *testing.T) {
	f := newGateFixture(t)
	store := openStore(t)
	svc := f.service(t, 1, store)
	ctx := context.Background()
	shares, err := access.Deal(mustKey(t), []int{1}, 1)
	require.NoError(t, err)
	value := shares[0].Value

	cases := []struct {
		name    string
		session string
		req     access.DepositShareRequest
		reason  string
	}{
		{"subscriber path", f.session(t, f.bob), f.depositRequest(t, creator.GateSubscriberPath, f.subscriberCall("ep1"), value), "deposit_path"},
		{"not the owner", f.session(t, f.bob), f.depositRequest(t, creator.GateOwnerPath, f.ownerCall("ep1"), value), "not_owner"},
		{"bad session", "garbage", f.depositRequest(t, creator.GateOwnerPath, f.ownerCall("ep1"), value), "session"},
		{"malformed share", f.session(t, f.alice), f.depositRequest(t, creator.GateOwnerPath, f.ownerCall("ep1"), []byte{1, 2, 3}), "request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.DepositShare(ctx, tc.session, tc.req)
			require.ErrorIs(t, err, ErrDenied)
			d, err := store.Lookup(tc.req.RequestID)
			require.NoError(t, err)
			require.Equal(t, "deposit", d.Action)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
	_, err = store.Share(f.ownerCall("ep1").ResourceID)
	require.ErrorIs(t, err, ErrShareMissing)

	req := f.depositRequest(t, creator.GateOwnerPath, f.ownerCall("ep1"), value)
	_, err = svc.DepositShare(ctx, f.session(t, f.alice), req)
	require.NoError(t, err)
	rec, err := store.ShareRecord(f.ownerCall("ep1").ResourceID)
	require.NoError(t, err)
	require.Equal(t, value, rec.Share)
	require.Equal(t, f.alice.addr().String(), rec.Depositor)
	require.Equal(t, f.chain.Head().Height, rec.Height)
}

func TestHolderStoreYieldsOnlyItsOwnShare(t *testing.T) {
	f := newGateFixture(t)
	stores := []*Store{openStore(t), openStore(t), openStore(t)}
	svcs := make([]*Service, len(stores))
	for i, store := range stores {
		svcs[i] = f.service(t, i+1, store)
	}
	key, dealt := f.publish(t, "ep1", 2, svcs...)
	rid := f.subscriberCall("ep1").ResourceID

	for i, store := range stores {
		held, err := store.Share(rid)
		require.NoError(t, err)
		require.Equal(t, dealt[i].Value, held)
		require.NotEqual(t, key, held)
		for j := range dealt {
			if j != i {
				require.NotEqual(t, dealt[j].Value, held)
			}
		}
	}

	// Everything holder 1 keeps is short of a quorum.
	held, err := stores[0].Share(rid)
	require.NoError(t, err)
	_, err = access.ShamirCombiner{}.Combine(rid, []access.Share{{Holder: 1, Value: held}}, 2)
	require.Error(t, err)
	for _, d := range []int{2, 3} {
		recovered, err := access.ShamirCombiner{}.Combine(rid, []access.Share{{Holder: 1, Value: held}, {Holder: d, Value: held}}, 2)
		require.NoError(t, err)
		require.NotEqual(t, key, recovered)
	}

	// Holder 1's service releases holder 1's share and nothing else.
	req := f.request(t, creator.GateSubscriberPath, f.subscriberCall("ep1"))
	resp, err := svcs[0].FetchKey(context.Background(), f.session(t, f.bob), req)
	require.NoError(t, err)
	share, err := access.VerifyShare(resp, req.RequestID, 1, rid, svcs[0].Address())
	require.NoError(t, err)
	require.Equal(t, dealt[0].Value, share)
	_, err = access.VerifyShare(resp, req.RequestID, 2, rid, svcs[0].Address())
	require.Error(t, err)

	key2, err := access.ShamirCombiner{}.Combine(rid, []access.Share{{Holder: 1, Value: share}, dealt[2]}, 2)
	require.NoError(t, err)
	require.Equal(t, key, key2)
}

func TestStoreShareRecords(t *testing.T) {
	store := openStore(t)
	require.Error(t, store.PutShare(ShareRecord{}))
	_, err := store.ShareRecord([]byte("missing"))
	require.ErrorIs(t, err, ErrShareMissing)

	key := mustKey(t)
	require.NoError(t, store.PutShare(ShareRecord{ResourceID: []byte("r"), Share: key, Depositor: "alice", Height: 7}))
	rec, err := store.ShareRecord([]byte("r"))
	require.NoError(t, err)
	require.Equal(t, key, rec.Share)
	require.Equal(t, uint64(7), rec.Height)
}

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := access.NewContentKey()
	require.NoError(t, err)
	return key
}
