package creator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spacegate/core/types"
)

func TestCheckOwnerRejectsMismatchedCapability(t *testing.T) {
	spaceA := &Space{ID: types.ObjectID{0x0a}}
	spaceB := &Space{ID: types.ObjectID{0x0b}}
	capA := &SpaceOwnership{ID: types.ObjectID{0x1a}, SpaceID: spaceA.ID, Custodian: alice}

	require.NoError(t, CheckOwner(spaceA, capA))
	require.ErrorIs(t, CheckOwner(spaceB, capA), ErrNotOwner)
	require.ErrorIs(t, CheckOwner(nil, capA), ErrNotOwner)
	require.ErrorIs(t, CheckOwner(spaceA, nil), ErrNotOwner)
}

func TestCheckSubscriberDiagnostics(t *testing.T) {
	spaceA := &Space{ID: types.ObjectID{0x0a}}
	spaceB := &Space{ID: types.ObjectID{0x0b}}
	sub := &Subscription{
		ID:           types.ObjectID{0x2a},
		SpaceID:      spaceA.ID,
		Subscriber:   bob,
		SubscribedAt: testNow,
		ExpiresAt:    testNow + types.Timestamp(types.OneDay),
		DurationDays: 1,
	}

	require.NoError(t, CheckSubscriber(spaceA, sub, bob, testNow))
	require.NoError(t, CheckSubscriber(spaceA, sub, bob, sub.ExpiresAt))

	cases := []struct {
		name   string
		space  *Space
		who    types.Principal
		now    types.Timestamp
		reason error
	}{
		{"wrong subscriber", spaceA, carol, testNow, ErrWrongSubscriber},
		{"wrong space", spaceB, bob, testNow, ErrWrongSpace},
		{"lapsed", spaceA, bob, sub.ExpiresAt + 1, ErrLapsed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckSubscriber(tc.space, sub, tc.who, tc.now)
			require.ErrorIs(t, err, ErrNotSubscriber)
			require.ErrorIs(t, err, tc.reason)
		})
	}
}

func TestCheckSubscriberLifetimeGrant(t *testing.T) {
	space := &Space{ID: types.ObjectID{0x0a}}
	sub := &Subscription{SpaceID: space.ID, Subscriber: alice, SubscribedAt: testNow, ExpiresAt: types.MaxTimestamp}
	require.NoError(t, CheckSubscriber(space, sub, alice, types.MaxTimestamp))
}

func TestEvaluateOwnerPath(t *testing.T) {
	f := newFixture(t)
	mine := f.initSpace(t, alice, 100)
	theirs := f.initSpace(t, bob, 100)

	call := types.GateCall{SpaceID: mine.Space.ID, CapabilityID: mine.Ownership.ID}
	require.NoError(t, Evaluate(f.state, GateOwnerPath, call, alice, testNow))

	err := Evaluate(f.state, GateOwnerPath, call, bob, testNow)
	require.ErrorIs(t, err, ErrNotOwner)

	// a valid capability for another space is refused whoever presents it
	mismatched := types.GateCall{SpaceID: mine.Space.ID, CapabilityID: theirs.Ownership.ID}
	for _, who := range []types.Principal{alice, bob, carol} {
		require.ErrorIs(t, Evaluate(f.state, GateOwnerPath, mismatched, who, testNow), ErrNotOwner)
	}

	missing := types.GateCall{SpaceID: mine.Space.ID, CapabilityID: types.ObjectID{0xff}}
	err = Evaluate(f.state, GateOwnerPath, missing, alice, testNow)
	require.ErrorIs(t, err, ErrNotOwner)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvaluateSubscriberPath(t *testing.T) {
	f := newFixture(t)
	spaceA := f.initSpace(t, alice, 100)
	spaceB := f.initSpace(t, carol, 100)
	bobID := f.register(t, bob, "bafy-avatar")

	res, err := f.engine.Subscribe(spaceA.Space.ID, bobID.ID, bob, types.NewCoin(300), 3, testNow)
	require.NoError(t, err)
	subID := res.Subscription.ID

	granted := types.GateCall{SpaceID: spaceA.Space.ID, CapabilityID: subID}
	require.NoError(t, Evaluate(f.state, GateSubscriberPath, granted, bob, testNow+1))

	crossSpace := types.GateCall{SpaceID: spaceB.Space.ID, CapabilityID: subID}
	err = Evaluate(f.state, GateSubscriberPath, crossSpace, bob, testNow+1)
	require.ErrorIs(t, err, ErrNotSubscriber)
	require.ErrorIs(t, err, ErrWrongSpace)

	err = Evaluate(f.state, GateSubscriberPath, granted, carol, testNow+1)
	require.ErrorIs(t, err, ErrWrongSubscriber)

	err = Evaluate(f.state, GateSubscriberPath, granted, bob, res.Subscription.ExpiresAt+1)
	require.ErrorIs(t, err, ErrLapsed)

	creatorSub, err := LookupSubscription(f.state, spaceA.Space.ID, alice)
	require.NoError(t, err)
	creatorCall := types.GateCall{SpaceID: spaceA.Space.ID, CapabilityID: creatorSub.ID}
	require.NoError(t, Evaluate(f.state, GateSubscriberPath, creatorCall, alice, testNow+types.Timestamp(1_000*types.OneDay)))
}

func TestEvaluateRequiresRegisteredGrant(t *testing.T) {
	f := newFixture(t)
	out := f.initSpace(t, alice, 100)

	stray := &Subscription{
		ID:           types.ObjectID{0x77},
		SpaceID:      out.Space.ID,
		Subscriber:   bob,
		SubscribedAt: testNow,
		ExpiresAt:    testNow + types.Timestamp(types.OneDay),
	}
	require.NoError(t, f.state.SubscriptionPut(stray))

	err := Evaluate(f.state, GateSubscriberPath, types.GateCall{SpaceID: out.Space.ID, CapabilityID: stray.ID}, bob, testNow)
	require.ErrorIs(t, err, ErrNotSubscriber)
	require.ErrorIs(t, err, ErrUnregistered)
}

func TestEvaluateUnknownPath(t *testing.T) {
	f := newFixture(t)
	require.Error(t, Evaluate(f.state, GatePath(9), types.GateCall{}, alice, testNow))

	path, ok := GatePathFor(types.TxTypeGateSubscriber)
	require.True(t, ok)
	require.Equal(t, GateSubscriberPath, path)
	_, ok = GatePathFor(types.TxTypeSubscribe)
	require.False(t, ok)
}
