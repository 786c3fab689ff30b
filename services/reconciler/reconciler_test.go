package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/services/keyholder"
)

type subKey struct {
	space      types.ObjectID
	subscriber types.Principal
}

type readState struct {
	spaces      map[types.ObjectID]*creator.Space
	spaceList   []types.ObjectID
	subs        map[types.ObjectID]*creator.Subscription
	subIndex    map[subKey]types.ObjectID
	subscribers map[types.ObjectID][]types.Principal
	totals      creator.Totals
}

func newReadState() *readState {
	return &readState{
		spaces:      make(map[types.ObjectID]*creator.Space),
		subs:        make(map[types.ObjectID]*creator.Subscription),
		subIndex:    make(map[subKey]types.ObjectID),
		subscribers: make(map[types.ObjectID][]types.Principal),
	}
}

func (s *readState) addSpace(id types.ObjectID) {
	s.spaces[id] = &creator.Space{ID: id}
	s.spaceList = append(s.spaceList, id)
}

func (s *readState) addSub(id, space types.ObjectID, who types.Principal, at, expires types.Timestamp) {
	s.subs[id] = &creator.Subscription{ID: id, SpaceID: space, Subscriber: who, SubscribedAt: at, ExpiresAt: expires}
	s.subIndex[subKey{space, who}] = id
	s.subscribers[space] = append(s.subscribers[space], who)
	s.totals.ActiveSubscriptions++
}

func (s *readState) IdentityGet(types.ObjectID) (*creator.Identity, bool, error) { return nil, false, nil }
func (s *readState) IdentityIndexGet(types.Principal) (types.ObjectID, bool, error) {
	return types.ObjectID{}, false, nil
}
func (s *readState) SpaceGet(id types.ObjectID) (*creator.Space, bool, error) {
	space, ok := s.spaces[id]
	return space, ok, nil
}
func (s *readState) SpaceList() ([]types.ObjectID, error) { return s.spaceList, nil }
func (s *readState) OwnershipGet(types.ObjectID) (*creator.SpaceOwnership, bool, error) {
	return nil, false, nil
}
func (s *readState) SubscriptionGet(id types.ObjectID) (*creator.Subscription, bool, error) {
	sub, ok := s.subs[id]
	return sub, ok, nil
}
func (s *readState) SubscriptionIndexGet(space types.ObjectID, who types.Principal) (types.ObjectID, bool, error) {
	id, ok := s.subIndex[subKey{space, who}]
	return id, ok, nil
}
func (s *readState) SpaceSubscribers(space types.ObjectID) ([]types.Principal, error) {
	return s.subscribers[space], nil
}
func (s *readState) FanGet(types.ObjectID, types.Principal) (*creator.FanAvatar, bool, error) {
	return nil, false, nil
}
func (s *readState) CreatorTotals() (*creator.Totals, error) { return s.totals.Clone(), nil }

type staticView struct {
	state creator.StateReader
	err   error
}

func (v staticView) Snapshot(context.Context) (*keyholder.Snapshot, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &keyholder.Snapshot{Height: 9, State: v.state}, nil
}

func principal(b byte) types.Principal {
	var p types.Principal
	p[19] = b
	return p
}

func fixture() (*readState, types.ObjectID) {
	state := newReadState()
	space := types.ObjectID{1}
	state.addSpace(space)
	state.addSub(types.ObjectID{10}, space, principal(1), 0, types.MaxTimestamp)
	state.addSub(types.ObjectID{11}, space, principal(2), 1_000, types.Timestamp(1_000+5*types.OneDay))
	state.addSub(types.ObjectID{12}, space, principal(3), 1_000, types.Timestamp(1_000+types.OneDay))
	state.addSub(types.ObjectID{13}, space, principal(4), 1_000, 1_000)
	state.addSpace(types.ObjectID{2})
	return state, space
}

func TestPassCountsLiveAndLapsed(t *testing.T) {
	state, space := fixture()
	report, err := Pass(state, types.Timestamp(1_000+2*types.OneDay))
	require.NoError(t, err)
	require.Equal(t, uint64(4), report.Cumulative)
	require.Len(t, report.Spaces, 2)
	require.Equal(t, SpaceReport{SpaceID: space, Live: 2, Lapsed: 2}, report.Spaces[0])
	require.Equal(t, SpaceReport{SpaceID: types.ObjectID{2}}, report.Spaces[1])

	report, err = Pass(state, types.Timestamp(1_000+6*types.OneDay))
	require.NoError(t, err)
	require.Equal(t, 1, report.Spaces[0].Live)
	require.Equal(t, 3, report.Spaces[0].Lapsed)
}

func TestPassRejectsMissingSubscription(t *testing.T) {
	state, space := fixture()
	state.subscribers[space] = append(state.subscribers[space], principal(9))
	_, err := Pass(state, 0)
	require.ErrorIs(t, err, creator.ErrNotFound)
}

func TestReconcilePublishesGauges(t *testing.T) {
	state, space := fixture()
	now := time.UnixMilli(int64(1_000 + 2*types.OneDay))
	r := New(staticView{state: state}, time.Second, WithClock(func() time.Time { return now }))

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(9), report.Height)
	require.Same(t, report, r.Last())
	require.Equal(t, float64(2), testutil.ToFloat64(r.metrics.Live().WithLabelValues(space.String())))

	failing := New(staticView{err: errors.New("node down")}, time.Second)
	_, err = failing.Reconcile(context.Background())
	require.Error(t, err)
	require.Nil(t, failing.Last())
}

func TestRunStopsOnCancel(t *testing.T) {
	state, _ := fixture()
	r := New(staticView{state: state}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.Last() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
