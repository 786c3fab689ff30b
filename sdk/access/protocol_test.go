package access

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"spacegate/core/types"
	"spacegate/native/creator"
)

func signedResponse(t *testing.T, wallet *KeyWallet, requestID string, holder int, resourceID, share []byte) *FetchKeyResponse {
	t.Helper()
	sig, err := wallet.SignMessage(ShareMessage(requestID, holder, resourceID, share))
	require.NoError(t, err)
	return &FetchKeyResponse{
		RequestID: requestID,
		Holder:    holder,
		Share:     hex.EncodeToString(share),
		Signature: hex.EncodeToString(sig),
	}
}

func TestVerifyShare(t *testing.T) {
	holderWallet := newTestWallet(t)
	rid := ResourceID(types.ObjectID{1}, "episode-1")
	resp := signedResponse(t, holderWallet, "req-1", 2, rid, []byte{0xAA, 0xBB})

	share, err := VerifyShare(resp, "req-1", 2, rid, holderWallet.Address())
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, share)

	_, err = VerifyShare(resp, "req-2", 2, rid, holderWallet.Address())
	require.Error(t, err)
	_, err = VerifyShare(resp, "req-1", 3, rid, holderWallet.Address())
	require.Error(t, err)
	_, err = VerifyShare(resp, "req-1", 2, ResourceID(types.ObjectID{1}, "episode-2"), holderWallet.Address())
	require.Error(t, err)
	_, err = VerifyShare(resp, "req-1", 2, rid, newTestWallet(t).Address())
	require.Error(t, err)
}

func TestResourceIDCarriesSpacePrefix(t *testing.T) {
	space := types.ObjectID{7, 7, 7}
	rid := ResourceID(space, "trailer")
	require.Len(t, rid, len(space)+16)
	require.Equal(t, space[:], rid[:len(space)])
	require.NotEqual(t, rid, ResourceID(space, "finale"))
}

func TestBuildGateRequest(t *testing.T) {
	call := types.GateCall{ResourceID: []byte{1}, SpaceID: types.ObjectID{2}, CapabilityID: types.ObjectID{3}}
	encoded, err := BuildGateRequest(creator.GateSubscriberPath, call)
	require.NoError(t, err)

	raw, err := hex.DecodeString(encoded)
	require.NoError(t, err)
	tx, err := types.DecodeKind(raw)
	require.NoError(t, err)
	require.Equal(t, types.TxTypeGateSubscriber, tx.Type)
	var got types.GateCall
	require.NoError(t, tx.DecodePayload(&got))
	require.Equal(t, call, got)

	_, err = BuildGateRequest(creator.GatePath(9), call)
	require.Error(t, err)
}

func TestDealAnyQuorumRecoversKey(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	shares, err := Deal(key, []int{1, 2, 3, 4, 5}, 3)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	for _, quorum := range [][]Share{
		{shares[0], shares[1], shares[2]},
		{shares[4], shares[2], shares[0]},
		{shares[1], shares[3], shares[4]},
		shares,
	} {
		got, err := ShamirCombiner{}.Combine(nil, quorum, 3)
		require.NoError(t, err)
		require.Equal(t, key, got)
	}

	short, err := ShamirCombiner{}.Combine(nil, shares[:2], 2)
	require.NoError(t, err)
	require.NotEqual(t, key, short)

	_, err = ShamirCombiner{}.Combine(nil, shares[:2], 3)
	require.Error(t, err)
	_, err = ShamirCombiner{}.Combine(nil, []Share{shares[0], shares[0], shares[1]}, 3)
	require.Error(t, err)
}

func TestDealIsFreshEachTime(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)
	first, err := Deal(key, []int{1, 2}, 2)
	require.NoError(t, err)
	second, err := Deal(key, []int{1, 2}, 2)
	require.NoError(t, err)
	require.NotEqual(t, first[0].Value, second[0].Value)

	// Shares from different dealings do not combine into the key.
	mixed, err := ShamirCombiner{}.Combine(nil, []Share{first[0], second[1]}, 2)
	require.NoError(t, err)
	require.NotEqual(t, key, mixed)
}

func TestDealRejectsBadInput(t *testing.T) {
	key, err := NewContentKey()
	require.NoError(t, err)

	_, err = Deal(key, []int{1, 2}, 3)
	require.Error(t, err)
	_, err = Deal(key, []int{1, 1}, 2)
	require.Error(t, err)
	_, err = Deal(key, []int{0, 1}, 1)
	require.Error(t, err)
	_, err = Deal([]byte("too short"), []int{1, 2}, 2)
	require.Error(t, err)

	// 0xff..ff is above the group order.
	overflow := make([]byte, KeySize)
	for i := range overflow {
		overflow[i] = 0xff
	}
	_, err = Deal(overflow, []int{1, 2}, 2)
	require.Error(t, err)
	require.False(t, ValidShare(overflow))
	require.True(t, ValidShare(key))
}

func TestVerifyDeposit(t *testing.T) {
	holderWallet := newTestWallet(t)
	rid := ResourceID(types.ObjectID{1}, "episode-1")
	share := []byte{1, 2, 3}
	sig, err := holderWallet.SignMessage(DepositMessage("req-1", 2, rid, share))
	require.NoError(t, err)
	resp := &DepositShareResponse{RequestID: "req-1", Holder: 2, Signature: hex.EncodeToString(sig)}

	require.NoError(t, VerifyDeposit(resp, "req-1", 2, rid, share, holderWallet.Address()))
	require.Error(t, VerifyDeposit(resp, "req-1", 2, rid, []byte{9}, holderWallet.Address()))
	require.Error(t, VerifyDeposit(resp, "req-1", 2, rid, share, newTestWallet(t).Address()))
	require.Error(t, VerifyDeposit(resp, "req-2", 2, rid, share, holderWallet.Address()))
}
