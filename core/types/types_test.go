package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spacegate/crypto"
)

func TestCoinSplitAndJoin(t *testing.T) {
	payment := NewCoin(700)
	charge, err := payment.Split(500)
	require.NoError(t, err)
	require.Equal(t, uint64(500), charge.Value())
	require.Equal(t, uint64(200), payment.Value())

	_, err = payment.Split(201)
	require.ErrorIs(t, err, ErrInsufficientCoin)
	require.Equal(t, uint64(200), payment.Value())

	require.NoError(t, payment.Join(charge))
	require.Equal(t, uint64(700), payment.Value())

	max := NewCoin(^uint64(0))
	require.ErrorIs(t, max.Join(NewCoin(1)), ErrCoinOverflow)
}

func TestPriceForDoesNotOverflow(t *testing.T) {
	total := PriceFor(^uint64(0), 2)
	require.False(t, total.IsUint64())
	require.False(t, NewCoin(^uint64(0)).Covers(total))
	require.True(t, NewCoin(500).Covers(PriceFor(100, 5)))
	require.False(t, NewCoin(499).Covers(PriceFor(100, 5)))
}

func TestAddDays(t *testing.T) {
	got, ok := AddDays(1_000, 5)
	require.True(t, ok)
	require.Equal(t, Timestamp(1_000+5*OneDay), got)

	same, ok := AddDays(MaxTimestamp, 0)
	require.True(t, ok)
	require.Equal(t, MaxTimestamp, same)

	_, ok = AddDays(MaxTimestamp, 1)
	require.False(t, ok)
}

func TestTransactionSignAndRecover(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	tx, err := NewTransaction(7, TxTypeSubscribe, 3, 500, SubscribePayload{DurationDays: 5})
	require.NoError(t, err)
	_, err = tx.From()
	require.ErrorIs(t, err, ErrUnsigned)

	require.NoError(t, tx.Sign(key.PrivateKey))
	from, err := tx.From()
	require.NoError(t, err)
	require.Equal(t, PrincipalFromAddress(key.PubKey().Address()), from)

	encoded, err := tx.MarshalBinary()
	require.NoError(t, err)
	var decoded Transaction
	require.NoError(t, decoded.UnmarshalBinary(encoded))
	decodedFrom, err := decoded.From()
	require.NoError(t, err)
	require.Equal(t, from, decodedFrom)

	var payload SubscribePayload
	require.NoError(t, decoded.DecodePayload(&payload))
	require.Equal(t, uint64(5), payload.DurationDays)
}

func TestTamperedTransactionChangesSender(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	tx, err := NewTransaction(1, TxTypeTransfer, 0, 10, TransferPayload{})
	require.NoError(t, err)
	require.NoError(t, tx.Sign(key.PrivateKey))
	honest, err := tx.From()
	require.NoError(t, err)

	encoded, err := tx.MarshalBinary()
	require.NoError(t, err)
	var tampered Transaction
	require.NoError(t, tampered.UnmarshalBinary(encoded))
	tampered.Value = 10_000
	forged, err := tampered.From()
	if err == nil {
		require.NotEqual(t, honest, forged)
	}
}

func TestKindBytesCarryNoSignature(t *testing.T) {
	call := GateCall{ResourceID: []byte{1, 2, 3}, SpaceID: ObjectID{9}, CapabilityID: ObjectID{8}}
	tx, err := NewGateTransaction(TxTypeGateSubscriber, call)
	require.NoError(t, err)
	require.True(t, tx.Type.SimulationOnly())

	kind, err := tx.KindBytes()
	require.NoError(t, err)
	decoded, err := DecodeKind(kind)
	require.NoError(t, err)
	require.Equal(t, TxTypeGateSubscriber, decoded.Type)
	require.False(t, decoded.Signed())

	var got GateCall
	require.NoError(t, decoded.DecodePayload(&got))
	require.Equal(t, call, got)
}

func TestParsePrincipal(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	p := PrincipalFromAddress(key.PubKey().Address())

	parsed, err := ParsePrincipal(p.String())
	require.NoError(t, err)
	require.Equal(t, p, parsed)

	_, err = ParsePrincipal("0x1234")
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{Height: 4, Time: 99, TxStatus: TxStatusApplied}
	enc, err := EncodeHeader(h)
	require.NoError(t, err)
	dec, err := DecodeHeader(enc)
	require.NoError(t, err)
	require.Equal(t, h.Hash(), dec.Hash())
}
