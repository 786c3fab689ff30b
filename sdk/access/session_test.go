package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spacegate/core/types"
	"spacegate/crypto"
)

func newTestWallet(t *testing.T) *KeyWallet {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return NewKeyWallet(key)
}

// impostor claims one principal while signing with another key.
type impostor struct {
	claimed types.Principal
	signer  *KeyWallet
}

func (w impostor) Address() types.Principal { return w.claimed }

func (w impostor) SignMessage(m []byte) ([]byte, error) { return w.signer.SignMessage(m) }

func TestSessionRoundTrip(t *testing.T) {
	wallet := newTestWallet(t)
	now := time.Unix(1_700_000_000, 0)

	token, err := MintSession(wallet, time.Minute, now)
	require.NoError(t, err)

	requester, claims, err := VerifySession(token, 5*time.Minute, now.Add(10*time.Second))
	require.NoError(t, err)
	require.Equal(t, wallet.Address(), requester)
	require.NotEmpty(t, claims.ID)
	require.Equal(t, []string{SessionAudience}, []string(claims.Audience))
}

func TestSessionsAreUnique(t *testing.T) {
	wallet := newTestWallet(t)
	now := time.Unix(1_700_000_000, 0)
	a, err := MintSession(wallet, time.Minute, now)
	require.NoError(t, err)
	b, err := MintSession(wallet, time.Minute, now)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestSessionExpired(t *testing.T) {
	wallet := newTestWallet(t)
	now := time.Unix(1_700_000_000, 0)
	token, err := MintSession(wallet, time.Minute, now)
	require.NoError(t, err)

	_, _, err = VerifySession(token, 5*time.Minute, now.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionTooLong(t *testing.T) {
	wallet := newTestWallet(t)
	now := time.Unix(1_700_000_000, 0)
	token, err := MintSession(wallet, time.Hour, now)
	require.NoError(t, err)

	_, _, err = VerifySession(token, 5*time.Minute, now)
	require.ErrorIs(t, err, ErrSessionTooLong)
}

func TestSessionWrongSigner(t *testing.T) {
	victim := newTestWallet(t)
	attacker := newTestWallet(t)
	now := time.Unix(1_700_000_000, 0)

	token, err := MintSession(impostor{claimed: victim.Address(), signer: attacker}, time.Minute, now)
	require.NoError(t, err)

	_, _, err = VerifySession(token, 5*time.Minute, now)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionRejectsGarbage(t *testing.T) {
	_, _, err := VerifySession("not.a.token", time.Minute, time.Now())
	require.ErrorIs(t, err, ErrInvalidSession)
}
