package access

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"spacegate/core/types"
	"spacegate/crypto"
)

// SessionAudience is the audience every key-holder accepts.
const SessionAudience = "spacegate-keyholder"

var (
	// ErrInvalidSession is returned for credentials that fail verification.
	ErrInvalidSession = errors.New("access: invalid session credential")
	// ErrSessionTooLong is returned when a credential outlives the holder's limit.
	ErrSessionTooLong = errors.New("access: session lifetime exceeds limit")
)

// signingMethodWallet signs the JWT signing input with a wallet's
// personal-message signature. The signing input is the opaque challenge:
// header and claims, including a random token id, so no two sessions share
// one.
type signingMethodWallet struct{}

// SigningMethodWallet is registered with jwt under its Alg name.
var SigningMethodWallet jwt.SigningMethod = signingMethodWallet{}

func init() {
	jwt.RegisterSigningMethod(SigningMethodWallet.Alg(), func() jwt.SigningMethod { return SigningMethodWallet })
}

func (signingMethodWallet) Alg() string { return "SPC-PERSONAL" }

// Sign expects a Wallet as key.
func (signingMethodWallet) Sign(signingString string, key interface{}) ([]byte, error) {
	wallet, ok := key.(Wallet)
	if !ok {
		return nil, fmt.Errorf("%w: signing key must be a Wallet", jwt.ErrInvalidKeyType)
	}
	return wallet.SignMessage([]byte(signingString))
}

// Verify expects the claimed principal as key.
func (signingMethodWallet) Verify(signingString string, sig []byte, key interface{}) error {
	want, ok := key.(types.Principal)
	if !ok {
		return fmt.Errorf("%w: verification key must be a Principal", jwt.ErrInvalidKeyType)
	}
	signer, err := crypto.RecoverMessageSigner([]byte(signingString), sig)
	if err != nil {
		return jwt.ErrSignatureInvalid
	}
	if types.PrincipalFromAddress(signer) != want {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// SessionClaims are the claims carried by a session credential. Subject is
// the requester's principal.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// MintSession returns a credential for wallet valid for ttl from now.
func MintSession(wallet Wallet, ttl time.Duration, now time.Time) (string, error) {
	if wallet == nil {
		return "", fmt.Errorf("access: wallet required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("access: session ttl must be positive")
	}
	claims := SessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   wallet.Address().String(),
		Audience:  jwt.ClaimStrings{SessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(SigningMethodWallet, claims).SignedString(wallet)
}

// VerifySession checks a credential at now and returns the requester.
// Credentials whose lifetime exceeds maxTTL are refused even when unexpired.
func VerifySession(token string, maxTTL time.Duration, now time.Time) (types.Principal, *SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*SessionClaims)
		if !ok {
			return nil, ErrInvalidSession
		}
		return types.ParsePrincipal(c.Subject)
	},
		jwt.WithValidMethods([]string{SigningMethodWallet.Alg()}),
		jwt.WithAudience(SessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return types.Principal{}, nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !parsed.Valid {
		return types.Principal{}, nil, ErrInvalidSession
	}
	if claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > maxTTL {
		return types.Principal{}, nil, ErrSessionTooLong
	}
	requester, err := types.ParsePrincipal(claims.Subject)
	if err != nil {
		return types.Principal{}, nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return requester, claims, nil
}
