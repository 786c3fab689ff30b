package access

import (
	"bytes"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
)

// KeySize is the encoded length of content keys and shares.
const KeySize = 32

// suite is the group content keys live in: keys and shares are ed25519
// scalars encoded little-endian.
var suite = edwards25519.NewBlakeSHA256Ed25519()

// Share is one holder's contribution to a content key.
type Share struct {
	Holder int
	Value  []byte
}

// Combiner recovers a content key from a quorum of shares.
type Combiner interface {
	Combine(resourceID []byte, shares []Share, threshold int) ([]byte, error)
}

// ShamirCombiner interpolates Shamir shares at zero. A holder's index is its
// evaluation point, so any threshold shares of one dealing recover the same
// key.
type ShamirCombiner struct{}

func (ShamirCombiner) Combine(_ []byte, shares []Share, threshold int) ([]byte, error) {
	if threshold <= 0 || len(shares) < threshold {
		return nil, fmt.Errorf("access: %d shares for threshold %d", len(shares), threshold)
	}
	points := make([]*share.PriShare, 0, len(shares))
	seen := make(map[int]struct{}, len(shares))
	for _, s := range shares {
		if s.Holder <= 0 {
			return nil, fmt.Errorf("access: holder index %d must be positive", s.Holder)
		}
		if _, dup := seen[s.Holder]; dup {
			return nil, fmt.Errorf("access: duplicate share from holder %d", s.Holder)
		}
		seen[s.Holder] = struct{}{}
		v, err := decodeScalar(s.Value)
		if err != nil {
			return nil, fmt.Errorf("access: share from holder %d: %w", s.Holder, err)
		}
		points = append(points, &share.PriShare{I: s.Holder - 1, V: v})
	}
	secret, err := share.RecoverSecret(suite, points, threshold, len(points))
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	return secret.MarshalBinary()
}

// NewContentKey draws a fresh content key.
func NewContentKey() ([]byte, error) {
	return suite.Scalar().Pick(suite.RandomStream()).MarshalBinary()
}

// Deal splits key into one share per holder index so that any threshold of
// them recover it. Shares are handed to their holders and never pooled.
func Deal(key []byte, holders []int, threshold int) ([]Share, error) {
	if threshold <= 0 || threshold > len(holders) {
		return nil, fmt.Errorf("access: threshold %d outside 1..%d", threshold, len(holders))
	}
	secret, err := decodeScalar(key)
	if err != nil {
		return nil, fmt.Errorf("access: content key: %w", err)
	}
	poly := share.NewPriPoly(suite, threshold, secret, suite.RandomStream())
	out := make([]Share, 0, len(holders))
	seen := make(map[int]struct{}, len(holders))
	for _, index := range holders {
		if index <= 0 {
			return nil, fmt.Errorf("access: holder index %d must be positive", index)
		}
		if _, dup := seen[index]; dup {
			return nil, fmt.Errorf("access: duplicate holder index %d", index)
		}
		seen[index] = struct{}{}
		value, err := poly.Eval(index - 1).V.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out = append(out, Share{Holder: index, Value: value})
	}
	return out, nil
}

// ValidShare reports whether b decodes as a share value.
func ValidShare(b []byte) bool {
	_, err := decodeScalar(b)
	return err == nil
}

// decodeScalar accepts only canonical encodings.
func decodeScalar(b []byte) (kyber.Scalar, error) {
	if len(b) != KeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", KeySize, len(b))
	}
	v := suite.Scalar()
	if err := v.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	canonical, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(canonical, b) {
		return nil, fmt.Errorf("non-canonical scalar")
	}
	return v, nil
}
