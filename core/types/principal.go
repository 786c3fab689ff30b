package types

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"spacegate/crypto"
)

// Principal is the 20-byte account address that signs transactions and owns
// capabilities.
type Principal [20]byte

// String renders the principal using the bech32 account prefix.
func (p Principal) String() string {
	return crypto.NewAddress(crypto.PrincipalPrefix, p[:]).String()
}

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

// PrincipalFromAddress converts a crypto address into a principal.
func PrincipalFromAddress(addr crypto.Address) Principal {
	return Principal(addr.Array())
}

// ParsePrincipal decodes a bech32 or 0x-prefixed hex address.
func ParsePrincipal(raw string) (Principal, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Principal{}, fmt.Errorf("invalid hex address: %w", err)
		}
		if len(decoded) != 20 {
			return Principal{}, fmt.Errorf("address must be 20 bytes, got %d", len(decoded))
		}
		var p Principal
		copy(p[:], decoded)
		return p, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return Principal{}, err
	}
	if addr.Prefix() != crypto.PrincipalPrefix {
		return Principal{}, fmt.Errorf("unexpected address prefix %q", addr.Prefix())
	}
	return PrincipalFromAddress(addr), nil
}

// ObjectID identifies a record created on chain (identity, space, capability,
// subscription, marketplace).
type ObjectID [32]byte

// String renders the id as 0x-prefixed hex.
func (id ObjectID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether the id is unset.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// ParseObjectID decodes a 0x-prefixed hex object id.
func ParseObjectID(raw string) (ObjectID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid object id: %w", err)
	}
	if len(decoded) != 32 {
		return ObjectID{}, fmt.Errorf("object id must be 32 bytes, got %d", len(decoded))
	}
	var id ObjectID
	copy(id[:], decoded)
	return id, nil
}

// BlobRef is an opaque content-addressed pointer to off-chain data. The empty
// value means "no blob".
type BlobRef string

// IsEmpty reports whether the reference is blank.
func (b BlobRef) IsEmpty() bool {
	return strings.TrimSpace(string(b)) == ""
}

// Timestamp is a chain clock reading in Unix milliseconds.
type Timestamp uint64

const (
	// OneDay is one day expressed in Timestamp units.
	OneDay uint64 = 86_400_000
	// MaxTimestamp marks a grant that never expires.
	MaxTimestamp Timestamp = math.MaxUint64
)

// MarshalText renders the principal as bech32 in JSON documents.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts bech32 or 0x-prefixed hex.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := ParsePrincipal(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText renders the id as hex in JSON documents.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses a hex object id.
func (id *ObjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseObjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
