package creator

import (
	"spacegate/core/types"
)

// Identity is the profile record a principal registers once.
type Identity struct {
	ID        types.ObjectID  `json:"id"`
	Owner     types.Principal `json:"owner"`
	Username  string          `json:"username"`
	Bio       string          `json:"bio"`
	AvatarRef types.BlobRef   `json:"avatarRef,omitempty"`
	ImageRef  types.BlobRef   `json:"imageRef"`
	CreatedAt types.Timestamp `json:"createdAt"`
	IsCreator bool            `json:"isCreator"`
}

// HasAvatar reports whether the identity carries a bound 3D avatar.
func (i *Identity) HasAvatar() bool {
	return i != nil && !i.AvatarRef.IsEmpty()
}

// Clone returns a copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// Space is the shared gallery record. Mutation requires a matching
// SpaceOwnership capability.
type Space struct {
	ID            types.ObjectID  `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	CoverRef      types.BlobRef   `json:"coverRef"`
	ConfigRef     types.BlobRef   `json:"configRef"`
	VideoRefs     []types.BlobRef `json:"videoRefs"`
	PricePerDay   uint64          `json:"pricePerDay"`
	Creator       types.Principal `json:"creator"`
	MarketplaceID types.ObjectID  `json:"marketplaceId"`
	CreatedAt     types.Timestamp `json:"createdAt"`
	UpdatedAt     types.Timestamp `json:"updatedAt"`
}

// Clone returns a deep copy of the space.
func (s *Space) Clone() *Space {
	if s == nil {
		return nil
	}
	clone := *s
	clone.VideoRefs = append([]types.BlobRef(nil), s.VideoRefs...)
	return &clone
}

// SpaceOwnership is the transferable capability controlling a space. The
// custodian is the principal currently holding it.
type SpaceOwnership struct {
	ID        types.ObjectID  `json:"id"`
	SpaceID   types.ObjectID  `json:"spaceId"`
	Custodian types.Principal `json:"custodian"`
}

// Marketplace is the empty container created alongside every space.
type Marketplace struct {
	ID      types.ObjectID  `json:"id"`
	SpaceID types.ObjectID  `json:"spaceId"`
	Owner   types.Principal `json:"owner"`
}

// MarketplaceCap grants access to a marketplace. It stays with the creator.
type MarketplaceCap struct {
	ID            types.ObjectID  `json:"id"`
	MarketplaceID types.ObjectID  `json:"marketplaceId"`
	Custodian     types.Principal `json:"custodian"`
}

// Subscription is a time-boxed access grant for one (space, subscriber)
// pair. Expiry is derived, never stored.
type Subscription struct {
	ID           types.ObjectID  `json:"id"`
	SpaceID      types.ObjectID  `json:"spaceId"`
	Subscriber   types.Principal `json:"subscriber"`
	SubscribedAt types.Timestamp `json:"subscribedAt"`
	ExpiresAt    types.Timestamp `json:"expiresAt"`
	DurationDays uint64          `json:"durationDays"`
}

// IsLifetime reports whether the grant never expires.
func (s *Subscription) IsLifetime() bool {
	return s != nil && s.ExpiresAt == types.MaxTimestamp
}

// IsExpired reports whether the paid window ended before now.
func (s *Subscription) IsExpired(now types.Timestamp) bool {
	return s.ExpiresAt < now
}

// FanAvatar records a fan's presence in a space gallery.
type FanAvatar struct {
	SpaceID   types.ObjectID  `json:"spaceId"`
	Owner     types.Principal `json:"owner"`
	AvatarRef types.BlobRef   `json:"avatarRef"`
}

// Totals are the registry-wide counters. ActiveSubscriptions is cumulative:
// it counts every grant ever made and is never decremented on expiry.
type Totals struct {
	Identities          uint64 `json:"identities"`
	Creators            uint64 `json:"creators"`
	Spaces              uint64 `json:"spaces"`
	Subscriptions       uint64 `json:"subscriptions"`
	ActiveSubscriptions uint64 `json:"activeSubscriptions"`
}

// Clone returns a copy of the totals.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return &Totals{}
	}
	clone := *t
	return &clone
}

// SpaceParams are the inputs to InitializeSpace.
type SpaceParams struct {
	Name        string
	Description string
	CoverRef    types.BlobRef
	ConfigRef   types.BlobRef
	PricePerDay uint64
}

// SpaceUpdate is an independent-optional patch to a space. Nil fields are
// left unchanged.
type SpaceUpdate struct {
	Name        *string
	Description *string
	CoverRef    *types.BlobRef
	ConfigRef   *types.BlobRef
	PricePerDay *uint64
}

// ContentRecord is an auditable announcement about published content.
type ContentRecord struct {
	BlobRef    types.BlobRef
	ResourceID []byte
	Title      string
	MediaType  string
}
