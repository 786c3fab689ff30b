package types

// OptionalString is an rlp-friendly optional value; Set distinguishes "leave
// unchanged" from "set to empty".
type OptionalString struct {
	Set   bool
	Value string
}

// OptionalUint64 is the numeric counterpart of OptionalString.
type OptionalUint64 struct {
	Set   bool
	Value uint64
}

// SomeString returns a populated OptionalString.
func SomeString(v string) OptionalString { return OptionalString{Set: true, Value: v} }

// SomeUint64 returns a populated OptionalUint64.
func SomeUint64(v uint64) OptionalUint64 { return OptionalUint64{Set: true, Value: v} }

// Ptr returns nil when unset.
func (o OptionalString) Ptr() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

// Ptr returns nil when unset.
func (o OptionalUint64) Ptr() *uint64 {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

type TransferPayload struct {
	To Principal
}

type RegisterIdentityPayload struct {
	Username  string
	Bio       string
	AvatarRef BlobRef
	ImageRef  BlobRef
}

type BindAvatarPayload struct {
	IdentityID ObjectID
	AvatarRef  BlobRef
}

type UpdateBioPayload struct {
	IdentityID ObjectID
	Bio        string
}

type UpdateImagePayload struct {
	IdentityID ObjectID
	ImageRef   BlobRef
}

type InitializeSpacePayload struct {
	Name        string
	Description string
	CoverRef    BlobRef
	ConfigRef   BlobRef
	PricePerDay uint64
}

type UpdateSpaceConfigPayload struct {
	SpaceID     ObjectID
	OwnershipID ObjectID
	Name        OptionalString
	Description OptionalString
	CoverRef    OptionalString
	ConfigRef   OptionalString
	PricePerDay OptionalUint64
}

type AddVideoPayload struct {
	SpaceID     ObjectID
	OwnershipID ObjectID
	BlobRef     BlobRef
}

type RecordContentPayload struct {
	SpaceID     ObjectID
	OwnershipID ObjectID
	BlobRef     BlobRef
	ResourceID  []byte
	Title       string
	MediaType   string
}

type TransferOwnershipPayload struct {
	OwnershipID ObjectID
	To          Principal
}

type SubscribePayload struct {
	SpaceID      ObjectID
	IdentityID   ObjectID
	DurationDays uint64
}

type RenewSubscriptionPayload struct {
	SubscriptionID ObjectID
	SpaceID        ObjectID
	AdditionalDays uint64
}

// GateCall is the payload of both gate transaction types. CapabilityID names
// the SpaceOwnership (owner path) or the Subscription (subscriber path) the
// requester claims to hold.
type GateCall struct {
	ResourceID   []byte
	SpaceID      ObjectID
	CapabilityID ObjectID
}

// NewGateTransaction builds the unsigned transaction a client hands to
// key-holders.
func NewGateTransaction(txType TxType, call GateCall) (*Transaction, error) {
	return NewTransaction(0, txType, 0, 0, call)
}
