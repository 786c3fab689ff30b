package creator

import (
	"encoding/hex"
	"strconv"

	"spacegate/core/types"
)

const (
	// EventTypeIdentityRegistered is emitted when a principal registers a profile.
	EventTypeIdentityRegistered = "creator.identity.registered"
	// EventTypeIdentityUpdated is emitted when an owner edits bio, image or avatar.
	EventTypeIdentityUpdated = "creator.identity.updated"
	// EventTypeCreatorPromoted is emitted every time a space is initialized.
	EventTypeCreatorPromoted = "creator.identity.promoted"
	// EventTypeSpaceInitialized is emitted when a new space is published.
	EventTypeSpaceInitialized = "creator.space.initialized"
	// EventTypeSpaceUpdated is emitted after a configuration change.
	EventTypeSpaceUpdated = "creator.space.updated"
	// EventTypeVideoAdded is emitted when a video is appended to a space.
	EventTypeVideoAdded = "creator.space.video_added"
	// EventTypeContentRecorded announces content for off-chain indexers.
	EventTypeContentRecorded = "creator.content.recorded"
	// EventTypeOwnershipTransferred is emitted when a capability changes hands.
	EventTypeOwnershipTransferred = "creator.ownership.transferred"
	// EventTypeSubscriptionCreated is emitted for paid and creator grants alike.
	EventTypeSubscriptionCreated = "creator.subscription.created"
	// EventTypeSubscriptionRenewed is emitted after a renewal.
	EventTypeSubscriptionRenewed = "creator.subscription.renewed"
	// EventTypeFanPresence is emitted when a fan avatar is placed in a gallery.
	EventTypeFanPresence = "creator.fan.presence"
)

func ts(t types.Timestamp) string { return strconv.FormatUint(uint64(t), 10) }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// IdentityRegisteredEvent returns the payload for a new identity.
func IdentityRegisteredEvent(identity *Identity) *types.Event {
	return &types.Event{
		Type: EventTypeIdentityRegistered,
		Attributes: map[string]string{
			"identityId": identity.ID.String(),
			"owner":      identity.Owner.String(),
			"username":   identity.Username,
			"createdAt":  ts(identity.CreatedAt),
		},
	}
}

// IdentityUpdatedEvent names the field an owner changed.
func IdentityUpdatedEvent(identity *Identity, field string) *types.Event {
	return &types.Event{
		Type: EventTypeIdentityUpdated,
		Attributes: map[string]string{
			"identityId": identity.ID.String(),
			"owner":      identity.Owner.String(),
			"field":      field,
		},
	}
}

// CreatorPromotedEvent reports the creator counter after a promotion.
func CreatorPromotedEvent(principal types.Principal, totalCreators uint64) *types.Event {
	return &types.Event{
		Type: EventTypeCreatorPromoted,
		Attributes: map[string]string{
			"principal":     principal.String(),
			"totalCreators": u64(totalCreators),
		},
	}
}

// SpaceInitializedEvent returns the payload for a published space.
func SpaceInitializedEvent(space *Space, ownership *SpaceOwnership) *types.Event {
	return &types.Event{
		Type: EventTypeSpaceInitialized,
		Attributes: map[string]string{
			"spaceId":       space.ID.String(),
			"ownershipId":   ownership.ID.String(),
			"creator":       space.Creator.String(),
			"name":          space.Name,
			"pricePerDay":   u64(space.PricePerDay),
			"marketplaceId": space.MarketplaceID.String(),
		},
	}
}

// SpaceUpdatedEvent returns the payload for a configuration change.
func SpaceUpdatedEvent(space *Space) *types.Event {
	return &types.Event{
		Type: EventTypeSpaceUpdated,
		Attributes: map[string]string{
			"spaceId":     space.ID.String(),
			"name":        space.Name,
			"pricePerDay": u64(space.PricePerDay),
			"updatedAt":   ts(space.UpdatedAt),
		},
	}
}

// VideoAddedEvent returns the payload for a video append.
func VideoAddedEvent(space *Space, ref types.BlobRef) *types.Event {
	return &types.Event{
		Type: EventTypeVideoAdded,
		Attributes: map[string]string{
			"spaceId": space.ID.String(),
			"blobRef": string(ref),
			"count":   strconv.Itoa(len(space.VideoRefs)),
		},
	}
}

// ContentRecordedEvent returns the announcement consumed by indexers.
func ContentRecordedEvent(space *Space, caller types.Principal, record ContentRecord, now types.Timestamp) *types.Event {
	return &types.Event{
		Type: EventTypeContentRecorded,
		Attributes: map[string]string{
			"spaceId":    space.ID.String(),
			"publisher":  caller.String(),
			"blobRef":    string(record.BlobRef),
			"resourceId": "0x" + hex.EncodeToString(record.ResourceID),
			"title":      record.Title,
			"mediaType":  record.MediaType,
			"recordedAt": ts(now),
		},
	}
}

// OwnershipTransferredEvent returns the payload for a capability transfer.
func OwnershipTransferredEvent(ownership *SpaceOwnership, from types.Principal) *types.Event {
	return &types.Event{
		Type: EventTypeOwnershipTransferred,
		Attributes: map[string]string{
			"ownershipId": ownership.ID.String(),
			"spaceId":     ownership.SpaceID.String(),
			"from":        from.String(),
			"to":          ownership.Custodian.String(),
		},
	}
}

// SubscriptionCreatedEvent returns the payload for a new grant.
func SubscriptionCreatedEvent(sub *Subscription, charge uint64) *types.Event {
	return &types.Event{
		Type: EventTypeSubscriptionCreated,
		Attributes: map[string]string{
			"subscriptionId": sub.ID.String(),
			"spaceId":        sub.SpaceID.String(),
			"subscriber":     sub.Subscriber.String(),
			"subscribedAt":   ts(sub.SubscribedAt),
			"expiresAt":      ts(sub.ExpiresAt),
			"durationDays":   u64(sub.DurationDays),
			"charge":         u64(charge),
		},
	}
}

// SubscriptionRenewedEvent returns the payload for a renewal.
func SubscriptionRenewedEvent(sub *Subscription, charge uint64, restarted bool) *types.Event {
	return &types.Event{
		Type: EventTypeSubscriptionRenewed,
		Attributes: map[string]string{
			"subscriptionId": sub.ID.String(),
			"spaceId":        sub.SpaceID.String(),
			"subscriber":     sub.Subscriber.String(),
			"expiresAt":      ts(sub.ExpiresAt),
			"charge":         u64(charge),
			"restarted":      strconv.FormatBool(restarted),
		},
	}
}

// FanPresenceEvent returns the payload for a gallery placement.
func FanPresenceEvent(fan *FanAvatar) *types.Event {
	return &types.Event{
		Type: EventTypeFanPresence,
		Attributes: map[string]string{
			"spaceId":   fan.SpaceID.String(),
			"fan":       fan.Owner.String(),
			"avatarRef": string(fan.AvatarRef),
		},
	}
}
