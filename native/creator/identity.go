package creator

import (
	"fmt"
	"strings"

	"spacegate/core/types"
)

// RegisterIdentity creates the caller's profile. A principal registers at
// most once and must supply a 2D image.
func (e *Engine) RegisterIdentity(caller types.Principal, username, bio string, avatarRef, imageRef types.BlobRef, now types.Timestamp) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if imageRef.IsEmpty() {
		return nil, ErrMissingRequiredImage
	}
	if _, ok, err := e.state.IdentityIndexGet(caller); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyRegistered
	}
	id, err := e.state.NextObjectID()
	if err != nil {
		return nil, err
	}
	inserted, err := e.state.IdentityIndexInsert(caller, id)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, ErrAlreadyRegistered
	}
	identity := &Identity{
		ID:        id,
		Owner:     caller,
		Username:  strings.TrimSpace(username),
		Bio:       bio,
		AvatarRef: avatarRef,
		ImageRef:  imageRef,
		CreatedAt: now,
	}
	if err := e.state.IdentityPut(identity); err != nil {
		return nil, err
	}
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	totals.Identities++
	if err := e.state.CreatorTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(IdentityRegisteredEvent(identity))
	return identity, nil
}

// BindAvatar replaces the identity's 3D avatar.
func (e *Engine) BindAvatar(identityID types.ObjectID, avatarRef types.BlobRef, caller types.Principal) (*Identity, error) {
	identity, err := e.ownedIdentity(identityID, caller)
	if err != nil {
		return nil, err
	}
	identity.AvatarRef = avatarRef
	if err := e.state.IdentityPut(identity); err != nil {
		return nil, err
	}
	e.emit(IdentityUpdatedEvent(identity, "avatar"))
	return identity, nil
}

// UpdateBio replaces the identity's bio.
func (e *Engine) UpdateBio(identityID types.ObjectID, bio string, caller types.Principal) (*Identity, error) {
	identity, err := e.ownedIdentity(identityID, caller)
	if err != nil {
		return nil, err
	}
	identity.Bio = bio
	if err := e.state.IdentityPut(identity); err != nil {
		return nil, err
	}
	e.emit(IdentityUpdatedEvent(identity, "bio"))
	return identity, nil
}

// UpdateImage replaces the identity's 2D image. The image stays mandatory.
func (e *Engine) UpdateImage(identityID types.ObjectID, imageRef types.BlobRef, caller types.Principal) (*Identity, error) {
	if imageRef.IsEmpty() {
		return nil, ErrMissingRequiredImage
	}
	identity, err := e.ownedIdentity(identityID, caller)
	if err != nil {
		return nil, err
	}
	identity.ImageRef = imageRef
	if err := e.state.IdentityPut(identity); err != nil {
		return nil, err
	}
	e.emit(IdentityUpdatedEvent(identity, "image"))
	return identity, nil
}

// IdentityOf returns the identity registered by owner.
func (e *Engine) IdentityOf(owner types.Principal) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	id, ok, err := e.state.IdentityIndexGet(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no identity for %s", ErrNotFound, owner)
	}
	return e.identity(id)
}

func (e *Engine) identity(id types.ObjectID) (*Identity, error) {
	identity, ok, err := e.state.IdentityGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || identity == nil {
		return nil, fmt.Errorf("%w: identity %s", ErrNotFound, id)
	}
	return identity, nil
}

func (e *Engine) ownedIdentity(id types.ObjectID, caller types.Principal) (*Identity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	identity, err := e.identity(id)
	if err != nil {
		return nil, err
	}
	if identity.Owner != caller {
		return nil, ErrNotOwner
	}
	return identity, nil
}

// promoteToCreator bumps the creator counter every time it runs. When the
// principal has an identity it is also flagged as a creator.
func (e *Engine) promoteToCreator(principal types.Principal) error {
	totals, err := e.totals()
	if err != nil {
		return err
	}
	totals.Creators++
	if err := e.state.CreatorTotalsPut(totals); err != nil {
		return err
	}
	id, ok, err := e.state.IdentityIndexGet(principal)
	if err != nil {
		return err
	}
	if ok {
		identity, err := e.identity(id)
		if err != nil {
			return err
		}
		if !identity.IsCreator {
			identity.IsCreator = true
			if err := e.state.IdentityPut(identity); err != nil {
				return err
			}
		}
	}
	e.emit(CreatorPromotedEvent(principal, totals.Creators))
	return nil
}
