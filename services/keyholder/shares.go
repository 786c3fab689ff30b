package keyholder

import (
	"errors"
	"time"
)

// ErrShareMissing is returned when no share was deposited for a resource.
var ErrShareMissing = errors.New("keyholder: no share deposited")

// ShareRecord is one deposited share. Depositor is the owner who passed the
// owner-path gate when handing it over.
type ShareRecord struct {
	ResourceID  []byte    `json:"resourceId"`
	Share       []byte    `json:"share"`
	Depositor   string    `json:"depositor"`
	Height      uint64    `json:"height"`
	DepositedAt time.Time `json:"depositedAt"`
}

// ShareKeeper holds this holder's own shares. It has no view of any other
// holder's share, so it can never rebuild a content key alone.
type ShareKeeper interface {
	Share(resourceID []byte) ([]byte, error)
	PutShare(rec ShareRecord) error
}
