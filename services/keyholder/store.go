package keyholder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDecisions = []byte("decisions")
	bucketShares    = []byte("shares")

	// ErrNotFound is returned when no decision matches.
	ErrNotFound = errors.New("decision not found")
)

// Decision is the audit record of one evaluation. Reason is local only and
// never returned to the requester.
type Decision struct {
	RequestID    string    `json:"requestId"`
	Action       string    `json:"action"`
	Requester    string    `json:"requester,omitempty"`
	Path         string    `json:"path,omitempty"`
	SpaceID      string    `json:"spaceId,omitempty"`
	CapabilityID string    `json:"capabilityId,omitempty"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Granted      bool      `json:"granted"`
	Reason       string    `json:"reason,omitempty"`
	Height       uint64    `json:"height,omitempty"`
	Root         string    `json:"root,omitempty"`
	DecidedAt    time.Time `json:"decidedAt"`
}

// Store is an append-only BoltDB log of gate decisions. It also keeps the
// shares deposited with this holder, keyed by resource id.
type Store struct {
	db *bolt.DB
}

// NewStore opens (and migrates) the audit database at path.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDecisions, bucketShares} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends d to the log.
func (s *Store) Record(d Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDecisions)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], seq)
		return bucket.Put(key[:], payload)
	})
}

// Lookup returns the latest decision recorded for requestID.
func (s *Store) Lookup(requestID string) (*Decision, error) {
	var found *Decision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDecisions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var d Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.RequestID == requestID {
				found = &d
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Recent returns up to limit decisions, newest first.
func (s *Store) Recent(limit int) ([]Decision, error) {
	var out []Decision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDecisions).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var d Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// PutShare stores rec under its resource id, replacing an earlier deposit.
func (s *Store) PutShare(rec ShareRecord) error {
	if len(rec.ResourceID) == 0 || len(rec.Share) == 0 {
		return errors.New("keyholder: empty share record")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).Put(rec.ResourceID, payload)
	})
}

// ShareRecord returns the deposit for resourceID.
func (s *Store) ShareRecord(resourceID []byte) (*ShareRecord, error) {
	var rec *ShareRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketShares).Get(resourceID)
		if v == nil {
			return nil
		}
		rec = new(ShareRecord)
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrShareMissing
	}
	return rec, nil
}

// Share returns this holder's share for resourceID.
func (s *Store) Share(resourceID []byte) ([]byte, error) {
	rec, err := s.ShareRecord(resourceID)
	if err != nil {
		return nil, err
	}
	return rec.Share, nil
}
