package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"spacegate/core/types"
	"spacegate/native/creator"
)

const cursorName = "events"

// Indexer persists the node's event stream.
type Indexer struct {
	db      *gorm.DB
	logger  *slog.Logger
	now     func() time.Time
	backoff time.Duration
}

// Option customises the indexer instance.
type Option func(*Indexer)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Indexer) { i.logger = logger }
}

// WithReconnectBackoff sets the delay between stream reconnects.
func WithReconnectBackoff(d time.Duration) Option {
	return func(i *Indexer) { i.backoff = d }
}

func New(db *gorm.DB, opts ...Option) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: db is required")
	}
	i := &Indexer{db: db, logger: slog.Default(), now: time.Now, backoff: 2 * time.Second}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With("component", "indexer")
	return i, nil
}

// Apply stores evt. An event already stored at its height and position is
// skipped. Content announcements are also projected into the content table;
// a repeated resource id is ignored.
func (i *Indexer) Apply(ctx context.Context, evt types.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := EventRecord{
			Height:     evt.Height,
			Position:   evt.Index,
			Type:       evt.Type,
			SpaceID:    evt.Attributes["spaceId"],
			Attributes: string(attrs),
			ReceivedAt: i.now().UTC(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return fmt.Errorf("indexer: store event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if evt.Type == creator.EventTypeContentRecorded {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(contentFromEvent(evt)).Error; err != nil {
				return fmt.Errorf("indexer: store content: %w", err)
			}
		}
		return advanceCursor(tx, evt.Height)
	})
}

func advanceCursor(tx *gorm.DB, height uint64) error {
	var cursor Cursor
	err := tx.Where("name = ?", cursorName).First(&cursor).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&Cursor{Name: cursorName, Height: height}).Error
	case err != nil:
		return err
	case height > cursor.Height:
		return tx.Model(&cursor).Update("height", height).Error
	default:
		return nil
	}
}

func contentFromEvent(evt types.Event) *ContentRecord {
	a := evt.Attributes
	recordedAt, _ := strconv.ParseUint(a["recordedAt"], 10, 64)
	return &ContentRecord{
		ResourceID: a["resourceId"],
		SpaceID:    a["spaceId"],
		Publisher:  a["publisher"],
		BlobRef:    a["blobRef"],
		Title:      a["title"],
		MediaType:  a["mediaType"],
		RecordedAt: recordedAt,
		Height:     evt.Height,
	}
}

// Height returns the highest indexed block height.
func (i *Indexer) Height(ctx context.Context) (uint64, error) {
	var cursor Cursor
	err := i.db.WithContext(ctx).Where("name = ?", cursorName).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return cursor.Height, err
}

// Content lists the announcements of a space, oldest first.
func (i *Indexer) Content(ctx context.Context, spaceID types.ObjectID) ([]ContentRecord, error) {
	var out []ContentRecord
	err := i.db.WithContext(ctx).Where("space_id = ?", spaceID.String()).Order("height asc, id asc").Find(&out).Error
	return out, err
}

// Events lists stored events of a type at or above fromHeight.
func (i *Indexer) Events(ctx context.Context, eventType string, fromHeight uint64) ([]EventRecord, error) {
	q := i.db.WithContext(ctx).Where("height >= ?", fromHeight)
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	var out []EventRecord
	err := q.Order("height asc, id asc").Find(&out).Error
	return out, err
}

// StreamURL derives the event stream endpoint from a node RPC URL. Run adds
// the resume height.
func StreamURL(rpcURL, prefix string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rpcURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("indexer: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/events"
	q := u.Query()
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run consumes the stream at streamURL until ctx is cancelled, reconnecting
// after failures. Every connection replays from the indexed height, so events
// committed while disconnected are not lost.
func (i *Indexer) Run(ctx context.Context, streamURL string) error {
	for {
		err := i.resume(ctx, streamURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.logger.Warn("event stream interrupted", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.backoff):
		}
	}
}

func (i *Indexer) resume(ctx context.Context, streamURL string) error {
	from, err := i.Height(ctx)
	if err != nil {
		return err
	}
	resumeURL, err := withFrom(streamURL, from)
	if err != nil {
		return err
	}
	return i.consume(ctx, resumeURL, from)
}

func withFrom(streamURL string, from uint64) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("from", strconv.FormatUint(from, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (i *Indexer) consume(ctx context.Context, streamURL string, from uint64) error {
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "indexer stopping")
	i.logger.Info("event stream connected", "from", from)
	for {
		var evt types.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			return err
		}
		if err := i.Apply(ctx, evt); err != nil {
			return err
		}
	}
}
