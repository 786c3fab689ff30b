package core

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"spacegate/core/genesis"
	chainstate "spacegate/core/state"
	"spacegate/core/types"
	"spacegate/native/creator"
	"spacegate/observability"
	"spacegate/storage"
	"spacegate/storage/trie"
)

var (
	headKey      = []byte("chain/head")
	headerPrefix = []byte("chain/header/")
	heightPrefix = []byte("chain/height/")
	eventsPrefix = []byte("chain/events/")
)

// ErrUnknownBlock is returned when a height or root was never committed.
var ErrUnknownBlock = errors.New("chain: unknown block")

// EventSink receives committed events in block order.
type EventSink interface {
	Publish(evt types.Event)
}

// ChainOptions configures a Blockchain.
type ChainOptions struct {
	Logger *slog.Logger
	Sink   EventSink
	// Clock returns the wall clock used for block timestamps.
	Clock func() time.Time
}

// Receipt describes the block a transaction was committed in.
type Receipt struct {
	TxHash common.Hash     `json:"txHash"`
	Height uint64          `json:"height"`
	Root   common.Hash     `json:"root"`
	Time   types.Timestamp `json:"time"`
	Events []types.Event   `json:"events"`
}

// Blockchain orders transactions through a single writer. Every accepted
// transaction is sealed into its own block; a failed transaction is rolled
// back and leaves no block behind.
type Blockchain struct {
	mu        sync.Mutex
	db        storage.Database
	processor *StateProcessor
	head      *types.Header
	chainID   uint64
	sink      EventSink
	logger    *slog.Logger
	clock     func() time.Time
	metrics   *observability.ChainMetrics
}

// NewBlockchain opens the chain stored in db, writing block zero from spec
// when the database is empty.
func NewBlockchain(db storage.Database, spec *genesis.GenesisSpec, opts ChainOptions) (*Blockchain, error) {
	if db == nil {
		return nil, fmt.Errorf("chain: database required")
	}
	if spec == nil {
		return nil, fmt.Errorf("chain: genesis spec required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	bc := &Blockchain{
		db:      db,
		chainID: spec.ChainID,
		sink:    opts.Sink,
		logger:  logger.With("component", "chain"),
		clock:   clock,
		metrics: observability.Chain(),
	}

	head, err := bc.loadHead()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		head, err = genesis.BuildGenesis(spec, db)
		if err != nil {
			return nil, err
		}
		if err := bc.writeHeader(head); err != nil {
			return nil, err
		}
		bc.logger.Info("wrote genesis block", "root", head.Root.Hex(), "chain_id", spec.ChainID)
	case err != nil:
		return nil, err
	default:
		bc.logger.Info("resumed chain", "height", head.Height, "root", head.Root.Hex())
	}

	tr, err := trie.NewTrie(db, head.Root)
	if err != nil {
		return nil, fmt.Errorf("chain: open state at %s: %w", head.Root.Hex(), err)
	}
	bc.processor = NewStateProcessor(tr, spec.ChainID)
	bc.processor.Creator.SetTreasury(spec.TreasuryAddress())
	if spec.InitFee != nil {
		bc.processor.Creator.SetInitFee(*spec.InitFee)
	}
	bc.head = head
	return bc, nil
}

// ChainID returns the chain identifier transactions must be signed for.
func (bc *Blockchain) ChainID() uint64 { return bc.chainID }

// InitFee returns the fee charged by InitializeSpace.
func (bc *Blockchain) InitFee() uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.processor.Creator.InitFee()
}

// Head returns a copy of the latest header.
func (bc *Blockchain) Head() types.Header {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return *bc.head
}

// SubmitTransaction executes tx and seals it into a new block. Either the
// whole transaction commits or the state is exactly as before.
func (bc *Blockchain) SubmitTransaction(tx *types.Transaction) (*Receipt, error) {
	start := time.Now()
	bc.mu.Lock()
	receipt, err := bc.applyLocked(tx)
	bc.mu.Unlock()

	txType := "unknown"
	if tx != nil {
		txType = tx.Type.String()
	}
	bc.metrics.RecordTransaction(txType, err, time.Since(start))
	if err != nil {
		bc.logger.Warn("transaction rejected", "type", txType, "error", err)
		return nil, err
	}
	bc.logger.Debug("transaction committed", "type", txType, "height", receipt.Height, "events", len(receipt.Events))
	bc.publish(receipt.Events)
	return receipt, nil
}

func (bc *Blockchain) applyLocked(tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("chain: nil transaction")
	}
	txHash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	now := bc.nextTime()
	if err := bc.processor.ApplyTransaction(tx, now); err != nil {
		if resetErr := bc.processor.ResetToRoot(bc.head.Root); resetErr != nil {
			return nil, errors.Join(err, fmt.Errorf("chain: rollback: %w", resetErr))
		}
		return nil, err
	}
	evts := bc.processor.DrainEvents()
	for i := range evts {
		evts[i].Height = bc.head.Height + 1
		evts[i].Index = i
	}
	header, err := bc.sealLocked(now, txHash, types.TxStatusApplied, evts)
	if err != nil {
		return nil, err
	}
	return &Receipt{TxHash: txHash, Height: header.Height, Root: header.Root, Time: header.Time, Events: evts}, nil
}

// SealEmptyBlock commits a heartbeat block that only advances the clock.
func (bc *Blockchain) SealEmptyBlock() (types.Header, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	header, err := bc.sealLocked(bc.nextTime(), common.Hash{}, types.TxStatusNone, nil)
	if err != nil {
		return types.Header{}, err
	}
	return *header, nil
}

// sealLocked commits the pending trie, stores the block's events and appends
// a header. On failure the trie is reset to the previous head.
func (bc *Blockchain) sealLocked(now types.Timestamp, txHash common.Hash, status uint64, evts []types.Event) (*types.Header, error) {
	height := bc.head.Height + 1
	root, err := bc.processor.Commit(height)
	if err != nil {
		_ = bc.processor.ResetToRoot(bc.head.Root)
		return nil, fmt.Errorf("chain: commit state: %w", err)
	}
	header := &types.Header{
		Height:   height,
		Parent:   bc.head.Hash(),
		Root:     root,
		Time:     now,
		TxHash:   txHash,
		TxStatus: status,
	}
	if len(evts) > 0 {
		if err := bc.writeEvents(height, evts); err != nil {
			_ = bc.processor.ResetToRoot(bc.head.Root)
			return nil, fmt.Errorf("chain: store events: %w", err)
		}
	}
	if err := bc.writeHeader(header); err != nil {
		_ = bc.processor.ResetToRoot(bc.head.Root)
		return nil, err
	}
	bc.head = header
	bc.metrics.RecordBlock(height, status == types.TxStatusNone)
	return header, nil
}

// nextTime never lets block time run backwards.
func (bc *Blockchain) nextTime() types.Timestamp {
	now := types.Timestamp(bc.clock().UnixMilli())
	if now < bc.head.Time {
		return bc.head.Time
	}
	return now
}

// Run seals a heartbeat block every interval until ctx is cancelled.
func (bc *Blockchain) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := bc.SealEmptyBlock(); err != nil {
				bc.logger.Error("heartbeat failed", "error", err)
			}
		}
	}
}

// HeaderByHeight returns the header committed at height.
func (bc *Blockchain) HeaderByHeight(height uint64) (*types.Header, error) {
	hash, err := bc.db.Get(heightKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrUnknownBlock, height)
	}
	if err != nil {
		return nil, err
	}
	return bc.headerByHash(common.BytesToHash(hash))
}

// StateAt opens a read-only view of the state committed under root. The
// zero root selects the current head.
func (bc *Blockchain) StateAt(root common.Hash) (*chainstate.Manager, error) {
	if root == (common.Hash{}) {
		root = bc.Head().Root
	}
	tr, err := trie.NewTrie(bc.db, root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %s: %v", ErrUnknownBlock, root.Hex(), err)
	}
	return chainstate.NewManager(tr), nil
}

// Snapshot pairs a state view with the header it was committed in.
type Snapshot struct {
	Header types.Header
	State  creator.StateReader
}

// Snapshot returns the head header together with a view of its state.
func (bc *Blockchain) Snapshot() (*Snapshot, error) {
	head := bc.Head()
	view, err := bc.StateAt(head.Root)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Header: head, State: view}, nil
}

// Account returns the account of addr at the head.
func (bc *Blockchain) Account(addr types.Principal) (*chainstate.Account, error) {
	view, err := bc.StateAt(common.Hash{})
	if err != nil {
		return nil, err
	}
	return view.GetAccount(addr)
}

// EventsFrom returns the events committed at heights from through the head,
// in block order, and the head height the read stopped at.
func (bc *Blockchain) EventsFrom(from uint64) ([]types.Event, uint64, error) {
	through := bc.Head().Height
	var out []types.Event
	for height := from; height <= through; height++ {
		raw, err := bc.db.Get(eventsKey(height))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		var evts []types.Event
		if err := json.Unmarshal(raw, &evts); err != nil {
			return nil, 0, fmt.Errorf("chain: events at %d: %w", height, err)
		}
		out = append(out, evts...)
	}
	return out, through, nil
}

func (bc *Blockchain) writeEvents(height uint64, evts []types.Event) error {
	encoded, err := json.Marshal(evts)
	if err != nil {
		return err
	}
	return bc.db.Put(eventsKey(height), encoded)
}

func (bc *Blockchain) publish(evts []types.Event) {
	for _, evt := range evts {
		observability.Events().RecordEmitted(evt.Type)
		if bc.sink != nil {
			bc.sink.Publish(evt)
		}
	}
}

func (bc *Blockchain) loadHead() (*types.Header, error) {
	hash, err := bc.db.Get(headKey)
	if err != nil {
		return nil, err
	}
	return bc.headerByHash(common.BytesToHash(hash))
}

func (bc *Blockchain) headerByHash(hash common.Hash) (*types.Header, error) {
	raw, err := bc.db.Get(append(append([]byte{}, headerPrefix...), hash.Bytes()...))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: header %s", ErrUnknownBlock, hash.Hex())
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeHeader(raw)
}

func (bc *Blockchain) writeHeader(h *types.Header) error {
	encoded, err := types.EncodeHeader(h)
	if err != nil {
		return err
	}
	hash := h.Hash()
	if err := bc.db.Put(append(append([]byte{}, headerPrefix...), hash.Bytes()...), encoded); err != nil {
		return err
	}
	if err := bc.db.Put(heightKey(h.Height), hash.Bytes()); err != nil {
		return err
	}
	return bc.db.Put(headKey, hash.Bytes())
}

func heightKey(height uint64) []byte {
	return prefixedHeight(heightPrefix, height)
}

func eventsKey(height uint64) []byte {
	return prefixedHeight(eventsPrefix, height)
}

func prefixedHeight(prefix []byte, height uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], height)
	return key
}
