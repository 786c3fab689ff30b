package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Database is the key-value store backing the chain. Plain keys hold chain
// metadata (headers, head pointer); trie nodes live behind TrieDB so every
// committed state root stays readable.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	// TrieDB exposes the node database shared by every state trie opened on
	// this store.
	TrieDB() *triedb.Database
	Close()
}

type kvStore struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func newKVStore(disk ethdb.Database) kvStore {
	return kvStore{disk: disk, trieDB: triedb.NewDatabase(disk, nil)}
}

func (s kvStore) Put(key []byte, value []byte) error {
	return s.disk.Put(key, value)
}

func (s kvStore) Get(key []byte) ([]byte, error) {
	ok, err := s.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.disk.Get(key)
}

func (s kvStore) Has(key []byte) (bool, error) {
	return s.disk.Has(key)
}

func (s kvStore) TrieDB() *triedb.Database {
	return s.trieDB
}

func (s kvStore) close() {
	_ = s.trieDB.Close()
	_ = s.disk.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	kvStore
}

func NewMemDB() *MemDB {
	return &MemDB{kvStore: newKVStore(rawdb.NewMemoryDatabase())}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	kvStore
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := ethleveldb.NewCustom(path, "spacegate/db/", func(options *opt.Options) {
		options.BlockCacheCapacity = 16 * opt.MiB
		options.WriteBuffer = 8 * opt.MiB
		options.OpenFilesCacheCapacity = 64
	})
	if err != nil {
		return nil, err
	}
	return &LevelDB{kvStore: newKVStore(rawdb.NewDatabase(kv))}, nil
}

// Close flushes and closes the database.
func (ldb *LevelDB) Close() {
	ldb.close()
}
