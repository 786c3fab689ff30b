package state

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"spacegate/core/types"
	"spacegate/storage/trie"
)

// Manager reads and writes rlp-encoded records in a state trie. Every key is
// hashed with keccak256 before it reaches the trie.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// Trie exposes the underlying trie.
func (m *Manager) Trie() *trie.Trie { return m.trie }

// Root returns the hash of the current, possibly uncommitted, state.
func (m *Manager) Root() common.Hash { return m.trie.Hash() }

var objectSeqKey = []byte("object/seq")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixed(prefix string, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVListAppend appends value to the indexed list rooted at key and returns
// its position. The length lives at key and item n at key/n, so an append
// writes two entries however long the list has grown.
func (m *Manager) KVListAppend(key []byte, value []byte) (uint64, error) {
	n, err := m.KVListLen(key)
	if err != nil {
		return 0, err
	}
	if err := m.KVPut(listItemKey(key, n), value); err != nil {
		return 0, err
	}
	if err := m.KVPut(key, n+1); err != nil {
		return 0, err
	}
	return n, nil
}

// KVListLen returns the length of the indexed list rooted at key.
func (m *Manager) KVListLen(key []byte) (uint64, error) {
	var n uint64
	if _, err := m.KVGet(key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// KVListItems returns the items of the indexed list rooted at key in append
// order. A missing list yields an empty slice.
func (m *Manager) KVListItems(key []byte) ([][]byte, error) {
	n, err := m.KVListLen(key)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, n)
	for i := uint64(0); i < n; i++ {
		var item []byte
		ok, err := m.KVGet(listItemKey(key, i), &item)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("kv: list %q is missing item %d", key, i)
		}
		out = append(out, item)
	}
	return out, nil
}

func listItemKey(key []byte, n uint64) []byte {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], n)
	return prefixed(string(key), []byte("/"), idx[:])
}

// NextObjectID allocates a fresh, deterministic object id.
func (m *Manager) NextObjectID() (types.ObjectID, error) {
	var seq uint64
	if _, err := m.KVGet(objectSeqKey, &seq); err != nil {
		return types.ObjectID{}, err
	}
	seq++
	if err := m.KVPut(objectSeqKey, seq); err != nil {
		return types.ObjectID{}, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return types.ObjectID(ethcrypto.Keccak256Hash([]byte("spacegate/object-id"), buf[:])), nil
}
