package genesis

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"spacegate/core/state"
	"spacegate/core/types"
	"spacegate/storage"
	"spacegate/storage/trie"
)

// BuildGenesis writes the allocations into a fresh state trie, commits it and
// returns the header of block zero.
func BuildGenesis(spec *GenesisSpec, db storage.Database) (*types.Header, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if spec.alloc == nil {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	stateTrie, err := trie.NewTrie(db, common.Hash{})
	if err != nil {
		return nil, fmt.Errorf("init state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)

	// Sorted so the genesis root does not depend on map order.
	addrs := make([]types.Principal, 0, len(spec.alloc))
	for addr := range spec.alloc {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	for _, addr := range addrs {
		if err := manager.PutAccount(addr, &state.Account{Balance: spec.alloc[addr]}); err != nil {
			return nil, fmt.Errorf("alloc %s: %w", addr, err)
		}
	}

	root, err := stateTrie.Commit(common.Hash{}, 0)
	if err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}
	return &types.Header{
		Height: 0,
		Root:   root,
		Time:   types.Timestamp(spec.genesisTimestamp.UnixMilli()),
	}, nil
}
