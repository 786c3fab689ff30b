package keyholder

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"spacegate/core"
	"spacegate/native/creator"
	"spacegate/rpc"
)

// Snapshot is a committed chain state together with the time of the block
// that produced it.
type Snapshot struct {
	Height uint64
	Root   common.Hash
	Time   time.Time
	State  creator.StateReader
}

// ChainView yields the most recent committed state.
type ChainView interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// LocalView reads from a chain running in the same process.
type LocalView struct {
	chain *core.Blockchain
}

func NewLocalView(chain *core.Blockchain) *LocalView {
	return &LocalView{chain: chain}
}

func (v *LocalView) Snapshot(context.Context) (*Snapshot, error) {
	snap, err := v.chain.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Height: snap.Header.Height,
		Root:   snap.Header.Root,
		Time:   time.UnixMilli(int64(snap.Header.Time)),
		State:  snap.State,
	}, nil
}

// RemoteView reads from a node over JSON-RPC. Every read of a snapshot is
// pinned to the head root observed when the snapshot was taken.
type RemoteView struct {
	client *rpc.Client
}

func NewRemoteView(client *rpc.Client) *RemoteView {
	return &RemoteView{client: client}
}

func (v *RemoteView) Snapshot(ctx context.Context) (*Snapshot, error) {
	head, err := v.client.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyholder: fetch head: %w", err)
	}
	return &Snapshot{
		Height: head.Height,
		Root:   head.Root,
		Time:   time.UnixMilli(int64(head.Time)),
		State:  v.client.StateAt(ctx, head.Root),
	}, nil
}
