package rpc

import (
	"github.com/ethereum/go-ethereum/common"

	"spacegate/core"
	"spacegate/core/types"
)

// ChainInfoResult describes the network a node serves.
type ChainInfoResult struct {
	ChainID uint64 `json:"chainId"`
	InitFee uint64 `json:"initFee"`
}

// HeaderResult is the RPC view of a block header.
type HeaderResult struct {
	Height  uint64          `json:"height"`
	Hash    common.Hash     `json:"hash"`
	Parent  common.Hash     `json:"parent"`
	Root    common.Hash     `json:"root"`
	Time    types.Timestamp `json:"time"`
	TxHash  common.Hash     `json:"txHash"`
	Applied bool            `json:"applied"`
}

func headerResultFrom(h *types.Header) HeaderResult {
	return HeaderResult{
		Height:  h.Height,
		Hash:    h.Hash(),
		Parent:  h.Parent,
		Root:    h.Root,
		Time:    h.Time,
		TxHash:  h.TxHash,
		Applied: h.TxStatus == types.TxStatusApplied,
	}
}

// ReceiptResult reflects the block a submitted transaction landed in.
type ReceiptResult struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Height          uint64          `json:"height"`
	Root            common.Hash     `json:"root"`
	Time            types.Timestamp `json:"time"`
	Events          []types.Event   `json:"events"`
}

func receiptResultFrom(r *core.Receipt) ReceiptResult {
	evts := r.Events
	if evts == nil {
		evts = []types.Event{}
	}
	return ReceiptResult{
		TransactionHash: r.TxHash,
		Height:          r.Height,
		Root:            r.Root,
		Time:            r.Time,
		Events:          evts,
	}
}

// AccountResult is the balance and nonce of one principal.
type AccountResult struct {
	Address types.Principal `json:"address"`
	Nonce   uint64          `json:"nonce"`
	Balance uint64          `json:"balance"`
}
