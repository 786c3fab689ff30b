package access

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"lukechampine.com/blake3"

	"spacegate/core/types"
	"spacegate/crypto"
	"spacegate/native/creator"
)

// Key-holder endpoints.
const (
	FetchKeyPath     = "/v1/fetch_key"
	DepositSharePath = "/v1/deposit_share"
)

// FetchKeyRequest is the body a client posts to every key-holder. The
// session credential travels in the Authorization header.
type FetchKeyRequest struct {
	RequestID string `json:"requestId"`
	// Transaction is the hex encoding of the gate transaction's logical
	// contents (types.Transaction.KindBytes).
	Transaction string `json:"transaction"`
}

// FetchKeyResponse carries one holder's share.
type FetchKeyResponse struct {
	RequestID string `json:"requestId"`
	Holder    int    `json:"holder"`
	Share     string `json:"share"`
	Signature string `json:"signature"`
}

// DepositShareRequest hands one holder its share of a content key. The
// transaction is an owner-path gate call for the resource; the holder stores
// the share only if the session's principal passes it.
type DepositShareRequest struct {
	RequestID   string `json:"requestId"`
	Transaction string `json:"transaction"`
	Share       string `json:"share"`
}

// DepositShareResponse is a holder's signed acknowledgement of a deposit.
type DepositShareResponse struct {
	RequestID string `json:"requestId"`
	Holder    int    `json:"holder"`
	Signature string `json:"signature"`
}

// Denial is the only body a holder returns on refusal.
type Denial struct {
	Error string `json:"error"`
}

// DeniedMessage is the fixed refusal text. It never carries a reason.
const DeniedMessage = "access denied"

// ShareMessage is the byte string a holder signs when releasing a share.
func ShareMessage(requestID string, holder int, resourceID, share []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("spacegate/share/v1")
	buf.WriteString(requestID)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(holder))
	buf.Write(idx[:])
	buf.Write(blake3Sum(resourceID))
	buf.Write(share)
	return buf.Bytes()
}

// DepositMessage is the byte string a holder signs after storing a share. It
// commits to a digest of the share, not the share itself.
func DepositMessage(requestID string, holder int, resourceID, share []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("spacegate/deposit/v1")
	buf.WriteString(requestID)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(holder))
	buf.Write(idx[:])
	buf.Write(blake3Sum(resourceID))
	buf.Write(blake3Sum(share))
	return buf.Bytes()
}

func blake3Sum(b []byte) []byte {
	sum := blake3.Sum256(b)
	return sum[:]
}

// VerifyShare checks resp against the holder's expected principal and
// returns the decoded share.
func VerifyShare(resp *FetchKeyResponse, requestID string, holder int, resourceID []byte, expected types.Principal) ([]byte, error) {
	if resp.RequestID != requestID {
		return nil, fmt.Errorf("access: holder %d answered request %q", holder, resp.RequestID)
	}
	if resp.Holder != holder {
		return nil, fmt.Errorf("access: holder %d answered as %d", holder, resp.Holder)
	}
	share, err := hex.DecodeString(strings.TrimPrefix(resp.Share, "0x"))
	if err != nil || len(share) == 0 {
		return nil, fmt.Errorf("access: holder %d sent a malformed share", holder)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("access: holder %d sent a malformed signature", holder)
	}
	signer, err := crypto.RecoverMessageSigner(ShareMessage(requestID, holder, resourceID, share), sig)
	if err != nil {
		return nil, fmt.Errorf("access: holder %d signature: %w", holder, err)
	}
	if types.PrincipalFromAddress(signer) != expected {
		return nil, fmt.Errorf("access: holder %d share signed by %s", holder, types.PrincipalFromAddress(signer))
	}
	return share, nil
}

// VerifyDeposit checks a holder's acknowledgement of share.
func VerifyDeposit(resp *DepositShareResponse, requestID string, holder int, resourceID, share []byte, expected types.Principal) error {
	if resp.RequestID != requestID || resp.Holder != holder {
		return fmt.Errorf("access: holder %d acknowledged %q as %d", holder, resp.RequestID, resp.Holder)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("access: holder %d sent a malformed signature", holder)
	}
	signer, err := crypto.RecoverMessageSigner(DepositMessage(requestID, holder, resourceID, share), sig)
	if err != nil {
		return fmt.Errorf("access: holder %d signature: %w", holder, err)
	}
	if types.PrincipalFromAddress(signer) != expected {
		return fmt.Errorf("access: holder %d deposit signed by %s", holder, types.PrincipalFromAddress(signer))
	}
	return nil
}

// ResourceID names a piece of content inside a space. Holders only release
// shares for resource ids prefixed by the claimed space id.
func ResourceID(spaceID types.ObjectID, name string) []byte {
	out := make([]byte, 0, len(spaceID)+16)
	out = append(out, spaceID[:]...)
	return append(out, blake3Sum([]byte(name))[:16]...)
}

// BuildGateRequest encodes the gate call for path into the bytes holders
// evaluate. The transaction is neither signed nor given a nonce.
func BuildGateRequest(path creator.GatePath, call types.GateCall) (string, error) {
	var txType types.TxType
	switch path {
	case creator.GateOwnerPath:
		txType = types.TxTypeGateOwner
	case creator.GateSubscriberPath:
		txType = types.TxTypeGateSubscriber
	default:
		return "", fmt.Errorf("access: unknown gate path %d", path)
	}
	tx, err := types.NewGateTransaction(txType, call)
	if err != nil {
		return "", err
	}
	kind, err := tx.KindBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(kind), nil
}
