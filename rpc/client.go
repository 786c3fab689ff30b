package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"spacegate/core/types"
	"spacegate/native/creator"
)

// Client calls a node's JSON-RPC API.
type Client struct {
	endpoint  string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

// NewClient returns a client for endpoint. authToken may be empty.
func NewClient(endpoint, authToken string) *Client {
	return &Client{
		endpoint:  strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		authToken: strings.TrimSpace(authToken),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Call invokes method and decodes the result into out. A null result leaves
// out untouched and reports found=false.
func (c *Client) Call(ctx context.Context, out interface{}, method string, params ...interface{}) (bool, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		if err != nil {
			return false, fmt.Errorf("encode %s params: %w", method, err)
		}
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: int(c.nextID.Add(1))})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return false, fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return false, envelope.Error
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return false, fmt.Errorf("%s: decode result: %w", method, err)
	}
	return true, nil
}

// ChainInfo returns the chain id and init fee.
func (c *Client) ChainInfo(ctx context.Context) (*ChainInfoResult, error) {
	var out ChainInfoResult
	if _, err := c.Call(ctx, &out, "spaces_chainInfo"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Head returns the latest header.
func (c *Client) Head(ctx context.Context) (*HeaderResult, error) {
	var out HeaderResult
	if _, err := c.Call(ctx, &out, "spaces_head"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns the head account of addr.
func (c *Client) Account(ctx context.Context, addr types.Principal) (*AccountResult, error) {
	var out AccountResult
	if _, err := c.Call(ctx, &out, "spaces_getAccount", addr.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (*ReceiptResult, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, err
	}
	var out ReceiptResult
	if _, err := c.Call(ctx, &out, "spaces_sendTransaction", "0x"+hex.EncodeToString(raw)); err != nil {
		return nil, err
	}
	return &out, nil
}

// StateAt returns a read-only view pinned to root.
func (c *Client) StateAt(ctx context.Context, root common.Hash) *RemoteState {
	return &RemoteState{ctx: ctx, client: c, root: root.Hex()}
}

// RemoteState reads registry records from a node at one fixed root.
type RemoteState struct {
	ctx    context.Context
	client *Client
	root   string
}

var _ creator.StateReader = (*RemoteState)(nil)

func (r *RemoteState) call(out interface{}, method string, params ...interface{}) (bool, error) {
	return r.client.Call(r.ctx, out, method, append(params, r.root)...)
}

func (r *RemoteState) IdentityGet(id types.ObjectID) (*creator.Identity, bool, error) {
	var out creator.Identity
	ok, err := r.call(&out, "spaces_getIdentity", id.String())
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RemoteState) IdentityIndexGet(owner types.Principal) (types.ObjectID, bool, error) {
	var out types.ObjectID
	ok, err := r.call(&out, "spaces_getIdentityIndex", owner.String())
	return out, ok, err
}

func (r *RemoteState) SpaceGet(id types.ObjectID) (*creator.Space, bool, error) {
	var out creator.Space
	ok, err := r.call(&out, "spaces_getSpace", id.String())
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RemoteState) SpaceList() ([]types.ObjectID, error) {
	var out []types.ObjectID
	_, err := r.call(&out, "spaces_listSpaces")
	return out, err
}

func (r *RemoteState) OwnershipGet(id types.ObjectID) (*creator.SpaceOwnership, bool, error) {
	var out creator.SpaceOwnership
	ok, err := r.call(&out, "spaces_getOwnership", id.String())
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RemoteState) SubscriptionGet(id types.ObjectID) (*creator.Subscription, bool, error) {
	var out creator.Subscription
	ok, err := r.call(&out, "spaces_getSubscription", id.String())
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RemoteState) SubscriptionIndexGet(spaceID types.ObjectID, subscriber types.Principal) (types.ObjectID, bool, error) {
	var out types.ObjectID
	ok, err := r.call(&out, "spaces_getSubscriptionIndex", spaceID.String(), subscriber.String())
	return out, ok, err
}

func (r *RemoteState) SpaceSubscribers(spaceID types.ObjectID) ([]types.Principal, error) {
	var out []types.Principal
	_, err := r.call(&out, "spaces_getSubscribers", spaceID.String())
	return out, err
}

func (r *RemoteState) FanGet(spaceID types.ObjectID, fan types.Principal) (*creator.FanAvatar, bool, error) {
	var out creator.FanAvatar
	ok, err := r.call(&out, "spaces_getFan", spaceID.String(), fan.String())
	if !ok || err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

func (r *RemoteState) CreatorTotals() (*creator.Totals, error) {
	var out creator.Totals
	if _, err := r.call(&out, "spaces_getTotals"); err != nil {
		return nil, err
	}
	return &out, nil
}
