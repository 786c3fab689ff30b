package access

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"spacegate/config"
	"spacegate/core/types"
	"spacegate/native/creator"
)

var (
	// ErrDenied is returned when enough holders refused that no quorum can
	// form.
	ErrDenied = errors.New("access: denied")
	// ErrQuorumNotReached is returned when fewer than threshold holders
	// produced a valid share for any other reason.
	ErrQuorumNotReached = errors.New("access: quorum not reached")
	// ErrDepositIncomplete is returned when some holders did not acknowledge
	// their share.
	ErrDepositIncomplete = errors.New("access: deposit incomplete")
)

// DefaultSessionTTL bounds the credential minted for each key fetch.
const DefaultSessionTTL = 2 * time.Minute

type holder struct {
	index   int
	url     string
	address types.Principal
}

// Client fetches content keys from a key-holder committee.
type Client struct {
	holders    []holder
	threshold  int
	httpClient *http.Client
	combiner   Combiner
	sessionTTL time.Duration
	now        func() time.Time
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for holder requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithCombiner overrides how shares are combined into a key.
func WithCombiner(combiner Combiner) Option {
	return func(c *Client) {
		if combiner != nil {
			c.combiner = combiner
		}
	}
}

// WithSessionTTL overrides the lifetime of minted session credentials.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.sessionTTL = ttl
		}
	}
}

// WithClock overrides the time source used when minting sessions. Primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient validates committee and returns a client for it.
func NewClient(committee *config.Committee, opts ...Option) (*Client, error) {
	if committee == nil {
		return nil, fmt.Errorf("access: committee required")
	}
	if err := committee.Validate(); err != nil {
		return nil, err
	}
	client := &Client{
		threshold:  committee.Threshold,
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		combiner:   ShamirCombiner{},
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, h := range committee.Holders {
		addr, err := types.ParsePrincipal(h.Address)
		if err != nil {
			return nil, fmt.Errorf("access: holder %d address: %w", h.Index, err)
		}
		client.holders = append(client.holders, holder{
			index:   h.Index,
			url:     strings.TrimRight(h.URL, "/"),
			address: addr,
		})
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchKey asks every holder to evaluate the gate call for wallet and
// combines the first threshold valid shares into the content key.
func (c *Client) FetchKey(ctx context.Context, wallet Wallet, path creator.GatePath, call types.GateCall) ([]byte, error) {
	if wallet == nil {
		return nil, fmt.Errorf("access: wallet required")
	}
	encoded, err := BuildGateRequest(path, call)
	if err != nil {
		return nil, err
	}
	session, err := MintSession(wallet, c.sessionTTL, c.now())
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	body, err := json.Marshal(FetchKeyRequest{RequestID: requestID, Transaction: encoded})
	if err != nil {
		return nil, err
	}

	quorumCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		shares  []Share
		denials int
		errs    []error
	)
	g, gctx := errgroup.WithContext(quorumCtx)
	for _, h := range c.holders {
		h := h
		g.Go(func() error {
			share, err := c.fetchShare(gctx, h, session, body, requestID, call.ResourceID)
			mu.Lock()
			defer mu.Unlock()
			if len(shares) >= c.threshold {
				return nil
			}
			switch {
			case err == nil:
				shares = append(shares, Share{Holder: h.index, Value: share})
				if len(shares) >= c.threshold {
					cancel()
				}
			case errors.Is(err, ErrDenied):
				denials++
			default:
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(shares) < c.threshold {
		if len(c.holders)-denials < c.threshold {
			return nil, ErrDenied
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %d of %d shares: %w", ErrQuorumNotReached, len(shares), c.threshold, errors.Join(errs...))
	}
	return c.combiner.Combine(call.ResourceID, shares, c.threshold)
}

func (c *Client) fetchShare(ctx context.Context, h holder, session string, body []byte, requestID string, resourceID []byte) ([]byte, error) {
	payload, err := c.post(ctx, h, FetchKeyPath, session, body)
	if err != nil {
		return nil, err
	}
	var out FetchKeyResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("access: holder %d: decode response: %w", h.index, err)
	}
	return VerifyShare(&out, requestID, h.index, resourceID, h.address)
}

// DepositKey deals key across the committee and hands every holder its own
// share. call must be an owner-path call naming the resource and the
// wallet's ownership capability. Every holder has to acknowledge.
func (c *Client) DepositKey(ctx context.Context, wallet Wallet, call types.GateCall, key []byte) error {
	if wallet == nil {
		return fmt.Errorf("access: wallet required")
	}
	encoded, err := BuildGateRequest(creator.GateOwnerPath, call)
	if err != nil {
		return err
	}
	indexes := make([]int, len(c.holders))
	for i, h := range c.holders {
		indexes[i] = h.index
	}
	shares, err := Deal(key, indexes, c.threshold)
	if err != nil {
		return err
	}
	session, err := MintSession(wallet, c.sessionTTL, c.now())
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, h := range c.holders {
		h, value := h, shares[i].Value
		g.Go(func() error {
			if err := c.depositShare(gctx, h, session, encoded, call.ResourceID, value); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d holders: %w", ErrDepositIncomplete, len(c.holders)-len(errs), len(c.holders), errors.Join(errs...))
	}
	return nil
}

func (c *Client) depositShare(ctx context.Context, h holder, session, encoded string, resourceID, value []byte) error {
	requestID := uuid.NewString()
	body, err := json.Marshal(DepositShareRequest{RequestID: requestID, Transaction: encoded, Share: hex.EncodeToString(value)})
	if err != nil {
		return err
	}
	payload, err := c.post(ctx, h, DepositSharePath, session, body)
	if err != nil {
		return err
	}
	var out DepositShareResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("access: holder %d: decode response: %w", h.index, err)
	}
	return VerifyDeposit(&out, requestID, h.index, resourceID, value, h.address)
}

// post sends body to one holder and returns the payload of a 200 answer. A
// 403 is reported as ErrDenied.
func (c *Client) post(ctx context.Context, h holder, path, session string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("access: holder %d: %w", h.index, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+session)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("access: holder %d: %w", h.index, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("access: holder %d: %w", h.index, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return payload, nil
	case http.StatusForbidden:
		return nil, ErrDenied
	default:
		return nil, fmt.Errorf("access: holder %d returned %d", h.index, resp.StatusCode)
	}
}
