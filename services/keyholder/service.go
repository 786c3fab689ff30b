package keyholder

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"spacegate/core/types"
	"spacegate/crypto"
	"spacegate/native/creator"
	"spacegate/observability"
	"spacegate/observability/logging"
	"spacegate/sdk/access"
)

var (
	// ErrDenied wraps every refusal. The wrapped cause is for local logs.
	ErrDenied = errors.New("keyholder: access denied")
	// ErrStaleState is returned when the latest snapshot is older than the
	// configured staleness bound. No decision is made against it.
	ErrStaleState = errors.New("keyholder: chain state unavailable")
)

// Config carries the holder's identity and decision bounds.
type Config struct {
	HolderIndex  int
	Key          *crypto.PrivateKey
	MaxStaleness time.Duration
	SessionTTL   time.Duration
}

// Service decides whether to release this holder's share for a request and
// accepts share deposits from space owners.
type Service struct {
	index        int
	key          *crypto.PrivateKey
	maxStaleness time.Duration
	sessionTTL   time.Duration

	view    ChainView
	shares  ShareKeeper
	store   *Store
	logger  *slog.Logger
	metrics *observability.GateMetrics
	now     func() time.Time
}

// NewService wires a decision service. store may be nil, in which case
// decisions are only logged.
func NewService(cfg Config, view ChainView, shares ShareKeeper, store *Store, logger *slog.Logger) (*Service, error) {
	if cfg.HolderIndex <= 0 {
		return nil, fmt.Errorf("keyholder: holder index must be positive")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("keyholder: signing key required")
	}
	if cfg.MaxStaleness <= 0 || cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("keyholder: staleness and session bounds must be positive")
	}
	if view == nil || shares == nil {
		return nil, fmt.Errorf("keyholder: chain view and share keeper required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:        cfg.HolderIndex,
		key:          cfg.Key,
		maxStaleness: cfg.MaxStaleness,
		sessionTTL:   cfg.SessionTTL,
		view:         view,
		shares:       shares,
		store:        store,
		logger:       logger.With("component", "keyholder", "holder", cfg.HolderIndex),
		metrics:      observability.Gate(),
		now:          time.Now,
	}, nil
}

// Address is the principal answers are signed by.
func (s *Service) Address() types.Principal {
	return types.PrincipalFromAddress(s.key.PubKey().Address())
}

// decision accumulates what is known about a request as it is evaluated.
type decision struct {
	Decision
	age time.Duration
}

// grant is a request that passed the gate.
type grant struct {
	path      creator.GatePath
	call      types.GateCall
	requester types.Principal
}

// FetchKey evaluates req under the session credential and, on a grant,
// returns this holder's signed share.
func (s *Service) FetchKey(ctx context.Context, session string, req access.FetchKeyRequest) (*access.FetchKeyResponse, error) {
	now := s.now()
	d := &decision{Decision: Decision{RequestID: req.RequestID, Action: "fetch", DecidedAt: now.UTC()}, age: -1}
	resp, reason, err := s.release(ctx, session, req, now, d)
	s.conclude(d, reason, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) release(ctx context.Context, session string, req access.FetchKeyRequest, now time.Time, d *decision) (*access.FetchKeyResponse, string, error) {
	g, reason, err := s.authorize(ctx, session, req.RequestID, req.Transaction, now, d)
	if err != nil {
		return nil, reason, err
	}
	share, err := s.shares.Share(g.call.ResourceID)
	if errors.Is(err, ErrShareMissing) {
		return nil, "no_share", err
	}
	if err != nil {
		return nil, "internal", fmt.Errorf("%w: %w", ErrDenied, err)
	}
	sig, err := s.key.SignMessage(access.ShareMessage(req.RequestID, s.index, g.call.ResourceID, share))
	if err != nil {
		return nil, "internal", fmt.Errorf("%w: sign share: %w", ErrDenied, err)
	}
	return &access.FetchKeyResponse{
		RequestID: req.RequestID,
		Holder:    s.index,
		Share:     hex.EncodeToString(share),
		Signature: hex.EncodeToString(sig),
	}, "", nil
}

// DepositShare stores this holder's share of a content key. Only a
// requester passing the owner-path gate for the resource may deposit.
func (s *Service) DepositShare(ctx context.Context, session string, req access.DepositShareRequest) (*access.DepositShareResponse, error) {
	now := s.now()
	d := &decision{Decision: Decision{RequestID: req.RequestID, Action: "deposit", DecidedAt: now.UTC()}, age: -1}
	resp, reason, err := s.deposit(ctx, session, req, now, d)
	s.conclude(d, reason, err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Service) deposit(ctx context.Context, session string, req access.DepositShareRequest, now time.Time, d *decision) (*access.DepositShareResponse, string, error) {
	value, err := hex.DecodeString(strings.TrimPrefix(req.Share, "0x"))
	if err != nil || !access.ValidShare(value) {
		return nil, "request", fmt.Errorf("%w: malformed share", ErrDenied)
	}
	g, reason, err := s.authorize(ctx, session, req.RequestID, req.Transaction, now, d)
	if err != nil {
		return nil, reason, err
	}
	if g.path != creator.GateOwnerPath {
		return nil, "deposit_path", fmt.Errorf("%w: deposits require the owner path", ErrDenied)
	}
	if err := s.shares.PutShare(ShareRecord{
		ResourceID:  g.call.ResourceID,
		Share:       value,
		Depositor:   g.requester.String(),
		Height:      d.Height,
		DepositedAt: now.UTC(),
	}); err != nil {
		return nil, "internal", fmt.Errorf("%w: store share: %w", ErrDenied, err)
	}
	sig, err := s.key.SignMessage(access.DepositMessage(req.RequestID, s.index, g.call.ResourceID, value))
	if err != nil {
		return nil, "internal", fmt.Errorf("%w: sign deposit: %w", ErrDenied, err)
	}
	return &access.DepositShareResponse{RequestID: req.RequestID, Holder: s.index, Signature: hex.EncodeToString(sig)}, "", nil
}

// authorize runs the gate for the encoded transaction against a fresh
// snapshot, at wall-clock now.
func (s *Service) authorize(ctx context.Context, session, requestID, transaction string, now time.Time, d *decision) (*grant, string, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, "request", fmt.Errorf("%w: request id: %v", ErrDenied, err)
	}
	requester, _, err := access.VerifySession(session, s.sessionTTL, now)
	if err != nil {
		return nil, "session", fmt.Errorf("%w: %w", ErrDenied, err)
	}
	d.Requester = requester.String()

	path, call, err := decodeGateRequest(transaction)
	if err != nil {
		return nil, "request", fmt.Errorf("%w: %w", ErrDenied, err)
	}
	d.Path = path.String()
	d.SpaceID = call.SpaceID.String()
	d.CapabilityID = call.CapabilityID.String()
	d.ResourceID = hex.EncodeToString(call.ResourceID)
	if len(call.ResourceID) <= len(call.SpaceID) || !bytes.HasPrefix(call.ResourceID, call.SpaceID[:]) {
		return nil, "resource", fmt.Errorf("%w: resource outside space %s", ErrDenied, call.SpaceID)
	}

	snap, err := s.view.Snapshot(ctx)
	if err != nil {
		return nil, "stale", fmt.Errorf("%w: %v", ErrStaleState, err)
	}
	d.Height = snap.Height
	d.Root = snap.Root.Hex()
	d.age = now.Sub(snap.Time)
	if d.age > s.maxStaleness {
		return nil, "stale", fmt.Errorf("%w: head %d is %s old", ErrStaleState, snap.Height, d.age.Truncate(time.Millisecond))
	}

	if err := creator.Evaluate(snap.State, path, call, requester, types.Timestamp(now.UnixMilli())); err != nil {
		if !errors.Is(err, creator.ErrNotOwner) && !errors.Is(err, creator.ErrNotSubscriber) {
			return nil, "stale", fmt.Errorf("%w: read state: %v", ErrStaleState, err)
		}
		return nil, denialReason(err), fmt.Errorf("%w: %w", ErrDenied, err)
	}
	return &grant{path: path, call: call, requester: requester}, "", nil
}

func (s *Service) conclude(d *decision, reason string, cause error) {
	if cause != nil {
		d.Reason = reason
	} else {
		d.Granted = true
	}
	s.finish(d, cause)
}

func (s *Service) finish(d *decision, cause error) {
	s.metrics.RecordDecision(pathLabel(d.Path), d.Granted, d.Reason, d.age)
	if s.store != nil {
		if err := s.store.Record(d.Decision); err != nil {
			s.logger.Error("failed to record decision", "request_id", d.RequestID, "error", err)
		}
	}
	attrs := []any{
		"request_id", d.RequestID,
		"action", d.Action,
		"path", d.Path,
		logging.MaskField("requester", d.Requester),
		"height", d.Height,
	}
	if cause != nil {
		s.logger.Info("gate refused", append(attrs, "reason", d.Reason, "error", cause)...)
		return
	}
	s.logger.Info("gate granted", attrs...)
}

func decodeGateRequest(encoded string) (creator.GatePath, types.GateCall, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return 0, types.GateCall{}, fmt.Errorf("transaction encoding: %w", err)
	}
	tx, err := types.DecodeKind(raw)
	if err != nil {
		return 0, types.GateCall{}, err
	}
	path, ok := creator.GatePathFor(tx.Type)
	if !ok {
		return 0, types.GateCall{}, fmt.Errorf("%s is not a gate transaction", tx.Type)
	}
	var call types.GateCall
	if err := tx.DecodePayload(&call); err != nil {
		return 0, types.GateCall{}, err
	}
	return path, call, nil
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, creator.ErrLapsed):
		return "lapsed"
	case errors.Is(err, creator.ErrWrongSpace):
		return "wrong_space"
	case errors.Is(err, creator.ErrWrongSubscriber):
		return "wrong_subscriber"
	case errors.Is(err, creator.ErrUnregistered):
		return "unregistered"
	case errors.Is(err, creator.ErrNotFound):
		return "not_found"
	case errors.Is(err, creator.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, creator.ErrNotSubscriber):
		return "not_subscriber"
	default:
		return "unspecified"
	}
}

func pathLabel(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}
