package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"spacegate/core"
	chainstate "spacegate/core/state"
	"spacegate/core/types"
	"spacegate/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rateLimitWindow = time.Minute
	maxTxPerWindow  = 30
	txSeenTTL       = 15 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicateTx    = -32010
	codeRateLimited    = -32020
)

// Chain is the node surface the RPC server needs.
type Chain interface {
	ChainID() uint64
	InitFee() uint64
	Head() types.Header
	HeaderByHeight(height uint64) (*types.Header, error)
	StateAt(root common.Hash) (*chainstate.Manager, error)
	SubmitTransaction(tx *types.Transaction) (*core.Receipt, error)
	EventsFrom(from uint64) ([]types.Event, uint64, error)
}

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// AuthToken, when set, is required as a bearer token on submissions.
	AuthToken string
	// AllowedOrigins lists host patterns browsers may open the event stream
	// from. Empty admits same-origin pages and non-browser clients only.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server serves the JSON-RPC API and the event stream.
type Server struct {
	chain  Chain
	hub    *EventHub
	logger *slog.Logger

	mu             sync.Mutex
	txSeen         map[string]time.Time
	rateLimiters   map[string]*rateLimiter
	authToken      string
	originPatterns []string
	now            func() time.Time
}

// NewServer constructs a server over chain. hub may be nil when the event
// stream is not exposed.
func NewServer(chain Chain, hub *EventHub, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		chain:          chain,
		hub:            hub,
		logger:         logger.With("component", "rpc"),
		txSeen:         make(map[string]time.Time),
		rateLimiters:   make(map[string]*rateLimiter),
		authToken:      strings.TrimSpace(cfg.AuthToken),
		originPatterns: originPatterns(cfg.AllowedOrigins),
		now:            time.Now,
	}
}

func originPatterns(origins []string) []string {
	var out []string
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	if s.hub != nil {
		r.Get("/ws/events", s.handleEventsWS)
	}
	return otelhttp.NewHandler(r, "spacesd.rpc")
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	head := s.chain.Head()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "height": head.Height})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		observability.ModuleMetrics().Observe("rpc", method, rec.status, time.Since(start))
	}()

	reader := http.MaxBytesReader(rec, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	rec.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(rec, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(rec, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(rec, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(rec, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
		return
	}
	method = req.Method
	handler(rec, r, req)
}

type methodHandler func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"spaces_sendTransaction":      s.handleSendTransaction,
		"spaces_chainInfo":            s.handleChainInfo,
		"spaces_head":                 s.handleHead,
		"spaces_getHeader":            s.handleGetHeader,
		"spaces_getAccount":           s.handleGetAccount,
		"spaces_getIdentity":          s.handleGetIdentity,
		"spaces_getIdentityIndex":     s.handleGetIdentityIndex,
		"spaces_getSpace":             s.handleGetSpace,
		"spaces_listSpaces":           s.handleListSpaces,
		"spaces_getOwnership":         s.handleGetOwnership,
		"spaces_getSubscription":      s.handleGetSubscription,
		"spaces_getSubscriptionIndex": s.handleGetSubscriptionIndex,
		"spaces_getSubscribers":       s.handleGetSubscribers,
		"spaces_isSubscribed":         s.handleIsSubscribed,
		"spaces_getFan":               s.handleGetFan,
		"spaces_getTotals":            s.handleGetTotals,
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string, now time.Time) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.rateLimiters[source]
	if !ok {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if now.Sub(limiter.windowStart) >= rateLimitWindow {
		limiter.windowStart = now
		limiter.count = 0
	}
	if limiter.count >= maxTxPerWindow {
		return false
	}
	limiter.count++
	return true
}

func (s *Server) rememberTx(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.txSeen {
		if now.Sub(seenAt) > txSeenTTL {
			delete(s.txSeen, h)
		}
	}
	if _, exists := s.txSeen[hash]; exists {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func (s *Server) forgetTx(hash string) {
	s.mu.Lock()
	delete(s.txSeen, hash)
	s.mu.Unlock()
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var encoded string
	if err := json.Unmarshal(req.Params[0], &encoded); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction must be a hex string", err.Error())
		return
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction encoding", err.Error())
		return
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	if tx.ChainID != s.chain.ChainID() {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction chainId does not match network", tx.ChainID)
		return
	}
	if tx.Type.SimulationOnly() {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "gate transactions cannot be submitted", tx.Type.String())
		return
	}
	if _, err := tx.From(); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction signature", err.Error())
		return
	}
	hash, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to hash transaction", err.Error())
		return
	}
	now := s.now()
	if !s.allowSource(clientSource(r), now) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "transaction rate limit exceeded", nil)
		return
	}
	if !s.rememberTx(hash.Hex(), now) {
		writeError(w, http.StatusConflict, req.ID, codeDuplicateTx, "transaction already submitted", hash.Hex())
		return
	}

	receipt, err := s.chain.SubmitTransaction(&tx)
	if err != nil {
		// Rejected transactions may be retried with the same hash.
		s.forgetTx(hash.Hex())
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), map[string]string{"kind": ErrorKind(err)})
		return
	}
	writeResult(w, req.ID, receiptResultFrom(receipt))
}

func (s *Server) handleChainInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, ChainInfoResult{ChainID: s.chain.ChainID(), InitFee: s.chain.InitFee()})
}

func (s *Server) handleHead(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	head := s.chain.Head()
	writeResult(w, req.ID, headerResultFrom(&head))
}

func (s *Server) handleGetHeader(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "height parameter required", nil)
		return
	}
	var height uint64
	if err := json.Unmarshal(req.Params[0], &height); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "height must be an integer", err.Error())
		return
	}
	header, err := s.chain.HeaderByHeight(height)
	if err != nil {
		if errors.Is(err, core.ErrUnknownBlock) {
			writeResult(w, req.ID, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load header", err.Error())
		return
	}
	writeResult(w, req.ID, headerResultFrom(header))
}
