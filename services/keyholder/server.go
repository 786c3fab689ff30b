package keyholder

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"spacegate/observability"
	"spacegate/sdk/access"
)

const maxRequestBytes = 64 << 10

// Server exposes the fetch-key and deposit-share endpoints.
type Server struct {
	service *Service
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(service *Service, limit RateLimit, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: service, limiter: NewRateLimiter(limit), logger: logger}
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "holder": s.service.Address().String()})
	})
	r.With(s.limiter.Middleware).Post(access.FetchKeyPath, s.handleFetchKey)
	r.With(s.limiter.Middleware).Post(access.DepositSharePath, s.handleDepositShare)
	return otelhttp.NewHandler(r, "keyholderd")
}

func (s *Server) handleFetchKey(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		observability.ModuleMetrics().Observe("keyholder", "fetch_key", status, time.Since(start))
	}()

	var req access.FetchKeyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, access.Denial{Error: "malformed request"})
		return
	}
	resp, err := s.service.FetchKey(r.Context(), bearer(r), req)
	if err != nil {
		status = writeRefusal(w, err)
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleDepositShare(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	defer func() {
		observability.ModuleMetrics().Observe("keyholder", "deposit_share", status, time.Since(start))
	}()

	var req access.DepositShareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, access.Denial{Error: "malformed request"})
		return
	}
	resp, err := s.service.DepositShare(r.Context(), bearer(r), req)
	if err != nil {
		status = writeRefusal(w, err)
		return
	}
	writeJSON(w, status, resp)
}

func bearer(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

// writeRefusal maps a service error to its response and returns the status.
// Denials carry one fixed message whatever the cause.
func writeRefusal(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, ErrStaleState):
		writeJSON(w, http.StatusServiceUnavailable, access.Denial{Error: "state unavailable"})
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrShareMissing):
		writeJSON(w, http.StatusNotFound, access.Denial{Error: "share not deposited"})
		return http.StatusNotFound
	default:
		writeJSON(w, http.StatusForbidden, access.Denial{Error: access.DeniedMessage})
		return http.StatusForbidden
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
