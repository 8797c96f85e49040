package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trainhub/internal/config"
	"trainhub/internal/metrics"
	"trainhub/internal/service"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const (
	kindUnauthenticated = "unauthenticated"
	kindRateLimited     = "rate_limited"
	requestIDHeader     = "X-Request-ID"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     *service.BookingService
	db      Pinger
	actors  *ActorAuth
	auth    *HTTPAuth
	server  *http.Server
	handler http.Handler
	log     zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc *service.BookingService, db Pinger, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		db:     db,
		actors: NewActorAuth(cfg.JWT),
		auth:   NewHTTPAuth(cfg),
		log:    zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.handler = corsSettings(cfg.CORS).Handler(srv.loggingMiddleware(srv.auth.Wrap(mux)))
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /api/v1/bookings", s.actors.Require(s.handleCreateBooking))
	mux.HandleFunc("GET /api/v1/bookings", s.actors.Require(s.handleListBookings))
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.actors.Require(s.handleGetBooking))
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/status", s.actors.Require(s.handleUpdateStatus))
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.actors.Require(s.handleCancel))
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", s.actors.Require(s.handleComplete))
	mux.HandleFunc("POST /api/v1/bookings/{id}/rate", s.actors.Require(s.handleRate))
	mux.HandleFunc("POST /api/v1/bookings/{id}/reschedule", s.actors.Require(s.handleReschedule))
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", s.actors.Require(s.handleDeleteBooking))

	mux.HandleFunc("GET /api/v1/trainers/{id}", s.handleTrainerProfile)
	mux.HandleFunc("GET /api/v1/trainers/{id}/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/v1/trainers/{id}/bookings/export", s.actors.Require(s.handleExport))

	mux.HandleFunc("POST /api/v1/admin/trainers/{id}/rating/recompute", s.actors.Require(s.handleRecomputeRating))
}

// Handler returns the fully wrapped handler chain.
func (s *HTTPServer) Handler() http.Handler { return s.handler }

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func corsSettings(cfg config.CORSConfig) *cors.Cors {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Content-Disposition"},
	})
}

// HTTPAuth guards admin routes with API keys and rate limits every client.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(&cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled && requiresAPIKey(r) {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				kind := kindUnauthenticated
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
					kind = "forbidden"
				}
				writeError(w, statusCode, kind, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, kindRateLimited, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = errors.New("permission denied")

func requiresAPIKey(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/v1/admin/")
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault)))
	extra := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderExtra, apiExtraHeaderDefault)))
	if apiKey == "" || extra == "" {
		return errors.New("missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errors.New("invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errors.New("invalid extra header")
	}

	return checkPermissions(client, permAdminRatings, errPermissionDenied)
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}
	if !a.limiter.getLimiter(a.clientKey(r)).Allow() {
		return errors.New("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(headerName(a.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault))); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func headerName(configured, def string) string {
	h := strings.ToLower(strings.TrimSpace(configured))
	if h == "" {
		return def
	}
	return h
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLog := s.log.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(route, strconv.Itoa(recorder.status), dur.Seconds())

		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, kind, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message, Kind: kind})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
