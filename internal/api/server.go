// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/jwtauth/v5"

	"github.com/dmorse17/txflow/internal/form"
	"github.com/dmorse17/txflow/internal/transaction"
	"github.com/dmorse17/txflow/pkg/config"
	"github.com/dmorse17/txflow/pkg/errors"
	"github.com/dmorse17/txflow/pkg/health"
	"github.com/dmorse17/txflow/pkg/logging"
	"github.com/dmorse17/txflow/pkg/metrics"
)

// HistoryStore provides read access to stored transactions.
type HistoryStore interface {
	GetTransaction(ctx context.Context, txID string) (*transaction.Transaction, error)
	GetAddressTransactions(ctx context.Context, address string, limit, offset int64) ([]*transaction.Transaction, error)
	Ping(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	config           *config.Config
	router           *chi.Mux
	sessions         *form.Manager
	history          HistoryStore
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, sessions *form.Manager, history HistoryStore, logger *logging.Logger, metricsCollector *metrics.Metrics) *Server {
	r := chi.NewRouter()
	tokenAuth := jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)

	healthRegistry := health.NewRegistry(logger)

	s := &Server{
		config:           cfg,
		router:           r,
		sessions:         sessions,
		history:          history,
		tokenAuth:        tokenAuth,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: r,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupHealthChecks()

	return s
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware(s.metricsCollector, "api"))
	s.router.Use(RecovererWithMetrics(s.logger, s.metricsCollector, "api"))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Use(httprate.LimitByIP(s.config.API.RateLimitPerMinute, 1*time.Minute))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Public routes
	s.router.Group(func(r chi.Router) {
		r.Get("/health", s.healthRegistry.Handler().ServeHTTP)
		r.Get("/metrics", s.metricsCollector.Handler().ServeHTTP)
		r.Post("/login", s.handleLogin)
	})

	// Protected routes - require a valid JWT
	s.router.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(s.tokenAuth))
		r.Use(jwtauth.Authenticator)

		// Form session routes
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Put("/sessions/{id}/fields", s.handleSetField)
		r.Post("/sessions/{id}/submit", s.handleSubmit)
		r.Delete("/sessions/{id}", s.handleCloseSession)

		// Transaction routes
		r.Get("/transactions", s.handleGetTransactions)
		r.Get("/transactions/{id}", s.handleGetTransaction)
	})
}

// setupHealthChecks configures health checks for the server
func (s *Server) setupHealthChecks() {
	s.healthRegistry.Register("api", health.ServiceChecker("api", func(ctx context.Context) error {
		return nil
	}))

	s.healthRegistry.Register("redis", health.RedisChecker(s.config.Redis.Address, func(ctx context.Context) error {
		return s.history.Ping(ctx)
	}))
}

// Start starts the API server
func (s *Server) Start() {
	s.logger.Info("Starting API server", "port", s.config.API.Port)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Error starting server", "error", err)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
	}
	s.logger.Info("API server shutdown complete")
}

// handleLogin issues a JWT for the demo UI. There is no user store; any
// non-empty username is accepted.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		s.renderError(w, "Username is required", http.StatusBadRequest)
		return
	}

	expiry := time.Now().Add(time.Duration(s.config.Auth.TokenExpiry) * time.Second)
	claims := map[string]interface{}{
		"username": req.Username,
		"exp":      expiry.Unix(),
	}

	_, tokenString, err := s.tokenAuth.Encode(claims)
	if err != nil {
		s.renderError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Login successful",
		Data: map[string]interface{}{
			"token":      tokenString,
			"expires_at": expiry.Unix(),
		},
	}, http.StatusOK)
}

// handleCreateSession opens a new form session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, ctrl, err := s.sessions.NewSession()
	if err != nil {
		s.renderError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Session created",
		Data: map[string]interface{}{
			"session_id": id,
			"state":      ctrl.Snapshot(),
		},
	}, http.StatusCreated)
}

// handleGetSession returns the current form state
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Data:    ctrl.Snapshot(),
	}, http.StatusOK)
}

// handleSetField updates a form field
func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if err := ctrl.SetField(form.Field(req.Field), req.Value); err != nil {
		s.renderError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Data:    ctrl.Snapshot(),
	}, http.StatusOK)
}

// handleSubmit submits the prepared transaction
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}

	receipt, err := ctrl.Submit(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, form.ErrNotReady) || errors.Is(err, form.ErrSubmitPending) {
			status = http.StatusConflict
		}
		s.renderError(w, err.Error(), status)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Transaction submitted",
		Data: map[string]interface{}{
			"tx_id":   receipt.TxID,
			"tx_hash": receipt.Hash,
			"state":   ctrl.Snapshot(),
		},
	}, http.StatusOK)
}

// handleCloseSession closes a form session
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Close(id); err != nil {
		s.renderError(w, err.Error(), http.StatusNotFound)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Message: "Session closed",
	}, http.StatusOK)
}

// handleGetTransactions returns an address's transaction history
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		s.renderError(w, "Address is required", http.StatusBadRequest)
		return
	}

	limit := int64(10)
	offset := int64(0)

	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.ParseInt(v, 10, 64); err == nil && l > 0 {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.ParseInt(v, 10, 64); err == nil && o >= 0 {
			offset = o
		}
	}

	transactions, err := s.history.GetAddressTransactions(r.Context(), address, limit, offset)
	if err != nil {
		s.renderError(w, "Failed to retrieve transactions", http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Data: map[string]interface{}{
			"transactions": transactions,
			"pagination": map[string]interface{}{
				"limit":  limit,
				"offset": offset,
			},
		},
	}, http.StatusOK)
}

// handleGetTransaction returns a single stored transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := s.history.GetTransaction(r.Context(), txID)
	if err != nil {
		s.renderError(w, "Transaction not found", http.StatusNotFound)
		return
	}

	s.renderJSON(w, Response{
		Success: true,
		Data:    tx,
	}, http.StatusOK)
}

// session resolves the session ID in the URL, rendering a 404 on failure
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*form.Controller, bool) {
	id := chi.URLParam(r, "id")
	ctrl, err := s.sessions.Get(id)
	if err != nil {
		s.renderError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return ctrl, true
}

// renderJSON renders a JSON response
func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

// renderError renders an error response
func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.metricsCollector.RecordError("api", "http", strconv.Itoa(status))

	s.renderJSON(w, Response{
		Success: false,
		Error:   message,
	}, status)
}
