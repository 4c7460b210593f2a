// Package api exposes the card program over HTTP with gorilla/mux.
package api

import (
	"context"
	"net/http"
	"time"

	"cardctl/pkg/auth"
	"cardctl/pkg/cards"
	"cardctl/pkg/lifecycle"
	"cardctl/pkg/logging"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// MetricsPath serves MetricsHandler when both are set.
	MetricsPath string
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MetricsPath:  "/metrics",
	}
}

// Deps are the services behind the routes.
type Deps struct {
	Cards     *cards.Service
	Lifecycle *lifecycle.Manager
	Auth      *auth.Directory
	Logger    *logging.Logger

	// MetricsHandler serves the metrics scrape endpoint, typically promhttp.
	MetricsHandler http.Handler
	// Registerer receives the HTTP request metrics. Nil disables them.
	Registerer prometheus.Registerer
}

// Server routes HTTP requests to the card and lifecycle services.
type Server struct {
	cards     *cards.Service
	lifecycle *lifecycle.Manager
	auth      *auth.Directory
	logger    *logging.Logger
	router    *mux.Router
	server    *http.Server
	config    ServerConfig
	started   time.Time
}

// NewServer builds the router. It fails only if the HTTP metrics cannot be
// registered.
func NewServer(deps Deps, config ServerConfig) (*Server, error) {
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}

	s := &Server{
		cards:     deps.Cards,
		lifecycle: deps.Lifecycle,
		auth:      deps.Auth,
		logger:    deps.Logger.Named("api"),
		config:    config,
		started:   time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.withRequestLogger)
	if deps.Registerer != nil {
		m, err := newHTTPMetrics(deps.Registerer)
		if err != nil {
			return nil, err
		}
		r.Use(m.middleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if deps.MetricsHandler != nil && config.MetricsPath != "" {
		r.Handle(config.MetricsPath, deps.MetricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/auth/otp", s.handleRequestOTP).Methods(http.MethodPost)
	r.HandleFunc("/auth/sessions", s.handleLogin).Methods(http.MethodPost)

	// Everything below requires a bearer token.
	p := r.NewRoute().Subrouter()
	p.Use(s.requireAuth)

	p.HandleFunc("/cards", s.handleCreateCard).Methods(http.MethodPost)
	p.HandleFunc("/cards", s.handleListCards).Methods(http.MethodGet)
	p.HandleFunc("/cards/{id}", s.handleGetCard).Methods(http.MethodGet)
	p.HandleFunc("/cards/{id}/freeze", s.handleFreeze).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/unfreeze", s.handleUnfreeze).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/reissue", s.handleReissue).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/rotate-credentials", s.handleRotateCredentials).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/controls", s.handleUpdateControls).Methods(http.MethodPatch)
	p.HandleFunc("/cards/{id}/tokens", s.handleListTokens).Methods(http.MethodGet)
	p.HandleFunc("/cards/{id}/tokens/{tokenID}", s.handleRevokeToken).Methods(http.MethodDelete)
	p.HandleFunc("/cards/{id}/share-links", s.handleCreateShareLink).Methods(http.MethodPost)
	p.HandleFunc("/share-links/{id}", s.handleGetShareLink).Methods(http.MethodGet)
	p.HandleFunc("/share-links/{id}", s.handleRevokeShareLink).Methods(http.MethodDelete)

	p.HandleFunc("/cards/{id}/authorizations", s.handleAuthorize).Methods(http.MethodPost)
	p.HandleFunc("/cards/{id}/transactions", s.handleListTransactions).Methods(http.MethodGet)
	p.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	p.HandleFunc("/transactions/{id}/post", s.handlePost).Methods(http.MethodPost)
	p.HandleFunc("/transactions/{id}/refund", s.handleRefund).Methods(http.MethodPost)
	p.HandleFunc("/transactions/{id}/disputes", s.handleCreateDispute).Methods(http.MethodPost)
	p.HandleFunc("/transactions/{id}/receipts", s.handleAttachReceipt).Methods(http.MethodPost)

	p.HandleFunc("/disputes/{id}", s.handleGetDispute).Methods(http.MethodGet)
	p.HandleFunc("/disputes/{id}/evidence", s.handleAttachEvidence).Methods(http.MethodPost)
	p.HandleFunc("/disputes/{id}/submit", s.handleSubmitDispute).Methods(http.MethodPost)
	p.HandleFunc("/disputes/{id}/resolve", s.handleResolveDispute).Methods(http.MethodPost)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in a goroutine. Listen errors are logged.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("server listening", zap.String("addr", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
	})
}
