// Package server exposes the translation pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/nmt-proxy/internal/audit"
	"github.com/raaihank/nmt-proxy/internal/cache"
	"github.com/raaihank/nmt-proxy/internal/config"
	"github.com/raaihank/nmt-proxy/internal/langpair"
	"github.com/raaihank/nmt-proxy/internal/logger"
	"github.com/raaihank/nmt-proxy/internal/ratelimit"
	"github.com/raaihank/nmt-proxy/internal/registry"
	"github.com/raaihank/nmt-proxy/internal/response"
	"github.com/raaihank/nmt-proxy/internal/translate"
	"github.com/raaihank/nmt-proxy/internal/web"
	"github.com/raaihank/nmt-proxy/internal/websocket"
)

// Version is reported by /info
const Version = "1.0.0"

// Translator runs a batch in the given mode
type Translator interface {
	Run(ctx context.Context, mode langpair.Mode, items []translate.Item) *response.Envelope
}

// Catalog lists the loaded models
type Catalog interface {
	Models() []*registry.Entry
	Revision() uint64
	LoadedAt() time.Time
}

// AuditStore persists request summaries
type AuditStore interface {
	Record(ctx context.Context, rec *audit.Record) error
	Recent(ctx context.Context, limit int) ([]*audit.Record, error)
	Stats(ctx context.Context) (*audit.Stats, error)
}

// CacheStats reports translation cache statistics
type CacheStats interface {
	GetStats(ctx context.Context) (*cache.CacheStats, error)
}

// Deps are the collaborators the server routes requests to. Audit, Cache,
// Hub and Limiter are optional.
type Deps struct {
	Pipeline Translator
	Catalog  Catalog
	Audit    AuditStore
	Cache    CacheStats
	Hub      *websocket.Hub
	Limiter  *ratelimit.Limiter
}

// Server represents the HTTP front end
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	deps      Deps
	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		deps:      deps,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.deps.Hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.deps.Hub.HandleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/", web.ServeDashboard(s.config.WebSocket.Path)).Methods(http.MethodGet)
		s.router.HandleFunc("/dashboard", web.ServeDashboard(s.config.WebSocket.Path)).Methods(http.MethodGet)
	}

	// preflight requests are only routed when CORS is on
	methods := func(m string) []string {
		if s.config.Server.EnableCORS {
			return []string{m, http.MethodOptions}
		}
		return []string{m}
	}

	api := s.router.PathPrefix(s.config.Server.APIPrefix + "/v1").Subrouter()
	if s.config.Server.EnableCORS {
		api.Use(mux.CORSMethodMiddleware(api))
		api.Use(corsMiddleware)
	}
	api.Use(s.loggingMiddleware)

	translateRoutes := api.NewRoute().Subrouter()
	translateRoutes.Use(s.rateLimitMiddleware)
	translateRoutes.HandleFunc("/translate", s.handleTranslate(langpair.Simple)).Methods(methods(http.MethodPost)...)
	translateRoutes.HandleFunc("/interactive-translate", s.handleTranslate(langpair.Constrained)).Methods(methods(http.MethodPost)...)

	api.HandleFunc("/models", s.handleModels).Methods(methods(http.MethodGet)...)
	if s.deps.Audit != nil {
		api.HandleFunc("/requests", s.handleRecentRequests).Methods(methods(http.MethodGet)...)
		api.HandleFunc("/requests/stats", s.handleRequestStats).Methods(methods(http.MethodGet)...)
	}
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting NMT proxy server",
		zap.String("addr", s.server.Addr),
		zap.String("api_prefix", s.config.Server.APIPrefix),
		zap.Bool("cors", s.config.Server.EnableCORS),
		zap.Bool("rate_limit", s.deps.Limiter.Enabled()),
		zap.Bool("audit", s.deps.Audit != nil),
	)

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping NMT proxy server")
	return s.server.Shutdown(ctx)
}
