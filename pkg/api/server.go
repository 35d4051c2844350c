// Package api exposes the retrieval engine and the temporal knowledge
// graph over HTTP. Business failures travel inside the search result
// envelope with status 200; only infrastructure errors map to 5xx.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/search"
	"github.com/recallmesh/recallmesh/pkg/temporal"
)

// Config holds the HTTP server settings.
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Environment   string
	// DefaultCollection is used when a search request names none.
	DefaultCollection string
	// Registry, when set, serves /metrics from this prometheus registry.
	Registry *prometheus.Registry
}

// Deps are the wired components the handlers delegate to. Nil entries
// disable their routes.
type Deps struct {
	Hybrid   *search.HybridSearcher
	BM25     *search.BM25Searcher
	Semantic *search.SemanticSearcher
	Tags     *search.TagSearcher
	Graph    *search.GraphTraverser
	Store    *temporal.Store
	Resolver *temporal.Resolver
	Enricher *temporal.Enricher
}

// Server is the HTTP API server.
type Server struct {
	router  *gin.Engine
	server  *http.Server
	deps    Deps
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewServer builds the router and wires every route.
func NewServer(deps Deps, cfg Config, logger observability.Logger, metrics observability.MetricsClient) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	router.Use(MetricsMiddleware(metrics))

	s := &Server{
		router:  router,
		deps:    deps,
		cfg:     cfg,
		logger:  logger.WithPrefix("api"),
		metrics: metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.metricsHandler())

	v1 := s.router.Group("/api/v1")

	if s.deps.Hybrid != nil {
		v1.POST("/search/hybrid", s.handleHybridSearch)
	}
	if s.deps.BM25 != nil {
		v1.POST("/search/text", s.handleTextSearch)
	}
	if s.deps.Semantic != nil {
		v1.POST("/search/semantic", s.handleSemanticSearch)
		v1.GET("/collections/:collection/readiness", s.handleReadiness)
		v1.POST("/collections/:collection/repair", s.handleRepair)
	}
	if s.deps.Tags != nil {
		v1.POST("/search/tags", s.handleTagSearch)
	}
	if s.deps.Graph != nil {
		v1.POST("/search/graph", s.handleGraphTraverse)
	}

	if s.deps.Store != nil {
		v1.POST("/edges", s.handleCreateEdge)
		v1.GET("/edges/:key", s.handleGetEdge)
		v1.POST("/edges/:key/invalidate", s.handleInvalidateEdge)
	}
	if s.deps.Store != nil && s.deps.Resolver != nil {
		v1.POST("/edges/:key/resolve", s.handleResolveEdge)
	}
	if s.deps.Enricher != nil {
		v1.POST("/enrich", s.handleEnrich)
	}
}

func (s *Server) metricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	if s.cfg.Registry != nil {
		h = promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})
	}
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", map[string]interface{}{
		"address": s.cfg.ListenAddress,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down", nil)
	return s.server.Shutdown(ctx)
}
