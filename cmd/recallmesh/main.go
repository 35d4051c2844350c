// Command recallmesh serves the retrieval engine and the temporal
// knowledge graph over HTTP.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/recallmesh/recallmesh/pkg/api"
	"github.com/recallmesh/recallmesh/pkg/config"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/search"
	"github.com/recallmesh/recallmesh/pkg/temporal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("recallmesh")
	metrics := observability.NewPrometheusMetrics("recallmesh")
	defer func() { _ = metrics.Close() }()

	db, err := database.NewArangoClient(ctx, cfg.Arango)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}

	embedder := embedding.NewBreakerEmbedder(embedding.NewRetryingEmbedder(
		embedding.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.DefaultDimension), 3))
	vectors := embedding.NewVectorOps(db, embedder, cfg.Embedding.Field,
		cfg.Embedding.DefaultDimension, logger)

	bm25 := search.NewBM25Searcher(db, search.BM25Config{
		ViewName: cfg.Search.MainView,
		Analyzer: cfg.Search.Analyzer,
		Fields:   cfg.Search.Fields,
	}, logger, metrics)
	semantic := search.NewSemanticSearcher(db, embedder, vectors, search.SemanticConfig{
		Field:    cfg.Embedding.Field,
		MinScore: cfg.Search.SemanticMinScore,
		AutoFix:  true,
	}, logger, metrics)
	tags := search.NewTagSearcher(db, logger, metrics)
	graph := search.NewGraphTraverser(db, bm25, search.GraphConfig{
		GraphName:      cfg.Graph.Name,
		EdgeCollection: cfg.Graph.EdgeCollection,
	}, logger, metrics)
	hybrid := search.NewHybridSearcher(db, bm25, semantic, tags, graph, search.HybridConfig{
		EdgeCollection: cfg.Graph.EdgeCollection,
	}, logger, metrics, observability.NewTracer("recallmesh"))

	store := temporal.NewStore(db, cfg.Graph.EdgeCollection, logger, metrics)
	if err := store.EnsureCollection(ctx); err != nil {
		logger.Fatalf("failed to ensure edge collection: %v", err)
	}
	resolver := temporal.NewResolver(store, nil, logger, metrics)
	enricher := temporal.NewEnricher(db, store, resolver, temporal.EnrichConfig{
		QAView:   cfg.Search.QAView,
		MainView: cfg.Search.MainView,
		Analyzer: cfg.Search.Analyzer,
	}, logger, metrics)

	srv := api.NewServer(api.Deps{
		Hybrid:   hybrid,
		BM25:     bm25,
		Semantic: semantic,
		Tags:     tags,
		Graph:    graph,
		Store:    store,
		Resolver: resolver,
		Enricher: enricher,
	}, api.Config{
		ListenAddress:     cfg.API.ListenAddress,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		Environment:       cfg.Environment,
		DefaultCollection: cfg.Search.Collection,
		Registry:          metrics.Registry(),
	}, logger, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown failed: %v", err)
		}
	}
}
