package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// HybridConfig configures the orchestrator.
type HybridConfig struct {
	// EdgeCollection gates the graph signal: when it does not exist the
	// graph branch is skipped with a warning.
	EdgeCollection string
	// RRFK is the fusion constant, default 60.
	RRFK int
}

// HybridSearcher fans a query out to the lexical, semantic, and optional
// graph signals, then fuses their rankings with weighted RRF.
type HybridSearcher struct {
	db       database.Client
	bm25     *BM25Searcher
	semantic *SemanticSearcher
	tags     *TagSearcher
	graph    *GraphTraverser
	cfg      HybridConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
	tracer   observability.Tracer
}

// NewHybridSearcher creates a HybridSearcher. graph may be nil when the
// deployment has no relationship graph.
func NewHybridSearcher(db database.Client, bm25 *BM25Searcher, semantic *SemanticSearcher, tags *TagSearcher, graph *GraphTraverser, cfg HybridConfig, logger observability.Logger, metrics observability.MetricsClient, tracer observability.Tracer) *HybridSearcher {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	return &HybridSearcher{
		db:       db,
		bm25:     bm25,
		semantic: semantic,
		tags:     tags,
		graph:    graph,
		cfg:      cfg,
		logger:   logger.WithPrefix("hybrid"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// HybridOptions tunes one hybrid search.
type HybridOptions struct {
	// Collection holds the searched documents.
	Collection string
	TopN       int
	// BM25Weight, SemanticWeight, and GraphWeight are renormalized to sum
	// to 1; zero values fall back to uniform weights.
	BM25Weight     float64
	SemanticWeight float64
	GraphWeight    float64
	// Tags prefilters the candidate set before any signal runs.
	Tags []string
	// TagMatch is "any" (default) or "all".
	TagMatch string
	// UseGraph adds the graph signal when the edge collection exists.
	UseGraph bool
	// MinScore applies to the BM25 signal.
	MinScore float64
	// RRFK overrides the fusion constant when > 0.
	RRFK int
}

type signalOutcome struct {
	name    string
	weight  float64
	results *Results
	err     error
}

// Search runs the hybrid retrieval flow: tag prefilter, concurrent
// signals, weighted RRF fusion. Partial signal failures degrade to
// warnings; the envelope only reports hybrid-failed when every signal
// fails.
func (h *HybridSearcher) Search(ctx context.Context, queryText string, opts HybridOptions) (*Results, error) {
	ctx, endSpan := h.tracer.StartSpan(ctx, "search.hybrid")
	defer endSpan()
	started := time.Now()

	if strings.TrimSpace(queryText) == "" {
		h.metrics.RecordSearchOperation(EngineHybridFailed, false, time.Since(started).Seconds())
		return failedResults(EngineHybridFailed, "hybrid", "Query text cannot be empty"), nil
	}
	if opts.TopN <= 0 {
		opts.TopN = 10
	}

	var warnings []string

	useGraph := opts.UseGraph && h.graph != nil
	if useGraph {
		exists, err := h.db.CollectionExists(ctx, h.cfg.EdgeCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to check edge collection: %w", err)
		}
		if !exists {
			useGraph = false
			warnings = append(warnings,
				fmt.Sprintf("graph signal skipped: edge collection %q does not exist", h.cfg.EdgeCollection))
		}
	}

	weights := []float64{opts.BM25Weight, opts.SemanticWeight}
	if useGraph {
		weights = append(weights, opts.GraphWeight)
	}
	weights, renormalized := NormalizeWeights(weights)
	if renormalized {
		warnings = append(warnings, "signal weights renormalized to sum to 1")
	}

	// Tag prefilter builds an allow-set folded into every signal.
	var filterExpr string
	var filterBind map[string]interface{}
	engine := EngineHybrid2
	if useGraph {
		engine = EngineHybrid3
	}
	if len(opts.Tags) > 0 {
		allowed, err := h.tags.KeysWithTags(ctx, opts.Collection, opts.Tags, opts.TagMatch)
		if err != nil {
			return nil, err
		}
		if len(allowed) == 0 {
			h.metrics.RecordSearchOperation(EngineTagFiltered, true, time.Since(started).Seconds())
			res := failedResults(EngineTagFiltered, "hybrid", "no documents match the requested tags")
			res.Warnings = warnings
			return res, nil
		}
		keys := make([]string, 0, len(allowed))
		for k := range allowed {
			keys = append(keys, k)
		}
		filterExpr = "doc._key IN @allowedKeys"
		filterBind = map[string]interface{}{"allowedKeys": keys}
		warnings = append(warnings,
			fmt.Sprintf("tag prefilter restricted candidates to %d documents", len(keys)))
	}

	outcomes := make([]signalOutcome, 0, 3)
	var mu sync.Mutex
	record := func(o signalOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := h.bm25.Search(gctx, queryText, BM25Options{
			Collections: []string{opts.Collection},
			FilterExpr:  filterExpr,
			FilterBind:  filterBind,
			MinScore:    opts.MinScore,
			TopN:        opts.TopN * 2,
		})
		record(signalOutcome{name: EngineBM25, weight: weights[0], results: res, err: err})
		return nil
	})
	g.Go(func() error {
		res, err := h.semantic.Search(gctx, opts.Collection, queryText, SemanticOptions{
			TopN:       opts.TopN * 2,
			FilterExpr: filterExpr,
			FilterBind: filterBind,
		})
		record(signalOutcome{name: EngineSemantic, weight: weights[1], results: res, err: err})
		return nil
	})
	if useGraph {
		g.Go(func() error {
			traverse := TraverseOptions{}
			if filterExpr != "" {
				traverse.FilterExpr = "v._key IN @allowedKeys"
				traverse.FilterBind = filterBind
			}
			res, err := h.graph.GraphRAG(gctx, queryText, GraphRAGOptions{
				Collections:    []string{opts.Collection},
				SeedTopN:       opts.TopN,
				SeedFilterExpr: filterExpr,
				SeedFilterBind: filterBind,
				Traverse:       traverse,
			})
			record(signalOutcome{name: EngineGraph, weight: weights[2], results: res, err: err})
			return nil
		})
	}
	_ = g.Wait()

	signals := make([]Signal, 0, len(outcomes))
	timings := make(map[string]time.Duration)
	for _, o := range outcomes {
		if o.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s signal failed: %v", o.name, o.err))
			h.logger.Warn("signal failed", map[string]interface{}{"signal": o.name, "error": o.err.Error()})
			continue
		}
		if o.results.Error != "" {
			warnings = append(warnings, fmt.Sprintf("%s signal failed: %s", o.name, o.results.Error))
			continue
		}
		for k, v := range o.results.Timings {
			timings[k] = v
		}
		warnings = append(warnings, o.results.Warnings...)
		signals = append(signals, Signal{Name: o.name, Weight: o.weight, Results: o.results.Results})
	}

	if len(signals) == 0 {
		h.metrics.RecordSearchOperation(EngineHybridFailed, false, time.Since(started).Seconds())
		res := failedResults(EngineHybridFailed, "hybrid", "all search signals failed")
		res.Warnings = warnings
		return res, nil
	}

	rrfK := opts.RRFK
	if rrfK <= 0 {
		rrfK = h.cfg.RRFK
	}
	fused := FuseRanked(signals, rrfK)
	if len(fused) > opts.TopN {
		fused = fused[:opts.TopN]
	}

	elapsed := time.Since(started)
	timings["hybrid"] = elapsed
	h.metrics.RecordSearchOperation(engine, true, elapsed.Seconds())
	h.logger.Debug("hybrid search complete", map[string]interface{}{
		"engine":  engine,
		"signals": len(signals),
		"results": len(fused),
	})

	return &Results{
		Results:      fused,
		Total:        len(fused),
		SearchEngine: engine,
		SearchType:   "hybrid",
		Warnings:     warnings,
		Timings:      timings,
	}, nil
}
