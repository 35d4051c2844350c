package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Traversal directions.
const (
	DirectionOutbound = "OUTBOUND"
	DirectionInbound  = "INBOUND"
	DirectionAny      = "ANY"
)

// Traversal limits. MaxTraversalDepth is a hard cap; deeper requests are
// narrowed and surfaced as a warning.
const (
	MaxTraversalDepth        = 3
	DefaultMaxRelatedPerSeed = 100
	DefaultTraversalTimeout  = 5 * time.Second
	relatedScoreFactor       = 0.8
)

// GraphConfig configures the traverser.
type GraphConfig struct {
	// GraphName is the named graph walked by traversals.
	GraphName string
	// EdgeCollection backs the graph; its existence gates graph search.
	EdgeCollection string
}

// GraphTraverser runs bounded breadth-first traversals over the
// relationship graph, either from an explicit start vertex or seeded by a
// lexical pre-query.
type GraphTraverser struct {
	db      database.Client
	bm25    *BM25Searcher
	cfg     GraphConfig
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewGraphTraverser creates a GraphTraverser. bm25 may be nil when only
// explicit-start traversals are needed.
func NewGraphTraverser(db database.Client, bm25 *BM25Searcher, cfg GraphConfig, logger observability.Logger, metrics observability.MetricsClient) *GraphTraverser {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &GraphTraverser{db: db, bm25: bm25, cfg: cfg, logger: logger.WithPrefix("graph"), metrics: metrics}
}

// TraverseOptions tunes one traversal.
type TraverseOptions struct {
	MinDepth int
	MaxDepth int
	// Direction is OUTBOUND, INBOUND, or ANY (default).
	Direction string
	// RelationshipTypes restricts the edge types walked.
	RelationshipTypes []string
	// FilterExpr is an additional AQL predicate over `v` and `e`; its
	// values must be referenced through FilterBind.
	FilterExpr string
	FilterBind map[string]interface{}
	// MaxRelatedPerSeed caps results per start vertex, default 100.
	MaxRelatedPerSeed int
	// Timeout is the wall-clock cap per traversal, default 5s.
	Timeout time.Duration
}

func (o *TraverseOptions) normalize() (warnings []string, errReason string) {
	switch strings.ToUpper(o.Direction) {
	case "":
		o.Direction = DirectionAny
	case DirectionOutbound, DirectionInbound, DirectionAny:
		o.Direction = strings.ToUpper(o.Direction)
	default:
		return nil, fmt.Sprintf("invalid direction %q: must be OUTBOUND, INBOUND, or ANY", o.Direction)
	}
	if o.MinDepth < 1 {
		o.MinDepth = 1
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = 1
	}
	if o.MaxDepth > MaxTraversalDepth {
		warnings = append(warnings,
			fmt.Sprintf("max_depth %d exceeds limit, capped at %d", o.MaxDepth, MaxTraversalDepth))
		o.MaxDepth = MaxTraversalDepth
	}
	if o.MinDepth > o.MaxDepth {
		o.MinDepth = o.MaxDepth
	}
	if o.MaxRelatedPerSeed <= 0 {
		o.MaxRelatedPerSeed = DefaultMaxRelatedPerSeed
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTraversalTimeout
	}
	return warnings, ""
}

type graphRow struct {
	Vertex map[string]interface{} `json:"vertex"`
	Edge   map[string]interface{} `json:"edge"`
	Depth  int                    `json:"depth"`
	Path   []string               `json:"path"`
}

// Traverse walks the graph breadth-first from startVertex. Results are
// scored by proximity: 1/(1+depth).
func (t *GraphTraverser) Traverse(ctx context.Context, startVertex string, opts TraverseOptions) (*Results, error) {
	started := time.Now()

	warnings, reason := opts.normalize()
	if reason != "" {
		t.metrics.RecordSearchOperation(EngineGraph, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "graph", reason), nil
	}
	if startVertex == "" {
		t.metrics.RecordSearchOperation(EngineGraph, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "graph", "start vertex is required"), nil
	}
	for _, w := range warnings {
		t.logger.Warn(w, map[string]interface{}{"start_vertex": startVertex})
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	rows, err := t.traverseOnce(ctx, startVertex, opts)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			ID:       stringField(row.Vertex, "_id"),
			Key:      stringField(row.Vertex, "_key"),
			Score:    1.0 / float64(1+row.Depth),
			Depth:    row.Depth,
			Path:     row.Path,
			Document: row.Vertex,
		})
	}
	if len(rows) >= opts.MaxRelatedPerSeed {
		warnings = append(warnings,
			fmt.Sprintf("per-seed limit of %d results reached", opts.MaxRelatedPerSeed))
	}
	if elapsed := time.Since(started); elapsed > opts.Timeout*4/5 {
		warnings = append(warnings, "traversal used most of its time budget")
	}

	elapsed := time.Since(started)
	t.metrics.RecordSearchOperation(EngineGraph, true, elapsed.Seconds())

	return &Results{
		Results:      results,
		Total:        len(results),
		SearchEngine: EngineGraph,
		SearchType:   "graph",
		Warnings:     warnings,
		Timings:      map[string]time.Duration{EngineGraph: elapsed},
	}, nil
}

func (t *GraphTraverser) traverseOnce(ctx context.Context, startVertex string, opts TraverseOptions) ([]graphRow, error) {
	bindVars := map[string]interface{}{
		"startVertex": startVertex,
		"graphName":   t.cfg.GraphName,
		"maxRelated":  opts.MaxRelatedPerSeed,
		"deadline":    time.Now().Add(opts.Timeout).UnixMilli(),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FOR v, e, p IN %d..%d %s @startVertex\n", opts.MinDepth, opts.MaxDepth, opts.Direction)
	b.WriteString("  GRAPH @graphName\n")
	b.WriteString("  PRUNE DATE_NOW() >= @deadline\n")
	b.WriteString("  OPTIONS { uniqueVertices: 'global', order: 'bfs' }\n")
	if len(opts.RelationshipTypes) > 0 {
		b.WriteString("  FILTER e.type IN @relationshipTypes\n")
		bindVars["relationshipTypes"] = opts.RelationshipTypes
	}
	if opts.FilterExpr != "" {
		fmt.Fprintf(&b, "  FILTER %s\n", opts.FilterExpr)
		for k, v := range opts.FilterBind {
			bindVars[k] = v
		}
	}
	b.WriteString("  LIMIT @maxRelated\n")
	b.WriteString("  RETURN { vertex: v, edge: e, depth: LENGTH(p.edges), path: p.vertices[*]._id }")

	cursor, err := t.db.Query(ctx, b.String(), bindVars)
	if err != nil {
		return nil, fmt.Errorf("graph traversal failed: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	var rows []graphRow
	for cursor.HasMore() {
		var row graphRow
		if err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to read traversal row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GraphRAGOptions tunes a lexically seeded traversal.
type GraphRAGOptions struct {
	// Collections restricts the seeding BM25 query.
	Collections []string
	// SeedTopN caps the number of lexical seeds, default 10.
	SeedTopN int
	// SeedFilterExpr is an additional AQL predicate over `doc` applied to
	// the seeding query; its values must be referenced through
	// SeedFilterBind.
	SeedFilterExpr string
	SeedFilterBind map[string]interface{}
	// Traverse configures the per-seed traversal.
	Traverse TraverseOptions
}

// GraphRAG seeds a traversal from a BM25 pre-query: seed documents keep
// their lexical scores and related vertices enter the candidate set at a
// scaled-down score.
func (t *GraphTraverser) GraphRAG(ctx context.Context, queryText string, opts GraphRAGOptions) (*Results, error) {
	started := time.Now()

	if t.bm25 == nil {
		return nil, fmt.Errorf("graph rag requires a lexical searcher")
	}
	warnings, reason := opts.Traverse.normalize()
	if reason != "" {
		t.metrics.RecordSearchOperation(EngineGraph, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "graph_rag", reason), nil
	}
	if opts.SeedTopN <= 0 {
		opts.SeedTopN = 10
	}

	seeds, err := t.bm25.Search(ctx, queryText, BM25Options{
		Collections: opts.Collections,
		FilterExpr:  opts.SeedFilterExpr,
		FilterBind:  opts.SeedFilterBind,
		TopN:        opts.SeedTopN,
	})
	if err != nil {
		return nil, fmt.Errorf("graph rag seeding failed: %w", err)
	}
	if seeds.Error != "" {
		t.metrics.RecordSearchOperation(EngineGraph, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "graph_rag", seeds.Error), nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Traverse.Timeout)
	defer cancel()

	seen := make(map[string]bool)
	var results []Result
	for _, seed := range seeds.Results {
		if !seen[seed.Key] {
			seen[seed.Key] = true
			results = append(results, seed)
		}
		rows, err := t.traverseOnce(ctx, seed.ID, opts.Traverse)
		if err != nil {
			return nil, err
		}
		if len(rows) >= opts.Traverse.MaxRelatedPerSeed {
			warnings = append(warnings,
				fmt.Sprintf("per-seed limit of %d results reached for %s", opts.Traverse.MaxRelatedPerSeed, seed.ID))
		}
		for _, row := range rows {
			key := stringField(row.Vertex, "_key")
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, Result{
				ID:       stringField(row.Vertex, "_id"),
				Key:      key,
				Score:    seed.Score * relatedScoreFactor,
				Depth:    row.Depth,
				Path:     row.Path,
				Document: row.Vertex,
			})
		}
	}
	if results == nil {
		results = []Result{}
	}

	elapsed := time.Since(started)
	t.metrics.RecordSearchOperation(EngineGraph, true, elapsed.Seconds())

	return &Results{
		Results:      results,
		Total:        len(results),
		SearchEngine: EngineGraph,
		SearchType:   "graph_rag",
		Warnings:     warnings,
		Timings:      map[string]time.Duration{EngineGraph: elapsed},
	}, nil
}
