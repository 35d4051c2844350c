package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Candidate inflation factors for the ANN query. The approximate index is
// asked for more candidates than requested so post-filters still leave
// enough results.
const (
	inflateDefault   = 2
	inflateWithTags  = 5
	minEmbeddedDocs  = 2
	defaultSemanticN = 10
)

// SemanticConfig configures the vector searcher.
type SemanticConfig struct {
	// Field is the embedding field, default "embedding".
	Field string
	// MinScore is the default cosine similarity cutoff.
	MinScore float64
	// AutoFix repairs fixable readiness failures (missing embeddings,
	// missing vector index) before retrying the search.
	AutoFix bool
}

// SemanticSearcher runs approximate nearest neighbor searches over
// document embeddings, guarded by a collection readiness check.
type SemanticSearcher struct {
	db       database.Client
	embedder embedding.Embedder
	vectors  *embedding.VectorOps
	cfg      SemanticConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewSemanticSearcher creates a SemanticSearcher.
func NewSemanticSearcher(db database.Client, embedder embedding.Embedder, vectors *embedding.VectorOps, cfg SemanticConfig, logger observability.Logger, metrics observability.MetricsClient) *SemanticSearcher {
	if cfg.Field == "" {
		cfg.Field = "embedding"
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &SemanticSearcher{
		db:       db,
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger.WithPrefix("semantic"),
		metrics:  metrics,
	}
}

// SemanticOptions tunes one vector search.
type SemanticOptions struct {
	TopN int
	// Tags post-filters candidates; every listed tag must be present.
	Tags []string
	// FilterExpr is an additional AQL predicate over `doc`, applied after
	// scoring; its values must be referenced through FilterBind.
	FilterExpr string
	FilterBind map[string]interface{}
	// MinScore overrides the configured similarity cutoff when > 0.
	MinScore float64
	// AutoFix overrides the configured auto-repair behavior.
	AutoFix *bool
}

// CheckReadiness verifies a collection can serve vector searches: it
// exists, is non-empty, has at least two embedded documents with a single
// consistent dimension, and carries a vector index. The returned status
// says whether a failure is repairable.
func (s *SemanticSearcher) CheckReadiness(ctx context.Context, collection string) (*CollectionStatus, error) {
	status := &CollectionStatus{Collection: collection}

	exists, err := s.db.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	status.Exists = exists
	if !exists {
		status.Reason = fmt.Sprintf("collection does not exist: %s", collection)
		return status, nil
	}

	count, err := s.db.CollectionCount(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count %q: %w", collection, err)
	}
	status.DocumentCount = count
	if count == 0 {
		status.Reason = fmt.Sprintf("collection is empty: %s", collection)
		return status, nil
	}

	stats, err := s.vectors.DocumentStats(ctx, collection)
	if err != nil {
		return nil, err
	}
	status.EmbeddingsCount = stats.WithEmbeddings
	for dim := range stats.DimensionsFound {
		status.Dimensions = append(status.Dimensions, dim)
	}
	if stats.WithEmbeddings < minEmbeddedDocs {
		status.Fixable = true
		status.Reason = fmt.Sprintf("only %d documents have embeddings (need at least %d)",
			stats.WithEmbeddings, minEmbeddedDocs)
		return status, nil
	}
	if len(stats.DimensionsFound) > 1 {
		status.Fixable = true
		status.Reason = fmt.Sprintf("inconsistent embedding dimensions: %d distinct", len(stats.DimensionsFound))
		return status, nil
	}

	hasIndex, err := s.vectors.HasVectorIndex(ctx, collection)
	if err != nil {
		return nil, err
	}
	status.HasVectorIndex = hasIndex
	if !hasIndex {
		status.Fixable = true
		status.Reason = fmt.Sprintf("no vector index on collection: %s", collection)
		return status, nil
	}

	status.Ready = true
	return status, nil
}

// Repair regenerates embeddings and rebuilds the vector index for a
// collection whose readiness check reported a fixable failure.
func (s *SemanticSearcher) Repair(ctx context.Context, collection string) error {
	if _, err := s.vectors.FixCollectionEmbeddings(ctx, collection, "text", false); err != nil {
		return fmt.Errorf("embedding repair failed: %w", err)
	}
	if err := s.vectors.EnsureVectorIndex(ctx, collection, embedding.DefaultMetric, embedding.DefaultNLists); err != nil {
		return fmt.Errorf("vector index repair failed: %w", err)
	}
	return nil
}

const semanticQuery = `
FOR doc IN @@collection
  LET score = APPROX_NEAR_COSINE(doc.@field, @queryVector)
  SORT score DESC
  LIMIT @candidates
  FILTER score >= @minScore
%s  LIMIT @topN
  RETURN { doc: doc, score: score }`

type semanticRow struct {
	Doc   map[string]interface{} `json:"doc"`
	Score float64                `json:"score"`
}

// Search embeds the query text and runs an approximate cosine search.
// Readiness failures come back in the envelope with a diagnostic status;
// only infrastructure errors are returned as Go errors.
func (s *SemanticSearcher) Search(ctx context.Context, collection, queryText string, opts SemanticOptions) (*Results, error) {
	started := time.Now()

	if strings.TrimSpace(queryText) == "" {
		s.metrics.RecordSearchOperation(EngineSemantic, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "semantic", "Query text cannot be empty"), nil
	}

	status, err := s.CheckReadiness(ctx, collection)
	if err != nil {
		return nil, err
	}
	autoFix := s.cfg.AutoFix
	if opts.AutoFix != nil {
		autoFix = *opts.AutoFix
	}
	if !status.Ready && status.Fixable && autoFix {
		s.logger.Info("repairing collection for semantic search", map[string]interface{}{
			"collection": collection,
			"reason":     status.Reason,
		})
		if err := s.Repair(ctx, collection); err != nil {
			return nil, err
		}
		status, err = s.CheckReadiness(ctx, collection)
		if err != nil {
			return nil, err
		}
	}
	if !status.Ready {
		s.metrics.RecordSearchOperation(EngineSemantic, false, time.Since(started).Seconds())
		res := failedResults(EngineFailed, "semantic", status.Reason)
		res.CollectionStatus = status
		return res, nil
	}

	queryVector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if ok, reason := embedding.CheckEmbeddingFormat(queryVector); !ok {
		s.metrics.RecordSearchOperation(EngineSemantic, false, time.Since(started).Seconds())
		res := failedResults(EngineFailed, "semantic", fmt.Sprintf("query embedding unusable: %s", reason))
		res.CollectionStatus = status
		return res, nil
	}

	topN := opts.TopN
	if topN <= 0 {
		topN = defaultSemanticN
	}
	inflate := inflateDefault
	var postFilter strings.Builder
	minScore := s.cfg.MinScore
	if opts.MinScore > 0 {
		minScore = opts.MinScore
	}
	bindVars := map[string]interface{}{
		"@collection": collection,
		"field":       s.cfg.Field,
		"queryVector": queryVector,
		"minScore":    minScore,
		"topN":        topN,
	}
	if len(opts.Tags) > 0 {
		inflate = inflateWithTags
		postFilter.WriteString("  FILTER @tags ALL IN doc.tags\n")
		bindVars["tags"] = opts.Tags
	}
	if opts.FilterExpr != "" {
		inflate = inflateWithTags
		fmt.Fprintf(&postFilter, "  FILTER %s\n", opts.FilterExpr)
		for k, v := range opts.FilterBind {
			bindVars[k] = v
		}
	}
	bindVars["candidates"] = topN * inflate

	cursor, err := s.db.Query(ctx, fmt.Sprintf(semanticQuery, postFilter.String()), bindVars)
	if err != nil {
		return nil, fmt.Errorf("semantic query failed: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	results := make([]Result, 0, topN)
	for cursor.HasMore() {
		var row semanticRow
		if err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to read semantic row: %w", err)
		}
		results = append(results, Result{
			ID:              stringField(row.Doc, "_id"),
			Key:             stringField(row.Doc, "_key"),
			Score:           row.Score,
			SimilarityScore: row.Score,
			Document:        row.Doc,
		})
	}

	elapsed := time.Since(started)
	s.metrics.RecordSearchOperation(EngineSemantic, true, elapsed.Seconds())

	return &Results{
		Results:          results,
		Total:            len(results),
		SearchEngine:     EngineSemantic,
		SearchType:       "semantic",
		CollectionStatus: status,
		Timings:          map[string]time.Duration{EngineSemantic: elapsed},
	}, nil
}
