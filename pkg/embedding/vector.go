package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Default vector index parameters.
const (
	DefaultMetric = "cosine"
	DefaultNLists = 50
)

// CheckEmbeddingFormat reports whether v is a usable embedding: non-empty
// with every component finite.
func CheckEmbeddingFormat(v []float32) (bool, string) {
	if len(v) == 0 {
		return false, "embedding is empty"
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false, fmt.Sprintf("embedding component %d is not finite", i)
		}
	}
	return true, ""
}

// VectorOps bundles the collection-level embedding utilities.
type VectorOps struct {
	db               database.Client
	embedder         Embedder
	logger           observability.Logger
	field            string
	defaultDimension int
}

// NewVectorOps creates a VectorOps. embedder may be nil when only audits
// and index management are needed.
func NewVectorOps(db database.Client, embedder Embedder, field string, defaultDimension int, logger observability.Logger) *VectorOps {
	if field == "" {
		field = "embedding"
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &VectorOps{
		db:               db,
		embedder:         embedder,
		logger:           logger.WithPrefix("vector"),
		field:            field,
		defaultDimension: defaultDimension,
	}
}

type embeddingProbe struct {
	Key   string `json:"key"`
	Dim   int    `json:"dim"`
	Model string `json:"model"`
}

const statsQuery = `
FOR doc IN @@collection
  LET emb = doc.@field
  FILTER emb != null
  RETURN { key: doc._key, dim: LENGTH(emb), model: doc.embedding_metadata.model }`

// DocumentStats audits a collection's embeddings: totals, dimension and
// model consistency, and a human-readable issue list. Business problems are
// reported in the stats, never as errors.
func (v *VectorOps) DocumentStats(ctx context.Context, collection string) (*models.DocumentStats, error) {
	total, err := v.db.CollectionCount(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to count %q: %w", collection, err)
	}

	cursor, err := v.db.Query(ctx, statsQuery, map[string]interface{}{
		"@collection": collection,
		"field":       v.field,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit %q: %w", collection, err)
	}
	defer func() { _ = cursor.Close() }()

	stats := &models.DocumentStats{
		Total:           int(total),
		DimensionsFound: make(map[int]int),
		ModelsFound:     make(map[string]int),
	}
	for cursor.HasMore() {
		var probe embeddingProbe
		if err := cursor.ReadDocument(ctx, &probe); err != nil {
			return nil, fmt.Errorf("failed to read audit row: %w", err)
		}
		stats.WithEmbeddings++
		stats.DimensionsFound[probe.Dim]++
		if probe.Model != "" {
			stats.ModelsFound[probe.Model]++
		}
	}
	stats.Missing = stats.Total - stats.WithEmbeddings

	if stats.Missing > 0 {
		stats.Issues = append(stats.Issues,
			fmt.Sprintf("%d documents missing embeddings", stats.Missing))
	}
	if len(stats.DimensionsFound) > 1 {
		stats.Issues = append(stats.Issues,
			fmt.Sprintf("inconsistent embedding dimensions: %d distinct", len(stats.DimensionsFound)))
	}
	if len(stats.ModelsFound) > 1 {
		stats.Issues = append(stats.Issues,
			fmt.Sprintf("inconsistent embedding models: %d distinct", len(stats.ModelsFound)))
	}
	return stats, nil
}

const sampleDimensionQuery = `
FOR doc IN @@collection
  FILTER doc.@field != null
  LIMIT 1
  RETURN LENGTH(doc.@field)`

// HasVectorIndex reports whether a vector index exists on the embedding
// field.
func (v *VectorOps) HasVectorIndex(ctx context.Context, collection string) (bool, error) {
	indexes, err := v.db.CollectionIndexes(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Type != "vector" {
			continue
		}
		for _, f := range idx.Fields {
			if f == v.field {
				return true, nil
			}
		}
	}
	return false, nil
}

// EnsureVectorIndex creates a cosine vector index on the embedding field if
// none exists. The dimension is detected from a sampled document, falling
// back to the configured default.
func (v *VectorOps) EnsureVectorIndex(ctx context.Context, collection, metric string, nLists int) error {
	if metric == "" {
		metric = DefaultMetric
	}
	if nLists <= 0 {
		nLists = DefaultNLists
	}

	exists, err := v.HasVectorIndex(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	dimensions := v.defaultDimension
	cursor, err := v.db.Query(ctx, sampleDimensionQuery, map[string]interface{}{
		"@collection": collection,
		"field":       v.field,
	})
	if err != nil {
		return fmt.Errorf("failed to sample embedding dimension: %w", err)
	}
	defer func() { _ = cursor.Close() }()
	if cursor.HasMore() {
		var sampled int
		if err := cursor.ReadDocument(ctx, &sampled); err == nil && sampled > 0 {
			dimensions = sampled
		}
	}
	if dimensions <= 0 {
		return fmt.Errorf("cannot determine embedding dimension for %q", collection)
	}

	v.logger.Info("creating vector index", map[string]interface{}{
		"collection": collection,
		"dimensions": dimensions,
		"metric":     metric,
	})
	return v.db.EnsureVectorIndex(ctx, collection, database.VectorIndexOptions{
		Field:      v.field,
		Metric:     metric,
		NLists:     nLists,
		Dimensions: dimensions,
	})
}

// FixReport summarizes an embedding repair pass.
type FixReport struct {
	Checked   int      `json:"checked"`
	Fixed     int      `json:"fixed"`
	Skipped   int      `json:"skipped"`
	DryRun    bool     `json:"dry_run"`
	Errors    []string `json:"errors,omitempty"`
	Dimension int      `json:"dimension"`
}

type fixCandidate struct {
	Key  string `json:"key"`
	Text string `json:"text"`
	Dim  int    `json:"dim"`
}

const fixCandidatesQuery = `
FOR doc IN @@collection
  LET emb = doc.@field
  FILTER emb == null OR LENGTH(emb) != @dimension
  RETURN { key: doc._key, text: doc.@textField, dim: emb == null ? 0 : LENGTH(emb) }`

// FixCollectionEmbeddings regenerates missing or dimension-mismatched
// embeddings through the embedding service. With dryRun the candidates are
// only counted.
func (v *VectorOps) FixCollectionEmbeddings(ctx context.Context, collection, textField string, dryRun bool) (*FixReport, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	if textField == "" {
		textField = "text"
	}
	dimension := v.embedder.Dimensions()
	if dimension <= 0 {
		dimension = v.defaultDimension
	}

	cursor, err := v.db.Query(ctx, fixCandidatesQuery, map[string]interface{}{
		"@collection": collection,
		"field":       v.field,
		"textField":   textField,
		"dimension":   dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find fix candidates: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	report := &FixReport{DryRun: dryRun, Dimension: dimension}
	for cursor.HasMore() {
		var candidate fixCandidate
		if err := cursor.ReadDocument(ctx, &candidate); err != nil {
			return nil, fmt.Errorf("failed to read fix candidate: %w", err)
		}
		report.Checked++

		if candidate.Text == "" {
			report.Skipped++
			continue
		}
		if dryRun {
			continue
		}

		vec, err := v.embedder.Embed(ctx, candidate.Text)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %v", candidate.Key, err))
			continue
		}
		if ok, reason := CheckEmbeddingFormat(vec); !ok {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %s", candidate.Key, reason))
			continue
		}

		patch := map[string]interface{}{
			v.field: vec,
			"embedding_metadata": models.EmbeddingMetadata{
				Model:      v.embedder.Model(),
				Dimensions: len(vec),
				CreatedAt:  time.Now().UTC(),
			},
		}
		if err := v.db.UpdateDocument(ctx, collection, candidate.Key, patch); err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %v", candidate.Key, err))
			continue
		}
		report.Fixed++
	}

	v.logger.Info("embedding fix pass complete", map[string]interface{}{
		"collection": collection,
		"checked":    report.Checked,
		"fixed":      report.Fixed,
		"dry_run":    dryRun,
	})
	return report, nil
}
