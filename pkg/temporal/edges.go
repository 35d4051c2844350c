// Package temporal implements the bi-temporal knowledge graph layer:
// edge storage with half-open validity intervals, contradiction detection
// over overlapping intervals, the resolution strategies, and weighted
// enrichment of derived edges.
package temporal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Store persists temporal edges in an edge collection.
type Store struct {
	db         database.Client
	collection string
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// NewStore creates a Store over the given edge collection.
func NewStore(db database.Client, collection string, logger observability.Logger, metrics observability.MetricsClient) *Store {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Store{db: db, collection: collection, logger: logger.WithPrefix("temporal"), metrics: metrics}
}

// Collection returns the backing edge collection name.
func (s *Store) Collection() string { return s.collection }

// EnsureCollection creates the edge collection when missing.
func (s *Store) EnsureCollection(ctx context.Context) error {
	exists, err := s.db.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check edge collection: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.db.CreateCollection(ctx, s.collection, true); err != nil {
		return fmt.Errorf("failed to create edge collection: %w", err)
	}
	return nil
}

// CreateEdge inserts a new active edge. From, To, Type, and ValidAt are
// required; CreatedAt defaults to now and the key to a fresh UUID.
func (s *Store) CreateEdge(ctx context.Context, edge *models.Edge) (*models.Edge, error) {
	if edge.From == "" || edge.To == "" {
		s.metrics.RecordEdgeOperation("create", false)
		return nil, fmt.Errorf("edge requires _from and _to")
	}
	if edge.Type == "" {
		s.metrics.RecordEdgeOperation("create", false)
		return nil, fmt.Errorf("edge requires a type")
	}
	if edge.ValidAt.IsZero() {
		s.metrics.RecordEdgeOperation("create", false)
		return nil, fmt.Errorf("edge requires valid_at")
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	if edge.Key == "" {
		edge.Key = uuid.NewString()
	}

	meta, err := s.db.InsertDocument(ctx, s.collection, edge)
	if err != nil {
		s.metrics.RecordEdgeOperation("create", false)
		return nil, fmt.Errorf("failed to insert edge: %w", err)
	}
	edge.ID = meta.ID
	edge.Key = meta.Key
	s.metrics.RecordEdgeOperation("create", true)
	s.logger.Debug("edge created", map[string]interface{}{
		"key":  edge.Key,
		"from": edge.From,
		"to":   edge.To,
		"type": edge.Type,
	})
	return edge, nil
}

// GetEdge reads one edge by key.
func (s *Store) GetEdge(ctx context.Context, key string) (*models.Edge, error) {
	var edge models.Edge
	if err := s.db.GetDocument(ctx, s.collection, key, &edge); err != nil {
		return nil, fmt.Errorf("failed to read edge %q: %w", key, err)
	}
	return &edge, nil
}

// InvalidateEdge closes an edge's validity interval. Invalidating an
// already-invalidated edge is a no-op that keeps the original InvalidAt.
func (s *Store) InvalidateEdge(ctx context.Context, key string, invalidAt time.Time, reason, invalidatedBy string) (*models.Edge, error) {
	edge, err := s.GetEdge(ctx, key)
	if err != nil {
		s.metrics.RecordEdgeOperation("invalidate", false)
		return nil, err
	}
	if edge.InvalidAt != nil {
		return edge, nil
	}

	patch := map[string]interface{}{
		"invalid_at":          invalidAt,
		"invalidation_reason": reason,
	}
	if invalidatedBy != "" {
		patch["invalidated_by"] = invalidatedBy
	}
	if err := s.db.UpdateDocument(ctx, s.collection, key, patch); err != nil {
		s.metrics.RecordEdgeOperation("invalidate", false)
		return nil, fmt.Errorf("failed to invalidate edge %q: %w", key, err)
	}
	edge.InvalidAt = &invalidAt
	edge.InvalidationReason = reason
	edge.InvalidatedBy = invalidatedBy
	s.metrics.RecordEdgeOperation("invalidate", true)
	return edge, nil
}

// UpdateEdge merges a patch into a stored edge.
func (s *Store) UpdateEdge(ctx context.Context, key string, patch map[string]interface{}) error {
	if err := s.db.UpdateDocument(ctx, s.collection, key, patch); err != nil {
		s.metrics.RecordEdgeOperation("update", false)
		return fmt.Errorf("failed to update edge %q: %w", key, err)
	}
	s.metrics.RecordEdgeOperation("update", true)
	return nil
}
