package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Tag match modes.
const (
	TagMatchAny = "any"
	TagMatchAll = "all"
)

// TagSearcher retrieves documents by exact tag membership.
type TagSearcher struct {
	db      database.Client
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewTagSearcher creates a TagSearcher.
func NewTagSearcher(db database.Client, logger observability.Logger, metrics observability.MetricsClient) *TagSearcher {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &TagSearcher{db: db, logger: logger.WithPrefix("tags"), metrics: metrics}
}

// TagOptions tunes one tag search.
type TagOptions struct {
	// Match selects "any" (default) or "all" semantics over Tags.
	Match string
	// FilterExpr is an additional AQL predicate over `doc`; its values
	// must be referenced through FilterBind.
	FilterExpr string
	FilterBind map[string]interface{}
	// Limit caps the result count. Zero means no cap.
	Limit int
}

type tagRow struct {
	Doc           map[string]interface{} `json:"doc"`
	TagMatchScore float64                `json:"tag_match_score"`
}

// Search returns documents carrying the requested tags, ordered by key so
// the ranking is stable for fusion. The per-document tag_match_score is
// the matched fraction of the requested tags.
func (s *TagSearcher) Search(ctx context.Context, collection string, tags []string, opts TagOptions) (*Results, error) {
	started := time.Now()

	if len(tags) == 0 {
		s.metrics.RecordSearchOperation(EngineTag, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "tags", "At least one tag is required"), nil
	}

	exists, err := s.db.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	if !exists {
		s.metrics.RecordSearchOperation(EngineTag, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "tags",
			fmt.Sprintf("collection does not exist: %s", collection)), nil
	}

	match := strings.ToLower(opts.Match)
	switch match {
	case "":
		match = TagMatchAny
	case TagMatchAny, TagMatchAll:
	default:
		s.metrics.RecordSearchOperation(EngineTag, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "tags",
			fmt.Sprintf("invalid match mode %q: must be %q or %q", opts.Match, TagMatchAny, TagMatchAll)), nil
	}

	predicate := "LENGTH(INTERSECTION(doc.tags, @tags)) > 0"
	if match == TagMatchAll {
		predicate = "@tags ALL IN doc.tags"
	}

	bindVars := map[string]interface{}{
		"@collection": collection,
		"tags":        tags,
	}

	var b strings.Builder
	b.WriteString("FOR doc IN @@collection\n")
	fmt.Fprintf(&b, "  FILTER %s\n", predicate)
	if opts.FilterExpr != "" {
		fmt.Fprintf(&b, "  FILTER %s\n", opts.FilterExpr)
		for k, v := range opts.FilterBind {
			bindVars[k] = v
		}
	}
	b.WriteString("  SORT doc._key ASC\n")
	if opts.Limit > 0 {
		b.WriteString("  LIMIT @limit\n")
		bindVars["limit"] = opts.Limit
	}
	b.WriteString("  RETURN { doc: doc, tag_match_score: LENGTH(INTERSECTION(doc.tags, @tags)) / LENGTH(@tags) }")

	cursor, err := s.db.Query(ctx, b.String(), bindVars)
	if err != nil {
		return nil, fmt.Errorf("tag query failed: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	var results []Result
	for cursor.HasMore() {
		var row tagRow
		if err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to read tag row: %w", err)
		}
		results = append(results, Result{
			ID:            stringField(row.Doc, "_id"),
			Key:           stringField(row.Doc, "_key"),
			Score:         row.TagMatchScore,
			TagMatchScore: row.TagMatchScore,
			Document:      row.Doc,
		})
	}
	if results == nil {
		results = []Result{}
	}

	elapsed := time.Since(started)
	s.metrics.RecordSearchOperation(EngineTag, true, elapsed.Seconds())

	return &Results{
		Results:      results,
		Total:        len(results),
		SearchEngine: EngineTag,
		SearchType:   "tags",
		Timings:      map[string]time.Duration{EngineTag: elapsed},
	}, nil
}

// KeysWithTags returns just the document keys matching the tags, used by
// the hybrid engine to prefilter candidate sets.
func (s *TagSearcher) KeysWithTags(ctx context.Context, collection string, tags []string, match string) (map[string]bool, error) {
	res, err := s.Search(ctx, collection, tags, TagOptions{Match: match})
	if err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, fmt.Errorf("tag prefilter failed: %s", res.Error)
	}
	keys := make(map[string]bool, len(res.Results))
	for _, r := range res.Results {
		keys[r.Key] = true
	}
	return keys, nil
}
