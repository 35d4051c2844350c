package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// identifierPattern restricts names that are interpolated into AQL (view
// names, field names). Values always travel through bind variables.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// BM25Config configures the lexical searcher.
type BM25Config struct {
	// ViewName is the ArangoSearch view queried by default.
	ViewName string
	// Analyzer is the text analyzer registered in the view.
	Analyzer string
	// Fields are the document fields searched by default.
	Fields []string
}

// BM25Searcher runs lexical BM25 queries against a text-indexed view.
type BM25Searcher struct {
	db      database.Client
	cfg     BM25Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewBM25Searcher creates a BM25Searcher.
func NewBM25Searcher(db database.Client, cfg BM25Config, logger observability.Logger, metrics observability.MetricsClient) *BM25Searcher {
	if cfg.Analyzer == "" {
		cfg.Analyzer = "text_en"
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = []string{"text"}
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &BM25Searcher{db: db, cfg: cfg, logger: logger.WithPrefix("bm25"), metrics: metrics}
}

// BM25Options tunes one lexical search.
type BM25Options struct {
	// Collections restricts the view scan to these collections. Missing
	// collections fail the search with an error field, not a panic.
	Collections []string
	// FilterExpr is an additional AQL predicate over `doc`; its values
	// must be referenced through FilterBind.
	FilterExpr string
	// FilterBind supplies bind variables used by FilterExpr.
	FilterBind map[string]interface{}
	// MinScore drops documents scoring below it.
	MinScore float64
	// TopN and Offset paginate the result.
	TopN   int
	Offset int
	// Tags requires every listed tag to be present on a document.
	Tags []string
	// Fields overrides the configured search fields.
	Fields []string
	// ViewName overrides the configured view.
	ViewName string
}

type bm25Row struct {
	Doc   map[string]interface{} `json:"doc"`
	Score float64                `json:"score"`
}

// Search runs a BM25 query. Business failures (empty query, unknown
// collection) come back in the result envelope; only infrastructure
// errors are returned as Go errors.
func (s *BM25Searcher) Search(ctx context.Context, queryText string, opts BM25Options) (*Results, error) {
	started := time.Now()

	if strings.TrimSpace(queryText) == "" {
		s.metrics.RecordSearchOperation(EngineBM25, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "text", "Query text cannot be empty"), nil
	}

	for _, name := range opts.Collections {
		exists, err := s.db.CollectionExists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check collection %q: %w", name, err)
		}
		if !exists {
			s.metrics.RecordSearchOperation(EngineBM25, false, time.Since(started).Seconds())
			return failedResults(EngineFailed, "text",
				fmt.Sprintf("collection does not exist: %s", name)), nil
		}
	}

	if opts.TopN <= 0 {
		opts.TopN = 10
	}

	query, countQuery, bindVars, countBind, err := s.buildQueries(queryText, opts)
	if err != nil {
		s.metrics.RecordSearchOperation(EngineBM25, false, time.Since(started).Seconds())
		return failedResults(EngineFailed, "text", err.Error()), nil
	}

	cursor, err := s.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("bm25 query failed: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	results := make([]Result, 0, opts.TopN)
	for cursor.HasMore() {
		var row bm25Row
		if err := cursor.ReadDocument(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to read bm25 row: %w", err)
		}
		results = append(results, Result{
			ID:       stringField(row.Doc, "_id"),
			Key:      stringField(row.Doc, "_key"),
			Score:    row.Score,
			Document: row.Doc,
		})
	}

	total := len(results)
	countCursor, err := s.db.Query(ctx, countQuery, countBind)
	if err == nil {
		defer func() { _ = countCursor.Close() }()
		if countCursor.HasMore() {
			var counted int
			if err := countCursor.ReadDocument(ctx, &counted); err == nil {
				total = counted
			}
		}
	} else {
		s.logger.Warn("bm25 count query failed", map[string]interface{}{"error": err.Error()})
	}

	elapsed := time.Since(started)
	s.metrics.RecordSearchOperation(EngineBM25, true, elapsed.Seconds())

	return &Results{
		Results:      results,
		Total:        total,
		SearchEngine: EngineBM25,
		SearchType:   "text",
		Timings:      map[string]time.Duration{EngineBM25: elapsed},
	}, nil
}

func (s *BM25Searcher) buildQueries(queryText string, opts BM25Options) (string, string, map[string]interface{}, map[string]interface{}, error) {
	view := opts.ViewName
	if view == "" {
		view = s.cfg.ViewName
	}
	if !identifierPattern.MatchString(view) {
		return "", "", nil, nil, fmt.Errorf("invalid view name %q", view)
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = s.cfg.Fields
	}
	disjuncts := make([]string, 0, len(fields))
	for _, field := range fields {
		if !identifierPattern.MatchString(field) {
			return "", "", nil, nil, fmt.Errorf("invalid search field %q", field)
		}
		disjuncts = append(disjuncts,
			fmt.Sprintf("ANALYZER(TOKENS(@queryText, @analyzer) ANY IN doc.%s, @analyzer)", field))
	}

	bindVars := map[string]interface{}{
		"queryText": queryText,
		"analyzer":  s.cfg.Analyzer,
		"minScore":  opts.MinScore,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FOR doc IN %s\n", view)
	fmt.Fprintf(&b, "  SEARCH %s\n", strings.Join(disjuncts, " OR "))
	if len(opts.Collections) > 0 {
		b.WriteString("  OPTIONS { collections: @collections }\n")
		bindVars["collections"] = opts.Collections
	}
	b.WriteString("  LET score = BM25(doc)\n")
	b.WriteString("  FILTER score >= @minScore\n")
	if len(opts.Tags) > 0 {
		b.WriteString("  FILTER @tags ALL IN doc.tags\n")
		bindVars["tags"] = opts.Tags
	}
	if opts.FilterExpr != "" {
		fmt.Fprintf(&b, "  FILTER %s\n", opts.FilterExpr)
		for k, v := range opts.FilterBind {
			bindVars[k] = v
		}
	}
	base := b.String()

	query := base +
		"  SORT score DESC\n" +
		"  LIMIT @offset, @topN\n" +
		"  RETURN { doc: doc, score: score }"
	countQuery := base +
		"  COLLECT WITH COUNT INTO total\n" +
		"  RETURN total"

	// The count query never references the pagination variables; the
	// server rejects queries with unused bind parameters.
	countBind := make(map[string]interface{}, len(bindVars))
	for k, v := range bindVars {
		countBind[k] = v
	}
	bindVars["offset"] = opts.Offset
	bindVars["topN"] = opts.TopN
	return query, countQuery, bindVars, countBind, nil
}

func stringField(doc map[string]interface{}, field string) string {
	v, _ := doc[field].(string)
	return v
}
