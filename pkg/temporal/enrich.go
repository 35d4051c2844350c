package temporal

import (
	"context"
	"fmt"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// baseTypeWeight ranks question types by how reliably they translate into
// retrieval signal.
var baseTypeWeight = map[models.QuestionType]float64{
	models.QuestionFactual:      0.9,
	models.QuestionDefinitional: 0.85,
	models.QuestionRelationship: 0.8,
	models.QuestionCausal:       0.8,
	models.QuestionProcedural:   0.75,
	models.QuestionHierarchical: 0.7,
	models.QuestionComparative:  0.7,
	models.QuestionMultiHop:     0.6,
	models.QuestionReversal:     0.5,
}

const defaultComponentWeight = 0.5

// EdgeWeight computes the retrieval weight of a derived edge:
// base weight for its question type, scaled by the mean of its confidence
// scores and the caller's factor. Missing components default to 0.5.
func EdgeWeight(edge *models.Edge, factor float64) float64 {
	if factor <= 0 {
		factor = 1
	}
	base, ok := baseTypeWeight[models.QuestionType(edge.QuestionType)]
	if !ok {
		base = defaultComponentWeight
	}
	confidence := defaultComponentWeight
	if edge.Confidence != nil {
		confidence = *edge.Confidence
	}
	contextConfidence := defaultComponentWeight
	if edge.ContextConfidence != nil {
		contextConfidence = *edge.ContextConfidence
	}
	return base * (confidence + contextConfidence) / 2 * factor
}

// searchFields are the edge fields registered in the search views.
var searchFields = []string{
	"question", "answer", "thinking", "rationale", "context_rationale", "type", "question_type",
}

// EnrichConfig configures the enricher.
type EnrichConfig struct {
	// QAView is the dedicated view over derived edges.
	QAView string
	// MainView is the primary memory view; edge fields are linked into it
	// as well.
	MainView string
	// Analyzer used for the registered fields.
	Analyzer string
	// WeightFactor scales every computed weight, default 1.
	WeightFactor float64
}

// Enricher post-processes derived edges: computes weights, registers
// their text fields in the search views, and sweeps for contradictions.
type Enricher struct {
	db       database.Client
	store    *Store
	resolver *Resolver
	cfg      EnrichConfig
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// NewEnricher creates an Enricher.
func NewEnricher(db database.Client, store *Store, resolver *Resolver, cfg EnrichConfig, logger observability.Logger, metrics observability.MetricsClient) *Enricher {
	if cfg.Analyzer == "" {
		cfg.Analyzer = "text_en"
	}
	if cfg.WeightFactor <= 0 {
		cfg.WeightFactor = 1
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Enricher{db: db, store: store, resolver: resolver, cfg: cfg, logger: logger.WithPrefix("enrich"), metrics: metrics}
}

// EnrichReport aggregates one enrichment pass.
type EnrichReport struct {
	TotalEdges             int      `json:"total_edges"`
	SearchAdded            bool     `json:"search_added"`
	ContradictionsChecked  int      `json:"contradictions_checked"`
	ContradictionsFound    int      `json:"contradictions_found"`
	ContradictionsResolved int      `json:"contradictions_resolved"`
	WeightsUpdated         int      `json:"weights_updated"`
	Errors                 []string `json:"errors,omitempty"`
}

const edgesByTypeQuery = `
FOR e IN @@collection
  FILTER e.type == @type
  RETURN e`

// EnrichByKeys enriches the edges with the given keys.
func (e *Enricher) EnrichByKeys(ctx context.Context, keys []string) (*EnrichReport, error) {
	edges := make([]*models.Edge, 0, len(keys))
	report := &EnrichReport{}
	for _, key := range keys {
		edge, err := e.store.GetEdge(ctx, key)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		edges = append(edges, edge)
	}
	return e.enrich(ctx, edges, report)
}

// EnrichByType enriches every edge of the given relationship type.
func (e *Enricher) EnrichByType(ctx context.Context, edgeType string) (*EnrichReport, error) {
	cursor, err := e.db.Query(ctx, edgesByTypeQuery, map[string]interface{}{
		"@collection": e.store.Collection(),
		"type":        edgeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list edges of type %q: %w", edgeType, err)
	}
	defer func() { _ = cursor.Close() }()

	var edges []*models.Edge
	for cursor.HasMore() {
		var edge models.Edge
		if err := cursor.ReadDocument(ctx, &edge); err != nil {
			return nil, fmt.Errorf("failed to read edge: %w", err)
		}
		edges = append(edges, &edge)
	}
	return e.enrich(ctx, edges, &EnrichReport{})
}

func (e *Enricher) enrich(ctx context.Context, edges []*models.Edge, report *EnrichReport) (*EnrichReport, error) {
	report.TotalEdges = len(edges)

	if err := e.RegisterSearchViews(ctx); err != nil {
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.SearchAdded = true
	}

	for _, edge := range edges {
		weight := EdgeWeight(edge, e.cfg.WeightFactor)
		if err := e.store.UpdateEdge(ctx, edge.Key, map[string]interface{}{"weight": weight}); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", edge.Key, err))
		} else {
			report.WeightsUpdated++
		}

		report.ContradictionsChecked++
		outcomes, _, err := e.resolver.ResolveAll(ctx, edge, StrategyNewestWins, nil)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", edge.Key, err))
			continue
		}
		report.ContradictionsFound += len(outcomes)
		for _, outcome := range outcomes {
			if outcome.Success {
				report.ContradictionsResolved++
			} else {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", edge.Key, outcome.Reason))
			}
		}
	}

	e.logger.Info("enrichment complete", map[string]interface{}{
		"edges":           report.TotalEdges,
		"weights_updated": report.WeightsUpdated,
		"contradictions":  report.ContradictionsFound,
		"errors":          len(report.Errors),
	})
	return report, nil
}

// RegisterSearchViews links the edge collection's question/answer fields
// into the dedicated QA view and the main memory view. The operation is
// idempotent: existing links with the same fields are left untouched.
func (e *Enricher) RegisterSearchViews(ctx context.Context) error {
	for _, view := range []string{e.cfg.QAView, e.cfg.MainView} {
		if view == "" {
			continue
		}
		if err := e.registerView(ctx, view); err != nil {
			return err
		}
	}
	return nil
}

func (e *Enricher) registerView(ctx context.Context, view string) error {
	link := database.ViewLink{Fields: make(map[string]database.ViewLink, len(searchFields))}
	for _, field := range searchFields {
		link.Fields[field] = database.ViewLink{Analyzers: []string{e.cfg.Analyzer}}
	}
	props := database.ViewProperties{
		Links: map[string]database.ViewLink{e.store.Collection(): link},
	}

	exists, err := e.db.ViewExists(ctx, view)
	if err != nil {
		return fmt.Errorf("failed to check view %q: %w", view, err)
	}
	if !exists {
		if err := e.db.CreateSearchView(ctx, view, props); err != nil {
			return fmt.Errorf("failed to create view %q: %w", view, err)
		}
		return nil
	}

	current, err := e.db.ViewProperties(ctx, view)
	if err != nil {
		return fmt.Errorf("failed to read view %q: %w", view, err)
	}
	existing, ok := current.Links[e.store.Collection()]
	if ok && hasAllFields(existing, searchFields) {
		return nil
	}
	if err := e.db.UpdateSearchView(ctx, view, props); err != nil {
		return fmt.Errorf("failed to update view %q: %w", view, err)
	}
	return nil
}

func hasAllFields(link database.ViewLink, fields []string) bool {
	if link.IncludeAllFields {
		return true
	}
	for _, f := range fields {
		if _, ok := link.Fields[f]; !ok {
			return false
		}
	}
	return true
}
