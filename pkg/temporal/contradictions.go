package temporal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/recallmesh/recallmesh/pkg/llm"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Resolution strategies.
const (
	StrategyNewestWins    = "newest_wins"
	StrategyMerge         = "merge"
	StrategySplitTimeline = "split_timeline"
)

// Invalidation reasons written by the resolver.
const (
	ReasonSuperseded    = "Superseded by newer edge"
	ReasonMerged        = "Merged into a new edge"
	ReasonTimelineSplit = "Timeline split by adjacent edge"
)

// Outcome describes one resolution step. Write failures are reported as
// values with Action "error", never as partial state.
type Outcome struct {
	Action         string `json:"action"`
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
	EdgeKey        string `json:"edge_key,omitempty"`
	InvalidatedKey string `json:"invalidated_key,omitempty"`
	Strategy       string `json:"strategy"`
	Rationale      string `json:"rationale,omitempty"`
}

// Resolver detects and resolves temporal contradictions between edges
// sharing the same (from, to, type).
type Resolver struct {
	store   *Store
	chooser *StrategyChooser
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewResolver creates a Resolver. chooser may be nil; resolution then
// always uses the caller's strategy.
func NewResolver(store *Store, chooser *StrategyChooser, logger observability.Logger, metrics observability.MetricsClient) *Resolver {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Resolver{store: store, chooser: chooser, logger: logger.WithPrefix("contradictions"), metrics: metrics}
}

const contradictingEdgesQuery = `
FOR e IN @@collection
  FILTER e._from == @from AND e._to == @to
%s  RETURN e`

// DetectOptions tunes contradiction detection.
type DetectOptions struct {
	// Type restricts candidates to one relationship type.
	Type string
	// AttributeFilter requires equality on edge attributes.
	AttributeFilter map[string]interface{}
	// IncludeInvalidated also returns edges whose interval is closed.
	IncludeInvalidated bool
}

// DetectContradictingEdges returns edges sharing the endpoint pair (and
// type, when given), by default excluding invalidated ones.
func (r *Resolver) DetectContradictingEdges(ctx context.Context, from, to string, opts DetectOptions) ([]*models.Edge, error) {
	bindVars := map[string]interface{}{
		"@collection": r.store.Collection(),
		"from":        from,
		"to":          to,
	}
	filters := ""
	if opts.Type != "" {
		filters += "  FILTER e.type == @type\n"
		bindVars["type"] = opts.Type
	}
	if !opts.IncludeInvalidated {
		filters += "  FILTER e.invalid_at == null\n"
	}
	i := 0
	for k, v := range opts.AttributeFilter {
		keyVar := fmt.Sprintf("attrKey%d", i)
		valVar := fmt.Sprintf("attrVal%d", i)
		filters += fmt.Sprintf("  FILTER e.attributes[@%s] == @%s\n", keyVar, valVar)
		bindVars[keyVar] = k
		bindVars[valVar] = v
		i++
	}

	cursor, err := r.store.db.Query(ctx, fmt.Sprintf(contradictingEdgesQuery, filters), bindVars)
	if err != nil {
		return nil, fmt.Errorf("contradiction detection failed: %w", err)
	}
	defer func() { _ = cursor.Close() }()

	var edges []*models.Edge
	for cursor.HasMore() {
		var edge models.Edge
		if err := cursor.ReadDocument(ctx, &edge); err != nil {
			return nil, fmt.Errorf("failed to read candidate edge: %w", err)
		}
		edges = append(edges, &edge)
	}
	return edges, nil
}

// DetectTemporalContradictions narrows the candidates to those whose
// validity interval overlaps the new edge's, excluding the listed keys and
// the new edge itself.
func (r *Resolver) DetectTemporalContradictions(ctx context.Context, newEdge *models.Edge, excludeKeys []string) ([]*models.Edge, error) {
	candidates, err := r.DetectContradictingEdges(ctx, newEdge.From, newEdge.To, DetectOptions{Type: newEdge.Type})
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(excludeKeys)+1)
	excluded[newEdge.Key] = true
	for _, k := range excludeKeys {
		excluded[k] = true
	}

	var contradictions []*models.Edge
	for _, candidate := range candidates {
		if excluded[candidate.Key] {
			continue
		}
		if newEdge.Overlaps(candidate) {
			contradictions = append(contradictions, candidate)
		}
	}
	// Insertion order keeps sequential merging deterministic.
	sort.SliceStable(contradictions, func(i, j int) bool {
		if contradictions[i].CreatedAt.Equal(contradictions[j].CreatedAt) {
			return contradictions[i].Key < contradictions[j].Key
		}
		return contradictions[i].CreatedAt.Before(contradictions[j].CreatedAt)
	})
	return contradictions, nil
}

// ResolveContradiction applies one strategy to a (new, existing) pair.
// The new edge may be mutated (widened interval, capped invalid_at) and is
// persisted before the outcome is returned.
func (r *Resolver) ResolveContradiction(ctx context.Context, newEdge, existing *models.Edge, strategy string) Outcome {
	switch strategy {
	case StrategyNewestWins:
		return r.resolveNewestWins(ctx, newEdge, existing)
	case StrategyMerge:
		return r.resolveMerge(ctx, newEdge, existing)
	case StrategySplitTimeline:
		return r.resolveSplitTimeline(ctx, newEdge, existing)
	default:
		return Outcome{
			Action:   "error",
			Success:  false,
			Strategy: strategy,
			Reason:   fmt.Sprintf("unknown strategy %q", strategy),
		}
	}
}

func (r *Resolver) resolveNewestWins(ctx context.Context, newEdge, existing *models.Edge) Outcome {
	winner, loser := newEdge, existing
	invalidAt := newEdge.ValidAt
	if existing.CreatedAt.After(newEdge.CreatedAt) {
		winner, loser = existing, newEdge
		invalidAt = existing.ValidAt
	}
	if _, err := r.store.InvalidateEdge(ctx, loser.Key, invalidAt, ReasonSuperseded, winner.Key); err != nil {
		return Outcome{Action: "error", Success: false, Strategy: StrategyNewestWins, Reason: err.Error()}
	}
	return Outcome{
		Action:         "invalidated",
		Success:        true,
		Strategy:       StrategyNewestWins,
		EdgeKey:        winner.Key,
		InvalidatedKey: loser.Key,
	}
}

func (r *Resolver) resolveMerge(ctx context.Context, newEdge, existing *models.Edge) Outcome {
	mergedValidAt := newEdge.ValidAt
	if existing.ValidAt.Before(mergedValidAt) {
		mergedValidAt = existing.ValidAt
	}
	var mergedInvalidAt *time.Time
	if newEdge.InvalidAt != nil && existing.InvalidAt != nil {
		later := *newEdge.InvalidAt
		if existing.InvalidAt.After(later) {
			later = *existing.InvalidAt
		}
		mergedInvalidAt = &later
	}
	mergedFrom := []string{newEdge.Key, existing.Key}

	patch := map[string]interface{}{
		"valid_at":    mergedValidAt,
		"invalid_at":  mergedInvalidAt,
		"merged_from": mergedFrom,
	}
	if err := r.store.UpdateEdge(ctx, newEdge.Key, patch); err != nil {
		return Outcome{Action: "error", Success: false, Strategy: StrategyMerge, Reason: err.Error()}
	}
	newEdge.ValidAt = mergedValidAt
	newEdge.InvalidAt = mergedInvalidAt
	newEdge.MergedFrom = mergedFrom

	// The existing edge may carry a bounded interval rather than an
	// invalidation, so the idempotence guard does not apply here.
	if err := r.store.UpdateEdge(ctx, existing.Key, map[string]interface{}{
		"invalid_at":          mergedValidAt,
		"invalidation_reason": ReasonMerged,
		"invalidated_by":      newEdge.Key,
	}); err != nil {
		return Outcome{Action: "error", Success: false, Strategy: StrategyMerge, Reason: err.Error()}
	}
	return Outcome{
		Action:         "merged",
		Success:        true,
		Strategy:       StrategyMerge,
		EdgeKey:        newEdge.Key,
		InvalidatedKey: existing.Key,
	}
}

func (r *Resolver) resolveSplitTimeline(ctx context.Context, newEdge, existing *models.Edge) Outcome {
	switch {
	case newEdge.ValidAt.Before(existing.ValidAt):
		capAt := existing.ValidAt
		if err := r.store.UpdateEdge(ctx, newEdge.Key, map[string]interface{}{"invalid_at": capAt}); err != nil {
			return Outcome{Action: "error", Success: false, Strategy: StrategySplitTimeline, Reason: err.Error()}
		}
		newEdge.InvalidAt = &capAt
		return Outcome{
			Action:   "capped",
			Success:  true,
			Strategy: StrategySplitTimeline,
			EdgeKey:  newEdge.Key,
		}
	case newEdge.ValidAt.After(existing.ValidAt):
		if _, err := r.store.InvalidateEdge(ctx, existing.Key, newEdge.ValidAt, ReasonTimelineSplit, newEdge.Key); err != nil {
			return Outcome{Action: "error", Success: false, Strategy: StrategySplitTimeline, Reason: err.Error()}
		}
		return Outcome{
			Action:         "invalidated",
			Success:        true,
			Strategy:       StrategySplitTimeline,
			EdgeKey:        newEdge.Key,
			InvalidatedKey: existing.Key,
		}
	default:
		return r.resolveNewestWins(ctx, newEdge, existing)
	}
}

// ResolveAll detects every contradiction of newEdge and applies the
// strategy sequentially in insertion order. When strategy is empty and a
// chooser is configured, the strategy is picked per contradiction with a
// newest_wins fallback. Returns the outcomes and overall success.
func (r *Resolver) ResolveAll(ctx context.Context, newEdge *models.Edge, strategy string, excludeKeys []string) ([]Outcome, bool, error) {
	contradictions, err := r.DetectTemporalContradictions(ctx, newEdge, excludeKeys)
	if err != nil {
		return nil, false, err
	}

	outcomes := make([]Outcome, 0, len(contradictions))
	success := true
	for _, existing := range contradictions {
		chosen := strategy
		rationale := ""
		if chosen == "" {
			chosen, rationale = r.chooseStrategy(ctx, newEdge, existing)
		}
		outcome := r.ResolveContradiction(ctx, newEdge, existing, chosen)
		outcome.Rationale = rationale
		outcomes = append(outcomes, outcome)
		if !outcome.Success {
			success = false
		}
	}
	if len(contradictions) > 0 {
		r.logger.Info("contradictions resolved", map[string]interface{}{
			"edge":    newEdge.Key,
			"count":   len(contradictions),
			"success": success,
		})
	}
	return outcomes, success, nil
}

func (r *Resolver) chooseStrategy(ctx context.Context, newEdge, existing *models.Edge) (string, string) {
	if r.chooser == nil {
		return StrategyNewestWins, ""
	}
	return r.chooser.Choose(ctx, newEdge, existing)
}

// StrategyChooser asks the completion service which resolution strategy
// fits a contradiction. Any failure falls back to newest_wins.
type StrategyChooser struct {
	client llm.Client
	model  string
	logger observability.Logger
}

// NewStrategyChooser creates a StrategyChooser.
func NewStrategyChooser(client llm.Client, model string, logger observability.Logger) *StrategyChooser {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &StrategyChooser{client: client, model: model, logger: logger.WithPrefix("strategy")}
}

const strategySchema = `{
  "type": "object",
  "required": ["strategy"],
  "properties": {
    "strategy": {"enum": ["newest_wins", "merge", "split_timeline"]},
    "rationale": {"type": "string"}
  }
}`

const strategyPrompt = `Two knowledge-graph edges between the same vertices contradict each other
because their validity intervals overlap. Choose how to resolve them.

New edge:
%s

Existing edge:
%s

Respond with JSON: {"strategy": "newest_wins"|"merge"|"split_timeline", "rationale": "..."}.
Choose "merge" when both statements describe the same continuing fact,
"split_timeline" when the new fact supersedes the old one at a point in
time, and "newest_wins" when only the most recent statement can be true.`

// Choose returns a strategy and rationale for the pair.
func (c *StrategyChooser) Choose(ctx context.Context, newEdge, existing *models.Edge) (string, string) {
	newJSON, _ := json.Marshal(newEdge)
	existingJSON, _ := json.Marshal(existing)

	var decision struct {
		Strategy  string `json:"strategy"`
		Rationale string `json:"rationale"`
	}
	err := llm.CompleteJSON(ctx, c.client, llm.Request{
		Prompt:         fmt.Sprintf(strategyPrompt, newJSON, existingJSON),
		Model:          c.model,
		Temperature:    0,
		ResponseSchema: strategySchema,
	}, &decision)
	if err != nil {
		c.logger.Warn("strategy choice failed, defaulting to newest_wins", map[string]interface{}{
			"error": err.Error(),
		})
		return StrategyNewestWins, ""
	}
	return decision.Strategy, decision.Rationale
}
