package qa

import (
	"context"
	"fmt"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/temporal"
)

// EdgeTypeDerived marks edges produced from validated QA pairs.
const EdgeTypeDerived = "qa_derived"

// Materializer writes validated QA pairs into the knowledge graph: each
// cited pair becomes a stored document plus a temporal edge carrying the
// question text, then the enricher weighs it and sweeps contradictions.
type Materializer struct {
	db           database.Client
	store        *temporal.Store
	enricher     *temporal.Enricher
	qaCollection string
	logger       observability.Logger
}

// NewMaterializer creates a Materializer.
func NewMaterializer(db database.Client, store *temporal.Store, enricher *temporal.Enricher, qaCollection string, logger observability.Logger) *Materializer {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Materializer{
		db:           db,
		store:        store,
		enricher:     enricher,
		qaCollection: qaCollection,
		logger:       logger.WithPrefix("materialize"),
	}
}

// MaterializeReport summarizes one materialization pass.
type MaterializeReport struct {
	PairsSeen    int                    `json:"pairs_seen"`
	PairsStored  int                    `json:"pairs_stored"`
	PairsSkipped int                    `json:"pairs_skipped"`
	EdgeKeys     []string               `json:"edge_keys"`
	Enrichment   *temporal.EnrichReport `json:"enrichment,omitempty"`
	Errors       []string               `json:"errors,omitempty"`
}

// Materialize stores every cited pair of a batch and enriches the
// resulting edges. Pairs without a citation are skipped, not failed.
func (m *Materializer) Materialize(ctx context.Context, batch *models.QABatch) (*MaterializeReport, error) {
	report := &MaterializeReport{PairsSeen: len(batch.QAPairs)}
	now := time.Now().UTC()

	for _, pair := range batch.QAPairs {
		if !pair.CitationFound {
			report.PairsSkipped++
			continue
		}

		meta, err := m.db.InsertDocument(ctx, m.qaCollection, pair)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("store pair: %v", err))
			continue
		}
		pair.Key = meta.Key

		confidence := pair.Confidence
		edge := &models.Edge{
			From:         meta.ID,
			To:           batch.DocumentID,
			Type:         EdgeTypeDerived,
			ValidAt:      now,
			CreatedAt:    now,
			Confidence:   &confidence,
			Question:     pair.Question,
			Answer:       pair.Answer,
			Thinking:     pair.Thinking,
			QuestionType: string(pair.QuestionType),
		}
		if pair.ReversalOf != "" {
			edge.Attributes = map[string]interface{}{"reversal_of": pair.ReversalOf}
		}
		created, err := m.store.CreateEdge(ctx, edge)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", pair.Key, err))
			continue
		}
		report.PairsStored++
		report.EdgeKeys = append(report.EdgeKeys, created.Key)
	}

	if len(report.EdgeKeys) > 0 && m.enricher != nil {
		enrichment, err := m.enricher.EnrichByKeys(ctx, report.EdgeKeys)
		if err != nil {
			return nil, fmt.Errorf("enrichment failed: %w", err)
		}
		report.Enrichment = enrichment
	}

	m.logger.Info("materialization complete", map[string]interface{}{
		"document": batch.DocumentID,
		"stored":   report.PairsStored,
		"skipped":  report.PairsSkipped,
		"errors":   len(report.Errors),
	})
	return report, nil
}
