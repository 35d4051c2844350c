package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database/databasetest"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/temporal"
)

func newMaterializer(t *testing.T) (*Materializer, *databasetest.FakeClient) {
	t.Helper()
	db := databasetest.NewFakeClient()
	db.AddCollection("qa_pairs", false)
	db.AddCollection("relationships", true)

	store := temporal.NewStore(db, "relationships", nil, nil)
	resolver := temporal.NewResolver(store, nil, nil, nil)
	enricher := temporal.NewEnricher(db, store, resolver, temporal.EnrichConfig{
		QAView: "qa_view",
	}, nil, nil)
	return NewMaterializer(db, store, enricher, "qa_pairs", nil), db
}

func scoreOf(v float64) *float64 { return &v }

func TestMaterializeStoresCitedPairs(t *testing.T) {
	m, db := newMaterializer(t)

	batch := &models.QABatch{
		DocumentID: "documents/doc1",
		QAPairs: []*models.QAPair{
			{
				Question:        "What is the capital of France?",
				Answer:          "Paris",
				QuestionType:    models.QuestionFactual,
				Confidence:      1.0,
				CitationFound:   true,
				ValidationScore: scoreOf(0.99),
			},
			{
				Question:     "Where is Atlantis?",
				Answer:       "Unknown",
				QuestionType: models.QuestionFactual,
				Confidence:   1.0,
			},
		},
	}

	report, err := m.Materialize(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, report.PairsSeen)
	assert.Equal(t, 1, report.PairsStored)
	assert.Equal(t, 1, report.PairsSkipped)
	require.Len(t, report.EdgeKeys, 1)
	assert.Empty(t, report.Errors)

	// The cited pair got a stored document and its key back.
	assert.NotEmpty(t, batch.QAPairs[0].Key)
	assert.Equal(t, int64(1), mustCount(t, db, "qa_pairs"))
	assert.Empty(t, batch.QAPairs[1].Key)

	edge, err := temporal.NewStore(db, "relationships", nil, nil).GetEdge(context.Background(), report.EdgeKeys[0])
	require.NoError(t, err)
	assert.Equal(t, "qa_pairs/"+batch.QAPairs[0].Key, edge.From)
	assert.Equal(t, "documents/doc1", edge.To)
	assert.Equal(t, EdgeTypeDerived, edge.Type)
	assert.Equal(t, "What is the capital of France?", edge.Question)
	assert.Equal(t, string(models.QuestionFactual), edge.QuestionType)
	require.NotNil(t, edge.Confidence)
	assert.Equal(t, 1.0, *edge.Confidence)
}

func TestMaterializeEnrichesEdges(t *testing.T) {
	m, db := newMaterializer(t)

	batch := &models.QABatch{
		DocumentID: "documents/doc1",
		QAPairs: []*models.QAPair{{
			Question:      "What is the capital of France?",
			Answer:        "Paris",
			QuestionType:  models.QuestionFactual,
			Confidence:    1.0,
			CitationFound: true,
		}},
	}

	report, err := m.Materialize(context.Background(), batch)
	require.NoError(t, err)
	require.NotNil(t, report.Enrichment)
	assert.Equal(t, 1, report.Enrichment.TotalEdges)
	assert.Equal(t, 1, report.Enrichment.WeightsUpdated)
	assert.True(t, report.Enrichment.SearchAdded)

	// Weight: factual base 0.9, confidence 1.0 averaged with the 0.5
	// default context confidence.
	var stored struct {
		Weight float64 `json:"weight"`
	}
	require.NoError(t, db.GetDocument(context.Background(), "relationships", report.EdgeKeys[0], &stored))
	assert.InDelta(t, 0.675, stored.Weight, 1e-9)

	exists, err := db.ViewExists(context.Background(), "qa_view")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMaterializeCarriesReversalProvenance(t *testing.T) {
	m, db := newMaterializer(t)

	batch := &models.QABatch{
		DocumentID: "documents/doc1",
		QAPairs: []*models.QAPair{{
			Question:      "What country has Paris as its capital?",
			Answer:        "France",
			QuestionType:  models.QuestionReversal,
			Confidence:    0.9,
			CitationFound: true,
			ReversalOf:    "qa1",
		}},
	}

	report, err := m.Materialize(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, report.EdgeKeys, 1)

	edge, err := temporal.NewStore(db, "relationships", nil, nil).GetEdge(context.Background(), report.EdgeKeys[0])
	require.NoError(t, err)
	require.NotNil(t, edge.Attributes)
	assert.Equal(t, "qa1", edge.Attributes["reversal_of"])
}

func TestMaterializeReportsStoreErrors(t *testing.T) {
	db := databasetest.NewFakeClient()
	db.AddCollection("relationships", true)
	// No qa_pairs collection: every insert fails.
	store := temporal.NewStore(db, "relationships", nil, nil)
	m := NewMaterializer(db, store, nil, "qa_pairs", nil)

	report, err := m.Materialize(context.Background(), &models.QABatch{
		DocumentID: "documents/doc1",
		QAPairs: []*models.QAPair{{
			Question:      "Q?",
			Answer:        "A",
			QuestionType:  models.QuestionFactual,
			CitationFound: true,
		}},
	})
	require.NoError(t, err)
	assert.Zero(t, report.PairsStored)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "store pair")
}

func mustCount(t *testing.T, db *databasetest.FakeClient, collection string) int64 {
	t.Helper()
	n, err := db.CollectionCount(context.Background(), collection)
	require.NoError(t, err)
	return n
}
