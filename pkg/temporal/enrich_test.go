package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database/databasetest"
	"github.com/recallmesh/recallmesh/pkg/models"
)

func floatPtr(v float64) *float64 { return &v }

func TestEdgeWeight(t *testing.T) {
	tests := []struct {
		name string
		edge models.Edge
		want float64
	}{
		{
			name: "factual with both confidences",
			edge: models.Edge{
				QuestionType:      string(models.QuestionFactual),
				Confidence:        floatPtr(0.8),
				ContextConfidence: floatPtr(0.6),
			},
			want: 0.9 * 0.7,
		},
		{
			name: "reversal",
			edge: models.Edge{
				QuestionType:      string(models.QuestionReversal),
				Confidence:        floatPtr(1.0),
				ContextConfidence: floatPtr(1.0),
			},
			want: 0.5,
		},
		{
			name: "missing fields default to 0.5",
			edge: models.Edge{},
			want: 0.5 * 0.5,
		},
		{
			name: "multi hop",
			edge: models.Edge{
				QuestionType:      string(models.QuestionMultiHop),
				Confidence:        floatPtr(0.9),
				ContextConfidence: floatPtr(0.7),
			},
			want: 0.6 * 0.8,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, EdgeWeight(&tc.edge, 1), 1e-12)
		})
	}
}

func TestEdgeWeightFactor(t *testing.T) {
	edge := models.Edge{
		QuestionType:      string(models.QuestionFactual),
		Confidence:        floatPtr(1.0),
		ContextConfidence: floatPtr(1.0),
	}
	assert.InDelta(t, 0.9*0.5, EdgeWeight(&edge, 0.5), 1e-12)
	assert.InDelta(t, 0.9, EdgeWeight(&edge, 0), 1e-12, "non-positive factor defaults to 1")
}

func newEnricher(t *testing.T) (*Enricher, *Store, *databasetest.FakeClient) {
	t.Helper()
	store, db := newStore(t)
	resolver := NewResolver(store, nil, nil, nil)
	enricher := NewEnricher(db, store, resolver, EnrichConfig{
		QAView:   "qa_view",
		MainView: "memory_view",
	}, nil, nil)
	return enricher, store, db
}

func TestRegisterSearchViewsIdempotent(t *testing.T) {
	enricher, _, db := newEnricher(t)
	ctx := context.Background()

	require.NoError(t, enricher.RegisterSearchViews(ctx))

	props, err := db.ViewProperties(ctx, "qa_view")
	require.NoError(t, err)
	link, ok := props.Links["relationships"]
	require.True(t, ok)
	for _, field := range []string{"question", "answer", "thinking", "rationale", "context_rationale", "type", "question_type"} {
		assert.Contains(t, link.Fields, field)
	}

	// Second registration leaves the views untouched.
	require.NoError(t, enricher.RegisterSearchViews(ctx))
	again, err := db.ViewProperties(ctx, "memory_view")
	require.NoError(t, err)
	assert.Equal(t, link.Fields, again.Links["relationships"].Fields)
}

func TestEnrichByKeys(t *testing.T) {
	enricher, store, db := newEnricher(t)
	ctx := context.Background()

	edge, err := store.CreateEdge(ctx, &models.Edge{
		From: "documents/x", To: "documents/y", Type: "answers",
		ValidAt:           t0,
		QuestionType:      string(models.QuestionFactual),
		Confidence:        floatPtr(0.8),
		ContextConfidence: floatPtr(0.6),
	})
	require.NoError(t, err)
	db.StubQuery("e._from == @from AND e._to == @to")

	report, err := enricher.EnrichByKeys(ctx, []string{edge.Key, "missing-key"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalEdges)
	assert.True(t, report.SearchAdded)
	assert.Equal(t, 1, report.WeightsUpdated)
	assert.Equal(t, 1, report.ContradictionsChecked)
	assert.Equal(t, 0, report.ContradictionsFound)
	require.Len(t, report.Errors, 1, "the missing key is reported, not fatal")

	stored, err := store.GetEdge(ctx, edge.Key)
	require.NoError(t, err)
	require.NotNil(t, stored.Weight)
	assert.InDelta(t, 0.9*0.7, *stored.Weight, 1e-12)
}

func TestEnrichResolvesContradictions(t *testing.T) {
	enricher, store, db := newEnricher(t)
	ctx := context.Background()

	older, err := store.CreateEdge(ctx, &models.Edge{
		From: "documents/x", To: "documents/y", Type: "answers",
		ValidAt: t0, CreatedAt: t0,
		QuestionType: string(models.QuestionFactual),
	})
	require.NoError(t, err)
	newer, err := store.CreateEdge(ctx, &models.Edge{
		From: "documents/x", To: "documents/y", Type: "answers",
		ValidAt: t1, CreatedAt: t2,
		QuestionType: string(models.QuestionFactual),
	})
	require.NoError(t, err)

	stubDetection(db, older)
	report, err := enricher.EnrichByKeys(ctx, []string{newer.Key})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ContradictionsFound)
	assert.Equal(t, 1, report.ContradictionsResolved)

	invalidated, err := store.GetEdge(ctx, older.Key)
	require.NoError(t, err)
	require.NotNil(t, invalidated.InvalidAt)
	assert.True(t, invalidated.InvalidAt.Equal(t1))
}

func TestEnrichByType(t *testing.T) {
	enricher, store, db := newEnricher(t)
	ctx := context.Background()

	edge, err := store.CreateEdge(ctx, &models.Edge{
		From: "documents/x", To: "documents/y", Type: "answers",
		ValidAt:      t0,
		QuestionType: string(models.QuestionReversal),
	})
	require.NoError(t, err)

	db.StubQuery("FILTER e.type == @type", edge)
	db.StubQuery("e._from == @from AND e._to == @to")

	report, err := enricher.EnrichByType(ctx, "answers")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalEdges)
	assert.Equal(t, 1, report.WeightsUpdated)
}
