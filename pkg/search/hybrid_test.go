package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database/databasetest"
	"github.com/recallmesh/recallmesh/pkg/embedding"
)

func newHybrid(db *databasetest.FakeClient) *HybridSearcher {
	emb := &fixedEmbedder{vector: []float32{1, 0, 0, 0}}
	vectors := embedding.NewVectorOps(db, emb, "embedding", 4, nil)
	bm25 := newBM25(db)
	semantic := NewSemanticSearcher(db, emb, vectors, SemanticConfig{}, nil, nil)
	tags := NewTagSearcher(db, nil, nil)
	graph := NewGraphTraverser(db, bm25, GraphConfig{
		GraphName:      "knowledge_graph",
		EdgeCollection: "relationships",
	}, nil, nil)
	return NewHybridSearcher(db, bm25, semantic, tags, graph,
		HybridConfig{EdgeCollection: "relationships"}, nil, nil, nil)
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestHybridSearchFusesSignals(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	db.StubQuery("COLLECT WITH COUNT", 2)
	db.StubQuery("BM25(doc)",
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/a", "_key": "a"}, "score": 3.0},
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/b", "_key": "b"}, "score": 1.0},
	)
	db.StubQuery("APPROX_NEAR_COSINE",
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/a", "_key": "a"}, "score": 0.95},
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/c", "_key": "c"}, "score": 0.80},
	)

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection:     "documents",
		TopN:           2,
		BM25Weight:     0.5,
		SemanticWeight: 0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Equal(t, EngineHybrid2, res.SearchEngine)

	// "a" leads both lists, so it must rank first after fusion.
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].Key)
	assert.InDelta(t, 0.5/61+0.5/61, res.Results[0].Score, 1e-12)

	assert.Contains(t, res.Timings, EngineBM25)
	assert.Contains(t, res.Timings, EngineSemantic)
	assert.Contains(t, res.Timings, "hybrid")
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	h := newHybrid(databasetest.NewFakeClient())

	res, err := h.Search(context.Background(), "", HybridOptions{Collection: "documents"})
	require.NoError(t, err)
	assert.Equal(t, EngineHybridFailed, res.SearchEngine)
	assert.Equal(t, "Query text cannot be empty", res.Error)
}

func TestHybridSearchRenormalizesWeights(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	db.StubQuery("COLLECT WITH COUNT", 0)
	db.StubQuery("BM25(doc)")
	db.StubQuery("APPROX_NEAR_COSINE")

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection:     "documents",
		BM25Weight:     2,
		SemanticWeight: 1,
	})
	require.NoError(t, err)
	assert.True(t, hasWarning(res.Warnings, "renormalized"), "warnings: %v", res.Warnings)
}

func TestHybridSearchTagFilterEmptyAllowSet(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	// No documents carry the requested tags.
	db.StubQuery("INTERSECTION")

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection: "documents",
		Tags:       []string{"nonexistent"},
	})
	require.NoError(t, err)
	assert.Equal(t, EngineTagFiltered, res.SearchEngine)
	assert.Contains(t, res.Error, "no documents match")
	assert.Empty(t, res.Results)
}

func TestHybridSearchTagFilterFoldsAllowSet(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	db.StubQuery("INTERSECTION", map[string]interface{}{
		"doc":             map[string]interface{}{"_id": "documents/a", "_key": "a"},
		"tag_match_score": 1.0,
	})
	db.StubQuery("COLLECT WITH COUNT", 1)
	db.StubQuery("BM25(doc)",
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/a", "_key": "a"}, "score": 2.0})
	db.StubQuery("APPROX_NEAR_COSINE")

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection: "documents",
		Tags:       []string{"python"},
	})
	require.NoError(t, err)
	assert.Equal(t, EngineHybrid2, res.SearchEngine, "a successful prefiltered fusion keeps the fusion label")
	assert.True(t, hasWarning(res.Warnings, "tag prefilter restricted candidates"), "warnings: %v", res.Warnings)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a", res.Results[0].Key)

	// Both signals must have been restricted to the allow-set; the
	// semantic branch uses the folded keys, not a raw tag conjunction.
	var lexicalFolded, semanticFolded bool
	for _, q := range db.Queries {
		if strings.Contains(q.Query, "BM25(doc)") && strings.Contains(q.Query, "doc._key IN @allowedKeys") {
			lexicalFolded = true
			assert.Equal(t, []string{"a"}, q.BindVars["allowedKeys"])
		}
		if strings.Contains(q.Query, "APPROX_NEAR_COSINE") {
			assert.NotContains(t, q.Query, "@tags ALL IN doc.tags")
			if strings.Contains(q.Query, "doc._key IN @allowedKeys") {
				semanticFolded = true
				assert.Equal(t, []string{"a"}, q.BindVars["allowedKeys"])
			}
		}
	}
	assert.True(t, lexicalFolded, "allow-set was not folded into the lexical query")
	assert.True(t, semanticFolded, "allow-set was not folded into the semantic query")
}

func TestHybridSearchTagFilterFoldsIntoGraphSignal(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	db.AddCollection("relationships", true)
	db.StubQuery("INTERSECTION", map[string]interface{}{
		"doc":             map[string]interface{}{"_id": "documents/a", "_key": "a"},
		"tag_match_score": 1.0,
	})
	db.StubQuery("COLLECT WITH COUNT", 1)
	db.StubQuery("BM25(doc)",
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/a", "_key": "a"}, "score": 2.0})
	db.StubQuery("APPROX_NEAR_COSINE")
	db.StubQuery("GRAPH @graphName")

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection: "documents",
		Tags:       []string{"python"},
		UseGraph:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, EngineHybrid3, res.SearchEngine)

	// The traversal must only surface vertices from the allow-set.
	traversed := false
	for _, q := range db.Queries {
		if strings.Contains(q.Query, "GRAPH @graphName") {
			traversed = true
			assert.Contains(t, q.Query, "FILTER v._key IN @allowedKeys")
			assert.Equal(t, []string{"a"}, q.BindVars["allowedKeys"])
		}
	}
	assert.True(t, traversed, "graph signal never traversed")
}

func TestHybridSearchSkipsGraphWithoutEdgeCollection(t *testing.T) {
	db := databasetest.NewFakeClient()
	stubReadyCollection(t, db, "documents")
	db.StubQuery("COLLECT WITH COUNT", 0)
	db.StubQuery("BM25(doc)")
	db.StubQuery("APPROX_NEAR_COSINE")

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{
		Collection: "documents",
		UseGraph:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, EngineHybrid2, res.SearchEngine, "graph must not contribute to the engine label")
	assert.True(t, hasWarning(res.Warnings, "graph signal skipped"), "warnings: %v", res.Warnings)
}

func TestHybridSearchPartialFailure(t *testing.T) {
	db := databasetest.NewFakeClient()
	// Collection exists with documents but none are embedded, so the
	// semantic branch fails its readiness gate while BM25 still serves.
	db.AddCollection("documents", false,
		map[string]interface{}{"_key": "a", "text": "alpha"},
		map[string]interface{}{"_key": "b", "text": "beta"},
	)
	db.StubQuery("COLLECT WITH COUNT", 1)
	db.StubQuery("BM25(doc)",
		map[string]interface{}{"doc": map[string]interface{}{"_id": "documents/a", "_key": "a"}, "score": 2.0})

	h := newHybrid(db)
	res, err := h.Search(context.Background(), "alpha", HybridOptions{Collection: "documents"})
	require.NoError(t, err)
	assert.Empty(t, res.Error, "partial success is not a failure")
	assert.Equal(t, EngineHybrid2, res.SearchEngine)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a", res.Results[0].Key)
	assert.True(t, hasWarning(res.Warnings, "semantic signal failed"), "warnings: %v", res.Warnings)
}

func TestHybridSearchAllSignalsFailed(t *testing.T) {
	db := databasetest.NewFakeClient()
	// No collection at all: both branches fail their existence checks.
	h := newHybrid(db)

	res, err := h.Search(context.Background(), "alpha", HybridOptions{Collection: "documents"})
	require.NoError(t, err)
	assert.Equal(t, EngineHybridFailed, res.SearchEngine)
	assert.Equal(t, "all search signals failed", res.Error)
	assert.True(t, hasWarning(res.Warnings, "bm25 signal failed"), "warnings: %v", res.Warnings)
	assert.True(t, hasWarning(res.Warnings, "semantic signal failed"), "warnings: %v", res.Warnings)
}
