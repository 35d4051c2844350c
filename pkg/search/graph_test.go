package search

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database/databasetest"
)

func newTraverser(db *databasetest.FakeClient) *GraphTraverser {
	return NewGraphTraverser(db, newBM25(db), GraphConfig{
		GraphName:      "knowledge_graph",
		EdgeCollection: "relationships",
	}, nil, nil)
}

func TestTraverseDepthCap(t *testing.T) {
	// Requesting max_depth=7 must bound the traversal to depth 3 and
	// surface a depth-limit warning.
	db := databasetest.NewFakeClient()
	db.StubQuery("GRAPH @graphName", map[string]interface{}{
		"vertex": map[string]interface{}{"_id": "documents/B", "_key": "B"},
		"depth":  2,
		"path":   []string{"documents/A", "documents/X", "documents/B"},
	})
	tr := newTraverser(db)

	res, err := tr.Traverse(context.Background(), "documents/A", TraverseOptions{MaxDepth: 7})
	require.NoError(t, err)
	assert.Empty(t, res.Error)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "capped at 3") {
			found = true
		}
	}
	assert.True(t, found, "expected a depth-limit warning, got %v", res.Warnings)

	require.Len(t, db.Queries, 1)
	assert.Contains(t, db.Queries[0].Query, "IN 1..3 ANY @startVertex")
	assert.Contains(t, db.Queries[0].Query, "uniqueVertices: 'global'")
}

func TestTraverseQueryPutsPruneBeforeOptions(t *testing.T) {
	// AQL requires PRUNE between the graph clause and OPTIONS; the reverse
	// order is a parse error.
	db := databasetest.NewFakeClient()
	db.StubQuery("GRAPH @graphName")
	tr := newTraverser(db)

	_, err := tr.Traverse(context.Background(), "documents/A", TraverseOptions{MaxDepth: 2})
	require.NoError(t, err)

	require.Len(t, db.Queries, 1)
	q := db.Queries[0].Query
	prune := strings.Index(q, "PRUNE DATE_NOW() >= @deadline")
	options := strings.Index(q, "OPTIONS {")
	require.GreaterOrEqual(t, prune, 0)
	require.GreaterOrEqual(t, options, 0)
	assert.Less(t, prune, options)
}

func TestTraverseInvalidDirection(t *testing.T) {
	tr := newTraverser(databasetest.NewFakeClient())

	res, err := tr.Traverse(context.Background(), "documents/A", TraverseOptions{
		MaxDepth:  2,
		Direction: "SIDEWAYS",
	})
	require.NoError(t, err)
	assert.Equal(t, EngineFailed, res.SearchEngine)
	assert.Contains(t, res.Error, "invalid direction")
}

func TestTraverseScoresByProximity(t *testing.T) {
	db := databasetest.NewFakeClient()
	db.StubQuery("GRAPH @graphName",
		map[string]interface{}{
			"vertex": map[string]interface{}{"_id": "documents/B", "_key": "B"},
			"depth":  1,
			"path":   []string{"documents/A", "documents/B"},
		},
		map[string]interface{}{
			"vertex": map[string]interface{}{"_id": "documents/C", "_key": "C"},
			"depth":  2,
			"path":   []string{"documents/A", "documents/B", "documents/C"},
		},
	)
	tr := newTraverser(db)

	res, err := tr.Traverse(context.Background(), "documents/A", TraverseOptions{
		MaxDepth:          2,
		Direction:         DirectionOutbound,
		RelationshipTypes: []string{"cites"},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.InDelta(t, 0.5, res.Results[0].Score, 1e-12)
	assert.InDelta(t, 1.0/3, res.Results[1].Score, 1e-12)
	assert.Equal(t, []string{"documents/A", "documents/B"}, res.Results[0].Path)

	q := db.Queries[0]
	assert.Contains(t, q.Query, "OUTBOUND @startVertex")
	assert.Contains(t, q.Query, "FILTER e.type IN @relationshipTypes")
	assert.Equal(t, []string{"cites"}, q.BindVars["relationshipTypes"])
}

func TestGraphRAGScalesRelatedScores(t *testing.T) {
	db := databasetest.NewFakeClient()
	db.AddCollection("documents", false)
	db.StubQuery("COLLECT WITH COUNT", 1)
	db.StubQuery("BM25(doc)", map[string]interface{}{
		"doc":   map[string]interface{}{"_id": "documents/A", "_key": "A"},
		"score": 2.0,
	})
	db.StubQuery("GRAPH @graphName", map[string]interface{}{
		"vertex": map[string]interface{}{"_id": "documents/B", "_key": "B"},
		"depth":  1,
		"path":   []string{"documents/A", "documents/B"},
	})
	tr := newTraverser(db)

	res, err := tr.GraphRAG(context.Background(), "alpha", GraphRAGOptions{
		Collections: []string{"documents"},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	assert.Equal(t, "A", res.Results[0].Key)
	assert.Equal(t, 2.0, res.Results[0].Score, "seed keeps its lexical score")
	assert.Equal(t, "B", res.Results[1].Key)
	assert.InDelta(t, 1.6, res.Results[1].Score, 1e-12, "related vertices are scaled down")
	assert.Equal(t, "graph_rag", res.SearchType)
}

func TestGraphRAGForwardsSeedFilter(t *testing.T) {
	db := databasetest.NewFakeClient()
	db.AddCollection("documents", false)
	tr := newTraverser(db)

	_, err := tr.GraphRAG(context.Background(), "alpha", GraphRAGOptions{
		Collections:    []string{"documents"},
		SeedFilterExpr: "doc._key IN @allowedKeys",
		SeedFilterBind: map[string]interface{}{"allowedKeys": []string{"A"}},
	})
	require.NoError(t, err)

	require.NotEmpty(t, db.Queries)
	seed := db.Queries[0]
	assert.Contains(t, seed.Query, "FILTER doc._key IN @allowedKeys")
	assert.Equal(t, []string{"A"}, seed.BindVars["allowedKeys"])
}

func TestGraphRAGPropagatesSeedFailure(t *testing.T) {
	db := databasetest.NewFakeClient()
	tr := newTraverser(db)

	res, err := tr.GraphRAG(context.Background(), "", GraphRAGOptions{})
	require.NoError(t, err)
	assert.Equal(t, EngineFailed, res.SearchEngine)
	assert.Contains(t, res.Error, "Query text cannot be empty")
}
