package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/database/databasetest"
)

func newBM25(db *databasetest.FakeClient) *BM25Searcher {
	return NewBM25Searcher(db, BM25Config{
		ViewName: "documents_view",
		Analyzer: "text_en",
		Fields:   []string{"text"},
	}, nil, nil)
}

func TestBM25SearchEmptyQuery(t *testing.T) {
	s := newBM25(databasetest.NewFakeClient())

	res, err := s.Search(context.Background(), "   ", BM25Options{})
	require.NoError(t, err)
	assert.Equal(t, EngineFailed, res.SearchEngine)
	assert.Equal(t, "Query text cannot be empty", res.Error)
	assert.Empty(t, res.Results)
}

func TestBM25SearchMissingCollection(t *testing.T) {
	s := newBM25(databasetest.NewFakeClient())

	res, err := s.Search(context.Background(), "python", BM25Options{
		Collections: []string{"nope"},
	})
	require.NoError(t, err)
	assert.Equal(t, EngineFailed, res.SearchEngine)
	assert.Contains(t, res.Error, "does not exist")
	assert.Contains(t, res.Error, "nope")
}

func TestBM25SearchWithTagFilter(t *testing.T) {
	// Docs A,B,C tagged [python,db], [python], [db]; querying "python"
	// with tags [python,db] must return exactly A.
	db := databasetest.NewFakeClient()
	db.AddCollection("documents", false,
		map[string]interface{}{"_key": "A", "text": "python database guide", "tags": []string{"python", "db"}},
		map[string]interface{}{"_key": "B", "text": "python tutorial", "tags": []string{"python"}},
		map[string]interface{}{"_key": "C", "text": "database internals", "tags": []string{"db"}},
	)
	db.StubQuery("COLLECT WITH COUNT", 1)
	db.StubQuery("BM25(doc)", map[string]interface{}{
		"doc":   map[string]interface{}{"_id": "documents/A", "_key": "A", "tags": []string{"python", "db"}},
		"score": 1.7,
	})

	s := newBM25(db)
	res, err := s.Search(context.Background(), "python", BM25Options{
		Collections: []string{"documents"},
		Tags:        []string{"python", "db"},
		MinScore:    0.5,
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "A", res.Results[0].Key)
	assert.GreaterOrEqual(t, res.Results[0].Score, 0.5)
	assert.Equal(t, EngineBM25, res.SearchEngine)
	assert.Equal(t, "text", res.SearchType)
	assert.Equal(t, 1, res.Total)
	assert.Contains(t, res.Timings, EngineBM25)

	// The query must require every requested tag.
	require.NotEmpty(t, db.Queries)
	recorded := db.Queries[len(db.Queries)-2]
	assert.Contains(t, recorded.Query, "@tags ALL IN doc.tags")
	assert.Equal(t, []string{"python", "db"}, recorded.BindVars["tags"])
	assert.Equal(t, "python", recorded.BindVars["queryText"])
}

func TestBM25QueryShape(t *testing.T) {
	db := databasetest.NewFakeClient()
	db.AddCollection("documents", false)

	s := newBM25(db)
	_, err := s.Search(context.Background(), "retrieval", BM25Options{
		Collections: []string{"documents"},
		FilterExpr:  "doc._key IN @allowedKeys",
		FilterBind:  map[string]interface{}{"allowedKeys": []string{"A"}},
		TopN:        5,
		Offset:      10,
	})
	require.NoError(t, err)

	require.NotEmpty(t, db.Queries)
	q := db.Queries[0]
	assert.Contains(t, q.Query, "FOR doc IN documents_view")
	assert.Contains(t, q.Query, "ANALYZER(TOKENS(@queryText, @analyzer) ANY IN doc.text, @analyzer)")
	assert.Contains(t, q.Query, "OPTIONS { collections: @collections }")
	assert.Contains(t, q.Query, "FILTER doc._key IN @allowedKeys")
	assert.Contains(t, q.Query, "LIMIT @offset, @topN")
	assert.Equal(t, 5, q.BindVars["topN"])
	assert.Equal(t, 10, q.BindVars["offset"])
	assert.Equal(t, []string{"A"}, q.BindVars["allowedKeys"])
}

func TestBM25CountQueryOmitsPaginationBinds(t *testing.T) {
	// The count query must not receive bind variables it never references;
	// the server rejects queries with unused parameters.
	db := databasetest.NewFakeClient()
	db.AddCollection("documents", false)

	s := newBM25(db)
	_, err := s.Search(context.Background(), "retrieval", BM25Options{
		Collections: []string{"documents"},
		TopN:        5,
		Offset:      10,
	})
	require.NoError(t, err)

	require.Len(t, db.Queries, 2)
	count := db.Queries[1]
	assert.Contains(t, count.Query, "COLLECT WITH COUNT INTO total")
	assert.NotContains(t, count.BindVars, "offset")
	assert.NotContains(t, count.BindVars, "topN")
	assert.Equal(t, "retrieval", count.BindVars["queryText"])
}

func TestBM25RejectsInvalidViewName(t *testing.T) {
	db := databasetest.NewFakeClient()
	s := newBM25(db)

	res, err := s.Search(context.Background(), "x", BM25Options{
		ViewName: "view; FOR d IN users REMOVE d",
	})
	require.NoError(t, err)
	assert.Equal(t, EngineFailed, res.SearchEngine)
	assert.Contains(t, res.Error, "invalid view name")
	assert.Empty(t, db.Queries, "no query may reach the database")
}
