// Package search implements the hybrid retrieval engine: BM25 lexical
// search over an ArangoSearch view, approximate-nearest-neighbor semantic
// search, tag filtering, bounded graph traversal, and weighted reciprocal
// rank fusion across the signals.
package search

import "time"

// Search engine labels carried in result envelopes.
const (
	EngineBM25         = "bm25"
	EngineSemantic     = "semantic"
	EngineTag          = "tag"
	EngineGraph        = "graph"
	EngineHybrid2      = "hybrid-bm25-semantic"
	EngineHybrid3      = "hybrid-bm25-semantic-graph"
	EngineTagFiltered  = "hybrid-tag-filtered"
	EngineHybridFailed = "hybrid-failed"
	EngineFailed       = "failed"
)

// Result is one scored document from any signal.
type Result struct {
	ID  string `json:"_id"`
	Key string `json:"_key"`
	// Score is the signal's primary score. For semantic results it mirrors
	// SimilarityScore so the fusion layer sees a uniform field.
	Score float64 `json:"score"`
	// SimilarityScore is the cosine similarity in [-1, 1] for semantic
	// results.
	SimilarityScore float64 `json:"similarity_score,omitempty"`
	// TagMatchScore is |matched| / |requested| for tag results.
	TagMatchScore float64 `json:"tag_match_score,omitempty"`
	// Depth is the traversal depth for graph results.
	Depth int `json:"depth,omitempty"`
	// Path lists the vertex IDs walked to reach a graph result.
	Path []string `json:"path,omitempty"`
	// Document is the full stored document.
	Document map[string]interface{} `json:"document,omitempty"`
}

// Results is the uniform response envelope of every search operation.
// Business failures are carried in Error; Warnings collects non-fatal
// conditions such as capped depth or a skipped signal.
type Results struct {
	Results      []Result `json:"results"`
	Total        int      `json:"total"`
	SearchEngine string   `json:"search_engine"`
	SearchType   string   `json:"search_type,omitempty"`
	Error        string   `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
	// CollectionStatus carries the semantic readiness diagnostic tree.
	CollectionStatus *CollectionStatus `json:"collection_status,omitempty"`
	// Timings records per-signal elapsed time.
	Timings map[string]time.Duration `json:"timings,omitempty"`
}

// CollectionStatus is the readiness diagnostic for semantic search.
type CollectionStatus struct {
	Collection      string `json:"collection"`
	Exists          bool   `json:"exists"`
	DocumentCount   int64  `json:"document_count"`
	EmbeddingsCount int    `json:"embeddings_count"`
	Dimensions      []int  `json:"dimensions,omitempty"`
	HasVectorIndex  bool   `json:"has_vector_index"`
	Ready           bool   `json:"ready"`
	// Fixable indicates the failure can be repaired by regenerating
	// embeddings and rebuilding the vector index.
	Fixable bool   `json:"fixable"`
	Reason  string `json:"reason,omitempty"`
}

func failedResults(engine, searchType, reason string) *Results {
	return &Results{
		Results:      []Result{},
		SearchEngine: engine,
		SearchType:   searchType,
		Error:        reason,
	}
}
