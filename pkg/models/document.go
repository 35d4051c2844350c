// Package models defines the core data types shared across the retrieval
// and knowledge-graph layers: documents, temporal edges, Q&A pairs, and the
// ingestion contract supplied by external document adapters.
package models

import "time"

// EmbeddingMetadata records how a document embedding was produced.
type EmbeddingMetadata struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

// Document is a single record in a document collection. Embedding is
// optional; when present its length must match the collection's recorded
// embedding dimension.
type Document struct {
	ID                string                 `json:"_id,omitempty"`
	Key               string                 `json:"_key,omitempty"`
	Type              string                 `json:"type,omitempty"`
	Text              string                 `json:"text,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
	Embedding         []float32              `json:"embedding,omitempty"`
	EmbeddingMetadata *EmbeddingMetadata     `json:"embedding_metadata,omitempty"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
}

// HasTag reports whether the document carries the given tag.
func (d *Document) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DocumentStats summarizes the embedding health of a collection.
type DocumentStats struct {
	Total           int            `json:"total"`
	WithEmbeddings  int            `json:"with_embeddings"`
	Missing         int            `json:"missing"`
	DimensionsFound map[int]int    `json:"dimensions_found"`
	ModelsFound     map[string]int `json:"models_found"`
	Issues          []string       `json:"issues"`
}
