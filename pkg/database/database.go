// Package database defines the contract the retrieval and knowledge-graph
// layers require from the multi-model store: parameterized queries over a
// cursor, document and edge collections, search views with analyzers, and
// vector indexes. The ArangoDB adapter in this package is the production
// implementation; tests use the fake in databasetest.
package database

import (
	"context"
	"errors"
)

// Sentinel errors returned by Client implementations.
var (
	// ErrNotFound indicates a missing document, collection, or view.
	ErrNotFound = errors.New("database: not found")
	// ErrNoMoreDocuments indicates an exhausted cursor.
	ErrNoMoreDocuments = errors.New("database: no more documents")
)

// Meta describes a written document.
type Meta struct {
	ID  string `json:"_id"`
	Key string `json:"_key"`
	Rev string `json:"_rev,omitempty"`
}

// ViewLink describes how one collection is analyzed inside a search view.
type ViewLink struct {
	Analyzers        []string            `json:"analyzers,omitempty"`
	IncludeAllFields bool                `json:"includeAllFields,omitempty"`
	Fields           map[string]ViewLink `json:"fields,omitempty"`
}

// ViewProperties is the projection definition of a search view.
type ViewProperties struct {
	Links map[string]ViewLink `json:"links"`
}

// IndexInfo describes one index on a collection.
type IndexInfo struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}

// VectorIndexOptions configures a vector index on an embedding field.
type VectorIndexOptions struct {
	Field      string `json:"field"`
	Metric     string `json:"metric"`
	NLists     int    `json:"nLists"`
	Dimensions int    `json:"dimension"`
}

// Cursor iterates the results of a query.
type Cursor interface {
	// HasMore reports whether another document can be read.
	HasMore() bool
	// ReadDocument decodes the next document into out. Returns
	// ErrNoMoreDocuments when the cursor is exhausted.
	ReadDocument(ctx context.Context, out interface{}) error
	// Close releases the cursor.
	Close() error
}

// Client is the narrow surface of the multi-model store used by the core.
// All queries are parameterized through bindVars.
type Client interface {
	// Query executes a parameterized query and returns a cursor.
	Query(ctx context.Context, query string, bindVars map[string]interface{}) (Cursor, error)

	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, edge bool) error
	CollectionCount(ctx context.Context, name string) (int64, error)

	GetDocument(ctx context.Context, collection, key string, out interface{}) error
	DocumentExists(ctx context.Context, collection, key string) (bool, error)
	InsertDocument(ctx context.Context, collection string, doc interface{}) (Meta, error)
	UpdateDocument(ctx context.Context, collection, key string, patch interface{}) error
	ReplaceDocument(ctx context.Context, collection, key string, doc interface{}) error

	ViewExists(ctx context.Context, name string) (bool, error)
	CreateSearchView(ctx context.Context, name string, props ViewProperties) error
	ViewProperties(ctx context.Context, name string) (ViewProperties, error)
	UpdateSearchView(ctx context.Context, name string, props ViewProperties) error

	CollectionIndexes(ctx context.Context, name string) ([]IndexInfo, error)
	EnsureVectorIndex(ctx context.Context, collection string, opts VectorIndexOptions) error
}

// ReadAll drains a cursor into a slice of generic documents.
func ReadAll(ctx context.Context, cursor Cursor) ([]map[string]interface{}, error) {
	defer func() { _ = cursor.Close() }()

	var out []map[string]interface{}
	for cursor.HasMore() {
		var doc map[string]interface{}
		if err := cursor.ReadDocument(ctx, &doc); err != nil {
			if errors.Is(err, ErrNoMoreDocuments) {
				break
			}
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}
