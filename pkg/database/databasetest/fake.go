// Package databasetest provides an in-memory fake of the database.Client
// contract for package-level tests. Query results are scripted per query
// substring; document writes go to in-memory collections.
package databasetest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/recallmesh/recallmesh/pkg/database"
)

// RecordedQuery captures one Query call for assertions.
type RecordedQuery struct {
	Query    string
	BindVars map[string]interface{}
}

type queryStub struct {
	substring string
	docs      []interface{}
	err       error
}

// Collection is the in-memory document store of one collection.
type Collection struct {
	Edge    bool
	Docs    map[string]map[string]interface{}
	Indexes []database.IndexInfo

	nextKey int
}

// FakeClient is an in-memory database.Client.
type FakeClient struct {
	mu          sync.Mutex
	collections map[string]*Collection
	views       map[string]database.ViewProperties
	stubs       []queryStub

	// Queries records every Query call in order.
	Queries []RecordedQuery
	// Updates records every UpdateDocument call as "collection/key".
	Updates []string
	// QueryErr, when set, fails every un-stubbed Query.
	QueryErr error
}

// NewFakeClient creates an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		collections: make(map[string]*Collection),
		views:       make(map[string]database.ViewProperties),
	}
}

// AddCollection registers a collection, optionally pre-populated.
func (f *FakeClient) AddCollection(name string, edge bool, docs ...map[string]interface{}) *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	col := &Collection{Edge: edge, Docs: make(map[string]map[string]interface{})}
	f.collections[name] = col
	for _, doc := range docs {
		key, _ := doc["_key"].(string)
		if key == "" {
			col.nextKey++
			key = fmt.Sprintf("%d", col.nextKey)
			doc["_key"] = key
		}
		if _, ok := doc["_id"]; !ok {
			doc["_id"] = name + "/" + key
		}
		col.Docs[key] = doc
	}
	return col
}

// Collection returns a registered collection or nil.
func (f *FakeClient) Collection(name string) *Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[name]
}

// StubQuery scripts the result docs for any query containing substring.
// Stubs are matched in registration order; the first match wins.
func (f *FakeClient) StubQuery(substring string, docs ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, queryStub{substring: substring, docs: docs})
}

// StubQueryError scripts an error for any query containing substring.
func (f *FakeClient) StubQueryError(substring string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubs = append(f.stubs, queryStub{substring: substring, err: err})
}

type fakeCursor struct {
	docs []interface{}
	pos  int
}

func (c *fakeCursor) HasMore() bool { return c.pos < len(c.docs) }

func (c *fakeCursor) ReadDocument(ctx context.Context, out interface{}) error {
	if c.pos >= len(c.docs) {
		return database.ErrNoMoreDocuments
	}
	doc := c.docs[c.pos]
	c.pos++
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *fakeCursor) Close() error { return nil }

// NewCursor builds a cursor over the given documents.
func NewCursor(docs ...interface{}) database.Cursor {
	return &fakeCursor{docs: docs}
}

// Query returns the first matching stub, or an empty cursor.
func (f *FakeClient) Query(ctx context.Context, query string, bindVars map[string]interface{}) (database.Cursor, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, RecordedQuery{Query: query, BindVars: bindVars})
	stubs := make([]queryStub, len(f.stubs))
	copy(stubs, f.stubs)
	queryErr := f.QueryErr
	f.mu.Unlock()

	for _, stub := range stubs {
		if strings.Contains(query, stub.substring) {
			if stub.err != nil {
				return nil, stub.err
			}
			return &fakeCursor{docs: stub.docs}, nil
		}
	}
	if queryErr != nil {
		return nil, queryErr
	}
	return &fakeCursor{}, nil
}

// CollectionExists reports whether AddCollection registered the name.
func (f *FakeClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.collections[name]
	return ok, nil
}

// CreateCollection registers an empty collection.
func (f *FakeClient) CreateCollection(ctx context.Context, name string, edge bool) error {
	f.AddCollection(name, edge)
	return nil
}

// CollectionCount returns the number of stored documents.
func (f *FakeClient) CollectionCount(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[name]
	if !ok {
		return 0, database.ErrNotFound
	}
	return int64(len(col.Docs)), nil
}

// GetDocument reads one stored document.
func (f *FakeClient) GetDocument(ctx context.Context, collection, key string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return database.ErrNotFound
	}
	doc, ok := col.Docs[key]
	if !ok {
		return database.ErrNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// DocumentExists reports whether a document is stored.
func (f *FakeClient) DocumentExists(ctx context.Context, collection, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return false, nil
	}
	_, ok = col.Docs[key]
	return ok, nil
}

// InsertDocument stores a document, assigning a key when absent.
func (f *FakeClient) InsertDocument(ctx context.Context, collection string, doc interface{}) (database.Meta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return database.Meta{}, database.ErrNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return database.Meta{}, err
	}
	var stored map[string]interface{}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return database.Meta{}, err
	}
	key, _ := stored["_key"].(string)
	if key == "" {
		col.nextKey++
		key = fmt.Sprintf("%d", col.nextKey)
		stored["_key"] = key
	}
	id := collection + "/" + key
	stored["_id"] = id
	col.Docs[key] = stored
	return database.Meta{ID: id, Key: key}, nil
}

// UpdateDocument merges a patch into a stored document.
func (f *FakeClient) UpdateDocument(ctx context.Context, collection, key string, patch interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return database.ErrNotFound
	}
	doc, ok := col.Docs[key]
	if !ok {
		return database.ErrNotFound
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	f.Updates = append(f.Updates, collection+"/"+key)
	return nil
}

// ReplaceDocument replaces a stored document, keeping _key and _id.
func (f *FakeClient) ReplaceDocument(ctx context.Context, collection, key string, doc interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return database.ErrNotFound
	}
	if _, ok := col.Docs[key]; !ok {
		return database.ErrNotFound
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var stored map[string]interface{}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return err
	}
	stored["_key"] = key
	stored["_id"] = collection + "/" + key
	col.Docs[key] = stored
	return nil
}

// ViewExists reports whether a view was created.
func (f *FakeClient) ViewExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.views[name]
	return ok, nil
}

// CreateSearchView stores view properties.
func (f *FakeClient) CreateSearchView(ctx context.Context, name string, props database.ViewProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[name] = props
	return nil
}

// ViewProperties returns stored view properties.
func (f *FakeClient) ViewProperties(ctx context.Context, name string) (database.ViewProperties, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.views[name]
	if !ok {
		return database.ViewProperties{}, database.ErrNotFound
	}
	return props, nil
}

// UpdateSearchView merges links into stored view properties.
func (f *FakeClient) UpdateSearchView(ctx context.Context, name string, props database.ViewProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.views[name]
	if !ok {
		return database.ErrNotFound
	}
	if current.Links == nil {
		current.Links = make(map[string]database.ViewLink)
	}
	for col, link := range props.Links {
		current.Links[col] = link
	}
	f.views[name] = current
	return nil
}

// CollectionIndexes lists registered indexes.
func (f *FakeClient) CollectionIndexes(ctx context.Context, name string) ([]database.IndexInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[name]
	if !ok {
		return nil, database.ErrNotFound
	}
	return col.Indexes, nil
}

// EnsureVectorIndex registers a vector index on the collection.
func (f *FakeClient) EnsureVectorIndex(ctx context.Context, collection string, opts database.VectorIndexOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	col, ok := f.collections[collection]
	if !ok {
		return database.ErrNotFound
	}
	col.Indexes = append(col.Indexes, database.IndexInfo{
		Name:   "vector_" + opts.Field,
		Type:   "vector",
		Fields: []string{opts.Field},
	})
	return nil
}
