package database

import (
	"context"
	"fmt"
	"path"

	driver "github.com/arangodb/go-driver"
	driverhttp "github.com/arangodb/go-driver/http"

	"github.com/recallmesh/recallmesh/pkg/config"
)

// ArangoClient implements Client on the official ArangoDB driver.
type ArangoClient struct {
	conn   driver.Connection
	db     driver.Database
	dbName string
}

// NewArangoClient connects to ArangoDB using the given configuration.
func NewArangoClient(ctx context.Context, cfg config.ArangoConfig) (*ArangoClient, error) {
	conn, err := driverhttp.NewConnection(driverhttp.ConnectionConfig{
		Endpoints: []string{cfg.Host},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	client, err := driver.NewClient(driver.ClientConfig{
		Connection:     conn,
		Authentication: driver.BasicAuthentication(cfg.User, cfg.Password),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	db, err := client.Database(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.Database, err)
	}

	return &ArangoClient{conn: conn, db: db, dbName: cfg.Database}, nil
}

type arangoCursor struct {
	cursor driver.Cursor
}

func (c *arangoCursor) HasMore() bool { return c.cursor.HasMore() }

func (c *arangoCursor) ReadDocument(ctx context.Context, out interface{}) error {
	_, err := c.cursor.ReadDocument(ctx, out)
	if driver.IsNoMoreDocuments(err) {
		return ErrNoMoreDocuments
	}
	return err
}

func (c *arangoCursor) Close() error { return c.cursor.Close() }

// Query executes an AQL query with bind variables.
func (a *ArangoClient) Query(ctx context.Context, query string, bindVars map[string]interface{}) (Cursor, error) {
	cursor, err := a.db.Query(ctx, query, bindVars)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return &arangoCursor{cursor: cursor}, nil
}

// CollectionExists reports whether a collection exists.
func (a *ArangoClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	return a.db.CollectionExists(ctx, name)
}

// CreateCollection creates a document or edge collection.
func (a *ArangoClient) CreateCollection(ctx context.Context, name string, edge bool) error {
	opts := &driver.CreateCollectionOptions{Type: driver.CollectionTypeDocument}
	if edge {
		opts.Type = driver.CollectionTypeEdge
	}
	if _, err := a.db.CreateCollection(ctx, name, opts); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return nil
}

// CollectionCount returns the number of documents in a collection.
func (a *ArangoClient) CollectionCount(ctx context.Context, name string) (int64, error) {
	col, err := a.collection(ctx, name)
	if err != nil {
		return 0, err
	}
	return col.Count(ctx)
}

// GetDocument reads one document by key.
func (a *ArangoClient) GetDocument(ctx context.Context, collection, key string, out interface{}) error {
	col, err := a.collection(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := col.ReadDocument(ctx, key, out); err != nil {
		if driver.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
	}
	return nil
}

// DocumentExists reports whether a document exists.
func (a *ArangoClient) DocumentExists(ctx context.Context, collection, key string) (bool, error) {
	col, err := a.collection(ctx, collection)
	if err != nil {
		return false, err
	}
	return col.DocumentExists(ctx, key)
}

// InsertDocument creates one document and returns its metadata.
func (a *ArangoClient) InsertDocument(ctx context.Context, collection string, doc interface{}) (Meta, error) {
	col, err := a.collection(ctx, collection)
	if err != nil {
		return Meta{}, err
	}
	meta, err := col.CreateDocument(ctx, doc)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to insert into %q: %w", collection, err)
	}
	return Meta{ID: string(meta.ID), Key: meta.Key, Rev: meta.Rev}, nil
}

// UpdateDocument patches one document by key.
func (a *ArangoClient) UpdateDocument(ctx context.Context, collection, key string, patch interface{}) error {
	col, err := a.collection(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := col.UpdateDocument(ctx, key, patch); err != nil {
		if driver.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update %s/%s: %w", collection, key, err)
	}
	return nil
}

// ReplaceDocument replaces one document by key.
func (a *ArangoClient) ReplaceDocument(ctx context.Context, collection, key string, doc interface{}) error {
	col, err := a.collection(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := col.ReplaceDocument(ctx, key, doc); err != nil {
		if driver.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to replace %s/%s: %w", collection, key, err)
	}
	return nil
}

// ViewExists reports whether a search view exists.
func (a *ArangoClient) ViewExists(ctx context.Context, name string) (bool, error) {
	return a.db.ViewExists(ctx, name)
}

// CreateSearchView creates an ArangoSearch view with the given links.
func (a *ArangoClient) CreateSearchView(ctx context.Context, name string, props ViewProperties) error {
	if _, err := a.db.CreateArangoSearchView(ctx, name, &driver.ArangoSearchViewProperties{
		Links: toArangoLinks(props.Links),
	}); err != nil {
		return fmt.Errorf("failed to create view %q: %w", name, err)
	}
	return nil
}

// ViewProperties reads the current link definitions of a view.
func (a *ArangoClient) ViewProperties(ctx context.Context, name string) (ViewProperties, error) {
	view, err := a.db.View(ctx, name)
	if err != nil {
		if driver.IsNotFound(err) {
			return ViewProperties{}, ErrNotFound
		}
		return ViewProperties{}, fmt.Errorf("failed to open view %q: %w", name, err)
	}
	asView, err := view.ArangoSearchView()
	if err != nil {
		return ViewProperties{}, fmt.Errorf("view %q is not a search view: %w", name, err)
	}
	props, err := asView.Properties(ctx)
	if err != nil {
		return ViewProperties{}, fmt.Errorf("failed to read view properties: %w", err)
	}
	return ViewProperties{Links: fromArangoLinks(props.Links)}, nil
}

// UpdateSearchView merges new link definitions into a view.
func (a *ArangoClient) UpdateSearchView(ctx context.Context, name string, props ViewProperties) error {
	view, err := a.db.View(ctx, name)
	if err != nil {
		if driver.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open view %q: %w", name, err)
	}
	asView, err := view.ArangoSearchView()
	if err != nil {
		return fmt.Errorf("view %q is not a search view: %w", name, err)
	}
	current, err := asView.Properties(ctx)
	if err != nil {
		return fmt.Errorf("failed to read view properties: %w", err)
	}
	if current.Links == nil {
		current.Links = driver.ArangoSearchLinks{}
	}
	for col, link := range toArangoLinks(props.Links) {
		current.Links[col] = link
	}
	if err := asView.SetProperties(ctx, current); err != nil {
		return fmt.Errorf("failed to update view %q: %w", name, err)
	}
	return nil
}

// CollectionIndexes lists the indexes of a collection.
func (a *ArangoClient) CollectionIndexes(ctx context.Context, name string) ([]IndexInfo, error) {
	col, err := a.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	indexes, err := col.Indexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %q: %w", name, err)
	}
	out := make([]IndexInfo, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, IndexInfo{
			Name:   idx.UserName(),
			Type:   string(idx.Type()),
			Fields: idx.Fields(),
		})
	}
	return out, nil
}

// EnsureVectorIndex creates a vector index through the raw index API. The
// driver has no typed helper for vector indexes yet, so the request goes
// through the underlying connection.
func (a *ArangoClient) EnsureVectorIndex(ctx context.Context, collection string, opts VectorIndexOptions) error {
	req, err := a.conn.NewRequest("POST", path.Join("_db", a.dbName, "_api/index"))
	if err != nil {
		return fmt.Errorf("failed to build index request: %w", err)
	}
	req = req.SetQuery("collection", collection)
	body := map[string]interface{}{
		"type":   "vector",
		"fields": []string{opts.Field},
		"params": map[string]interface{}{
			"metric":    opts.Metric,
			"dimension": opts.Dimensions,
			"nLists":    opts.NLists,
		},
	}
	req, err = req.SetBody(body)
	if err != nil {
		return fmt.Errorf("failed to encode index request: %w", err)
	}
	resp, err := a.conn.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create vector index on %q: %w", collection, err)
	}
	if err := resp.CheckStatus(200, 201); err != nil {
		return fmt.Errorf("vector index creation rejected for %q: %w", collection, err)
	}
	return nil
}

func (a *ArangoClient) collection(ctx context.Context, name string) (driver.Collection, error) {
	col, err := a.db.Collection(ctx, name)
	if err != nil {
		if driver.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open collection %q: %w", name, err)
	}
	return col, nil
}

func toArangoLinks(links map[string]ViewLink) driver.ArangoSearchLinks {
	out := driver.ArangoSearchLinks{}
	for name, link := range links {
		out[name] = toArangoLink(link)
	}
	return out
}

func toArangoLink(link ViewLink) driver.ArangoSearchElementProperties {
	props := driver.ArangoSearchElementProperties{
		Analyzers: link.Analyzers,
	}
	if link.IncludeAllFields {
		include := true
		props.IncludeAllFields = &include
	}
	if len(link.Fields) > 0 {
		fields := driver.ArangoSearchFields{}
		for f, sub := range link.Fields {
			fields[f] = toArangoLink(sub)
		}
		props.Fields = fields
	}
	return props
}

func fromArangoLinks(links driver.ArangoSearchLinks) map[string]ViewLink {
	out := make(map[string]ViewLink, len(links))
	for name, link := range links {
		out[name] = fromArangoLink(link)
	}
	return out
}

func fromArangoLink(props driver.ArangoSearchElementProperties) ViewLink {
	link := ViewLink{Analyzers: props.Analyzers}
	if props.IncludeAllFields != nil {
		link.IncludeAllFields = *props.IncludeAllFields
	}
	if len(props.Fields) > 0 {
		link.Fields = make(map[string]ViewLink, len(props.Fields))
		for f, sub := range props.Fields {
			link.Fields[f] = fromArangoLink(sub)
		}
	}
	return link
}
