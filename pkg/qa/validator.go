package qa

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// DefaultValidationThreshold is the fuzzy-match cutoff for citation.
const DefaultValidationThreshold = 0.97

// CorpusBlock is one unit of authoritative source text.
type CorpusBlock struct {
	BlockID string `json:"block_id"`
	Text    string `json:"text"`
}

// CorpusLoader fetches the corpus blocks of a document.
type CorpusLoader interface {
	LoadCorpus(ctx context.Context, documentID string) ([]CorpusBlock, error)
}

const corpusBlocksQuery = `
FOR b IN @@collection
  FILTER b.document_id == @documentID
  SORT b._key ASC
  RETURN { block_id: b._key, text: b.text }`

// DBCorpusLoader loads corpus blocks from a collection keyed by
// document_id.
type DBCorpusLoader struct {
	db         database.Client
	collection string
}

// NewDBCorpusLoader creates a DBCorpusLoader.
func NewDBCorpusLoader(db database.Client, collection string) *DBCorpusLoader {
	return &DBCorpusLoader{db: db, collection: collection}
}

// LoadCorpus implements CorpusLoader.
func (l *DBCorpusLoader) LoadCorpus(ctx context.Context, documentID string) ([]CorpusBlock, error) {
	cursor, err := l.db.Query(ctx, corpusBlocksQuery, map[string]interface{}{
		"@collection": l.collection,
		"documentID":  documentID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus for %q: %w", documentID, err)
	}
	defer func() { _ = cursor.Close() }()

	var blocks []CorpusBlock
	for cursor.HasMore() {
		var block CorpusBlock
		if err := cursor.ReadDocument(ctx, &block); err != nil {
			return nil, fmt.Errorf("failed to read corpus block: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Validator grounds answers against a document's corpus with fuzzy
// partial matching. Corpora are cached per document id.
type Validator struct {
	loader    CorpusLoader
	cache     cache.Cache
	threshold float64
	logger    observability.Logger
}

// NewValidator creates a Validator. cache may be nil to disable caching;
// a non-positive threshold falls back to the default.
func NewValidator(loader CorpusLoader, c cache.Cache, threshold float64, logger observability.Logger) *Validator {
	if threshold <= 0 {
		threshold = DefaultValidationThreshold
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Validator{loader: loader, cache: c, threshold: threshold, logger: logger.WithPrefix("validator")}
}

// Threshold returns the configured citation cutoff.
func (v *Validator) Threshold() float64 { return v.threshold }

func corpusCacheKey(documentID string) string { return "corpus:" + documentID }

// Corpus returns the corpus blocks of a document, loading and caching
// them on first use.
func (v *Validator) Corpus(ctx context.Context, documentID string) ([]CorpusBlock, error) {
	if v.cache != nil {
		var blocks []CorpusBlock
		err := v.cache.Get(ctx, corpusCacheKey(documentID), &blocks)
		if err == nil {
			return blocks, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			v.logger.Warn("corpus cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	blocks, err := v.loader.LoadCorpus(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		if err := v.cache.Set(ctx, corpusCacheKey(documentID), blocks, 0); err != nil {
			v.logger.Warn("corpus cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return blocks, nil
}

// InvalidateCorpus drops a document's cached corpus.
func (v *Validator) InvalidateCorpus(ctx context.Context, documentID string) error {
	if v.cache == nil {
		return nil
	}
	err := v.cache.Delete(ctx, corpusCacheKey(documentID))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	return err
}

// Validate scores an answer against a document's corpus. The score is the
// maximum partial ratio over every (answer segment, corpus block) pair.
func (v *Validator) Validate(ctx context.Context, answer, documentID string) (*models.ValidationResult, error) {
	blocks, err := v.Corpus(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return v.validateAgainst(answer, blocks), nil
}

func (v *Validator) validateAgainst(answer string, blocks []CorpusBlock) *models.ValidationResult {
	result := &models.ValidationResult{}
	segments := SplitSegments(answer)
	if len(segments) == 0 || len(blocks) == 0 {
		return result
	}

	for _, segment := range segments {
		for _, block := range blocks {
			score := PartialRatio(segment, block.Text)
			if score > result.Score {
				result.Score = score
				result.MatchedBlockID = block.BlockID
				result.MatchedText = segment
			}
		}
	}
	result.Valid = result.Score >= v.threshold
	return result
}

// ValidateBatch validates many pairs concurrently against one document,
// loading the corpus only once. Each pair's ValidationScore and
// CitationFound are set in place.
func (v *Validator) ValidateBatch(ctx context.Context, pairs []*models.QAPair, documentID string) error {
	blocks, err := v.Corpus(ctx, documentID)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			result := v.validateAgainst(pair.Answer, blocks)
			mu.Lock()
			pair.ValidationScore = &result.Score
			pair.CitationFound = result.Valid
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
