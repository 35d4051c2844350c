package qa

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/llm"
	"github.com/recallmesh/recallmesh/pkg/models"
)

// sequenceClient replays scripted responses and records prompts.
type sequenceClient struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	calls     int
}

func (s *sequenceClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	text := s.responses[len(s.responses)-1]
	if s.calls < len(s.responses) {
		text = s.responses[s.calls]
	}
	s.calls++
	return &llm.Response{Text: text}, nil
}

func parsedDoc() *models.ParsedDocument {
	return &models.ParsedDocument{
		Sections: []models.Section{
			{ID: "s1", Title: "Overview", Level: 0, Text: "The retrieval engine fuses lexical and semantic signals."},
			{ID: "s2", Title: "Fusion", Level: 1, Text: "Rank fusion combines ranked retrieval lists deterministically."},
			{ID: "s3", Title: "Traversal", Level: 1, Text: "The graph traverser expands retrieval seeds breadth-first."},
		},
		Relationships: []models.SectionRelationship{
			{FromID: "s1", ToID: "s2", FromText: "The retrieval engine fuses signals.", ToText: "Fusion combines ranked lists.", Type: "contains", Confidence: 0.9},
			{FromID: "s2", ToID: "s3", FromText: "Fusion combines ranked lists.", ToText: "The traverser combines retrieval seeds.", Type: "precedes", Confidence: 0.8},
			{FromID: "s3", ToID: "s1", FromText: "The traverser combines retrieval seeds.", ToText: "The retrieval engine fuses signals.", Type: "supports", Confidence: 0.7},
		},
	}
}

func factualOnlyConfig() GenerationConfig {
	cfg := DefaultGenerationConfig()
	cfg.RetryDelay = 0
	cfg.MinAnswerLength = 10
	cfg.QuestionTypeWeights = map[models.QuestionType]float64{
		models.QuestionFactual: 1.0,
	}
	return cfg
}

const goodResponse = `{"question": "What does the engine fuse?", "thinking": "Stated in the overview.", "answer": "The retrieval engine fuses lexical and semantic signals."}`

func TestGenerateBatch(t *testing.T) {
	client := &sequenceClient{responses: []string{goodResponse}}
	g := NewGenerator(client, nil, factualOnlyConfig(), nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 3)
	require.NoError(t, err)
	assert.Equal(t, "documents/doc1", batch.DocumentID)
	assert.Equal(t, 3, batch.TotalPairs)
	require.Len(t, batch.QAPairs, 3)
	for _, pair := range batch.QAPairs {
		assert.Equal(t, models.QuestionFactual, pair.QuestionType)
		assert.NotEmpty(t, pair.SourceSection)
		assert.Contains(t, []float64{0.3, 0.5, 0.7}, pair.TemperatureUsed)
	}
}

func TestGenerateSelfRepairLoop(t *testing.T) {
	// First attempt is too short; the second must carry the feedback and
	// use the low answer temperature.
	client := &sequenceClient{responses: []string{
		`{"question": "Q?", "thinking": "t", "answer": "short"}`,
		goodResponse,
	}}
	cfg := factualOnlyConfig()
	g := NewGenerator(client, nil, cfg, nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 1)
	require.NoError(t, err)
	require.Len(t, batch.QAPairs, 1)
	assert.Equal(t, cfg.AnswerTemperature, batch.QAPairs[0].TemperatureUsed)

	require.Len(t, client.prompts, 2)
	assert.NotContains(t, client.prompts[0], "rejected")
	assert.Contains(t, client.prompts[1], "rejected")
	assert.Contains(t, client.prompts[1], "shorter than")
}

func TestGenerateDropsAfterRetries(t *testing.T) {
	client := &sequenceClient{responses: []string{"no json here at all"}}
	cfg := factualOnlyConfig()
	cfg.MaxRetries = 2
	g := NewGenerator(client, nil, cfg, nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 1)
	require.NoError(t, err)
	assert.Empty(t, batch.QAPairs, "unrepairable questions are dropped, not failed")
	assert.Equal(t, 3, client.calls, "initial attempt plus two retries")
}

func TestGenerateRejectsUngroundedAnswer(t *testing.T) {
	client := &sequenceClient{responses: []string{
		`{"question": "Q?", "thinking": "t", "answer": "Zebras enjoy xylophone concerts."}`,
		goodResponse,
	}}
	g := NewGenerator(client, nil, factualOnlyConfig(), nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 1)
	require.NoError(t, err)
	require.Len(t, batch.QAPairs, 1)
	assert.Contains(t, client.prompts[1], "does not reference the source")
}

func TestGenerateBatchValidates(t *testing.T) {
	client := &sequenceClient{responses: []string{goodResponse}}
	loader := &countingLoader{blocks: []CorpusBlock{
		{BlockID: "b1", Text: "The retrieval engine fuses lexical and semantic signals."},
	}}
	validator := NewValidator(loader, nil, 0.9, nil)
	g := NewGenerator(client, validator, factualOnlyConfig(), nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.TotalPairs)
	assert.Equal(t, 2, batch.ValidPairs)
	assert.Equal(t, 1, loader.loads, "the corpus is loaded once for the batch")
	for _, pair := range batch.QAPairs {
		assert.True(t, pair.CitationFound)
		require.NotNil(t, pair.ValidationScore)
	}
}

func TestGenerateRelationshipAndMultiHop(t *testing.T) {
	cfg := factualOnlyConfig()
	cfg.QuestionTypeWeights = map[models.QuestionType]float64{
		models.QuestionRelationship: 0.5,
		models.QuestionMultiHop:     0.5,
	}
	client := &sequenceClient{responses: []string{
		`{"question": "How do the parts relate?", "thinking": "t", "answer": "Fusion combines ranked lists from the engine."}`,
	}}
	g := NewGenerator(client, nil, cfg, nil, nil)

	batch, err := g.GenerateBatch(context.Background(), parsedDoc(), "documents/doc1", 2)
	require.NoError(t, err)
	require.Len(t, batch.QAPairs, 2)

	types := map[models.QuestionType]bool{}
	for _, pair := range batch.QAPairs {
		types[pair.QuestionType] = true
		assert.NotEmpty(t, pair.RelationshipTypes)
	}
	assert.True(t, types[models.QuestionRelationship])
	assert.True(t, types[models.QuestionMultiHop])
}

func TestGenerateSkipsTypesWithoutMaterial(t *testing.T) {
	cfg := factualOnlyConfig()
	cfg.QuestionTypeWeights = map[models.QuestionType]float64{
		models.QuestionRelationship: 1.0,
	}
	client := &sequenceClient{responses: []string{goodResponse}}
	g := NewGenerator(client, nil, cfg, nil, nil)

	// No relationships in the document: nothing to generate from.
	batch, err := g.GenerateBatch(context.Background(), &models.ParsedDocument{
		Sections: []models.Section{{ID: "s1", Text: "lonely section"}},
	}, "documents/doc1", 2)
	require.NoError(t, err)
	assert.Empty(t, batch.QAPairs)
	assert.Zero(t, client.calls)
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	client := &sequenceClient{responses: []string{goodResponse}}
	g := NewGenerator(client, nil, factualOnlyConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch, err := g.GenerateBatch(ctx, parsedDoc(), "documents/doc1", 3)
	require.NoError(t, err)
	assert.Empty(t, batch.QAPairs, "an expired deadline returns what was produced so far")
}

func TestGroundedInSource(t *testing.T) {
	source := "Reciprocal rank fusion combines ranked lists."
	assert.True(t, groundedInSource("It uses reciprocal rank fusion.", source))
	assert.False(t, groundedInSource("Cats nap often.", source))
	assert.True(t, groundedInSource("The lists are combines ranked, sort of.", source))
}

func TestSequenceClientHelper(t *testing.T) {
	// Guard the test helper itself: it must replay the last response
	// once the script runs out.
	c := &sequenceClient{responses: []string{"a", "b"}}
	r1, _ := c.Complete(context.Background(), llm.Request{Prompt: "p1"})
	r2, _ := c.Complete(context.Background(), llm.Request{Prompt: "p2"})
	r3, _ := c.Complete(context.Background(), llm.Request{Prompt: "p3"})
	assert.Equal(t, []string{"a", "b", "b"}, []string{r1.Text, r2.Text, r3.Text})
	assert.True(t, strings.HasPrefix(c.prompts[0], "p1"))
}
