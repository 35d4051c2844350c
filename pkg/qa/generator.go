package qa

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/recallmesh/recallmesh/pkg/llm"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

const qaResponseSchema = `{
  "type": "object",
  "required": ["question", "thinking", "answer"],
  "properties": {
    "question": {"type": "string", "minLength": 1},
    "thinking": {"type": "string"},
    "answer": {"type": "string", "minLength": 1}
  }
}`

// meaningfulRelationshipTypes are the relationship types worth asking
// about directly.
var meaningfulRelationshipTypes = map[string]bool{
	"causes":     true,
	"contains":   true,
	"precedes":   true,
	"follows":    true,
	"depends_on": true,
	"part_of":    true,
	"refines":    true,
	"supports":   true,
	"elaborates": true,
}

// Generator produces typed question/answer pairs from a parsed document
// through the completion service, with a bounded self-repair loop per
// question and a global concurrency cap.
type Generator struct {
	client    llm.Client
	validator *Validator
	cfg       GenerationConfig
	logger    observability.Logger
	metrics   observability.MetricsClient

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a Generator. validator may be nil to skip batch
// validation.
func NewGenerator(client llm.Client, validator *Validator, cfg GenerationConfig, logger observability.Logger, metrics observability.MetricsClient) *Generator {
	if cfg.SemaphoreLimit <= 0 {
		cfg.SemaphoreLimit = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.QuestionTemperatureRange) == 0 {
		cfg.QuestionTemperatureRange = []float64{0.5}
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	return &Generator{
		client:    client,
		validator: validator,
		cfg:       cfg,
		logger:    logger.WithPrefix("generator"),
		metrics:   metrics,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

func (g *Generator) sampleTemperature() float64 {
	return g.cfg.QuestionTemperatureRange[g.intn(len(g.cfg.QuestionTemperatureRange))]
}

// material is the per-question generation input: a prompt and the source
// content the answer must be grounded in.
type material struct {
	questionType models.QuestionType
	prompt       string
	source       string
	section      string
	relTypes     []string
}

// GenerateBatch produces up to maxPairs typed pairs for one parsed
// document and batch-validates them against the document's corpus. An
// expired context stops further generation but still returns what was
// produced so far.
func (g *Generator) GenerateBatch(ctx context.Context, parsed *models.ParsedDocument, documentID string, maxPairs int) (*models.QABatch, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, err
	}

	var materials []material
	for qt, count := range g.cfg.TypeCounts(maxPairs) {
		for i := 0; i < count; i++ {
			m, ok := g.buildMaterial(qt, parsed)
			if !ok {
				g.logger.Debug("no material for question type", map[string]interface{}{"type": string(qt)})
				continue
			}
			materials = append(materials, m)
		}
	}

	batch := &models.QABatch{
		DocumentID:     documentID,
		GenerationTime: time.Now().UTC(),
	}

	sem := semaphore.NewWeighted(int64(g.cfg.SemaphoreLimit))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, m := range materials {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		m := m
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			pair := g.generateOne(ctx, m)
			if pair == nil {
				return
			}
			mu.Lock()
			batch.QAPairs = append(batch.QAPairs, pair)
			mu.Unlock()
		}()
	}
	wg.Wait()
	batch.TotalPairs = len(batch.QAPairs)

	if g.validator != nil && len(batch.QAPairs) > 0 {
		if err := g.validator.ValidateBatch(ctx, batch.QAPairs, documentID); err != nil {
			return nil, fmt.Errorf("batch validation failed: %w", err)
		}
		for _, pair := range batch.QAPairs {
			if pair.CitationFound {
				batch.ValidPairs++
			}
		}
	}

	g.logger.Info("generation batch complete", map[string]interface{}{
		"document":    documentID,
		"total_pairs": batch.TotalPairs,
		"valid_pairs": batch.ValidPairs,
	})
	return batch, nil
}

type qaResponse struct {
	Question string `json:"question"`
	Thinking string `json:"thinking"`
	Answer   string `json:"answer"`
}

// generateOne runs the bounded self-repair loop for one question. Every
// failed attempt's errors are fed back into the next prompt at the low
// answer temperature. Returns nil when the retries are exhausted or the
// context expires.
func (g *Generator) generateOne(ctx context.Context, m material) *models.QAPair {
	temperature := g.sampleTemperature()
	var feedback []string

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if attempt > 0 {
			temperature = g.cfg.AnswerTemperature
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(g.cfg.RetryDelay):
			}
		}

		prompt := m.prompt
		if len(feedback) > 0 {
			prompt += "\n\nYour previous attempt was rejected for these reasons:\n- " +
				strings.Join(feedback, "\n- ") + "\nFix every problem and answer again."
		}

		var resp qaResponse
		err := llm.CompleteJSON(ctx, g.client, llm.Request{
			Prompt:         prompt,
			Model:          g.cfg.Model,
			Temperature:    temperature,
			MaxTokens:      g.cfg.MaxTokens,
			ResponseSchema: qaResponseSchema,
		}, &resp)
		if err != nil {
			feedback = append(feedback, err.Error())
			continue
		}

		if problems := g.checkResponse(resp, m.source); len(problems) > 0 {
			feedback = append(feedback, problems...)
			continue
		}

		return &models.QAPair{
			Question:          resp.Question,
			Thinking:          resp.Thinking,
			Answer:            resp.Answer,
			QuestionType:      m.questionType,
			Confidence:        1.0,
			TemperatureUsed:   temperature,
			SourceSection:     m.section,
			RelationshipTypes: m.relTypes,
		}
	}
	g.logger.Warn("question dropped after retries", map[string]interface{}{
		"type":     string(m.questionType),
		"attempts": g.cfg.MaxRetries + 1,
	})
	return nil
}

func (g *Generator) checkResponse(resp qaResponse, source string) []string {
	var problems []string
	if strings.TrimSpace(resp.Question) == "" {
		problems = append(problems, "question is empty")
	}
	if strings.TrimSpace(resp.Answer) == "" {
		problems = append(problems, "answer is empty")
	}
	if g.cfg.MinAnswerLength > 0 && len(resp.Answer) < g.cfg.MinAnswerLength {
		problems = append(problems, fmt.Sprintf("answer is shorter than %d characters", g.cfg.MinAnswerLength))
	}
	if g.cfg.MaxAnswerLength > 0 && len(resp.Answer) > g.cfg.MaxAnswerLength {
		problems = append(problems, fmt.Sprintf("answer is longer than %d characters", g.cfg.MaxAnswerLength))
	}
	if resp.Answer != "" && !groundedInSource(resp.Answer, source) {
		problems = append(problems, "answer does not reference the source content")
	}
	return problems
}

// groundedInSource reports whether the answer shares at least one
// substantial word with the source content.
func groundedInSource(answer, source string) bool {
	sourceLower := strings.ToLower(source)
	for _, word := range strings.Fields(strings.ToLower(answer)) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) >= 5 && strings.Contains(sourceLower, word) {
			return true
		}
	}
	return false
}

func (g *Generator) buildMaterial(qt models.QuestionType, parsed *models.ParsedDocument) (material, bool) {
	switch qt {
	case models.QuestionFactual:
		return g.factualMaterial(parsed)
	case models.QuestionRelationship:
		return g.relationshipMaterial(parsed)
	case models.QuestionMultiHop:
		return g.multiHopMaterial(parsed)
	case models.QuestionHierarchical:
		return g.hierarchicalMaterial(parsed)
	case models.QuestionComparative:
		return g.comparativeMaterial(parsed)
	default:
		return material{}, false
	}
}

const jsonInstruction = `Respond with JSON only: {"question": "...", "thinking": "...", "answer": "..."}.
The answer must be stated in the content above.`

func (g *Generator) factualMaterial(parsed *models.ParsedDocument) (material, bool) {
	if len(parsed.Sections) == 0 {
		return material{}, false
	}
	section := parsed.Sections[g.intn(len(parsed.Sections))]
	if strings.TrimSpace(section.Text) == "" {
		return material{}, false
	}
	prompt := fmt.Sprintf(`Write one factual question answered directly by this content.

Section %q:
%s

%s`, section.Title, section.Text, jsonInstruction)
	return material{
		questionType: models.QuestionFactual,
		prompt:       prompt,
		source:       section.Text,
		section:      section.ID,
	}, true
}

func (g *Generator) relationshipMaterial(parsed *models.ParsedDocument) (material, bool) {
	var candidates []models.SectionRelationship
	for _, rel := range parsed.Relationships {
		if meaningfulRelationshipTypes[rel.Type] && rel.FromText != "" && rel.ToText != "" {
			candidates = append(candidates, rel)
		}
	}
	if len(candidates) == 0 {
		return material{}, false
	}
	rel := candidates[g.intn(len(candidates))]
	prompt := fmt.Sprintf(`Two parts of a document are related: the first %s the second.

First:
%s

Second:
%s

Write one question about how these two parts relate, answerable from the
content above.

%s`, strings.ReplaceAll(rel.Type, "_", " "), rel.FromText, rel.ToText, jsonInstruction)
	return material{
		questionType: models.QuestionRelationship,
		prompt:       prompt,
		source:       rel.FromText + "\n" + rel.ToText,
		relTypes:     []string{rel.Type},
	}, true
}

func (g *Generator) multiHopMaterial(parsed *models.ParsedDocument) (material, bool) {
	if len(parsed.Relationships) < 2 {
		return material{}, false
	}

	// Random walk of length 2-3 avoiding revisited sections.
	bySource := make(map[string][]models.SectionRelationship)
	for _, rel := range parsed.Relationships {
		bySource[rel.FromID] = append(bySource[rel.FromID], rel)
	}

	start := parsed.Relationships[g.intn(len(parsed.Relationships))]
	path := []models.SectionRelationship{start}
	visited := map[string]bool{start.FromID: true, start.ToID: true}
	targetHops := 2 + g.intn(2)
	current := start.ToID
	for len(path) < targetHops {
		next := pickUnvisited(bySource[current], visited, g.intn)
		if next == nil {
			break
		}
		path = append(path, *next)
		visited[next.ToID] = true
		current = next.ToID
	}
	if len(path) < 2 {
		return material{}, false
	}

	var steps []string
	var sources []string
	var relTypes []string
	for i, rel := range path {
		steps = append(steps, fmt.Sprintf("Step %d (%s):\n%s\n->\n%s",
			i+1, rel.Type, rel.FromText, rel.ToText))
		sources = append(sources, rel.FromText, rel.ToText)
		relTypes = append(relTypes, rel.Type)
	}
	prompt := fmt.Sprintf(`Follow this reasoning path through a document:

%s

Write one question whose answer requires combining every step above.

%s`, strings.Join(steps, "\n\n"), jsonInstruction)
	return material{
		questionType: models.QuestionMultiHop,
		prompt:       prompt,
		source:       strings.Join(sources, "\n"),
		relTypes:     relTypes,
	}, true
}

func pickUnvisited(rels []models.SectionRelationship, visited map[string]bool, intn func(int) int) *models.SectionRelationship {
	var candidates []models.SectionRelationship
	for _, rel := range rels {
		if !visited[rel.ToID] {
			candidates = append(candidates, rel)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	rel := candidates[intn(len(candidates))]
	return &rel
}

func (g *Generator) hierarchicalMaterial(parsed *models.ParsedDocument) (material, bool) {
	byLevel := make(map[int][]models.Section)
	for _, s := range parsed.Sections {
		byLevel[s.Level] = append(byLevel[s.Level], s)
	}
	if len(byLevel) < 2 {
		return material{}, false
	}

	var outline []string
	var sources []string
	for _, s := range parsed.Sections {
		outline = append(outline, fmt.Sprintf("%s- %s", strings.Repeat("  ", s.Level), s.Title))
		sources = append(sources, s.Title, s.Text)
	}
	prompt := fmt.Sprintf(`This document has the following structure:

%s

Write one question about the structural relationship between the parts
(what belongs under what, what a part covers).

%s`, strings.Join(outline, "\n"), jsonInstruction)
	return material{
		questionType: models.QuestionHierarchical,
		prompt:       prompt,
		source:       strings.Join(sources, "\n"),
	}, true
}

func (g *Generator) comparativeMaterial(parsed *models.ParsedDocument) (material, bool) {
	byLevel := make(map[int][]models.Section)
	for _, s := range parsed.Sections {
		if strings.TrimSpace(s.Text) != "" {
			byLevel[s.Level] = append(byLevel[s.Level], s)
		}
	}
	for _, group := range byLevel {
		if len(group) < 2 {
			continue
		}
		i := g.intn(len(group))
		j := g.intn(len(group) - 1)
		if j >= i {
			j++
		}
		first, second := group[i], group[j]
		prompt := fmt.Sprintf(`Compare these two parts of a document.

%q:
%s

%q:
%s

Write one compare-or-contrast question answerable from the content above.

%s`, first.Title, first.Text, second.Title, second.Text, jsonInstruction)
		return material{
			questionType: models.QuestionComparative,
			prompt:       prompt,
			source:       first.Text + "\n" + second.Text,
		}, true
	}
	return material{}, false
}
