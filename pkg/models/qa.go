package models

import "time"

// QuestionType classifies a generated question.
type QuestionType string

// Question types, from highest to lowest default edge weight.
const (
	QuestionFactual      QuestionType = "FACTUAL"
	QuestionDefinitional QuestionType = "DEFINITIONAL"
	QuestionRelationship QuestionType = "RELATIONSHIP"
	QuestionCausal       QuestionType = "CAUSAL"
	QuestionProcedural   QuestionType = "PROCEDURAL"
	QuestionHierarchical QuestionType = "HIERARCHICAL"
	QuestionComparative  QuestionType = "COMPARATIVE"
	QuestionMultiHop     QuestionType = "MULTI_HOP"
	QuestionReversal     QuestionType = "REVERSAL"
)

// QAPair is a single generated question/answer tuple together with its
// provenance and validation outcome.
type QAPair struct {
	Key               string       `json:"_key,omitempty"`
	Question          string       `json:"question"`
	Thinking          string       `json:"thinking"`
	Answer            string       `json:"answer"`
	QuestionType      QuestionType `json:"question_type"`
	Difficulty        string       `json:"difficulty,omitempty"`
	Confidence        float64      `json:"confidence"`
	TemperatureUsed   float64      `json:"temperature_used"`
	SourceSection     string       `json:"source_section,omitempty"`
	SourceHash        string       `json:"source_hash,omitempty"`
	EvidenceBlocks    []string     `json:"evidence_blocks,omitempty"`
	RelationshipTypes []string     `json:"relationship_types,omitempty"`
	RelatedEntities   []string     `json:"related_entities,omitempty"`
	ValidationScore   *float64     `json:"validation_score,omitempty"`
	CitationFound     bool         `json:"citation_found"`
	ReversalOf        string       `json:"reversal_of,omitempty"`
}

// QABatch groups the pairs generated for one document.
type QABatch struct {
	QAPairs        []*QAPair              `json:"qa_pairs"`
	DocumentID     string                 `json:"document_id"`
	GenerationTime time.Time              `json:"generation_time"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	TotalPairs     int                    `json:"total_pairs"`
	ValidPairs     int                    `json:"valid_pairs"`
}

// ValidationResult is the outcome of fuzzy-matching an answer against a
// document corpus.
type ValidationResult struct {
	Valid          bool    `json:"valid"`
	Score          float64 `json:"score"`
	MatchedBlockID string  `json:"matched_block_id,omitempty"`
	MatchedText    string  `json:"matched_text,omitempty"`
}
