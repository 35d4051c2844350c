package models

// The ingestion adapter is an external collaborator; these types are its
// contract. A ParsedDocument arrives fully decomposed into sections and
// inter-section relationships, optionally with the raw corpus used as the
// authority for answer validation.

// Section is one unit of a parsed document.
type Section struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Level       int    `json:"level"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
}

// SectionRelationship links two sections of a parsed document.
type SectionRelationship struct {
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	FromText   string  `json:"from_text,omitempty"`
	ToText     string  `json:"to_text,omitempty"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// CorpusPage is one page of raw corpus text.
type CorpusPage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// RawCorpus is the authoritative source text for validation when present.
type RawCorpus struct {
	FullText string       `json:"full_text"`
	Pages    []CorpusPage `json:"pages,omitempty"`
}

// ParsedDocument is the unit of ingestion supplied by the adapter.
type ParsedDocument struct {
	DocumentMetadata map[string]interface{} `json:"document_metadata,omitempty"`
	Sections         []Section              `json:"sections"`
	Relationships    []SectionRelationship  `json:"relationships,omitempty"`
	RawCorpus        *RawCorpus             `json:"raw_corpus,omitempty"`
}
