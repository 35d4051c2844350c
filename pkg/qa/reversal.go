package qa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// reversalConfidenceFactor scales the original pair's confidence.
const reversalConfidenceFactor = 0.9

// ReversalGenerator derives inverse question/answer pairs so the graph
// can answer in both directions. Strategies are attempted in order:
// pattern reversal, entity swap, relationship inversion, generic.
type ReversalGenerator struct {
	logger observability.Logger
}

// NewReversalGenerator creates a ReversalGenerator.
func NewReversalGenerator(logger observability.Logger) *ReversalGenerator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &ReversalGenerator{logger: logger.WithPrefix("reversal")}
}

// GenerateBatch derives reversal pairs from a batch. At most
// ratio x len(batch) pairs are produced (ratio is clamped to [0, 1]) and
// input pairs that are themselves reversals are never reversed again.
func (r *ReversalGenerator) GenerateBatch(pairs []*models.QAPair, ratio float64) []*models.QAPair {
	if ratio <= 0 || len(pairs) == 0 {
		return nil
	}
	if ratio > 1 {
		ratio = 1
	}
	limit := int(ratio * float64(len(pairs)))
	if limit == 0 {
		limit = 1
	}

	var out []*models.QAPair
	for _, pair := range pairs {
		if len(out) >= limit {
			break
		}
		if pair.QuestionType == models.QuestionReversal {
			continue
		}
		reversed := r.Reverse(pair)
		if reversed != nil {
			out = append(out, reversed)
		}
	}
	return out
}

// Reverse derives one inverse pair, or nil when no strategy applies.
func (r *ReversalGenerator) Reverse(pair *models.QAPair) *models.QAPair {
	question := strings.TrimSpace(pair.Question)
	answer := strings.TrimSpace(pair.Answer)
	if question == "" || answer == "" {
		return nil
	}

	for _, strategy := range []func(string, string) (string, string, bool){
		patternReversal,
		entitySwapReversal,
		relationshipInversion,
		genericReversal,
	} {
		reversedQ, reversedA, ok := strategy(question, answer)
		if !ok {
			continue
		}
		confidence := pair.Confidence * reversalConfidenceFactor
		return &models.QAPair{
			Question:        reversedQ,
			Thinking:        fmt.Sprintf("Inverted from: %s", question),
			Answer:          reversedA,
			QuestionType:    models.QuestionReversal,
			Confidence:      confidence,
			TemperatureUsed: pair.TemperatureUsed,
			SourceSection:   pair.SourceSection,
			SourceHash:      pair.SourceHash,
			EvidenceBlocks:  pair.EvidenceBlocks,
			ReversalOf:      pair.Key,
		}
	}
	return nil
}

var (
	propertyOfPattern = regexp.MustCompile(`(?i)^what\s+is\s+the\s+(.+?)\s+of\s+(.+?)\??$`)
	whatIsPattern     = regexp.MustCompile(`(?i)^what\s+is\s+(?:an?\s+)?(.+?)\??$`)
	whereIsPattern    = regexp.MustCompile(`(?i)^where\s+is\s+(.+?)(?:\s+located)?\??$`)
)

// propertySubjects maps a property to the kind of thing that has it, for
// natural inverse phrasing.
var propertySubjects = map[string]string{
	"capital":    "country",
	"currency":   "country",
	"population": "place",
	"author":     "work",
	"inventor":   "invention",
	"founder":    "organization",
}

func patternReversal(question, answer string) (string, string, bool) {
	if m := propertyOfPattern.FindStringSubmatch(question); m != nil {
		property := strings.ToLower(strings.TrimSpace(m[1]))
		subject := strings.TrimSpace(m[2])
		if kind, ok := propertySubjects[property]; ok {
			return fmt.Sprintf("What %s has %s as its %s?", kind, answer, property), subject, true
		}
		return fmt.Sprintf("What has %s as its %s?", answer, property), subject, true
	}
	if m := whereIsPattern.FindStringSubmatch(question); m != nil {
		subject := strings.TrimSpace(m[1])
		return fmt.Sprintf("What is located in %s?", answer), subject, true
	}
	if m := whatIsPattern.FindStringSubmatch(question); m != nil {
		subject := strings.TrimSpace(m[1])
		// Definitional questions only invert cleanly for short subjects.
		if len(strings.Fields(subject)) <= 4 {
			return fmt.Sprintf("What is the term for: %s?", answer), subject, true
		}
	}
	return "", "", false
}

var (
	quotedPhrasePattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	capitalizedPattern  = regexp.MustCompile(`\b[A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+)*\b`)
)

// extractEntities pulls quoted phrases and capitalized token runs, most
// prominent (longest) first.
func extractEntities(text string) []string {
	var entities []string
	seen := make(map[string]bool)
	add := func(e string) {
		e = strings.TrimSpace(e)
		if e != "" && !seen[e] {
			seen[e] = true
			entities = append(entities, e)
		}
	}
	for _, m := range quotedPhrasePattern.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range capitalizedPattern.FindAllString(text, -1) {
		if !interrogativeWords[strings.ToLower(m)] {
			add(m)
		}
	}
	return entities
}

var interrogativeWords = map[string]bool{
	"what": true, "which": true, "where": true, "when": true,
	"who": true, "why": true, "how": true, "the": true,
}

func entitySwapReversal(question, answer string) (string, string, bool) {
	questionEntities := extractEntities(question)
	answerEntities := extractEntities(answer)
	if len(questionEntities) == 0 || len(answerEntities) == 0 {
		return "", "", false
	}
	qEntity := longest(questionEntities)
	aEntity := longest(answerEntities)
	if qEntity == aEntity {
		return "", "", false
	}
	return strings.Replace(question, qEntity, aEntity, 1), qEntity, true
}

func longest(items []string) string {
	best := items[0]
	for _, item := range items[1:] {
		if len(item) > len(best) {
			best = item
		}
	}
	return best
}

// relationshipInverses pairs antonymic relationship phrasings.
var relationshipInverses = [][2]string{
	{"causes", "is caused by"},
	{"contains", "is contained in"},
	{"precedes", "follows"},
	{"includes", "is included in"},
	{"produces", "is produced by"},
	{"depends on", "is depended on by"},
}

func relationshipInversion(question, answer string) (string, string, bool) {
	lower := strings.ToLower(question)
	for _, pair := range relationshipInverses {
		for i := 0; i < 2; i++ {
			phrase, inverse := pair[i], pair[1-i]
			idx := strings.Index(lower, " "+phrase+" ")
			if idx < 0 {
				continue
			}
			before := strings.TrimSpace(question[:idx])
			after := strings.TrimSuffix(strings.TrimSpace(question[idx+len(phrase)+2:]), "?")
			reversed := fmt.Sprintf("What %s %s?", inverse, answer)
			// "What causes X?" inverts to "What is caused by A?" -> X.
			if interrogativeWords[strings.ToLower(before)] {
				if after == "" {
					return "", "", false
				}
				return reversed, after, true
			}
			if before == "" {
				return "", "", false
			}
			return reversed, before, true
		}
	}
	return "", "", false
}

func genericReversal(question, answer string) (string, string, bool) {
	subject := strings.TrimSuffix(strings.TrimSpace(question), "?")
	for word := range interrogativeWords {
		prefix := word + " "
		if strings.HasPrefix(strings.ToLower(subject), prefix) {
			subject = strings.TrimSpace(subject[len(prefix):])
			break
		}
	}
	if subject == "" {
		return "", "", false
	}
	return fmt.Sprintf("What concept is described by: %s?", answer), subject, true
}
