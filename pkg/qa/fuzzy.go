// Package qa implements the question/answer pipeline: corpus-grounded
// validation with fuzzy partial matching, typed question generation with a
// bounded self-repair loop, reversal augmentation, and materialization of
// validated pairs into the knowledge graph.
package qa

import (
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// normalizeText lowercases and collapses whitespace so scoring ignores
// formatting differences between answers and corpus blocks.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// PartialRatio scores how well the shorter of two strings matches the best
// aligned window of the longer one, in [0, 1]. Equal-length inputs reduce
// to plain normalized Levenshtein similarity.
func PartialRatio(a, b string) float64 {
	a = normalizeText(a)
	b = normalizeText(b)
	if a == "" || b == "" {
		return 0
	}

	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	lev := metrics.NewLevenshtein()
	if len(shorter) == len(longer) {
		return strutil.Similarity(shorter, longer, lev)
	}

	best := 0.0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		score := strutil.Similarity(shorter, longer[i:i+len(shorter)], lev)
		if score > best {
			best = score
			if best >= 1 {
				return 1
			}
		}
	}
	return best
}

// Segment length bounds used when splitting answers for validation.
const (
	minSegmentLength       = 20
	maxFirstSentenceLength = 100
)

// SplitSegments breaks an answer into the segments that are matched
// against the corpus: every sentence of at least 20 characters, plus the
// full first sentence when it is 100 characters or shorter.
func SplitSegments(answer string) []string {
	sentences := splitSentences(answer)
	if len(sentences) == 0 {
		return nil
	}

	var segments []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			segments = append(segments, s)
		}
	}

	for _, sentence := range sentences {
		if len(sentence) >= minSegmentLength {
			add(sentence)
		}
	}
	if first := sentences[0]; len(first) <= maxFirstSentenceLength {
		add(first)
	}
	return segments
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return sentences
}
