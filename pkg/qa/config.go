package qa

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/recallmesh/recallmesh/pkg/models"
)

// GenerationConfig tunes the question generator.
type GenerationConfig struct {
	// Model is the completion model identifier.
	Model string
	// QuestionTemperatureRange holds the discrete temperatures sampled
	// per question.
	QuestionTemperatureRange []float64
	// AnswerTemperature is the low temperature used on repair retries.
	AnswerTemperature float64
	MaxTokens         int
	BatchSize         int
	// SemaphoreLimit caps concurrent generation requests.
	SemaphoreLimit int
	// ValidationThreshold is the fuzzy-match cutoff for citation.
	ValidationThreshold float64
	MinAnswerLength     int
	MaxAnswerLength     int
	// MaxRetries bounds the self-repair loop per question.
	MaxRetries int
	// RetryDelay spaces repair attempts.
	RetryDelay time.Duration
	// QuestionTypeWeights distributes max_pairs over question types and
	// must sum to 1.
	QuestionTypeWeights map[models.QuestionType]float64
}

// DefaultGenerationConfig returns the standard generator settings.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		QuestionTemperatureRange: []float64{0.3, 0.5, 0.7},
		AnswerTemperature:        0.1,
		MaxTokens:                1024,
		BatchSize:                20,
		SemaphoreLimit:           10,
		ValidationThreshold:      DefaultValidationThreshold,
		MinAnswerLength:          10,
		MaxAnswerLength:          2000,
		MaxRetries:               3,
		RetryDelay:               time.Second,
		QuestionTypeWeights: map[models.QuestionType]float64{
			models.QuestionFactual:      0.4,
			models.QuestionRelationship: 0.2,
			models.QuestionMultiHop:     0.15,
			models.QuestionHierarchical: 0.15,
			models.QuestionComparative:  0.1,
		},
	}
}

// Validate checks structural constraints: the type weights must sum to 1
// and reversal pairs may not be requested from the main loop.
func (c *GenerationConfig) Validate() error {
	if len(c.QuestionTypeWeights) == 0 {
		return fmt.Errorf("question_type_weights must not be empty")
	}
	sum := 0.0
	for qt, w := range c.QuestionTypeWeights {
		if w < 0 {
			return fmt.Errorf("negative weight for %s", qt)
		}
		if qt == models.QuestionReversal {
			return fmt.Errorf("reversal pairs are produced by augmentation, not the generation loop")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("question_type_weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// TypeCounts distributes maxPairs across the configured question types:
// integer floors first, then the remainder to the types with the largest
// fractional parts, deterministically.
func (c *GenerationConfig) TypeCounts(maxPairs int) map[models.QuestionType]int {
	counts := make(map[models.QuestionType]int, len(c.QuestionTypeWeights))
	if maxPairs <= 0 {
		return counts
	}

	type share struct {
		qt       models.QuestionType
		fraction float64
	}
	shares := make([]share, 0, len(c.QuestionTypeWeights))
	assigned := 0
	for qt, w := range c.QuestionTypeWeights {
		exact := w * float64(maxPairs)
		floor := int(exact)
		counts[qt] = floor
		assigned += floor
		shares = append(shares, share{qt: qt, fraction: exact - float64(floor)})
	}

	sort.Slice(shares, func(i, j int) bool {
		if shares[i].fraction == shares[j].fraction {
			return shares[i].qt < shares[j].qt
		}
		return shares[i].fraction > shares[j].fraction
	})
	for i := 0; assigned < maxPairs && i < len(shares); i++ {
		counts[shares[i].qt]++
		assigned++
	}
	return counts
}
