package search

import "sort"

// DefaultRRFK is the rank-smoothing constant of reciprocal rank fusion.
const DefaultRRFK = 60

// Signal is one ranked result list entering fusion, with its weight.
type Signal struct {
	Name    string
	Weight  float64
	Results []Result
}

// FuseRanked combines two or more ranked lists with weighted reciprocal
// rank fusion. Every document present in any list contributes
// w_i / (k + rank_i) per signal, where a document absent from a signal is
// ranked len(list)+1. The function is pure and independent of the
// signals' native score scales. Duplicates within one signal keep their
// best (first) rank.
func FuseRanked(signals []Signal, k int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}

	// Per-signal rank lookup, first occurrence wins.
	ranks := make([]map[string]int, len(signals))
	for i, signal := range signals {
		ranks[i] = make(map[string]int, len(signal.Results))
		for pos, result := range signal.Results {
			if _, seen := ranks[i][result.Key]; !seen {
				ranks[i][result.Key] = pos + 1
			}
		}
	}

	// Union of documents, keeping the richest representative seen.
	merged := make(map[string]Result)
	var order []string
	for _, signal := range signals {
		for _, result := range signal.Results {
			if existing, ok := merged[result.Key]; ok {
				if existing.Document == nil && result.Document != nil {
					existing.Document = result.Document
					merged[result.Key] = existing
				}
				continue
			}
			merged[result.Key] = result
			order = append(order, result.Key)
		}
	}

	fused := make([]Result, 0, len(merged))
	for _, key := range order {
		result := merged[key]
		score := 0.0
		for i, signal := range signals {
			rank, ok := ranks[i][key]
			if !ok {
				rank = len(signal.Results) + 1
			}
			score += signal.Weight / float64(k+rank)
		}
		result.Score = score
		fused = append(fused, result)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

// NormalizeWeights scales weights to sum to 1. Returns the normalized
// values and whether renormalization was needed. Zero or negative sums
// fall back to uniform weights.
func NormalizeWeights(weights []float64) ([]float64, bool) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	out := make([]float64, len(weights))
	if sum <= 0 {
		for i := range out {
			out[i] = 1.0 / float64(len(out))
		}
		return out, true
	}
	changed := sum < 0.999 || sum > 1.001
	for i, w := range weights {
		out[i] = w / sum
	}
	return out, changed
}
