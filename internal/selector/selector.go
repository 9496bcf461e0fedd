// Package selector picks the winning label from a model score vector.
package selector

import (
	"fmt"
	"sort"

	"github.com/Brownie44l1/snapclass/internal/apperr"
)

// Prediction is a single scored label.
type Prediction struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// SelectTop scans scores for the strictly greatest value, starting from
// index 0 with a baseline of 0. Ties keep the lowest index, and a vector
// with no positive score selects index 0.
func SelectTop(scores []float32, labels []string) (string, int, error) {
	best := 0
	var top float32
	for i, v := range scores {
		if v > top {
			best = i
			top = v
		}
	}

	if best >= len(labels) {
		return "", best, fmt.Errorf("index %d with %d labels: %w", best, len(labels), apperr.ErrLabelIndexOutOfRange)
	}
	return labels[best], best, nil
}

// TopK returns up to k predictions ordered by descending score, lowest index
// first on ties. Scores without a label are skipped. k <= 0 returns all.
func TopK(scores []float32, labels []string, k int) []Prediction {
	n := min(len(scores), len(labels))
	preds := make([]Prediction, 0, n)
	for i := 0; i < n; i++ {
		preds = append(preds, Prediction{Label: labels[i], Index: i, Score: scores[i]})
	}

	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Score > preds[b].Score
	})

	if k > 0 && k < len(preds) {
		preds = preds[:k]
	}
	return preds
}
