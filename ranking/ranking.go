// Package ranking scores catalog matches and orders them by confidence.
package ranking

import (
	"image"
	"math"
	"sort"

	"github.com/viam-labs/catalog-match-detector/catalog"
)

// DefaultConfidenceThreshold is the minimum confidence a match needs to be reported.
const DefaultConfidenceThreshold = 0.7

// MatchResult is the outcome of matching a frame against one catalog entry.
type MatchResult struct {
	ObjectID           string                 `json:"object_id"`
	ObjectName         string                 `json:"object_name"`
	Confidence         float64                `json:"confidence"`
	GoodMatches        int                    `json:"good_matches"`
	QueryKeypoints     int                    `json:"query_keypoints"`
	ReferenceKeypoints int                    `json:"reference_keypoints"`
	SensorData         map[string]interface{} `json:"sensor_data"`
	// Bounds encloses the matched keypoints of the frame.
	Bounds image.Rectangle `json:"-"`
	// Entry is the catalog entry this result was computed for.
	Entry *catalog.Entry `json:"-"`
}

// NewMatchResult builds a result for entry and computes its confidence.
func NewMatchResult(entry *catalog.Entry, good, queryKeypoints, referenceKeypoints int) MatchResult {
	return MatchResult{
		ObjectID:           entry.ID,
		ObjectName:         entry.Name,
		Confidence:         Score(good, queryKeypoints, referenceKeypoints),
		GoodMatches:        good,
		QueryKeypoints:     queryKeypoints,
		ReferenceKeypoints: referenceKeypoints,
		SensorData:         entry.SensorData,
		Entry:              entry,
	}
}

// Score returns good / max(q, r, 1), clamped to [0, 1].
func Score(good, queryKeypoints, referenceKeypoints int) float64 {
	denom := queryKeypoints
	if referenceKeypoints > denom {
		denom = referenceKeypoints
	}
	if denom < 1 {
		denom = 1
	}
	return math.Max(0, math.Min(1, float64(good)/float64(denom)))
}

// Rank keeps the results whose confidence is at least threshold and orders them by
// descending confidence. Equal confidences keep their input order. The result is never nil.
func Rank(results []MatchResult, threshold float64) []MatchResult {
	ranked := make([]MatchResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= threshold {
			ranked = append(ranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked
}

// Best returns the first ranked result, or nil when there is none.
func Best(ranked []MatchResult) *MatchResult {
	if len(ranked) == 0 {
		return nil
	}
	best := ranked[0]
	return &best
}
