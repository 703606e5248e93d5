// Package matching finds correspondences between two sets of descriptors.
package matching

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// DefaultRatioThreshold is the nearest/second-nearest distance ratio below which a match is kept.
const DefaultRatioThreshold = 0.75

// A Correspondence pairs a query descriptor with the reference descriptor nearest to it.
type Correspondence struct {
	QueryIdx       int
	RefIdx         int
	Distance       float64
	SecondDistance float64
}

// Matcher performs brute-force nearest neighbor matching with a ratio test.
type Matcher struct {
	RatioThreshold float64
}

// NewMatcher returns a Matcher. A ratio outside (0, 1] falls back to DefaultRatioThreshold.
func NewMatcher(ratio float64) *Matcher {
	if ratio <= 0 || ratio > 1 || math.IsNaN(ratio) {
		ratio = DefaultRatioThreshold
	}
	return &Matcher{RatioThreshold: ratio}
}

// Match returns the correspondences that pass the ratio test, at most one per reference
// descriptor, ordered by query index. A reference with fewer than two descriptors has no
// second neighbor to compare against and yields no correspondences.
func (m *Matcher) Match(query, reference [][]float64) []Correspondence {
	out, _ := m.MatchContext(context.Background(), query, reference)
	return out
}

// MatchContext is Match, stopping with ctx's error once ctx is done. ctx is checked before
// each query descriptor.
func (m *Matcher) MatchContext(ctx context.Context, query, reference [][]float64) ([]Correspondence, error) {
	if len(query) == 0 || len(reference) < 2 {
		return []Correspondence{}, nil
	}
	ratio := m.RatioThreshold
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultRatioThreshold
	}

	// best candidate per reference descriptor
	byRef := map[int]Correspondence{}
	for qi, q := range query {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best, second := math.Inf(1), math.Inf(1)
		bestIdx := -1
		for ri, r := range reference {
			d := distance(q, r)
			switch {
			case d < best:
				second = best
				best, bestIdx = d, ri
			case d < second:
				second = d
			}
		}
		if bestIdx < 0 || math.IsInf(second, 1) || !(best < ratio*second) {
			continue
		}
		c := Correspondence{QueryIdx: qi, RefIdx: bestIdx, Distance: best, SecondDistance: second}
		// queries are visited in order, so a tie keeps the lower query index
		if prev, ok := byRef[bestIdx]; ok && prev.Distance <= c.Distance {
			continue
		}
		byRef[bestIdx] = c
	}

	out := make([]Correspondence, 0, len(byRef))
	for _, c := range byRef {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryIdx < out[j].QueryIdx })
	return out, nil
}

// distance is the euclidean distance, or +Inf for descriptors of different lengths.
func distance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}
