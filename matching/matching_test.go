package matching

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"
)

func oneHot(i, dim int, scale float64) []float64 {
	v := make([]float64, dim)
	v[i] = scale
	return v
}

func midpoint(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2
	}
	return out
}

func TestNewMatcher(t *testing.T) {
	test.That(t, NewMatcher(0.6).RatioThreshold, test.ShouldEqual, 0.6)
	test.That(t, NewMatcher(1).RatioThreshold, test.ShouldEqual, 1.0)
	test.That(t, NewMatcher(0).RatioThreshold, test.ShouldEqual, DefaultRatioThreshold)
	test.That(t, NewMatcher(-2).RatioThreshold, test.ShouldEqual, DefaultRatioThreshold)
	test.That(t, NewMatcher(1.5).RatioThreshold, test.ShouldEqual, DefaultRatioThreshold)
}

func TestMatchTooFewReferences(t *testing.T) {
	m := NewMatcher(DefaultRatioThreshold)
	query := [][]float64{{1, 0}, {0, 1}}

	test.That(t, m.Match(query, nil), test.ShouldBeEmpty)
	test.That(t, m.Match(query, [][]float64{{1, 0}}), test.ShouldBeEmpty)
	test.That(t, m.Match(nil, [][]float64{{1, 0}, {0, 1}}), test.ShouldBeEmpty)
	test.That(t, m.Match(query, nil), test.ShouldNotBeNil)
}

func TestMatchRatioTest(t *testing.T) {
	m := NewMatcher(DefaultRatioThreshold)
	ref := make([][]float64, 10)
	for i := range ref {
		ref[i] = oneHot(i, 10, 10)
	}

	t.Run("exact copies match", func(t *testing.T) {
		got := m.Match([][]float64{ref[3], ref[7]}, ref)
		test.That(t, got, test.ShouldHaveLength, 2)
		test.That(t, got[0].QueryIdx, test.ShouldEqual, 0)
		test.That(t, got[0].RefIdx, test.ShouldEqual, 3)
		test.That(t, got[0].Distance, test.ShouldEqual, 0.0)
		test.That(t, got[1].RefIdx, test.ShouldEqual, 7)
		test.That(t, got[1].SecondDistance, test.ShouldAlmostEqual, 10*1.4142135623730951)
	})

	t.Run("ambiguous descriptor is rejected", func(t *testing.T) {
		got := m.Match([][]float64{midpoint(ref[8], ref[9])}, ref)
		test.That(t, got, test.ShouldBeEmpty)
	})

	t.Run("ratio is strict", func(t *testing.T) {
		// nearest at 3, second at 4: 3 < 0.75*4 is false
		ref := [][]float64{{3, 0}, {-4, 0}}
		test.That(t, NewMatcher(0.75).Match([][]float64{{0, 0}}, ref), test.ShouldBeEmpty)
		test.That(t, NewMatcher(0.76).Match([][]float64{{0, 0}}, ref), test.ShouldHaveLength, 1)
	})

	t.Run("mismatched lengths are ignored", func(t *testing.T) {
		got := m.Match([][]float64{{1, 2, 3}}, ref)
		test.That(t, got, test.ShouldBeEmpty)
	})
}

func TestMatchOneToOne(t *testing.T) {
	m := NewMatcher(DefaultRatioThreshold)
	ref := [][]float64{{10, 0}, {0, 10}}
	query := [][]float64{
		{9, 0},
		{10, 0},
		{10, 0},
		{0, 9.5},
	}
	got := m.Match(query, ref)
	test.That(t, got, test.ShouldHaveLength, 2)
	// closest query wins, lower index on ties
	test.That(t, got[0].QueryIdx, test.ShouldEqual, 1)
	test.That(t, got[0].RefIdx, test.ShouldEqual, 0)
	test.That(t, got[1].QueryIdx, test.ShouldEqual, 3)
	test.That(t, got[1].RefIdx, test.ShouldEqual, 1)
}

func TestMatchBoundedByKeypointCounts(t *testing.T) {
	m := NewMatcher(0.9)
	ref := make([][]float64, 5)
	for i := range ref {
		ref[i] = oneHot(i, 5, 1)
	}
	query := make([][]float64, 0, 40)
	for i := 0; i < 40; i++ {
		query = append(query, oneHot(i%5, 5, 1))
	}
	got := m.Match(query, ref)
	test.That(t, len(got), test.ShouldBeLessThanOrEqualTo, len(ref))
	test.That(t, len(got), test.ShouldBeLessThanOrEqualTo, len(query))
	test.That(t, got, test.ShouldHaveLength, 5)
}

func TestMatchContextCancelled(t *testing.T) {
	m := NewMatcher(0)
	ref := [][]float64{oneHot(0, 3, 1), oneHot(1, 3, 1)}
	query := [][]float64{oneHot(0, 3, 1)}

	got, err := m.MatchContext(context.Background(), query, ref)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err = m.MatchContext(ctx, query, ref)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, got, test.ShouldBeNil)

	got, err = m.MatchContext(ctx, nil, ref)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldBeEmpty)
}
