// Package features turns images into sets of local keypoint descriptors.
package features

import (
	"context"
	"fmt"
	"image"
)

// A DescriptorSet holds the keypoints found in one image and a descriptor per keypoint.
// Sets handed out by an Extractor may be shared between goroutines and must be treated as
// read-only.
type DescriptorSet struct {
	Keypoints   []image.Point
	Descriptors [][]float64
}

// Empty returns the "no features" set.
func Empty() *DescriptorSet {
	return &DescriptorSet{}
}

// Len returns the keypoint count.
func (d *DescriptorSet) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Descriptors)
}

// An Extractor computes descriptors for an image. Implementations must be deterministic
// and safe for concurrent use. On failure they return an empty set together with a
// *FeatureExtractionError; an empty set is a valid, matchless outcome.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) (*DescriptorSet, error)
	ExtractFile(ctx context.Context, path string) (*DescriptorSet, error)
}

// FeatureExtractionError describes an image that could not be turned into descriptors.
type FeatureExtractionError struct {
	Source string
	Err    error
}

func (e *FeatureExtractionError) Error() string {
	return fmt.Sprintf("cannot extract features from %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FeatureExtractionError) Unwrap() error {
	return e.Err
}
