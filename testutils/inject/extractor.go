// Package inject provides function-injected doubles for tests.
package inject

import (
	"context"
	"image"

	"github.com/viam-labs/catalog-match-detector/features"
)

// Extractor is an injected feature extractor.
type Extractor struct {
	features.Extractor
	ExtractFunc     func(ctx context.Context, img image.Image) (*features.DescriptorSet, error)
	ExtractFileFunc func(ctx context.Context, path string) (*features.DescriptorSet, error)
}

// Extract calls the injected Extract or the real version.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (*features.DescriptorSet, error) {
	if e.ExtractFunc == nil {
		return e.Extractor.Extract(ctx, img)
	}
	return e.ExtractFunc(ctx, img)
}

// ExtractFile calls the injected ExtractFile or the real version.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (*features.DescriptorSet, error) {
	if e.ExtractFileFunc == nil {
		return e.Extractor.ExtractFile(ctx, path)
	}
	return e.ExtractFileFunc(ctx, path)
}
