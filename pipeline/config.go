package pipeline

import (
	"math"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/viam-labs/catalog-match-detector/matching"
	"github.com/viam-labs/catalog-match-detector/ranking"
)

// Config tunes a Pipeline. Unset values fall back to the defaults.
type Config struct {
	// ConfidenceThreshold is the minimum confidence a match needs, in [0, 1]. Nil means
	// the default; zero reports every entry that matched at all.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	// RatioThreshold is the descriptor ratio test threshold, in (0, 1]. Zero means the default.
	RatioThreshold float64 `json:"ratio_threshold,omitempty"`
	// Workers bounds the entries matched in parallel. Zero means no bound.
	Workers int `json:"workers,omitempty"`
	// FrameTimeout bounds extraction and matching of one frame. Zero means no bound.
	FrameTimeout time.Duration `json:"-"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	confidence := ranking.DefaultConfidenceThreshold
	return Config{
		ConfidenceThreshold: &confidence,
		RatioThreshold:      matching.DefaultRatioThreshold,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if t := c.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1 || math.IsNaN(*t)) {
		return goutils.NewConfigValidationError(path, errors.Errorf("confidence_threshold must be in [0, 1], got %v", *t))
	}
	if c.RatioThreshold < 0 || c.RatioThreshold > 1 || math.IsNaN(c.RatioThreshold) {
		return goutils.NewConfigValidationError(path, errors.Errorf("ratio_threshold must be in (0, 1], got %v", c.RatioThreshold))
	}
	if c.Workers < 0 {
		return goutils.NewConfigValidationError(path, errors.New("workers cannot be negative"))
	}
	if c.FrameTimeout < 0 {
		return goutils.NewConfigValidationError(path, errors.New("frame timeout cannot be negative"))
	}
	return nil
}

func (c Config) withDefaults() Config {
	confidence := ranking.DefaultConfidenceThreshold
	if c.ConfidenceThreshold != nil {
		confidence = *c.ConfidenceThreshold
	}
	c.ConfidenceThreshold = &confidence
	if c.RatioThreshold == 0 {
		c.RatioThreshold = matching.DefaultRatioThreshold
	}
	return c
}
