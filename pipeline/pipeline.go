// Package pipeline identifies catalog objects in camera frames and acts on the best match.
package pipeline

import (
	"context"
	"image"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/viam-labs/catalog-match-detector/catalog"
	"github.com/viam-labs/catalog-match-detector/features"
	"github.com/viam-labs/catalog-match-detector/fusion"
	"github.com/viam-labs/catalog-match-detector/matching"
	"github.com/viam-labs/catalog-match-detector/ranking"
)

// Result is the outcome of processing one frame.
type Result struct {
	Matched           bool                  `json:"matched"`
	BestMatch         *ranking.MatchResult  `json:"best_match"`
	AllMatches        []ranking.MatchResult `json:"all_matches"`
	TotalMatches      int                   `json:"total_matches"`
	SensorIntegration *fusion.Decision      `json:"sensor_integration,omitempty"`
	Error             string                `json:"error,omitempty"`
	// Err is the error behind Error, if any.
	Err error `json:"-"`
	// Stages lists the stages the frame went through, ending in Done.
	Stages []Stage `json:"-"`
}

// A Pipeline matches frames against the current catalog. It is safe for concurrent use;
// each call to Process works on the catalog snapshot current when it started.
type Pipeline struct {
	store      *catalog.Store
	extractor  features.Extractor
	refs       *features.Cache
	matcher    *matching.Matcher
	integrator *fusion.Integrator
	cfg        Config
	logger     golog.Logger
}

// New returns a pipeline over store. A nil integrator acts without hardware. Reference
// descriptors are cached until the store installs a new snapshot.
func New(
	store *catalog.Store,
	extractor features.Extractor,
	integrator *fusion.Integrator,
	cfg Config,
	logger golog.Logger,
) *Pipeline {
	cfg = cfg.withDefaults()
	if integrator == nil {
		integrator = fusion.NewIntegrator(nil, logger, fusion.Options{})
	}
	refs := features.NewCache(extractor)
	store.OnReload(func(c *catalog.Catalog) {
		refs.Reset()
		logger.Debugw("reference descriptors dropped", "generation", c.Generation)
	})
	return &Pipeline{
		store:      store,
		extractor:  extractor,
		refs:       refs,
		matcher:    matching.NewMatcher(cfg.RatioThreshold),
		integrator: integrator,
		cfg:        cfg,
		logger:     logger,
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Process identifies the object in the image file at imagePath.
func (p *Pipeline) Process(ctx context.Context, imagePath string) *Result {
	ctx, span := trace.StartSpan(ctx, "pipeline::Process")
	defer span.End()

	return p.run(ctx, func(ctx context.Context) (*features.DescriptorSet, error) {
		return p.extractor.ExtractFile(ctx, imagePath)
	})
}

// ProcessImage identifies the object in an in-memory frame.
func (p *Pipeline) ProcessImage(ctx context.Context, img image.Image) *Result {
	ctx, span := trace.StartSpan(ctx, "pipeline::ProcessImage")
	defer span.End()

	return p.run(ctx, func(ctx context.Context) (*features.DescriptorSet, error) {
		return p.extractor.Extract(ctx, img)
	})
}

type frame struct {
	result *Result
	logger golog.Logger
}

func (f *frame) enter(s Stage) {
	f.result.Stages = append(f.result.Stages, s)
	f.logger.Debugw("frame stage", "stage", s.String())
}

func (p *Pipeline) run(ctx context.Context, extract func(context.Context) (*features.DescriptorSet, error)) *Result {
	f := &frame{result: &Result{AllMatches: []ranking.MatchResult{}, Stages: []Stage{Idle}}, logger: p.logger}
	defer f.enter(Done)

	snap := p.store.Snapshot()
	frameCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.FrameTimeout > 0 {
		frameCtx, cancel = context.WithTimeout(ctx, p.cfg.FrameTimeout)
	}
	defer cancel()

	f.enter(Extracting)
	query, err := p.extractQuery(frameCtx, extract)
	if err := p.interrupted(ctx, frameCtx, Extracting); err != nil {
		return p.fail(f, err.Error(), err)
	}
	if err != nil {
		p.logger.Warnw("cannot extract frame features", "error", err)
		return p.fail(f, ErrMsgExtraction, err)
	}

	f.enter(Matching)
	results, err := p.matchAll(frameCtx, snap, query)
	if err := p.interrupted(ctx, frameCtx, Matching); err != nil {
		return p.fail(f, err.Error(), err)
	}
	if err != nil {
		if errors.Is(err, errCatalogReloaded) {
			p.logger.Infow("abandoning frame", "reason", ErrMsgCatalogChanged, "generation", snap.Generation)
			return p.fail(f, ErrMsgCatalogChanged, err)
		}
		return p.fail(f, err.Error(), err)
	}

	f.enter(Ranking)
	ranked := p.rank(ctx, results)
	f.result.AllMatches = ranked
	f.result.TotalMatches = len(ranked)
	best := ranking.Best(ranked)
	if best == nil {
		return f.result
	}
	f.result.Matched = true
	f.result.BestMatch = best

	f.enter(Integrating)
	f.result.SensorIntegration = p.integrator.Integrate(ctx, best)
	return f.result
}

func (p *Pipeline) fail(f *frame, msg string, err error) *Result {
	f.result.Matched = false
	f.result.BestMatch = nil
	f.result.AllMatches = []ranking.MatchResult{}
	f.result.TotalMatches = 0
	f.result.Error = msg
	f.result.Err = err
	return f.result
}

// interrupted reports a frame timeout or a cancellation of the caller's context.
func (p *Pipeline) interrupted(ctx, frameCtx context.Context, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if frameCtx.Err() != nil {
		p.logger.Warnw("frame timed out", "stage", stage.String(), "timeout", p.cfg.FrameTimeout)
		return &TimeoutError{Stage: stage, Timeout: p.cfg.FrameTimeout}
	}
	return nil
}

func (p *Pipeline) extractQuery(
	ctx context.Context,
	extract func(context.Context) (*features.DescriptorSet, error),
) (*features.DescriptorSet, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline::extractQuery")
	defer span.End()
	return bounded(ctx, func() (*features.DescriptorSet, error) {
		return extract(ctx)
	})
}

// bounded runs fn on its own goroutine and returns ctx's error as soon as ctx is done,
// even when fn does not watch ctx. fn then finishes in the background and its result is
// dropped.
func bounded[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome{zero, errors.Errorf("panic: %v", r)}
			}
		}()
		val, err := fn()
		done <- outcome{val, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// matchAll matches query against every entry of snap. Results keep catalog order
// regardless of which worker finishes first. Entries whose reference image yields no
// descriptors produce no result.
func (p *Pipeline) matchAll(
	ctx context.Context,
	snap *catalog.Catalog,
	query *features.DescriptorSet,
) ([]ranking.MatchResult, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline::matchAll")
	defer span.End()

	entries := snap.Entries()
	slots := make([]*ranking.MatchResult, len(entries))
	if query.Len() == 0 {
		return []ranking.MatchResult{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Workers > 0 {
		g.SetLimit(p.cfg.Workers)
	}
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if p.store.Generation() != snap.Generation {
				return errCatalogReloaded
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := bounded(gctx, func() (*ranking.MatchResult, error) {
				return p.matchEntry(gctx, snap, entry, query)
			})
			if err != nil {
				return err
			}
			if p.store.Generation() != snap.Generation {
				return errCatalogReloaded
			}
			slots[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]ranking.MatchResult, 0, len(slots))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results, nil
}

// matchEntry returns nil for entries that cannot be matched. Only ctx's error is returned.
func (p *Pipeline) matchEntry(
	ctx context.Context,
	snap *catalog.Catalog,
	entry *catalog.Entry,
	query *features.DescriptorSet,
) (*ranking.MatchResult, error) {
	path := snap.ImagePath(entry)
	if path == "" {
		return nil, nil
	}
	ref, err := p.refs.ExtractFile(ctx, path)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err != nil || ref.Len() == 0 {
		p.logger.Debugw("skipping catalog entry", "id", entry.ID, "path", path, "error", err)
		return nil, nil
	}
	corrs, err := p.matcher.MatchContext(ctx, query.Descriptors, ref.Descriptors)
	if err != nil {
		return nil, err
	}
	r := ranking.NewMatchResult(entry, len(corrs), query.Len(), ref.Len())
	r.Bounds = boundingBox(corrs, query.Keypoints)
	return &r, nil
}

func (p *Pipeline) rank(ctx context.Context, results []ranking.MatchResult) []ranking.MatchResult {
	_, span := trace.StartSpan(ctx, "pipeline::rank")
	defer span.End()
	return ranking.Rank(results, *p.cfg.ConfidenceThreshold)
}

// boundingBox returns a rectangle based on min/max x,y of the matched frame keypoints.
func boundingBox(corrs []matching.Correspondence, pts []image.Point) image.Rectangle {
	if len(corrs) == 0 {
		return image.Rectangle{}
	}
	min := image.Point{math.MaxInt32, math.MaxInt32}
	max := image.Point{math.MinInt32, math.MinInt32}

	for _, c := range corrs {
		if c.QueryIdx >= len(pts) {
			continue
		}
		m := pts[c.QueryIdx]
		if m.X < min.X {
			min.X = m.X
		}
		if m.Y < min.Y {
			min.Y = m.Y
		}
		if m.X > max.X {
			max.X = m.X
		}
		if m.Y > max.Y {
			max.Y = m.Y
		}
	}
	if min.X > max.X {
		return image.Rectangle{}
	}
	return image.Rectangle{Min: min, Max: max}
}
