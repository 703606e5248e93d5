package features

import (
	"context"
	"image"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/rdk/rimage"
	kp "go.viam.com/rdk/vision/keypoints"
)

const frameSource = "frame"

// DefaultORBConfig returns the ORB settings used when none are configured.
func DefaultORBConfig() *kp.ORBConfig {
	return &kp.ORBConfig{
		Layers:          4,
		DownscaleFactor: 2,
		FastConf: &kp.FASTConfig{
			NMatchesCircle: 9,
			NMSWinSize:     7,
			Threshold:      20,
			Oriented:       true,
			Radius:         16,
		},
		BRIEFConf: &kp.BRIEFConfig{
			N:              512,
			Sampling:       2,
			UseOrientation: true,
			PatchSize:      48,
		},
	}
}

// ORBExtractor computes ORB keypoints and BRIEF descriptors. Binary descriptors are
// expanded to one 0/1 component per bit, so the euclidean distance between two of them is
// the square root of their hamming distance.
type ORBExtractor struct {
	cfg          *kp.ORBConfig
	samplePoints *kp.SamplePairs
	logger       golog.Logger
}

// NewORBExtractor creates an extractor. The BRIEF sample pairs are generated once here so
// that every image is described with the same pairs.
func NewORBExtractor(cfg *kp.ORBConfig, logger golog.Logger) *ORBExtractor {
	if cfg == nil {
		cfg = DefaultORBConfig()
	}
	return &ORBExtractor{
		cfg:          cfg,
		samplePoints: kp.GenerateSamplePairs(cfg.BRIEFConf.Sampling, cfg.BRIEFConf.N, cfg.BRIEFConf.PatchSize),
		logger:       logger,
	}
}

// ExtractFile reads the image at path and extracts its descriptors.
func (o *ORBExtractor) ExtractFile(ctx context.Context, path string) (*DescriptorSet, error) {
	ctx, span := trace.StartSpan(ctx, "features::ExtractFile")
	defer span.End()

	img, err := rimage.NewImageFromFile(path)
	if err != nil {
		return o.fail(path, errors.Wrap(err, "unreadable image"))
	}
	if img.Bounds().Empty() {
		return o.fail(path, errors.New("zero-dimension image"))
	}
	return o.extract(ctx, path, img)
}

// Extract extracts descriptors from an in-memory image.
func (o *ORBExtractor) Extract(ctx context.Context, img image.Image) (*DescriptorSet, error) {
	ctx, span := trace.StartSpan(ctx, "features::Extract")
	defer span.End()

	if img == nil {
		return o.fail(frameSource, errors.New("no image"))
	}
	if img.Bounds().Empty() {
		return o.fail(frameSource, errors.New("zero-dimension image"))
	}
	return o.extract(ctx, frameSource, rimage.ConvertImage(img))
}

func (o *ORBExtractor) extract(ctx context.Context, source string, img *rimage.Image) (set *DescriptorSet, err error) {
	_, span := trace.StartSpan(ctx, "features::computeORBKeypoints")
	defer span.End()

	if ctx.Err() != nil {
		return o.fail(source, ctx.Err())
	}
	// the descriptor code indexes pixels directly and can panic on degenerate input
	defer func() {
		if r := recover(); r != nil {
			set, err = o.fail(source, errors.Errorf("descriptor computation panicked: %v", r))
		}
	}()

	imG := rimage.MakeGray(img)
	descs, points, err := kp.ComputeORBKeypoints(imG, o.samplePoints, o.cfg)
	if err != nil {
		return o.fail(source, err)
	}
	return newDescriptorSet(points, descs), nil
}

func (o *ORBExtractor) fail(source string, err error) (*DescriptorSet, error) {
	extractErr := &FeatureExtractionError{Source: source, Err: err}
	o.logger.Debugw("feature extraction failed", "source", source, "error", err)
	return Empty(), extractErr
}

// newDescriptorSet pairs keypoints with their descriptors. Keypoints too close to the
// border for a full patch get an all-zero descriptor from the BRIEF step; they are dropped
// along with their descriptor.
func newDescriptorSet(points kp.KeyPoints, descs [][]uint64) *DescriptorSet {
	n := len(descs)
	if len(points) < n {
		n = len(points)
	}
	set := &DescriptorSet{
		Keypoints:   make([]image.Point, 0, n),
		Descriptors: make([][]float64, 0, n),
	}
	for i := 0; i < n; i++ {
		if allZero(descs[i]) {
			continue
		}
		set.Keypoints = append(set.Keypoints, points[i])
		set.Descriptors = append(set.Descriptors, unpackBits(descs[i]))
	}
	return set
}

func allZero(words []uint64) bool {
	for _, w := range words {
		if w != 0 {
			return false
		}
	}
	return true
}

func unpackBits(words []uint64) []float64 {
	out := make([]float64, 64*len(words))
	for i, word := range words {
		for b := 0; b < 64; b++ {
			if word&(uint64(1)<<uint(b)) != 0 {
				out[i*64+b] = 1
			}
		}
	}
	return out
}
