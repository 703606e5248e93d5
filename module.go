// package main is a module that implements a catalog match detection service
package main

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/config"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/registry"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/vision"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/rdk/vision/objectdetection"

	"github.com/viam-labs/catalog-match-detector/catalog"
	"github.com/viam-labs/catalog-match-detector/features"
	"github.com/viam-labs/catalog-match-detector/fusion"
	"github.com/viam-labs/catalog-match-detector/hardware"
	"github.com/viam-labs/catalog-match-detector/hardware/components"
	"github.com/viam-labs/catalog-match-detector/pipeline"
)

var model = resource.NewModel("viamlabs", "service", "catalog-match-detector")

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("catalogMatchDetectorModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	registerDetector(ctx)
	modalModule, err := module.NewModuleFromArgs(ctx, logger)

	if err != nil {
		return err
	}
	modalModule.AddModelFromRegistry(ctx, vision.Subtype, model)

	err = modalModule.Start(ctx)
	defer modalModule.Close(ctx)

	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// helper function to add the detector's constructor and metadata to the service registry, so that we can later construct it.
// Catalog watchers live as long as moduleCtx, or until their detector is rebuilt.
func registerDetector(moduleCtx context.Context) {
	watches := newWatches()
	registry.RegisterService(
		vision.Subtype,
		model,
		registry.Service{Constructor: func(
			ctx context.Context,
			deps registry.Dependencies,
			config config.Service,
			logger golog.Logger,
		) (interface{}, error) {
			watchCtx, cancel := context.WithCancel(moduleCtx)
			detector, err := newCatalogMatchDetector(ctx, watchCtx, deps, config, logger)
			if err != nil {
				cancel()
				return nil, err
			}
			watches.replace(config.Name, cancel)
			return detector, nil
		}})
	config.RegisterServiceAttributeMapConverter(
		vision.Subtype,
		model,
		func(attributes config.AttributeMap) (interface{}, error) {
			return decodeDetectorConfig(attributes)
		},
		&CatalogMatchDetectorConfig{},
	)
}

// watches stops the catalog watcher of a detector once a detector of the same name
// replaces it.
type watches struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newWatches() *watches {
	return &watches{cancels: map[string]context.CancelFunc{}}
}

func (w *watches) replace(name string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.cancels[name]; ok {
		prev()
	}
	w.cancels[name] = cancel
}

// CatalogMatchDetectorConfig specifies the fields necessary for creating a catalog match detector.
type CatalogMatchDetectorConfig struct {
	// this should come from the attributes part of the detector config
	CatalogPath         string   `json:"catalog_path"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	RatioThreshold      float64  `json:"ratio_threshold,omitempty"`
	Workers             int      `json:"workers,omitempty"`
	FrameTimeoutMs      int      `json:"frame_timeout_ms,omitempty"`
	WatchCatalog        bool     `json:"watch_catalog,omitempty"`
	// Motors and Sensors name the components behind the ports used in catalog sensor data.
	// With neither set the detector runs without hardware.
	Motors  map[int]string `json:"motors,omitempty"`
	Sensors map[int]string `json:"sensors,omitempty"`
}

// Validate ensures all parts of the config are valid and returns the motor and sensor
// components it depends on.
func (cfg *CatalogMatchDetectorConfig) Validate(path string) ([]string, error) {
	if cfg.CatalogPath == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "catalog_path")
	}
	if cfg.FrameTimeoutMs < 0 {
		return nil, goutils.NewConfigValidationError(path, errors.New("frame_timeout_ms cannot be negative"))
	}
	pipelineConf := cfg.pipelineConfig()
	if err := pipelineConf.Validate(path); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var deps []string
	for _, ports := range []struct {
		field string
		names map[int]string
	}{{"motors", cfg.Motors}, {"sensors", cfg.Sensors}} {
		for port, name := range ports.names {
			if port <= 0 {
				return nil, goutils.NewConfigValidationError(path, errors.Errorf("%s: port %d must be positive", ports.field, port))
			}
			if name == "" {
				return nil, goutils.NewConfigValidationError(path, errors.Errorf("%s: port %d needs a component name", ports.field, port))
			}
			if !seen[name] {
				seen[name] = true
				deps = append(deps, name)
			}
		}
	}
	sort.Strings(deps)
	return deps, nil
}

func (cfg *CatalogMatchDetectorConfig) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		RatioThreshold:      cfg.RatioThreshold,
		Workers:             cfg.Workers,
		FrameTimeout:        time.Duration(cfg.FrameTimeoutMs) * time.Millisecond,
	}
}

// decodeDetectorConfig reads the detector attributes. Numbers given as strings are accepted.
func decodeDetectorConfig(attributes interface{}) (*CatalogMatchDetectorConfig, error) {
	var conf CatalogMatchDetectorConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &conf,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode detector attributes")
	}
	return &conf, nil
}

// hardwareFromDependencies attaches the configured motors and sensors to a board. It
// returns nil when no ports are configured.
func hardwareFromDependencies(deps registry.Dependencies, conf *CatalogMatchDetectorConfig) (hardware.Hardware, error) {
	if len(conf.Motors) == 0 && len(conf.Sensors) == 0 {
		return nil, nil
	}
	board := components.NewBoard()
	for port, name := range conf.Motors {
		m, err := motor.FromDependencies(deps, name)
		if err != nil {
			return nil, err
		}
		board.AttachMotor(port, m)
	}
	for port, name := range conf.Sensors {
		res, ok := deps[sensor.Named(name)]
		if !ok {
			return nil, rdkutils.DependencyNotFoundError(name)
		}
		s, ok := res.(sensor.Sensor)
		if !ok {
			return nil, rdkutils.DependencyTypeError(name, (*sensor.Sensor)(nil), res)
		}
		board.AttachSensor(port, s)
	}
	return board, nil
}

// newCatalogMatchDetector creates an RDK detector given a DetectorConfig. In other words, this
// function returns a function from image-->[]objectdetection.Detection. It does this by running
// each frame through the catalog matching pipeline and wrapping the best match.
func newCatalogMatchDetector(
	ctx context.Context,
	watchCtx context.Context,
	deps registry.Dependencies,
	config config.Service,
	logger golog.Logger,
) (objectdetection.Detector, error) {
	_, span := trace.StartSpan(ctx, "service::vision::NewCatalogMatchDetector")
	defer span.End()

	conf, err := decodeDetectorConfig(config.Attributes)
	if err != nil {
		return nil, err
	}
	if _, err := conf.Validate(config.Name); err != nil {
		return nil, err
	}
	hw, err := hardwareFromDependencies(deps, conf)
	if err != nil {
		return nil, err
	}
	if hw == nil {
		logger.Infow("no motors or sensors configured, running in simulation mode", "name", config.Name)
	}

	store := catalog.NewStore(conf.CatalogPath, logger)
	if conf.WatchCatalog {
		if err := store.Watch(watchCtx); err != nil {
			return nil, errors.Wrap(err, "something wrong with watching the catalog")
		}
	}
	p := pipeline.New(
		store,
		features.NewORBExtractor(features.DefaultORBConfig(), logger),
		fusion.NewIntegrator(hw, logger, fusion.Options{}),
		conf.pipelineConfig(),
		logger,
	)

	// This function to be returned is the detector.
	return func(ctx context.Context, img image.Image) ([]objectdetection.Detection, error) {
		res := p.ProcessImage(ctx, img)
		if res.Err != nil {
			return nil, errors.Wrap(res.Err, "something wrong processing the frame")
		}
		if res.SensorIntegration != nil {
			logger.Debugw("matched catalog object",
				"object_id", res.BestMatch.ObjectID,
				"action", res.SensorIntegration.Action,
				"status", res.SensorIntegration.Status)
		}
		return toDetections(res), nil
	}, nil
}

// toDetections returns at most one detection, for the best match.
func toDetections(res *pipeline.Result) []objectdetection.Detection {
	detections := []objectdetection.Detection{}
	if !res.Matched || res.BestMatch == nil {
		return detections
	}
	best := res.BestMatch
	return append(detections, objectdetection.NewDetection(best.Bounds, best.Confidence, best.ObjectName))
}
