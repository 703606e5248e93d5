package main

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/config"
	"go.viam.com/rdk/registry"
	"go.viam.com/rdk/testutils/inject"

	"github.com/viam-labs/catalog-match-detector/fusion"
	"github.com/viam-labs/catalog-match-detector/pipeline"
	"github.com/viam-labs/catalog-match-detector/ranking"
)

func TestDecodeDetectorConfig(t *testing.T) {
	conf, err := decodeDetectorConfig(map[string]interface{}{
		"catalog_path":         "/data/objects.json",
		"confidence_threshold": 0.8,
		"ratio_threshold":      "0.6",
		"workers":              4.0,
		"frame_timeout_ms":     250,
		"watch_catalog":        true,
		"motors":               map[string]interface{}{"4": "arm"},
		"sensors":              map[string]interface{}{"2": "range", "3": "eye"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.CatalogPath, test.ShouldEqual, "/data/objects.json")
	test.That(t, *conf.ConfidenceThreshold, test.ShouldEqual, 0.8)
	test.That(t, conf.RatioThreshold, test.ShouldEqual, 0.6)
	test.That(t, conf.Workers, test.ShouldEqual, 4)
	test.That(t, conf.WatchCatalog, test.ShouldBeTrue)
	test.That(t, conf.Motors, test.ShouldResemble, map[int]string{4: "arm"})
	test.That(t, conf.Sensors, test.ShouldResemble, map[int]string{2: "range", 3: "eye"})
	deps, err := conf.Validate("services.0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"arm", "eye", "range"})

	pc := conf.pipelineConfig()
	test.That(t, pc.FrameTimeout.Milliseconds(), test.ShouldEqual, int64(250))
	test.That(t, pc.Workers, test.ShouldEqual, 4)

	_, err = decodeDetectorConfig(map[string]interface{}{"workers": "many"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = decodeDetectorConfig(map[string]interface{}{"motors": map[string]interface{}{"left": "arm"}})
	test.That(t, err, test.ShouldNotBeNil)

	t.Run("zero threshold is kept", func(t *testing.T) {
		conf, err := decodeDetectorConfig(map[string]interface{}{"catalog_path": "a.json", "confidence_threshold": 0})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, *conf.pipelineConfig().ConfidenceThreshold, test.ShouldEqual, 0.0)

		conf, err = decodeDetectorConfig(map[string]interface{}{"catalog_path": "a.json"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, conf.pipelineConfig().ConfidenceThreshold, test.ShouldBeNil)
	})
}

func TestDetectorConfigValidate(t *testing.T) {
	_, err := (&CatalogMatchDetectorConfig{}).Validate("services.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "catalog_path")

	_, err = (&CatalogMatchDetectorConfig{CatalogPath: "a.json", FrameTimeoutMs: -1}).Validate("services.0")
	test.That(t, err, test.ShouldNotBeNil)

	tooHigh := 3.0
	_, err = (&CatalogMatchDetectorConfig{CatalogPath: "a.json", ConfidenceThreshold: &tooHigh}).Validate("services.0")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "confidence_threshold")

	_, err = (&CatalogMatchDetectorConfig{CatalogPath: "a.json", Motors: map[int]string{0: "arm"}}).Validate("services.0")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = (&CatalogMatchDetectorConfig{CatalogPath: "a.json", Sensors: map[int]string{2: ""}}).Validate("services.0")
	test.That(t, err, test.ShouldNotBeNil)

	deps, err := (&CatalogMatchDetectorConfig{CatalogPath: "a.json"}).Validate("services.0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeEmpty)
}

func testDependencies(powers *[]float64) registry.Dependencies {
	arm := &inject.Motor{}
	arm.SetPowerFunc = func(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
		*powers = append(*powers, powerPct)
		return nil
	}
	rangeSensor := &inject.Sensor{}
	rangeSensor.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"distance": 0.25}, nil
	}
	eye := &inject.Sensor{}
	eye.ReadingsFunc = func(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"color": "green", "hue": 120.0}, nil
	}
	return registry.Dependencies{
		motor.Named("arm"):    arm,
		sensor.Named("range"): rangeSensor,
		sensor.Named("eye"):   eye,
	}
}

func TestHardwareFromDependencies(t *testing.T) {
	logger := golog.NewTestLogger(t)
	var powers []float64
	deps := testDependencies(&powers)
	conf := &CatalogMatchDetectorConfig{
		CatalogPath: "a.json",
		Motors:      map[int]string{4: "arm"},
		Sensors:     map[int]string{2: "range", 3: "eye"},
	}

	hw, err := hardwareFromDependencies(deps, conf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hw, test.ShouldNotBeNil)

	d := fusion.NewIntegrator(hw, logger, fusion.Options{}).Integrate(context.Background(), &ranking.MatchResult{
		ObjectID:   "cube",
		ObjectName: "Cube",
		Confidence: 0.8,
		SensorData: map[string]interface{}{
			"action":               "grab",
			"motor_port":           4,
			"power":                50,
			"distance_sensor_port": 2,
			"color_sensor_port":    3,
		},
	})
	test.That(t, d.Err, test.ShouldBeNil)
	test.That(t, d.Status, test.ShouldEqual, fusion.StatusCommandsSent)
	test.That(t, powers, test.ShouldResemble, []float64{0.5})
	test.That(t, *d.DistanceMM, test.ShouldEqual, 250.0)
	test.That(t, *d.ColorDetected, test.ShouldEqual, "green")

	t.Run("nothing configured", func(t *testing.T) {
		hw, err := hardwareFromDependencies(deps, &CatalogMatchDetectorConfig{CatalogPath: "a.json"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, hw, test.ShouldBeNil)
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := hardwareFromDependencies(deps, &CatalogMatchDetectorConfig{Motors: map[int]string{1: "wheel"}})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "wheel")
		_, err = hardwareFromDependencies(deps, &CatalogMatchDetectorConfig{Sensors: map[int]string{1: "sonar"}})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "sonar")
	})

	t.Run("wrong dependency type", func(t *testing.T) {
		bad := registry.Dependencies{sensor.Named("range"): "not a sensor"}
		_, err := hardwareFromDependencies(bad, &CatalogMatchDetectorConfig{Sensors: map[int]string{2: "range"}})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestNewCatalogMatchDetector(t *testing.T) {
	logger := golog.NewTestLogger(t)
	var powers []float64
	attrs := config.AttributeMap{
		"catalog_path": filepath.Join(t.TempDir(), "objects.json"),
		"motors":       map[string]interface{}{"4": "arm"},
	}

	detector, err := newCatalogMatchDetector(context.Background(), context.Background(), testDependencies(&powers),
		config.Service{Name: "detector", Attributes: attrs}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, detector, test.ShouldNotBeNil)

	_, err = newCatalogMatchDetector(context.Background(), context.Background(), registry.Dependencies{},
		config.Service{Name: "detector", Attributes: attrs}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "arm")
}

func TestWatchesReplace(t *testing.T) {
	w := newWatches()
	first, cancelFirst := context.WithCancel(context.Background())
	second, cancelSecond := context.WithCancel(context.Background())
	other, cancelOther := context.WithCancel(context.Background())
	defer cancelSecond()
	defer cancelOther()

	w.replace("detector", cancelFirst)
	w.replace("other", cancelOther)
	test.That(t, first.Err(), test.ShouldBeNil)

	w.replace("detector", cancelSecond)
	test.That(t, errors.Is(first.Err(), context.Canceled), test.ShouldBeTrue)
	test.That(t, second.Err(), test.ShouldBeNil)
	test.That(t, other.Err(), test.ShouldBeNil)
}

func TestToDetections(t *testing.T) {
	test.That(t, toDetections(&pipeline.Result{}), test.ShouldBeEmpty)

	res := &pipeline.Result{
		Matched: true,
		BestMatch: &ranking.MatchResult{
			ObjectID:   "cube",
			ObjectName: "Cube",
			Confidence: 0.8,
			Bounds:     image.Rect(10, 20, 30, 40),
		},
	}
	detections := toDetections(res)
	test.That(t, detections, test.ShouldHaveLength, 1)
	test.That(t, detections[0].Label(), test.ShouldEqual, "Cube")
	test.That(t, detections[0].Score(), test.ShouldAlmostEqual, 0.8)
	test.That(t, *detections[0].BoundingBox(), test.ShouldResemble, image.Rect(10, 20, 30, 40))
}
