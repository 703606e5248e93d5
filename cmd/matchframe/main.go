// Package main runs a single image through the catalog matching pipeline and prints the
// result as JSON.
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/viam-labs/catalog-match-detector/catalog"
	"github.com/viam-labs/catalog-match-detector/features"
	"github.com/viam-labs/catalog-match-detector/fusion"
	"github.com/viam-labs/catalog-match-detector/hardware"
	"github.com/viam-labs/catalog-match-detector/hardware/fake"
	"github.com/viam-labs/catalog-match-detector/pipeline"
)

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

var logger = golog.NewDevelopmentLogger("matchframe")

// Arguments for the command.
type Arguments struct {
	Image        string `flag:"0,required,usage=image to identify"`
	Catalog      string `flag:"catalog,required,usage=catalog file"`
	Threshold    string `flag:"threshold,usage=minimum confidence to report a match (default 0.7)"`
	Ratio        string `flag:"ratio,usage=descriptor ratio test threshold (default 0.75)"`
	Workers      int    `flag:"workers,usage=catalog entries matched in parallel"`
	TimeoutMs    int    `flag:"timeout-ms,usage=frame timeout in milliseconds"`
	FakeHardware bool   `flag:"fake-hardware,usage=drive simulated motors and sensors"`
	Output       string `flag:"output,usage=write the result to this file instead of stdout"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	cfg, err := argsParsed.pipelineConfig()
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if argsParsed.Output != "" {
		//nolint:gosec
		f, err := os.Create(argsParsed.Output)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, f.Close())
		}()
		out = f
	}

	var hw hardware.Hardware
	if argsParsed.FakeHardware {
		hw = simulatedHardware()
	}
	return run(ctx, argsParsed.Catalog, argsParsed.Image, cfg, hw, out, logger)
}

func (a *Arguments) pipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if a.Threshold != "" {
		v, err := strconv.ParseFloat(a.Threshold, 64)
		if err != nil {
			return cfg, errors.Wrap(err, "bad threshold")
		}
		cfg.ConfidenceThreshold = &v
	}
	if a.Ratio != "" {
		v, err := strconv.ParseFloat(a.Ratio, 64)
		if err != nil {
			return cfg, errors.Wrap(err, "bad ratio")
		}
		cfg.RatioThreshold = v
	}
	cfg.Workers = a.Workers
	cfg.FrameTimeout = time.Duration(a.TimeoutMs) * time.Millisecond
	if err := cfg.Validate("flags"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// simulatedHardware has a distance and a color sensor answering on every port.
func simulatedHardware() *fake.Hardware {
	hw := fake.NewHardware()
	for port := 1; port <= 12; port++ {
		hw.SetDistance(port, 100)
		hw.SetColor(port, hardware.ColorReading{Color: "red", Hue: 0})
	}
	return hw
}

func run(
	ctx context.Context,
	catalogPath, imagePath string,
	cfg pipeline.Config,
	hw hardware.Hardware,
	out io.Writer,
	logger golog.Logger,
) error {
	store := catalog.NewStore(catalogPath, logger)
	p := pipeline.New(
		store,
		features.NewORBExtractor(features.DefaultORBConfig(), logger),
		fusion.NewIntegrator(hw, logger, fusion.Options{}),
		cfg,
		logger,
	)
	res := p.Process(ctx, imagePath)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
