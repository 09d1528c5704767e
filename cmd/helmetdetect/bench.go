package main

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-helmet/benchmark"
	"github.com/nvr-ai/go-helmet/util"
)

const (
	flagIterations = "iterations"
	flagWarmup     = "warmup"
	flagResolution = "resolution"
	flagScenarios  = "scenarios"
	flagOutput     = "output"
)

func benchCommand(logger func() *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "bench",
		Usage:     "benchmark the suppression backends on image files",
		ArgsUsage: "<image or directory>...",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  flagIterations,
				Value: 100,
				Usage: "timed iterations per scenario",
			},
			&cli.IntFlag{
				Name:  flagWarmup,
				Value: 10,
				Usage: "untimed iterations per scenario",
			},
			&cli.StringFlag{
				Name:  flagResolution,
				Value: "640x480",
				Usage: "frame size as `WIDTHxHEIGHT`",
			},
			&cli.PathFlag{
				Name:  flagScenarios,
				Usage: "load scenarios from a YAML `FILE` instead",
			},
			&cli.PathFlag{
				Name:  flagOutput,
				Value: "benchmark_results",
				Usage: "directory for the JSON and CSV results",
			},
		},
		Action: func(c *cli.Context) error {
			return benchAction(c, logger())
		},
	}
}

func parseResolution(s string) (benchmark.Resolution, error) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil || w < 1 || h < 1 {
		return benchmark.Resolution{}, errors.Errorf("invalid resolution %q", s)
	}
	return benchmark.NewResolution(w, h), nil
}

func benchScenarios(c *cli.Context) ([]benchmark.Scenario, error) {
	if path := c.Path(flagScenarios); path != "" {
		set, err := benchmark.LoadScenarioSet(path)
		if err != nil {
			return nil, err
		}
		return set.Scenarios, nil
	}

	resolution, err := parseResolution(c.String(flagResolution))
	if err != nil {
		return nil, err
	}
	set := benchmark.BackendComparisonScenarios(resolution, c.Int(flagIterations))
	for i := range set.Scenarios {
		set.Scenarios[i].WarmupRuns = c.Int(flagWarmup)
	}
	return set.Scenarios, nil
}

func benchAction(c *cli.Context, logger *zap.Logger) error {
	if c.NArg() == 0 {
		return errors.New("no images given")
	}

	scenarios, err := benchScenarios(c)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Logger = logger
	// Surface configuration errors once instead of per scenario.
	if err := cfg.Validate(); err != nil {
		return err
	}

	files, err := util.LoadImageFiles(c.Args().Slice()...)
	if err != nil {
		return err
	}
	imgs := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, _, err := f.Decode()
		if err != nil {
			return err
		}
		imgs = append(imgs, img)
	}
	if len(imgs) == 0 {
		return errors.New("no image files found")
	}

	suite := benchmark.NewSuite(benchmark.NewSuiteArgs{
		Load:       benchmark.ConfigLoader(cfg),
		OutputPath: c.Path(flagOutput),
		Logger:     logger,
	})
	suite.AddImages(imgs...)
	for _, s := range scenarios {
		suite.AddScenario(s)
	}

	if err := suite.RunAllScenarios(c.Context); err != nil {
		return err
	}

	for _, r := range suite.Results() {
		fmt.Fprintf(c.App.Writer, "%-32s %-8s %8.2f fps  p50 %-10s p95 %s\n",
			r.Scenario.Name, r.Scenario.Backend, r.FramesPerSecond, r.Latency.P50, r.Latency.P95)
	}

	written, err := suite.SaveResults()
	if err != nil {
		return err
	}
	for _, f := range written {
		logger.Info("results saved", zap.String("file", f))
	}
	return nil
}
