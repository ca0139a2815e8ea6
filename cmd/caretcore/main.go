package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"caretcore/pkg/config"
	"caretcore/pkg/correlation"
	"caretcore/pkg/gradient"
	"caretcore/pkg/logging"
	"caretcore/pkg/visualization"
	"caretcore/pkg/volume"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <correlate|gradient|init> [flags]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(os.Stderr, "run a subcommand with -h for its flags")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "correlate":
		err = runCorrelate(ctx, os.Args[2:])
	case "gradient":
		err = runGradient(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", os.Args[1], err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the YAML file if present and builds the logger from it.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// visited returns the names of the flags set on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// runInit writes a configuration file holding the defaults.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "caretcore.yaml", "Configuration file to create")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", *configPath)
	return nil
}

func runCorrelate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("correlate", flag.ContinueOnError)
	configPath := fs.String("config", "caretcore.yaml", "YAML configuration file")
	input := fs.String("input", "", "GIFTI metric file with one row per node")
	output := fs.String("output", "", "Output file for the R x R matrix")
	mode := fs.String("mode", config.ModeInMemory, "Output back-end: inMemory or incremental")
	fisher := fs.Bool("fisher-z", false, "Apply the Fisher z-transform")
	serial := fs.Bool("serial", false, "Disable the worker pool")
	asGifti := fs.Bool("gifti", false, "Write GIFTI output (a header next to the raw file in incremental mode)")
	workers := fs.Int("workers", 0, "Worker pool size, 0 keeps the configured value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	set := visited(fs)
	c := &cfg.Correlation
	if set["input"] {
		c.InputPath = *input
	}
	if set["output"] {
		c.OutputPath = *output
	}
	if set["mode"] {
		c.Mode = *mode
	}
	if set["fisher-z"] {
		c.ApplyFisherZ = *fisher
	}
	if set["serial"] {
		c.Parallel = !*serial
	}
	if set["gifti"] {
		c.OutputGifti = *asGifti
	}
	if *workers > 0 {
		cfg.Runtime.NumWorkers = *workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	engine, err := correlation.New(correlationOptions(cfg), correlation.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	if err := engine.Execute(ctx); err != nil {
		return err
	}
	logger.Info("correlation matrix written",
		"output", c.OutputPath,
		"mode", c.Mode,
		"seconds", time.Since(start).Seconds())
	return nil
}

// correlationOptions maps the configuration onto engine options.
func correlationOptions(cfg *config.Config) correlation.Options {
	c := cfg.Correlation
	return correlation.Options{
		ApplyFisherZ: c.ApplyFisherZ,
		Parallel:     c.Parallel,
		Mode:         correlation.Mode(c.Mode),
		InputPath:    c.InputPath,
		OutputPath:   c.OutputPath,
		OutputGifti:  c.OutputGifti,
		Workers:      cfg.Workers(c.Parallel),
	}
}

func runGradient(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("gradient", flag.ContinueOnError)
	configPath := fs.String("config", "caretcore.yaml", "YAML configuration file")
	input := fs.String("input", "", "Raw float32 input volume")
	output := fs.String("output", "", "Output file for gradient directions")
	dimX := fs.Int("x", 0, "Volume size along x")
	dimY := fs.Int("y", 0, "Volume size along y")
	dimZ := fs.Int("z", 0, "Volume size along z")
	lambda := fs.Int("lambda", 2, "Wavelength in voxels: 1, 2 or 5")
	maskPath := fs.String("mask", "", "Raw float32 mask volume; enables masking")
	parallelSlabs := fs.Bool("parallel-slabs", false, "Process slabs concurrently")
	debug := fs.Bool("debug", false, "Log filter diagnostics and dump magnitude slices")
	workers := fs.Int("workers", 0, "Worker pool size, 0 keeps the configured value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	set := visited(fs)
	g := &cfg.Gradient
	if set["input"] {
		g.InputPath = *input
	}
	if set["output"] {
		g.OutputPath = *output
	}
	if set["x"] {
		g.Dims.X = *dimX
	}
	if set["y"] {
		g.Dims.Y = *dimY
	}
	if set["z"] {
		g.Dims.Z = *dimZ
	}
	if set["lambda"] {
		g.Lambda = *lambda
	}
	if set["mask"] {
		g.MaskPath = *maskPath
		g.Masking = *maskPath != ""
	}
	if set["parallel-slabs"] {
		g.ParallelSlabs = *parallelSlabs
	}
	if set["debug"] {
		g.Debug = *debug
	}
	if *workers > 0 {
		cfg.Runtime.NumWorkers = *workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if g.InputPath == "" || g.OutputPath == "" {
		return fmt.Errorf("input and output paths are required")
	}
	if g.Debug {
		logger = logger.WithLevel(slog.LevelDebug)
	}

	vol, err := volume.NewRawFile(g.InputPath, g.Dims.X, g.Dims.Y, g.Dims.Z).ReadScalar()
	if err != nil {
		return err
	}

	opts := gradientOptions(cfg)
	if g.Masking {
		mask, err := volume.NewRawFile(g.MaskPath, g.Dims.X, g.Dims.Y, g.Dims.Z).ReadScalar()
		if err != nil {
			return fmt.Errorf("reading mask: %w", err)
		}
		opts.Mask = mask
	}

	engine, err := gradient.New(opts, gradient.WithLogger(logger))
	if err != nil {
		return err
	}

	start := time.Now()
	grad, err := engine.Run(ctx, vol)
	if err != nil {
		return err
	}
	if err := volume.NewRawFile(g.OutputPath, grad.X, grad.Y, grad.Z).WriteVector(grad); err != nil {
		return err
	}
	logger.Info("gradient written",
		"output", g.OutputPath,
		"magnitude", g.OutputPath+volume.MagnitudeSuffix,
		"seconds", time.Since(start).Seconds())

	if g.Debug {
		viewer := visualization.NewViewer(visualization.MagnitudeVolume(grad))
		for _, axis := range []string{"x", "y", "z"} {
			dir := filepath.Join(g.DebugDir, axis)
			if err := viewer.SaveSliceSequence(axis, dir); err != nil {
				logger.Warn("failed to save magnitude slices", "axis", axis, "error", err)
				continue
			}
			logger.Debug("saved magnitude slices", "axis", axis, "dir", dir)
		}
	}
	return nil
}

// gradientOptions maps the configuration onto engine options. The mask
// volume is attached by the caller.
func gradientOptions(cfg *config.Config) gradient.Options {
	g := cfg.Gradient
	return gradient.Options{
		Lambda:        g.Lambda,
		Masking:       g.Masking,
		FilterSize:    g.FilterSize,
		Debug:         g.Debug,
		ParallelSlabs: g.ParallelSlabs,
		Workers:       cfg.Workers(true),
	}
}
