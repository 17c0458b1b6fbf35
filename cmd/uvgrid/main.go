package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"uvgrid/pkg/config"
	"uvgrid/pkg/logging"
	"uvgrid/pkg/reconstruction"
	"uvgrid/pkg/simulate"
	"uvgrid/pkg/state"
	"uvgrid/pkg/vis"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "uvgrid.yaml", "YAML configuration file (defaults are used when it does not exist)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	outputDir := flag.String("output", "", "Output directory (overrides the configuration)")
	numCores := flag.Int("cores", 0, "Number of image planes transformed in parallel (overrides the configuration)")
	cacheSize := flag.String("cache", "", "Grid memory bound, e.g. \"64 MiB\" (overrides the configuration)")
	jsonLogs := flag.Bool("json-logs", false, "Log as JSON instead of text")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *outputDir != "" {
		cfg.Output.Directory = *outputDir
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *cacheSize != "" {
		cfg.Gridding.CacheSize = *cacheSize
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	logger := logging.NewText(os.Stderr, level)
	if *jsonLogs {
		logger = logging.NewJSON(os.Stderr, level)
	}

	params, err := buildParams(cfg, logger)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("UVGRID: CONVOLUTIONAL GRIDDING OF SIMULATED VISIBILITIES")
	fmt.Printf("Image %s, kernel %s, padding %.2f, cache %s\n",
		params.Shape, params.Grid.Kernel, params.Grid.Padding, humanize.IBytes(uint64(params.Grid.CacheBytes)))
	fmt.Println("================================")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconstructor := reconstruction.NewReconstructor(params)
	if err := reconstructor.Process(ctx); err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}

	metrics := reconstructor.GetMetrics()
	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", metrics.Duration.Seconds())
	fmt.Printf("Grid: %s store, %s\n", metrics.Strategy, humanize.IBytes(metrics.GridBytes))
	fmt.Printf("Gridded samples: %s (sum of weights %.1f)\n", humanize.Comma(int64(metrics.Samples)), metrics.SumWeight)
	fmt.Printf("\nImage metrics:\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Peak: %.4f Jy/beam at pixel (%d, %d)\n", metrics.Peak, metrics.PeakX, metrics.PeakY)
	fmt.Printf("Image RMS: %.4f Jy/beam\n", metrics.ImageRMS)
	fmt.Printf("Dynamic range: %.1f\n", metrics.Peak/math.Max(metrics.ImageRMS, math.SmallestNonzeroFloat64))
	fmt.Printf("PSF peak: %.6f\n", metrics.PSFPeak)
	fmt.Printf("\nPrediction metrics:\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Mean |data - model|: %.5f Jy\n", metrics.ResidualMean)
	fmt.Printf("RMS |data - model|: %.5f Jy\n", metrics.ResidualRMS)
	fmt.Printf("Data/model correlation: %.5f\n", metrics.ModelCorrelation)

	if paths := reconstructor.Images(); len(paths) > 0 {
		fmt.Printf("\nImage planes saved to: %s\n", cfg.Output.Directory)
		for _, p := range paths {
			fmt.Printf("- %s\n", p)
		}
	}
	if p := reconstructor.StatePath(); p != "" {
		fmt.Printf("State record saved to: %s\n", p)
	}
}

func buildParams(cfg *config.Config, logger *logging.Logger) (*reconstruction.Params, error) {
	grid, err := cfg.ToGridConfig()
	if err != nil {
		return nil, err
	}
	coordinates, err := cfg.ImageCoordinates()
	if err != nil {
		return nil, err
	}
	corrs, err := vis.ParseCorrelations(cfg.Simulation.Correlations)
	if err != nil {
		return nil, err
	}
	enc, err := state.ParseEncoding(cfg.Output.StateEncoding)
	if err != nil {
		return nil, err
	}

	sources := make([]simulate.Source, 0, len(cfg.Simulation.Sources))
	for _, s := range cfg.Simulation.Sources {
		sources = append(sources, simulate.SourceAtOffset(s.OffsetArcsec[0], s.OffsetArcsec[1], s.Flux))
	}

	return &reconstruction.Params{
		Grid:        grid,
		Shape:       cfg.ImageShape(),
		Coordinates: coordinates,
		Simulation: simulate.Config{
			Antennas:      cfg.Simulation.Antennas,
			MaxBaseline:   cfg.Simulation.MaxBaselineM,
			Rows:          cfg.Simulation.Rows,
			RowsPerBuffer: cfg.Simulation.RowsPerBuffer,
			HourAngleSpan: math.Pi / 2,
			NoiseSigma:    cfg.Simulation.NoiseSigma,
			Seed:          cfg.Simulation.Seed,
			Correlations:  corrs,
			Sources:       sources,
		},
		OutputDir:     cfg.Output.Directory,
		ImageFormat:   cfg.Output.ImageFormat,
		SaveState:     cfg.Output.SaveState,
		StateEncoding: enc,
		Log:           logger,
	}, nil
}
