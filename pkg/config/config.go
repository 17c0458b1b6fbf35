// Package config provides configuration loading and management for uvgrid.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"uvgrid/internal/tilecodec"
	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridft"
	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/state"
	"uvgrid/pkg/vis"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid configuration")

// Source is a simulated point source.
type Source struct {
	// OffsetArcsec is the (east, north) offset from the phase centre.
	OffsetArcsec [2]float64 `yaml:"offsetArcsec,flow"`

	// Flux is the source amplitude in Jy.
	Flux float64 `yaml:"flux"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores bounds the image planes transformed in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Gridding parameters
	Gridding struct {
		// Kernel is the convolution kernel: BOX, SF or GAUSS
		Kernel string `yaml:"kernel"`

		// Padding is the grid oversize factor on each axis
		Padding float64 `yaml:"padding"`

		// CacheSize bounds grid memory, e.g. "256 MiB"
		CacheSize string `yaml:"cacheSize"`

		// TileSize is the core edge of a grid tile in cells
		TileSize int `yaml:"tileSize"`

		// UseAutocorrelations grids rows with identical antennas
		UseAutocorrelations bool `yaml:"useAutocorrelations"`

		// DistanceM is the object distance for near-field refocusing, 0 for the far field
		DistanceM float64 `yaml:"distanceM"`
	} `yaml:"gridding"`

	// Tile storage parameters
	Storage struct {
		// Backing is memory, file or pebble
		Backing string `yaml:"backing"`

		// Directory holds file and pebble backings; empty uses a temporary directory
		Directory string `yaml:"directory"`

		// Compression is none, lz4 or zstd
		Compression string `yaml:"compression"`
	} `yaml:"storage"`

	// Image parameters
	Image struct {
		NX int `yaml:"nx"`
		NY int `yaml:"ny"`

		// CellArcsec is the pixel size
		CellArcsec float64 `yaml:"cellArcsec"`

		// PhaseCenterDeg is (RA, Dec) of the image centre
		PhaseCenterDeg [2]float64 `yaml:"phaseCenterDeg,flow"`

		// RefFreqHz is the frequency of the first channel
		RefFreqHz float64 `yaml:"refFreqHz"`

		// ChanWidthHz is the channel increment
		ChanWidthHz float64 `yaml:"chanWidthHz"`

		NChan int `yaml:"nchan"`

		// Stokes lists the image planes
		Stokes []string `yaml:"stokes,flow"`
	} `yaml:"image"`

	// Simulation parameters
	Simulation struct {
		// Rows is the number of baselines times integrations to simulate
		Rows int `yaml:"rows"`

		// RowsPerBuffer splits the rows into buffers
		RowsPerBuffer int `yaml:"rowsPerBuffer"`

		// Antennas is the number of antennas placed at random
		Antennas int `yaml:"antennas"`

		// MaxBaselineM limits antenna positions to a disc of this diameter
		MaxBaselineM float64 `yaml:"maxBaselineM"`

		// NoiseSigma is the per-visibility Gaussian noise
		NoiseSigma float64 `yaml:"noiseSigma"`

		// Correlations lists the data polarization products
		Correlations []string `yaml:"correlations,flow"`

		Seed int64 `yaml:"seed"`

		Sources []Source `yaml:"sources"`
	} `yaml:"simulation"`

	// Output parameters
	Output struct {
		// Directory receives images and the state record
		Directory string `yaml:"directory"`

		// ImageFormat is png or jpeg
		ImageFormat string `yaml:"imageFormat"`

		// SaveState writes the machine state record after gridding
		SaveState bool `yaml:"saveState"`

		// StateEncoding is yaml or json
		StateEncoding string `yaml:"stateEncoding"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()

	cfg.Gridding.Kernel = "SF"
	cfg.Gridding.Padding = 1.2
	cfg.Gridding.CacheSize = "256 MiB"
	cfg.Gridding.TileSize = 64

	cfg.Storage.Backing = string(gridstore.BackingFile)
	cfg.Storage.Compression = "lz4"

	cfg.Image.NX = 256
	cfg.Image.NY = 256
	cfg.Image.CellArcsec = 2
	cfg.Image.PhaseCenterDeg = [2]float64{83.633, 22.0145}
	cfg.Image.RefFreqHz = 1.4e9
	cfg.Image.ChanWidthHz = 1e6
	cfg.Image.NChan = 1
	cfg.Image.Stokes = []string{"I"}

	cfg.Simulation.Rows = 20000
	cfg.Simulation.RowsPerBuffer = 1000
	cfg.Simulation.Antennas = 27
	cfg.Simulation.MaxBaselineM = 3000
	cfg.Simulation.NoiseSigma = 0.05
	cfg.Simulation.Correlations = []string{"XX", "YY"}
	cfg.Simulation.Seed = 1
	cfg.Simulation.Sources = []Source{
		{OffsetArcsec: [2]float64{0, 0}, Flux: 1},
		{OffsetArcsec: [2]float64{40, -24}, Flux: 0.5},
	}

	cfg.Output.Directory = "output"
	cfg.Output.ImageFormat = "png"
	cfg.Output.SaveState = true
	cfg.Output.StateEncoding = "yaml"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// CacheBytes parses Gridding.CacheSize.
func (c *Config) CacheBytes() (int64, error) {
	if c.Gridding.CacheSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Gridding.CacheSize)
	if err != nil {
		return 0, fmt.Errorf("%w: cache size %q: %v", ErrInvalid, c.Gridding.CacheSize, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: cache size %q too large", ErrInvalid, c.Gridding.CacheSize)
	}
	return int64(n), nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := c.CacheBytes(); err != nil {
		return err
	}
	if _, err := tilecodec.ParseCompression(c.Storage.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch gridstore.BackingKind(c.Storage.Backing) {
	case "", gridstore.BackingMemory, gridstore.BackingFile, gridstore.BackingPebble:
	default:
		return fmt.Errorf("%w: unknown backing %q", ErrInvalid, c.Storage.Backing)
	}
	if _, err := state.ParseEncoding(c.Output.StateEncoding); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Output.ImageFormat {
	case "", "png", "jpeg", "jpg":
	default:
		return fmt.Errorf("%w: unknown image format %q", ErrInvalid, c.Output.ImageFormat)
	}
	if c.Image.NX <= 0 || c.Image.NY <= 0 || c.Image.NChan <= 0 || c.Image.CellArcsec <= 0 {
		return fmt.Errorf("%w: image must have positive size and cell", ErrInvalid)
	}
	if c.Image.NX%2 != 0 || c.Image.NY%2 != 0 {
		return fmt.Errorf("%w: image must have even nx and ny, got %dx%d", ErrInvalid, c.Image.NX, c.Image.NY)
	}
	if c.Image.ChanWidthHz == 0 || c.Image.RefFreqHz <= 0 {
		return fmt.Errorf("%w: image spectral axis", ErrInvalid)
	}
	if _, err := vis.ParseCorrelations(c.Image.Stokes); err != nil || len(c.Image.Stokes) == 0 {
		return fmt.Errorf("%w: image stokes %v", ErrInvalid, c.Image.Stokes)
	}
	if _, err := vis.ParseCorrelations(c.Simulation.Correlations); err != nil || len(c.Simulation.Correlations) == 0 {
		return fmt.Errorf("%w: simulation correlations %v", ErrInvalid, c.Simulation.Correlations)
	}
	if c.Simulation.Rows < 0 || c.Simulation.RowsPerBuffer <= 0 || c.Simulation.Antennas < 2 {
		return fmt.Errorf("%w: simulation needs rows >= 0, rowsPerBuffer > 0 and at least 2 antennas", ErrInvalid)
	}
	gc, err := c.ToGridConfig()
	if err != nil {
		return err
	}
	if err := gc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ToGridConfig converts the gridding and storage sections.
func (c *Config) ToGridConfig() (gridft.Config, error) {
	cache, err := c.CacheBytes()
	if err != nil {
		return gridft.Config{}, err
	}
	comp, err := tilecodec.ParseCompression(c.Storage.Compression)
	if err != nil {
		return gridft.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return gridft.Config{
		CacheBytes:          cache,
		TileSize:            c.Gridding.TileSize,
		Kernel:              c.Gridding.Kernel,
		Padding:             c.Gridding.Padding,
		UseAutocorrelations: c.Gridding.UseAutocorrelations,
		Distance:            c.Gridding.DistanceM,
		Backing:             gridstore.BackingKind(c.Storage.Backing),
		BackingDir:          c.Storage.Directory,
		Compression:         comp,
		Workers:             c.Processing.NumCores,
	}, nil
}

// ImageShape returns the image extent.
func (c *Config) ImageShape() lattice.Shape {
	return lattice.Shape{NX: c.Image.NX, NY: c.Image.NY, NPol: len(c.Image.Stokes), NChan: c.Image.NChan}
}

// ImageCoordinates returns the sky axes of the image, with the phase centre
// at pixel (nx/2, ny/2) and RA increasing to the left.
func (c *Config) ImageCoordinates() (lattice.Coordinates, error) {
	stokes, err := vis.ParseCorrelations(c.Image.Stokes)
	if err != nil {
		return lattice.Coordinates{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cellRad := c.Image.CellArcsec / 3600 * math.Pi / 180
	return lattice.Coordinates{
		Increment:      [2]float64{-cellRad, cellRad},
		ReferencePixel: [2]float64{float64(c.Image.NX / 2), float64(c.Image.NY / 2)},
		Direction:      coords.NewDirectionDeg(c.Image.PhaseCenterDeg[0], c.Image.PhaseCenterDeg[1]),
		Spectral: chanmap.Spectral{
			RefPixel:  0,
			RefFreq:   c.Image.RefFreqHz,
			Increment: c.Image.ChanWidthHz,
			NChan:     c.Image.NChan,
		},
		Stokes: stokes,
	}, nil
}
