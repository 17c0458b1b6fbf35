package gridft

import (
	"fmt"

	"uvgrid/internal/tilecodec"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridder"
	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/kernel"
	"uvgrid/pkg/logging"
)

// Config holds the gridding parameters. It is fixed for the lifetime of a
// Machine except through FromRecord.
type Config struct {
	// CacheBytes bounds the memory used by the grid. A grid that does not fit
	// is tiled, and padding is dropped when the padded grid would not fit.
	CacheBytes int64

	// TileSize is the core edge of a grid tile in cells.
	TileSize int

	// Kernel names the convolution kernel: BOX, SF or GAUSS.
	Kernel string

	// Padding is the factor by which the grid exceeds the image on each axis.
	Padding float64

	// UseAutocorrelations grids rows whose two antennas are the same.
	UseAutocorrelations bool

	// PhaseCenter overrides the image phase centre when set.
	PhaseCenter *coords.Direction

	// Observatory is the array reference position (ITRF, metres).
	Observatory [3]float64

	// Distance is the object distance in metres for near-field refocusing; 0 is the far field.
	Distance float64

	// Backing selects where evicted tiles go.
	Backing gridstore.BackingKind

	// BackingDir is the directory of file and pebble backings.
	BackingDir string

	// Compression encodes tiles written to the backing.
	Compression tilecodec.Compression

	// Workers bounds the planes transformed in parallel; 0 is GOMAXPROCS.
	Workers int

	// FrameConversion lists spectral windows whose frequencies must be
	// converted to the image frame for every buffer.
	FrameConversion []int
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		CacheBytes:  256 << 20,
		TileSize:    64,
		Kernel:      "SF",
		Padding:     1.2,
		Backing:     gridstore.BackingFile,
		Compression: tilecodec.LZ4,
	}
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	if _, err := kernel.ByName(c.Kernel); err != nil {
		return err
	}
	if c.Padding < 1 {
		return fmt.Errorf("gridft: padding %g is below 1", c.Padding)
	}
	if c.TileSize < 0 || c.CacheBytes < 0 || c.Workers < 0 {
		return fmt.Errorf("gridft: negative tile size, cache size or worker count")
	}
	if c.Distance < 0 {
		return fmt.Errorf("gridft: negative object distance %g", c.Distance)
	}
	return nil
}

// Option customises a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) { m.log = logging.Or(l) }
}

// WithBacking supplies the tile backing instead of opening one from Config.
// The Machine does not close it.
func WithBacking(b gridstore.Backing) Option {
	return func(m *Machine) { m.backing = b }
}

// WithGridder replaces the pure-Go gridder.
func WithGridder(g gridder.Gridder) Option {
	return func(m *Machine) { m.gridder = g }
}

// sharedBacking keeps a caller-owned backing open when a store is closed.
type sharedBacking struct {
	gridstore.Backing
}

func (sharedBacking) Close() error { return nil }
