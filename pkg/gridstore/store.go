// Package gridstore holds the complex uv grid during a gridding pass. Two
// strategies exist: Memory keeps the whole grid in one allocation, Tiled keeps
// a bounded set of overlapping tiles resident and pages the rest to a Backing.
package gridstore

import (
	"errors"
	"fmt"

	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
)

var (
	// ErrNotBuilt is returned by a Tiled store used before Build.
	ErrNotBuilt = errors.New("gridstore: store not built")

	// ErrOutsideCoverage is returned for windows that do not fit the grid or a tile.
	ErrOutsideCoverage = errors.New("gridstore: window outside coverage")

	// ErrBackingIO wraps failures of the tile backing store. It is fatal for the pass.
	ErrBackingIO = errors.New("gridstore: tile backing i/o")

	// ErrCorruptTile is reported by Backing.Get for a tile that fails its checksum.
	ErrCorruptTile = errors.New("gridstore: corrupt tile")

	// ErrTileMissing is reported by Backing.Get for a tile that was never stored.
	ErrTileMissing = errors.New("gridstore: tile missing")

	// ErrShape is returned by Load for a buffer of the wrong size.
	ErrShape = errors.New("gridstore: buffer does not match grid shape")
)

// Store is the grid storage contract used by the gridder and the engine.
type Store interface {
	// Shape returns the grid extent.
	Shape() lattice.Shape

	// Build prepares the store for footprints of the given half width.
	Build(support int) error

	// Window returns a view of every plane over the cells within half of (cx, cy).
	Window(cx, cy, half int) (Window, error)

	// Accumulate adds v to one cell.
	Accumulate(x, y, plane int, v complex128) error

	// Read returns the value of one cell.
	Read(x, y, plane int) (complex128, error)

	// FFTable returns the whole grid in flat layout.
	FFTable() ([]complex128, error)

	// Load replaces the grid contents and makes the store read-mostly.
	Load(grid []complex128) error

	// Seed replaces the grid contents and leaves the store writable, so a
	// pass can resume accumulating on top of a saved grid.
	Seed(grid []complex128) error

	// FlushAll writes every dirty tile to backing storage.
	FlushAll() error

	// Reset zeroes the grid for a new pass.
	Reset() error

	Close() error
	Stats() Stats
}

// Stats describes store activity since the last Reset.
type Stats struct {
	Strategy  Strategy
	Resident  int
	Capacity  int
	Dirty     int
	Persisted int
	Fetches   int
	Flushes   int
	Evictions int
	Poisoned  int
	TileBytes int64
}

// Window is a view onto a square footprint of cells for every plane.
// Offsets dx, dy are relative to the window centre. A Window is only valid
// until the next call on the store that produced it.
type Window struct {
	data        []complex128
	centre      int
	stride      int
	planeStride int
	half        int
}

// Half returns the half width the window was opened with.
func (w Window) Half() int { return w.half }

func (w Window) index(dx, dy, plane int) int {
	return w.centre + plane*w.planeStride + dy*w.stride + dx
}

// Add accumulates v into cell (dx, dy) of plane.
func (w Window) Add(dx, dy, plane int, v complex128) {
	w.data[w.index(dx, dy, plane)] += v
}

// At returns cell (dx, dy) of plane.
func (w Window) At(dx, dy, plane int) complex128 {
	return w.data[w.index(dx, dy, plane)]
}

// Strategy names a grid storage strategy.
type Strategy int

const (
	StrategyMemory Strategy = iota
	StrategyTiled
)

func (s Strategy) String() string {
	switch s {
	case StrategyMemory:
		return "memory"
	case StrategyTiled:
		return "tiled"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// Config selects and parameterises a store.
type Config struct {
	Shape lattice.Shape

	// CacheBytes bounds the memory held by the grid.
	CacheBytes int64

	// TileSize is the core edge of a tile in cells.
	TileSize int

	// Margin forces a tile overlap wider than the kernel support.
	Margin int

	// Backing receives evicted tiles. Required for the tiled strategy.
	Backing Backing

	Log *logging.Logger
}

// ChooseStrategy returns StrategyMemory when the whole grid fits CacheBytes
// or tiling is disabled, StrategyTiled otherwise.
func ChooseStrategy(shape lattice.Shape, cacheBytes int64, tileSize int) Strategy {
	if tileSize <= 0 || cacheBytes <= 0 {
		return StrategyMemory
	}
	if int64(shape.Len())*cellBytes <= cacheBytes {
		return StrategyMemory
	}
	if tileSize >= shape.NX && tileSize >= shape.NY {
		return StrategyMemory
	}
	return StrategyTiled
}

// Select creates the store cfg calls for.
func Select(cfg Config) (Store, Strategy, error) {
	if !cfg.Shape.Valid() {
		return nil, 0, fmt.Errorf("%w: %v", ErrShape, cfg.Shape)
	}
	strategy := ChooseStrategy(cfg.Shape, cfg.CacheBytes, cfg.TileSize)
	switch strategy {
	case StrategyTiled:
		if cfg.Backing == nil {
			return nil, 0, fmt.Errorf("gridstore: tiled strategy needs a backing store")
		}
		t, err := NewTiled(cfg)
		if err != nil {
			return nil, 0, err
		}
		return t, strategy, nil
	default:
		return NewMemory(cfg.Shape), strategy, nil
	}
}

const cellBytes = 16
