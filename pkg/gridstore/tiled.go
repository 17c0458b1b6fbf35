package gridstore

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dustin/go-humanize"

	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
)

// Tiled splits the grid into square tiles whose buffers overlap their
// neighbours by a margin at least as wide as the kernel support, so that every
// footprint centred in a tile's core lands inside that tile. A cell's value is
// the sum over every tile buffer covering it.
//
// At most Capacity tiles are resident. The least recently used tile is
// evicted when another is needed; dirty tiles are written to the Backing
// first. Tiles never written to the Backing read as zero.
//
// Tiled is not safe for concurrent use.
type Tiled struct {
	shape      lattice.Shape
	tileSize   int
	minMargin  int
	cacheBytes int64
	backing    Backing
	log        *logging.Logger

	built    bool
	margin   int
	edge     int
	ntx, nty int
	capacity int
	readOnly bool

	lru       *list.List
	resident  map[uint32]*list.Element
	dirty     *roaring.Bitmap
	persisted *roaring.Bitmap
	scratch   []complex128

	fetches, flushes, evictions, poisoned int
}

type tile struct {
	id   uint32
	data []complex128
}

// NewTiled creates an unbuilt tiled store.
func NewTiled(cfg Config) (*Tiled, error) {
	if !cfg.Shape.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrShape, cfg.Shape)
	}
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("gridstore: tile size %d", cfg.TileSize)
	}
	if cfg.Backing == nil {
		return nil, fmt.Errorf("gridstore: nil backing")
	}
	return &Tiled{
		shape:      cfg.Shape,
		tileSize:   cfg.TileSize,
		minMargin:  max(cfg.Margin, 0),
		cacheBytes: cfg.CacheBytes,
		backing:    cfg.Backing,
		log:        logging.Or(cfg.Log).WithComponent("gridstore"),
		lru:        list.New(),
		resident:   make(map[uint32]*list.Element),
		dirty:      roaring.New(),
		persisted:  roaring.New(),
	}, nil
}

func (s *Tiled) Shape() lattice.Shape { return s.shape }

// Build fixes the tile margin for footprints of half width support and
// discards any grid contents.
func (s *Tiled) Build(support int) error {
	if support < 0 {
		return fmt.Errorf("gridstore: negative support %d", support)
	}
	s.margin = max(support, s.minMargin)
	s.edge = s.tileSize + 2*s.margin
	s.ntx = (s.shape.NX + s.tileSize - 1) / s.tileSize
	s.nty = (s.shape.NY + s.tileSize - 1) / s.tileSize

	tileBytes := s.tileBytes()
	s.capacity = max(1, int(s.cacheBytes/tileBytes))
	s.built = true
	s.scratch = make([]complex128, s.tileLen())
	if err := s.Reset(); err != nil {
		return err
	}

	s.log.Info("built tiled grid",
		"grid", s.shape.String(),
		"tiles", humanize.Comma(int64(s.ntx*s.nty)),
		"tile_edge", s.edge,
		"tile_bytes", humanize.IBytes(uint64(tileBytes)),
		"resident_max", s.capacity)
	return nil
}

func (s *Tiled) tileLen() int { return s.edge * s.edge * s.shape.Planes() }

func (s *Tiled) tileBytes() int64 { return int64(s.tileLen()) * cellBytes }

// Margin returns the tile overlap in cells.
func (s *Tiled) Margin() int { return s.margin }

// Tiles returns the tile count along x and y.
func (s *Tiled) Tiles() (int, int) { return s.ntx, s.nty }

func (s *Tiled) tileID(tx, ty int) uint32 { return uint32(ty*s.ntx + tx) }

func (s *Tiled) origin(id uint32) (int, int) {
	tx, ty := int(id)%s.ntx, int(id)/s.ntx
	return tx*s.tileSize - s.margin, ty*s.tileSize - s.margin
}

func (s *Tiled) local(ox, oy, x, y, plane int) int {
	return (plane*s.edge+(y-oy))*s.edge + (x - ox)
}

func (s *Tiled) inside(x, y, plane int) error {
	if !s.built {
		return ErrNotBuilt
	}
	if x < 0 || y < 0 || x >= s.shape.NX || y >= s.shape.NY || plane < 0 || plane >= s.shape.Planes() {
		return fmt.Errorf("%w: cell (%d,%d,%d) on %v", ErrOutsideCoverage, x, y, plane, s.shape)
	}
	return nil
}

func (s *Tiled) Window(cx, cy, half int) (Window, error) {
	if !s.built {
		return Window{}, ErrNotBuilt
	}
	if half > s.margin {
		return Window{}, fmt.Errorf("%w: half width %d exceeds tile margin %d", ErrOutsideCoverage, half, s.margin)
	}
	if cx-half < 0 || cy-half < 0 || cx+half >= s.shape.NX || cy+half >= s.shape.NY {
		return Window{}, fmt.Errorf("%w: (%d,%d)±%d on %v", ErrOutsideCoverage, cx, cy, half, s.shape)
	}

	id := s.tileID(cx/s.tileSize, cy/s.tileSize)
	t, err := s.fetch(id)
	if err != nil {
		return Window{}, err
	}
	if !s.readOnly {
		s.dirty.Add(id)
	}
	ox, oy := s.origin(id)
	return Window{
		data:        t.data,
		centre:      s.local(ox, oy, cx, cy, 0),
		stride:      s.edge,
		planeStride: s.edge * s.edge,
		half:        half,
	}, nil
}

func (s *Tiled) Accumulate(x, y, plane int, v complex128) error {
	if err := s.inside(x, y, plane); err != nil {
		return err
	}
	id := s.tileID(x/s.tileSize, y/s.tileSize)
	t, err := s.fetch(id)
	if err != nil {
		return err
	}
	ox, oy := s.origin(id)
	t.data[s.local(ox, oy, x, y, plane)] += v
	s.dirty.Add(id)
	return nil
}

// Read returns a cell. After Load margins replicate their neighbours, so the
// core tile alone holds the value; otherwise every covering tile is summed.
func (s *Tiled) Read(x, y, plane int) (complex128, error) {
	if err := s.inside(x, y, plane); err != nil {
		return 0, err
	}
	if s.readOnly {
		id := s.tileID(x/s.tileSize, y/s.tileSize)
		t, err := s.fetch(id)
		if err != nil {
			return 0, err
		}
		ox, oy := s.origin(id)
		return t.data[s.local(ox, oy, x, y, plane)], nil
	}

	var sum complex128
	for ty := max(0, (y-s.margin)/s.tileSize); ty <= min(s.nty-1, (y+s.margin)/s.tileSize); ty++ {
		for tx := max(0, (x-s.margin)/s.tileSize); tx <= min(s.ntx-1, (x+s.margin)/s.tileSize); tx++ {
			id := s.tileID(tx, ty)
			ox, oy := s.origin(id)
			if x < ox || y < oy || x >= ox+s.edge || y >= oy+s.edge {
				continue
			}
			data, err := s.peek(id)
			if err != nil {
				return 0, err
			}
			if data != nil {
				sum += data[s.local(ox, oy, x, y, plane)]
			}
		}
	}
	return sum, nil
}

// FFTable flushes every dirty tile and sums all tiles into a newly allocated
// grid owned by the caller. After Load only tile cores are copied.
func (s *Tiled) FFTable() ([]complex128, error) {
	if !s.built {
		return nil, ErrNotBuilt
	}
	if err := s.FlushAll(); err != nil {
		return nil, err
	}

	out := make([]complex128, s.shape.Len())
	for id := uint32(0); id < uint32(s.ntx*s.nty); id++ {
		data, err := s.peek(id)
		if err != nil {
			return nil, err
		}
		if data == nil {
			continue
		}
		ox, oy := s.origin(id)
		s.eachCell(ox, oy, s.readOnly, func(plane, x, y, li int) {
			out[s.shape.Index(x, y, plane)] += data[li]
		})
	}
	return out, nil
}

// eachCell visits the cells of a tile buffer at origin (ox, oy) that lie on
// the grid, or only its core cells.
func (s *Tiled) eachCell(ox, oy int, core bool, fn func(plane, x, y, li int)) {
	m := 0
	if core {
		m = s.margin
	}
	x0, x1 := max(ox+m, 0), min(ox+s.edge-m, s.shape.NX)
	y0, y1 := max(oy+m, 0), min(oy+s.edge-m, s.shape.NY)
	for plane := 0; plane < s.shape.Planes(); plane++ {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				fn(plane, x, y, s.local(ox, oy, x, y, plane))
			}
		}
	}
}

// Load splits grid into tiles with replicated margins and writes them all to
// the backing. The store is read-only until the next Reset: windows no longer
// mark tiles dirty.
func (s *Tiled) Load(grid []complex128) error {
	if err := s.spread(grid, false); err != nil {
		return err
	}
	s.readOnly = true
	return nil
}

// Seed writes grid into tile cores with zero margins, so the sum over tiles
// is grid itself and accumulation can continue on top of it.
func (s *Tiled) Seed(grid []complex128) error {
	return s.spread(grid, true)
}

func (s *Tiled) spread(grid []complex128, core bool) error {
	if !s.built {
		return ErrNotBuilt
	}
	if len(grid) != s.shape.Len() {
		return fmt.Errorf("%w: %d values for %v", ErrShape, len(grid), s.shape)
	}
	if err := s.Reset(); err != nil {
		return err
	}

	for id := uint32(0); id < uint32(s.ntx*s.nty); id++ {
		clear(s.scratch)
		ox, oy := s.origin(id)
		s.eachCell(ox, oy, core, func(plane, x, y, li int) {
			s.scratch[li] = grid[s.shape.Index(x, y, plane)]
		})
		if err := s.backing.Put(id, s.scratch); err != nil {
			return fmt.Errorf("%w: store tile %d: %v", ErrBackingIO, id, err)
		}
		s.persisted.Add(id)
	}
	return nil
}

func (s *Tiled) FlushAll() error {
	if !s.built {
		return nil
	}
	for el := s.lru.Front(); el != nil; el = el.Next() {
		t := el.Value.(*tile)
		if s.dirty.Contains(t.id) {
			if err := s.flush(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reset drops every tile. Previously persisted tiles are forgotten, not deleted.
func (s *Tiled) Reset() error {
	s.lru.Init()
	clear(s.resident)
	s.dirty.Clear()
	s.persisted.Clear()
	s.readOnly = false
	s.fetches, s.flushes, s.evictions, s.poisoned = 0, 0, 0, 0
	return nil
}

func (s *Tiled) Close() error {
	s.lru.Init()
	clear(s.resident)
	return s.backing.Close()
}

func (s *Tiled) Stats() Stats {
	return Stats{
		Strategy:  StrategyTiled,
		Resident:  s.lru.Len(),
		Capacity:  s.capacity,
		Dirty:     int(s.dirty.GetCardinality()),
		Persisted: int(s.persisted.GetCardinality()),
		Fetches:   s.fetches,
		Flushes:   s.flushes,
		Evictions: s.evictions,
		Poisoned:  s.poisoned,
		TileBytes: s.tileBytes(),
	}
}

// fetch makes id resident, evicting the least recently used tile if needed.
func (s *Tiled) fetch(id uint32) (*tile, error) {
	if el, ok := s.resident[id]; ok {
		s.lru.MoveToFront(el)
		return el.Value.(*tile), nil
	}

	var buf []complex128
	if s.lru.Len() >= s.capacity {
		var err error
		if buf, err = s.evict(); err != nil {
			return nil, err
		}
		clear(buf)
	} else {
		buf = make([]complex128, s.tileLen())
	}

	if s.persisted.Contains(id) {
		if err := s.load(id, buf); err != nil {
			return nil, err
		}
	}
	t := &tile{id: id, data: buf}
	s.resident[id] = s.lru.PushFront(t)
	return t, nil
}

// peek returns the contents of id without changing residency: the resident
// buffer, the persisted copy in scratch, or nil for an all-zero tile.
func (s *Tiled) peek(id uint32) ([]complex128, error) {
	if el, ok := s.resident[id]; ok {
		return el.Value.(*tile).data, nil
	}
	if !s.persisted.Contains(id) {
		return nil, nil
	}
	if err := s.load(id, s.scratch); err != nil {
		return nil, err
	}
	return s.scratch, nil
}

func (s *Tiled) load(id uint32, dst []complex128) error {
	err := s.backing.Get(id, dst)
	switch {
	case err == nil:
		s.fetches++
		return nil
	case errors.Is(err, ErrCorruptTile):
		s.poisoned++
		s.persisted.Remove(id)
		clear(dst)
		s.log.WithTile(id).Warn("poisoned tile treated as zero", "error", err)
		return nil
	default:
		return fmt.Errorf("%w: fetch tile %d: %v", ErrBackingIO, id, err)
	}
}

func (s *Tiled) evict() ([]complex128, error) {
	el := s.lru.Back()
	t := el.Value.(*tile)
	if s.dirty.Contains(t.id) {
		if err := s.flush(t); err != nil {
			return nil, err
		}
	}
	s.lru.Remove(el)
	delete(s.resident, t.id)
	s.evictions++
	return t.data, nil
}

func (s *Tiled) flush(t *tile) error {
	if err := s.backing.Put(t.id, t.data); err != nil {
		return fmt.Errorf("%w: flush tile %d: %v", ErrBackingIO, t.id, err)
	}
	s.persisted.Add(t.id)
	s.dirty.Remove(t.id)
	s.flushes++
	return nil
}
