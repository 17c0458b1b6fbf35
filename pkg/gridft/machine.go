// Package gridft is the gridding engine. A Machine grids visibility buffers
// into an image (InitializeToSky, Put, GetImage) and predicts model
// visibilities from an image (InitializeToVis, Get, FinalizeToVis).
package gridft

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"

	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/fftcorr"
	"uvgrid/pkg/gridder"
	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/kernel"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
	"uvgrid/pkg/vis"
	"uvgrid/pkg/weights"
)

var (
	// ErrNotInitialized is returned for calls outside the pass they belong to.
	ErrNotInitialized = errors.New("gridft: machine not initialized for this operation")

	// ErrShapeMismatch is returned for images and records of unusable shape.
	ErrShapeMismatch = errors.New("gridft: shape mismatch")

	// ErrGridTooSmall is returned when the grid cannot hold a kernel footprint.
	ErrGridTooSmall = errors.New("gridft: grid too small for kernel support")
)

type pass int

const (
	passIdle pass = iota
	passSky
	passVis
)

func (p pass) String() string {
	switch p {
	case passSky:
		return "sky"
	case passVis:
		return "vis"
	default:
		return "idle"
	}
}

// Machine is not safe for concurrent use; buffers are processed one at a time.
type Machine struct {
	cfg     Config
	log     *logging.Logger
	gridder gridder.Gridder
	backing gridstore.Backing
	fft     *fftcorr.Transformer

	kernel    kernel.Kernel
	mapper    *coords.Mapper
	matcher   *chanmap.Matcher
	store     gridstore.Store
	strategy  gridstore.Strategy
	sumWeight *weights.Accumulator

	image      lattice.Image
	coords     lattice.Coordinates
	imageShape lattice.Shape
	gridShape  lattice.Shape
	padded     bool

	pass       pass
	stats      gridder.Stats
	maxAbsData float64
}

// New creates an idle Machine.
func New(cfg Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{cfg: cfg, log: logging.Noop()}
	for _, opt := range opts {
		opt(m)
	}
	if m.gridder == nil {
		m.gridder = gridder.NewNative()
	}
	m.log = m.log.WithComponent("gridft")
	m.fft = fftcorr.NewTransformer(cfg.Workers, m.log)
	return m, nil
}

// Config returns the active configuration.
func (m *Machine) Config() Config { return m.cfg }

// Image returns the image of the last pass or record, if any.
func (m *Machine) Image() lattice.Image { return m.image }

func (m *Machine) ImageShape() lattice.Shape { return m.imageShape }
func (m *Machine) GridShape() lattice.Shape  { return m.gridShape }

// Padded reports whether the grid is larger than the image.
func (m *Machine) Padded() bool { return m.padded }

// Strategy returns the grid storage strategy of the current pass.
func (m *Machine) Strategy() gridstore.Strategy { return m.strategy }

// Kernel returns the convolution kernel of the current pass.
func (m *Machine) Kernel() kernel.Kernel { return m.kernel }

// Stats returns sample counts since the pass began.
func (m *Machine) Stats() gridder.Stats { return m.stats }

// StoreStats returns grid storage counters, or zero stats when no store is open.
func (m *Machine) StoreStats() gridstore.Stats {
	if m.store == nil {
		return gridstore.Stats{}
	}
	return m.store.Stats()
}

// SumWeight returns a copy of the weight sums, npol x nchan.
func (m *Machine) SumWeight() *mat.Dense {
	if m.sumWeight == nil {
		return nil
	}
	return m.sumWeight.Matrix()
}

// MaxAbsData is the largest unflagged visibility amplitude seen while gridding.
func (m *Machine) MaxAbsData() float64 { return m.maxAbsData }

func sameAxes(a, b lattice.Coordinates) bool {
	if a.Spectral != b.Spectral || len(a.Stokes) != len(b.Stokes) {
		return false
	}
	for i := range a.Stokes {
		if a.Stokes[i] != b.Stokes[i] {
			return false
		}
	}
	return true
}

// evenAxes rejects shapes with an odd sky axis. The centred transforms put
// the origin at n/2 and assume n is even.
func evenAxes(s lattice.Shape) error {
	if s.NX%2 != 0 || s.NY%2 != 0 {
		return fmt.Errorf("%w: %dx%d has an odd axis", ErrShapeMismatch, s.NX, s.NY)
	}
	return nil
}

// setup prepares kernel, mapper, channel matching and grid storage for image.
func (m *Machine) setup(image lattice.Image, direction pass) error {
	if image == nil {
		return fmt.Errorf("%w: nil image", ErrShapeMismatch)
	}
	shape, c := image.Shape(), image.Coordinates()
	switch {
	case !shape.Valid():
		return fmt.Errorf("%w: image %v", ErrShapeMismatch, shape)
	case len(c.Stokes) != shape.NPol:
		return fmt.Errorf("%w: %d stokes planes for %d polarizations", ErrShapeMismatch, len(c.Stokes), shape.NPol)
	case c.Spectral.NChan != shape.NChan:
		return fmt.Errorf("%w: spectral axis has %d channels, image %d", ErrShapeMismatch, c.Spectral.NChan, shape.NChan)
	}
	if err := evenAxes(shape); err != nil {
		return err
	}
	if err := c.Spectral.Validate(); err != nil {
		return err
	}

	k, err := kernel.NewByName(m.cfg.Kernel)
	if err != nil {
		return err
	}
	grid, padded := fftcorr.ChooseGridSize(shape, m.cfg.Padding, m.cfg.CacheBytes)
	if grid.NX <= 2*k.Support() || grid.NY <= 2*k.Support() {
		return fmt.Errorf("%w: grid %dx%d, support %d", ErrGridTooSmall, grid.NX, grid.NY, k.Support())
	}

	centre := c.PhaseCenter(shape)
	if m.cfg.PhaseCenter != nil {
		centre = *m.cfg.PhaseCenter
	}
	mapper, err := coords.NewMapper(coords.MapperConfig{
		NX:          grid.NX,
		NY:          grid.NY,
		Increment:   c.Increment,
		ImageCenter: centre,
		Distance:    m.cfg.Distance,
	})
	if err != nil {
		return err
	}

	if m.matcher == nil || !sameAxes(m.coords, c) {
		m.matcher = chanmap.NewMatcher(c.Spectral, c.Stokes, m.cfg.FrameConversion, m.log)
	}
	if err := m.openStore(grid, k.Support()); err != nil {
		return err
	}

	m.kernel = k
	m.mapper = mapper
	m.image = image
	m.coords = c
	m.imageShape = shape
	m.gridShape = grid
	m.padded = padded
	m.sumWeight = weights.New(shape.NPol, shape.NChan)
	m.stats = gridder.Stats{}
	m.maxAbsData = 0
	m.pass = direction

	m.log.WithPass(direction.String()).Info("initialized gridding pass",
		"image", shape.String(),
		"grid", grid.String(),
		"padded", padded,
		"kernel", k.Name(),
		"strategy", m.strategy.String(),
		"grid_bytes", humanize.IBytes(uint64(grid.Len())*16),
		"phase_center", centre.String())
	return nil
}

func (m *Machine) openStore(shape lattice.Shape, support int) error {
	if m.store != nil {
		if m.store.Shape() == shape {
			if err := m.store.Reset(); err != nil {
				return err
			}
			return m.store.Build(support)
		}
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("close grid store: %w", err)
		}
		m.store = nil
	}

	var backing gridstore.Backing
	strategy := gridstore.ChooseStrategy(shape, m.cfg.CacheBytes, m.cfg.TileSize)
	if strategy == gridstore.StrategyTiled {
		if m.backing != nil {
			backing = sharedBacking{m.backing}
		} else {
			var err error
			backing, err = gridstore.OpenBacking(m.cfg.Backing, m.cfg.BackingDir, m.cfg.Compression)
			if err != nil {
				return err
			}
		}
	}

	store, strategy, err := gridstore.Select(gridstore.Config{
		Shape:      shape,
		CacheBytes: m.cfg.CacheBytes,
		TileSize:   m.cfg.TileSize,
		Backing:    backing,
		Log:        m.log,
	})
	if err != nil {
		if backing != nil {
			backing.Close()
		}
		return err
	}
	if err := store.Build(support); err != nil {
		store.Close()
		return err
	}
	m.store, m.strategy = store, strategy
	return nil
}

// InitializeToSky starts a gridding pass into image. The grid and the weight
// sums are zeroed.
func (m *Machine) InitializeToSky(image lattice.Image) error {
	return m.setup(image, passSky)
}

// geometry prepares the coordinates of buf for the gridder.
func (m *Machine) geometry(buf *vis.Buffer, mp chanmap.Map) (gridder.Geometry, error) {
	uvw, dphase, err := m.mapper.Prepare(buf.UVW, buf.PhaseCenter, buf.Antenna1, buf.Antenna2)
	if err != nil {
		return gridder.Geometry{}, err
	}
	return gridder.Geometry{
		NRow:                buf.NRow(),
		NChan:               buf.NChan(),
		NCorr:               buf.NCorr(),
		UVW:                 gridder.FlattenUVW(uvw),
		DPhase:              dphase,
		RowFlags:            buf.FlagRow,
		Flags:               buf.Flag,
		Antenna1:            buf.Antenna1,
		Antenna2:            buf.Antenna2,
		Freqs:               buf.Frequencies,
		ChanMap:             mp.Chan,
		PolMap:              mp.Pol,
		Scale:               m.mapper.UVScale(),
		Offset:              m.mapper.UVOffset(),
		Kernel:              m.kernel,
		Store:               m.store,
		UseAutocorrelations: m.cfg.UseAutocorrelations,
	}, nil
}

// Put grids one buffer. With psf set, unit visibilities are gridded instead
// of buf.Data. Buffers whose channels all fall outside the image are skipped.
func (m *Machine) Put(buf *vis.Buffer, psf bool) error {
	if m.pass != passSky {
		return fmt.Errorf("%w: put during %s pass", ErrNotInitialized, m.pass)
	}
	if err := buf.Validate(); err != nil {
		return err
	}
	mp, err := m.matcher.Map(buf)
	if err != nil {
		return err
	}
	if !mp.AnySelected() {
		return nil
	}
	geom, err := m.geometry(buf, mp)
	if err != nil {
		return err
	}
	if !psf {
		m.trackMaxAbs(buf)
	}

	return m.gridder.Scatter(gridder.ScatterArgs{
		Geometry:  geom,
		Data:      buf.Data,
		Weights:   buf.ImagingWeight,
		PSF:       psf,
		SumWeight: m.sumWeight,
		Stats:     &m.stats,
	})
}

func (m *Machine) trackMaxAbs(buf *vis.Buffer) {
	for row := 0; row < buf.NRow(); row++ {
		if buf.FlagRow[row] {
			continue
		}
		for i := buf.Index(row, 0, 0); i < buf.Index(row+1, 0, 0); i++ {
			if !buf.Flag[i] {
				m.maxAbsData = max(m.maxAbsData, cmplx.Abs(complex128(buf.Data[i])))
			}
		}
	}
}

// GetImage finishes the gridding pass: the grid is transformed, normalised by
// the weight sums when normalize is set, corrected for the kernel and its
// centre written into the image. It returns the image and the npol x nchan
// weight sums. When no weight was gridded a warning is logged and the image
// is left unnormalised.
func (m *Machine) GetImage(normalize bool) (lattice.Image, *mat.Dense, error) {
	if m.pass != passSky {
		return nil, nil, fmt.Errorf("%w: no gridding pass", ErrNotInitialized)
	}
	grid, err := m.store.FFTable()
	if err != nil {
		return nil, nil, err
	}
	allZero, err := m.fft.ToSky(grid, m.gridShape, m.kernel, m.sumWeight.PlaneSum(), normalize)
	if err != nil {
		return nil, nil, err
	}
	img, err := fftcorr.ExtractCenter(grid, m.gridShape, m.imageShape)
	if err != nil {
		return nil, nil, err
	}
	if err := m.image.Put(img); err != nil {
		return nil, nil, err
	}
	if err := m.store.Reset(); err != nil {
		return nil, nil, err
	}
	m.pass = passIdle

	m.log.WithPass("sky").Info("finalized image",
		"samples", humanize.Comma(int64(m.stats.Samples)),
		"off_grid", m.stats.OffGrid,
		"row_flagged", m.stats.RowFlagged,
		"flagged", m.stats.Flagged,
		"autocorrelations", m.stats.Autocorr,
		"sum_weight", m.sumWeight.Total(),
		"normalized", normalize && !allZero)
	return m.image, m.sumWeight.Matrix(), nil
}

// GetWeightImage returns an image whose every plane holds that plane's sum of weights.
func (m *Machine) GetWeightImage() (lattice.Image, error) {
	if m.sumWeight == nil || !m.imageShape.Valid() {
		return nil, fmt.Errorf("%w: no weights", ErrNotInitialized)
	}
	cube, err := lattice.NewCube(m.imageShape, m.coords)
	if err != nil {
		return nil, err
	}
	for ch := 0; ch < m.imageShape.NChan; ch++ {
		for pol := 0; pol < m.imageShape.NPol; pol++ {
			w := complex(m.sumWeight.At(pol, ch), 0)
			plane := cube.PlaneView(pol, ch)
			for i := range plane {
				plane[i] = w
			}
		}
	}
	return cube, nil
}

// InitializeToVis starts a prediction pass from image: the image is embedded
// in the grid, corrected for the kernel and transformed to the uv plane.
func (m *Machine) InitializeToVis(image lattice.Image) error {
	if err := m.setup(image, passVis); err != nil {
		return err
	}
	data, err := image.GetSlice(lattice.Shape{}, m.imageShape)
	if err != nil {
		m.pass = passIdle
		return err
	}
	grid, err := fftcorr.EmbedCenter(data, m.imageShape, m.gridShape)
	if err != nil {
		m.pass = passIdle
		return err
	}
	if err := m.fft.ToVis(grid, m.gridShape, m.kernel); err != nil {
		m.pass = passIdle
		return err
	}
	if err := m.store.Load(grid); err != nil {
		m.pass = passIdle
		return err
	}
	return nil
}

// Get predicts buf.Model, allocating it when nil. Samples that cannot be
// predicted are set to zero.
func (m *Machine) Get(buf *vis.Buffer) error {
	if m.pass != passVis {
		return fmt.Errorf("%w: get during %s pass", ErrNotInitialized, m.pass)
	}
	if err := buf.Validate(); err != nil {
		return err
	}
	if buf.Model == nil {
		buf.Model = make([]complex64, len(buf.Data))
	}
	mp, err := m.matcher.Map(buf)
	if err != nil {
		return err
	}
	if !mp.AnySelected() {
		clear(buf.Model)
		return nil
	}
	geom, err := m.geometry(buf, mp)
	if err != nil {
		return err
	}
	return m.gridder.Gather(gridder.GatherArgs{Geometry: geom, Model: buf.Model, Stats: &m.stats})
}

// FinalizeToVis ends the prediction pass and releases the grid.
func (m *Machine) FinalizeToVis() error {
	if m.pass != passVis {
		return fmt.Errorf("%w: no prediction pass", ErrNotInitialized)
	}
	m.pass = passIdle
	m.log.WithPass("vis").Info("finalized prediction",
		"samples", humanize.Comma(int64(m.stats.Samples)),
		"off_grid", m.stats.OffGrid)
	return m.store.Reset()
}

// Close releases the grid store and its backing.
func (m *Machine) Close() error {
	m.pass = passIdle
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	return err
}
