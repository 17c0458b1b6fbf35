package gridft

import (
	"fmt"
	"math"

	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridder"
	"uvgrid/pkg/kernel"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/state"
	"uvgrid/pkg/vis"
	"uvgrid/pkg/weights"
)

// ToRecord captures the machine's configuration, geometry and weight sums,
// and the image contents when withImage is set. Taken during a pass, the
// record also holds the uv grid so FromRecord can resume the pass.
func (m *Machine) ToRecord(withImage bool) (*state.Record, error) {
	if m.image == nil || m.mapper == nil {
		return nil, fmt.Errorf("%w: nothing to record", ErrNotInitialized)
	}
	mc := m.mapper.Config()
	rec := &state.Record{
		CacheSizeBytes:      m.cfg.CacheBytes,
		TileSize:            m.cfg.TileSize,
		Kernel:              m.kernel.Name(),
		PhaseCenter:         mc.ImageCenter,
		Observatory:         m.cfg.Observatory,
		Distance:            m.cfg.Distance,
		Padding:             m.cfg.Padding,
		UseAutocorrelations: m.cfg.UseAutocorrelations,
		MaxAbsData:          m.maxAbsData,
		CenterLoc:           [4]int{m.gridShape.NX / 2, m.gridShape.NY / 2, 0, 0},
		OffsetLoc:           [4]int{0, 0, 0, 0},
		UVScale:             m.mapper.UVScale(),
		UVOffset:            m.mapper.UVOffset(),
		Increment:           mc.Increment,
		GridShape:           m.gridShape,
		ImageShape:          m.imageShape,
		Spectral:            m.coords.Spectral,
		Stokes:              append([]vis.Correlation(nil), m.coords.Stokes...),
		SumWeight:           m.sumWeight.Matrix(),
		ChannelMaps:         m.matcher.Snapshot(),
		Pass:                m.pass.String(),
	}
	if m.pass != passIdle {
		grid, err := m.store.FFTable()
		if err != nil {
			return nil, err
		}
		rec.Grid = append([]complex128(nil), grid...)
	}
	if withImage {
		data, err := m.image.GetSlice(lattice.Shape{}, m.imageShape)
		if err != nil {
			return nil, err
		}
		rec.Image = data
	}
	return rec, nil
}

// FromRecord restores a machine saved with ToRecord. Its image is an
// in-memory cube, empty unless the record carried one. A record taken during
// a gridding pass resumes it, so Put and GetImage continue on the saved grid;
// one taken during a prediction pass resumes Get. Otherwise the machine is
// left idle: its image can be passed to InitializeToVis, and GetWeightImage
// reports the restored weights.
func (m *Machine) FromRecord(rec *state.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrShapeMismatch)
	}
	cfg := m.cfg
	cfg.CacheBytes = rec.CacheSizeBytes
	cfg.TileSize = rec.TileSize
	cfg.Kernel = rec.Kernel
	cfg.Padding = rec.Padding
	cfg.UseAutocorrelations = rec.UseAutocorrelations
	cfg.Distance = rec.Distance
	cfg.Observatory = rec.Observatory
	pc := rec.PhaseCenter
	cfg.PhaseCenter = &pc
	if err := cfg.Validate(); err != nil {
		return err
	}

	k, err := kernel.NewByName(rec.Kernel)
	if err != nil {
		return err
	}
	is, gs := rec.ImageShape, rec.GridShape
	if !is.Valid() || !gs.Valid() || gs.NX < is.NX || gs.NY < is.NY || gs.NPol != is.NPol || gs.NChan != is.NChan {
		return fmt.Errorf("%w: image %v, grid %v", ErrShapeMismatch, is, gs)
	}
	if err := evenAxes(is); err != nil {
		return err
	}
	if err := evenAxes(gs); err != nil {
		return err
	}

	resume := passIdle
	switch rec.Pass {
	case "", "idle":
	case "sky":
		resume = passSky
	case "vis":
		resume = passVis
	default:
		return fmt.Errorf("%w: unknown pass %q", ErrShapeMismatch, rec.Pass)
	}
	if resume != passIdle && len(rec.Grid) != gs.Len() {
		return fmt.Errorf("%w: %s pass record holds %d grid values for %v", ErrShapeMismatch, resume, len(rec.Grid), gs)
	}
	if len(rec.Stokes) != is.NPol {
		return fmt.Errorf("%w: %d stokes planes for %d polarizations", ErrShapeMismatch, len(rec.Stokes), is.NPol)
	}

	c := lattice.Coordinates{
		Increment:      rec.Increment,
		ReferencePixel: [2]float64{float64(is.NX / 2), float64(is.NY / 2)},
		Direction:      rec.PhaseCenter,
		Spectral:       rec.Spectral,
		Stokes:         rec.Stokes,
	}
	cube, err := lattice.NewCube(is, c)
	if err != nil {
		return err
	}
	if rec.Image != nil {
		if err := cube.Put(rec.Image); err != nil {
			return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
	}

	mapper, err := coords.NewMapper(coords.MapperConfig{
		NX:          gs.NX,
		NY:          gs.NY,
		Increment:   rec.Increment,
		ImageCenter: rec.PhaseCenter,
		Distance:    rec.Distance,
	})
	if err != nil {
		return err
	}
	if s := mapper.UVScale(); !closeTo(s[0], rec.UVScale[0]) || !closeTo(s[1], rec.UVScale[1]) {
		m.log.Warn("recorded uv scale differs from grid geometry, using geometry",
			"recorded", rec.UVScale, "computed", s)
	}
	recorded := [2]float64{rec.UVOffset[0] - float64(rec.OffsetLoc[0]), rec.UVOffset[1] - float64(rec.OffsetLoc[1])}
	if o := mapper.UVOffset(); o != recorded {
		m.log.Warn("recorded uv offset differs from grid geometry, using geometry",
			"recorded", recorded, "computed", o)
	}

	sw := weights.New(is.NPol, is.NChan)
	if rec.SumWeight != nil {
		if err := sw.SetMatrix(rec.SumWeight); err != nil {
			return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
	}

	if err := m.Close(); err != nil {
		return err
	}
	m.matcher = chanmap.NewMatcher(rec.Spectral, rec.Stokes, cfg.FrameConversion, m.log)
	m.matcher.Restore(rec.ChannelMaps)

	m.cfg = cfg
	m.kernel = k
	m.mapper = mapper
	m.image = cube
	m.coords = c
	m.imageShape = is
	m.gridShape = gs
	m.padded = gs != is
	m.sumWeight = sw
	m.maxAbsData = rec.MaxAbsData
	m.stats = gridder.Stats{}
	m.pass = passIdle
	if resume == passIdle {
		return nil
	}

	if err := m.openStore(gs, k.Support()); err != nil {
		return err
	}
	if resume == passSky {
		err = m.store.Seed(rec.Grid)
	} else {
		err = m.store.Load(rec.Grid)
	}
	if err != nil {
		return err
	}
	m.pass = resume
	m.log.WithPass(resume.String()).Info("resumed pass from record",
		"grid", gs.String(),
		"strategy", m.strategy.String())
	return nil
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}
