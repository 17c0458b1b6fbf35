package coords

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidMapper is returned for unusable grid geometry.
	ErrInvalidMapper = errors.New("coords: invalid mapper configuration")

	// ErrRefocus is returned when antenna positions cannot be recovered from a buffer.
	ErrRefocus = errors.New("coords: cannot refocus buffer")
)

// MapperConfig describes the grid that uvw coordinates are mapped onto.
type MapperConfig struct {
	// NX, NY are the grid dimensions (padded if padding is in use).
	NX, NY int

	// Increment is the image pixel size in radians along each axis.
	// The RA axis is conventionally negative.
	Increment [2]float64

	// ImageCenter is the direction of the image phase centre pixel.
	ImageCenter Direction

	// Distance is the object distance in metres for near-field refocusing.
	// Zero disables refocusing.
	Distance float64
}

// Mapper converts uvw in metres to fractional grid positions.
// It is immutable after construction and safe for concurrent use.
type Mapper struct {
	cfg    MapperConfig
	scale  [2]float64
	offset [2]float64
}

// NewMapper derives uvScale and uvOffset from the grid geometry.
func NewMapper(cfg MapperConfig) (*Mapper, error) {
	if cfg.NX <= 0 || cfg.NY <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrInvalidMapper, cfg.NX, cfg.NY)
	}
	if cfg.Increment[0] == 0 || cfg.Increment[1] == 0 {
		return nil, fmt.Errorf("%w: zero pixel increment", ErrInvalidMapper)
	}
	return &Mapper{
		cfg:    cfg,
		scale:  [2]float64{float64(cfg.NX) * cfg.Increment[0], float64(cfg.NY) * cfg.Increment[1]},
		offset: [2]float64{float64(cfg.NX / 2), float64(cfg.NY / 2)},
	}, nil
}

// UVScale returns grid cells per wavelength along each axis.
func (m *Mapper) UVScale() [2]float64 { return m.scale }

// UVOffset returns the grid cell of zero spatial frequency.
func (m *Mapper) UVOffset() [2]float64 { return m.offset }

// Config returns the configuration the mapper was built from.
func (m *Mapper) Config() MapperConfig { return m.cfg }

// NeedsRotation reports whether data phased to dataCenter must be rotated to
// the image centre. Centres closer than one pixel on both axes are treated as
// equal; the longitude offset is measured on the sky, scaled by cos(lat).
func (m *Mapper) NeedsRotation(dataCenter Direction) bool {
	dLon := math.Abs(dataCenter.Lon-m.cfg.ImageCenter.Lon) * math.Cos(m.cfg.ImageCenter.Lat)
	dLat := math.Abs(dataCenter.Lat - m.cfg.ImageCenter.Lat)
	return dLon >= math.Abs(m.cfg.Increment[0]) || dLat >= math.Abs(m.cfg.Increment[1])
}

// Rotate reprojects uvw from dataCenter to the image centre and returns the
// rotated coordinates together with the per-row delay dphase (metres) that
// must be applied to the visibilities. dphase is w at the image centre minus
// w at the data centre; Locate turns it into exp(-2πi·dphase/λ).
func (m *Mapper) Rotate(uvw [][3]float64, dataCenter Direction) ([][3]float64, []float64) {
	out := make([][3]float64, len(uvw))
	dphase := make([]float64, len(uvw))
	if !m.NeedsRotation(dataCenter) {
		copy(out, uvw)
		return out, dphase
	}

	r := NewReprojector(dataCenter, m.cfg.ImageCenter)
	for i, row := range uvw {
		out[i] = r.Apply(row)
		dphase[i] = out[i][2] - row[2]
	}
	return out, dphase
}

// Refocus applies the near-field correction for an object at the configured
// distance. Antenna positions are recovered from the buffer's baselines by least
// squares, relative to the lowest-numbered first antenna. It does nothing in the
// far field.
func (m *Mapper) Refocus(uvw [][3]float64, ant1, ant2 []int, dphase []float64) error {
	dist := m.cfg.Distance
	if dist == 0 || len(uvw) == 0 {
		return nil
	}

	pos, err := antennaPositions(uvw, ant1, ant2)
	if err != nil {
		return err
	}

	for row := range uvw {
		p1, p2 := pos[ant1[row]], pos[ant2[row]]
		d1 := dist*dist - 2*dist*p1[2]
		d2 := dist*dist - 2*dist*p2[2]
		for d := 0; d < 3; d++ {
			d1 += p1[d] * p1[d]
			d2 += p2[d] * p2[d]
		}
		d1, d2 = math.Sqrt(d1), math.Sqrt(d2)
		for d := 0; d < 2; d++ {
			dphase[row] += (p1[d]*p1[d] - p2[d]*p2[d]) / (2 * dist)
		}
		uvw[row][0] = dist * (p1[0]/d1 - p2[0]/d2)
		uvw[row][1] = dist * (p1[1]/d1 - p2[1]/d2)
		uvw[row][2] = dist*(p1[2]/d1-p2[2]/d2) - dphase[row]
	}
	return nil
}

// antennaPositions solves uvw[row] = pos[ant1] - pos[ant2] in the least-squares
// sense with the reference antenna fixed at the origin.
func antennaPositions(uvw [][3]float64, ant1, ant2 []int) ([][3]float64, error) {
	nAnt := 0
	aref := ant1[0]
	for row := range uvw {
		nAnt = max(nAnt, ant1[row]+1, ant2[row]+1)
		aref = min(aref, ant1[row])
	}

	// Column index of every antenna that is an unknown.
	col := make([]int, nAnt)
	for i := range col {
		col[i] = -1
	}
	nUnknown := 0
	for row := range uvw {
		for _, a := range [2]int{ant1[row], ant2[row]} {
			if a != aref && col[a] < 0 {
				col[a] = nUnknown
				nUnknown++
			}
		}
	}

	pos := make([][3]float64, nAnt)
	if nUnknown == 0 {
		return pos, nil
	}
	if len(uvw) < nUnknown {
		return nil, fmt.Errorf("%w: %d baselines cannot fix %d antenna positions", ErrRefocus, len(uvw), nUnknown)
	}

	a := mat.NewDense(len(uvw), nUnknown, nil)
	b := mat.NewDense(len(uvw), 3, nil)
	for row := range uvw {
		if c := col[ant1[row]]; c >= 0 {
			a.Set(row, c, 1)
		}
		if c := col[ant2[row]]; c >= 0 {
			a.Set(row, c, a.At(row, c)-1)
		}
		for d := 0; d < 3; d++ {
			b.Set(row, d, uvw[row][d])
		}
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefocus, err)
	}
	for ant, c := range col {
		if c < 0 {
			continue
		}
		for d := 0; d < 3; d++ {
			pos[ant][d] = x.At(c, d)
		}
	}
	return pos, nil
}

// Prepare runs the full per-buffer coordinate pipeline: phase-centre rotation,
// refocus, and negation of u and v to match the image orientation.
func (m *Mapper) Prepare(uvw [][3]float64, dataCenter Direction, ant1, ant2 []int) ([][3]float64, []float64, error) {
	out, dphase := m.Rotate(uvw, dataCenter)
	if err := m.Refocus(out, ant1, ant2, dphase); err != nil {
		return nil, nil, err
	}
	for i := range out {
		out[i][0] = -out[i][0]
		out[i][1] = -out[i][1]
	}
	return out, dphase, nil
}

// Locate returns the fractional grid position of a prepared uvw at frequency
// freq (Hz) and the phasor that applies dphase to the visibility.
func (m *Mapper) Locate(uvw [3]float64, dphase, freq float64) ([2]float64, complex128) {
	f := freq / SpeedOfLight
	pos := [2]float64{
		m.scale[0]*uvw[0]*f + m.offset[0],
		m.scale[1]*uvw[1]*f + m.offset[1],
	}
	if dphase == 0 {
		return pos, 1
	}
	return pos, cmplx.Exp(complex(0, -2*math.Pi*dphase*f))
}
