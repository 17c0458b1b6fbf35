// Package simulate generates visibility buffers for a sky of point sources
// observed by a randomly placed array tracking the phase centre.
package simulate

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"uvgrid/pkg/coords"
	"uvgrid/pkg/vis"
)

// ErrConfig is returned by New for unusable parameters.
var ErrConfig = errors.New("simulate: invalid configuration")

// Source is a point source at direction cosines (L, M) from the phase centre.
// L increases to the east.
type Source struct {
	L, M float64
	Flux float64
}

// SourceAtOffset places a source at an (east, north) offset given in arcseconds.
func SourceAtOffset(eastArcsec, northArcsec, flux float64) Source {
	const arcsec = math.Pi / 180 / 3600
	return Source{L: eastArcsec * arcsec, M: northArcsec * arcsec, Flux: flux}
}

// Config describes the observation.
type Config struct {
	Antennas int

	// MaxBaseline is the diameter in metres of the disc the antennas lie in.
	MaxBaseline float64

	// Rows is the total number of rows. Rows are produced baseline by
	// baseline for successive hour angles.
	Rows int

	RowsPerBuffer int

	// HourAngleSpan is the total hour-angle coverage in radians.
	HourAngleSpan float64

	NoiseSigma   float64
	Seed         int64
	Correlations []vis.Correlation
	Frequencies  []float64
	PhaseCenter  coords.Direction
	Sources      []Source
}

// Simulator produces buffers until Rows have been generated.
type Simulator struct {
	cfg       Config
	rng       *rand.Rand
	antennas  [][2]float64
	baselines [][2]int
	row       int
}

// New places the antennas and enumerates the baselines.
func New(cfg Config) (*Simulator, error) {
	switch {
	case cfg.Antennas < 2:
		return nil, fmt.Errorf("%w: need at least 2 antennas", ErrConfig)
	case cfg.MaxBaseline <= 0:
		return nil, fmt.Errorf("%w: max baseline %g", ErrConfig, cfg.MaxBaseline)
	case cfg.Rows < 0 || cfg.RowsPerBuffer <= 0:
		return nil, fmt.Errorf("%w: rows %d per buffer %d", ErrConfig, cfg.Rows, cfg.RowsPerBuffer)
	case len(cfg.Correlations) == 0 || len(cfg.Frequencies) == 0:
		return nil, fmt.Errorf("%w: no correlations or channels", ErrConfig)
	}

	s := &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
	radius := cfg.MaxBaseline / 2
	for range cfg.Antennas {
		r := radius * math.Sqrt(s.rng.Float64())
		theta := 2 * math.Pi * s.rng.Float64()
		s.antennas = append(s.antennas, [2]float64{r * math.Cos(theta), r * math.Sin(theta)})
	}
	for a := 0; a < cfg.Antennas; a++ {
		for b := a + 1; b < cfg.Antennas; b++ {
			s.baselines = append(s.baselines, [2]int{a, b})
		}
	}
	return s, nil
}

// Baselines returns the number of antenna pairs.
func (s *Simulator) Baselines() int { return len(s.baselines) }

// Visibility is the noiseless response to sources at (u, v) metres and freq Hz.
func Visibility(sources []Source, u, v, freq float64) complex128 {
	var sum complex128
	f := freq / coords.SpeedOfLight
	for _, src := range sources {
		phase := 2 * math.Pi * (u*src.L + v*src.M) * f
		sum += complex(src.Flux, 0) * cmplx.Exp(complex(0, phase))
	}
	return sum
}

// Next returns the next buffer, or nil once every row has been produced.
func (s *Simulator) Next() *vis.Buffer {
	if s.row >= s.cfg.Rows {
		return nil
	}
	nrow := min(s.cfg.RowsPerBuffer, s.cfg.Rows-s.row)
	buf := vis.NewBuffer(nrow, s.cfg.Frequencies, s.cfg.Correlations)
	buf.PhaseCenter = s.cfg.PhaseCenter
	buf.NewDataset = s.row == 0

	nbl := len(s.baselines)
	steps := (s.cfg.Rows + nbl - 1) / nbl
	sinDec := math.Sin(s.cfg.PhaseCenter.Lat)
	for i := 0; i < nrow; i++ {
		r := s.row + i
		bl := s.baselines[r%nbl]
		ha := 0.0
		if steps > 1 {
			ha = s.cfg.HourAngleSpan * (float64(r/nbl)/float64(steps-1) - 0.5)
		}
		bx := s.antennas[bl[1]][0] - s.antennas[bl[0]][0]
		by := s.antennas[bl[1]][1] - s.antennas[bl[0]][1]
		u := bx*math.Cos(ha) - by*math.Sin(ha)
		v := (bx*math.Sin(ha) + by*math.Cos(ha)) * sinDec

		buf.UVW[i] = [3]float64{u, v, 0}
		buf.Antenna1[i] = bl[0]
		buf.Antenna2[i] = bl[1]
		for ch, freq := range s.cfg.Frequencies {
			model := Visibility(s.cfg.Sources, u, v, freq)
			for corr := range s.cfg.Correlations {
				val := model
				if s.cfg.NoiseSigma > 0 {
					val += complex(s.rng.NormFloat64()*s.cfg.NoiseSigma, s.rng.NormFloat64()*s.cfg.NoiseSigma)
				}
				buf.Data[buf.Index(i, ch, corr)] = complex64(val)
			}
		}
	}
	s.row += nrow
	return buf
}
