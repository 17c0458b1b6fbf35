// Package gridder is the numeric core of gridding: it scatters visibilities
// onto a grid store through the convolution kernel and gathers model
// visibilities back. Inputs cross the boundary as flat arrays so that an
// alternative implementation can replace Native without touching the engine.
package gridder

import (
	"errors"
	"fmt"

	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/kernel"
	"uvgrid/pkg/weights"
)

// ErrArgs is returned when argument arrays do not agree in length.
var ErrArgs = errors.New("gridder: inconsistent arguments")

// Gridder moves samples between visibilities and a grid.
type Gridder interface {
	Scatter(args ScatterArgs) error
	Gather(args GatherArgs) error
}

// Geometry is shared by Scatter and Gather.
type Geometry struct {
	NRow, NChan, NCorr int

	// UVW holds prepared coordinates in metres, 3 per row.
	UVW []float64

	// DPhase holds the per-row delay in metres.
	DPhase []float64

	// RowFlags has one entry per row and dominates Flags.
	RowFlags []bool

	// Flags is [row][chan][corr].
	Flags []bool

	Antenna1, Antenna2 []int

	// Freqs holds the channel frequencies in Hz.
	Freqs []float64

	// ChanMap and PolMap translate visibility axes onto image planes;
	// negative entries are skipped.
	ChanMap, PolMap []int

	Scale, Offset [2]float64

	Kernel kernel.Kernel
	Store  gridstore.Store

	UseAutocorrelations bool
}

// ScatterArgs are the inputs of a put.
type ScatterArgs struct {
	Geometry

	// Data is [row][chan][corr]. Ignored for a PSF.
	Data []complex64

	// Weights is [row][chan].
	Weights []float32

	// PSF grids unit visibilities instead of Data.
	PSF bool

	SumWeight *weights.Accumulator
	Stats     *Stats
}

// GatherArgs are the inputs of a get.
type GatherArgs struct {
	Geometry

	// Model is [row][chan][corr] and is fully overwritten.
	Model []complex64

	Stats *Stats
}

// Stats counts skipped samples. It is diagnostic only.
type Stats struct {
	Samples    int
	RowFlagged int
	Flagged    int
	OffGrid    int
	Autocorr   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Samples += o.Samples
	s.RowFlagged += o.RowFlagged
	s.Flagged += o.Flagged
	s.OffGrid += o.OffGrid
	s.Autocorr += o.Autocorr
}

func (g *Geometry) check() error {
	n := g.NRow * g.NChan * g.NCorr
	switch {
	case g.Store == nil:
		return fmt.Errorf("%w: nil store", ErrArgs)
	case g.Kernel.IsZero():
		return fmt.Errorf("%w: kernel not built", ErrArgs)
	case len(g.UVW) != 3*g.NRow || len(g.DPhase) != g.NRow || len(g.RowFlags) != g.NRow:
		return fmt.Errorf("%w: row arrays do not match %d rows", ErrArgs, g.NRow)
	case len(g.Antenna1) != g.NRow || len(g.Antenna2) != g.NRow:
		return fmt.Errorf("%w: antenna arrays do not match %d rows", ErrArgs, g.NRow)
	case len(g.Flags) != n:
		return fmt.Errorf("%w: %d flags, want %d", ErrArgs, len(g.Flags), n)
	case len(g.Freqs) != g.NChan || len(g.ChanMap) != g.NChan:
		return fmt.Errorf("%w: channel arrays do not match %d channels", ErrArgs, g.NChan)
	case len(g.PolMap) != g.NCorr:
		return fmt.Errorf("%w: polarization map does not match %d correlations", ErrArgs, g.NCorr)
	}
	return nil
}

// FlattenUVW converts row triples into the flat layout of Geometry.UVW.
func FlattenUVW(uvw [][3]float64) []float64 {
	out := make([]float64, 0, 3*len(uvw))
	for _, r := range uvw {
		out = append(out, r[0], r[1], r[2])
	}
	return out
}
