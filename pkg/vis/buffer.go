// Package vis defines the visibility buffer that the gridder consumes and the
// model column it writes back during prediction.
package vis

import (
	"errors"
	"fmt"

	"uvgrid/pkg/coords"
)

// ErrBadBuffer is returned by Validate for inconsistent buffer layouts.
var ErrBadBuffer = errors.New("vis: inconsistent buffer")

// Buffer is one chunk of rows from a single spectral window. Cube-shaped
// fields are flat, row-major [row][chan][corr]; ImagingWeight is [row][chan].
type Buffer struct {
	// SpectralWindow is the id of the spectral window of every row.
	SpectralWindow int

	// NewDataset marks the first buffer of a new underlying dataset; cached
	// channel matching is discarded when it is set.
	NewDataset bool

	// PhaseCenter is the direction the data are phased to.
	PhaseCenter coords.Direction

	// Correlations lists the polarization products along the corr axis.
	Correlations []Correlation

	// Frequencies holds the channel centre frequencies in Hz.
	Frequencies []float64

	// DopplerFactor scales Frequencies into the image frame when the
	// spectral window needs frame conversion. Zero means 1.
	DopplerFactor float64

	UVW      [][3]float64
	Antenna1 []int
	Antenna2 []int
	FlagRow  []bool

	Flag          []bool
	ImagingWeight []float32
	Data          []complex64

	// Model receives predicted visibilities. It is allocated by Get when nil.
	Model []complex64
}

// NewBuffer allocates a buffer with every cube and row field sized.
// Weights start at 1 and nothing is flagged.
func NewBuffer(nrow int, freqs []float64, corrs []Correlation) *Buffer {
	nchan, ncorr := len(freqs), len(corrs)
	b := &Buffer{
		Correlations:  append([]Correlation(nil), corrs...),
		Frequencies:   append([]float64(nil), freqs...),
		UVW:           make([][3]float64, nrow),
		Antenna1:      make([]int, nrow),
		Antenna2:      make([]int, nrow),
		FlagRow:       make([]bool, nrow),
		Flag:          make([]bool, nrow*nchan*ncorr),
		ImagingWeight: make([]float32, nrow*nchan),
		Data:          make([]complex64, nrow*nchan*ncorr),
	}
	for i := range b.ImagingWeight {
		b.ImagingWeight[i] = 1
	}
	return b
}

func (b *Buffer) NRow() int  { return len(b.UVW) }
func (b *Buffer) NChan() int { return len(b.Frequencies) }
func (b *Buffer) NCorr() int { return len(b.Correlations) }

// Index is the flat cube index of (row, chan, corr).
func (b *Buffer) Index(row, ch, corr int) int {
	return (row*b.NChan()+ch)*b.NCorr() + corr
}

// Weight returns the imaging weight of (row, chan).
func (b *Buffer) Weight(row, ch int) float32 {
	return b.ImagingWeight[row*b.NChan()+ch]
}

// FlagAll flags every sample of the buffer.
func (b *Buffer) FlagAll() {
	for i := range b.Flag {
		b.Flag[i] = true
	}
}

// ImageFrequencies returns the channel frequencies converted to the image
// frame with DopplerFactor.
func (b *Buffer) ImageFrequencies() []float64 {
	out := append([]float64(nil), b.Frequencies...)
	if b.DopplerFactor == 0 || b.DopplerFactor == 1 {
		return out
	}
	for i := range out {
		out[i] *= b.DopplerFactor
	}
	return out
}

// Validate checks that every field agrees with NRow, NChan and NCorr.
func (b *Buffer) Validate() error {
	nrow, nchan, ncorr := b.NRow(), b.NChan(), b.NCorr()
	if nchan == 0 || ncorr == 0 {
		return fmt.Errorf("%w: %d channels, %d correlations", ErrBadBuffer, nchan, ncorr)
	}
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"antenna1", len(b.Antenna1), nrow},
		{"antenna2", len(b.Antenna2), nrow},
		{"flag_row", len(b.FlagRow), nrow},
		{"flag", len(b.Flag), nrow * nchan * ncorr},
		{"imaging_weight", len(b.ImagingWeight), nrow * nchan},
		{"data", len(b.Data), nrow * nchan * ncorr},
	}
	for _, c := range checks {
		if c.got != c.want {
			return fmt.Errorf("%w: %s has %d elements, want %d", ErrBadBuffer, c.name, c.got, c.want)
		}
	}
	if b.Model != nil && len(b.Model) != nrow*nchan*ncorr {
		return fmt.Errorf("%w: model has %d elements, want %d", ErrBadBuffer, len(b.Model), nrow*nchan*ncorr)
	}
	return nil
}
