// Package kernel holds the tabulated, oversampled convolution kernel used to
// resample visibilities onto the uv grid and back.
package kernel

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownKernel is returned by ByName for an unregistered kernel type.
	ErrUnknownKernel = errors.New("kernel: unknown kernel type")

	// ErrInvalidKernel is returned when a generator reports unusable parameters.
	ErrInvalidKernel = errors.New("kernel: invalid kernel parameters")
)

// Kernel is an immutable lookup table sampled from a Generator. Two kernels
// built from the same generator parameters compare Equal and are interchangeable.
type Kernel struct {
	name     string
	support  int
	sampling int
	table    []float64
}

// New tabulates gen over (support+1)*sampling points.
func New(gen Generator) (Kernel, error) {
	if gen == nil {
		return Kernel{}, fmt.Errorf("%w: nil generator", ErrInvalidKernel)
	}
	support, sampling := gen.Support(), gen.Sampling()
	if support < 0 || sampling < 1 {
		return Kernel{}, fmt.Errorf("%w: support=%d sampling=%d", ErrInvalidKernel, support, sampling)
	}

	table := make([]float64, (support+1)*sampling)
	for i := range table {
		table[i] = gen.Value(float64(i) / float64(sampling))
	}
	if table[0] <= 0 {
		return Kernel{}, fmt.Errorf("%w: %s kernel is not positive at its centre", ErrInvalidKernel, gen.Name())
	}

	return Kernel{
		name:     gen.Name(),
		support:  support,
		sampling: sampling,
		table:    table,
	}, nil
}

// NewByName is New(ByName(name)).
func NewByName(name string) (Kernel, error) {
	gen, err := ByName(name)
	if err != nil {
		return Kernel{}, err
	}
	return New(gen)
}

func (k Kernel) Name() string  { return k.name }
func (k Kernel) Support() int  { return k.support }
func (k Kernel) Sampling() int { return k.sampling }

// IsZero reports whether k was never built.
func (k Kernel) IsZero() bool { return k.table == nil }

// Table returns a copy of the tabulated values.
func (k Kernel) Table() []float64 {
	out := make([]float64, len(k.table))
	copy(out, k.table)
	return out
}

// Location converts a fractional grid position into the nearest cell and the
// oversampled offset of the position within that cell.
func (k Kernel) Location(pos float64) (loc, off int) {
	loc = int(math.Round(pos))
	off = int(math.Round((float64(loc) - pos) * float64(k.sampling)))
	limit := k.sampling / 2
	if off > limit {
		off = limit
	} else if off < -limit {
		off = -limit
	}
	return loc, off
}

// OnGrid reports whether the full footprint centred on loc fits an axis of length n.
func (k Kernel) OnGrid(loc, n int) bool {
	return loc-k.support >= 0 && loc+k.support < n
}

// Lookup returns the table entry at index, or 0 beyond the table.
func (k Kernel) Lookup(index int) float64 {
	if index < 0 {
		index = -index
	}
	if index >= len(k.table) {
		return 0
	}
	return k.table[index]
}

// Weight is the kernel value for the cell ix cells from the centre cell of a
// sample with oversampled offset off.
func (k Kernel) Weight(ix, off int) float64 {
	return k.Lookup(k.sampling*ix + off)
}

// ImageDomainCorrection returns, for each of the n pixels of an image axis, the
// reciprocal of the kernel's image-domain footprint, normalised to 1 at pixel n/2.
// Pixels where the footprint vanishes get 0.
func (k Kernel) ImageDomainCorrection(n int) []float64 {
	corr := make([]float64, n)
	if n <= 0 {
		return corr
	}

	span := k.support * k.sampling
	s := float64(k.sampling)
	footprint := func(x float64) float64 {
		sum := k.table[0]
		for j := 1; j <= span; j++ {
			sum += 2 * k.table[j] * math.Cos(2*math.Pi*float64(j)/s*x/float64(n))
		}
		return sum
	}

	centre := footprint(0)
	for ix := range corr {
		f := footprint(float64(ix - n/2))
		if math.Abs(f) < 1e-12*math.Abs(centre) {
			continue
		}
		corr[ix] = centre / f
	}
	return corr
}

// Equal reports whether two kernels have identical parameters and tables.
func (k Kernel) Equal(o Kernel) bool {
	if k.name != o.name || k.support != o.support || k.sampling != o.sampling || len(k.table) != len(o.table) {
		return false
	}
	for i := range k.table {
		if k.table[i] != o.table[i] {
			return false
		}
	}
	return true
}
