// Package weights accumulates the sum of imaging weights per polarization and
// channel during a gridding pass.
package weights

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accumulator is an npol x nchan matrix of weight sums. Entries only grow
// between resets.
type Accumulator struct {
	npol, nchan int
	sums        *mat.Dense
}

// New returns a zeroed accumulator.
func New(npol, nchan int) *Accumulator {
	if npol <= 0 || nchan <= 0 {
		panic(fmt.Sprintf("weights: invalid shape %dx%d", npol, nchan))
	}
	return &Accumulator{npol: npol, nchan: nchan, sums: mat.NewDense(npol, nchan, nil)}
}

// Dims returns (npol, nchan).
func (a *Accumulator) Dims() (int, int) { return a.npol, a.nchan }

// Add adds w to the (pol, chan) entry.
func (a *Accumulator) Add(pol, ch int, w float64) {
	a.sums.Set(pol, ch, a.sums.At(pol, ch)+w)
}

func (a *Accumulator) At(pol, ch int) float64 { return a.sums.At(pol, ch) }

// Reset zeroes every entry.
func (a *Accumulator) Reset() { a.sums.Zero() }

// AllZero reports whether no weight has been accumulated.
func (a *Accumulator) AllZero() bool {
	for _, v := range a.sums.RawMatrix().Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// PlaneSum returns the weight of every image plane in plane order
// (plane = chan*npol + pol).
func (a *Accumulator) PlaneSum() []float64 {
	out := make([]float64, a.npol*a.nchan)
	for ch := 0; ch < a.nchan; ch++ {
		for pol := 0; pol < a.npol; pol++ {
			out[ch*a.npol+pol] = a.sums.At(pol, ch)
		}
	}
	return out
}

// Total is the sum over all entries.
func (a *Accumulator) Total() float64 {
	return floats.Sum(a.sums.RawMatrix().Data)
}

// Matrix returns a copy of the sums.
func (a *Accumulator) Matrix() *mat.Dense {
	return mat.DenseCopyOf(a.sums)
}

// SetMatrix replaces the sums with m, which must be npol x nchan.
func (a *Accumulator) SetMatrix(m mat.Matrix) error {
	r, c := m.Dims()
	if r != a.npol || c != a.nchan {
		return fmt.Errorf("weights: matrix is %dx%d, want %dx%d", r, c, a.npol, a.nchan)
	}
	a.sums.Copy(m)
	return nil
}
