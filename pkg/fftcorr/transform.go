// Package fftcorr converts between the uv grid and the image: centred 2-D
// FFTs of every plane, weight normalisation and the image-domain correction
// for the gridding kernel.
package fftcorr

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/dsp/fourier"

	"uvgrid/pkg/kernel"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
)

// ErrGridShape is returned when a grid buffer does not match its shape.
var ErrGridShape = errors.New("fftcorr: grid buffer does not match shape")

// Transformer runs plane transforms in parallel. gonum FFT plans are not safe
// for concurrent use, so plans are pooled per length.
type Transformer struct {
	workers int
	log     *logging.Logger

	mu    sync.Mutex
	plans map[int]*sync.Pool
}

// NewTransformer bounds parallelism to workers planes; 0 means GOMAXPROCS.
func NewTransformer(workers int, log *logging.Logger) *Transformer {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Transformer{
		workers: workers,
		log:     logging.Or(log).WithComponent("fftcorr"),
		plans:   make(map[int]*sync.Pool),
	}
}

func (t *Transformer) pool(n int) *sync.Pool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.plans[n]
	if !ok {
		p = &sync.Pool{New: func() any { return fourier.NewCmplxFFT(n) }}
		t.plans[n] = p
	}
	return p
}

// direction of a 1-D transform.
type direction int

const (
	forward direction = iota
	inverse
)

// plane2D transforms one nx*ny plane in place, rows then columns, with the
// origin at pixel (nx/2, ny/2) on both sides. Transforms are unnormalised.
func (t *Transformer) plane2D(plane []complex128, nx, ny int, dir direction) {
	rowPool, colPool := t.pool(nx), t.pool(ny)
	rowFFT := rowPool.Get().(*fourier.CmplxFFT)
	colFFT := colPool.Get().(*fourier.CmplxFFT)
	defer rowPool.Put(rowFFT)
	defer colPool.Put(colFFT)

	buf := make([]complex128, max(nx, ny))
	res := make([]complex128, max(nx, ny))

	for y := 0; y < ny; y++ {
		row := plane[y*nx : (y+1)*nx]
		centred1D(rowFFT, buf[:nx], res[:nx], dir,
			func(i int) complex128 { return row[i] },
			func(i int, v complex128) { row[i] = v })
	}
	for x := 0; x < nx; x++ {
		centred1D(colFFT, buf[:ny], res[:ny], dir,
			func(i int) complex128 { return plane[i*nx+x] },
			func(i int, v complex128) { plane[i*nx+x] = v })
	}
}

// centred1D runs one transform of length n = len(buf) whose origin is at n/2.
func centred1D(fft *fourier.CmplxFFT, buf, res []complex128, dir direction, get func(int) complex128, set func(int, complex128)) {
	n := len(buf)
	c := n / 2
	for i := 0; i < n; i++ {
		buf[i] = get((i + c) % n)
	}
	if dir == forward {
		fft.Coefficients(res, buf)
	} else {
		fft.Sequence(res, buf)
	}
	for k := 0; k < n; k++ {
		set(k, res[(k+n-c)%n])
	}
}

func (t *Transformer) eachPlane(shape lattice.Shape, fn func(p int) error) error {
	var g errgroup.Group
	g.SetLimit(t.workers)
	for p := 0; p < shape.Planes(); p++ {
		g.Go(func() error { return fn(p) })
	}
	return g.Wait()
}

func applyCorrection(plane []complex128, cx, cy []float64) {
	nx := len(cx)
	for y, wy := range cy {
		row := plane[y*nx : (y+1)*nx]
		for x, wx := range cx {
			row[x] *= complex(wx*wy, 0)
		}
	}
}

// ToSky transforms the grid into the (padded) image in place.
//
// Parameters:
//   - grid: flat grid of shape, overwritten with the image
//   - shape: grid extent
//   - k: kernel whose image-domain taper is removed
//   - planeWeights: sum of weights per plane (plane = chan*npol + pol)
//   - normalize: divide every plane by its weight
//
// Returns:
//   - allZero: every plane weight was zero, so normalisation was skipped
//   - err: shape mismatch
//
// A plane with zero weight is zeroed when other planes carry weight.
func (t *Transformer) ToSky(grid []complex128, shape lattice.Shape, k kernel.Kernel, planeWeights []float64, normalize bool) (allZero bool, err error) {
	if len(grid) != shape.Len() {
		return false, fmt.Errorf("%w: %d values for %v", ErrGridShape, len(grid), shape)
	}
	if normalize && len(planeWeights) != shape.Planes() {
		return false, fmt.Errorf("%w: %d plane weights for %d planes", ErrGridShape, len(planeWeights), shape.Planes())
	}

	if normalize {
		allZero = true
		for _, w := range planeWeights {
			if w != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			t.log.Warn("sum of weights is zero, image is not normalized; perhaps no data was gridded")
			normalize = false
		}
	}

	cx := k.ImageDomainCorrection(shape.NX)
	cy := k.ImageDomainCorrection(shape.NY)
	n := shape.PlaneSize()

	err = t.eachPlane(shape, func(p int) error {
		plane := grid[p*n : (p+1)*n]
		if normalize && planeWeights[p] == 0 {
			clear(plane)
			return nil
		}
		t.plane2D(plane, shape.NX, shape.NY, inverse)
		if normalize {
			scale := complex(1/planeWeights[p], 0)
			for i := range plane {
				plane[i] *= scale
			}
		}
		applyCorrection(plane, cx, cy)
		return nil
	})
	return allZero, err
}

// ToVis transforms a padded image into the grid in place: kernel correction
// then a centred forward FFT of every plane.
func (t *Transformer) ToVis(image []complex128, shape lattice.Shape, k kernel.Kernel) error {
	if len(image) != shape.Len() {
		return fmt.Errorf("%w: %d values for %v", ErrGridShape, len(image), shape)
	}
	cx := k.ImageDomainCorrection(shape.NX)
	cy := k.ImageDomainCorrection(shape.NY)
	n := shape.PlaneSize()
	return t.eachPlane(shape, func(p int) error {
		plane := image[p*n : (p+1)*n]
		applyCorrection(plane, cx, cy)
		t.plane2D(plane, shape.NX, shape.NY, forward)
		return nil
	})
}
