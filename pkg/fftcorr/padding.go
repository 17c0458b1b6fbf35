package fftcorr

import (
	"fmt"
	"math"

	"uvgrid/pkg/lattice"
)

// PaddedSize returns the smallest even integer >= ceil(padding*size) whose
// only prime factors are 2, 3 and 5. A padding of 1 or less leaves size unchanged.
func PaddedSize(size int, padding float64) int {
	if padding <= 1 {
		return size
	}
	n := int(math.Ceil(padding * float64(size)))
	if n%2 != 0 {
		n++
	}
	for !smooth(n) {
		n += 2
	}
	return n
}

func smooth(n int) bool {
	for _, p := range [...]int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// ChooseGridSize returns the grid shape for an image. Padding is dropped when
// the padded grid would need more than cacheBytes; padded reports the outcome.
// A non-positive cacheBytes places no limit.
func ChooseGridSize(image lattice.Shape, padding float64, cacheBytes int64) (grid lattice.Shape, padded bool) {
	grid = image
	grid.NX = PaddedSize(image.NX, padding)
	grid.NY = PaddedSize(image.NY, padding)
	if grid == image {
		return grid, false
	}
	if cacheBytes > 0 && int64(grid.Len())*16 > cacheBytes {
		return image, false
	}
	return grid, true
}

func blc(n, imn int) int {
	even := 0
	if n%2 == 0 {
		even = 1
	}
	return (n - imn + even) / 2
}

func checkNest(grid, image lattice.Shape) error {
	if grid.NPol != image.NPol || grid.NChan != image.NChan || grid.NX < image.NX || grid.NY < image.NY {
		return fmt.Errorf("fftcorr: image %v does not fit grid %v", image, grid)
	}
	return nil
}

// ExtractCenter copies the image-sized centre of every grid plane.
func ExtractCenter(grid []complex128, gshape, ishape lattice.Shape) ([]complex128, error) {
	if err := checkNest(gshape, ishape); err != nil {
		return nil, err
	}
	out := make([]complex128, ishape.Len())
	x0, y0 := blc(gshape.NX, ishape.NX), blc(gshape.NY, ishape.NY)
	for p := 0; p < ishape.Planes(); p++ {
		for y := 0; y < ishape.NY; y++ {
			src := gshape.Index(x0, y0+y, p)
			copy(out[ishape.Index(0, y, p):ishape.Index(0, y, p)+ishape.NX], grid[src:src+ishape.NX])
		}
	}
	return out, nil
}

// EmbedCenter places an image in the centre of a zeroed grid.
func EmbedCenter(image []complex128, ishape, gshape lattice.Shape) ([]complex128, error) {
	if err := checkNest(gshape, ishape); err != nil {
		return nil, err
	}
	out := make([]complex128, gshape.Len())
	x0, y0 := blc(gshape.NX, ishape.NX), blc(gshape.NY, ishape.NY)
	for p := 0; p < ishape.Planes(); p++ {
		for y := 0; y < ishape.NY; y++ {
			dst := gshape.Index(x0, y0+y, p)
			copy(out[dst:dst+ishape.NX], image[ishape.Index(0, y, p):ishape.Index(0, y, p)+ishape.NX])
		}
	}
	return out, nil
}
