// Package lattice is the image collaborator: a 4-D complex cube
// (nx, ny, npol, nchan) with the sky coordinates needed to size the uv grid.
package lattice

import (
	"errors"
	"fmt"
	"math"

	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/vis"
)

// ErrShape is returned for slices or buffers that do not fit the cube.
var ErrShape = errors.New("lattice: shape mismatch")

// Shape is the extent of a 4-D cube. Planes are ordered chan-major:
// plane = chan*NPol + pol.
type Shape struct {
	NX    int `yaml:"nx" json:"nx"`
	NY    int `yaml:"ny" json:"ny"`
	NPol  int `yaml:"npol" json:"npol"`
	NChan int `yaml:"nchan" json:"nchan"`
}

// Planes is NPol*NChan.
func (s Shape) Planes() int { return s.NPol * s.NChan }

// PlaneSize is NX*NY.
func (s Shape) PlaneSize() int { return s.NX * s.NY }

// Len is the number of cells in the cube.
func (s Shape) Len() int { return s.PlaneSize() * s.Planes() }

// Plane returns the flat plane index of (pol, chan).
func (s Shape) Plane(pol, ch int) int { return ch*s.NPol + pol }

// Index returns the flat cell index of (x, y, plane).
func (s Shape) Index(x, y, plane int) int { return (plane*s.NY+y)*s.NX + x }

// Valid reports whether every extent is positive.
func (s Shape) Valid() bool { return s.NX > 0 && s.NY > 0 && s.NPol > 0 && s.NChan > 0 }

func (s Shape) String() string {
	return fmt.Sprintf("[%d %d %d %d]", s.NX, s.NY, s.NPol, s.NChan)
}

// Coordinates carries the sky axes of an image.
type Coordinates struct {
	// Increment is the pixel size in radians. The RA axis is normally negative.
	Increment [2]float64

	// ReferencePixel is the pixel at which Direction applies.
	ReferencePixel [2]float64

	// Direction is the sky position of ReferencePixel.
	Direction coords.Direction

	Spectral chanmap.Spectral
	Stokes   []vis.Correlation
}

// PhaseCenter returns the world direction of pixel (nx/2, ny/2).
func (c Coordinates) PhaseCenter(s Shape) coords.Direction {
	return c.World(float64(s.NX/2), float64(s.NY/2))
}

// World returns the direction of pixel (x, y) under the orthographic (SIN)
// projection about Direction at ReferencePixel.
func (c Coordinates) World(x, y float64) coords.Direction {
	l := (x - c.ReferencePixel[0]) * c.Increment[0]
	m := (y - c.ReferencePixel[1]) * c.Increment[1]
	if l == 0 && m == 0 {
		return c.Direction
	}
	n := math.Sqrt(max(0, 1-l*l-m*m))
	sd, cd := math.Sincos(c.Direction.Lat)
	return coords.Direction{
		Lon: c.Direction.Lon + math.Atan2(l, n*cd-m*sd),
		Lat: math.Asin(m*cd + n*sd),
	}
}

// Image is the contract the engine needs from an image.
type Image interface {
	Shape() Shape
	Coordinates() Coordinates

	// GetSlice copies the sub-cube starting at start with extent shape.
	GetSlice(start, shape Shape) ([]complex128, error)

	// Put replaces the whole cube.
	Put(data []complex128) error
}
