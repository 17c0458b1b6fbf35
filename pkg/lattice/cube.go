package lattice

import "fmt"

// Cube is an in-memory Image. It owns its data.
type Cube struct {
	shape  Shape
	coords Coordinates
	data   []complex128
}

// NewCube allocates a zeroed cube.
func NewCube(shape Shape, c Coordinates) (*Cube, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrShape, shape)
	}
	return &Cube{shape: shape, coords: c, data: make([]complex128, shape.Len())}, nil
}

func (c *Cube) Shape() Shape             { return c.shape }
func (c *Cube) Coordinates() Coordinates { return c.coords }

// Data returns the backing slice. It is a view, not a copy.
func (c *Cube) Data() []complex128 { return c.data }

// At returns the value of one cell.
func (c *Cube) At(x, y, pol, ch int) complex128 {
	return c.data[c.shape.Index(x, y, c.shape.Plane(pol, ch))]
}

// Set stores the value of one cell.
func (c *Cube) Set(x, y, pol, ch int, v complex128) {
	c.data[c.shape.Index(x, y, c.shape.Plane(pol, ch))] = v
}

// PlaneView returns the plane of (pol, chan) as a view.
func (c *Cube) PlaneView(pol, ch int) []complex128 {
	n := c.shape.PlaneSize()
	p := c.shape.Plane(pol, ch)
	return c.data[p*n : (p+1)*n]
}

// Put copies data into the cube.
func (c *Cube) Put(data []complex128) error {
	if len(data) != len(c.data) {
		return fmt.Errorf("%w: put %d values into %v", ErrShape, len(data), c.shape)
	}
	copy(c.data, data)
	return nil
}

// GetSlice copies a sub-cube.
func (c *Cube) GetSlice(start, shape Shape) ([]complex128, error) {
	end := Shape{
		NX:    start.NX + shape.NX,
		NY:    start.NY + shape.NY,
		NPol:  start.NPol + shape.NPol,
		NChan: start.NChan + shape.NChan,
	}
	if start.NX < 0 || start.NY < 0 || start.NPol < 0 || start.NChan < 0 ||
		end.NX > c.shape.NX || end.NY > c.shape.NY || end.NPol > c.shape.NPol || end.NChan > c.shape.NChan {
		return nil, fmt.Errorf("%w: slice %v+%v outside %v", ErrShape, start, shape, c.shape)
	}

	out := make([]complex128, 0, shape.Len())
	for ch := start.NChan; ch < end.NChan; ch++ {
		for pol := start.NPol; pol < end.NPol; pol++ {
			plane := c.shape.Plane(pol, ch)
			for y := start.NY; y < end.NY; y++ {
				row := c.shape.Index(start.NX, y, plane)
				out = append(out, c.data[row:row+shape.NX]...)
			}
		}
	}
	return out, nil
}
