package lattice

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvgrid/pkg/coords"
)

func TestShapeIndexing(t *testing.T) {
	s := Shape{NX: 4, NY: 3, NPol: 2, NChan: 5}
	assert.Equal(t, 10, s.Planes())
	assert.Equal(t, 120, s.Len())
	assert.Equal(t, 7, s.Plane(1, 3))
	assert.Equal(t, (7*3+2)*4+1, s.Index(1, 2, 7))
	assert.False(t, Shape{NX: 1}.Valid())
}

func TestCubeGetSliceAndPut(t *testing.T) {
	s := Shape{NX: 4, NY: 4, NPol: 1, NChan: 2}
	c, err := NewCube(s, Coordinates{})
	require.NoError(t, err)

	c.Set(1, 2, 0, 1, 5+1i)
	assert.Equal(t, 5+1i, c.At(1, 2, 0, 1))
	assert.Equal(t, 5+1i, c.PlaneView(0, 1)[2*4+1])

	sub, err := c.GetSlice(Shape{NX: 1, NY: 2, NPol: 0, NChan: 1}, Shape{NX: 2, NY: 1, NPol: 1, NChan: 1})
	require.NoError(t, err)
	assert.Equal(t, []complex128{5 + 1i, 0}, sub)

	_, err = c.GetSlice(Shape{NX: 3}, Shape{NX: 2, NY: 1, NPol: 1, NChan: 1})
	assert.ErrorIs(t, err, ErrShape)

	assert.ErrorIs(t, c.Put(make([]complex128, 3)), ErrShape)
	require.NoError(t, c.Put(make([]complex128, s.Len())))
	assert.Zero(t, c.At(1, 2, 0, 1))
}

func TestPhaseCenter(t *testing.T) {
	c := Coordinates{Increment: [2]float64{-0.001, 0.001}, ReferencePixel: [2]float64{4, 4}}
	pc := c.PhaseCenter(Shape{NX: 10, NY: 8, NPol: 1, NChan: 1})
	assert.InDelta(t, -0.001, pc.Lon, 1e-9)
	assert.InDelta(t, 0, pc.Lat, 1e-15)
}

func TestWorldIsOrthographic(t *testing.T) {
	ref := coords.NewDirectionDeg(30, 45)
	c := Coordinates{Increment: [2]float64{-0.002, 0.002}, ReferencePixel: [2]float64{32, 32}, Direction: ref}
	assert.Equal(t, ref, c.World(32, 32))

	// Ten pixels east at 45° spans about sqrt(2) times as much longitude.
	east := c.World(22, 32)
	assert.InDelta(t, 0.02*math.Sqrt2, east.Lon-ref.Lon, 1e-5)

	// Direction cosines about the reference recover the pixel offsets.
	for _, px := range [][2]float64{{22, 32}, {36, 35}, {40, 20}} {
		d := c.World(px[0], px[1])
		ra, dec := d.Lon-ref.Lon, d.Lat
		l := math.Cos(dec) * math.Sin(ra)
		m := math.Sin(dec)*math.Cos(ref.Lat) - math.Cos(dec)*math.Sin(ref.Lat)*math.Cos(ra)
		assert.InDelta(t, (px[0]-32)*-0.002, l, 1e-12, "pixel %v", px)
		assert.InDelta(t, (px[1]-32)*0.002, m, 1e-12, "pixel %v", px)
	}
}
