package coords

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arcsec = math.Pi / 180 / 3600

func testMapper(t *testing.T, center Direction, distance float64) *Mapper {
	t.Helper()
	m, err := NewMapper(MapperConfig{
		NX:          128,
		NY:          64,
		Increment:   [2]float64{-arcsec, arcsec},
		ImageCenter: center,
		Distance:    distance,
	})
	require.NoError(t, err)
	return m
}

func TestNewMapperScaleOffset(t *testing.T) {
	m := testMapper(t, NewDirectionDeg(10, -30), 0)

	assert.InDelta(t, -128*arcsec, m.UVScale()[0], 1e-18)
	assert.InDelta(t, 64*arcsec, m.UVScale()[1], 1e-18)
	assert.Equal(t, [2]float64{64, 32}, m.UVOffset())

	_, err := NewMapper(MapperConfig{NX: 0, NY: 4, Increment: [2]float64{1, 1}})
	assert.ErrorIs(t, err, ErrInvalidMapper)
	_, err = NewMapper(MapperConfig{NX: 4, NY: 4})
	assert.ErrorIs(t, err, ErrInvalidMapper)
}

func TestLocate(t *testing.T) {
	m := testMapper(t, NewDirectionDeg(10, -30), 0)
	freq := 1.4e9

	pos, phasor := m.Locate([3]float64{0, 0, 0}, 0, freq)
	assert.Equal(t, [2]float64{64, 32}, pos)
	assert.Equal(t, complex128(1), phasor)

	u := 1000.0
	pos, _ = m.Locate([3]float64{u, -u, 0}, 0, freq)
	wantX := m.UVScale()[0]*u*freq/SpeedOfLight + 64
	wantY := -m.UVScale()[1]*u*freq/SpeedOfLight + 32
	assert.InDelta(t, wantX, pos[0], 1e-9)
	assert.InDelta(t, wantY, pos[1], 1e-9)

	// A delay of one wavelength is a full turn.
	lambda := SpeedOfLight / freq
	_, phasor = m.Locate([3]float64{}, lambda/4, freq)
	assert.InDelta(t, 0, real(phasor), 1e-12)
	assert.InDelta(t, -1, imag(phasor), 1e-12)
	assert.InDelta(t, 1, cmplx.Abs(phasor), 1e-12)
}

func TestRotateSameCenterIsIdentity(t *testing.T) {
	center := NewDirectionDeg(45, 20)
	m := testMapper(t, center, 0)

	uvw := [][3]float64{{100, 200, 3}, {-50, 10, -7}}
	out, dphase := m.Rotate(uvw, center)
	assert.Equal(t, uvw, out)
	assert.Equal(t, []float64{0, 0}, dphase)
	assert.False(t, m.NeedsRotation(Direction{Lon: center.Lon + arcsec/2, Lat: center.Lat}))
}

func TestNeedsRotationMeasuresOnSky(t *testing.T) {
	// 1.5" of longitude is 0.75" on the sky at latitude 60°, under one pixel.
	high := testMapper(t, NewDirectionDeg(45, 60), 0)
	assert.False(t, high.NeedsRotation(Direction{Lon: high.Config().ImageCenter.Lon + 1.5*arcsec, Lat: high.Config().ImageCenter.Lat}))

	equator := testMapper(t, NewDirectionDeg(45, 0), 0)
	assert.True(t, equator.NeedsRotation(Direction{Lon: equator.Config().ImageCenter.Lon + 1.5*arcsec}))
}

func TestRotateAcrossCenters(t *testing.T) {
	imageCenter := NewDirectionDeg(45, 20)
	dataCenter := NewDirectionDeg(45.1, 20.05)
	m := testMapper(t, imageCenter, 0)
	require.True(t, m.NeedsRotation(dataCenter))

	uvw := [][3]float64{{1200, -300, 45}}
	out, dphase := m.Rotate(uvw, dataCenter)

	// Rotation preserves baseline length.
	norm := func(v [3]float64) float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }
	assert.InDelta(t, norm(uvw[0]), norm(out[0]), 1e-9)
	assert.InDelta(t, out[0][2]-uvw[0][2], dphase[0], 1e-12)

	back := NewReprojector(imageCenter, dataCenter).Apply(out[0])
	for i := range back {
		assert.InDelta(t, uvw[0][i], back[i], 1e-9)
	}
}

func TestRefocusFarFieldNoop(t *testing.T) {
	m := testMapper(t, Direction{}, 0)
	uvw := [][3]float64{{10, 20, 30}}
	dphase := []float64{0.5}
	require.NoError(t, m.Refocus(uvw, []int{0}, []int{1}, dphase))
	assert.Equal(t, [][3]float64{{10, 20, 30}}, uvw)
	assert.Equal(t, []float64{0.5}, dphase)
}

func TestRefocusLargeDistanceApproachesFarField(t *testing.T) {
	m := testMapper(t, Direction{}, 1e12)
	// Antennas at (0,0), (-100,0) and (0,-100); uvw = pos[ant1] - pos[ant2].
	uvw := [][3]float64{{100, 0, 0}, {0, 100, 0}, {-100, 100, 0}}
	ant1 := []int{0, 0, 1}
	ant2 := []int{1, 2, 2}
	dphase := make([]float64, 3)
	orig := append([][3]float64(nil), uvw...)

	require.NoError(t, m.Refocus(uvw, ant1, ant2, dphase))
	for row := range uvw {
		for d := 0; d < 2; d++ {
			assert.InDelta(t, orig[row][d], uvw[row][d], 1e-3, "row %d dim %d", row, d)
		}
		assert.InDelta(t, 0, dphase[row], 1e-6)
	}
}

func TestPrepareNegatesUV(t *testing.T) {
	center := NewDirectionDeg(0, 0)
	m := testMapper(t, center, 0)
	out, _, err := m.Prepare([][3]float64{{1, 2, 3}}, center, []int{0}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, [3]float64{-1, -2, 3}, out[0])
}

func TestRefocusUnderdetermined(t *testing.T) {
	m := testMapper(t, Direction{}, 1e4)
	// Three unknown antennas, two baselines.
	err := m.Refocus([][3]float64{{1, 0, 0}, {0, 1, 0}}, []int{0, 2}, []int{1, 3}, []float64{0, 0})
	assert.ErrorIs(t, err, ErrRefocus)
}
