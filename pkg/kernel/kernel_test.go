package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"BOX", "sf", " Gauss "} {
		gen, err := ByName(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, gen.Name())
	}

	_, err := ByName("wproject")
	assert.ErrorIs(t, err, ErrUnknownKernel)
}

func TestNewTableLayout(t *testing.T) {
	k, err := NewByName("SF")
	require.NoError(t, err)

	assert.Equal(t, 3, k.Support())
	assert.Equal(t, 100, k.Sampling())
	assert.Len(t, k.Table(), 400)
	assert.InDelta(t, 1.0, k.Lookup(0), 1e-3)
	assert.Zero(t, k.Lookup(300), "spheroid vanishes at the support edge")
	assert.Zero(t, k.Lookup(10_000))

	// Monotonically decreasing across the support.
	tab := k.Table()
	for i := 1; i <= 300; i++ {
		assert.LessOrEqual(t, tab[i], tab[i-1]+1e-6, "index %d", i)
	}
}

func TestLocation(t *testing.T) {
	k, err := NewByName("SF")
	require.NoError(t, err)

	loc, off := k.Location(10.25)
	assert.Equal(t, 10, loc)
	assert.Equal(t, -25, off)

	loc, off = k.Location(10.5)
	assert.Equal(t, 11, loc)
	assert.Equal(t, 50, off)

	box, err := NewByName("BOX")
	require.NoError(t, err)
	loc, off = box.Location(3.5)
	assert.Equal(t, 4, loc)
	assert.Equal(t, 0, off, "box offsets clamp to the single table entry")
}

func TestOnGrid(t *testing.T) {
	k, err := NewByName("SF")
	require.NoError(t, err)

	assert.False(t, k.OnGrid(2, 64))
	assert.True(t, k.OnGrid(3, 64))
	assert.True(t, k.OnGrid(60, 64))
	assert.False(t, k.OnGrid(61, 64))
	assert.False(t, k.OnGrid(-1, 64))
}

func TestBoxCorrectionIsIdentity(t *testing.T) {
	k, err := New(Box{})
	require.NoError(t, err)

	for i, c := range k.ImageDomainCorrection(16) {
		assert.Equal(t, 1.0, c, "pixel %d", i)
	}
}

func TestSpheroidalCorrection(t *testing.T) {
	k, err := New(Spheroidal{})
	require.NoError(t, err)

	n := 64
	corr := k.ImageDomainCorrection(n)
	require.Len(t, corr, n)
	assert.InDelta(t, 1.0, corr[n/2], 1e-12)

	// The footprint tapers away from the centre so its reciprocal grows.
	assert.Greater(t, corr[n/2+16], corr[n/2+1])
	assert.Greater(t, corr[1], corr[n/4])
	// Symmetric about the centre.
	assert.InDelta(t, corr[n/2-10], corr[n/2+10], 1e-9)
	for _, c := range corr {
		assert.False(t, math.IsInf(c, 0) || math.IsNaN(c))
	}
}

func TestEqualValueSemantics(t *testing.T) {
	a, err := New(Gaussian{FWHM: 2})
	require.NoError(t, err)
	b, err := New(Gaussian{FWHM: 2})
	require.NoError(t, err)
	c, err := New(Gaussian{FWHM: 3})
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	// Table returns a copy.
	tab := a.Table()
	tab[0] = 42
	assert.True(t, a.Equal(b))
}

func TestInvalidGenerator(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidKernel)

	_, err = New(Gaussian{SupportLen: 2, FWHM: -1})
	assert.NoError(t, err, "non-positive width falls back to the default")
}

func TestSpheroid(t *testing.T) {
	assert.InDelta(t, 1.0, Spheroid(0), 1e-3)
	assert.Zero(t, Spheroid(1.5))
	assert.Greater(t, Spheroid(0.5), Spheroid(0.9))
}
