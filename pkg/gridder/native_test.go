package gridder

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/kernel"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/weights"
)

var shape = lattice.Shape{NX: 64, NY: 64, NPol: 1, NChan: 1}

// geometry builds single-channel, single-correlation rows at frequency c, so
// that u in metres maps straight to u cells from the grid centre.
func geometry(t *testing.T, k string, uvw [][3]float64) (Geometry, *gridstore.Memory) {
	t.Helper()
	kern, err := kernel.NewByName(k)
	require.NoError(t, err)
	store := gridstore.NewMemory(shape)
	nrow := len(uvw)
	g := Geometry{
		NRow: nrow, NChan: 1, NCorr: 1,
		UVW:      FlattenUVW(uvw),
		DPhase:   make([]float64, nrow),
		RowFlags: make([]bool, nrow),
		Flags:    make([]bool, nrow),
		Antenna1: make([]int, nrow),
		Antenna2: make([]int, nrow),
		Freqs:    []float64{coords.SpeedOfLight},
		ChanMap:  []int{0},
		PolMap:   []int{0},
		Scale:    [2]float64{1, 1},
		Offset:   [2]float64{32, 32},
		Kernel:   kern,
		Store:    store,
	}
	for i := range g.Antenna2 {
		g.Antenna2[i] = 1
	}
	return g, store
}

func ones(n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func gridSum(t *testing.T, s gridstore.Store) complex128 {
	data, err := s.FFTable()
	require.NoError(t, err)
	var sum complex128
	for _, v := range data {
		sum += v
	}
	return sum
}

func TestScatterConservesWeight(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	uvw := make([][3]float64, 200)
	for i := range uvw {
		uvw[i] = [3]float64{rng.Float64()*40 - 20, rng.Float64()*40 - 20, 0}
	}
	g, store := geometry(t, "SF", uvw)

	w := make([]float32, len(uvw))
	total := 0.0
	for i := range w {
		w[i] = float32(0.5 + rng.Float64())
		total += float64(w[i])
	}

	acc := weights.New(1, 1)
	var st Stats
	require.NoError(t, NewNative().Scatter(ScatterArgs{Geometry: g, Weights: w, PSF: true, SumWeight: acc, Stats: &st}))

	assert.Equal(t, len(uvw), st.Samples)
	assert.InDelta(t, total, acc.Total(), 1e-9)
	sum := gridSum(t, store)
	assert.InDelta(t, total, real(sum), 1e-6)
	assert.InDelta(t, 0, imag(sum), 1e-9)
}

func TestScatterSkipsOffGrid(t *testing.T) {
	g, store := geometry(t, "SF", [][3]float64{{30, 0, 0}, {-31, 0, 0}, {0, 5, 0}})
	acc := weights.New(1, 1)
	var st Stats
	data := []complex64{1, 1, 1}
	require.NoError(t, NewNative().Scatter(ScatterArgs{Geometry: g, Data: data, Weights: ones(3), SumWeight: acc, Stats: &st}))

	assert.Equal(t, 2, st.OffGrid)
	assert.Equal(t, 1, st.Samples)
	assert.Equal(t, 1.0, acc.Total())
	assert.InDelta(t, 1, real(gridSum(t, store)), 1e-9)
}

func TestAutocorrelations(t *testing.T) {
	g, store := geometry(t, "BOX", [][3]float64{{1, 1, 0}, {2, 2, 0}})
	g.Antenna2[0] = 0 // row 0 is an autocorrelation

	acc := weights.New(1, 1)
	var st Stats
	n := NewNative()
	require.NoError(t, n.Scatter(ScatterArgs{Geometry: g, Data: []complex64{3, 5}, Weights: ones(2), SumWeight: acc, Stats: &st}))
	assert.Equal(t, 1, st.Autocorr)
	assert.Equal(t, complex128(5), gridSum(t, store))

	require.NoError(t, store.Reset())
	acc.Reset()
	g.UseAutocorrelations = true
	require.NoError(t, n.Scatter(ScatterArgs{Geometry: g, Data: []complex64{3, 5}, Weights: ones(2), SumWeight: acc}))
	assert.Equal(t, complex128(8), gridSum(t, store))
	assert.Equal(t, 2.0, acc.Total())
}

func TestRowFlagDominates(t *testing.T) {
	g, store := geometry(t, "BOX", [][3]float64{{1, 1, 0}, {2, 2, 0}})
	g.RowFlags[0] = true
	g.Flags[0] = false

	acc := weights.New(1, 1)
	var st Stats
	n := NewNative()
	require.NoError(t, n.Scatter(ScatterArgs{Geometry: g, Data: []complex64{3, 5}, Weights: ones(2), SumWeight: acc, Stats: &st}))
	assert.Equal(t, 1, st.RowFlagged)
	assert.Equal(t, complex128(5), gridSum(t, store))

	model := []complex64{9, 9}
	require.NoError(t, n.Gather(GatherArgs{Geometry: g, Model: model}))
	assert.Equal(t, complex64(0), model[0])
	assert.Equal(t, complex64(5), model[1])
}

func TestChannelFlagSkipsSample(t *testing.T) {
	g, store := geometry(t, "BOX", [][3]float64{{1, 1, 0}})
	g.Flags[0] = true
	acc := weights.New(1, 1)
	var st Stats
	require.NoError(t, NewNative().Scatter(ScatterArgs{Geometry: g, Data: []complex64{3}, Weights: ones(1), SumWeight: acc, Stats: &st}))
	assert.Equal(t, 1, st.Flagged)
	assert.True(t, acc.AllZero())
	assert.Zero(t, gridSum(t, store))
}

func TestGatherConstantGrid(t *testing.T) {
	g, store := geometry(t, "SF", [][3]float64{{3.3, -7.8, 0}, {0, 0, 0}, {40, 0, 0}})
	g.DPhase[0] = 0.25

	grid := make([]complex128, shape.Len())
	for i := range grid {
		grid[i] = 2 - 1i
	}
	require.NoError(t, store.Load(grid))

	model := make([]complex64, 3)
	var st Stats
	require.NoError(t, NewNative().Gather(GatherArgs{Geometry: g, Model: model, Stats: &st}))

	// dphase 0.25 m at one wavelength per metre is a quarter turn.
	want0 := (2 - 1i) * cmplx.Conj(cmplx.Exp(complex(0, -2*math.Pi*0.25)))
	assert.InDelta(t, real(want0), real(model[0]), 1e-6)
	assert.InDelta(t, imag(want0), imag(model[0]), 1e-6)
	assert.InDelta(t, 2, real(model[1]), 1e-6)
	assert.Equal(t, complex64(0), model[2], "off-grid samples predict zero")
	assert.Equal(t, 1, st.OffGrid)
}

func TestScatterPhasor(t *testing.T) {
	g, store := geometry(t, "BOX", [][3]float64{{4, -2, 0}})
	g.DPhase[0] = 0.5

	acc := weights.New(1, 1)
	n := NewNative()
	require.NoError(t, n.Scatter(ScatterArgs{Geometry: g, Data: []complex64{1}, Weights: ones(1), SumWeight: acc}))

	v, err := store.Read(36, 30, 0)
	require.NoError(t, err)
	assert.InDelta(t, -1, real(v), 1e-9, "half a wavelength of delay flips the sign")

	model := make([]complex64, 1)
	require.NoError(t, n.Gather(GatherArgs{Geometry: g, Model: model}))
	assert.InDelta(t, 1, real(model[0]), 1e-6)
}

func TestArgumentChecks(t *testing.T) {
	g, _ := geometry(t, "BOX", [][3]float64{{1, 1, 0}})
	err := NewNative().Scatter(ScatterArgs{Geometry: g, Weights: nil, SumWeight: weights.New(1, 1)})
	assert.ErrorIs(t, err, ErrArgs)

	g.PolMap = nil
	err = NewNative().Gather(GatherArgs{Geometry: g, Model: make([]complex64, 1)})
	assert.ErrorIs(t, err, ErrArgs)
}
