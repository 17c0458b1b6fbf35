package gridstore

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvgrid/internal/tilecodec"
	"uvgrid/pkg/lattice"
)

var testShape = lattice.Shape{NX: 32, NY: 32, NPol: 1, NChan: 2}

func newTestTiled(t *testing.T, residentTiles int, backing Backing) *Tiled {
	t.Helper()
	edge := 8 + 2*3
	tileBytes := int64(edge*edge*testShape.Planes()) * cellBytes
	s, err := NewTiled(Config{
		Shape:      testShape,
		CacheBytes: int64(residentTiles) * tileBytes,
		TileSize:   8,
		Backing:    backing,
	})
	require.NoError(t, err)
	require.NoError(t, s.Build(3))
	return s
}

// scatter writes the same pseudo-random footprints into every store.
func scatter(t *testing.T, n int, stores ...Store) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < n; i++ {
		cx, cy := 3+rng.Intn(26), 3+rng.Intn(26)
		plane := rng.Intn(testShape.Planes())
		v := complex(rng.NormFloat64(), rng.NormFloat64())
		for _, s := range stores {
			w, err := s.Window(cx, cy, 3)
			require.NoError(t, err)
			for dy := -3; dy <= 3; dy++ {
				for dx := -3; dx <= 3; dx++ {
					w.Add(dx, dy, plane, v*complex(float64(1+dx*dx+dy*dy), 0))
				}
			}
		}
	}
}

func TestMemoryWindow(t *testing.T) {
	m := NewMemory(testShape)
	require.NoError(t, m.Build(3))

	w, err := m.Window(10, 12, 3)
	require.NoError(t, err)
	w.Add(-3, 2, 1, 2+1i)

	got, err := m.Read(7, 14, 1)
	require.NoError(t, err)
	assert.Equal(t, 2+1i, got)
	assert.Equal(t, 2+1i, w.At(-3, 2, 1))

	_, err = m.Window(2, 12, 3)
	assert.ErrorIs(t, err, ErrOutsideCoverage)
	_, err = m.Window(10, 29, 3)
	assert.ErrorIs(t, err, ErrOutsideCoverage)

	grid, err := m.FFTable()
	require.NoError(t, err)
	assert.Equal(t, 2+1i, grid[testShape.Index(7, 14, 1)])

	require.NoError(t, m.Reset())
	got, _ = m.Read(7, 14, 1)
	assert.Zero(t, got)
}

func TestTiledMatchesMemory(t *testing.T) {
	for _, resident := range []int{1, 3, 64} {
		mem := NewMemory(testShape)
		backing := NewMemBacking(tilecodec.LZ4)
		tiled := newTestTiled(t, resident, backing)

		scatter(t, 400, mem, tiled)

		want, err := mem.FFTable()
		require.NoError(t, err)
		got, err := tiled.FFTable()
		require.NoError(t, err)
		require.Len(t, got, len(want))
		for i := range want {
			assert.InDelta(t, real(want[i]), real(got[i]), 1e-9, "resident=%d cell %d", resident, i)
			assert.InDelta(t, imag(want[i]), imag(got[i]), 1e-9, "resident=%d cell %d", resident, i)
		}

		// Read sums overlapping tiles.
		for _, c := range [][3]int{{7, 8, 0}, {8, 8, 1}, {15, 16, 0}, {20, 3, 1}} {
			v, err := tiled.Read(c[0], c[1], c[2])
			require.NoError(t, err)
			w := want[testShape.Index(c[0], c[1], c[2])]
			assert.InDelta(t, real(w), real(v), 1e-9)
		}

		st := tiled.Stats()
		assert.LessOrEqual(t, st.Resident, st.Capacity)
		if resident < 16 {
			assert.Positive(t, st.Evictions)
		}
	}
}

func TestEvictionFlushesDirtyTile(t *testing.T) {
	backing := NewMemBacking(tilecodec.None)
	s := newTestTiled(t, 1, backing)

	require.NoError(t, s.Accumulate(1, 1, 0, 5))
	puts, _ := backing.Counts()
	assert.Zero(t, puts)

	// A second tile evicts the first; it must be written out.
	require.NoError(t, s.Accumulate(20, 20, 0, 1))
	puts, _ = backing.Counts()
	assert.Equal(t, 1, puts)
	assert.Equal(t, 1, s.Stats().Persisted)

	v, err := s.Read(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, complex128(5), v)

	require.NoError(t, s.Accumulate(1, 1, 0, 2))
	v, err = s.Read(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, complex128(7), v)
}

func TestTiledRequiresBuild(t *testing.T) {
	s, err := NewTiled(Config{Shape: testShape, TileSize: 8, Backing: NewMemBacking(tilecodec.None)})
	require.NoError(t, err)

	_, err = s.Window(10, 10, 1)
	assert.ErrorIs(t, err, ErrNotBuilt)
	assert.ErrorIs(t, s.Accumulate(0, 0, 0, 1), ErrNotBuilt)
	_, err = s.FFTable()
	assert.ErrorIs(t, err, ErrNotBuilt)

	require.NoError(t, s.Build(2))
	assert.Equal(t, 2, s.Margin())
	_, err = s.Window(10, 10, 3)
	assert.ErrorIs(t, err, ErrOutsideCoverage)
}

func TestLoadReplicatesMargins(t *testing.T) {
	grid := make([]complex128, testShape.Len())
	for i := range grid {
		grid[i] = complex(float64(i), -float64(i))
	}

	s := newTestTiled(t, 2, NewMemBacking(tilecodec.Zstd))
	require.NoError(t, s.Load(grid))
	assert.Equal(t, 16, s.Stats().Persisted)

	// A window centred next to a tile edge sees its neighbour's cells.
	w, err := s.Window(8, 7, 3)
	require.NoError(t, err)
	for dy := -3; dy <= 3; dy++ {
		for dx := -3; dx <= 3; dx++ {
			assert.Equal(t, grid[testShape.Index(8+dx, 7+dy, 1)], w.At(dx, dy, 1))
		}
	}
	assert.Zero(t, s.Stats().Dirty, "reading windows after Load does not dirty tiles")

	v, err := s.Read(31, 31, 1)
	require.NoError(t, err)
	assert.Equal(t, grid[testShape.Index(31, 31, 1)], v)

	out, err := s.FFTable()
	require.NoError(t, err)
	assert.Equal(t, grid[testShape.Index(5, 5, 0)], out[testShape.Index(5, 5, 0)])
}

func TestSeedResumesAccumulation(t *testing.T) {
	ref := NewMemory(testShape)
	require.NoError(t, ref.Build(3))
	scatter(t, 40, ref)
	live, err := ref.FFTable()
	require.NoError(t, err)
	base := append([]complex128(nil), live...)

	mem := NewMemory(testShape)
	require.NoError(t, mem.Build(3))
	tiled := newTestTiled(t, 3, NewMemBacking(tilecodec.LZ4))
	for _, s := range []Store{mem, tiled} {
		require.NoError(t, s.Seed(base))
	}
	assert.Zero(t, tiled.Stats().Dirty)

	v, err := tiled.Read(8, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, base[testShape.Index(8, 7, 1)], v, "seeded margins do not double cells")

	scatter(t, 40, mem, tiled)
	assert.Positive(t, tiled.Stats().Dirty, "a seeded store stays writable")

	for _, s := range []Store{mem, tiled} {
		out, err := s.FFTable()
		require.NoError(t, err)
		for i := range base {
			assert.InDelta(t, 0, cmplx.Abs(out[i]-2*base[i]), 1e-9)
		}
	}

	assert.ErrorIs(t, tiled.Seed(base[:10]), ErrShape)
}

func TestPoisonedTileReadsZero(t *testing.T) {
	backing := NewMemBacking(tilecodec.None)
	s := newTestTiled(t, 1, backing)

	require.NoError(t, s.Accumulate(1, 1, 0, 9))
	require.NoError(t, s.Accumulate(20, 20, 0, 1))
	require.True(t, backing.Corrupt(0))

	v, err := s.Read(1, 1, 0)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, 1, s.Stats().Poisoned)
}

type failingBacking struct{ *MemBacking }

func (failingBacking) Put(uint32, []complex128) error { return assert.AnError }

func TestBackingFailureIsFatal(t *testing.T) {
	s := newTestTiled(t, 1, &failingBacking{NewMemBacking(tilecodec.None)})
	require.NoError(t, s.Accumulate(1, 1, 0, 1))
	err := s.Accumulate(20, 20, 0, 1)
	assert.ErrorIs(t, err, ErrBackingIO)
}

func TestBackings(t *testing.T) {
	data := make([]complex128, 50)
	for i := range data {
		data[i] = complex(float64(i), 1)
	}

	file, err := NewFileBacking(t.TempDir(), tilecodec.Zstd)
	require.NoError(t, err)
	peb, err := OpenPebbleBacking(t.TempDir(), tilecodec.LZ4)
	require.NoError(t, err)

	for name, b := range map[string]Backing{"memory": NewMemBacking(tilecodec.None), "file": file, "pebble": peb} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put(3, data))
			got := make([]complex128, len(data))
			require.NoError(t, b.Get(3, got))
			assert.Equal(t, data, got)

			assert.ErrorIs(t, b.Get(4, got), ErrTileMissing)
			assert.ErrorIs(t, b.Get(3, make([]complex128, 10)), ErrCorruptTile)
			require.NoError(t, b.Close())
		})
	}
}

func TestSelect(t *testing.T) {
	gridBytes := int64(testShape.Len()) * cellBytes

	s, strategy, err := Select(Config{Shape: testShape, CacheBytes: gridBytes, TileSize: 8})
	require.NoError(t, err)
	assert.Equal(t, StrategyMemory, strategy)
	assert.IsType(t, &Memory{}, s)

	s, strategy, err = Select(Config{Shape: testShape, CacheBytes: gridBytes / 4, TileSize: 8, Backing: NewMemBacking(tilecodec.None)})
	require.NoError(t, err)
	assert.Equal(t, StrategyTiled, strategy)
	assert.IsType(t, &Tiled{}, s)

	_, _, err = Select(Config{Shape: testShape, CacheBytes: gridBytes / 4, TileSize: 8})
	assert.Error(t, err)
}
