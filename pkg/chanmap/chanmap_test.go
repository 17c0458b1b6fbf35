package chanmap

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvgrid/pkg/logging"
	"uvgrid/pkg/vis"
)

var fourChan = Spectral{RefPixel: 0, RefFreq: 1.0e9, Increment: 1.0e6, NChan: 4}

func TestSpectralChannel(t *testing.T) {
	assert.Equal(t, 0, fourChan.Channel(1.0e9))
	assert.Equal(t, 1, fourChan.Channel(1.0e9+0.6e6))
	assert.Equal(t, 3, fourChan.Channel(1.0e9+3.4e6))
	assert.Equal(t, NotSelected, fourChan.Channel(1.0e9+3.6e6))
	assert.Equal(t, NotSelected, fourChan.Channel(0.9e9))
	assert.InDelta(t, 1.002e9, fourChan.Frequency(2), 1e-3)

	assert.NoError(t, fourChan.Validate())
	assert.ErrorIs(t, Spectral{NChan: 1}.Validate(), ErrBadSpectral)
}

func TestBuildChannels(t *testing.T) {
	chans, found := BuildChannels(fourChan, []float64{0.5e9, 1.001e9, 1.003e9, 2e9})
	assert.Equal(t, []int{NotSelected, 1, 3, NotSelected}, chans)
	assert.Equal(t, 2, found)
}

func TestBuildPolarizationsDirect(t *testing.T) {
	pol, iOnly, err := BuildPolarizations(
		[]vis.Correlation{vis.XX, vis.YY},
		[]vis.Correlation{vis.XX, vis.XY, vis.YX, vis.YY})
	require.NoError(t, err)
	assert.False(t, iOnly)
	assert.Equal(t, []int{0, NotSelected, NotSelected, 1}, pol)
}

func TestBuildPolarizationsStokesI(t *testing.T) {
	pol, iOnly, err := BuildPolarizations(
		[]vis.Correlation{vis.StokesI},
		[]vis.Correlation{vis.RR, vis.RL, vis.LR, vis.LL})
	require.NoError(t, err)
	assert.True(t, iOnly)
	assert.Equal(t, []int{0, NotSelected, NotSelected, 0}, pol)

	_, _, err = BuildPolarizations([]vis.Correlation{vis.StokesQ}, []vis.Correlation{vis.XY})
	assert.ErrorIs(t, err, ErrNoPolarizationMatch)
}

func buffer(spw int, freqs []float64) *vis.Buffer {
	b := vis.NewBuffer(1, freqs, []vis.Correlation{vis.XX, vis.YY})
	b.SpectralWindow = spw
	return b
}

func TestMatcherReusesAndRebuilds(t *testing.T) {
	m := NewMatcher(fourChan, []vis.Correlation{vis.StokesI}, nil, nil)

	freqs := []float64{1.0e9, 1.001e9}
	mp, err := m.Map(buffer(0, freqs))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, mp.Chan)
	assert.True(t, mp.AnySelected())
	assert.Equal(t, 1, m.Builds())

	_, err = m.Map(buffer(0, freqs))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Builds(), "same spw reuses the cached map")

	_, err = m.Map(buffer(1, []float64{1.002e9, 1.003e9}))
	require.NoError(t, err)
	assert.Equal(t, 2, m.Builds(), "new spw builds")

	next := buffer(0, freqs)
	next.NewDataset = true
	_, err = m.Map(next)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Builds(), "buffer boundary forces a rebuild")

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 0, snap[0].Spw)
}

func TestMatcherFrameConversion(t *testing.T) {
	m := NewMatcher(fourChan, []vis.Correlation{vis.StokesI}, []int{5}, nil)

	b := buffer(5, []float64{1.0e9, 1.001e9})
	mp, err := m.Map(b)
	require.NoError(t, err)
	assert.True(t, mp.NeedsConversion)
	assert.Equal(t, []int{0, 1}, mp.Chan)

	// A later buffer of the same window with a different Doppler shift lands
	// on different image channels without a full rebuild.
	b2 := buffer(5, []float64{1.0e9, 1.001e9})
	b2.DopplerFactor = 1.002
	mp2, err := m.Map(b2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, mp2.Chan)
	assert.Equal(t, 1, m.Builds())

	// Cached entry is not mutated by the per-buffer conversion.
	cached, ok := m.Cached(5)
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, cached.Chan)
}

func TestMatcherWarnsOnceWithoutOverlap(t *testing.T) {
	var out bytes.Buffer
	m := NewMatcher(fourChan, []vis.Correlation{vis.StokesI}, nil, logging.NewText(&out, slog.LevelInfo))

	mp, err := m.Map(buffer(0, []float64{5e9}))
	require.NoError(t, err)
	assert.False(t, mp.AnySelected())
	_, err = m.Map(buffer(1, []float64{6e9}))
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out.String(), "no overlap in frequency"))
}

func TestMatcherRebuildsForNewCorrelations(t *testing.T) {
	m := NewMatcher(fourChan, []vis.Correlation{vis.StokesI}, nil, nil)

	freqs := []float64{1.0e9, 1.001e9}
	linear := buffer(0, freqs)
	mp, err := m.Map(linear)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, mp.Pol)

	// same spw and correlation count, different products
	circular := vis.NewBuffer(1, freqs, []vis.Correlation{vis.RR, vis.RL})
	mp, err = m.Map(circular)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Builds())
	assert.Equal(t, []int{0, NotSelected}, mp.Pol)
	assert.Equal(t, []vis.Correlation{vis.RR, vis.RL}, mp.Correlations)
}
