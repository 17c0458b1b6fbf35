package vis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferLayout(t *testing.T) {
	b := NewBuffer(3, []float64{1e9, 1.1e9}, []Correlation{XX, YY})

	require.NoError(t, b.Validate())
	assert.Equal(t, 3, b.NRow())
	assert.Equal(t, 2, b.NChan())
	assert.Equal(t, 2, b.NCorr())
	assert.Equal(t, 11, b.Index(2, 1, 1))
	assert.Equal(t, float32(1), b.Weight(2, 1))
}

func TestValidateDetectsMismatch(t *testing.T) {
	b := NewBuffer(2, []float64{1e9}, []Correlation{StokesI})
	b.Data = b.Data[:1]
	assert.ErrorIs(t, b.Validate(), ErrBadBuffer)

	empty := NewBuffer(1, nil, []Correlation{StokesI})
	assert.ErrorIs(t, empty.Validate(), ErrBadBuffer)
}

func TestImageFrequencies(t *testing.T) {
	b := NewBuffer(1, []float64{1e9, 2e9}, []Correlation{RR})
	assert.Equal(t, []float64{1e9, 2e9}, b.ImageFrequencies())

	b.DopplerFactor = 1.5
	assert.Equal(t, []float64{1.5e9, 3e9}, b.ImageFrequencies())
	assert.Equal(t, []float64{1e9, 2e9}, b.Frequencies, "source frequencies untouched")
}

func TestCorrelations(t *testing.T) {
	cs, err := ParseCorrelations([]string{"xx", "XY", "yy"})
	require.NoError(t, err)
	assert.Equal(t, []Correlation{XX, XY, YY}, cs)
	assert.True(t, XX.IsLinear())
	assert.True(t, LL.IsCircular())
	assert.True(t, YY.IsParallelHand())
	assert.False(t, XY.IsParallelHand())
	assert.Equal(t, "I", StokesI.String())

	_, err = ParseCorrelation("ZZ")
	assert.Error(t, err)
}
