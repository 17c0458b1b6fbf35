// Package chanmap translates visibility channel and correlation indices into
// image-plane channel and polarization indices.
package chanmap

import (
	"errors"
	"fmt"
	"math"

	"uvgrid/pkg/vis"
)

// NotSelected marks a visibility channel or correlation with no image plane.
const NotSelected = -1

var (
	// ErrNoPolarizationMatch is returned when no visibility correlation maps
	// onto any image polarization plane.
	ErrNoPolarizationMatch = errors.New("chanmap: cannot find polarization map")

	// ErrBadSpectral is returned for an unusable spectral axis description.
	ErrBadSpectral = errors.New("chanmap: invalid spectral axis")
)

// Spectral is the linear frequency axis of the image.
type Spectral struct {
	RefPixel  float64 `yaml:"refPixel" json:"refPixel"`
	RefFreq   float64 `yaml:"refFreq" json:"refFreq"`
	Increment float64 `yaml:"increment" json:"increment"`
	NChan     int     `yaml:"nchan" json:"nchan"`
}

// Validate rejects a zero increment or empty axis.
func (s Spectral) Validate() error {
	if s.NChan <= 0 || s.Increment == 0 {
		return fmt.Errorf("%w: nchan=%d increment=%g", ErrBadSpectral, s.NChan, s.Increment)
	}
	return nil
}

// ToPixel returns the fractional channel of frequency f.
func (s Spectral) ToPixel(f float64) float64 {
	return (f-s.RefFreq)/s.Increment + s.RefPixel
}

// Frequency returns the centre frequency of image channel pix.
func (s Spectral) Frequency(pix int) float64 {
	return s.RefFreq + (float64(pix)-s.RefPixel)*s.Increment
}

// Channel rounds f to the nearest image channel, or NotSelected when it falls
// outside the axis.
func (s Spectral) Channel(f float64) int {
	pixel := int(math.Floor(s.ToPixel(f) + 0.5))
	if pixel < 0 || pixel >= s.NChan {
		return NotSelected
	}
	return pixel
}

// Map is the translation table for one spectral window.
type Map struct {
	Spw int

	// Chan maps visibility channel -> image channel or NotSelected.
	Chan []int

	// Pol maps visibility correlation -> image polarization plane or NotSelected.
	Pol []int

	// Correlations are the buffer products Pol was built for.
	Correlations []vis.Correlation

	// NeedsConversion is set when the spectral window's frequencies must be
	// converted to the image frame for every buffer.
	NeedsConversion bool

	// IOnly is set when parallel hands are combined into a Stokes I plane.
	IOnly bool
}

// AnySelected reports whether at least one channel maps onto the image.
func (m Map) AnySelected() bool {
	for _, c := range m.Chan {
		if c != NotSelected {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (m Map) Clone() Map {
	out := m
	out.Chan = append([]int(nil), m.Chan...)
	out.Pol = append([]int(nil), m.Pol...)
	if m.Correlations != nil {
		out.Correlations = append([]vis.Correlation(nil), m.Correlations...)
	}
	return out
}

// BuildChannels maps every visibility frequency onto axis and returns the map
// and the number of channels that landed on the image.
func BuildChannels(axis Spectral, freqs []float64) ([]int, int) {
	out := make([]int, len(freqs))
	found := 0
	for i, f := range freqs {
		out[i] = axis.Channel(f)
		if out[i] != NotSelected {
			found++
		}
	}
	return out, found
}

// BuildPolarizations maps visibility correlations onto the image planes.
// Direct matches are tried first; failing that, an image containing Stokes I
// receives the parallel hands of the data.
func BuildPolarizations(image, data []vis.Correlation) (pol []int, iOnly bool, err error) {
	pol = make([]int, len(data))
	found := false
	for i, c := range data {
		pol[i] = NotSelected
		for p, ic := range image {
			if ic == c {
				pol[i] = p
				found = true
				break
			}
		}
	}
	if found {
		return pol, false, nil
	}

	iPlane := NotSelected
	for p, ic := range image {
		if ic == vis.StokesI {
			iPlane = p
			break
		}
	}
	if iPlane != NotSelected {
		for i, c := range data {
			if c.IsParallelHand() {
				pol[i] = iPlane
				found = true
			}
		}
	}
	if !found {
		return nil, false, fmt.Errorf("%w: visibility polarizations %v, image %v", ErrNoPolarizationMatch, data, image)
	}
	return pol, true, nil
}
