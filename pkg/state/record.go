// Package state saves and restores a gridding machine: a YAML or JSON header
// describing the machine, optionally followed by zstd-compressed image and uv
// grid payloads.
package state

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"uvgrid/internal/models"
	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/vis"
)

// Format identifies the header layout.
const Format = "uvgrid-state/1"

// Record is everything needed to resume accumulation or finalisation.
type Record struct {
	CacheSizeBytes      int64
	TileSize            int
	Kernel              string
	PhaseCenter         coords.Direction
	Observatory         [3]float64
	Distance            float64
	Padding             float64
	UseAutocorrelations bool
	MaxAbsData          float64

	CenterLoc [4]int
	OffsetLoc [4]int
	UVScale   [2]float64
	UVOffset  [2]float64
	Increment [2]float64

	GridShape  lattice.Shape
	ImageShape lattice.Shape

	Spectral chanmap.Spectral
	Stokes   []vis.Correlation

	// SumWeight is npol x nchan.
	SumWeight *mat.Dense

	ChannelMaps []chanmap.Map

	// Image is optional and laid out like lattice.Shape.Index over ImageShape.
	Image []complex128

	// Pass is "sky" or "vis" when the record was taken mid-pass, with Grid
	// holding the uv grid laid out over GridShape. It is "" or "idle" otherwise.
	Pass string
	Grid []complex128
}

func shapeDTO(s lattice.Shape) models.Shape {
	return models.Shape{NX: s.NX, NY: s.NY, NPol: s.NPol, NChan: s.NChan}
}

func shapeFromDTO(s models.Shape) lattice.Shape {
	return lattice.Shape{NX: s.NX, NY: s.NY, NPol: s.NPol, NChan: s.NChan}
}

func (r *Record) header() models.RecordHeader {
	h := models.RecordHeader{
		Format:              Format,
		CacheSizeBytes:      r.CacheSizeBytes,
		TileSize:            r.TileSize,
		Kernel:              r.Kernel,
		PhaseCenter:         models.Direction{Lon: r.PhaseCenter.Lon, Lat: r.PhaseCenter.Lat, Unit: "rad"},
		ObservatoryPosition: models.Position{X: r.Observatory[0], Y: r.Observatory[1], Z: r.Observatory[2], Unit: "m"},
		Distance:            r.Distance,
		Padding:             r.Padding,
		UseAutocorrelations: r.UseAutocorrelations,
		MaxAbsData:          r.MaxAbsData,
		CenterLoc:           r.CenterLoc,
		OffsetLoc:           r.OffsetLoc,
		UVScale:             r.UVScale,
		UVOffset:            r.UVOffset,
		Increment:           r.Increment,
		GridShape:           shapeDTO(r.GridShape),
		ImageShape:          shapeDTO(r.ImageShape),
		Pass:                r.Pass,
		Spectral: models.Spectral{
			RefPixel:  r.Spectral.RefPixel,
			RefFreq:   r.Spectral.RefFreq,
			Increment: r.Spectral.Increment,
			NChan:     r.Spectral.NChan,
		},
	}
	h.Stokes = correlationNames(r.Stokes)
	if r.SumWeight != nil {
		rows, cols := r.SumWeight.Dims()
		h.SumWeight = models.Matrix{Rows: rows, Cols: cols, Data: mat.DenseCopyOf(r.SumWeight).RawMatrix().Data}
	}
	for _, m := range r.ChannelMaps {
		h.ChannelMaps = append(h.ChannelMaps, models.ChannelMap{
			Spw:             m.Spw,
			Chan:            append([]int(nil), m.Chan...),
			Pol:             append([]int(nil), m.Pol...),
			Correlations:    correlationNames(m.Correlations),
			NeedsConversion: m.NeedsConversion,
			IOnly:           m.IOnly,
		})
	}
	return h
}

func fromHeader(h models.RecordHeader) (*Record, error) {
	if h.Format != Format {
		return nil, fmt.Errorf("%w: format %q", ErrFormat, h.Format)
	}
	r := &Record{
		CacheSizeBytes:      h.CacheSizeBytes,
		TileSize:            h.TileSize,
		Kernel:              h.Kernel,
		PhaseCenter:         coords.Direction{Lon: h.PhaseCenter.Lon, Lat: h.PhaseCenter.Lat},
		Observatory:         [3]float64{h.ObservatoryPosition.X, h.ObservatoryPosition.Y, h.ObservatoryPosition.Z},
		Distance:            h.Distance,
		Padding:             h.Padding,
		UseAutocorrelations: h.UseAutocorrelations,
		MaxAbsData:          h.MaxAbsData,
		CenterLoc:           h.CenterLoc,
		OffsetLoc:           h.OffsetLoc,
		UVScale:             h.UVScale,
		UVOffset:            h.UVOffset,
		Increment:           h.Increment,
		GridShape:           shapeFromDTO(h.GridShape),
		ImageShape:          shapeFromDTO(h.ImageShape),
		Pass:                h.Pass,
		Spectral: chanmap.Spectral{
			RefPixel:  h.Spectral.RefPixel,
			RefFreq:   h.Spectral.RefFreq,
			Increment: h.Spectral.Increment,
			NChan:     h.Spectral.NChan,
		},
	}
	stokes, err := vis.ParseCorrelations(h.Stokes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if len(stokes) > 0 {
		r.Stokes = stokes
	}
	switch unit := h.PhaseCenter.Unit; unit {
	case "", "rad":
	case "deg":
		r.PhaseCenter = coords.NewDirectionDeg(h.PhaseCenter.Lon, h.PhaseCenter.Lat)
	default:
		return nil, fmt.Errorf("%w: phase centre unit %q", ErrFormat, unit)
	}

	if sw := h.SumWeight; sw.Rows > 0 && sw.Cols > 0 {
		if len(sw.Data) != sw.Rows*sw.Cols {
			return nil, fmt.Errorf("%w: sumWeight has %d values for %dx%d", ErrFormat, len(sw.Data), sw.Rows, sw.Cols)
		}
		r.SumWeight = mat.NewDense(sw.Rows, sw.Cols, append([]float64(nil), sw.Data...))
	}
	for _, m := range h.ChannelMaps {
		mp := chanmap.Map{
			Spw:             m.Spw,
			Chan:            m.Chan,
			Pol:             m.Pol,
			NeedsConversion: m.NeedsConversion,
			IOnly:           m.IOnly,
		}
		if len(m.Correlations) > 0 {
			if mp.Correlations, err = vis.ParseCorrelations(m.Correlations); err != nil {
				return nil, fmt.Errorf("%w: channel map of spw %d: %v", ErrFormat, m.Spw, err)
			}
		}
		r.ChannelMaps = append(r.ChannelMaps, mp)
	}
	return r, nil
}

func correlationNames(cs []vis.Correlation) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}
