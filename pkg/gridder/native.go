package gridder

import (
	"fmt"
	"math"
	"math/cmplx"

	"uvgrid/pkg/coords"
)

// Native is the pure-Go gridder. It keeps a scratch footprint between calls
// and is not safe for concurrent use.
type Native struct {
	footprint []float64
}

// NewNative returns a ready gridder.
func NewNative() *Native { return &Native{} }

// sample is one located (row, chan) sample.
type sample struct {
	locX, locY int
	phasor     complex128
	norm       float64
}

// locate maps (row, chan) onto the grid and fills the footprint weights.
// It returns false for off-grid samples.
func (n *Native) locate(g *Geometry, row, ch int) (sample, bool) {
	k := g.Kernel
	shape := g.Store.Shape()
	f := g.Freqs[ch] / coords.SpeedOfLight
	u, v := g.UVW[3*row], g.UVW[3*row+1]

	locX, offX := k.Location(g.Scale[0]*u*f + g.Offset[0])
	locY, offY := k.Location(g.Scale[1]*v*f + g.Offset[1])
	if !k.OnGrid(locX, shape.NX) || !k.OnGrid(locY, shape.NY) {
		return sample{}, false
	}

	s := k.Support()
	width := 2*s + 1
	if cap(n.footprint) < width*width {
		n.footprint = make([]float64, width*width)
	}
	n.footprint = n.footprint[:width*width]

	norm := 0.0
	for dy := -s; dy <= s; dy++ {
		wy := k.Weight(dy, offY)
		for dx := -s; dx <= s; dx++ {
			w := wy * k.Weight(dx, offX)
			n.footprint[(dy+s)*width+dx+s] = w
			norm += w
		}
	}
	if norm == 0 {
		return sample{}, false
	}

	phasor := complex128(1)
	if dp := g.DPhase[row]; dp != 0 {
		phasor = cmplx.Exp(complex(0, -2*math.Pi*dp*f))
	}
	return sample{locX: locX, locY: locY, phasor: phasor, norm: norm}, true
}

// Scatter adds every usable sample to the store, spread over the kernel
// footprint with weights normalised to sum to one and scaled by the imaging
// weight, and adds the imaging weight to SumWeight.
func (n *Native) Scatter(a ScatterArgs) error {
	g := &a.Geometry
	if err := g.check(); err != nil {
		return err
	}
	if len(a.Weights) != g.NRow*g.NChan {
		return fmt.Errorf("%w: %d weights, want %d", ErrArgs, len(a.Weights), g.NRow*g.NChan)
	}
	if !a.PSF && len(a.Data) != len(g.Flags) {
		return fmt.Errorf("%w: %d data values, want %d", ErrArgs, len(a.Data), len(g.Flags))
	}
	if a.SumWeight == nil {
		return fmt.Errorf("%w: nil weight accumulator", ErrArgs)
	}

	var st Stats
	npol := g.Store.Shape().NPol
	s := g.Kernel.Support()
	width := 2*s + 1

	for row := 0; row < g.NRow; row++ {
		if g.RowFlags[row] {
			st.RowFlagged++
			continue
		}
		if !g.UseAutocorrelations && g.Antenna1[row] == g.Antenna2[row] {
			st.Autocorr++
			continue
		}
		for ch := 0; ch < g.NChan; ch++ {
			ich := g.ChanMap[ch]
			if ich < 0 {
				continue
			}
			wt := float64(a.Weights[row*g.NChan+ch])
			if wt == 0 {
				continue
			}
			smp, ok := n.locate(g, row, ch)
			if !ok {
				st.OffGrid++
				continue
			}
			win, err := g.Store.Window(smp.locX, smp.locY, s)
			if err != nil {
				return err
			}

			base := (row*g.NChan + ch) * g.NCorr
			for corr := 0; corr < g.NCorr; corr++ {
				ipol := g.PolMap[corr]
				if ipol < 0 {
					continue
				}
				if g.Flags[base+corr] {
					st.Flagged++
					continue
				}
				val := complex(wt/smp.norm, 0)
				if !a.PSF {
					val *= complex128(a.Data[base+corr]) * smp.phasor
				}
				plane := ich*npol + ipol
				for dy := -s; dy <= s; dy++ {
					for dx := -s; dx <= s; dx++ {
						kw := n.footprint[(dy+s)*width+dx+s]
						if kw != 0 {
							win.Add(dx, dy, plane, val*complex(kw, 0))
						}
					}
				}
				a.SumWeight.Add(ipol, ich, wt)
				st.Samples++
			}
		}
	}

	if a.Stats != nil {
		a.Stats.Add(st)
	}
	return nil
}

// Gather interpolates the store at every usable sample and writes the result,
// with the phase rotation undone, into Model. Skipped samples are set to zero.
func (n *Native) Gather(a GatherArgs) error {
	g := &a.Geometry
	if err := g.check(); err != nil {
		return err
	}
	if len(a.Model) != len(g.Flags) {
		return fmt.Errorf("%w: model has %d values, want %d", ErrArgs, len(a.Model), len(g.Flags))
	}
	clear(a.Model)

	var st Stats
	npol := g.Store.Shape().NPol
	s := g.Kernel.Support()
	width := 2*s + 1

	for row := 0; row < g.NRow; row++ {
		if g.RowFlags[row] {
			st.RowFlagged++
			continue
		}
		if !g.UseAutocorrelations && g.Antenna1[row] == g.Antenna2[row] {
			st.Autocorr++
			continue
		}
		for ch := 0; ch < g.NChan; ch++ {
			ich := g.ChanMap[ch]
			if ich < 0 {
				continue
			}
			smp, ok := n.locate(g, row, ch)
			if !ok {
				st.OffGrid++
				continue
			}
			win, err := g.Store.Window(smp.locX, smp.locY, s)
			if err != nil {
				return err
			}

			base := (row*g.NChan + ch) * g.NCorr
			for corr := 0; corr < g.NCorr; corr++ {
				ipol := g.PolMap[corr]
				if ipol < 0 {
					continue
				}
				if g.Flags[base+corr] {
					st.Flagged++
					continue
				}
				plane := ich*npol + ipol
				var sum complex128
				for dy := -s; dy <= s; dy++ {
					for dx := -s; dx <= s; dx++ {
						if kw := n.footprint[(dy+s)*width+dx+s]; kw != 0 {
							sum += win.At(dx, dy, plane) * complex(kw, 0)
						}
					}
				}
				a.Model[base+corr] = complex64(sum / complex(smp.norm, 0) * cmplx.Conj(smp.phasor))
				st.Samples++
			}
		}
	}

	if a.Stats != nil {
		a.Stats.Add(st)
	}
	return nil
}
