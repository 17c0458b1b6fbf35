package reconstruction

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridft"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/logging"
	"uvgrid/pkg/simulate"
	"uvgrid/pkg/state"
	"uvgrid/pkg/vis"
	"uvgrid/pkg/visualization"
)

// Metrics holds the quality figures of one reconstruction run.
type Metrics struct {
	// Peak is the largest real value of the first dirty image plane, at
	// pixel (PeakX, PeakY).
	Peak         float64
	PeakX, PeakY int

	// ImageRMS is the standard deviation of the first dirty image plane.
	ImageRMS float64

	// PSFPeak is the centre value of the first PSF plane; 1 when normalised.
	PSFPeak float64

	// SumWeight is the total gridded weight over all planes.
	SumWeight float64

	// Samples is the number of gridded visibilities.
	Samples int

	// ResidualMean and ResidualRMS describe |data - model| over the unflagged
	// samples, where model is predicted from the true sky.
	ResidualMean float64
	ResidualRMS  float64

	// ModelCorrelation is the correlation of the real parts of data and model.
	ModelCorrelation float64

	Strategy  string
	GridBytes uint64
	Duration  time.Duration
}

// Params holds the reconstruction parameters.
type Params struct {
	// Grid configures the gridding machine.
	Grid gridft.Config

	// Options are passed through to gridft.New.
	Options []gridft.Option

	// Shape and Coordinates describe the image cube.
	Shape       lattice.Shape
	Coordinates lattice.Coordinates

	// Simulation describes the observed sky and array. Its phase centre and
	// frequencies are filled from the image when unset.
	Simulation simulate.Config

	// OutputDir receives the image planes and the state record. Nothing is
	// written when it is empty.
	OutputDir string

	// ImageFormat is png or jpeg.
	ImageFormat string

	SaveState     bool
	StateEncoding state.Encoding

	Log *logging.Logger
}

// Reconstructor runs the imaging pipeline:
// 1. Simulating visibilities for the configured sky
// 2. Gridding them into a normalised dirty image
// 3. Gridding unit visibilities into the point spread function
// 4. Predicting visibilities from the true sky and forming residuals
// 5. Writing image planes and the machine state
type Reconstructor struct {
	params *Params
	log    *logging.Logger

	buffers []*vis.Buffer

	dirty *lattice.Cube
	psf   *lattice.Cube
	model *lattice.Cube

	statePath string
	images    []string
	metrics   Metrics
}

// NewReconstructor creates a new reconstructor instance with the provided parameters.
func NewReconstructor(params *Params) *Reconstructor {
	return &Reconstructor{
		params: params,
		log:    logging.Or(params.Log).WithComponent("reconstruction"),
	}
}

// Process runs the complete pipeline. It stops between buffers when ctx is
// cancelled.
//
// Parameters:
//   - ctx: Cancels the run between buffers
//
// Returns:
//   - An error if any stage fails; metrics are valid only after a nil return
func (r *Reconstructor) Process(ctx context.Context) error {
	start := time.Now()
	p := r.params

	var err error
	if r.dirty, err = lattice.NewCube(p.Shape, p.Coordinates); err != nil {
		return fmt.Errorf("failed to allocate dirty image: %w", err)
	}
	if r.psf, err = lattice.NewCube(p.Shape, p.Coordinates); err != nil {
		return fmt.Errorf("failed to allocate psf image: %w", err)
	}

	m, err := gridft.New(p.Grid, append([]gridft.Option{gridft.WithLogger(p.Log)}, p.Options...)...)
	if err != nil {
		return fmt.Errorf("failed to create gridding machine: %w", err)
	}
	defer m.Close()

	r.log.Info("step 1: simulating visibilities")
	if err := r.simulate(ctx); err != nil {
		return fmt.Errorf("failed to simulate visibilities: %w", err)
	}

	r.log.Info("step 2: gridding dirty image")
	if err := r.image(ctx, m, r.dirty, false); err != nil {
		return fmt.Errorf("failed to make dirty image: %w", err)
	}
	r.metrics.Samples = m.Stats().Samples
	r.metrics.Strategy = m.Strategy().String()
	r.metrics.GridBytes = uint64(m.GridShape().Len()) * 16
	r.metrics.SumWeight = floats.Sum(m.SumWeight().RawMatrix().Data)
	if p.SaveState && p.OutputDir != "" {
		if err := r.saveState(m); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	r.log.Info("step 3: gridding point spread function")
	if err := r.image(ctx, m, r.psf, true); err != nil {
		return fmt.Errorf("failed to make psf: %w", err)
	}

	r.log.Info("step 4: predicting model visibilities")
	if err := r.predict(ctx, m); err != nil {
		return fmt.Errorf("failed to predict model: %w", err)
	}

	if p.OutputDir != "" {
		r.log.Info("step 5: writing image planes", "dir", p.OutputDir)
		if err := r.saveImages(); err != nil {
			return fmt.Errorf("failed to save images: %w", err)
		}
	}

	r.imageMetrics()
	r.metrics.Duration = time.Since(start)
	r.log.Info("reconstruction finished",
		"peak", r.metrics.Peak,
		"rms", r.metrics.ImageRMS,
		"grid", humanize.IBytes(r.metrics.GridBytes),
		"elapsed", r.metrics.Duration.Round(time.Millisecond))
	return nil
}

func (r *Reconstructor) simulate(ctx context.Context) error {
	cfg := r.params.Simulation
	if cfg.PhaseCenter == (coords.Direction{}) {
		cfg.PhaseCenter = r.params.Coordinates.PhaseCenter(r.params.Shape)
	}
	if len(cfg.Frequencies) == 0 {
		sp := r.params.Coordinates.Spectral
		for ch := 0; ch < sp.NChan; ch++ {
			cfg.Frequencies = append(cfg.Frequencies, sp.Frequency(ch))
		}
	}
	sim, err := simulate.New(cfg)
	if err != nil {
		return err
	}
	r.buffers = r.buffers[:0]
	for buf := sim.Next(); buf != nil; buf = sim.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.buffers = append(r.buffers, buf)
	}
	r.log.Info("simulated visibilities",
		"rows", humanize.Comma(int64(cfg.Rows)),
		"buffers", len(r.buffers),
		"baselines", sim.Baselines())
	return nil
}

func (r *Reconstructor) image(ctx context.Context, m *gridft.Machine, cube *lattice.Cube, psf bool) error {
	if err := m.InitializeToSky(cube); err != nil {
		return err
	}
	for _, buf := range r.buffers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Put(buf, psf); err != nil {
			return err
		}
	}
	_, _, err := m.GetImage(true)
	return err
}

// predict builds a model cube holding the sources at their nearest pixels,
// predicts it into every buffer and compares the prediction with the data.
func (r *Reconstructor) predict(ctx context.Context, m *gridft.Machine) error {
	p := r.params
	var err error
	if r.model, err = lattice.NewCube(p.Shape, p.Coordinates); err != nil {
		return err
	}
	inc := p.Coordinates.Increment
	for _, src := range p.Simulation.Sources {
		x := p.Shape.NX/2 + int(math.Round(src.L/inc[0]))
		y := p.Shape.NY/2 + int(math.Round(src.M/inc[1]))
		if x < 0 || x >= p.Shape.NX || y < 0 || y >= p.Shape.NY {
			r.log.Warn("source outside image, not modelled", "l", src.L, "m", src.M)
			continue
		}
		for ch := 0; ch < p.Shape.NChan; ch++ {
			for pol := 0; pol < p.Shape.NPol; pol++ {
				r.model.Set(x, y, pol, ch, r.model.At(x, y, pol, ch)+complex(src.Flux, 0))
			}
		}
	}

	if err := m.InitializeToVis(r.model); err != nil {
		return err
	}
	var amps, dataRe, modelRe []float64
	for _, buf := range r.buffers {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf.Model = nil
		if err := m.Get(buf); err != nil {
			return err
		}
		for row := 0; row < buf.NRow(); row++ {
			if buf.FlagRow[row] {
				continue
			}
			for i := buf.Index(row, 0, 0); i < buf.Index(row+1, 0, 0); i++ {
				if buf.Flag[i] {
					continue
				}
				d, mv := complex128(buf.Data[i]), complex128(buf.Model[i])
				amps = append(amps, cmplx.Abs(d-mv))
				dataRe = append(dataRe, real(d))
				modelRe = append(modelRe, real(mv))
			}
		}
	}
	if err := m.FinalizeToVis(); err != nil {
		return err
	}

	if len(amps) > 0 {
		r.metrics.ResidualMean = stat.Mean(amps, nil)
		r.metrics.ResidualRMS = math.Sqrt(stat.Mean(squares(amps), nil))
		r.metrics.ModelCorrelation = stat.Correlation(dataRe, modelRe, nil)
	}
	return nil
}

func squares(v []float64) []float64 {
	out := make([]float64, len(v))
	floats.MulTo(out, v, v)
	return out
}

func (r *Reconstructor) imageMetrics() {
	plane := realPart(r.dirty.PlaneView(0, 0))
	idx := floats.MaxIdx(plane)
	r.metrics.Peak = plane[idx]
	r.metrics.PeakX, r.metrics.PeakY = idx%r.params.Shape.NX, idx/r.params.Shape.NX
	r.metrics.ImageRMS = stat.StdDev(plane, nil)
	r.metrics.PSFPeak = real(r.psf.At(r.params.Shape.NX/2, r.params.Shape.NY/2, 0, 0))
}

func realPart(v []complex128) []float64 {
	out := make([]float64, len(v))
	for i, c := range v {
		out[i] = real(c)
	}
	return out
}

func (r *Reconstructor) saveState(m *gridft.Machine) error {
	if err := os.MkdirAll(r.params.OutputDir, 0755); err != nil {
		return err
	}
	rec, err := m.ToRecord(true)
	if err != nil {
		return err
	}
	ext := "yaml"
	if r.params.StateEncoding == state.JSON {
		ext = "json"
	}
	r.statePath = filepath.Join(r.params.OutputDir, "dirty.state."+ext)
	return state.Save(r.statePath, rec, r.params.StateEncoding)
}

func (r *Reconstructor) saveImages() error {
	for _, out := range []struct {
		name string
		cube *lattice.Cube
	}{{"dirty", r.dirty}, {"psf", r.psf}, {"model", r.model}} {
		viewer, err := visualization.NewViewer(out.cube)
		if err != nil {
			return err
		}
		paths, err := viewer.SavePlaneSequence(r.params.OutputDir, out.name, visualization.Real, r.params.ImageFormat)
		if err != nil {
			return err
		}
		r.images = append(r.images, paths...)
	}
	return nil
}

// GetMetrics returns the figures of the last successful Process.
func (r *Reconstructor) GetMetrics() Metrics { return r.metrics }

// Dirty returns the normalised dirty image.
func (r *Reconstructor) Dirty() *lattice.Cube { return r.dirty }

// PSF returns the normalised point spread function.
func (r *Reconstructor) PSF() *lattice.Cube { return r.psf }

// StatePath is the saved state record, empty when none was written.
func (r *Reconstructor) StatePath() string { return r.statePath }

// Images lists the written image files.
func (r *Reconstructor) Images() []string { return r.images }
