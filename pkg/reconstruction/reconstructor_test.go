package reconstruction

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"uvgrid/pkg/chanmap"
	"uvgrid/pkg/coords"
	"uvgrid/pkg/gridft"
	"uvgrid/pkg/gridstore"
	"uvgrid/pkg/lattice"
	"uvgrid/pkg/simulate"
	"uvgrid/pkg/state"
	"uvgrid/pkg/vis"
)

const arcsec = math.Pi / 180 / 3600

// testParams images a centred 1 Jy source and a 0.5 Jy source offset by
// exactly (-10, -6) pixels on a 64 x 64 image of 2 arcsec cells.
func testParams(outputDir string) *Params {
	shape := lattice.Shape{NX: 64, NY: 64, NPol: 1, NChan: 1}
	c := lattice.Coordinates{
		Increment:      [2]float64{-2 * arcsec, 2 * arcsec},
		ReferencePixel: [2]float64{32, 32},
		Direction:      coords.NewDirectionDeg(150, 30),
		Spectral:       chanmap.Spectral{RefFreq: 1.4e9, Increment: 1e6, NChan: 1},
		Stokes:         []vis.Correlation{vis.StokesI},
	}
	grid := gridft.DefaultConfig()
	grid.CacheBytes = 0
	grid.Workers = 2

	return &Params{
		Grid:        grid,
		Shape:       shape,
		Coordinates: c,
		Simulation: simulate.Config{
			Antennas:      16,
			MaxBaseline:   3000,
			Rows:          1200,
			RowsPerBuffer: 100,
			HourAngleSpan: math.Pi / 2,
			Seed:          7,
			Correlations:  []vis.Correlation{vis.XX, vis.YY},
			Sources: []simulate.Source{
				simulate.SourceAtOffset(0, 0, 1),
				simulate.SourceAtOffset(20, -12, 0.5),
			},
		},
		OutputDir:   outputDir,
		ImageFormat: "png",
		SaveState:   outputDir != "",
	}
}

// TestReconstructPointSources runs the whole pipeline without writing files.
func TestReconstructPointSources(t *testing.T) {
	r := NewReconstructor(testParams(""))
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	m := r.GetMetrics()

	if abs(m.PeakX-32) > 1 || abs(m.PeakY-32) > 1 {
		t.Errorf("peak at (%d, %d), want near (32, 32)", m.PeakX, m.PeakY)
	}
	if math.Abs(m.Peak-1) > 0.25 {
		t.Errorf("peak = %g, want about 1", m.Peak)
	}
	if math.Abs(m.PSFPeak-1) > 1e-9 {
		t.Errorf("psf peak = %g, want 1", m.PSFPeak)
	}
	if m.Samples != 2*1200 || m.SumWeight != 2*1200 {
		t.Errorf("samples = %d, sum weight = %g, want 2400", m.Samples, m.SumWeight)
	}
	if m.ResidualRMS > 0.05 {
		t.Errorf("residual rms = %g, want < 0.05 for a noiseless sky", m.ResidualRMS)
	}
	if m.ModelCorrelation < 0.99 {
		t.Errorf("model correlation = %g, want > 0.99", m.ModelCorrelation)
	}
	if m.Strategy != gridstore.StrategyMemory.String() {
		t.Errorf("strategy = %s, want memory", m.Strategy)
	}

	// the offset source sits at x = 32 - 10, y = 32 - 6
	if v := real(r.Dirty().At(22, 26, 0, 0)); v < 0.25 {
		t.Errorf("offset source = %g, want about 0.5", v)
	}
}

// TestReconstructWritesOutputs checks the image planes and the state record.
func TestReconstructWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	p := testParams(dir)
	p.Grid.CacheBytes = 32 << 10
	p.Grid.TileSize = 16
	p.Grid.Backing = gridstore.BackingMemory
	p.StateEncoding = state.JSON

	r := NewReconstructor(p)
	if err := r.Process(context.Background()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := r.GetMetrics().Strategy; got != gridstore.StrategyTiled.String() {
		t.Errorf("strategy = %s, want tiled", got)
	}

	if len(r.Images()) != 3 {
		t.Fatalf("wrote %d images, want 3", len(r.Images()))
	}
	for _, path := range r.Images() {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing image %s: %v", path, err)
		}
	}

	if filepath.Ext(r.StatePath()) != ".json" {
		t.Fatalf("state path = %q", r.StatePath())
	}
	rec, err := state.Load(r.StatePath(), nil)
	if err != nil {
		t.Fatalf("state.Load: %v", err)
	}
	if rec.ImageShape != p.Shape || len(rec.Image) != p.Shape.Len() {
		t.Errorf("record image shape %v with %d values", rec.ImageShape, len(rec.Image))
	}
}

func TestReconstructCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReconstructor(testParams(""))
	if err := r.Process(ctx); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
