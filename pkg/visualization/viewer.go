// Package visualization renders image planes of a gridded sky cube to
// greyscale image files.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"

	"uvgrid/pkg/lattice"
)

// Component selects which part of a complex pixel is drawn.
type Component int

const (
	Real Component = iota
	Imag
	Amplitude
)

func (c Component) String() string {
	switch c {
	case Real:
		return "real"
	case Imag:
		return "imag"
	case Amplitude:
		return "amp"
	default:
		return fmt.Sprintf("component(%d)", int(c))
	}
}

func (c Component) value(v complex128) float64 {
	switch c {
	case Imag:
		return imag(v)
	case Amplitude:
		return cmplx.Abs(v)
	default:
		return real(v)
	}
}

// Viewer holds a copy of an image cube for rendering.
type Viewer struct {
	// data holds the cube in plane-major order
	data  []complex128
	shape lattice.Shape
}

// NewViewer reads the whole of img.
func NewViewer(img lattice.Image) (*Viewer, error) {
	shape := img.Shape()
	data, err := img.GetSlice(lattice.Shape{}, shape)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return &Viewer{data: data, shape: shape}, nil
}

// Shape returns the cube extent.
func (v *Viewer) Shape() lattice.Shape { return v.shape }

// PlaneRange returns the minimum and maximum of comp over one plane.
func (v *Viewer) PlaneRange(pol, ch int, comp Component) (lo, hi float64, err error) {
	plane, err := v.plane(pol, ch)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range plane {
		x := comp.value(p)
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi, nil
}

func (v *Viewer) plane(pol, ch int) ([]complex128, error) {
	if pol < 0 || pol >= v.shape.NPol || ch < 0 || ch >= v.shape.NChan {
		return nil, fmt.Errorf("plane (pol %d, chan %d) outside %s", pol, ch, v.shape)
	}
	n := v.shape.PlaneSize()
	off := v.shape.Plane(pol, ch) * n
	return v.data[off : off+n], nil
}

// ExtractPlane renders one plane scaled linearly from its minimum (black) to
// its maximum (white). Row 0 of the result is the top of the sky, the
// highest y pixel. A constant plane renders black.
func (v *Viewer) ExtractPlane(pol, ch int, comp Component) (image.Image, error) {
	plane, err := v.plane(pol, ch)
	if err != nil {
		return nil, err
	}
	lo, hi, _ := v.PlaneRange(pol, ch, comp)
	span := hi - lo

	nx, ny := v.shape.NX, v.shape.NY
	img := image.NewGray16(image.Rect(0, 0, nx, ny))
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			var value uint16
			if span > 0 {
				f := (comp.value(plane[y*nx+x]) - lo) / span
				value = uint16(math.Max(0, math.Min(65535, math.Round(f*65535))))
			}
			img.SetGray16(x, ny-1-y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// SavePlane writes img as PNG, or JPEG when the filename ends in .jpg or .jpeg.
func (v *Viewer) SavePlane(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SavePlaneSequence renders every plane of the cube into outputDir with
// names of the form <prefix>_p<pol>_c<chan>.<format> and returns the paths.
func (v *Viewer) SavePlaneSequence(outputDir, prefix string, comp Component, format string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	switch format {
	case "", "png":
		format = "png"
	case "jpg", "jpeg":
		format = "jpg"
	default:
		return nil, fmt.Errorf("invalid format: %s (must be png or jpeg)", format)
	}

	var paths []string
	for ch := 0; ch < v.shape.NChan; ch++ {
		for pol := 0; pol < v.shape.NPol; pol++ {
			img, err := v.ExtractPlane(pol, ch, comp)
			if err != nil {
				return paths, err
			}
			filename := filepath.Join(outputDir, fmt.Sprintf("%s_p%d_c%03d.%s", prefix, pol, ch, format))
			if err := v.SavePlane(img, filename); err != nil {
				return paths, err
			}
			paths = append(paths, filename)
		}
	}
	return paths, nil
}
