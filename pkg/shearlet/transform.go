// Package shearlet detects edges and their orientation with a bank of
// shearlet filters applied in the frequency domain.
//
// The bank splits the spectrum into a horizontal cone, where the column
// frequency dominates, and a vertical cone. Scale j covers a radial band
// centred on 0.25/2^j cycles per sample and is sheared over 2*2^j+1
// directions per cone. Each filter keeps one half of the spectrum, so its
// response is an analytic signal whose modulus measures edge strength
// without ripple.
package shearlet

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

const (
	// DefaultScales is the number of scales of NewTransform callers that do
	// not choose one.
	DefaultScales = 3
	// MaxScales bounds the filter bank.
	MaxScales = 6
)

var (
	// ErrBadSize indicates an image too small or of the wrong length.
	ErrBadSize = errors.New("shearlet: bad image size")
	// ErrBadScales indicates a scale count outside 1..MaxScales.
	ErrBadScales = errors.New("shearlet: bad number of scales")
)

// EdgeInfo holds edge detection information. Both slices are in the
// row-major order of the input.
type EdgeInfo struct {
	// Edges is the strongest filter response, scaled so that the image
	// maximum is 1.
	Edges []float64
	// Orientations is the direction of the edge in radians, in [0, π),
	// measured from the column axis toward decreasing rows.
	Orientations []float64
}

type filter struct {
	orientation float64
	response    []float64
}

// Transform is a shearlet filter bank for images of a fixed size. It is not
// safe for concurrent use.
type Transform struct {
	scales  int
	rows    int
	cols    int
	plane   *plane
	filters []filter
	work    []complex128
	coef    []complex128
}

// NewTransform builds the filter bank for rows x cols images.
//
// Parameters:
//   - rows, cols: image size, at least 2 each
//   - scales: number of radial bands, 1..MaxScales
func NewTransform(rows, cols, scales int) (*Transform, error) {
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, rows, cols)
	}
	if scales < 1 || scales > MaxScales {
		return nil, fmt.Errorf("%w: %d", ErrBadScales, scales)
	}
	t := &Transform{
		scales: scales,
		rows:   rows,
		cols:   cols,
		plane:  newPlane(rows, cols),
		work:   make([]complex128, rows*cols),
		coef:   make([]complex128, rows*cols),
	}
	t.initializeFilters()
	return t, nil
}

// Scales returns the number of radial bands.
func (t *Transform) Scales() int { return t.scales }

// Filters returns the number of filters in the bank.
func (t *Transform) Filters() int { return len(t.filters) }

func (t *Transform) initializeFilters() {
	for scale := 0; scale < t.scales; scale++ {
		maxShear := 1 << scale
		for _, shear := range getShearRange(maxShear) {
			slope := float64(shear) / float64(maxShear)
			// edges run across the dominant frequency axis
			t.filters = append(t.filters,
				t.createFilter(scale, shear, false, math.Atan2(1, slope)),
				t.createFilter(scale, shear, true, wrapAngle(math.Atan(slope))))
		}
	}
}

// createFilter samples the frequency response of one shearlet. The radial
// window peaks at the band centre; the angular window covers the slopes
// between the neighbouring shears and sums to one in square with them.
func (t *Transform) createFilter(scale, shear int, vertical bool, orientation float64) filter {
	maxShear := float64(int(1) << scale)
	centre := 0.25 / maxShear
	f := filter{orientation: orientation, response: make([]float64, t.rows*t.cols)}
	for i := range f.response {
		xi1, xi2 := t.plane.freq(i)
		if vertical {
			xi1, xi2 = xi2, xi1
		}
		// own cone and analytic half plane only
		if xi1 <= 0 || math.Abs(xi2) > xi1 || (vertical && math.Abs(xi2) == xi1) {
			continue
		}
		rho := math.Hypot(xi1, xi2) / centre
		radial := rho * rho * math.Exp(1-rho*rho)
		angular := window((xi2/xi1 - float64(shear)/maxShear) * maxShear)
		f.response[i] = 2 * radial * angular
	}
	return f
}

// window is the Meyer bump: 1 at 0, falling smoothly to 0 at ±1.
func window(x float64) float64 {
	x = math.Abs(x)
	if x >= 1 {
		return 0
	}
	return math.Cos(math.Pi / 2 * meyer(x))
}

// DetectEdgesWithOrientation filters data with every shearlet and keeps,
// for each pixel, the strongest response and the orientation of the filter
// producing it. Pixels without any response get orientation 0.
func (t *Transform) DetectEdgesWithOrientation(data []float64) (EdgeInfo, error) {
	n := t.rows * t.cols
	if len(data) != n {
		return EdgeInfo{}, fmt.Errorf("%w: %d values for %dx%d", ErrBadSize, len(data), t.rows, t.cols)
	}
	peak := 0.0
	for i, v := range data {
		t.coef[i] = complex(v, 0)
		peak = max(peak, math.Abs(v))
	}
	t.plane.forward(t.coef)
	// responses below this are rounding noise of the transforms
	floor := 1e-9 * max(peak, 1)

	edges := make([]float64, n)
	orientations := make([]float64, n)
	for _, f := range t.filters {
		for i, c := range t.coef {
			t.work[i] = c * complex(f.response[i], 0)
		}
		t.plane.inverse(t.work)
		for i, c := range t.work {
			if a := cmplx.Abs(c); a > floor && a > edges[i] {
				edges[i] = a
				orientations[i] = f.orientation
			}
		}
	}

	maxEdge := 0.0
	for _, e := range edges {
		maxEdge = max(maxEdge, e)
	}
	if maxEdge > 0 {
		for i := range edges {
			edges[i] /= maxEdge
		}
	}
	return EdgeInfo{Edges: edges, Orientations: orientations}, nil
}

// DetectEdges returns only the edge map.
func (t *Transform) DetectEdges(data []float64) ([]float64, error) {
	info, err := t.DetectEdgesWithOrientation(data)
	return info.Edges, err
}

// getShearRange returns the range of shear parameters for a given maximum shear
func getShearRange(maxShear int) []int {
	shearRange := make([]int, 2*maxShear+1)
	for i := 0; i <= 2*maxShear; i++ {
		shearRange[i] = i - maxShear
	}
	return shearRange
}

// meyer implements the Meyer auxiliary function used in wavelet construction.
func meyer(t float64) float64 {
	if t < 0 {
		return 0
	} else if t > 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

func wrapAngle(a float64) float64 {
	if a < 0 {
		return a + math.Pi
	}
	return a
}
