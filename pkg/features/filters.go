package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gykovacs/vessel-sub007/internal/models"
)

// sample reads v at (s, r, c), replicating the nearest in-slice site for
// coordinates outside the rows and columns.
func sample(v *models.Volume, s, r, c int) float64 {
	r = min(max(r, 0), v.Rows-1)
	c = min(max(c, 0), v.Columns-1)
	return v.Data[v.Index(s, r, c)]
}

// mapSites evaluates fn at every site of in and zeroes the sites outside
// mask.
func mapSites(in *models.Volume, mask models.Mask, fn func(s, r, c int) float64) (*models.Volume, error) {
	if mask != nil && len(mask) != in.Len() {
		return nil, fmt.Errorf("%w: mask has %d sites, volume %d", ErrMaskMismatch, len(mask), in.Len())
	}
	out := models.NewVolume(in.Shape)
	i := 0
	for s := 0; s < in.Slices; s++ {
		for r := 0; r < in.Rows; r++ {
			for c := 0; c < in.Columns; c++ {
				if mask.Active(i) {
					out.Data[i] = fn(s, r, c)
				}
				i++
			}
		}
	}
	return out, nil
}

// Identity copies its input.
type Identity struct{}

func (Identity) Name() string { return "Identity" }
func (Identity) Border() int  { return 0 }

func (Identity) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	return mapSites(in, mask, func(s, r, c int) float64 { return in.At(s, r, c) })
}

// Invert mirrors intensities within the input range, so dark structures
// become bright.
type Invert struct{}

func (Invert) Name() string { return "Invert" }
func (Invert) Border() int  { return 0 }

func (Invert) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	if in.Len() == 0 {
		return models.NewVolume(in.Shape), nil
	}
	lo, hi := floats.Min(in.Data), floats.Max(in.Data)
	return mapSites(in, mask, func(s, r, c int) float64 { return lo + hi - in.At(s, r, c) })
}

// GaussianFilter smooths each slice with a separable Gaussian kernel
// truncated at three standard deviations.
type GaussianFilter struct {
	Sigma  float64
	kernel []float64
}

// NewGaussianFilter builds the normalised kernel for sigma.
func NewGaussianFilter(sigma float64) *GaussianFilter {
	return &GaussianFilter{Sigma: sigma, kernel: gaussianKernel(sigma, int(math.Ceil(3*sigma)))}
}

// gaussianKernel returns 2*radius+1 Gaussian weights summing to one.
func gaussianKernel(sigma float64, radius int) []float64 {
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-x * x / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

func (g *GaussianFilter) Name() string { return fmt.Sprintf("GaussianFilter %g", g.Sigma) }
func (g *GaussianFilter) Border() int  { return len(g.kernel) / 2 }

func (g *GaussianFilter) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	radius := g.Border()
	rows := models.NewVolume(in.Shape)
	for s := 0; s < in.Slices; s++ {
		for r := 0; r < in.Rows; r++ {
			for c := 0; c < in.Columns; c++ {
				sum := 0.0
				for k, w := range g.kernel {
					sum += w * sample(in, s, r, c+k-radius)
				}
				rows.Set(s, r, c, sum)
			}
		}
	}
	return mapSites(rows, mask, func(s, r, c int) float64 {
		sum := 0.0
		for k, w := range g.kernel {
			sum += w * sample(rows, s, r+k-radius, c)
		}
		return sum
	})
}

// window collects the in-slice square of the given radius around (s, r, c).
func window(in *models.Volume, s, r, c, radius int, dst []float64) []float64 {
	dst = dst[:0]
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			dst = append(dst, sample(in, s, r+dr, c+dc))
		}
	}
	return dst
}

// MeanFilter averages each square window of side 2*Radius+1.
type MeanFilter struct {
	Radius int
}

func (f MeanFilter) Name() string { return fmt.Sprintf("MeanFilter %d", f.Radius) }
func (f MeanFilter) Border() int  { return f.Radius }

func (f MeanFilter) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	buf := make([]float64, 0, (2*f.Radius+1)*(2*f.Radius+1))
	return mapSites(in, mask, func(s, r, c int) float64 {
		buf = window(in, s, r, c, f.Radius, buf)
		return stat.Mean(buf, nil)
	})
}

// VarianceFilter is the sample variance of each square window of side
// 2*Radius+1.
type VarianceFilter struct {
	Radius int
}

func (f VarianceFilter) Name() string { return fmt.Sprintf("VarianceFilter %d", f.Radius) }
func (f VarianceFilter) Border() int  { return f.Radius }

func (f VarianceFilter) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	buf := make([]float64, 0, (2*f.Radius+1)*(2*f.Radius+1))
	return mapSites(in, mask, func(s, r, c int) float64 {
		buf = window(in, s, r, c, f.Radius, buf)
		_, v := stat.MeanVariance(buf, nil)
		return v
	})
}

// sobel returns the column and row derivatives at (s, r, c).
func sobel(in *models.Volume, s, r, c int) (gc, gr float64) {
	at := func(dr, dc int) float64 { return sample(in, s, r+dr, c+dc) }
	gc = at(-1, 1) + 2*at(0, 1) + at(1, 1) - at(-1, -1) - 2*at(0, -1) - at(1, -1)
	gr = at(1, -1) + 2*at(1, 0) + at(1, 1) - at(-1, -1) - 2*at(-1, 0) - at(-1, 1)
	return gc, gr
}

// SobelMagnitude is the gradient magnitude of the 3x3 Sobel operator.
type SobelMagnitude struct{}

func (SobelMagnitude) Name() string { return "SobelMagnitude" }
func (SobelMagnitude) Border() int  { return 1 }

func (SobelMagnitude) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	return mapSites(in, mask, func(s, r, c int) float64 {
		gc, gr := sobel(in, s, r, c)
		return math.Hypot(gc, gr)
	})
}

// SobelOrientation is the direction along a structure, perpendicular to
// the intensity gradient, in [0, π). Angles are measured from the column
// axis towards decreasing rows, so 0 is horizontal and π/2 vertical. Flat
// neighbourhoods get 0.
type SobelOrientation struct{}

func (SobelOrientation) Name() string { return "SobelOrientation" }
func (SobelOrientation) Border() int  { return 1 }

func (SobelOrientation) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	return mapSites(in, mask, func(s, r, c int) float64 {
		gc, gr := sobel(in, s, r, c)
		if gc == 0 && gr == 0 {
			return 0
		}
		theta := math.Mod(math.Atan2(-gr, gc)+math.Pi/2, math.Pi)
		if theta < 0 {
			theta += math.Pi
		}
		return theta
	})
}
