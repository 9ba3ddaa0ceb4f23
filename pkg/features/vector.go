package features

import (
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// vectorKernel smooths feature vectors: sigma 1 over five taps.
var vectorKernel = gaussianKernel(1, 2)

// VectorOptions rearranges the feature vector of a site before it is
// classified. The steps run in field order.
type VectorOptions struct {
	// Gauss smooths the vector with a circular Gaussian of five taps.
	Gauss bool
	// Sort orders the components from largest to smallest.
	Sort bool
	// ShiftToMax rotates the vector so that its largest component comes
	// first.
	ShiftToMax bool
	// ShiftToMin rotates the vector so that its smallest component comes
	// first.
	ShiftToMin bool
}

// Enabled reports whether any step is switched on.
func (o VectorOptions) Enabled() bool {
	return o.Gauss || o.Sort || o.ShiftToMax || o.ShiftToMin
}

// Apply rearranges x in place. buf is scratch space for the smoothing step
// and is returned, grown when needed, for reuse.
func (o VectorOptions) Apply(x, buf []float64) []float64 {
	n := len(x)
	if n == 0 {
		return buf
	}
	if o.Gauss {
		buf = slices.Grow(buf[:0], n)[:n]
		radius := len(vectorKernel) / 2
		for k := range x {
			sum := 0.0
			for j, w := range vectorKernel {
				p := ((k+j-radius)%n + n) % n
				sum += w * x[p]
			}
			buf[k] = sum
		}
		copy(x, buf)
	}
	if o.Sort {
		sort.Sort(sort.Reverse(sort.Float64Slice(x)))
	}
	if o.ShiftToMax {
		rotate(x, floats.MaxIdx(x))
	}
	if o.ShiftToMin {
		rotate(x, floats.MinIdx(x))
	}
	return buf
}

// rotate moves x[k] to the front, keeping the circular order.
func rotate(x []float64, k int) {
	slices.Reverse(x[:k])
	slices.Reverse(x[k:])
	slices.Reverse(x)
}
