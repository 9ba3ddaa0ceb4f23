package topology

import "github.com/gykovacs/vessel-sub007/internal/models"

// Even rows lean left, odd rows lean right.
var (
	hexEven = []offset{{-1, -1}, {-1, 0}, {0, -1}, {0, 1}, {1, -1}, {1, 0}}
	hexOdd  = []offset{{-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, 0}, {1, 1}}
)

// Hex is the in-slice hexagonal neighbourhood of an anisotropically packed
// volume. Slices are not coupled.
type Hex struct {
	shape models.Shape
}

// NewHex returns the hexagonal topology over shape.
func NewHex(shape models.Shape) *Hex {
	return &Hex{shape: shape}
}

// Shape implements Topology.
func (h *Hex) Shape() models.Shape { return h.shape }

// Neighbors implements Topology.
func (h *Hex) Neighbors(site int, dst []Neighbor) []Neighbor {
	s, r, c := h.shape.Coord(site)
	pattern := hexEven
	if r%2 == 1 {
		pattern = hexOdd
	}
	for _, o := range pattern {
		rr, cc := r+o[0], c+o[1]
		if h.shape.Contains(s, rr, cc) {
			dst = append(dst, Neighbor{Site: h.shape.Index(s, rr, cc), Weight: 1})
		}
	}
	return dst
}

// Sampleable implements Topology.
func (h *Hex) Sampleable(int) bool { return true }
