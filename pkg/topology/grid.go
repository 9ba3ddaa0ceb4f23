package topology

import "github.com/gykovacs/vessel-sub007/internal/models"

// offset is a (row, column) displacement inside one slice.
type offset [2]int

var vonNeumann = []offset{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// Grid2D is the four-connected neighbourhood of a single image.
type Grid2D struct {
	shape models.Shape
}

// NewGrid2D returns the 2D topology of a rows x columns image.
func NewGrid2D(rows, columns int) *Grid2D {
	return &Grid2D{shape: models.Shape2D(rows, columns)}
}

// Shape implements Topology.
func (g *Grid2D) Shape() models.Shape { return g.shape }

// Neighbors implements Topology: up, down, left, right at unit weight.
func (g *Grid2D) Neighbors(site int, dst []Neighbor) []Neighbor {
	r, c := site/g.shape.Columns, site%g.shape.Columns
	for _, o := range vonNeumann {
		if n, ok := g.Offset(r, c, o[0], o[1]); ok {
			dst = append(dst, Neighbor{Site: n, Weight: 1})
		}
	}
	return dst
}

// Sampleable implements Topology; every site of an image may be sampled.
func (g *Grid2D) Sampleable(int) bool { return true }

// Offset returns the site displaced by (dr, dc) from (r, c), and false when
// it falls outside the image.
func (g *Grid2D) Offset(r, c, dr, dc int) (int, bool) {
	r, c = r+dr, c+dc
	if r < 0 || r >= g.shape.Rows || c < 0 || c >= g.shape.Columns {
		return 0, false
	}
	return r*g.shape.Columns + c, true
}

// Coord returns the (row, column) of site.
func (g *Grid2D) Coord(site int) (int, int) {
	return site / g.shape.Columns, site % g.shape.Columns
}

// Grid3D is the six-connected neighbourhood of a volume.
type Grid3D struct {
	shape models.Shape
	// InterSliceWeight multiplies the penalty of front and back neighbours.
	InterSliceWeight float64
}

// NewGrid3D returns the 3D topology with the default inter-slice weight.
func NewGrid3D(shape models.Shape) *Grid3D {
	return &Grid3D{shape: shape, InterSliceWeight: DefaultInterSliceWeight}
}

// Shape implements Topology.
func (g *Grid3D) Shape() models.Shape { return g.shape }

// Neighbors implements Topology.
func (g *Grid3D) Neighbors(site int, dst []Neighbor) []Neighbor {
	s, r, c := g.shape.Coord(site)
	for _, o := range vonNeumann {
		rr, cc := r+o[0], c+o[1]
		if g.shape.Contains(s, rr, cc) {
			dst = append(dst, Neighbor{Site: g.shape.Index(s, rr, cc), Weight: 1})
		}
	}
	sliceSize := g.shape.SliceSize()
	if s > 0 {
		dst = append(dst, Neighbor{Site: site - sliceSize, Weight: g.InterSliceWeight})
	}
	if s < g.shape.Slices-1 {
		dst = append(dst, Neighbor{Site: site + sliceSize, Weight: g.InterSliceWeight})
	}
	return dst
}

// Sampleable implements Topology: only sites strictly inside a one-site
// border are proposed.
func (g *Grid3D) Sampleable(site int) bool {
	s, r, c := g.shape.Coord(site)
	return s > 0 && s < g.shape.Slices-1 &&
		r > 0 && r < g.shape.Rows-1 &&
		c > 0 && c < g.shape.Columns-1
}
