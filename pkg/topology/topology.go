// Package topology describes the neighbourhood structure of the labelling
// grid. Every topology answers the same question, which sites touch a given
// site and how strongly, so the energy model and the annealing scheduler never
// depend on the grid shape.
//
// Three topologies are provided:
//
//   - Grid2D: four-connected von Neumann neighbourhood of a single image
//   - Grid3D: four in-slice neighbours plus the two inter-slice neighbours,
//     the latter weighted by InterSliceWeight (2 by default)
//   - Hex: six neighbours of hexagonally packed rows, the pattern alternating
//     with row parity
//
// Neighbours outside the grid are skipped, never wrapped or mirrored.
package topology

import (
	"errors"
	"fmt"

	"github.com/gykovacs/vessel-sub007/internal/models"
)

// Kind names a topology in configuration files.
type Kind string

const (
	Kind2D  Kind = "2d"
	Kind3D  Kind = "3d"
	KindHex Kind = "hex"
)

// DefaultInterSliceWeight is the pairwise multiplier of front/back neighbours
// in the 3D topology.
const DefaultInterSliceWeight = 2.0

var (
	// ErrUnknownKind indicates a topology name that is not recognised.
	ErrUnknownKind = errors.New("topology: unknown kind")
	// ErrInvalidShape indicates a shape with a non-positive dimension or a
	// multi-slice shape given to the 2D topology.
	ErrInvalidShape = errors.New("topology: invalid shape")
)

// Neighbor is one adjacent site with the multiplier applied to its pairwise
// penalty.
type Neighbor struct {
	Site   int
	Weight float64
}

// Topology enumerates adjacency over a flattened grid.
type Topology interface {
	// Shape returns the grid extent.
	Shape() models.Shape
	// Neighbors appends the neighbours of site to dst and returns it.
	Neighbors(site int, dst []Neighbor) []Neighbor
	// Sampleable reports whether the annealing scheduler may propose a
	// move at site. Activity masks are applied on top of this.
	Sampleable(site int) bool
}

// New builds the topology of the given kind over shape.
func New(kind Kind, shape models.Shape, interSliceWeight float64) (Topology, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShape, shape)
	}
	switch kind {
	case Kind2D:
		if shape.Slices != 1 {
			return nil, fmt.Errorf("%w: 2d topology needs one slice, got %d", ErrInvalidShape, shape.Slices)
		}
		return NewGrid2D(shape.Rows, shape.Columns), nil
	case Kind3D:
		g := NewGrid3D(shape)
		if interSliceWeight > 0 {
			g.InterSliceWeight = interSliceWeight
		}
		return g, nil
	case KindHex:
		return NewHex(shape), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// MaxNeighbors is the largest neighbourhood of any topology; callers use it
// to size reusable neighbour buffers.
const MaxNeighbors = 6
