// Package mrf holds the Markov random field energy of a labelling: a unary
// term read from per-class probability maps, a Potts pairwise term over the
// neighbourhood of a topology and an optional orientation-aware directional
// term on 2D images.
//
// Energies are minimised. The unary energy of a site is the negated
// probability of its label, each penalised neighbour adds its weight times
// beta and each penalised directional neighbour adds gamma.
package mrf

import (
	"errors"
	"fmt"
	"math"

	"github.com/gykovacs/vessel-sub007/internal/models"
	"github.com/gykovacs/vessel-sub007/pkg/topology"
)

// SupportSeam is the support value that switches off the pairwise term of a
// site.
const SupportSeam = 10

// MaxClasses is the number of labels a uint8 label field can hold.
const MaxClasses = 256

var (
	// ErrEmptyMask indicates that no site can be sampled.
	ErrEmptyMask = errors.New("mrf: no active site to sample")
	// ErrShapeMismatch indicates inputs of different sizes.
	ErrShapeMismatch = errors.New("mrf: input shapes differ")
	// ErrNoClasses indicates an empty or oversized set of probability maps.
	ErrNoClasses = errors.New("mrf: number of classes must be in [1, 256]")
	// ErrDirectionalNot2D indicates a directional term requested without a
	// 2D topology and an orientation field.
	ErrDirectionalNot2D = errors.New("mrf: directional term needs a 2D topology and an orientation field")
	// ErrUnknownPolicy indicates an unrecognised pairwise policy name.
	ErrUnknownPolicy = errors.New("mrf: unknown pairwise policy")
)

// Params weights the energy terms.
type Params struct {
	// Beta weights the pairwise term; 0 disables it.
	Beta float64
	// Gamma weights the directional term; 0 disables it.
	Gamma float64
	// Policy selects which label pairs are penalised.
	Policy Policy
}

// Input gathers the grids the energy is computed on. Labels is mutated by
// the optimisation, everything else is read only.
type Input struct {
	Topology      topology.Topology
	Probabilities [][]float64
	Labels        *models.LabelField
	Mask          models.Mask
	Support       *models.ByteVolume
	Orientation   []float64
}

// Model evaluates the energy of a label field.
type Model struct {
	topo        topology.Topology
	grid2D      *topology.Grid2D
	probs       [][]float64
	labels      []uint8
	mask        models.Mask
	support     []uint8
	orientation []float64
	params      Params
	buf         []topology.Neighbor
}

// NewModel checks the inputs for consistency and returns the model.
func NewModel(in Input, params Params) (*Model, error) {
	if in.Topology == nil || in.Labels == nil {
		return nil, fmt.Errorf("%w: topology and labels are required", ErrShapeMismatch)
	}
	shape := in.Topology.Shape()
	n := shape.Len()
	if in.Labels.Shape != shape {
		return nil, fmt.Errorf("%w: labels %s, topology %s", ErrShapeMismatch, in.Labels.Shape, shape)
	}
	if len(in.Probabilities) == 0 || len(in.Probabilities) > MaxClasses {
		return nil, fmt.Errorf("%w: got %d", ErrNoClasses, len(in.Probabilities))
	}
	for c, p := range in.Probabilities {
		if len(p) != n {
			return nil, fmt.Errorf("%w: probability map %d has %d sites, want %d", ErrShapeMismatch, c, len(p), n)
		}
	}
	if in.Mask != nil && len(in.Mask) != n {
		return nil, fmt.Errorf("%w: mask has %d sites, want %d", ErrShapeMismatch, len(in.Mask), n)
	}

	m := &Model{
		topo:   in.Topology,
		probs:  in.Probabilities,
		labels: in.Labels.Labels,
		mask:   in.Mask,
		params: params,
		buf:    make([]topology.Neighbor, 0, topology.MaxNeighbors),
	}
	if in.Support != nil {
		if in.Support.Shape != shape {
			return nil, fmt.Errorf("%w: support %s, topology %s", ErrShapeMismatch, in.Support.Shape, shape)
		}
		m.support = in.Support.Data
	}
	if params.Gamma != 0 {
		g, ok := in.Topology.(*topology.Grid2D)
		if !ok || in.Orientation == nil {
			return nil, ErrDirectionalNot2D
		}
		if len(in.Orientation) != n {
			return nil, fmt.Errorf("%w: orientation has %d sites, want %d", ErrShapeMismatch, len(in.Orientation), n)
		}
		m.grid2D = g
		m.orientation = in.Orientation
	}
	return m, nil
}

// NumClasses returns the number of labels.
func (m *Model) NumClasses() int { return len(m.probs) }

// Params returns the term weights.
func (m *Model) Params() Params { return m.params }

// Label returns the current label of site.
func (m *Model) Label(site int) uint8 { return m.labels[site] }

// Unary is the classification energy of the current label of site.
func (m *Model) Unary(site int) float64 {
	return -m.probs[m.labels[site]][site]
}

// Pairwise is the smoothness energy between site and its neighbours. Sites
// marked with SupportSeam contribute nothing.
func (m *Model) Pairwise(site int) float64 {
	if m.support != nil && m.support[site] == SupportSeam {
		return 0
	}
	label := m.labels[site]
	sum := 0.0
	m.buf = m.topo.Neighbors(site, m.buf[:0])
	for _, n := range m.buf {
		if m.params.Policy.Mismatch(label, m.labels[n.Site]) {
			sum += n.Weight * m.params.Beta
		}
	}
	return sum
}

// Local is the part of the energy that changes with the label of site: the
// unary term plus every enabled smoothness term.
func (m *Model) Local(site int) float64 {
	e := m.Unary(site)
	if m.params.Beta > 0 {
		e += m.Pairwise(site)
	}
	if m.params.Gamma != 0 {
		e += m.Directional(site)
	}
	return e
}

// Total evaluates the energy of the whole field in one pass over the active
// sites. Each edge is counted once, so applying a move changes Total by
// exactly the change of Local at the moved site as long as no support seam
// and no directional term is involved.
func (m *Model) Total() float64 {
	total := 0.0
	for site := range m.labels {
		if !m.mask.Active(site) {
			continue
		}
		total += m.Unary(site)
		if m.params.Beta > 0 {
			total += m.edgeShare(site)
		}
		if m.params.Gamma != 0 {
			total += m.Directional(site)
		}
	}
	return total
}

// edgeShare splits the pairwise energy of site between the two ends of each
// edge, so an edge to an inactive neighbour is charged to site in full.
func (m *Model) edgeShare(site int) float64 {
	if m.support != nil && m.support[site] == SupportSeam {
		return 0
	}
	label := m.labels[site]
	sum := 0.0
	m.buf = m.topo.Neighbors(site, m.buf[:0])
	for _, n := range m.buf {
		if !m.params.Policy.Mismatch(label, m.labels[n.Site]) {
			continue
		}
		share := n.Weight * m.params.Beta
		if m.mask.Active(n.Site) {
			share /= 2
		}
		sum += share
	}
	return sum
}

// Directional angle buckets. Angles exactly on a bucket edge select no pair.
const (
	pi8  = math.Pi / 8
	pi38 = math.Pi/2 - math.Pi/8
	pi58 = math.Pi/2 + math.Pi/8
	pi78 = math.Pi - math.Pi/8
)

// directionalPair returns the (row, column) offsets of the neighbour pair
// aligned with angle theta.
func directionalPair(theta float64) ([2][2]int, bool) {
	switch {
	case theta < pi8 || theta > pi78:
		return [2][2]int{{0, 1}, {0, -1}}, true
	case theta > pi58 && theta < pi78:
		return [2][2]int{{-1, -1}, {1, 1}}, true
	case theta > pi8 && theta < pi38:
		return [2][2]int{{-1, 1}, {1, -1}}, true
	case theta > pi38 && theta < pi58:
		return [2][2]int{{-1, 0}, {1, 0}}, true
	}
	return [2][2]int{}, false
}

// Directional is the orientation-aware smoothness energy of site: each
// penalised neighbour of the pair selected by the local orientation adds
// gamma.
func (m *Model) Directional(site int) float64 {
	if m.grid2D == nil {
		return 0
	}
	pair, ok := directionalPair(m.orientation[site])
	if !ok {
		return 0
	}
	r, c := m.grid2D.Coord(site)
	label := m.labels[site]
	sum := 0.0
	for _, o := range pair {
		n, in := m.grid2D.Offset(r, c, o[0], o[1])
		if in && m.params.Policy.Mismatch(label, m.labels[n]) {
			sum += m.params.Gamma
		}
	}
	return sum
}
