package mrf

import (
	"math/rand/v2"
)

// Move relabels one site. It is produced by Propose and threaded through
// Apply and, when rejected, Revert.
type Move struct {
	Site int
	Old  uint8
	New  uint8
}

// Field adapts a Model to the annealing scheduler. Only active sites that
// the topology allows to be sampled are ever proposed.
type Field struct {
	model  *Model
	active []int
}

// NewField indexes the sampleable sites of m.
func NewField(m *Model) (*Field, error) {
	n := m.topo.Shape().Len()
	active := make([]int, 0, m.mask.Count(n))
	for site := 0; site < n; site++ {
		if m.mask.Active(site) && m.topo.Sampleable(site) {
			active = append(active, site)
		}
	}
	if len(active) == 0 {
		return nil, ErrEmptyMask
	}
	return &Field{model: m, active: active}, nil
}

// Model returns the underlying energy model.
func (f *Field) Model() *Model { return f.model }

// Sites returns the sampleable sites in increasing order.
func (f *Field) Sites() []int { return f.active }

// Randomize assigns a uniformly random label to every active site.
func (f *Field) Randomize(rng *rand.Rand) {
	k := f.model.NumClasses()
	for site := range f.model.labels {
		if f.model.mask.Active(site) {
			f.model.labels[site] = uint8(rng.IntN(k))
		}
	}
}

// Energy implements annealing.Problem.
func (f *Field) Energy() float64 { return f.model.Total() }

// Propose implements annealing.Problem: a uniformly chosen sampleable site
// and a uniformly chosen label.
func (f *Field) Propose(rng *rand.Rand) Move {
	site := f.active[rng.IntN(len(f.active))]
	return Move{
		Site: site,
		Old:  f.model.labels[site],
		New:  uint8(rng.IntN(f.model.NumClasses())),
	}
}

// Apply implements annealing.Problem. Only the energy around the moved site
// is evaluated.
func (f *Field) Apply(mv Move) float64 {
	before := f.model.Local(mv.Site)
	f.model.labels[mv.Site] = mv.New
	return f.model.Local(mv.Site) - before
}

// Revert implements annealing.Problem.
func (f *Field) Revert(mv Move) {
	f.model.labels[mv.Site] = mv.Old
}

// Labels returns the label slice the field optimises in place.
func (f *Field) Labels() []uint8 { return f.model.labels }
