package features

import (
	"fmt"

	"github.com/gykovacs/vessel-sub007/internal/models"
	"github.com/gykovacs/vessel-sub007/pkg/shearlet"
)

// ShearletEdges is the strongest shearlet response of a site, scaled per
// slice to a maximum of 1.
type ShearletEdges struct {
	Scales int
}

func (t ShearletEdges) Name() string { return fmt.Sprintf("ShearletEdges %d", t.Scales) }
func (t ShearletEdges) Border() int  { return 1 << t.Scales }

func (t ShearletEdges) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	edges, _, err := shearletSlices(in, t.Scales)
	if err != nil {
		return nil, err
	}
	return mapSites(in, mask, func(s, r, c int) float64 { return edges[in.Index(s, r, c)] })
}

// ShearletOrientation is the orientation of the shearlet responding most
// strongly at a site, following the SobelOrientation convention.
type ShearletOrientation struct {
	Scales int
}

func (t ShearletOrientation) Name() string { return fmt.Sprintf("ShearletOrientation %d", t.Scales) }
func (t ShearletOrientation) Border() int  { return 1 << t.Scales }

func (t ShearletOrientation) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	_, orientations, err := shearletSlices(in, t.Scales)
	if err != nil {
		return nil, err
	}
	return mapSites(in, mask, func(s, r, c int) float64 { return orientations[in.Index(s, r, c)] })
}

// shearletSlices runs one filter bank over every slice of in.
func shearletSlices(in *models.Volume, scales int) (edges, orientations []float64, err error) {
	tr, err := shearlet.NewTransform(in.Rows, in.Columns, scales)
	if err != nil {
		return nil, nil, err
	}
	size := in.Rows * in.Columns
	edges = make([]float64, 0, in.Len())
	orientations = make([]float64, 0, in.Len())
	for s := 0; s < in.Slices; s++ {
		info, err := tr.DetectEdgesWithOrientation(in.Data[s*size : (s+1)*size])
		if err != nil {
			return nil, nil, fmt.Errorf("slice %d: %w", s, err)
		}
		edges = append(edges, info.Edges...)
		orientations = append(orientations, info.Orientations...)
	}
	return edges, orientations, nil
}
