// Package features turns textual feature descriptors into image transforms.
//
// A descriptor is a transform name followed by its numeric parameters, for
// example "GaussianFilter 1.5". The keyword "chain" joins descriptors into a
// sequence applied left to right: "GaussianFilter 1 chain SobelMagnitude".
// Every transform works slice by slice on the rows and columns of a volume
// and proposes the border it needs to be evaluated without edge effects.
package features

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/gykovacs/vessel-sub007/internal/models"
	"github.com/gykovacs/vessel-sub007/pkg/shearlet"
)

var (
	// ErrUnknownTransform indicates a descriptor naming no known transform.
	ErrUnknownTransform = errors.New("features: unknown transform")
	// ErrBadParameters indicates a descriptor with the wrong number or
	// range of parameters.
	ErrBadParameters = errors.New("features: bad transform parameters")
	// ErrMaskMismatch indicates a mask of a different size than the input.
	ErrMaskMismatch = errors.New("features: mask does not match input")
)

// Transform computes one feature image from an input volume. Sites outside
// the mask are set to zero in the output; a nil mask keeps every site.
type Transform interface {
	Name() string
	Border() int
	Apply(in *models.Volume, mask models.Mask) (*models.Volume, error)
}

// Chain applies its transforms in order.
type Chain []Transform

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.Name()
	}
	return strings.Join(names, " chain ")
}

// Border is the sum of the member borders, each stage widening the support
// of the next.
func (c Chain) Border() int {
	b := 0
	for _, t := range c {
		b += t.Border()
	}
	return b
}

// Apply masks only the output of the last stage.
func (c Chain) Apply(in *models.Volume, mask models.Mask) (*models.Volume, error) {
	out := in
	for i, t := range c {
		stageMask := models.Mask(nil)
		if i == len(c)-1 {
			stageMask = mask
		}
		var err error
		if out, err = t.Apply(out, stageMask); err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name(), err)
		}
	}
	return out, nil
}

// Parse builds the transform described by descriptor.
func Parse(descriptor string) (Transform, error) {
	fields := strings.Fields(descriptor)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty descriptor", ErrUnknownTransform)
	}

	var (
		chain Chain
		part  []string
	)
	flush := func() error {
		if len(part) == 0 {
			return fmt.Errorf("%w: empty chain element in %q", ErrBadParameters, descriptor)
		}
		t, err := parseOne(part[0], part[1:])
		if err != nil {
			return err
		}
		chain = append(chain, t)
		part = nil
		return nil
	}
	for _, f := range fields {
		if strings.EqualFold(f, "chain") {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		part = append(part, f)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

func parseOne(name string, args []string) (Transform, error) {
	params := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %q is not a number", ErrBadParameters, name, a)
		}
		params[i] = v
	}
	want := func(n int) error {
		if len(params) != n {
			return fmt.Errorf("%w: %s takes %d parameter(s), got %d", ErrBadParameters, name, n, len(params))
		}
		return nil
	}
	radius := func() (int, error) {
		if err := want(1); err != nil {
			return 0, err
		}
		r := int(params[0])
		if float64(r) != params[0] || r < 1 {
			return 0, fmt.Errorf("%w: %s radius %g must be a positive integer", ErrBadParameters, name, params[0])
		}
		return r, nil
	}

	plain := func(t Transform) (Transform, error) {
		if err := want(0); err != nil {
			return nil, err
		}
		return t, nil
	}

	switch strings.ToLower(name) {
	case "identity":
		return plain(Identity{})
	case "invert":
		return plain(Invert{})
	case "sobelmagnitude":
		return plain(SobelMagnitude{})
	case "sobelorientation":
		return plain(SobelOrientation{})
	case "gaussianfilter":
		if err := want(1); err != nil {
			return nil, err
		}
		if params[0] <= 0 {
			return nil, fmt.Errorf("%w: %s sigma %g must be positive", ErrBadParameters, name, params[0])
		}
		return NewGaussianFilter(params[0]), nil
	case "meanfilter":
		r, err := radius()
		if err != nil {
			return nil, err
		}
		return MeanFilter{Radius: r}, nil
	case "shearletedges", "shearletorientation":
		scales := shearlet.DefaultScales
		switch len(params) {
		case 0:
		case 1:
			scales = int(params[0])
			if float64(scales) != params[0] || scales < 1 || scales > shearlet.MaxScales {
				return nil, fmt.Errorf("%w: %s scales %g must be an integer in 1..%d", ErrBadParameters, name, params[0], shearlet.MaxScales)
			}
		default:
			return nil, fmt.Errorf("%w: %s takes at most 1 parameter, got %d", ErrBadParameters, name, len(params))
		}
		if strings.EqualFold(name, "shearletedges") {
			return ShearletEdges{Scales: scales}, nil
		}
		return ShearletOrientation{Scales: scales}, nil
	case "variancefilter":
		r, err := radius()
		if err != nil {
			return nil, err
		}
		return VarianceFilter{Radius: r}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, name)
}

// Set is the ordered list of transforms whose outputs form the feature
// vector of a site.
type Set []Transform

// ParseSet parses every descriptor, in order.
func ParseSet(descriptors []string) (Set, error) {
	s := make(Set, 0, len(descriptors))
	for _, d := range descriptors {
		t, err := Parse(d)
		if err != nil {
			return nil, err
		}
		s = append(s, t)
	}
	return s, nil
}

// Border is the largest border proposed by a member.
func (s Set) Border() int {
	b := 0
	for _, t := range s {
		b = max(b, t.Border())
	}
	return b
}

// Extract evaluates every transform of the set on in, concurrently. The
// result holds one feature image per transform, in set order.
func (s Set) Extract(ctx context.Context, in *models.Volume, mask models.Mask) ([]*models.Volume, error) {
	out := make([]*models.Volume, len(s))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range s {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := t.Apply(in, mask)
			if err != nil {
				return fmt.Errorf("feature %d (%s): %w", i, t.Name(), err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
