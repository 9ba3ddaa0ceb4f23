// Package segmentation runs the complete labelling pipeline: border growth,
// feature extraction, probability maps, label initialisation, annealing of
// the Markov random field and removal of the border.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/gykovacs/vessel-sub007/internal/models"
	"github.com/gykovacs/vessel-sub007/pkg/annealing"
	"github.com/gykovacs/vessel-sub007/pkg/classifier"
	"github.com/gykovacs/vessel-sub007/pkg/features"
	"github.com/gykovacs/vessel-sub007/pkg/mrf"
	"github.com/gykovacs/vessel-sub007/pkg/topology"
)

// DefaultOrientationSource derives the structure direction from the Sobel
// gradient.
const DefaultOrientationSource = "SobelOrientation"

var (
	// ErrInvalidInput indicates missing or inconsistent input grids.
	ErrInvalidInput = errors.New("segmentation: invalid input")
	// ErrClassifierOutput indicates a classifier returning the wrong number
	// of probabilities.
	ErrClassifierOutput = errors.New("segmentation: classifier output does not match its classes")
)

// Params holds the segmentation parameters.
type Params struct {
	// Topology selects the neighbourhood structure: 2d, 3d or hex.
	Topology topology.Kind

	// InterSliceWeight multiplies the pairwise penalty between slices in 3D.
	// Zero means topology.DefaultInterSliceWeight.
	InterSliceWeight float64

	// Model weights the energy terms.
	Model mrf.Params

	// Annealing configures the scheduler.
	Annealing annealing.Options

	// Vector rearranges the feature vector of each site before it is
	// classified.
	Vector features.VectorOptions

	// OrientationSource is the descriptor of the transform deriving the
	// structure direction when the directional term is on and the input
	// carries none. Empty means DefaultOrientationSource.
	OrientationSource string

	// NormalizeProbabilities divides the probabilities of each site by
	// their sum before clamping.
	NormalizeProbabilities bool

	// MinBorder is the least border grown around the grid. The border is
	// at least 1 and at least what the feature transforms propose.
	MinBorder int

	// Workers bounds the goroutines computing probability maps. Zero means
	// one per CPU.
	Workers int

	// Observers receive annealing progress in addition to the log.
	Observers []annealing.Observer

	// RunID tags log records; a random UUID is used when empty.
	RunID string

	// Logger receives progress records; slog.Default() when nil.
	Logger *slog.Logger
}

// Input gathers the grids of one segmentation. Only Grid is required.
type Input struct {
	// Grid holds the intensities.
	Grid *models.Volume

	// Mask restricts the labelling; nil means every site.
	Mask models.Mask

	// Support marks sites whose smoothness term is switched off with
	// mrf.SupportSeam.
	Support *models.ByteVolume

	// Orientation holds the local structure direction in radians for the
	// directional term. It is derived from Grid when nil and needed.
	Orientation *models.Volume
}

// MapStats summarises the probability map of one class over the active
// sites.
type MapStats struct {
	Class   string
	Min     float64
	Max     float64
	Mean    float64
	Clamped int
}

// Result is the outcome of a segmentation.
type Result struct {
	// RunID identifies the run in logs and metrics.
	RunID string

	// Labels has the shape of the input grid.
	Labels *models.LabelField

	// Probabilities holds one map per class, cropped to the input shape.
	Probabilities []*models.Volume

	// Stats describes the probability maps.
	Stats []MapStats

	// Annealing reports how the optimisation ended.
	Annealing annealing.Result

	// Duration is the wall time of the whole pipeline.
	Duration time.Duration
}

// Segmenter labels volumes with a fixed classifier and parameter set. It
// holds no per-run state, so one Segmenter may serve concurrent runs. The
// classifier is called from several goroutines.
type Segmenter struct {
	params      Params
	classifier  classifier.Classifier
	features    features.Set
	orientation features.Transform
}

// NewSegmenter parses the feature descriptors of clf and validates params.
func NewSegmenter(clf classifier.Classifier, params Params) (*Segmenter, error) {
	if clf == nil {
		return nil, fmt.Errorf("%w: classifier is required", ErrInvalidInput)
	}
	if k := len(clf.Classes()); k == 0 || k > mrf.MaxClasses {
		return nil, fmt.Errorf("%w: got %d", mrf.ErrNoClasses, k)
	}
	if err := params.Annealing.Validate(); err != nil {
		return nil, err
	}
	set, err := features.ParseSet(clf.Features())
	if err != nil {
		return nil, err
	}
	if params.OrientationSource == "" {
		params.OrientationSource = DefaultOrientationSource
	}
	orientation, err := features.Parse(params.OrientationSource)
	if err != nil {
		return nil, fmt.Errorf("orientation source: %w", err)
	}
	if params.Workers <= 0 {
		params.Workers = runtime.NumCPU()
	}
	if params.Topology == "" {
		params.Topology = topology.Kind2D
	}
	return &Segmenter{params: params, classifier: clf, features: set, orientation: orientation}, nil
}

// Border returns the border grown around a grid of the given shape.
func (s *Segmenter) Border(shape models.Shape) models.Border {
	w := max(s.features.Border(), s.params.MinBorder, 1)
	if s.params.Model.Gamma != 0 {
		w = max(w, s.orientation.Border())
	}
	b := models.UniformBorder(shape, w)
	switch s.params.Topology {
	case topology.Kind3D:
		// the outermost slices must be interior to be sampled
		b.Slices = w
	case topology.KindHex:
		// the lattice pattern follows row parity, so rows grow in pairs
		b.Slices = 0
		b.Rows += b.Rows % 2
	}
	return b
}

func (s *Segmenter) validate(in Input) error {
	if in.Grid == nil || !in.Grid.Valid() || len(in.Grid.Data) != in.Grid.Len() {
		return fmt.Errorf("%w: grid is missing or malformed", ErrInvalidInput)
	}
	shape := in.Grid.Shape
	if in.Mask != nil && len(in.Mask) != shape.Len() {
		return fmt.Errorf("%w: mask has %d sites, grid %s", ErrInvalidInput, len(in.Mask), shape)
	}
	if in.Support != nil && in.Support.Shape != shape {
		return fmt.Errorf("%w: support %s, grid %s", ErrInvalidInput, in.Support.Shape, shape)
	}
	if in.Orientation != nil && in.Orientation.Shape != shape {
		return fmt.Errorf("%w: orientation %s, grid %s", ErrInvalidInput, in.Orientation.Shape, shape)
	}
	return nil
}

// Run segments in. Cancelling ctx aborts the preparation phases; the
// annealing loop itself runs to one of its stop conditions.
func (s *Segmenter) Run(ctx context.Context, in Input) (*Result, error) {
	start := time.Now()
	if err := s.validate(in); err != nil {
		return nil, err
	}

	runID := s.params.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := s.params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", runID)

	shape := in.Grid.Shape
	border := s.Border(shape)
	grid := models.PadMirrored(in.Grid, border)
	padded := grid.Shape
	mask := models.PadMask(in.Mask, shape, border)
	support := models.PadBytes(in.Support, border)
	logger.Info("segmentation started",
		"shape", shape.String(),
		"padded", padded.String(),
		"topology", string(s.params.Topology),
		"classes", len(s.classifier.Classes()),
		"active_sites", mask.Count(len(mask)))

	topo, err := topology.New(s.params.Topology, padded, s.params.InterSliceWeight)
	if err != nil {
		return nil, err
	}

	feats, err := s.features.Extract(ctx, grid, nil)
	if err != nil {
		return nil, fmt.Errorf("feature extraction: %w", err)
	}
	probs, stats, err := s.probabilityMaps(ctx, feats, mask)
	if err != nil {
		return nil, err
	}
	for _, st := range stats {
		logger.Info("probability map",
			"class", st.Class,
			"min", st.Min,
			"max", st.Max,
			"mean", st.Mean,
			"clamped", st.Clamped)
	}

	var orientation []float64
	if s.params.Model.Gamma != 0 {
		if in.Orientation != nil {
			orientation = models.PadMirrored(in.Orientation, border).Data
		} else {
			o, err := s.orientation.Apply(grid, nil)
			if err != nil {
				return nil, fmt.Errorf("orientation: %w", err)
			}
			orientation = o.Data
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	labels := models.NewLabelField(padded)
	model, err := mrf.NewModel(mrf.Input{
		Topology:      topo,
		Probabilities: probs,
		Labels:        labels,
		Mask:          mask,
		Support:       support,
		Orientation:   orientation,
	}, s.params.Model)
	if err != nil {
		return nil, err
	}
	field, err := mrf.NewField(model)
	if err != nil {
		return nil, err
	}

	observers := append([]annealing.Observer{annealing.LogObserver{Logger: logger}}, s.params.Observers...)
	scheduler, err := annealing.NewScheduler[mrf.Move](s.params.Annealing, observers...)
	if err != nil {
		return nil, err
	}
	field.Randomize(scheduler.Rand())
	logger.Info("annealing started",
		"sampleable_sites", len(field.Sites()),
		"beta", s.params.Model.Beta,
		"gamma", s.params.Model.Gamma,
		"policy", s.params.Model.Policy.String(),
		"temperature0", s.params.Annealing.Temperature0)

	run := scheduler.Run(field)

	res := &Result{
		RunID:         runID,
		Labels:        models.CropLabels(labels, border),
		Probabilities: make([]*models.Volume, len(probs)),
		Stats:         stats,
		Annealing:     run,
	}
	for c, p := range probs {
		res.Probabilities[c] = models.CropVolume(&models.Volume{Shape: padded, Data: p}, border)
	}
	res.Duration = time.Since(start)
	logger.Info("segmentation finished",
		"reason", run.Reason.String(),
		"iterations", run.Iterations,
		"objective", run.Objective,
		"histogram", res.Labels.Histogram(len(probs)),
		"duration", res.Duration)
	return res, nil
}

// probabilityMaps classifies every active site. Sites are split in
// contiguous chunks, one per worker, so writes never overlap.
func (s *Segmenter) probabilityMaps(ctx context.Context, feats []*models.Volume, mask models.Mask) ([][]float64, []MapStats, error) {
	n := len(mask)
	classes := s.classifier.Classes()
	k := len(classes)
	probs := make([][]float64, k)
	for c := range probs {
		probs[c] = make([]float64, n)
	}

	workers := min(s.params.Workers, n)
	chunk := (n + workers - 1) / workers
	clamped := make([][]int, workers)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		clamped[w] = make([]int, k)
		g.Go(func() error {
			x := make([]float64, len(feats))
			var buf []float64
			for site := lo; site < hi; site++ {
				if (site-lo)%4096 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if !mask[site] {
					continue
				}
				for f, v := range feats {
					x[f] = v.Data[site]
				}
				if s.params.Vector.Enabled() {
					buf = s.params.Vector.Apply(x, buf)
				}
				p, err := s.classifier.Classify(x)
				if err != nil {
					return fmt.Errorf("classify site %d: %w", site, err)
				}
				if len(p) != k {
					return fmt.Errorf("%w: got %d values for %d classes", ErrClassifierOutput, len(p), k)
				}
				if s.params.NormalizeProbabilities {
					if sum := floats.Sum(p); sum > 0 {
						floats.Scale(1/sum, p)
					}
				}
				for c, v := range p {
					if !(v >= 0 && v <= 1) {
						v = 0
						clamped[w][c]++
					}
					probs[c][site] = v
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	stats := make([]MapStats, k)
	active := make([]float64, 0, mask.Count(n))
	for c := range probs {
		active = active[:0]
		for site, on := range mask {
			if on {
				active = append(active, probs[c][site])
			}
		}
		st := MapStats{Class: classes[c]}
		if len(active) > 0 {
			st.Min, st.Max, st.Mean = floats.Min(active), floats.Max(active), stat.Mean(active, nil)
		} else {
			st.Min, st.Max, st.Mean = math.NaN(), math.NaN(), math.NaN()
		}
		for w := range clamped {
			st.Clamped += clamped[w][c]
		}
		stats[c] = st
	}
	return probs, stats, nil
}
