package segmentation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gykovacs/vessel-sub007/internal/models"
	"github.com/gykovacs/vessel-sub007/pkg/annealing"
	"github.com/gykovacs/vessel-sub007/pkg/classifier"
	"github.com/gykovacs/vessel-sub007/pkg/features"
	"github.com/gykovacs/vessel-sub007/pkg/mrf"
	"github.com/gykovacs/vessel-sub007/pkg/topology"
)

// threshold classifies bright sites as vessel.
var threshold = classifier.Func{
	ClassNames:   []string{"background", "vessel"},
	FeatureNames: []string{"Identity"},
	Fn: func(x []float64) ([]float64, error) {
		return []float64{1 - x[0], x[0]}, nil
	},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func testParams() Params {
	return Params{
		Topology: topology.Kind2D,
		Model:    mrf.Params{Beta: 0.2, Policy: mrf.PottsHard},
		Annealing: annealing.Options{
			Temperature0:  0.5,
			Epsilon:       1e-5,
			AnnealingRate: 0.999,
			MaxIterations: 10000000,
			CheckInterval: 1000000000,
			Seed:          7,
		},
		Workers: 3,
		Logger:  quietLogger(),
	}
}

// halves returns a volume dark in the left half of every slice and bright
// in the right half.
func halves(slices, rows, cols int) *models.Volume {
	v := models.NewVolume(models.Shape{Slices: slices, Rows: rows, Columns: cols})
	for s := 0; s < slices; s++ {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				value := 0.1
				if c >= cols/2 {
					value = 0.9
				}
				v.Set(s, r, c, value)
			}
		}
	}
	return v
}

func requireHalves(t *testing.T, l *models.LabelField) {
	t.Helper()
	for i, label := range l.Labels {
		_, _, c := l.Coord(i)
		want := uint8(0)
		if c >= l.Columns/2 {
			want = 1
		}
		require.Equalf(t, want, label, "site %d", i)
	}
}

func TestSingleClassPipelineStalls(t *testing.T) {
	clf := classifier.Func{
		ClassNames:   []string{"tissue"},
		FeatureNames: []string{"Identity"},
		Fn:           func([]float64) ([]float64, error) { return []float64{1}, nil },
	}
	params := testParams()
	params.Annealing = annealing.DefaultOptions()
	params.Annealing.CheckInterval = 1000
	seg, err := NewSegmenter(clf, params)
	require.NoError(t, err)

	grid := halves(1, 6, 6)
	mask := make(models.Mask, grid.Len())
	for i := range mask {
		mask[i] = i%2 == 0
	}
	res, err := seg.Run(context.Background(), Input{Grid: grid, Mask: mask})
	require.NoError(t, err)

	assert.Equal(t, annealing.StopStalled, res.Annealing.Reason)
	assert.LessOrEqual(t, res.Annealing.Iterations, int64(1000))
	assert.Equal(t, grid.Shape, res.Labels.Shape)
	assert.Equal(t, []int{36}, res.Labels.Histogram(1))
}

func TestThresholdImage2D(t *testing.T) {
	seg, err := NewSegmenter(threshold, testParams())
	require.NoError(t, err)

	res, err := seg.Run(context.Background(), Input{Grid: halves(1, 6, 8)})
	require.NoError(t, err)
	assert.Equal(t, annealing.StopTemperatureFloor, res.Annealing.Reason)
	requireHalves(t, res.Labels)

	require.Len(t, res.Probabilities, 2)
	assert.Equal(t, models.Shape2D(6, 8), res.Probabilities[1].Shape)
	assert.InDelta(t, 0.9, res.Probabilities[1].At(0, 0, 7), 1e-12)
	require.Len(t, res.Stats, 2)
	assert.InDelta(t, 0.1, res.Stats[1].Min, 1e-12)
	assert.InDelta(t, 0.9, res.Stats[1].Max, 1e-12)
	assert.InDelta(t, 0.5, res.Stats[1].Mean, 1e-12)
	assert.Equal(t, 0, res.Stats[1].Clamped)
}

func TestThresholdVolume3D(t *testing.T) {
	params := testParams()
	params.Topology = topology.Kind3D
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)

	// every slice, the outermost included, must be sampled
	res, err := seg.Run(context.Background(), Input{Grid: halves(3, 4, 6)})
	require.NoError(t, err)
	assert.Equal(t, models.Shape{Slices: 3, Rows: 4, Columns: 6}, res.Labels.Shape)
	requireHalves(t, res.Labels)
}

func TestThresholdHex(t *testing.T) {
	params := testParams()
	params.Topology = topology.KindHex
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)

	res, err := seg.Run(context.Background(), Input{Grid: halves(2, 5, 6)})
	require.NoError(t, err)
	requireHalves(t, res.Labels)
}

func TestInactiveSitesStayBackground(t *testing.T) {
	seg, err := NewSegmenter(threshold, testParams())
	require.NoError(t, err)

	grid := halves(1, 4, 4)
	mask := make(models.Mask, grid.Len())
	for i := range mask {
		mask[i] = i < 8
	}
	res, err := seg.Run(context.Background(), Input{Grid: grid, Mask: mask})
	require.NoError(t, err)
	for i := 8; i < 16; i++ {
		assert.Equal(t, uint8(0), res.Labels.Labels[i])
	}
	// inactive sites are not classified
	assert.Equal(t, 0.0, res.Probabilities[1].Data[15])
}

func TestDirectionalTermWithDerivedOrientation(t *testing.T) {
	params := testParams()
	params.Model.Gamma = 0.05
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)

	res, err := seg.Run(context.Background(), Input{Grid: halves(1, 6, 6)})
	require.NoError(t, err)
	requireHalves(t, res.Labels)
}

func TestShearletOrientationSource(t *testing.T) {
	params := testParams()
	params.Model.Gamma = 0.05
	params.OrientationSource = "ShearletOrientation 1"
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)
	assert.Equal(t, models.Border{Rows: 2, Columns: 2}, seg.Border(models.Shape2D(6, 6)))

	res, err := seg.Run(context.Background(), Input{Grid: halves(1, 6, 6)})
	require.NoError(t, err)
	requireHalves(t, res.Labels)

	// the source is only consulted by the directional term
	params.Model.Gamma = 0
	seg, err = NewSegmenter(threshold, params)
	require.NoError(t, err)
	assert.Equal(t, models.Border{Rows: 1, Columns: 1}, seg.Border(models.Shape2D(6, 6)))

	params.OrientationSource = "Wavelet"
	_, err = NewSegmenter(threshold, params)
	assert.True(t, errors.Is(err, features.ErrUnknownTransform))
}

// ordered accepts only feature vectors whose first component is not
// larger than the second, or not smaller when descending is set.
func ordered(descending bool) classifier.Func {
	return classifier.Func{
		ClassNames:   []string{"background", "vessel"},
		FeatureNames: []string{"Identity", "Invert"},
		Fn: func(x []float64) ([]float64, error) {
			if (x[0] > x[1]) != descending && x[0] != x[1] {
				return nil, fmt.Errorf("unordered vector %v", x)
			}
			return []float64{0.5, 0.5}, nil
		},
	}
}

func TestVectorOptionsRunBeforeClassification(t *testing.T) {
	grid := halves(1, 4, 4)
	run := func(clf classifier.Func, vector features.VectorOptions) error {
		params := testParams()
		params.Vector = vector
		seg, err := NewSegmenter(clf, params)
		require.NoError(t, err)
		_, err = seg.Run(context.Background(), Input{Grid: grid})
		return err
	}

	// identity and inverted intensity swap order between the halves
	assert.Error(t, run(ordered(true), features.VectorOptions{}))
	assert.NoError(t, run(ordered(true), features.VectorOptions{Sort: true}))

	assert.Error(t, run(ordered(false), features.VectorOptions{}))
	assert.NoError(t, run(ordered(false), features.VectorOptions{ShiftToMin: true}))
	assert.Error(t, run(ordered(false), features.VectorOptions{ShiftToMax: true}))
	assert.NoError(t, run(ordered(true), features.VectorOptions{ShiftToMax: true}))

	// smoothing two components pulls them towards each other, keeping order
	assert.Error(t, run(ordered(false), features.VectorOptions{Gauss: true}))
	assert.NoError(t, run(ordered(false), features.VectorOptions{Gauss: true, ShiftToMin: true}))
}

func TestProbabilityClampingAndNormalization(t *testing.T) {
	raw := classifier.Func{
		ClassNames:   []string{"a", "b"},
		FeatureNames: []string{"Identity"},
		Fn:           func([]float64) ([]float64, error) { return []float64{-0.5, 1.5}, nil },
	}
	seg, err := NewSegmenter(raw, testParams())
	require.NoError(t, err)
	res, err := seg.Run(context.Background(), Input{Grid: halves(1, 3, 3)})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Stats[0].Clamped)
	assert.Equal(t, 9, res.Stats[1].Clamped)
	assert.Equal(t, 0.0, res.Stats[1].Max)

	scores := classifier.Func{
		ClassNames:   []string{"a", "b"},
		FeatureNames: []string{"Identity"},
		Fn:           func([]float64) ([]float64, error) { return []float64{1, 3}, nil },
	}
	params := testParams()
	params.NormalizeProbabilities = true
	seg, err = NewSegmenter(scores, params)
	require.NoError(t, err)
	res, err = seg.Run(context.Background(), Input{Grid: halves(1, 3, 3)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats[1].Clamped)
	assert.InDelta(t, 0.75, res.Stats[1].Mean, 1e-12)
	assert.Equal(t, []int{0, 9}, res.Labels.Histogram(2))
}

func TestBorder(t *testing.T) {
	clf := threshold
	clf.FeatureNames = []string{"Identity", "VarianceFilter 3"}

	cases := []struct {
		kind      topology.Kind
		minBorder int
		shape     models.Shape
		want      models.Border
	}{
		{topology.Kind2D, 0, models.Shape2D(5, 5), models.Border{Rows: 3, Columns: 3}},
		{topology.Kind2D, 5, models.Shape2D(5, 5), models.Border{Rows: 5, Columns: 5}},
		{topology.Kind3D, 0, models.Shape{Slices: 1, Rows: 5, Columns: 5}, models.Border{Slices: 3, Rows: 3, Columns: 3}},
		{topology.KindHex, 0, models.Shape{Slices: 4, Rows: 5, Columns: 5}, models.Border{Rows: 4, Columns: 3}},
		{topology.KindHex, 4, models.Shape{Slices: 1, Rows: 5, Columns: 5}, models.Border{Rows: 4, Columns: 4}},
	}
	for _, tc := range cases {
		params := testParams()
		params.Topology = tc.kind
		params.MinBorder = tc.minBorder
		seg, err := NewSegmenter(clf, params)
		require.NoError(t, err)
		assert.Equal(t, tc.want, seg.Border(tc.shape), string(tc.kind))
	}

	seg, err := NewSegmenter(classifier.Func{ClassNames: []string{"a"}}, testParams())
	require.NoError(t, err)
	assert.Equal(t, models.Border{Rows: 1, Columns: 1}, seg.Border(models.Shape2D(3, 3)))
}

func adjacent(topo topology.Topology, a, b int) bool {
	for _, n := range topo.Neighbors(a, nil) {
		if n.Site == b {
			return true
		}
	}
	return false
}

func TestHexBorderKeepsLattice(t *testing.T) {
	params := testParams()
	params.Topology = topology.KindHex
	for _, minBorder := range []int{0, 1, 2, 3} {
		params.MinBorder = minBorder
		seg, err := NewSegmenter(threshold, params)
		require.NoError(t, err)

		shape := models.Shape{Slices: 2, Rows: 3, Columns: 3}
		b := seg.Border(shape)
		require.Zero(t, b.Rows%2, "border %+v", b)
		padded := b.Grow(shape)
		inner, outer := topology.NewHex(shape), topology.NewHex(padded)

		for i := 0; i < shape.Len(); i++ {
			s, r, c := shape.Coord(i)
			pi := padded.Index(s+b.Slices, r+b.Rows, c+b.Columns)
			for j := 0; j < shape.Len(); j++ {
				s2, r2, c2 := shape.Coord(j)
				pj := padded.Index(s2+b.Slices, r2+b.Rows, c2+b.Columns)
				assert.Equal(t, adjacent(inner, i, j), adjacent(outer, pi, pj),
					"min border %d: (%d,%d,%d)~(%d,%d,%d)", minBorder, s, r, c, s2, r2, c2)
			}
		}
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSegmenter(nil, testParams())
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NewSegmenter(classifier.Func{}, testParams())
	assert.True(t, errors.Is(err, mrf.ErrNoClasses))

	bad := testParams()
	bad.Annealing.AnnealingRate = 1
	_, err = NewSegmenter(threshold, bad)
	assert.True(t, errors.Is(err, annealing.ErrInvalidOptions))

	unknown := threshold
	unknown.FeatureNames = []string{"Wavelet 3"}
	_, err = NewSegmenter(unknown, testParams())
	assert.True(t, errors.Is(err, features.ErrUnknownTransform))

	seg, err := NewSegmenter(threshold, testParams())
	require.NoError(t, err)

	_, err = seg.Run(ctx, Input{})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = seg.Run(ctx, Input{Grid: halves(1, 3, 3), Mask: make(models.Mask, 4)})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = seg.Run(ctx, Input{Grid: halves(1, 3, 3), Mask: make(models.Mask, 9)})
	assert.True(t, errors.Is(err, mrf.ErrEmptyMask))

	_, err = seg.Run(ctx, Input{Grid: halves(2, 3, 3)})
	assert.True(t, errors.Is(err, topology.ErrInvalidShape))

	wrong := threshold
	wrong.Fn = func([]float64) ([]float64, error) { return []float64{1}, nil }
	seg, err = NewSegmenter(wrong, testParams())
	require.NoError(t, err)
	_, err = seg.Run(ctx, Input{Grid: halves(1, 3, 3)})
	assert.True(t, errors.Is(err, ErrClassifierOutput))

	directional := testParams()
	directional.Topology = topology.Kind3D
	directional.Model.Gamma = 1
	seg, err = NewSegmenter(threshold, directional)
	require.NoError(t, err)
	_, err = seg.Run(ctx, Input{Grid: halves(2, 3, 3)})
	assert.True(t, errors.Is(err, mrf.ErrDirectionalNot2D))
}

func TestRunHonoursCancelledContext(t *testing.T) {
	seg, err := NewSegmenter(threshold, testParams())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seg.Run(ctx, Input{Grid: halves(1, 4, 4)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	var finals atomic.Int64
	params := testParams()
	params.Observers = []annealing.Observer{annealing.ObserverFunc(func(p annealing.Progress) {
		if p.Reason != annealing.StopNone {
			finals.Add(1)
		}
	})}
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)

	grid := halves(1, 8, 8)
	for i := range grid.Data {
		// ambiguous sites make the result depend on the random stream
		if i%3 == 0 {
			grid.Data[i] = 0.5
		}
	}

	results := make([]*Result, 6)
	var g errgroup.Group
	for i := range results {
		g.Go(func() error {
			res, err := seg.Run(context.Background(), Input{Grid: grid})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(len(results)), finals.Load())
	for _, res := range results[1:] {
		assert.Equal(t, results[0].Labels, res.Labels)
		assert.Equal(t, results[0].Annealing, res.Annealing)
		assert.NotEqual(t, results[0].RunID, res.RunID)
	}
}

func TestRunLogsWithRunID(t *testing.T) {
	var buf bytes.Buffer
	params := testParams()
	params.RunID = "run-42"
	params.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	seg, err := NewSegmenter(threshold, params)
	require.NoError(t, err)

	res, err := seg.Run(context.Background(), Input{Grid: halves(1, 4, 4)})
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)

	out := buf.String()
	assert.True(t, strings.Contains(out, "run_id=run-42"), out)
	assert.True(t, strings.Contains(out, "msg=\"annealing stopped\""), out)
	assert.True(t, strings.Contains(out, "msg=\"segmentation finished\""), out)
}
