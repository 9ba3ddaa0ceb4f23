package classifier

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianNaiveBayes(t *testing.T) {
	g := &GaussianNaiveBayes{
		ClassNames:   []string{"background", "vessel"},
		FeatureNames: []string{"Identity"},
		Means:        [][]float64{{0}, {1}},
		StdDevs:      [][]float64{{0.2}, {0.2}},
	}
	require.NoError(t, g.Validate())

	p, err := g.Classify([]float64{0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p, 1e-12)

	p, err = g.Classify([]float64{0.9})
	require.NoError(t, err)
	assert.Greater(t, p[1], 0.99)
	assert.InDelta(t, 1.0, p[0]+p[1], 1e-12)

	// a strong prior moves the decision boundary
	g.Priors = []float64{0.9, 0.1}
	p, err = g.Classify([]float64{0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, p[0], 1e-12)

	_, err = g.Classify([]float64{1, 2})
	assert.True(t, errors.Is(err, ErrFeatureCount))
}

func TestGaussianNaiveBayesValidate(t *testing.T) {
	g := &GaussianNaiveBayes{
		ClassNames:   []string{"a", "b"},
		FeatureNames: []string{"Identity"},
		Means:        [][]float64{{0}, {1}},
		StdDevs:      [][]float64{{1}, {0}},
	}
	assert.True(t, errors.Is(g.Validate(), ErrInvalidModel))

	g.StdDevs = [][]float64{{1}}
	assert.True(t, errors.Is(g.Validate(), ErrInvalidModel))
}

func TestLogistic(t *testing.T) {
	l := &Logistic{
		ClassNames:   []string{"background", "vessel"},
		FeatureNames: []string{"Identity", "SobelMagnitude"},
		Weights:      [][]float64{{0, 0}, {2, 1}},
		Bias:         []float64{0, -1},
	}
	require.NoError(t, l.Validate())

	// 2*0.25 + 1*0.5 - 1 = 0
	p, err := l.Classify([]float64{0.25, 0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p, 1e-12)

	p, err = l.Classify([]float64{3, 3})
	require.NoError(t, err)
	assert.Greater(t, p[1], p[0])

	l.Weights = l.Weights[:1]
	assert.True(t, errors.Is(l.Validate(), ErrInvalidModel))
}

func TestFunc(t *testing.T) {
	f := Func{
		ClassNames:   []string{"only"},
		FeatureNames: []string{"Identity"},
		Fn:           func(x []float64) ([]float64, error) { return []float64{x[0] * 2}, nil },
	}
	p, err := f.Classify([]float64{0.75})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, p)

	_, err = f.Classify(nil)
	assert.True(t, errors.Is(err, ErrFeatureCount))
}

const naiveBayesYAML = `
kind: gaussian-naive-bayes
classes: [background, vessel]
features: ["Identity", "VarianceFilter 1"]
priors: [0.7, 0.3]
means: [[0.1, 0.0], [0.8, 0.05]]
stddevs: [[0.1, 0.01], [0.1, 0.02]]
`

func TestParseModel(t *testing.T) {
	c, err := Parse([]byte(naiveBayesYAML))
	require.NoError(t, err)
	require.IsType(t, &GaussianNaiveBayes{}, c)
	assert.Equal(t, []string{"background", "vessel"}, c.Classes())
	assert.Equal(t, []string{"Identity", "VarianceFilter 1"}, c.Features())

	cases := []struct {
		name string
		yaml string
	}{
		{"UnknownKind", "kind: forest\nclasses: [a]\nfeatures: [Identity]\n"},
		{"NoClasses", "kind: logistic\nfeatures: [Identity]\nweights: [[1]]\n"},
		{"NoFeatures", "kind: logistic\nclasses: [a]\nweights: [[1]]\n"},
		{"NegativePrior", "kind: gaussian-naive-bayes\nclasses: [a]\nfeatures: [Identity]\npriors: [-1]\nmeans: [[0]]\nstddevs: [[1]]\n"},
		{"WrongWeights", "kind: logistic\nclasses: [a, b]\nfeatures: [Identity]\nweights: [[1]]\n"},
		{"Malformed", "kind: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.True(t, errors.Is(err, ErrInvalidModel), "got %v", err)
		})
	}
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	m := &ModelFile{
		Kind:     KindLogistic,
		Classes:  []string{"background", "vessel"},
		Features: []string{"Identity"},
		Weights:  [][]float64{{0}, {4}},
		Bias:     []float64{0, -2},
	}
	require.NoError(t, Save(path, m))

	c, err := Load(path)
	require.NoError(t, err)
	p, err := c.Classify([]float64{0.5})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, p, 1e-12)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
