// Package classifier maps the feature vector of a site to one probability
// per class. The probability maps of a segmentation are built by running a
// Classifier over every active site.
package classifier

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrFeatureCount indicates a feature vector of the wrong length.
	ErrFeatureCount = errors.New("classifier: wrong number of features")
	// ErrInvalidModel indicates an inconsistent or unsupported model.
	ErrInvalidModel = errors.New("classifier: invalid model")
)

// Classifier assigns class probabilities to a feature vector. Features
// returns the feature descriptors the classifier was trained on, in the
// order Classify expects them.
type Classifier interface {
	Classes() []string
	Features() []string
	Classify(x []float64) ([]float64, error)
}

func checkLen(x []float64, features []string) error {
	if len(x) != len(features) {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), len(features))
	}
	return nil
}

// softmax turns scores into probabilities in place.
func softmax(scores []float64) []float64 {
	lse := floats.LogSumExp(scores)
	for i, s := range scores {
		scores[i] = math.Exp(s - lse)
	}
	return scores
}

// GaussianNaiveBayes models every feature of every class as an independent
// normal distribution.
type GaussianNaiveBayes struct {
	ClassNames   []string
	FeatureNames []string
	// Priors holds one prior per class; nil means uniform.
	Priors []float64
	// Means and StdDevs are indexed [class][feature].
	Means   [][]float64
	StdDevs [][]float64
}

func (g *GaussianNaiveBayes) Classes() []string  { return g.ClassNames }
func (g *GaussianNaiveBayes) Features() []string { return g.FeatureNames }

// Validate checks the parameter dimensions.
func (g *GaussianNaiveBayes) Validate() error {
	k, d := len(g.ClassNames), len(g.FeatureNames)
	if k == 0 || d == 0 {
		return fmt.Errorf("%w: naive Bayes needs classes and features", ErrInvalidModel)
	}
	if g.Priors != nil && len(g.Priors) != k {
		return fmt.Errorf("%w: %d priors for %d classes", ErrInvalidModel, len(g.Priors), k)
	}
	if len(g.Means) != k || len(g.StdDevs) != k {
		return fmt.Errorf("%w: means and stddevs need one row per class", ErrInvalidModel)
	}
	for c := 0; c < k; c++ {
		if len(g.Means[c]) != d || len(g.StdDevs[c]) != d {
			return fmt.Errorf("%w: class %q needs %d means and stddevs", ErrInvalidModel, g.ClassNames[c], d)
		}
		for _, s := range g.StdDevs[c] {
			if !(s > 0) {
				return fmt.Errorf("%w: class %q has a non-positive stddev", ErrInvalidModel, g.ClassNames[c])
			}
		}
	}
	return nil
}

func (g *GaussianNaiveBayes) Classify(x []float64) ([]float64, error) {
	if err := checkLen(x, g.FeatureNames); err != nil {
		return nil, err
	}
	scores := make([]float64, len(g.ClassNames))
	for c := range scores {
		if g.Priors != nil {
			scores[c] = math.Log(g.Priors[c])
		}
		for f, v := range x {
			n := distuv.Normal{Mu: g.Means[c][f], Sigma: g.StdDevs[c][f]}
			scores[c] += n.LogProb(v)
		}
	}
	return softmax(scores), nil
}

// Logistic is a multinomial logistic regression: class scores are affine in
// the features and normalised with a softmax.
type Logistic struct {
	ClassNames   []string
	FeatureNames []string
	// Weights is indexed [class][feature].
	Weights [][]float64
	Bias    []float64
}

func (l *Logistic) Classes() []string  { return l.ClassNames }
func (l *Logistic) Features() []string { return l.FeatureNames }

// Validate checks the parameter dimensions.
func (l *Logistic) Validate() error {
	k, d := len(l.ClassNames), len(l.FeatureNames)
	if k == 0 || d == 0 {
		return fmt.Errorf("%w: logistic model needs classes and features", ErrInvalidModel)
	}
	if len(l.Weights) != k || (l.Bias != nil && len(l.Bias) != k) {
		return fmt.Errorf("%w: weights and bias need one entry per class", ErrInvalidModel)
	}
	for c, w := range l.Weights {
		if len(w) != d {
			return fmt.Errorf("%w: class %q has %d weights, want %d", ErrInvalidModel, l.ClassNames[c], len(w), d)
		}
	}
	return nil
}

func (l *Logistic) Classify(x []float64) ([]float64, error) {
	if err := checkLen(x, l.FeatureNames); err != nil {
		return nil, err
	}
	scores := make([]float64, len(l.ClassNames))
	for c, w := range l.Weights {
		scores[c] = floats.Dot(w, x)
		if l.Bias != nil {
			scores[c] += l.Bias[c]
		}
	}
	return softmax(scores), nil
}

// Func adapts a plain function to the Classifier interface. The function
// may return values outside [0,1]; callers clamp them.
type Func struct {
	ClassNames   []string
	FeatureNames []string
	Fn           func(x []float64) ([]float64, error)
}

func (f Func) Classes() []string  { return f.ClassNames }
func (f Func) Features() []string { return f.FeatureNames }

func (f Func) Classify(x []float64) ([]float64, error) {
	if err := checkLen(x, f.FeatureNames); err != nil {
		return nil, err
	}
	return f.Fn(x)
}
