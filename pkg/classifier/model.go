package classifier

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Model kinds accepted in model files.
const (
	KindNaiveBayes = "gaussian-naive-bayes"
	KindLogistic   = "logistic"
)

// ModelFile is the on-disk description of a trained classifier.
type ModelFile struct {
	Kind     string      `yaml:"kind" validate:"required,oneof=gaussian-naive-bayes logistic"`
	Classes  []string    `yaml:"classes" validate:"required,min=1,max=256,dive,required"`
	Features []string    `yaml:"features" validate:"required,min=1,dive,required"`
	Priors   []float64   `yaml:"priors,omitempty" validate:"omitempty,dive,gt=0"`
	Means    [][]float64 `yaml:"means,omitempty"`
	StdDevs  [][]float64 `yaml:"stddevs,omitempty"`
	Weights  [][]float64 `yaml:"weights,omitempty"`
	Bias     []float64   `yaml:"bias,omitempty"`
}

var validate = validator.New()

// Build validates the description and returns the classifier it describes.
func (m *ModelFile) Build() (Classifier, error) {
	if err := validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	switch m.Kind {
	case KindNaiveBayes:
		g := &GaussianNaiveBayes{
			ClassNames:   m.Classes,
			FeatureNames: m.Features,
			Priors:       m.Priors,
			Means:        m.Means,
			StdDevs:      m.StdDevs,
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
		return g, nil
	default:
		l := &Logistic{
			ClassNames:   m.Classes,
			FeatureNames: m.Features,
			Weights:      m.Weights,
			Bias:         m.Bias,
		}
		if err := l.Validate(); err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Parse decodes a YAML model description.
func Parse(data []byte) (Classifier, error) {
	var m ModelFile
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return m.Build()
}

// Load reads a YAML model file.
func Load(path string) (Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Save writes m as YAML.
func Save(path string, m *ModelFile) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	return nil
}
