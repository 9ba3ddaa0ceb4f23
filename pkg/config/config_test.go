package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gykovacs/vessel-sub007/pkg/features"
	"github.com/gykovacs/vessel-sub007/pkg/mrf"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	opts := cfg.AnnealingOptions()
	assert.Equal(t, 0.1, opts.Temperature0)
	assert.Equal(t, 1e-7, opts.Epsilon)
	assert.Equal(t, 0.999999, opts.AnnealingRate)
	assert.Equal(t, int64(100000000000), opts.MaxIterations)
	assert.Equal(t, int64(1000000), opts.CheckInterval)
	require.NoError(t, opts.Validate())

	params, err := cfg.ModelParams()
	require.NoError(t, err)
	assert.Equal(t, mrf.Params{Beta: 1, Gamma: 0, Policy: mrf.PottsBackgroundContrast}, params)
	assert.Equal(t, "2d", cfg.Model.Topology)
	assert.Equal(t, 2.0, cfg.Model.InterSliceWeight)
	assert.Equal(t, "SobelOrientation", cfg.Model.Orientation)
	assert.False(t, cfg.VectorOptions().Enabled())
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
annealing:
  temperature0: 0.5
  seed: 42
model:
  topology: 3d
  pairwise: hard
  gamma: 0
  orientation: ShearletOrientation 2
features:
  sort: true
  shiftToMin: true
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Annealing.Temperature0)
	assert.Equal(t, uint64(42), cfg.Annealing.Seed)
	assert.Equal(t, 1e-7, cfg.Annealing.Epsilon)
	assert.Equal(t, "3d", cfg.Model.Topology)

	params, err := cfg.ModelParams()
	require.NoError(t, err)
	assert.Equal(t, mrf.PottsHard, params.Policy)
	assert.Equal(t, "ShearletOrientation 2", cfg.Model.Orientation)
	assert.Equal(t, features.VectorOptions{Sort: true, ShiftToMin: true}, cfg.VectorOptions())

	cfg.Features.Gauss, cfg.Features.ShiftToMax = true, true
	assert.Equal(t, features.VectorOptions{Gauss: true, Sort: true, ShiftToMax: true, ShiftToMin: true}, cfg.VectorOptions())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"annealing.epsilon":       "annealing:\n  epsilon: 1.5\n",
		"annealing.annealingRate": "annealing:\n  annealingRate: 0\n",
		"annealing.checkInterval": "annealing:\n  checkInterval: 0\n",
		"model.topology":          "model:\n  topology: torus\n",
		"model.pairwise":          "model:\n  pairwise: ising\n",
		"model.beta":              "model:\n  beta: -1\n",
		"model.orientation":       "model:\n  orientation: \"\"\n",
		"output.logFormat":        "output:\n  logFormat: xml\n",
	}
	for key, body := range cases {
		t.Run(key, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := LoadConfig(path)
			require.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			assert.Contains(t, err.Error(), key+":")
			assert.NotContains(t, err.Error(), "Config.")
		})
	}
}

func TestValidateListsEveryKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Annealing.Temperature0 = 0
	cfg.Features.Workers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "annealing.temperature0: 0 does not satisfy gt=0")
	assert.Contains(t, err.Error(), "features.workers: 0 does not satisfy gte=1")
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("annealing: [\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestCreateDefaultConfigFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
