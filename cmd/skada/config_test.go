package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRng() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, 32, cfg.BatchSize)
	assert.Equal(t, "coral", cfg.Method)
	assert.Equal(t, "sgd", cfg.Optimizer)
	assert.True(t, cfg.Shuffle)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skada.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 3\nmethod: mmd\nlr: 0.5\n"), 0644))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, "mmd", cfg.Method)
	assert.Equal(t, 0.5, cfg.LR)
	// Untouched keys keep their defaults.
	assert.Equal(t, 32, cfg.BatchSize)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skada.yaml")
	require.NoError(t, os.WriteFile(path, []byte("epochs: 3\n"), 0644))

	t.Setenv("SKADA_EPOCHS", "7")
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Epochs)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	t.Setenv("SKADA_EPOCHS", "7")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("epochs", 10, "")
	flags.String("method", "coral", "")
	require.NoError(t, flags.Parse([]string{"--epochs=5", "--method=mmd"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, "mmd", cfg.Method)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad epochs", "epochs: 0\n"},
		{"bad method", "method: adversarial\n"},
		{"bad optimizer", "optimizer: lbfgs\n"},
		{"bad lr", "lr: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "skada.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0644))
			_, err := LoadConfig(path, nil)
			assert.Error(t, err)
		})
	}
}

func TestMakeBlobs(t *testing.T) {
	rng := newTestRng()
	X, y := makeBlobs(10, 0, 0, rng)
	require.Len(t, X, 10)
	require.Len(t, y, 10)
	for i := range X {
		want := float32(-1)
		if y[i] == 1 {
			want = 1
		}
		assert.Equal(t, want, X[i][0])
		assert.Equal(t, want, X[i][1])
	}
}
