package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vloison/skada/history"
	"github.com/vloison/skada/nn"
)

func buildModel(t *testing.T, seed int64) *nn.Sequential {
	t.Helper()
	nn.SetRandomSeed(seed)
	feat, err := nn.NewLinear(3, 4, true)
	require.NoError(t, err)
	out, err := nn.NewLinear(4, 2, false)
	require.NoError(t, err)
	model := nn.NewSequential().
		Add("feat", feat).
		Add("act", nn.NewReLU()).
		Add("out", out)
	require.NoError(t, model.Err())
	return model
}

func allWeights(t *testing.T, model *nn.Sequential) []float32 {
	t.Helper()
	var all []float32
	for _, p := range model.Parameters() {
		data, err := p.GetFloat32Data()
		require.NoError(t, err)
		all = append(all, data...)
	}
	return all
}

func TestCheckpointRoundTrip(t *testing.T) {
	model := buildModel(t, 11)

	hist := history.New()
	hist.NewEpoch()
	hist.Record("train_loss", 0.42)
	hist.Record("valid_loss", 0.58)

	ckpt, err := FromModule(model, hist, "round trip")
	require.NoError(t, err)
	assert.NotEmpty(t, ckpt.Metadata.RunID)
	assert.Equal(t, 1, ckpt.TrainingState.Epoch)
	assert.Equal(t, 0.42, ckpt.TrainingState.TrainLoss)
	// weight+bias for feat, weight for out.
	assert.Len(t, ckpt.Weights, 3)
	assert.Equal(t, "feat", ckpt.Weights[0].Layer)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, ckpt.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ckpt.Metadata.RunID, loaded.Metadata.RunID)

	// A differently seeded model converges to the saved weights.
	other := buildModel(t, 99)
	require.NotEqual(t, allWeights(t, model), allWeights(t, other))
	require.NoError(t, loaded.ApplyToModule(other))
	assert.Equal(t, allWeights(t, model), allWeights(t, other))
}

func TestCheckpointArchitectureMismatch(t *testing.T) {
	model := buildModel(t, 1)
	ckpt, err := FromModule(model, nil, "")
	require.NoError(t, err)

	nn.SetRandomSeed(1)
	small, err := nn.NewLinear(2, 2, false)
	require.NoError(t, err)
	wrong := nn.NewSequential().Add("feat", small)
	require.NoError(t, wrong.Err())

	assert.Error(t, ckpt.ApplyToModule(wrong))
}

func TestCheckpointErrors(t *testing.T) {
	t.Run("Nil model", func(t *testing.T) {
		_, err := FromModule(nil, nil, "")
		assert.Error(t, err)
	})

	t.Run("Model without parameters", func(t *testing.T) {
		model := nn.NewSequential().Add("act", nn.NewReLU())
		_, err := FromModule(model, nil, "")
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}
