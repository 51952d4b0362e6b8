package adapt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vloison/skada/nn"
	"github.com/vloison/skada/tensor"
)

func TestCaptureRecordsLayerOutput(t *testing.T) {
	// ReLU layers make the expected activations exactly computable.
	model := nn.NewSequential().
		Add("feat", nn.NewReLU()).
		Add("out", nn.NewReLU())
	require.NoError(t, model.Err())

	capture, err := NewCapture([]string{"feat"})
	require.NoError(t, err)
	require.NoError(t, capture.Instrument(model))

	input, err := tensor.NewTensor([]int{2, 3}, tensor.Float32, []float32{
		-1, 2, -3,
		4, -5, 6,
	})
	require.NoError(t, err)
	_, err = model.Forward(input)
	require.NoError(t, err)

	snapshot, err := capture.Snapshot()
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	got, err := snapshot[0].GetFloat32Data()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 2, 0, 4, 0, 6}, got)
}

func TestCaptureOverwritePerForward(t *testing.T) {
	model := nn.NewSequential().
		Add("feat", nn.NewReLU())
	require.NoError(t, model.Err())

	capture, err := NewCapture([]string{"feat"})
	require.NoError(t, err)
	require.NoError(t, capture.Instrument(model))

	source, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{1, 2})
	target, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{7, 8})

	_, err = model.Forward(source)
	require.NoError(t, err)
	sourceSnap, err := capture.Snapshot()
	require.NoError(t, err)

	_, err = model.Forward(target)
	require.NoError(t, err)
	targetSnap, err := capture.Snapshot()
	require.NoError(t, err)

	// The second forward pass overwrote the stored activation, while the
	// earlier snapshot still refers to the source values.
	targetData, _ := targetSnap[0].GetFloat32Data()
	assert.Equal(t, []float32{7, 8}, targetData)
	sourceData, _ := sourceSnap[0].GetFloat32Data()
	assert.Equal(t, []float32{1, 2}, sourceData)
}

func TestCaptureSnapshotOrder(t *testing.T) {
	model := nn.NewSequential().
		Add("a", nn.NewReLU()).
		Add("b", nn.NewReLU())
	require.NoError(t, model.Err())

	capture, err := NewCapture([]string{"b", "a"})
	require.NoError(t, err)
	require.NoError(t, capture.Instrument(model))
	assert.Equal(t, []string{"b", "a"}, capture.LayerNames())
}

func TestCaptureErrors(t *testing.T) {
	t.Run("Empty layer list", func(t *testing.T) {
		_, err := NewCapture(nil)
		assert.Error(t, err)
	})

	t.Run("Duplicate layer", func(t *testing.T) {
		_, err := NewCapture([]string{"feat", "feat"})
		assert.Error(t, err)
	})

	t.Run("Unknown layer is fatal at instrumentation", func(t *testing.T) {
		model := nn.NewSequential().Add("feat", nn.NewReLU())
		capture, err := NewCapture([]string{"missing"})
		require.NoError(t, err)
		assert.Error(t, capture.Instrument(model))
	})

	t.Run("Snapshot before forward", func(t *testing.T) {
		model := nn.NewSequential().Add("feat", nn.NewReLU())
		capture, err := NewCapture([]string{"feat"})
		require.NoError(t, err)
		require.NoError(t, capture.Instrument(model))
		_, err = capture.Snapshot()
		assert.Error(t, err)
	})
}
