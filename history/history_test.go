package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	h := New()
	assert.Equal(t, 0, h.NumEpochs())
	assert.Nil(t, h.Last())

	h.NewEpoch()
	h.NewBatch()
	h.RecordBatch("train_loss", 1.5)
	h.RecordBatch("train_batch_size", 4)
	h.NewBatch()
	h.RecordBatch("train_loss", 1.2)
	h.Record("train_loss", 1.35)
	h.Record("train_batch_count", 2)

	h.NewEpoch()
	h.NewBatch()
	h.RecordBatch("train_loss", 0.9)
	h.Record("train_loss", 0.9)

	assert.Equal(t, 2, h.NumEpochs())

	epoch1, err := h.Epoch(1)
	require.NoError(t, err)
	assert.Equal(t, 1, epoch1.Epoch)
	assert.Equal(t, 1.35, epoch1.Scalars["train_loss"])
	assert.Len(t, epoch1.Batches, 2)

	assert.Equal(t, []float64{1.35, 0.9}, h.EpochScalar("train_loss"))

	batches, err := h.BatchValues(1, "train_loss")
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1.2}, batches)

	// Metric only present on the first batch.
	sizes, err := h.BatchValues(1, "train_batch_size")
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, sizes)
}

func TestHistoryOutOfRange(t *testing.T) {
	h := New()
	_, err := h.Epoch(1)
	assert.Error(t, err)
	_, err = h.BatchValues(1, "train_loss")
	assert.Error(t, err)
}

func TestHistoryRecordWithoutEpoch(t *testing.T) {
	h := New()
	// Records before NewEpoch are dropped rather than panicking.
	h.Record("train_loss", 1.0)
	h.NewBatch()
	h.RecordBatch("train_loss", 1.0)
	assert.Equal(t, 0, h.NumEpochs())
}

func TestHistoryPersistsAcrossRuns(t *testing.T) {
	h := New()
	h.NewEpoch()
	h.Record("train_loss", 2.0)

	// A second training run keeps appending to the same history.
	h.NewEpoch()
	h.Record("train_loss", 1.0)

	assert.Equal(t, 2, h.NumEpochs())
	assert.Equal(t, 2, h.Last().Epoch)
}
