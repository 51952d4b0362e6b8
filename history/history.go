// Package history records per-epoch and per-batch training metrics.
package history

import "fmt"

// EpochLog holds the metrics recorded during one epoch. Scalars are
// epoch-level values such as mean losses; Batches holds one metric map
// per processed batch, in order.
type EpochLog struct {
	Epoch   int                  `json:"epoch"`
	Scalars map[string]float64   `json:"scalars"`
	Batches []map[string]float64 `json:"batches"`
}

// History accumulates epoch logs across training runs. It persists
// across repeated PartialFit calls so metric curves continue instead of
// restarting.
type History struct {
	epochs []*EpochLog
}

// New creates an empty history.
func New() *History {
	return &History{}
}

// NewEpoch opens a new epoch log and makes it current.
func (h *History) NewEpoch() {
	h.epochs = append(h.epochs, &EpochLog{
		Epoch:   len(h.epochs) + 1,
		Scalars: make(map[string]float64),
	})
}

// NewBatch opens a new batch record in the current epoch.
func (h *History) NewBatch() {
	epoch := h.current()
	if epoch == nil {
		return
	}
	epoch.Batches = append(epoch.Batches, make(map[string]float64))
}

// Record stores an epoch-level scalar in the current epoch.
func (h *History) Record(name string, value float64) {
	if epoch := h.current(); epoch != nil {
		epoch.Scalars[name] = value
	}
}

// RecordBatch stores a metric in the current batch of the current epoch.
func (h *History) RecordBatch(name string, value float64) {
	epoch := h.current()
	if epoch == nil || len(epoch.Batches) == 0 {
		return
	}
	epoch.Batches[len(epoch.Batches)-1][name] = value
}

func (h *History) current() *EpochLog {
	if len(h.epochs) == 0 {
		return nil
	}
	return h.epochs[len(h.epochs)-1]
}

// NumEpochs returns the number of recorded epochs.
func (h *History) NumEpochs() int {
	return len(h.epochs)
}

// Epoch returns the log for the 1-based epoch number.
func (h *History) Epoch(n int) (*EpochLog, error) {
	if n < 1 || n > len(h.epochs) {
		return nil, fmt.Errorf("epoch %d out of range [1, %d]", n, len(h.epochs))
	}
	return h.epochs[n-1], nil
}

// Last returns the most recent epoch log, or nil if none exist.
func (h *History) Last() *EpochLog {
	return h.current()
}

// EpochScalar returns the named epoch-level metric across all epochs.
// Epochs missing the metric are skipped.
func (h *History) EpochScalar(name string) []float64 {
	var values []float64
	for _, epoch := range h.epochs {
		if v, ok := epoch.Scalars[name]; ok {
			values = append(values, v)
		}
	}
	return values
}

// BatchValues returns the named batch-level metric for the 1-based epoch
// number, in batch order. Batches missing the metric are skipped.
func (h *History) BatchValues(epoch int, name string) ([]float64, error) {
	log, err := h.Epoch(epoch)
	if err != nil {
		return nil, err
	}
	var values []float64
	for _, batch := range log.Batches {
		if v, ok := batch[name]; ok {
			values = append(values, v)
		}
	}
	return values, nil
}
