// Package checkpoints serializes model weights and training progress to
// JSON so runs can be resumed or shipped.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vloison/skada/history"
	"github.com/vloison/skada/nn"
)

const formatVersion = "1.0"

// Checkpoint represents a complete model state including weights and
// training metadata.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
}

// TrainingState captures the training progress at save time.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	TrainLoss    float64 `json:"train_loss,omitempty"`
	ValidLoss    float64 `json:"valid_loss,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
}

// Metadata identifies a checkpoint.
type Metadata struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// FromModule builds a checkpoint from the model's named parameters and
// the most recent history entry. hist may be nil for an untrained model.
func FromModule(model *nn.Sequential, hist *history.History, description string) (*Checkpoint, error) {
	if model == nil {
		return nil, fmt.Errorf("model must not be nil")
	}

	named := model.NamedParameters()
	if len(named) == 0 {
		return nil, fmt.Errorf("model has no parameters to save")
	}

	weights := make([]WeightTensor, 0, len(named))
	for _, np := range named {
		data, err := np.Tensor.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %v", np.Name, err)
		}
		stored := make([]float32, len(data))
		copy(stored, data)

		layer := np.Name
		if i := strings.LastIndex(np.Name, "."); i >= 0 {
			layer = np.Name[:i]
		}
		weights = append(weights, WeightTensor{
			Name:  np.Name,
			Shape: append([]int(nil), np.Tensor.Shape...),
			Data:  stored,
			Layer: layer,
		})
	}

	state := TrainingState{}
	if hist != nil {
		state.Epoch = hist.NumEpochs()
		if last := hist.Last(); last != nil {
			state.TrainLoss = last.Scalars["train_loss"]
			state.ValidLoss = last.Scalars["valid_loss"]
		}
	}

	return &Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: Metadata{
			RunID:       uuid.NewString(),
			Version:     formatVersion,
			CreatedAt:   time.Now().UTC(),
			Description: description,
		},
	}, nil
}

// ApplyToModule copies the checkpoint's weights into a model with the
// same architecture. Every stored parameter must match a model parameter
// by name and shape.
func (c *Checkpoint) ApplyToModule(model *nn.Sequential) error {
	if model == nil {
		return fmt.Errorf("model must not be nil")
	}

	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	named := model.NamedParameters()
	if len(named) != len(c.Weights) {
		return fmt.Errorf("parameter count mismatch: model has %d, checkpoint has %d",
			len(named), len(c.Weights))
	}

	for _, np := range named {
		w, ok := byName[np.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", np.Name)
		}
		if len(w.Shape) != len(np.Tensor.Shape) {
			return fmt.Errorf("parameter %q: shape %v does not match %v", np.Name, w.Shape, np.Tensor.Shape)
		}
		for i := range w.Shape {
			if w.Shape[i] != np.Tensor.Shape[i] {
				return fmt.Errorf("parameter %q: shape %v does not match %v", np.Name, w.Shape, np.Tensor.Shape)
			}
		}
		if err := np.Tensor.SetData(w.Data); err != nil {
			return fmt.Errorf("parameter %q: %v", np.Name, err)
		}
	}
	return nil
}

// Save writes the checkpoint to path as JSON.
func (c *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint: %v", err)
	}
	if checkpoint.Metadata.Version == "" {
		return nil, fmt.Errorf("checkpoint has no version metadata")
	}
	if len(checkpoint.Weights) == 0 {
		return nil, fmt.Errorf("checkpoint contains no weights")
	}
	return &checkpoint, nil
}
