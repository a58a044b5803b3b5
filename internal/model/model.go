// Package model defines the capability interface the training core expects
// from a trainable model, and a linear reference implementation.
//
// The synchronization protocol never depends on a concrete model type: the
// coordinator serializes an architecture descriptor, each worker rebuilds an
// identical uncompiled shell from it, and all parameter movement happens
// through Params/SetParams. Any type satisfying Trainable can be trained.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
)

// Loss names accepted by Compile.
const (
	LossCategoricalCrossentropy = "categorical_crossentropy"
	LossMeanSquaredError        = "mse"
)

// Trainable is the minimal contract between a model and the training core.
type Trainable interface {
	// Architecture serializes the model's architecture, without weights,
	// for broadcast to workers.
	Architecture() ([]byte, error)

	// Compile configures the loss and the local optimizer settings.
	// Must be called before TrainOnBatch.
	Compile(loss string, opt update.Spec) error

	// Params returns a copy of the trainable parameters.
	Params() tensor.ParameterSet

	// SetParams installs a copy of p as the trainable parameters.
	// Shapes must match the model's own.
	SetParams(p tensor.ParameterSet) error

	// TrainOnBatch runs one optimization step over the batch and returns
	// the mean loss.
	TrainOnBatch(x, y [][]float64) (float64, error)

	// Predict returns per-row model outputs.
	Predict(x [][]float64) [][]float64

	// PredictClasses returns the index of the strongest output per row.
	PredictClasses(x [][]float64) []int

	// Config describes the model for logging and inspection.
	Config() map[string]any
}

// Descriptor is the wire form of a model architecture.
type Descriptor struct {
	Kind    string `json:"kind"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
	Seed    int64  `json:"seed"`
}

// FromArchitecture rebuilds an uncompiled model shell from a serialized
// descriptor. Every worker calling this with the same descriptor gets a
// shell with identical initial parameters.
func FromArchitecture(raw []byte) (Trainable, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse architecture: %w", err)
	}
	switch d.Kind {
	case "linear":
		return NewLinear(d.Inputs, d.Outputs, d.Seed), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", d.Kind)
	}
}

func marshalDescriptor(d Descriptor) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("serialize architecture: %w", err)
	}
	return raw, nil
}
