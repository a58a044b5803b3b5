package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/slices"

	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
)

var knownLosses = []string{LossCategoricalCrossentropy, LossMeanSquaredError}

// Linear is a single-layer classifier: outputs = x·W + b, trained with
// plain SGD. With the categorical cross-entropy loss it is a softmax
// classifier; with mse it is a linear regressor.
type Linear struct {
	inputs  int
	outputs int
	seed    int64

	w tensor.Tensor // Shape [inputs, outputs], row-major
	b tensor.Tensor // Shape [outputs]

	loss     string
	lr       float64
	compiled bool
}

// NewLinear constructs the model with small random weights drawn from the
// given seed, so identically seeded shells start identical everywhere.
func NewLinear(inputs, outputs int, seed int64) *Linear {
	if inputs <= 0 {
		inputs = 1
	}
	if outputs <= 0 {
		outputs = 1
	}
	rng := rand.New(rand.NewSource(seed))
	w := tensor.New(inputs, outputs)
	for i := range w.Data {
		w.Data[i] = (rng.Float64()*2 - 1) * 0.01
	}
	return &Linear{
		inputs:  inputs,
		outputs: outputs,
		seed:    seed,
		w:       w,
		b:       tensor.New(outputs),
	}
}

// Architecture serializes the shape and seed, never the weights.
func (m *Linear) Architecture() ([]byte, error) {
	return marshalDescriptor(Descriptor{
		Kind:    "linear",
		Inputs:  m.inputs,
		Outputs: m.outputs,
		Seed:    m.seed,
	})
}

// Compile sets the loss and takes the local SGD step size from the
// optimizer spec's learning rate.
func (m *Linear) Compile(loss string, opt update.Spec) error {
	if !slices.Contains(knownLosses, loss) {
		return fmt.Errorf("unknown loss %q", loss)
	}
	m.loss = loss
	m.lr = opt.LearningRate
	if m.lr <= 0 {
		m.lr = 0.01
	}
	m.compiled = true
	return nil
}

// Params returns copies of the weight matrix and bias vector, in that order.
func (m *Linear) Params() tensor.ParameterSet {
	return tensor.ParameterSet{m.w.Clone(), m.b.Clone()}
}

// SetParams installs fetched parameters. Shapes must match the model's own.
func (m *Linear) SetParams(p tensor.ParameterSet) error {
	current := tensor.ParameterSet{m.w, m.b}
	if !p.SameShape(current) {
		return fmt.Errorf("set parameters: %w", tensor.ErrShapeMismatch)
	}
	m.w = p[0].Clone()
	m.b = p[1].Clone()
	return nil
}

// TrainOnBatch runs one SGD pass over the batch, sample by sample, and
// returns the mean per-sample loss.
func (m *Linear) TrainOnBatch(x, y [][]float64) (float64, error) {
	if !m.compiled {
		return 0, errors.New("model is not compiled")
	}
	if len(x) == 0 {
		return 0, errors.New("empty batch")
	}
	if len(x) != len(y) {
		return 0, fmt.Errorf("batch size mismatch: %d inputs vs %d labels", len(x), len(y))
	}

	totalLoss := 0.0
	for i, input := range x {
		if len(input) != m.inputs {
			return 0, fmt.Errorf("sample %d: %d features, model takes %d", i, len(input), m.inputs)
		}
		if len(y[i]) != m.outputs {
			return 0, fmt.Errorf("sample %d: %d targets, model emits %d", i, len(y[i]), m.outputs)
		}

		out := m.forward(input)

		// Per-output gradient with respect to the pre-activation outputs.
		grad := make([]float64, m.outputs)
		switch m.loss {
		case LossCategoricalCrossentropy:
			probs := softmax(out)
			for c := 0; c < m.outputs; c++ {
				totalLoss += -y[i][c] * math.Log(math.Max(probs[c], 1e-9))
				grad[c] = probs[c] - y[i][c]
			}
		case LossMeanSquaredError:
			for c := 0; c < m.outputs; c++ {
				diff := out[c] - y[i][c]
				totalLoss += diff * diff / float64(m.outputs)
				grad[c] = 2 * diff / float64(m.outputs)
			}
		}

		for c := 0; c < m.outputs; c++ {
			m.b.Data[c] -= m.lr * grad[c]
			for j := 0; j < m.inputs; j++ {
				m.w.Data[j*m.outputs+c] -= m.lr * grad[c] * input[j]
			}
		}
	}
	return totalLoss / float64(len(x)), nil
}

// Predict returns per-row outputs: softmax probabilities under the
// cross-entropy loss, raw outputs otherwise.
func (m *Linear) Predict(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, input := range x {
		row := m.forward(input)
		if m.loss == LossCategoricalCrossentropy {
			row = softmax(row)
		}
		out[i] = row
	}
	return out
}

// PredictClasses returns the argmax of each row's outputs.
func (m *Linear) PredictClasses(x [][]float64) []int {
	classes := make([]int, len(x))
	for i, row := range m.Predict(x) {
		best := 0
		for c, v := range row {
			if v > row[best] {
				best = c
			}
		}
		classes[i] = best
	}
	return classes
}

// Config describes the model for logging and inspection.
func (m *Linear) Config() map[string]any {
	return map[string]any{
		"kind":    "linear",
		"inputs":  m.inputs,
		"outputs": m.outputs,
		"seed":    m.seed,
		"loss":    m.loss,
	}
}

func (m *Linear) forward(input []float64) []float64 {
	out := make([]float64, m.outputs)
	copy(out, m.b.Data)
	for j, v := range input {
		if j >= m.inputs {
			break
		}
		for c := 0; c < m.outputs; c++ {
			out[c] += m.w.Data[j*m.outputs+c] * v
		}
	}
	return out
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}
