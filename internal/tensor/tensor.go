package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two parameter sets disagree on tensor
// count or on the shape of a tensor at the same position.
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Tensor is a shape-tagged array of float64 values in row-major order.
type Tensor struct {
	Shape []int     // Dimension sizes, outermost first
	Data  []float64 // len(Data) == product of Shape
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
	}
}

// Size returns the number of values the tensor holds.
func (t Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

// Clone returns a deep copy sharing no memory with the original.
func (t Tensor) Clone() Tensor {
	out := Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
	return out
}

// SameShape reports whether both tensors have identical shapes.
func (t Tensor) SameShape(o Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// ParameterSet is an ordered sequence of tensors representing one consistent
// snapshot of a model's trainable state.
type ParameterSet []Tensor

// Empty reports whether the set holds no tensors.
func (p ParameterSet) Empty() bool {
	return len(p) == 0
}

// Clone returns a deep copy of the set.
// Callers may mutate the copy without affecting the original.
func (p ParameterSet) Clone() ParameterSet {
	if p == nil {
		return nil
	}
	out := make(ParameterSet, len(p))
	for i, t := range p {
		out[i] = t.Clone()
	}
	return out
}

// SameShape reports whether both sets have the same tensor count and
// identical shapes position by position.
func (p ParameterSet) SameShape(o ParameterSet) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if !p[i].SameShape(o[i]) {
			return false
		}
	}
	return true
}

// ZerosLike returns a zero-filled set with the same shapes as p.
func ZerosLike(p ParameterSet) ParameterSet {
	out := make(ParameterSet, len(p))
	for i, t := range p {
		out[i] = New(t.Shape...)
	}
	return out
}

// Add returns the elementwise sum a + b as a new set.
// Returns ErrShapeMismatch if the sets disagree on count or shapes.
func Add(a, b ParameterSet) (ParameterSet, error) {
	if err := checkShapes(a, b); err != nil {
		return nil, err
	}
	out := a.Clone()
	for i := range out {
		for j := range out[i].Data {
			out[i].Data[j] += b[i].Data[j]
		}
	}
	return out, nil
}

// Sub returns the elementwise difference a - b as a new set.
// Returns ErrShapeMismatch if the sets disagree on count or shapes.
func Sub(a, b ParameterSet) (ParameterSet, error) {
	if err := checkShapes(a, b); err != nil {
		return nil, err
	}
	out := a.Clone()
	for i := range out {
		for j := range out[i].Data {
			out[i].Data[j] -= b[i].Data[j]
		}
	}
	return out, nil
}

// Scale returns a copy of p with every value multiplied by f.
func Scale(p ParameterSet, f float64) ParameterSet {
	out := p.Clone()
	for i := range out {
		for j := range out[i].Data {
			out[i].Data[j] *= f
		}
	}
	return out
}

func checkShapes(a, b ParameterSet) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d tensors vs %d", ErrShapeMismatch, len(a), len(b))
	}
	for i := range a {
		if !a[i].SameShape(b[i]) {
			return fmt.Errorf("tensor %d: %w: %v vs %v", i, ErrShapeMismatch, a[i].Shape, b[i].Shape)
		}
	}
	return nil
}

// Delta is a parameter update produced by a worker and consumed exactly once
// by the parameter server. When Replace is false the weights are a true
// elementwise difference (post-training minus pre-training); when Replace is
// true the weights supersede the current set verbatim.
type Delta struct {
	Weights ParameterSet
	Replace bool
}
