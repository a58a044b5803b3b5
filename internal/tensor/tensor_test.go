package tensor

import (
	"errors"
	"testing"
)

// TestParameterSetClone verifies deep-copy semantics of Clone.
func TestParameterSetClone(t *testing.T) {
	t.Run("clone is independent of the original", func(t *testing.T) {
		p := ParameterSet{
			{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
			{Shape: []int{2}, Data: []float64{5, 6}},
		}

		c := p.Clone()
		c[0].Data[0] = 99
		c[1].Shape[0] = 7

		if p[0].Data[0] != 1 {
			t.Errorf("Expected original data untouched, got %v", p[0].Data[0])
		}
		if p[1].Shape[0] != 2 {
			t.Errorf("Expected original shape untouched, got %v", p[1].Shape[0])
		}
	})

	t.Run("nil clones to nil", func(t *testing.T) {
		var p ParameterSet
		if c := p.Clone(); c != nil {
			t.Errorf("Expected nil clone, got %v", c)
		}
	})
}

// TestSameShape verifies shape comparison across sets and tensors.
func TestSameShape(t *testing.T) {
	tests := []struct {
		name string
		a, b ParameterSet
		want bool
	}{
		{
			name: "identical shapes",
			a:    ParameterSet{New(2, 3), New(3)},
			b:    ParameterSet{New(2, 3), New(3)},
			want: true,
		},
		{
			name: "different dimension",
			a:    ParameterSet{New(2, 3)},
			b:    ParameterSet{New(3, 2)},
			want: false,
		},
		{
			name: "different rank",
			a:    ParameterSet{New(6)},
			b:    ParameterSet{New(2, 3)},
			want: false,
		},
		{
			name: "different count",
			a:    ParameterSet{New(2), New(2)},
			b:    ParameterSet{New(2)},
			want: false,
		},
		{
			name: "both empty",
			a:    ParameterSet{},
			b:    nil,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.SameShape(tt.b); got != tt.want {
				t.Errorf("SameShape = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestAddSub verifies the elementwise arithmetic used to build and apply
// difference deltas.
func TestAddSub(t *testing.T) {
	t.Run("add produces elementwise sum", func(t *testing.T) {
		a := ParameterSet{{Shape: []int{1}, Data: []float64{1.0}}, {Shape: []int{1}, Data: []float64{2.0}}}
		b := ParameterSet{{Shape: []int{1}, Data: []float64{0.5}}, {Shape: []int{1}, Data: []float64{-0.5}}}

		sum, err := Add(a, b)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if sum[0].Data[0] != 1.5 || sum[1].Data[0] != 1.5 {
			t.Errorf("Expected [1.5 1.5], got [%v %v]", sum[0].Data[0], sum[1].Data[0])
		}

		// Inputs must be untouched
		if a[0].Data[0] != 1.0 || b[0].Data[0] != 0.5 {
			t.Error("Add mutated its inputs")
		}
	})

	t.Run("sub produces elementwise difference", func(t *testing.T) {
		after := ParameterSet{{Shape: []int{2}, Data: []float64{3, 5}}}
		before := ParameterSet{{Shape: []int{2}, Data: []float64{1, 2}}}

		diff, err := Sub(after, before)
		if err != nil {
			t.Fatalf("Sub failed: %v", err)
		}
		if diff[0].Data[0] != 2 || diff[0].Data[1] != 3 {
			t.Errorf("Expected [2 3], got %v", diff[0].Data)
		}
	})

	t.Run("shape mismatch is reported", func(t *testing.T) {
		a := ParameterSet{New(2)}
		b := ParameterSet{New(3)}
		if _, err := Add(a, b); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("count mismatch is reported", func(t *testing.T) {
		a := ParameterSet{New(2), New(2)}
		b := ParameterSet{New(2)}
		if _, err := Sub(a, b); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})
}

// TestZerosLike verifies shape-preserving zero initialization.
func TestZerosLike(t *testing.T) {
	p := ParameterSet{
		{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
		{Shape: []int{3}, Data: []float64{5, 6, 7}},
	}

	z := ZerosLike(p)
	if !z.SameShape(p) {
		t.Fatalf("Expected matching shapes, got %v", z)
	}
	for i, tensor := range z {
		for j, v := range tensor.Data {
			if v != 0 {
				t.Errorf("Expected zero at [%d][%d], got %v", i, j, v)
			}
		}
	}
}
