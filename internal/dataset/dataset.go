// Package dataset holds in-memory training data and splits it into the
// per-worker partitions that distributed training runs on.
package dataset

import (
	"context"
	"fmt"
	"sync"
)

// Record is a single training example: a feature vector and its target.
type Record struct {
	X []float64
	Y []float64
}

// Dataset is an ordered collection of training records.
type Dataset []Record

// FromSlices pairs up feature rows with target rows. The two slices must
// have the same length.
func FromSlices(x, y [][]float64) (Dataset, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("dataset size mismatch: %d feature rows, %d target rows", len(x), len(y))
	}
	d := make(Dataset, len(x))
	for i := range x {
		d[i] = Record{X: x[i], Y: y[i]}
	}
	return d, nil
}

// XY unzips the dataset back into feature and target rows.
func (d Dataset) XY() (x, y [][]float64) {
	x = make([][]float64, len(d))
	y = make([][]float64, len(d))
	for i, r := range d {
		x[i] = r.X
		y[i] = r.Y
	}
	return x, y
}

// Repartition splits the dataset into n contiguous partitions whose sizes
// differ by at most one record. When n exceeds the number of records the
// surplus partitions are empty. n below one is treated as one.
func (d Dataset) Repartition(n int) []Dataset {
	if n < 1 {
		n = 1
	}
	parts := make([]Dataset, n)
	base := len(d) / n
	extra := len(d) % n

	off := 0
	for i := range parts {
		size := base
		if i < extra {
			size++
		}
		parts[i] = d[off : off+size]
		off += size
	}
	return parts
}

// PartitionFunc processes one partition. The id is the partition index.
type PartitionFunc func(ctx context.Context, id int, part Dataset) error

// Runner executes a function over every partition and reports one error
// slot per partition, in partition order.
type Runner interface {
	Run(ctx context.Context, parts []Dataset, fn PartitionFunc) []error
}

// LocalRunner runs all partitions concurrently in-process, one goroutine
// per partition. It stands in for a cluster scheduler during local
// training and in tests.
type LocalRunner struct{}

// Run starts every partition and waits for all of them to finish. A
// failed partition does not stop the others.
func (LocalRunner) Run(ctx context.Context, parts []Dataset, fn PartitionFunc) []error {
	errs := make([]error, len(parts))

	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(id int, p Dataset) {
			defer wg.Done()
			errs[id] = fn(ctx, id, p)
		}(i, part)
	}
	wg.Wait()

	return errs
}
