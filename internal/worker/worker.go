// Package worker runs the training loop for one data partition and keeps
// the local model synchronized with the parameter server.
//
// A worker never shares memory with the coordinator. It receives the
// model architecture as an opaque descriptor, rebuilds the model locally,
// and exchanges parameters with the master over HTTP only. Under the
// "batch" policy every batch is bracketed by a fetch and a delta
// submission; under the "epoch" policy the bracket spans a whole epoch.
//
// The delta submitted after training is the difference between the
// post-training parameters and the parameters fetched from the master.
// When no comparable pre-state exists, because the server had nothing
// stored yet or the shapes changed, the worker ships its full parameters
// as a replacement instead.
package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/FranNetty/dist-keras/internal/cluster"
	"github.com/FranNetty/dist-keras/internal/config"
	"github.com/FranNetty/dist-keras/internal/dataset"
	"github.com/FranNetty/dist-keras/internal/model"
	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
)

// Worker trains one partition against a remote parameter server.
type Worker struct {
	arch   []byte
	loss   string
	opt    update.Spec
	cfg    config.TrainConfig
	master string
}

// New builds a worker. The architecture descriptor and master address
// come from the coordinator; the worker holds no live model reference.
func New(arch []byte, loss string, opt update.Spec, cfg config.TrainConfig, master string) *Worker {
	return &Worker{
		arch:   arch,
		loss:   loss,
		opt:    opt,
		cfg:    cfg,
		master: master,
	}
}

// Run trains the given partition to completion. An unknown
// synchronization policy fails before any training or network traffic.
// An empty partition is a no-op and never contacts the master.
func (w *Worker) Run(ctx context.Context, id int, part dataset.Dataset) error {
	if err := w.cfg.Validate(); err != nil {
		return fmt.Errorf("partition %d: %w", id, err)
	}
	if len(part) == 0 {
		log.Printf("worker %d: partition empty, nothing to train", id)
		return nil
	}

	m, err := model.FromArchitecture(w.arch)
	if err != nil {
		return fmt.Errorf("partition %d: rebuild model: %w", id, err)
	}
	if err := m.Compile(w.loss, w.opt); err != nil {
		return fmt.Errorf("partition %d: compile model: %w", id, err)
	}

	switch w.cfg.SyncFrequency {
	case config.SyncBatch:
		err = w.trainPerBatch(ctx, id, m, part)
	case config.SyncEpoch:
		err = w.trainPerEpoch(ctx, id, m, part)
	default:
		// Validate covers this; kept so a new policy cannot fall through silently.
		err = fmt.Errorf("unknown sync_frequency %q", w.cfg.SyncFrequency)
	}
	if err != nil {
		return fmt.Errorf("partition %d: %w", id, err)
	}
	return nil
}

// trainPerBatch brackets every batch with a parameter exchange.
func (w *Worker) trainPerBatch(ctx context.Context, id int, m model.Trainable, part dataset.Dataset) error {
	x, y := part.XY()
	ranges := batchRanges(len(part), w.cfg.BatchSize)

	for epoch := 1; epoch <= w.cfg.Epochs; epoch++ {
		var lastLoss float64
		for _, r := range ranges {
			before, err := cluster.FetchParameters(ctx, w.master)
			if err != nil {
				return fmt.Errorf("fetch parameters: %w", err)
			}
			if !before.Empty() {
				if err := m.SetParams(before); err != nil {
					return fmt.Errorf("install fetched parameters: %w", err)
				}
			}

			lastLoss, err = m.TrainOnBatch(x[r.lo:r.hi], y[r.lo:r.hi])
			if err != nil {
				return fmt.Errorf("train batch [%d:%d): %w", r.lo, r.hi, err)
			}

			if delta, ok := makeDelta(before, m.Params()); ok {
				if err := cluster.SubmitDelta(ctx, w.master, delta); err != nil {
					return fmt.Errorf("submit delta: %w", err)
				}
			}
		}
		log.Printf("worker %d: epoch %d/%d done, loss %.4f", id, epoch, w.cfg.Epochs, lastLoss)
	}
	return nil
}

// trainPerEpoch fetches once per epoch and submits a single delta at its
// end, trading freshness for far fewer round trips.
func (w *Worker) trainPerEpoch(ctx context.Context, id int, m model.Trainable, part dataset.Dataset) error {
	x, y := part.XY()
	ranges := batchRanges(len(part), w.cfg.BatchSize)

	for epoch := 1; epoch <= w.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		before, err := cluster.FetchParameters(ctx, w.master)
		if err != nil {
			return fmt.Errorf("fetch parameters: %w", err)
		}
		if !before.Empty() {
			if err := m.SetParams(before); err != nil {
				return fmt.Errorf("install fetched parameters: %w", err)
			}
		}

		var lastLoss float64
		for _, r := range ranges {
			lastLoss, err = m.TrainOnBatch(x[r.lo:r.hi], y[r.lo:r.hi])
			if err != nil {
				return fmt.Errorf("train batch [%d:%d): %w", r.lo, r.hi, err)
			}
		}

		if delta, ok := makeDelta(before, m.Params()); ok {
			if err := cluster.SubmitDelta(ctx, w.master, delta); err != nil {
				return fmt.Errorf("submit delta: %w", err)
			}
		}
		log.Printf("worker %d: epoch %d/%d done, loss %.4f", id, epoch, w.cfg.Epochs, lastLoss)
	}
	return nil
}

// makeDelta derives what to send the master after training. When the
// post-training parameters cannot be diffed against the fetched
// pre-state, the full parameters are shipped as a replacement. A model
// with no parameters yields nothing to send.
func makeDelta(before, after tensor.ParameterSet) (tensor.Delta, bool) {
	if after.Empty() {
		return tensor.Delta{}, false
	}
	diff, err := tensor.Sub(after, before)
	if err != nil {
		return tensor.Delta{Weights: after.Clone(), Replace: true}, true
	}
	return tensor.Delta{Weights: diff}, true
}

type span struct {
	lo, hi int
}

// batchRanges cuts n samples into consecutive batches of at most size
// samples. The last batch may be short.
func batchRanges(n, size int) []span {
	if size < 1 {
		size = 1
	}
	ranges := make([]span, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		ranges = append(ranges, span{lo: lo, hi: hi})
	}
	return ranges
}
