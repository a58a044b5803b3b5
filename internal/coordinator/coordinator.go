package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/FranNetty/dist-keras/internal/cluster"
	"github.com/FranNetty/dist-keras/internal/config"
	"github.com/FranNetty/dist-keras/internal/dataset"
	"github.com/FranNetty/dist-keras/internal/model"
	"github.com/FranNetty/dist-keras/internal/params"
	"github.com/FranNetty/dist-keras/internal/server"
	"github.com/FranNetty/dist-keras/internal/update"
	"github.com/FranNetty/dist-keras/internal/worker"
)

// Options configures a Coordinator. Model, Loss and Data are the
// caller's; everything else has a default.
type Options struct {
	// Model is the canonical model. The coordinator compiles it and
	// owns it for the lifetime of the run.
	Model model.Trainable

	// Loss names the objective every worker optimizes.
	Loss string

	// Optimizer configures both the workers' local training and the
	// server-side update rule.
	Optimizer update.Spec

	// Data is the full training set. It may be empty; training then
	// degenerates to a no-op that leaves the model untouched.
	Data dataset.Dataset

	// Runner executes the per-partition workers. Defaults to running
	// them as local goroutines.
	Runner dataset.Runner

	// Host is the address workers use to reach the parameter server.
	// Defaults to the machine's outbound interface.
	Host string

	// Port is the parameter server port. Defaults to 5000.
	Port int

	// Workers is the number of partitions to train concurrently.
	// Defaults to 4.
	Workers int
}

// Defaults applied by New for zero-valued options.
const (
	DefaultPort    = 5000
	DefaultWorkers = 4
)

// Coordinator owns one model and trains it across workers.
type Coordinator struct {
	model   model.Trainable
	loss    string
	opt     update.Spec
	data    dataset.Dataset
	runner  dataset.Runner
	host    string
	port    int
	workers int
	runID   string
}

// New validates the options, compiles the model and returns a ready
// coordinator. The update rule named by the optimizer must exist.
func New(opts Options) (*Coordinator, error) {
	if opts.Model == nil {
		return nil, errors.New("coordinator needs a model")
	}
	if err := opts.Model.Compile(opts.Loss, opts.Optimizer); err != nil {
		return nil, fmt.Errorf("compile model: %w", err)
	}
	if _, err := update.New(opts.Optimizer); err != nil {
		return nil, err
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", opts.Port)
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must be positive: %d", opts.Workers)
	}

	c := &Coordinator{
		model:   opts.Model,
		loss:    opts.Loss,
		opt:     opts.Optimizer,
		data:    opts.Data,
		runner:  opts.Runner,
		host:    opts.Host,
		port:    opts.Port,
		workers: opts.Workers,
		runID:   uuid.NewString(),
	}
	if c.runner == nil {
		c.runner = dataset.LocalRunner{}
	}
	if c.host == "" {
		c.host = cluster.DetermineHostAddress()
	}
	if c.port == 0 {
		c.port = DefaultPort
	}
	if c.workers == 0 {
		c.workers = DefaultWorkers
	}
	return c, nil
}

// RunID identifies this coordinator's training runs in logs.
func (c *Coordinator) RunID() string {
	return c.runID
}

// MasterAddress returns the host:port workers dial to reach the
// parameter server.
func (c *Coordinator) MasterAddress() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Train runs one full distributed training pass and installs the
// aggregated parameters into the canonical model. Partition failures are
// logged and tolerated; infrastructure failures abort the run.
func (c *Coordinator) Train(ctx context.Context, cfg config.TrainConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Fresh rule per run so accumulator state never leaks across runs.
	rule, err := update.New(c.opt)
	if err != nil {
		return err
	}

	store := params.NewStore(c.model.Params())
	srv := server.New(fmt.Sprintf(":%d", c.port), store, rule)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start parameter server: %w", err)
	}
	defer func() {
		if stopErr := srv.Stop(context.Background()); stopErr != nil {
			log.Printf("coordinator: run %s: stop parameter server: %v", c.runID, stopErr)
		}
	}()

	master := c.MasterAddress()

	if err := cluster.WaitReady(ctx, master); err != nil {
		return fmt.Errorf("parameter server not ready: %w", err)
	}
	log.Printf("coordinator: run %s: parameter server up on %s", c.runID, master)

	arch, err := c.model.Architecture()
	if err != nil {
		return fmt.Errorf("serialize model: %w", err)
	}

	parts := c.data.Repartition(c.workers)
	log.Printf("coordinator: run %s: dispatching %d partitions (%d records)", c.runID, len(parts), len(c.data))

	w := worker.New(arch, c.loss, c.opt, cfg, master)
	errs := c.runner.Run(ctx, parts, w.Run)

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			log.Printf("coordinator: run %s: partition %d failed: %v", c.runID, i, err)
		}
	}
	if failed > 0 {
		log.Printf("coordinator: run %s: %d/%d partitions failed", c.runID, failed, len(parts))
	}

	final, err := cluster.FetchParameters(ctx, master)
	if err != nil {
		return fmt.Errorf("collect final parameters: %w", err)
	}
	if !final.Empty() {
		if err := c.model.SetParams(final); err != nil {
			return fmt.Errorf("install final parameters: %w", err)
		}
	}

	log.Printf("coordinator: run %s: training complete", c.runID)
	return nil
}

// Predict answers from the canonical model.
func (c *Coordinator) Predict(x [][]float64) [][]float64 {
	return c.model.Predict(x)
}

// PredictClasses answers class indices from the canonical model.
func (c *Coordinator) PredictClasses(x [][]float64) []int {
	return c.model.PredictClasses(x)
}

// Config describes the coordinator for logs and debugging endpoints.
func (c *Coordinator) Config() map[string]any {
	return map[string]any{
		"run_id":  c.runID,
		"workers": c.workers,
		"master":  c.MasterAddress(),
		"model":   c.model.Config(),
		"optimizer": map[string]any{
			"name":          c.opt.Name,
			"learning_rate": c.opt.LearningRate,
			"momentum":      c.opt.Momentum,
		},
	}
}
