// Package main implements disttrain, a self-contained distributed
// training run: it generates a synthetic dataset, trains a model across
// concurrent workers through a parameter server, and reports how well
// the aggregated model fits the data.
//
// Configuration comes from an optional YAML file plus flag overrides:
//
//	-config     path to a YAML run configuration
//	-host       master host override
//	-port       master port override
//	-workers    worker count override
//	-epochs     epoch count override
//	-batch      batch size override
//	-frequency  sync policy override ("batch" or "epoch")
//
// Example usage:
//
//	# Train the built-in demo classifier
//	./disttrain
//
//	# Train from a run configuration, syncing once per epoch
//	./disttrain -config run.yaml -frequency epoch -workers 8
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FranNetty/dist-keras/internal/config"
	"github.com/FranNetty/dist-keras/internal/coordinator"
	"github.com/FranNetty/dist-keras/internal/dataset"
	"github.com/FranNetty/dist-keras/internal/model"
	"github.com/FranNetty/dist-keras/internal/update"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	configPath := flag.String("config", "", "path to a YAML run configuration")
	host := flag.String("host", "", "master host override")
	port := flag.Int("port", 0, "master port override")
	workers := flag.Int("workers", 0, "worker count override")
	epochs := flag.Int("epochs", 0, "epoch count override")
	batch := flag.Int("batch", 0, "batch size override")
	frequency := flag.String("frequency", "", "sync policy override (batch or epoch)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logFatal("load config: %v", err)
	}
	cfg.ApplyOverrides(config.Overrides{
		MasterHost: *host,
		MasterPort: *port,
		Workers:    *workers,
		Epochs:     *epochs,
		BatchSize:  *batch,
		Frequency:  *frequency,
	})

	m, err := buildModel(cfg.Model)
	if err != nil {
		logFatal("build model: %v", err)
	}
	data := makeDataset(cfg.Data, cfg.Model)

	c, err := coordinator.New(coordinator.Options{
		Model:     m,
		Loss:      cfg.Model.Loss,
		Optimizer: cfg.Optimizer,
		Data:      data,
		Host:      cfg.MasterHost,
		Port:      cfg.MasterPort,
		Workers:   cfg.Workers,
	})
	if err != nil {
		logFatal("build coordinator: %v", err)
	}
	log.Printf("disttrain: run %s: %d samples, %d workers, master %s",
		c.RunID(), len(data), cfg.Workers, c.MasterAddress())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Println("interrupt, canceling run")
		cancel()
	}()

	start := time.Now()
	if err := c.Train(ctx, cfg.Training); err != nil {
		logFatal("training failed: %v", err)
	}
	log.Printf("disttrain: training took %s", time.Since(start).Round(time.Millisecond))

	x, _ := data.XY()
	if cfg.Model.Loss == model.LossMeanSquaredError {
		log.Printf("disttrain: final training mse %.6f", meanSquaredError(c.Predict(x), data))
	} else {
		log.Printf("disttrain: final training accuracy %.2f%%", accuracy(c.PredictClasses(x), data)*100)
	}
}

// loadConfig reads the YAML run configuration, or falls back to the
// built-in demo run when no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := demoConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// demoConfig trains a small classifier out of the box.
func demoConfig() *config.Config {
	return &config.Config{
		Model: config.ModelConfig{
			Kind:    "linear",
			Inputs:  4,
			Outputs: 3,
			Seed:    42,
			Loss:    model.LossCategoricalCrossentropy,
		},
		Optimizer: update.Spec{Name: update.RuleAdditive, LearningRate: 0.05},
		Training:  config.TrainConfig{Epochs: 5, BatchSize: 16, SyncFrequency: config.SyncBatch},
		Data:      config.DataConfig{Samples: 2000, Seed: 7},
	}
}

// buildModel constructs the configured model kind.
func buildModel(mc config.ModelConfig) (model.Trainable, error) {
	switch mc.Kind {
	case "linear":
		return model.NewLinear(mc.Inputs, mc.Outputs, mc.Seed), nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", mc.Kind)
	}
}

// makeDataset generates a deterministic synthetic dataset: inputs drawn
// uniformly from [-1,1), targets derived from a hidden random
// projection. Classification targets are the one-hot argmax of the
// projection; regression targets are the projection itself.
func makeDataset(dc config.DataConfig, mc config.ModelConfig) dataset.Dataset {
	rng := rand.New(rand.NewSource(dc.Seed))

	truth := make([][]float64, mc.Inputs)
	for i := range truth {
		truth[i] = make([]float64, mc.Outputs)
		for j := range truth[i] {
			truth[i][j] = rng.Float64()*2 - 1
		}
	}

	d := make(dataset.Dataset, dc.Samples)
	for s := range d {
		x := make([]float64, mc.Inputs)
		for i := range x {
			x[i] = rng.Float64()*2 - 1
		}

		logits := make([]float64, mc.Outputs)
		for i, xv := range x {
			for j := range logits {
				logits[j] += xv * truth[i][j]
			}
		}

		y := make([]float64, mc.Outputs)
		if mc.Loss == model.LossMeanSquaredError {
			copy(y, logits)
		} else {
			y[argmax(logits)] = 1
		}
		d[s] = dataset.Record{X: x, Y: y}
	}
	return d
}

func argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}

// accuracy is the fraction of samples whose predicted class carries the
// one-hot target.
func accuracy(classes []int, d dataset.Dataset) float64 {
	if len(d) == 0 {
		return 0
	}
	correct := 0
	for i, class := range classes {
		if d[i].Y[class] == 1 {
			correct++
		}
	}
	return float64(correct) / float64(len(d))
}

// meanSquaredError averages squared error over every output of every
// sample.
func meanSquaredError(pred [][]float64, d dataset.Dataset) float64 {
	if len(d) == 0 {
		return 0
	}
	var sum float64
	n := 0
	for i, row := range pred {
		for j, v := range row {
			diff := v - d[i].Y[j]
			sum += diff * diff
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
