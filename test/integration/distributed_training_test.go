package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranNetty/dist-keras/internal/cluster"
	"github.com/FranNetty/dist-keras/internal/config"
	"github.com/FranNetty/dist-keras/internal/dataset"
	"github.com/FranNetty/dist-keras/internal/model"
	"github.com/FranNetty/dist-keras/internal/tensor"
	"github.com/FranNetty/dist-keras/internal/update"
	"github.com/FranNetty/dist-keras/internal/worker"
)

// TestSystem runs a real paramserver binary as a child process and talks
// to it over HTTP, the way workers do.
type TestSystem struct {
	t          *testing.T
	server     *exec.Cmd
	addr       string
	baseURL    string
	httpClient *http.Client
}

func NewTestSystem(t *testing.T, port int, rule string) *TestSystem {
	ts := &TestSystem{
		t:       t,
		addr:    fmt.Sprintf("127.0.0.1:%d", port), // High ports to avoid conflicts
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}

	bin := ensureBinary(t)
	ts.server = exec.Command(bin)
	ts.server.Env = append(os.Environ(),
		fmt.Sprintf("PS_LISTEN=:%d", port),
		fmt.Sprintf("PS_RULE=%s", rule),
	)
	ts.server.Stdout = os.Stdout
	ts.server.Stderr = os.Stderr
	return ts
}

// ensureBinary builds the paramserver binary on first use and skips the
// test when it cannot be built.
func ensureBinary(t *testing.T) string {
	t.Helper()
	bin := filepath.Join("bin", "paramserver")
	if _, err := os.Stat(bin); err == nil {
		return bin
	}
	t.Log("Building paramserver binary...")
	out, err := exec.Command("go", "build", "-o", bin, "../../cmd/paramserver").CombinedOutput()
	if err != nil {
		t.Skipf("Skipping integration test: cannot build paramserver: %v (%s)", err, out)
	}
	return bin
}

// Start launches the server and waits for it to answer health checks.
func (ts *TestSystem) Start() error {
	ts.t.Logf("Starting paramserver on %s...", ts.addr)
	if err := ts.server.Start(); err != nil {
		return fmt.Errorf("failed to start paramserver: %w", err)
	}
	if err := ts.waitForService(ts.baseURL + "/health"); err != nil {
		return fmt.Errorf("paramserver failed to start: %w", err)
	}
	return nil
}

// Stop kills the server process.
func (ts *TestSystem) Stop() {
	if ts.server != nil && ts.server.Process != nil {
		ts.t.Log("Stopping paramserver...")
		ts.server.Process.Kill()
		ts.server.Wait()
	}
}

// waitForService waits for an HTTP service to become available.
func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// getParameters fetches and decodes the current parameters.
func (ts *TestSystem) getParameters() (int, tensor.ParameterSet, error) {
	resp, err := ts.httpClient.Get(ts.baseURL + "/parameters")
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	set, err := tensor.DecodeParameterSet(body)
	return resp.StatusCode, set, err
}

// postUpdate encodes and submits a delta, returning the status code.
func (ts *TestSystem) postUpdate(delta tensor.Delta) (int, error) {
	blob, err := tensor.EncodeDelta(delta)
	if err != nil {
		return 0, err
	}
	return ts.postRaw(blob)
}

// postRaw submits an arbitrary body to /update.
func (ts *TestSystem) postRaw(body []byte) (int, error) {
	resp, err := ts.httpClient.Post(ts.baseURL+"/update", "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// getStats fetches the server's request counters.
func (ts *TestSystem) getStats() (map[string]interface{}, error) {
	resp, err := ts.httpClient.Get(ts.baseURL + "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func singleTensor(values ...float64) tensor.ParameterSet {
	return tensor.ParameterSet{{Shape: []int{len(values)}, Data: values}}
}

// TestParameterServerProtocol drives the wire protocol end to end
// against a real server process.
func TestParameterServerProtocol(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestSystem(t, 18500, "additive")
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start test system: %v", err)
	}
	defer ts.Stop()

	t.Run("EmptyParameters", func(t *testing.T) {
		status, set, err := ts.getParameters()
		if err != nil {
			t.Fatalf("GET /parameters failed: %v", err)
		}
		if status != http.StatusOK {
			t.Errorf("Expected 200, got %d", status)
		}
		if !set.Empty() {
			t.Errorf("Fresh server should hold no parameters, got %d tensors", len(set))
		}
	})

	t.Run("SeedWithReplacement", func(t *testing.T) {
		status, err := ts.postUpdate(tensor.Delta{Weights: singleTensor(1.0, 2.0), Replace: true})
		if err != nil {
			t.Fatalf("POST /update failed: %v", err)
		}
		if status != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", status)
		}

		_, set, err := ts.getParameters()
		if err != nil {
			t.Fatalf("GET /parameters failed: %v", err)
		}
		if len(set) != 1 || set[0].Data[0] != 1.0 || set[0].Data[1] != 2.0 {
			t.Errorf("Replacement not installed, got %+v", set)
		}
	})

	t.Run("AccumulateDelta", func(t *testing.T) {
		status, err := ts.postUpdate(tensor.Delta{Weights: singleTensor(0.5, -0.5)})
		if err != nil {
			t.Fatalf("POST /update failed: %v", err)
		}
		if status != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", status)
		}

		_, set, err := ts.getParameters()
		if err != nil {
			t.Fatalf("GET /parameters failed: %v", err)
		}
		if set[0].Data[0] != 1.5 || set[0].Data[1] != 1.5 {
			t.Errorf("Expected [1.5, 1.5] after delta, got %v", set[0].Data)
		}
	})

	t.Run("RejectGarbage", func(t *testing.T) {
		status, err := ts.postRaw([]byte("definitely not a delta"))
		if err != nil {
			t.Fatalf("POST /update failed: %v", err)
		}
		if status != http.StatusBadRequest {
			t.Errorf("Expected 400 for garbage, got %d", status)
		}

		_, set, err := ts.getParameters()
		if err != nil {
			t.Fatalf("GET /parameters failed: %v", err)
		}
		if set[0].Data[0] != 1.5 {
			t.Errorf("Garbage changed the parameters: %v", set[0].Data)
		}
	})

	t.Run("RejectShapeMismatch", func(t *testing.T) {
		status, err := ts.postUpdate(tensor.Delta{Weights: singleTensor(1, 2, 3)})
		if err != nil {
			t.Fatalf("POST /update failed: %v", err)
		}
		if status != http.StatusConflict {
			t.Errorf("Expected 409 for shape mismatch, got %d", status)
		}

		_, set, err := ts.getParameters()
		if err != nil {
			t.Fatalf("GET /parameters failed: %v", err)
		}
		if len(set) != 1 || len(set[0].Data) != 2 {
			t.Errorf("Mismatched delta changed the parameters: %+v", set)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := ts.getStats()
		if err != nil {
			t.Fatalf("GET /stats failed: %v", err)
		}
		if stats["updates"].(float64) < 2 {
			t.Errorf("Expected at least 2 accepted updates, got %v", stats["updates"])
		}
		if stats["rejected"].(float64) < 2 {
			t.Errorf("Expected at least 2 rejected updates, got %v", stats["rejected"])
		}
	})
}

// TestWorkerAgainstLiveProcess trains a real worker against a real
// server process and checks the aggregated parameters land there.
func TestWorkerAgainstLiveProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ts := NewTestSystem(t, 18501, "additive")
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start test system: %v", err)
	}
	defer ts.Stop()

	origin := model.NewLinear(2, 2, 42)
	arch, err := origin.Architecture()
	if err != nil {
		t.Fatalf("Architecture failed: %v", err)
	}

	part := make(dataset.Dataset, 8)
	for i := range part {
		if i%2 == 0 {
			part[i] = dataset.Record{X: []float64{2, 0}, Y: []float64{1, 0}}
		} else {
			part[i] = dataset.Record{X: []float64{-2, 0}, Y: []float64{0, 1}}
		}
	}

	w := worker.New(arch, model.LossCategoricalCrossentropy,
		update.Spec{Name: update.RuleAdditive, LearningRate: 0.1},
		config.TrainConfig{Epochs: 5, BatchSize: 4, SyncFrequency: config.SyncBatch},
		ts.addr)

	if err := w.Run(context.Background(), 0, part); err != nil {
		t.Fatalf("Worker run failed: %v", err)
	}

	final, err := cluster.FetchParameters(context.Background(), ts.addr)
	if err != nil {
		t.Fatalf("FetchParameters failed: %v", err)
	}
	if final.Empty() {
		t.Fatal("Server holds no parameters after training")
	}
	if !final.SameShape(origin.Params()) {
		t.Errorf("Server parameters have the wrong shapes")
	}

	// The trained parameters should separate the data.
	trained, err := model.FromArchitecture(arch)
	if err != nil {
		t.Fatalf("FromArchitecture failed: %v", err)
	}
	if err := trained.SetParams(final); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	x, y := part.XY()
	for i, class := range trained.PredictClasses(x) {
		if y[i][class] != 1 {
			t.Errorf("Sample %d misclassified after training", i)
		}
	}
}
