package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FranNetty/dist-keras/internal/tensor"
)

// ErrUnreachable marks a transport-level failure: the parameter server did
// not answer at all. Application-level rejections (a 4xx/5xx reply) do not
// wrap it, so workers can tell a dead server from a rejected request.
var ErrUnreachable = errors.New("parameter server unreachable")

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetBlob fetches url and returns the raw response body.
func GetBlob(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PostBlob posts body to url as an octet stream.
func PostBlob(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return nil
}

// FetchParameters retrieves the server's current parameter set.
// An empty set means the server has no parameters yet; callers keep
// whatever local parameters they already have.
func FetchParameters(ctx context.Context, addr string) (tensor.ParameterSet, error) {
	blob, err := GetBlob(ctx, baseURL(addr)+"/parameters")
	if err != nil {
		return nil, err
	}
	return tensor.DecodeParameterSet(blob)
}

// SubmitDelta sends one delta to the server for integration.
// The server applies it as a side effect; the reply carries no payload.
func SubmitDelta(ctx context.Context, addr string, delta tensor.Delta) error {
	blob, err := tensor.EncodeDelta(delta)
	if err != nil {
		return err
	}
	return PostBlob(ctx, baseURL(addr)+"/update", blob)
}

// WaitReady polls the server's health endpoint until it answers, retrying
// through startup races. Returns the last probe error when the retry
// budget runs out.
func WaitReady(ctx context.Context, addr string) error {
	var lastErr error
	for i := 0; i < 10; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, lastErr = GetBlob(ctx, baseURL(addr)+"/health"); lastErr == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready: %w", addr, lastErr)
}

// baseURL normalizes a host:port address into a URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}
