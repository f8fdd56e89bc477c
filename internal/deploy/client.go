package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/variantlabs/experiment-controller/internal/models"
)

// Trigger starts a rollout of a winning variant. Implementations talk to
// the downstream deployment pipeline; failures are reported to the sweep,
// not escalated.
type Trigger interface {
	DeployWinner(ctx context.Context, req Request) (Handle, error)
}

type Request struct {
	ExperimentID string          `json:"experimentId"`
	VariantID    string          `json:"variantId"`
	VariantName  string          `json:"variantName"`
	Config       json.RawMessage `json:"config,omitempty"`
	Environment  string          `json:"environment"`
	Confidence   float64         `json:"confidence"`
}

type Handle struct {
	PipelineID string `json:"pipelineId"`
	Status     string `json:"status"`
}

type HTTPClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPClient calls the deployment pipeline over HTTP with a per-attempt
// timeout and bounded retries.
type HTTPClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("deploy base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/deployments"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

func (c *HTTPClient) DeployWinner(ctx context.Context, req Request) (Handle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Handle{}, fmt.Errorf("deploy marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return Handle{}, ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return Handle{}, fmt.Errorf("deploy build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(httpReq)
		cancel()
		if err != nil {
			lastErr = err
		} else {
			handle, parseErr := decodeHandle(resp)
			resp.Body.Close()
			if parseErr == nil {
				return handle, nil
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return Handle{}, fmt.Errorf("deploy winner failed: %w", lastErr)
}

func decodeHandle(resp *http.Response) (Handle, error) {
	if resp.StatusCode >= 500 {
		return Handle{}, fmt.Errorf("deployment service unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Handle{}, fmt.Errorf("deployment service rejected request: %s", resp.Status)
	}
	var handle Handle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return Handle{}, fmt.Errorf("deploy decode response: %w", err)
	}
	return handle, nil
}

// RequestFor builds the trigger payload for a declared winner.
func RequestFor(exp models.Experiment, winner models.Variant, confidence float64) Request {
	return Request{
		ExperimentID: exp.ID,
		VariantID:    winner.ID,
		VariantName:  winner.Name,
		Config:       winner.Config,
		Environment:  exp.Metadata.DeploymentEnvironment,
		Confidence:   confidence,
	}
}
