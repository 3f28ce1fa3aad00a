// Package phala wraps the Phala Cloud v1 API for CVM lifecycle management:
// two-phase provisioning, status inspection, deletion, and bounded polling.
// Authentication uses the X-API-Key header.
package phala

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/phalaflow/orchestrator/pkg/errors"
)

const (
	// DefaultBaseURL is the production control API endpoint.
	DefaultBaseURL = "https://cloud-api.phala.network/api/v1"

	apiKeyHeader    = "X-API-Key"
	applicationJSON = "application/json"

	// DefaultPollInterval is the delay between status polls.
	DefaultPollInterval = 10 * time.Second
)

// Client is an authenticated session against the CVM control API.
type Client struct {
	baseURL      string
	apiKey       string
	http         *retryablehttp.Client
	pollInterval time.Duration
}

// NewClient creates a client for the production API.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, DefaultBaseURL)
}

// NewClientWithBaseURL creates a client against a custom endpoint.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	// Hand back the final response instead of a "giving up" error so a 5xx
	// that survives the retries still surfaces as an APIError with its body.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         rc,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the status poll interval.
func (c *Client) SetPollInterval(d time.Duration) {
	c.pollInterval = d
}

type provisionRequest struct {
	Name        string      `json:"name"`
	ComposeFile composeFile `json:"compose_file"`
	VCPU        int         `json:"vcpu"`
	Memory      int         `json:"memory"`
	DiskSize    int         `json:"disk_size"`
}

type composeFile struct {
	DockerComposeFile string `json:"docker_compose_file"`
	Name              string `json:"name"`
}

// Provision registers the deployment content (step 1 of 2) and returns the
// app id and compose hash needed to create the CVM. The remote side hashes
// the compose document, so provisioning identical content is idempotent.
func (c *Client) Provision(ctx context.Context, name string, composeYAML []byte, vcpu, memory, diskSize int) (*ProvisionResult, error) {
	slog.Info("cvm_provision_start", "name", name, "vcpu", vcpu, "memory_mb", memory, "disk_gb", diskSize)

	body, err := c.do(ctx, http.MethodPost, "/cvms/provision", provisionRequest{
		Name: name,
		ComposeFile: composeFile{
			DockerComposeFile: string(composeYAML),
			Name:              name,
		},
		VCPU:     vcpu,
		Memory:   memory,
		DiskSize: diskSize,
	})
	if err != nil {
		return nil, err
	}

	var result ProvisionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to decode provision response")
	}

	slog.Info("cvm_provisioned", "name", name, "app_id", result.AppID, "compose_hash", result.ComposeHash)
	return &result, nil
}

// Create instantiates and starts a provisioned CVM (step 2 of 2).
func (c *Client) Create(ctx context.Context, appID, composeHash string) (*CVM, error) {
	slog.Info("cvm_create_start", "app_id", appID)

	body, err := c.do(ctx, http.MethodPost, "/cvms", map[string]string{
		"app_id":       appID,
		"compose_hash": composeHash,
	})
	if err != nil {
		return nil, err
	}

	var cvm CVM
	if err := json.Unmarshal(body, &cvm); err != nil {
		return nil, errors.Wrap(err, "failed to decode create response")
	}

	slog.Info("cvm_created", "cvm_id", cvm.ID, "status", cvm.Status)
	return &cvm, nil
}

// Get returns the current CVM snapshot including its status.
func (c *Client) Get(ctx context.Context, cvmID int64) (*CVM, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/cvms/%d", cvmID), nil)
	if err != nil {
		return nil, err
	}

	var cvm CVM
	if err := json.Unmarshal(body, &cvm); err != nil {
		return nil, errors.Wrap(err, "failed to decode CVM response")
	}
	return &cvm, nil
}

// List returns all CVMs visible to the session.
func (c *Client) List(ctx context.Context) ([]CVM, error) {
	body, err := c.do(ctx, http.MethodGet, "/cvms", nil)
	if err != nil {
		return nil, err
	}

	var cvms []CVM
	if err := json.Unmarshal(body, &cvms); err != nil {
		return nil, errors.Wrap(err, "failed to decode CVM list")
	}
	return cvms, nil
}

// Delete removes a CVM. A 404 means the CVM is already gone and is treated
// as success.
func (c *Client) Delete(ctx context.Context, cvmID int64) error {
	slog.Info("cvm_delete", "cvm_id", cvmID)

	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/cvms/%d", cvmID), nil)
	var apiErr *APIError
	if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		slog.Info("cvm_already_gone", "cvm_id", cvmID)
		return nil
	}
	return err
}

// WaitForRunning blocks until the CVM reaches "running", polling at the
// client's interval. It returns a TerminalStateError as soon as a terminal
// failure status is observed, a TimeoutError when the deadline elapses, and
// the context error if ctx is cancelled first. Transient statuses never
// cause an early return.
func (c *Client) WaitForRunning(ctx context.Context, cvmID int64, timeout time.Duration) error {
	slog.Info("cvm_wait_running", "cvm_id", cvmID, "timeout", timeout)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		cvm, err := c.Get(ctx, cvmID)
		if err != nil {
			return errors.Wrapf(err, "failed to poll CVM %d", cvmID)
		}

		if cvm.Status == "running" {
			slog.Info("cvm_running", "cvm_id", cvmID)
			return nil
		}
		if isTerminalFailure(cvm.Status) {
			slog.Error("cvm_terminal_state", "cvm_id", cvmID, "status", cvm.Status)
			return &TerminalStateError{CVM: *cvm}
		}

		slog.Info("cvm_pending", "cvm_id", cvmID, "status", cvm.Status)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}

	return &TimeoutError{CVMID: cvmID, Waited: timeout}
}

// IsStopped reports whether the CVM has reached a terminal state (container
// exited). Any error while checking is treated as "not stopped": API
// flakiness must not be mistaken for completion. The flip side is that a
// deleted or permanently erroring CVM also reads as not stopped, so callers
// polling for completion must bound their loop with a deadline.
func (c *Client) IsStopped(ctx context.Context, cvmID int64) bool {
	cvm, err := c.Get(ctx, cvmID)
	if err != nil {
		return false
	}
	return isTerminalState(cvm.Status)
}

// do issues one authenticated request and returns the response body. Any
// non-success status is converted into an *APIError carrying the status code
// and the response detail.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		payload = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", applicationJSON)
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       responseDetail(data),
		}
	}
	return data, nil
}

// responseDetail compacts a structured error body, falling back to raw text.
func responseDetail(data []byte) string {
	var detail json.RawMessage
	if err := json.Unmarshal(data, &detail); err == nil {
		var buf bytes.Buffer
		if err := json.Compact(&buf, detail); err == nil {
			return buf.String()
		}
	}
	return string(data)
}
