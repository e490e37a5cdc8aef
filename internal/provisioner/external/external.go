// Package external implements Provisioner as an HTTPS client against a
// real orchestrator. Every call is a POST with a JSON body and a bearer
// token; 2xx is success, 4xx is a permanent failure reported with the
// response's detail message, 5xx is treated as transient and returned as a
// plain error for the reconciler to retry next tick.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/provisioner"
	"github.com/fnplane/controlplane/pkg/logger"
	"github.com/fnplane/controlplane/pkg/version"
)

const (
	preparePath     = "/prepare"
	provisionPath   = "/provision"
	terminatePath   = "/terminate"
	checkStatusPath = "/check_status"
	getLogsPath     = "/get_logs"

	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 20
	defaultBurst             = 40
)

// Client is a Provisioner backed by an HTTP API. It is safe for concurrent
// use; outbound requests are throttled by a shared token bucket so a burst
// of reconciler ticks never overwhelms the provisioner backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// New returns a Client. BaseURL and Token are required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provisioner/external: base URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("provisioner/external: token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("provisioner")
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		log:        log,
	}, nil
}

var _ provisioner.Provisioner = (*Client)(nil)

type errorBody struct {
	Detail string `json:"detail"`
}

// do POSTs body as JSON to path and decodes the response into out. A 4xx
// response is a permanent failure and is returned verbatim with its detail
// message; a 5xx response is wrapped the same way but callers should treat
// it as transient, per the provisioner contract in §4.2.
func (c *Client) do(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("provisioner/external: rate limit wait: %w", err)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provisioner/external: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("provisioner/external: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provisioner/external: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provisioner/external: %s: read response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var e errorBody
		if json.Unmarshal(respBody, &e) == nil && e.Detail != "" {
			return fmt.Errorf("provisioner/external: %s: status %d: %s", path, resp.StatusCode, e.Detail)
		}
		return fmt.Errorf("provisioner/external: %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("provisioner/external: %s: unmarshal response: %w", path, err)
	}
	return nil
}

type prepareFunctionRequest struct {
	ProjectName  string              `json:"project_name"`
	VersionID    string              `json:"version_id"`
	FunctionName string              `json:"function_name"`
	DockerImage  string              `json:"docker_image"`
	ResourceSpec domain.ResourceSpec `json:"resource_spec"`
}

type prepareFunctionResponse struct {
	PreparedFunctionDetails domain.PreparedFunctionDetails `json:"prepared_function_details"`
}

// PrepareFunction implements provisioner.Provisioner.
func (c *Client) PrepareFunction(ctx context.Context, project, version, function, dockerImage string, spec domain.ResourceSpec) (*domain.PreparedFunctionDetails, error) {
	var resp prepareFunctionResponse
	err := c.do(ctx, preparePath, prepareFunctionRequest{
		ProjectName:  project,
		VersionID:    version,
		FunctionName: function,
		DockerImage:  dockerImage,
		ResourceSpec: spec,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.PreparedFunctionDetails, nil
}

type provisionWorkerRequest struct {
	ProjectName             string                         `json:"project_name"`
	VersionID               string                         `json:"version_id"`
	FunctionName            string                         `json:"function_name"`
	InvocationID            string                         `json:"invocation_id"`
	ExecutionID             string                         `json:"execution_id"`
	ResourceSpec            domain.ResourceSpec            `json:"resource_spec"`
	PreparedFunctionDetails domain.PreparedFunctionDetails `json:"prepared_function_details"`
}

type provisionWorkerResponse struct {
	WorkerDetails domain.WorkerDetails `json:"worker_details"`
}

// ProvisionWorker implements provisioner.Provisioner. A failure here must
// be treated by the caller as leaving the execution in PROVISIONING: the
// worker may or may not have actually started.
func (c *Client) ProvisionWorker(ctx context.Context, project, version, function, invocationID, executionID string, spec domain.ResourceSpec, prepared *domain.PreparedFunctionDetails) (*domain.WorkerDetails, error) {
	var details domain.PreparedFunctionDetails
	if prepared != nil {
		details = *prepared
	}

	var resp provisionWorkerResponse
	err := c.do(ctx, provisionPath, provisionWorkerRequest{
		ProjectName:             project,
		VersionID:               version,
		FunctionName:            function,
		InvocationID:            invocationID,
		ExecutionID:             executionID,
		ResourceSpec:            spec,
		PreparedFunctionDetails: details,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.WorkerDetails, nil
}

type terminateWorkerRequest struct {
	WorkerDetails domain.WorkerDetails `json:"worker_details"`
}

// SendTerminationSignal implements provisioner.Provisioner.
func (c *Client) SendTerminationSignal(ctx context.Context, details *domain.WorkerDetails) error {
	var wd domain.WorkerDetails
	if details != nil {
		wd = *details
	}
	return c.do(ctx, terminatePath, terminateWorkerRequest{WorkerDetails: wd}, nil)
}

type checkWorkerStatusRequest struct {
	WorkerDetails domain.WorkerDetails `json:"worker_details"`
}

type checkWorkerStatusResponse struct {
	WorkerStatus provisioner.WorkerState `json:"worker_status"`
}

// CheckWorkerStatus implements provisioner.Provisioner.
func (c *Client) CheckWorkerStatus(ctx context.Context, details *domain.WorkerDetails) (provisioner.WorkerState, error) {
	var wd domain.WorkerDetails
	if details != nil {
		wd = *details
	}

	var resp checkWorkerStatusResponse
	if err := c.do(ctx, checkStatusPath, checkWorkerStatusRequest{WorkerDetails: wd}, &resp); err != nil {
		return "", err
	}
	return resp.WorkerStatus, nil
}

type getLogsRequest struct {
	WorkerDetails domain.WorkerDetails `json:"worker_details"`
	MaxLines      int                  `json:"max_lines"`
	InitialOffset *string              `json:"initial_offset,omitempty"`
}

type getLogsResponse struct {
	LogLines   []string `json:"log_lines"`
	NextOffset *string  `json:"next_offset,omitempty"`
}

// GetWorkerLogs implements provisioner.Provisioner.
func (c *Client) GetWorkerLogs(ctx context.Context, details *domain.WorkerDetails, maxLines int, offset string) ([]string, string, error) {
	var wd domain.WorkerDetails
	if details != nil {
		wd = *details
	}

	req := getLogsRequest{WorkerDetails: wd, MaxLines: maxLines}
	if offset != "" {
		req.InitialOffset = &offset
	}

	var resp getLogsResponse
	if err := c.do(ctx, getLogsPath, req, &resp); err != nil {
		return nil, "", err
	}

	var next string
	if resp.NextOffset != nil {
		next = *resp.NextOffset
	}
	return resp.LogLines, next, nil
}
