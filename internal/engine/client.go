package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pippuri/whim-bot-sub001/internal/fault"
)

// Long polls are bounded at roughly 70 seconds engine-side; the HTTP client
// timeout leaves room for one full poll plus transport overhead.
const httpTimeout = 90 * time.Second

// HTTPClient implements Client against the engine's JSON-over-HTTP surface.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewHTTPClient creates a client for the engine reachable at baseURL.
func NewHTTPClient(baseURL string, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: httpTimeout},
		log:     log,
	}
}

func (c *HTTPClient) StartWorkflow(ctx context.Context, req *StartWorkflowRequest) (*StartWorkflowResponse, error) {
	var resp StartWorkflowResponse
	if err := c.post(ctx, "/v1/workflows/start", req, &resp); err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", req.WorkflowID, err)
	}
	return &resp, nil
}

func (c *HTTPClient) PollForDecisionTask(ctx context.Context, req *PollForDecisionTaskRequest) (*DecisionTask, error) {
	var task DecisionTask
	if err := c.post(ctx, "/v1/decision-tasks/poll", req, &task); err != nil {
		return nil, fmt.Errorf("poll decision task list %s: %w", req.TaskList, err)
	}
	// An expired long poll returns an empty marker: a body without a token.
	if task.TaskToken == "" {
		return nil, nil
	}
	return &task, nil
}

func (c *HTTPClient) RespondDecisionTaskCompleted(ctx context.Context, req *RespondDecisionTaskCompletedRequest) error {
	if err := c.post(ctx, "/v1/decision-tasks/respond", req, nil); err != nil {
		return fmt.Errorf("respond decision task completed: %w", err)
	}
	return nil
}

func (c *HTTPClient) SignalWorkflow(ctx context.Context, req *SignalWorkflowRequest) error {
	if err := c.post(ctx, "/v1/workflows/signal", req, nil); err != nil {
		return fmt.Errorf("signal workflow %s: %w", req.WorkflowID, err)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fault.Wrap(fault.KindTransient, "engine request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Warn("engine returned error status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		kind := fault.KindTransient
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = fault.KindDomain
		}
		return fault.Newf(kind, "engine %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}
