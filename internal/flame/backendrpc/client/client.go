// Package client is the Executor Manager's HTTP client for the backend RPC
// contract.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/flame-sh/flame/internal/flame/backendrpc"
	"github.com/flame-sh/flame/internal/flame/ferrors"
)

// Client calls the Session Manager's backend RPC over HTTP. bind_executor
// and launch_task are long-poll calls; callers are expected to pass a
// context bounded by their own retry/backoff policy, not http.Client's
// Timeout, since the server itself may legitimately hold the connection
// open for up to delay_release.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://session-manager:8080").
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ferrors.Network(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &ferrors.FlameError{Kind: kindFromStatus(errBody.Status), Message: errBody.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func kindFromStatus(status string) ferrors.Kind {
	switch status {
	case "not-found":
		return ferrors.KindNotFound
	case "failed-precondition":
		return ferrors.KindInvalidState
	case "unavailable":
		return ferrors.KindNetwork
	default:
		return ferrors.KindInternal
	}
}

// RegisterNode registers this node with the Session Manager.
func (c *Client) RegisterNode(ctx context.Context, name string, allocatable map[string]int64) error {
	return c.do(ctx, http.MethodPost, "/backend/nodes", backendrpc.RegisterNodeRequest{
		Name: name, Allocatable: allocatable,
	}, nil)
}

// SyncNode sends a heartbeat for the named node and returns the
// authoritative set of executors the scheduler has placed on it.
func (c *Client) SyncNode(ctx context.Context, name string) ([]backendrpc.SyncNodeExecutor, error) {
	var resp backendrpc.SyncNodeResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/backend/nodes/%s/sync", name), nil, &resp)
	return resp.Executors, err
}

// RegisterExecutor registers a new executor on this node and returns its id.
func (c *Client) RegisterExecutor(ctx context.Context, nodeName string, slots int32, applications []string) (uuid.UUID, error) {
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/backend/executors", backendrpc.RegisterExecutorRequest{
		NodeName: nodeName, Slots: slots, Applications: applications,
	}, &resp)
	return resp.ID, err
}

// BindExecutor blocks (bounded by ctx) until the scheduler assigns a session.
func (c *Client) BindExecutor(ctx context.Context, id uuid.UUID) (int64, error) {
	var resp backendrpc.BindExecutorResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backend/executors/%s/bind", id), nil, &resp)
	return resp.SsnID, err
}

// BindExecutorCompleted reports that the shim's on_session_enter succeeded.
func (c *Client) BindExecutorCompleted(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/backend/executors/%s/bind_completed", id), nil, nil)
}

// LaunchTask blocks (bounded by delay_release server-side) for a Pending
// task. A nil task means the caller should unbind.
func (c *Client) LaunchTask(ctx context.Context, id uuid.UUID) (*backendrpc.TaskDTO, error) {
	var resp backendrpc.LaunchTaskResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/backend/executors/%s/launch_task", id), nil, &resp)
	return resp.Task, err
}

// CompleteTask reports a task's outcome.
func (c *Client) CompleteTask(ctx context.Context, id uuid.UUID, ssnID, taskID int64, output []byte, failed bool) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/backend/executors/%s/complete_task", id), backendrpc.CompleteTaskRequest{
		SsnID: ssnID, TaskID: taskID, Output: output, Failed: failed,
	}, nil)
}

// UnbindExecutor reports that the shim's on_session_leave has started.
func (c *Client) UnbindExecutor(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/backend/executors/%s/unbind", id), nil, nil)
}

// UnbindExecutorCompleted reports that the shim's on_session_leave finished.
func (c *Client) UnbindExecutorCompleted(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/backend/executors/%s/unbind_completed", id), nil, nil)
}
