package magnussdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Magnus HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Budget represents the API budget model (partial).
type Budget struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ClientName        string  `json:"client_name"`
	EventDate         string  `json:"event_date"`
	Status            string  `json:"status"`
	TotalAmount       float64 `json:"total_amount"`
	Version           int     `json:"version"`
	WorkflowTriggered bool    `json:"workflow_triggered"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           string `json:"id"`
	BudgetID     string `json:"budget_id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	AssignedRole string `json:"assigned_role"`
	DueDate      string `json:"due_date"`
}

// Dependency represents an edge between two tasks.
type Dependency struct {
	ID             string `json:"id"`
	PrerequisiteID string `json:"prerequisite_id"`
	DependentID    string `json:"dependent_id"`
	Type           string `json:"type"`
	IsActive       bool   `json:"is_active"`
}

// Conflict represents a concurrent-edit conflict record.
type Conflict struct {
	ID            string `json:"id"`
	EntityType    string `json:"entity_type"`
	EntityID      string `json:"entity_id"`
	Status        string `json:"status"`
	LocalValue    string `json:"local_value"`
	RemoteValue   string `json:"remote_value"`
	Strategy      string `json:"strategy,omitempty"`
	ResolvedValue string `json:"resolved_value,omitempty"`
}

// GenerationResult is the outcome of triggering task generation.
type GenerationResult struct {
	Tasks            []Task       `json:"tasks"`
	Dependencies     []Dependency `json:"dependencies"`
	AlreadyTriggered bool         `json:"already_triggered"`
}

// WorkflowStatus summarizes the workflow state of a budget.
type WorkflowStatus struct {
	BudgetID              string `json:"budget_id"`
	Status                string `json:"status"`
	WorkflowTriggered     bool   `json:"workflow_triggered"`
	GeneratedTaskCount    int    `json:"generated_task_count"`
	LastWorkflowExecution string `json:"last_workflow_execution,omitempty"`
}

// TaskStatusResult returns the changed task plus dependents it freed.
type TaskStatusResult struct {
	Task      Task   `json:"task"`
	Unblocked []Task `json:"unblocked,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateBudget creates a budget in DRAFT.
func (c *Client) CreateBudget(ctx context.Context, body map[string]any) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodPost, "budgets", body, &resp)
	return resp, err
}

// GetBudget fetches a budget by id.
func (c *Client) GetBudget(ctx context.Context, id string) (Budget, error) {
	var resp Budget
	err := c.do(ctx, http.MethodGet, "budgets/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateBudget patches budget fields with a version check.
func (c *Client) UpdateBudget(ctx context.Context, id string, version int, fields map[string]any) (Budget, error) {
	body := map[string]any{"version": version}
	for k, v := range fields {
		body[k] = v
	}
	var resp Budget
	err := c.do(ctx, http.MethodPatch, "budgets/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// ChangeBudgetStatus moves a budget along its lifecycle.
func (c *Client) ChangeBudgetStatus(ctx context.Context, id, status, notes string) (Budget, error) {
	body := map[string]any{"status": status}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Budget
	endpoint := fmt.Sprintf("workflow/budget-status/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// ApproveBudget approves a pending budget and reserves it.
func (c *Client) ApproveBudget(ctx context.Context, id, notes string) (Budget, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Budget
	endpoint := fmt.Sprintf("workflow/approve-budget/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TriggerTasks generates the preparation tasks for a reserved budget.
func (c *Client) TriggerTasks(ctx context.Context, budgetID string) (GenerationResult, error) {
	var resp GenerationResult
	endpoint := fmt.Sprintf("workflow/trigger-tasks/%s", url.PathEscape(budgetID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// WorkflowStatus returns the workflow state of a budget.
func (c *Client) WorkflowStatus(ctx context.Context, budgetID string) (WorkflowStatus, error) {
	var resp WorkflowStatus
	endpoint := fmt.Sprintf("workflow/budget-status/%s", url.PathEscape(budgetID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListTasks returns the tasks of a budget, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, budgetID, status string) ([]Task, error) {
	endpoint := fmt.Sprintf("budgets/%s/tasks", url.PathEscape(budgetID))
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetTaskStatus moves a task along its lifecycle.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (TaskStatusResult, error) {
	var resp TaskStatusResult
	endpoint := fmt.Sprintf("tasks/%s/status", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddDependency makes taskID depend on prerequisiteID.
func (c *Client) AddDependency(ctx context.Context, taskID, prerequisiteID, depType string) (Dependency, error) {
	body := map[string]any{"prerequisite_id": prerequisiteID}
	if depType != "" {
		body["type"] = depType
	}
	var resp Dependency
	endpoint := fmt.Sprintf("tasks/%s/dependencies", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListConflicts returns conflict records, optionally filtered.
func (c *Client) ListConflicts(ctx context.Context, entityType, entityID, status string) ([]Conflict, error) {
	q := url.Values{}
	if entityType != "" {
		q.Set("entity_type", entityType)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if status != "" {
		q.Set("status", status)
	}
	endpoint := "conflicts"
	if len(q) > 0 {
		endpoint = endpoint + "?" + q.Encode()
	}
	var resp []Conflict
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ResolveConflict resolves a detected conflict with the given strategy.
func (c *Client) ResolveConflict(ctx context.Context, conflictID, strategy, resolvedValue string) (Conflict, error) {
	body := map[string]any{"strategy": strategy}
	if resolvedValue != "" {
		body["resolved_value"] = resolvedValue
	}
	var resp Conflict
	endpoint := fmt.Sprintf("conflicts/%s/resolve", url.PathEscape(conflictID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// EscalateConflict marks a detected conflict for out-of-band handling.
func (c *Client) EscalateConflict(ctx context.Context, conflictID string) (Conflict, error) {
	var resp Conflict
	endpoint := fmt.Sprintf("conflicts/%s/escalate", url.PathEscape(conflictID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
