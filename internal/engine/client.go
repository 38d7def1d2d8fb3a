package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// TokenProvider supplies the bearer token attached to every engine request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// APIError is a non-2xx engine response, carrying the status line and the
// raw response body.
type APIError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: %d %s - %s", e.Status, e.StatusText, e.Body)
}

// Client is a stateless request/response wrapper around the workflow
// engine's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
}

// New creates a new engine API client.
func New(baseURL string, timeout time.Duration, tokens TokenProvider) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

// SetHTTPClient sets a custom HTTP client.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// ProcessDefinitions lists all deployed process definitions.
func (c *Client) ProcessDefinitions(ctx context.Context) ([]ProcessDefinition, error) {
	var definitions []ProcessDefinition
	if err := c.doJSON(ctx, http.MethodGet, "/v1/processes", nil, &definitions); err != nil {
		return nil, err
	}
	return definitions, nil
}

// ProcessDefinition fetches one process definition, including its BPMN XML.
func (c *Client) ProcessDefinition(ctx context.Context, id string) (*ProcessDefinition, error) {
	var definition ProcessDefinition
	if err := c.doJSON(ctx, http.MethodGet, "/v1/processes/"+id, nil, &definition); err != nil {
		return nil, err
	}
	return &definition, nil
}

// ProcessInstances lists all process instances as dashboard read models.
func (c *Client) ProcessInstances(ctx context.Context) ([]ProcessInstance, error) {
	var apiInstances []apiProcessInstance
	if err := c.doJSON(ctx, http.MethodGet, "/v1/processes/instances", nil, &apiInstances); err != nil {
		return nil, err
	}

	instances := make([]ProcessInstance, 0, len(apiInstances))
	for _, instance := range apiInstances {
		instances = append(instances, instance.toProcessInstance())
	}
	return instances, nil
}

// ProcessInstance fetches one process instance.
func (c *Client) ProcessInstance(ctx context.Context, id string) (*ProcessInstance, error) {
	var apiInstance apiProcessInstance
	if err := c.doJSON(ctx, http.MethodGet, "/v1/processes/instances/"+id, nil, &apiInstance); err != nil {
		return nil, err
	}
	instance := apiInstance.toProcessInstance()
	return &instance, nil
}

// SetSuspension suspends or resumes a process instance.
func (c *Client) SetSuspension(ctx context.Context, id string, suspended bool) error {
	body := map[string]bool{"suspended": suspended}
	return c.doJSON(ctx, http.MethodPut, "/v1/process-instances/"+id+"/suspension", body, nil)
}

// CancelProcessInstance cancels a running process instance.
func (c *Client) CancelProcessInstance(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/process-instances/"+id, nil, nil)
}

// ActivityInstances lists the activity instances of a process instance.
func (c *Client) ActivityInstances(ctx context.Context, id string) ([]ActivityInstance, error) {
	var payload struct {
		ChildActivityInstances []ActivityInstance `json:"childActivityInstances"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/process-instances/"+id+"/activity-instances", nil, &payload); err != nil {
		return nil, err
	}
	return payload.ChildActivityInstances, nil
}

// Variables reads the variables of a process instance as a sorted list.
func (c *Client) Variables(ctx context.Context, id string) ([]Variable, error) {
	var payload map[string]variableValue
	if err := c.doJSON(ctx, http.MethodGet, "/v1/process-instances/"+id+"/variables", nil, &payload); err != nil {
		return nil, err
	}

	variables := make([]Variable, 0, len(payload))
	for name, value := range payload {
		variables = append(variables, Variable{Name: name, Type: value.Type, Value: value.Value})
	}
	sort.Slice(variables, func(i, j int) bool { return variables[i].Name < variables[j].Name })
	return variables, nil
}

// UpdateVariable writes a single variable modification.
func (c *Client) UpdateVariable(ctx context.Context, id, name string, value json.RawMessage, varType string) error {
	body := map[string]map[string]variableValue{
		"modifications": {
			name: {Value: value, Type: varType},
		},
	}
	return c.doJSON(ctx, http.MethodPatch, "/v1/process-instances/"+id+"/variables", body, nil)
}

// Jobs lists engine jobs, including failed ones awaiting retry.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := c.doJSON(ctx, http.MethodGet, "/v1/jobs", nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// RetryJob resets the retry counter of a failed job.
func (c *Client) RetryJob(ctx context.Context, id string, retries int) error {
	body := map[string]int{"retries": retries}
	return c.doJSON(ctx, http.MethodPost, "/v1/jobs/"+id+"/retries", body, nil)
}

// JobStacktrace fetches the failure stacktrace of a job as plain text.
func (c *Client) JobStacktrace(ctx context.Context, id string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+id+"/stacktrace", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read stacktrace: %w", err)
	}
	return string(text), nil
}

// doJSON performs a request with an optional JSON body, decoding a JSON
// response into out when out is non-nil and the response is non-empty.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return &APIError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       string(body),
	}
}
