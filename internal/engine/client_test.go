package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second, staticTokens{token: "test-token"})
}

func TestRequestCarriesBearerToken(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	})

	if _, err := client.ProcessDefinitions(context.Background()); err != nil {
		t.Fatalf("ProcessDefinitions() error = %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want Bearer test-token", gotAuth)
	}
}

func TestTokenProviderFailureShortCircuits(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	wantErr := errors.New("no session")
	client := New(server.URL, 5*time.Second, staticTokens{err: wantErr})

	if _, err := client.ProcessDefinitions(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("ProcessDefinitions() error = %v, want %v", err, wantErr)
	}
	if called {
		t.Error("engine was contacted despite missing token")
	}
}

func TestProcessInstancesComputesDuration(t *testing.T) {
	start := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(2*time.Hour + 30*time.Minute)
	runningStart := time.Now().Add(-90 * time.Minute)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/processes/instances" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":                    "inst-1",
				"processDefinitionId":   "def-1",
				"processDefinitionName": "Invoice",
				"status":                "COMPLETED",
				"startDate":             start,
				"endDate":               end,
				"startedBy":             "alice",
			},
			{
				"id":                    "inst-2",
				"processDefinitionId":   "def-1",
				"processDefinitionName": "Invoice",
				"currentActivityId":     "review",
				"status":                "RUNNING",
				"startDate":             runningStart,
				"startedBy":             "bob",
			},
		})
	})

	instances, err := client.ProcessInstances(context.Background())
	if err != nil {
		t.Fatalf("ProcessInstances() error = %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("got %d instances, want 2", len(instances))
	}

	if instances[0].Duration != "2h 30m" {
		t.Errorf("Duration = %q, want 2h 30m", instances[0].Duration)
	}
	if instances[0].Status != StatusCompleted {
		t.Errorf("Status = %q, want COMPLETED", instances[0].Status)
	}

	// A running instance reports its elapsed time so far.
	if instances[1].Duration != "1h 30m" {
		t.Errorf("running instance Duration = %q, want 1h 30m", instances[1].Duration)
	}
	if instances[1].StartedAgo != "1h ago" {
		t.Errorf("StartedAgo = %q, want 1h ago", instances[1].StartedAgo)
	}
	if instances[1].CurrentActivity != "review" {
		t.Errorf("CurrentActivity = %q, want review", instances[1].CurrentActivity)
	}
}

func TestSetSuspension(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.SetSuspension(context.Background(), "inst-1", true); err != nil {
		t.Fatalf("SetSuspension() error = %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotPath != "/v1/process-instances/inst-1/suspension" {
		t.Errorf("path = %q", gotPath)
	}
	if !gotBody["suspended"] {
		t.Errorf("body = %v, want suspended=true", gotBody)
	}
}

func TestCancelProcessInstance(t *testing.T) {
	var gotMethod, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.CancelProcessInstance(context.Background(), "inst-1"); err != nil {
		t.Fatalf("CancelProcessInstance() error = %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotPath != "/v1/process-instances/inst-1" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestActivityInstancesUnwrapsChildren(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"id": "inst-1",
			"childActivityInstances": [
				{"id": "act-1", "activityId": "start", "activityName": "Start", "type": "startEvent", "status": "COMPLETED", "startTime": "2026-02-10T08:00:00Z"},
				{"id": "act-2", "activityId": "review", "activityName": "Review", "type": "userTask", "status": "ACTIVE", "startTime": "2026-02-10T08:01:00Z"}
			]
		}`)
	})

	activities, err := client.ActivityInstances(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("ActivityInstances() error = %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("got %d activity instances, want 2", len(activities))
	}
	if activities[1].ActivityID != "review" {
		t.Errorf("ActivityID = %q, want review", activities[1].ActivityID)
	}
}

func TestVariablesSortedByName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"zeta":   {"value": 42, "type": "Integer"},
			"alpha":  {"value": "hello", "type": "String"},
			"middle": {"value": true, "type": "Boolean"}
		}`)
	})

	variables, err := client.Variables(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Variables() error = %v", err)
	}

	want := []string{"alpha", "middle", "zeta"}
	if len(variables) != len(want) {
		t.Fatalf("got %d variables, want %d", len(variables), len(want))
	}
	for i, name := range want {
		if variables[i].Name != name {
			t.Errorf("variables[%d].Name = %q, want %q", i, variables[i].Name, name)
		}
	}
	if variables[0].Type != "String" {
		t.Errorf("alpha type = %q, want String", variables[0].Type)
	}
	if string(variables[2].Value) != "42" {
		t.Errorf("zeta value = %s, want 42", variables[2].Value)
	}
}

func TestUpdateVariable(t *testing.T) {
	var gotBody string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q, want PATCH", r.Method)
		}
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.UpdateVariable(context.Background(), "inst-1", "amount", json.RawMessage("1500"), "Integer")
	if err != nil {
		t.Fatalf("UpdateVariable() error = %v", err)
	}

	var payload struct {
		Modifications map[string]struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"modifications"`
	}
	if err := json.Unmarshal([]byte(gotBody), &payload); err != nil {
		t.Fatalf("failed to decode request body %q: %v", gotBody, err)
	}
	modification, ok := payload.Modifications["amount"]
	if !ok {
		t.Fatalf("body %q carries no modification for amount", gotBody)
	}
	if string(modification.Value) != "1500" || modification.Type != "Integer" {
		t.Errorf("modification = %+v", modification)
	}
}

func TestRetryJob(t *testing.T) {
	var gotPath string
	var gotBody map[string]int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.RetryJob(context.Background(), "job-1", 3); err != nil {
		t.Fatalf("RetryJob() error = %v", err)
	}
	if gotPath != "/v1/jobs/job-1/retries" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["retries"] != 3 {
		t.Errorf("retries = %d, want 3", gotBody["retries"])
	}
}

func TestJobStacktrace(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "java.lang.RuntimeException: boom\n\tat Worker.run(Worker.java:42)")
	})

	stacktrace, err := client.JobStacktrace(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("JobStacktrace() error = %v", err)
	}
	if stacktrace == "" || stacktrace[:4] != "java" {
		t.Errorf("stacktrace = %q", stacktrace)
	}
}

func TestErrorResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"message":"instance not found"}`)
	})

	_, err := client.ProcessInstance(context.Background(), "missing")
	if err == nil {
		t.Fatal("ProcessInstance() returned nil error for 404")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", apiErr.Status)
	}
	if apiErr.StatusText != "Not Found" {
		t.Errorf("StatusText = %q, want Not Found", apiErr.StatusText)
	}
	if apiErr.Body != `{"message":"instance not found"}` {
		t.Errorf("Body = %q", apiErr.Body)
	}
}

func TestEmptyResponseBodyTolerated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	definitions, err := client.ProcessDefinitions(context.Background())
	if err != nil {
		t.Fatalf("ProcessDefinitions() error = %v", err)
	}
	if definitions != nil {
		t.Errorf("definitions = %v, want nil", definitions)
	}
}
