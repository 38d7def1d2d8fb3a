package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProcessStatus is the engine's lifecycle status of a process instance.
type ProcessStatus string

const (
	StatusRunning   ProcessStatus = "RUNNING"
	StatusCompleted ProcessStatus = "COMPLETED"
	StatusFailed    ProcessStatus = "FAILED"
	StatusSuspended ProcessStatus = "SUSPENDED"
	StatusCancelled ProcessStatus = "CANCELLED"
)

// ProcessDefinition is a deployed process model.
type ProcessDefinition struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Key     string `json:"key"`
	Version int    `json:"version"`
	BpmnXML string `json:"bpmnXml,omitempty"`
}

// apiProcessInstance is the wire shape the engine returns for an instance.
type apiProcessInstance struct {
	ID                    string                     `json:"id"`
	ProcessDefinitionID   string                     `json:"processDefinitionId"`
	ProcessDefinitionName string                     `json:"processDefinitionName"`
	CurrentActivityID     string                     `json:"currentActivityId,omitempty"`
	Status                ProcessStatus              `json:"status"`
	Suspended             bool                       `json:"suspended"`
	StartDate             time.Time                  `json:"startDate"`
	EndDate               *time.Time                 `json:"endDate,omitempty"`
	StartedBy             string                     `json:"startedBy"`
	Variables             map[string]json.RawMessage `json:"variables,omitempty"`
}

// ProcessInstance is the dashboard read model of a process instance.
type ProcessInstance struct {
	ID              string        `json:"id"`
	DefinitionID    string        `json:"definition_id"`
	DefinitionName  string        `json:"definition_name"`
	Status          ProcessStatus `json:"status"`
	StartedBy       string        `json:"started_by"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	CurrentActivity string        `json:"current_activity,omitempty"`
	Duration        string        `json:"duration,omitempty"`
	StartedAgo      string        `json:"started_ago,omitempty"`
}

// toProcessInstance converts the wire shape into the read model. Finished
// instances report their total runtime; running ones report elapsed time so
// far.
func (a apiProcessInstance) toProcessInstance() ProcessInstance {
	instance := ProcessInstance{
		ID:              a.ID,
		DefinitionID:    a.ProcessDefinitionID,
		DefinitionName:  a.ProcessDefinitionName,
		Status:          a.Status,
		StartedBy:       a.StartedBy,
		StartTime:       a.StartDate,
		EndTime:         a.EndDate,
		CurrentActivity: a.CurrentActivityID,
		StartedAgo:      FormatRelativeTime(a.StartDate),
	}
	end := time.Now()
	if a.EndDate != nil {
		end = *a.EndDate
	}
	instance.Duration = FormatDuration(a.StartDate, end)
	return instance
}

// Job is a failed or pending engine job.
type Job struct {
	ID                    string     `json:"id"`
	ProcessInstanceID     string     `json:"processInstanceId"`
	ProcessDefinitionName string     `json:"processDefinitionName"`
	ActivityID            string     `json:"activityId"`
	ActivityName          string     `json:"activityName"`
	ExceptionMessage      string     `json:"exceptionMessage"`
	Retries               int        `json:"retries"`
	DueDate               *time.Time `json:"dueDate,omitempty"`
	FailureTime           time.Time  `json:"failureTime"`
}

// Variable is a named process variable with its engine type.
type Variable struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// variableValue is the wire shape of a single variable.
type variableValue struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

// ActivityInstance is one executed or executing node of an instance.
type ActivityInstance struct {
	ID           string     `json:"id"`
	ActivityID   string     `json:"activityId"`
	ActivityName string     `json:"activityName"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
}

// FormatDuration renders the span between two instants as a compact
// human-readable string like "3d 5h", "2h 30m" or "45m".
func FormatDuration(start, end time.Time) string {
	minutes := int(end.Sub(start).Minutes())
	hours := minutes / 60
	days := hours / 24

	if days > 0 {
		if remaining := hours % 24; remaining > 0 {
			return fmt.Sprintf("%dd %dh", days, remaining)
		}
		return fmt.Sprintf("%dd", days)
	}
	if hours > 0 {
		if remaining := minutes % 60; remaining > 0 {
			return fmt.Sprintf("%dh %dm", hours, remaining)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatRelativeTime renders how long ago an instant was, like "3d ago",
// "2h ago" or "just now".
func FormatRelativeTime(t time.Time) string {
	minutes := int(time.Since(t).Minutes())
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd ago", days)
	case hours > 0:
		return fmt.Sprintf("%dh ago", hours)
	case minutes > 0:
		return fmt.Sprintf("%dm ago", minutes)
	default:
		return "just now"
	}
}
