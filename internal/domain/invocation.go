package domain

import "time"

// InvocationStatus is the two-state lifecycle of an invocation. There is no
// PENDING state: an invocation with zero non-terminated executions is still
// RUNNING until the scheduling classifier terminates it.
type InvocationStatus string

const (
	InvocationStatusRunning    InvocationStatus = "RUNNING"
	InvocationStatusTerminated InvocationStatus = "TERMINATED"
)

// ParentRef identifies a parent invocation scoped to the same project and
// version as the child. Represented as two scalar columns rather than a
// graph edge; the Store enforces the parent exists at create time so cycles
// cannot form.
type ParentRef struct {
	FunctionName string `json:"function_name"`
	InvocationID string `json:"invocation_id"`
}

// Invocation is a (project, version, function, id) quadruple.
type Invocation struct {
	Project      string    `json:"project"`
	Version      string    `json:"version"`
	Function     string    `json:"function"`
	ID           string    `json:"id"`
	Parent       *ParentRef `json:"parent,omitempty"`
	Input        string    `json:"input"`

	CancellationRequestTime *time.Time       `json:"cancellation_request_time,omitempty"`
	Status                  InvocationStatus `json:"status"`

	CreationTime   time.Time `json:"creation_time"`
	LastUpdateTime time.Time `json:"last_update_time"`

	// Executions is populated by Store.Invocations().Get; it is not a column.
	Executions []Execution `json:"executions,omitempty"`
}

// Cancelled reports whether cancellation has been requested.
func (i Invocation) Cancelled() bool {
	return i.CancellationRequestTime != nil
}

// TimedOut reports whether t has exceeded the invocation's budget measured
// from creation_time, strictly (not inclusive of the boundary).
func (i Invocation) TimedOut(t time.Time, timeoutSeconds int) bool {
	return t.Sub(i.CreationTime) > time.Duration(timeoutSeconds)*time.Second
}

// NonTerminatedExecutionCount counts executions whose worker_status has not
// reached TERMINATED, used for concurrency accounting.
func (i Invocation) NonTerminatedExecutionCount() int {
	n := 0
	for _, e := range i.Executions {
		if e.WorkerStatus != WorkerStatusTerminated {
			n++
		}
	}
	return n
}
