package domain

import "time"

// WorkerStatus tracks an execution's worker through the provisioner.
type WorkerStatus string

const (
	WorkerStatusPending      WorkerStatus = "PENDING"
	WorkerStatusProvisioning WorkerStatus = "PROVISIONING"
	WorkerStatusRunning      WorkerStatus = "RUNNING"
	WorkerStatusTerminated   WorkerStatus = "TERMINATED"
)

// Outcome is the terminal classification of an execution attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeAborted   Outcome = "ABORTED"
)

// WorkerDetails is the opaque handle the provisioner returns from
// provision_worker; it is presented back to every subsequent provisioner
// call for the same execution.
type WorkerDetails struct {
	Type           string `json:"type"`
	Identifier     string `json:"identifier"`
	LogsIdentifier string `json:"logs_identifier"`
}

// Execution is one attempt at running an invocation; it corresponds 1:1
// with one worker.
type Execution struct {
	Project      string `json:"project"`
	Version      string `json:"version"`
	Function     string `json:"function"`
	Invocation   string `json:"invocation"`
	ID           string `json:"id"`

	WorkerStatus         WorkerStatus   `json:"worker_status"`
	WorkerDetails        *WorkerDetails `json:"worker_details,omitempty"`
	TerminationSignalTime *time.Time    `json:"termination_signal_time,omitempty"`

	Outcome      *Outcome `json:"outcome,omitempty"`
	Output       string   `json:"output,omitempty"`
	ErrorMessage *string  `json:"error_message,omitempty"`

	CreationTime        time.Time  `json:"creation_time"`
	LastUpdateTime      time.Time  `json:"last_update_time"`
	ExecutionStartTime  *time.Time `json:"execution_start_time,omitempty"`
	ExecutionFinishTime *time.Time `json:"execution_finish_time,omitempty"`
}

// Started reports whether execution_start_time is set.
func (e Execution) Started() bool {
	return e.ExecutionStartTime != nil
}

// Finished reports whether execution_finish_time is set.
func (e Execution) Finished() bool {
	return e.ExecutionFinishTime != nil
}

// ExecutionUpdate is a partial update over an Execution row, with optional
// preconditions enforced by the Store (see §4.1).
type ExecutionUpdate struct {
	NewWorkerStatus          *WorkerStatus
	NewWorkerDetails         *WorkerDetails
	NewTerminationSignalTime *time.Time
	NewOutcome               *Outcome
	NewOutput                *string
	NewErrorMessage          *string
	NewExecutionStartTime    *time.Time
	NewExecutionFinishTime   *time.Time

	// ShouldAlreadyHaveStarted, if non-nil, enforces the current
	// execution_start_time is set (true) or unset (false) before applying
	// the update.
	ShouldAlreadyHaveStarted *bool
	// ShouldAlreadyHaveFinished is the analogous precondition for
	// execution_finish_time.
	ShouldAlreadyHaveFinished *bool
}
