// Package classify holds the reconciler's pure decision functions. Every
// function here is total and side-effect free: given a snapshot of
// in-memory state it returns a partition of its input, never touching a
// Store or a Provisioner. This keeps the lifecycle rules unit-testable
// without a database or a fake worker backend.
package classify

import (
	"sort"
	"time"

	"github.com/fnplane/controlplane/internal/domain"
)

// RunningExecutionInput bundles a RUNNING execution with the context the
// termination-signal classifier needs from its owning invocation and
// function, so the classifier itself never has to look anything up.
type RunningExecutionInput struct {
	Execution              domain.Execution
	InvocationCreationTime time.Time
	InvocationCancelled    bool
	TimeoutSeconds         int
}

// TerminationSignals implements §4.3.1: among RUNNING executions, picks the
// ones that should receive a termination signal this tick.
func TerminationSignals(inputs []RunningExecutionInput, t time.Time) []domain.Execution {
	var signal []domain.Execution
	for _, in := range inputs {
		if in.Execution.TerminationSignalTime != nil {
			continue
		}
		timedOut := t.Sub(in.InvocationCreationTime) > time.Duration(in.TimeoutSeconds)*time.Second
		if in.InvocationCancelled || timedOut {
			signal = append(signal, in.Execution)
		}
	}
	return signal
}

type invocationKey struct {
	project, version, function, id string
}

func keyOf(inv domain.Invocation) invocationKey {
	return invocationKey{inv.Project, inv.Version, inv.Function, inv.ID}
}

// PersistedCancellationLookup reports whether the named invocation already
// has a persisted cancellation_request_time, independent of the invocations
// passed into this classifier pass (the parent may not itself be RUNNING).
type PersistedCancellationLookup func(project, version, function, id string) bool

// ProjectDeletionLookup reports whether the named project has a pending
// deletion request.
type ProjectDeletionLookup func(project string) bool

// PropagateCancellation implements §4.3.2: given all RUNNING invocations,
// selects the ones that should have cancellation_request_time set this
// tick, propagating through parent chains in a single pass.
func PropagateCancellation(invocations []domain.Invocation, projectDeleted ProjectDeletionLookup, parentCancelled PersistedCancellationLookup) []domain.Invocation {
	sorted := make([]domain.Invocation, len(invocations))
	copy(sorted, invocations)
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].CreationTime.Before(sorted[b].CreationTime)
	})

	cancelledThisPass := make(map[invocationKey]bool)
	var selected []domain.Invocation

	for _, inv := range sorted {
		if inv.Cancelled() {
			continue
		}
		if projectDeleted(inv.Project) {
			selected = append(selected, inv)
			cancelledThisPass[keyOf(inv)] = true
			continue
		}
		if inv.Parent != nil {
			parentKey := invocationKey{inv.Project, inv.Version, inv.Parent.FunctionName, inv.Parent.InvocationID}
			if parentCancelled(inv.Project, inv.Version, inv.Parent.FunctionName, inv.Parent.InvocationID) || cancelledThisPass[parentKey] {
				selected = append(selected, inv)
				cancelledThisPass[keyOf(inv)] = true
				continue
			}
		}
	}
	return selected
}

// FunctionCapacity carries the fields of a READY function the scheduling
// classifier needs: its concurrency ceiling and the execution_spec that
// governs its invocations' retry and timeout budget.
type FunctionCapacity struct {
	Project        string
	Version        string
	Name           string
	MaxConcurrency int
	MaxRetries     int
	TimeoutSeconds int
}

func functionKeyOf(inv domain.Invocation) invocationKey {
	return invocationKey{inv.Project, inv.Version, inv.Function, ""}
}

func functionKeyOfCapacity(f FunctionCapacity) invocationKey {
	return invocationKey{f.Project, f.Version, f.Name, ""}
}

// ScheduleAndTerminate implements §4.3.3: partitions RUNNING invocations
// into those that should have a new execution created and those that
// should be terminated this tick. An invocation absent from both returned
// slices is left unchanged.
func ScheduleAndTerminate(invocations []domain.Invocation, functions []FunctionCapacity, t time.Time) (toCreateExecution, toTerminate []domain.Invocation) {
	capacity := make(map[invocationKey]int, len(functions))
	specs := make(map[invocationKey]FunctionCapacity, len(functions))
	for _, fn := range functions {
		key := functionKeyOfCapacity(fn)
		capacity[key] = fn.MaxConcurrency
		specs[key] = fn
	}

	for _, inv := range invocations {
		key := functionKeyOf(inv)
		if _, ok := capacity[key]; !ok {
			continue
		}
		if inv.NonTerminatedExecutionCount() > 0 {
			capacity[key]--
		}
	}

	for _, inv := range invocations {
		key := functionKeyOf(inv)
		fn, ok := specs[key]
		if !ok {
			continue
		}
		if inv.NonTerminatedExecutionCount() > 0 {
			continue
		}

		terminalOutcome := false
		for _, e := range inv.Executions {
			if e.Outcome != nil && (*e.Outcome == domain.OutcomeSucceeded || *e.Outcome == domain.OutcomeAborted) {
				terminalOutcome = true
				break
			}
		}
		if terminalOutcome {
			toTerminate = append(toTerminate, inv)
			continue
		}

		retriesExhausted := len(inv.Executions) >= fn.MaxRetries+1
		if inv.Cancelled() || inv.TimedOut(t, fn.TimeoutSeconds) || retriesExhausted {
			toTerminate = append(toTerminate, inv)
			continue
		}

		if capacity[key] >= 1 {
			toCreateExecution = append(toCreateExecution, inv)
			capacity[key]--
		}
	}

	return toCreateExecution, toTerminate
}

// RunningInvocationLookup reports whether any RUNNING invocation currently
// names the given project.
type RunningInvocationLookup func(project string) bool

// DeletableProjects implements §4.3.4: a project is deletable once its
// deletion has been requested and no RUNNING invocation still names it.
func DeletableProjects(projects []domain.Project, hasRunningInvocation RunningInvocationLookup) []domain.Project {
	var out []domain.Project
	for _, p := range projects {
		if p.DeletionRequestTime != nil && !hasRunningInvocation(p.Name) {
			out = append(out, p)
		}
	}
	return out
}
