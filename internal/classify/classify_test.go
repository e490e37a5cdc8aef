package classify

import (
	"testing"
	"time"

	"github.com/fnplane/controlplane/internal/domain"
)

func TestTerminationSignalsCancelledAndTimedOut(t *testing.T) {
	now := time.Now().UTC()

	inputs := []RunningExecutionInput{
		{
			Execution:              domain.Execution{ID: "leave-healthy"},
			InvocationCreationTime: now,
			TimeoutSeconds:         300,
		},
		{
			Execution:              domain.Execution{ID: "signal-cancelled"},
			InvocationCreationTime: now,
			InvocationCancelled:    true,
			TimeoutSeconds:         300,
		},
		{
			Execution:              domain.Execution{ID: "signal-timed-out"},
			InvocationCreationTime: now.Add(-10 * time.Minute),
			TimeoutSeconds:         60,
		},
		{
			Execution: domain.Execution{
				ID:                    "leave-already-signalled",
				TerminationSignalTime: &now,
			},
			InvocationCreationTime: now.Add(-10 * time.Minute),
			TimeoutSeconds:         60,
		},
	}

	got := TerminationSignals(inputs, now)
	if len(got) != 2 {
		t.Fatalf("expected 2 executions to signal, got %d", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids["signal-cancelled"] || !ids["signal-timed-out"] {
		t.Fatalf("unexpected selection: %+v", got)
	}
}

func TestPropagateCancellationFromDeletedProject(t *testing.T) {
	now := time.Now().UTC()

	invocations := []domain.Invocation{
		{Project: "doomed", Version: "v1", Function: "fn", ID: "a", CreationTime: now},
	}

	selected := PropagateCancellation(invocations,
		func(project string) bool { return project == "doomed" },
		func(project, version, function, id string) bool { return false },
	)
	if len(selected) != 1 || selected[0].ID != "a" {
		t.Fatalf("expected invocation a to be selected, got %+v", selected)
	}
}

func TestPropagateCancellationThroughChain(t *testing.T) {
	now := time.Now().UTC()

	// grandparent cancelled already (persisted); parent and child are not,
	// but both should cancel in one pass because sorted ascending by
	// creation_time puts parent before child.
	parent := domain.Invocation{
		Project: "p", Version: "v1", Function: "fn", ID: "parent",
		CreationTime: now,
		Parent:       &domain.ParentRef{FunctionName: "fn", InvocationID: "grandparent"},
	}
	child := domain.Invocation{
		Project: "p", Version: "v1", Function: "fn", ID: "child",
		CreationTime: now.Add(time.Second),
		Parent:       &domain.ParentRef{FunctionName: "fn", InvocationID: "parent"},
	}

	selected := PropagateCancellation([]domain.Invocation{child, parent},
		func(project string) bool { return false },
		func(project, version, function, id string) bool {
			return id == "grandparent"
		},
	)
	if len(selected) != 2 {
		t.Fatalf("expected both parent and child selected, got %+v", selected)
	}
}

func TestPropagateCancellationLeavesUnrelated(t *testing.T) {
	now := time.Now().UTC()
	invocations := []domain.Invocation{
		{Project: "p", Version: "v1", Function: "fn", ID: "a", CreationTime: now},
	}
	selected := PropagateCancellation(invocations,
		func(project string) bool { return false },
		func(project, version, function, id string) bool { return false },
	)
	if len(selected) != 0 {
		t.Fatalf("expected nothing selected, got %+v", selected)
	}
}

func TestScheduleAndTerminateCreatesWithinCapacity(t *testing.T) {
	now := time.Now().UTC()
	functions := []FunctionCapacity{
		{Project: "p", Version: "v1", Name: "fn", MaxConcurrency: 1, MaxRetries: 0, TimeoutSeconds: 300},
	}
	invocations := []domain.Invocation{
		{Project: "p", Version: "v1", Function: "fn", ID: "a", CreationTime: now},
	}

	toCreate, toTerminate := ScheduleAndTerminate(invocations, functions, now)
	if len(toCreate) != 1 || toCreate[0].ID != "a" {
		t.Fatalf("expected a to get a new execution, got create=%+v terminate=%+v", toCreate, toTerminate)
	}
	if len(toTerminate) != 0 {
		t.Fatalf("expected nothing terminated, got %+v", toTerminate)
	}
}

func TestScheduleAndTerminateRespectsCapacity(t *testing.T) {
	now := time.Now().UTC()
	functions := []FunctionCapacity{
		{Project: "p", Version: "v1", Name: "fn", MaxConcurrency: 1, MaxRetries: 0, TimeoutSeconds: 300},
	}
	invocations := []domain.Invocation{
		{
			Project: "p", Version: "v1", Function: "fn", ID: "occupying", CreationTime: now,
			Executions: []domain.Execution{{WorkerStatus: domain.WorkerStatusRunning}},
		},
		{Project: "p", Version: "v1", Function: "fn", ID: "waiting", CreationTime: now.Add(time.Second)},
	}

	toCreate, toTerminate := ScheduleAndTerminate(invocations, functions, now)
	if len(toCreate) != 0 {
		t.Fatalf("expected no capacity left for waiting, got %+v", toCreate)
	}
	if len(toTerminate) != 0 {
		t.Fatalf("expected nothing terminated, got %+v", toTerminate)
	}
}

func TestScheduleAndTerminateOnTerminalOutcome(t *testing.T) {
	now := time.Now().UTC()
	functions := []FunctionCapacity{
		{Project: "p", Version: "v1", Name: "fn", MaxConcurrency: 4, MaxRetries: 2, TimeoutSeconds: 300},
	}
	succeeded := domain.OutcomeSucceeded
	invocations := []domain.Invocation{
		{
			Project: "p", Version: "v1", Function: "fn", ID: "a", CreationTime: now,
			Executions: []domain.Execution{{WorkerStatus: domain.WorkerStatusTerminated, Outcome: &succeeded}},
		},
	}

	toCreate, toTerminate := ScheduleAndTerminate(invocations, functions, now)
	if len(toCreate) != 0 {
		t.Fatalf("expected no new execution, got %+v", toCreate)
	}
	if len(toTerminate) != 1 || toTerminate[0].ID != "a" {
		t.Fatalf("expected a terminated, got %+v", toTerminate)
	}
}

func TestScheduleAndTerminateOnRetriesExhausted(t *testing.T) {
	now := time.Now().UTC()
	functions := []FunctionCapacity{
		{Project: "p", Version: "v1", Name: "fn", MaxConcurrency: 4, MaxRetries: 1, TimeoutSeconds: 300},
	}
	failed := domain.OutcomeFailed
	invocations := []domain.Invocation{
		{
			Project: "p", Version: "v1", Function: "fn", ID: "a", CreationTime: now,
			Executions: []domain.Execution{
				{WorkerStatus: domain.WorkerStatusTerminated, Outcome: &failed},
				{WorkerStatus: domain.WorkerStatusTerminated, Outcome: &failed},
			},
		},
	}

	_, toTerminate := ScheduleAndTerminate(invocations, functions, now)
	if len(toTerminate) != 1 || toTerminate[0].ID != "a" {
		t.Fatalf("expected a terminated on exhausted retries, got %+v", toTerminate)
	}
}

func TestScheduleAndTerminateRetriesAfterFailedAttempt(t *testing.T) {
	now := time.Now().UTC()
	functions := []FunctionCapacity{
		{Project: "p", Version: "v1", Name: "fn", MaxConcurrency: 4, MaxRetries: 2, TimeoutSeconds: 300},
	}
	failed := domain.OutcomeFailed
	invocations := []domain.Invocation{
		{
			Project: "p", Version: "v1", Function: "fn", ID: "a", CreationTime: now,
			Executions: []domain.Execution{
				{WorkerStatus: domain.WorkerStatusTerminated, Outcome: &failed},
			},
		},
	}

	toCreate, toTerminate := ScheduleAndTerminate(invocations, functions, now)
	if len(toTerminate) != 0 {
		t.Fatalf("expected no termination, got %+v", toTerminate)
	}
	if len(toCreate) != 1 {
		t.Fatalf("expected a retry execution, got %+v", toCreate)
	}
}

func TestScheduleAndTerminateLeavesUnknownFunction(t *testing.T) {
	now := time.Now().UTC()
	invocations := []domain.Invocation{
		{Project: "p", Version: "v1", Function: "gone", ID: "a", CreationTime: now},
	}

	toCreate, toTerminate := ScheduleAndTerminate(invocations, nil, now)
	if len(toCreate) != 0 || len(toTerminate) != 0 {
		t.Fatalf("expected invocation left alone, got create=%+v terminate=%+v", toCreate, toTerminate)
	}
}

func TestDeletableProjects(t *testing.T) {
	requested := time.Now().UTC()
	projects := []domain.Project{
		{Name: "empty", DeletionRequestTime: &requested},
		{Name: "busy", DeletionRequestTime: &requested},
		{Name: "untouched"},
	}

	deletable := DeletableProjects(projects, func(project string) bool {
		return project == "busy"
	})
	if len(deletable) != 1 || deletable[0].Name != "empty" {
		t.Fatalf("unexpected deletable set: %+v", deletable)
	}
}
