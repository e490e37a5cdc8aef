// Package provisioner defines the abstract driver the reconciler uses to
// turn functions into prepared infrastructure and invocations into running
// workers. Two implementations exist: dev (in-memory, for tests and local
// development) and external (an HTTPS client against a real orchestrator).
package provisioner

import (
	"context"

	"github.com/fnplane/controlplane/internal/domain"
)

// WorkerState is what check_worker_status reports back. There is
// deliberately no RUNNING/TERMINATED ambiguity: a worker the provisioner
// cannot account for (garbage-collected upstream) reports TERMINATED.
type WorkerState string

const (
	WorkerStateRunning    WorkerState = "RUNNING"
	WorkerStateTerminated WorkerState = "TERMINATED"
)

// Provisioner is the reconciler's sole channel to external infrastructure.
// Every method may return a transient error the reconciler retries on the
// next tick, except ProvisionWorker: the reconciler calls it once per
// execution, and a failure there leaves the execution in PROVISIONING,
// recovered by the stuck-in-provisioning sweep rather than retried
// directly, since the caller cannot tell whether the worker was actually
// started.
type Provisioner interface {
	// PrepareFunction creates any cloud-side definition a function's
	// workers need before they can run. Idempotent from the caller's
	// point of view: calling it again for an already-prepared function
	// must be harmless.
	PrepareFunction(ctx context.Context, project, version, function, dockerImage string, spec domain.ResourceSpec) (*domain.PreparedFunctionDetails, error)

	// ProvisionWorker starts a worker for one execution attempt.
	ProvisionWorker(ctx context.Context, project, version, function, invocationID, executionID string, spec domain.ResourceSpec, prepared *domain.PreparedFunctionDetails) (*domain.WorkerDetails, error)

	// SendTerminationSignal asks a worker to stop. Best-effort, safe to
	// call repeatedly against the same worker.
	SendTerminationSignal(ctx context.Context, details *domain.WorkerDetails) error

	// CheckWorkerStatus polls a worker's liveness.
	CheckWorkerStatus(ctx context.Context, details *domain.WorkerDetails) (WorkerState, error)

	// GetWorkerLogs fetches a page of log lines, returning an opaque
	// continuation offset when more are available.
	GetWorkerLogs(ctx context.Context, details *domain.WorkerDetails, maxLines int, offset string) (lines []string, nextOffset string, err error)
}
