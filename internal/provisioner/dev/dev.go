// Package dev implements an in-memory Provisioner for local development and
// tests. It creates no real resources: prepare_function always succeeds,
// provision_worker fabricates an identifier, and workers stay RUNNING for a
// configurable number of check_worker_status cycles before reporting
// TERMINATED.
package dev

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/provisioner"
)

const totalLogLines = 100

// Provisioner is a mocked-up provisioner used for local development and
// integration tests against the in-memory or Postgres stores. It never
// talks to real infrastructure.
type Provisioner struct {
	mu sync.Mutex

	// lagCycles is how many check_worker_status calls a worker survives
	// after being provisioned, mirroring the grace period a real worker
	// gets to flush logs and exit after its invocation finishes.
	lagCycles int

	// failureRate, in [0, 1], is the fraction of provision_worker calls
	// that fail with a transient error, for exercising the stuck-in-
	// provisioning sweep without a flaky real backend.
	failureRate float64
	rng         *rand.Rand

	remainingCycles map[string]int
}

// New returns a dev Provisioner. lagCycles must be >= 0; failureRate must
// be in [0, 1]; a rate of 1 fails every provision_worker call.
func New(lagCycles int, failureRate float64) *Provisioner {
	if lagCycles < 0 {
		lagCycles = 0
	}
	return &Provisioner{
		lagCycles:       lagCycles,
		failureRate:     failureRate,
		rng:             rand.New(rand.NewSource(1)),
		remainingCycles: make(map[string]int),
	}
}

var _ provisioner.Provisioner = (*Provisioner)(nil)

// PrepareFunction always succeeds; there is no cloud-side state to create.
func (p *Provisioner) PrepareFunction(ctx context.Context, project, version, function, dockerImage string, spec domain.ResourceSpec) (*domain.PreparedFunctionDetails, error) {
	return &domain.PreparedFunctionDetails{Type: "dev", Identifier: "mocked"}, nil
}

// ProvisionWorker fabricates a worker identifier from the execution's
// coordinates and starts its lag-cycle countdown.
func (p *Provisioner) ProvisionWorker(ctx context.Context, project, version, function, invocationID, executionID string, spec domain.ResourceSpec, prepared *domain.PreparedFunctionDetails) (*domain.WorkerDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failureRate > 0 && p.rng.Float64() < p.failureRate {
		return nil, fmt.Errorf("dev provisioner: simulated transient failure provisioning worker")
	}

	identifier := workerIdentifier(project, version, function, invocationID, executionID)
	p.remainingCycles[identifier] = p.lagCycles

	return &domain.WorkerDetails{
		Type:           "dev",
		Identifier:     identifier,
		LogsIdentifier: "mocked",
	}, nil
}

// SendTerminationSignal is a no-op. Keeping the worker RUNNING until its
// lag cycles expire gives the nicest local developer experience: a worker
// client can keep submitting results until it chooses to finish.
func (p *Provisioner) SendTerminationSignal(ctx context.Context, details *domain.WorkerDetails) error {
	return nil
}

// CheckWorkerStatus counts down the worker's remaining lag cycles each time
// it is called, reporting TERMINATED once they run out or the worker is
// unknown (already garbage-collected).
func (p *Provisioner) CheckWorkerStatus(ctx context.Context, details *domain.WorkerDetails) (provisioner.WorkerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining, ok := p.remainingCycles[details.Identifier]
	if !ok {
		return provisioner.WorkerStateTerminated, nil
	}

	remaining--
	if remaining < 0 {
		delete(p.remainingCycles, details.Identifier)
		return provisioner.WorkerStateTerminated, nil
	}
	p.remainingCycles[details.Identifier] = remaining
	return provisioner.WorkerStateRunning, nil
}

// GetWorkerLogs fabricates a fixed-size page of log lines so clients
// exercising pagination have something to page through.
func (p *Provisioner) GetWorkerLogs(ctx context.Context, details *domain.WorkerDetails, maxLines int, offset string) ([]string, string, error) {
	left := 0
	if offset != "" {
		if _, err := fmt.Sscanf(offset, "%d", &left); err != nil {
			return nil, "", fmt.Errorf("dev provisioner: invalid log offset %q", offset)
		}
	}

	right := totalLogLines
	if maxLines > 0 && left+maxLines < right {
		right = left + maxLines
	}
	if left >= right {
		return nil, "", nil
	}

	lines := make([]string, 0, right-left)
	for i := left; i < right; i++ {
		lines = append(lines, fmt.Sprintf("line-%d", i))
	}

	var next string
	if right < totalLogLines {
		next = fmt.Sprintf("%d", right)
	}
	return lines, next, nil
}

func workerIdentifier(project, version, function, invocationID, executionID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", project, version, function, invocationID, executionID)
}
