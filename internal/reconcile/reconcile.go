// Package reconcile implements the lifecycle reconciler: a periodic,
// single-threaded control loop that drives functions, invocations,
// executions, and projects through their state machines against the Store
// and the Provisioner. Its single public operation is run_once, invoked by
// an external scheduler once per tick.
package reconcile

import (
	"context"
	"sync"
	"time"

	core "github.com/fnplane/controlplane/internal/app/core/service"
	"github.com/fnplane/controlplane/internal/app/metrics"
	"github.com/fnplane/controlplane/internal/app/system"
	"github.com/fnplane/controlplane/internal/classify"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/ids"
	"github.com/fnplane/controlplane/internal/provisioner"
	"github.com/fnplane/controlplane/internal/store"
	"github.com/fnplane/controlplane/pkg/logger"
)

// Reconciler drives one run_once pass per tick. It holds no state between
// ticks beyond what is persisted in the Store: a fresh Reconciler pointed
// at the same Store and Provisioner behaves identically.
type Reconciler struct {
	store       store.Store
	provisioner provisioner.Provisioner
	log         *logger.Logger
	interval    time.Duration
	retry       core.RetryPolicy

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Reconciler)(nil)

// provisionerRetryPolicy governs the in-tick retries applied to two
// provisioner calls: PrepareFunction and CheckWorkerStatus.
// SendTerminationSignal is called once and relies on the next tick for
// retry; ProvisionWorker is called once, and a failure leaves the execution
// in PROVISIONING for the stuck-in-provisioning sweep.
var provisionerRetryPolicy = core.RetryPolicy{
	Attempts:       3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Multiplier:     2,
}

// New returns a Reconciler. interval is the spacing between ticks; the
// spec's default scheduler fires once per second.
func New(s store.Store, p provisioner.Provisioner, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	return &Reconciler{store: s, provisioner: p, interval: interval, log: log, retry: provisionerRetryPolicy}
}

func (r *Reconciler) Name() string { return "lifecycle-reconciler" }

func (r *Reconciler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   r.Name(),
		Domain: "controlplane",
		Layer:  core.LayerEngine,
	}.WithCapabilities("run_once", "classify", "provision")
}

// Start launches the ticker loop in a background goroutine. A panic or
// error within one tick never aborts the loop; it is logged and the next
// tick proceeds, per §4.4's failure semantics.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.safeTick(runCtx)
			}
		}
	}()

	r.log.Info("lifecycle reconciler started")
	return nil
}

// Stop cancels the ticker loop and waits for the in-flight tick to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// safeTick wraps RunOnce so a tick's outer loop catches anything that
// escapes, sleeping is handled by the ticker rather than an explicit
// sleep(1s): the outer loop's "sleep and continue" contract is satisfied
// by the ticker firing on its own schedule regardless of this tick's
// outcome.
func (r *Reconciler) safeTick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", rec).Error("reconciler tick panicked")
		}
	}()
	start := time.Now()
	err := r.RunOnce(ctx, start.UTC())
	metrics.RecordReconcilerTick(time.Since(start), err)
	if err != nil {
		r.log.WithError(err).Warn("reconciler tick failed")
	}
}

// RunOnce runs the eight ordered phases of §4.4 once, as of time t. It
// always returns nil: a failed entity is logged and skipped, and a phase
// whose initial scan fails logs the failure and ends early while the
// remaining phases still run.
func (r *Reconciler) RunOnce(ctx context.Context, t time.Time) error {
	r.runPhase(ctx, "functions_pass", func() { r.functionsPass(ctx, t) })
	r.runPhase(ctx, "propagate_cancellation", func() { r.propagateCancellation(ctx, t) })
	r.runPhase(ctx, "schedule_and_terminate", func() { r.scheduleAndTerminate(ctx, t) })
	r.runPhase(ctx, "provision_pending_executions", func() { r.provisionPendingExecutions(ctx, t) })
	r.runPhase(ctx, "poll_running_workers", func() { r.pollRunningWorkers(ctx, t) })
	r.runPhase(ctx, "send_termination_signals", func() { r.sendTerminationSignals(ctx, t) })
	r.runPhase(ctx, "sweep_stuck_provisioning", func() { r.sweepStuckProvisioning(ctx, t) })
	r.runPhase(ctx, "collect_projects", func() { r.collectProjects(ctx, t) })
	return nil
}

// runPhase wraps one reconciler phase with per-phase Prometheus observation
// hooks, giving phase duration and in-flight count independent of the
// per-tick and per-call metrics each phase records on its own. Phases never
// surface an error (failures are logged and skipped entity by entity), so
// the observation always completes with a nil error.
func (r *Reconciler) runPhase(ctx context.Context, phase string, fn func()) {
	complete := core.StartObservation(ctx, metrics.ReconcilePhaseHooks(phase), map[string]string{"phase": phase})
	fn()
	complete(nil)
}

// 1. Functions pass: PENDING -> READY.
func (r *Reconciler) functionsPass(ctx context.Context, t time.Time) {
	functions, err := r.store.Functions().ListAll(ctx, []domain.FunctionStatus{domain.FunctionStatusPending})
	if err != nil {
		r.log.WithError(err).Warn("list pending functions failed")
		return
	}

	for _, fn := range functions {
		var prepared *domain.PreparedFunctionDetails
		err := core.Retry(ctx, r.retry, func() error {
			var callErr error
			prepared, callErr = r.provisioner.PrepareFunction(ctx, fn.Project, fn.Version, fn.Name, fn.DockerImage, fn.ResourceSpec)
			return callErr
		})
		metrics.RecordProvisionerCall("prepare_function", err)
		if err != nil {
			r.log.WithError(err).
				WithField("function", fn.Project+"/"+fn.Version+"/"+fn.Name).
				Warn("prepare_function failed")
			continue
		}

		ready := domain.FunctionStatusReady
		err = r.store.Functions().Update(ctx, fn.Project, fn.Version, fn.Name, domain.FunctionUpdate{
			NewStatus:          &ready,
			NewPreparedDetails: prepared,
		})
		if err != nil {
			r.log.WithError(err).
				WithField("function", fn.Project+"/"+fn.Version+"/"+fn.Name).
				Warn("persisting READY function failed")
		}
	}
}

// 2. Invocation cancellation propagation.
func (r *Reconciler) propagateCancellation(ctx context.Context, t time.Time) {
	running, err := r.store.Invocations().ListAll(ctx, []domain.InvocationStatus{domain.InvocationStatusRunning})
	if err != nil {
		r.log.WithError(err).Warn("list running invocations for cancellation propagation failed")
		return
	}

	projects, err := r.store.Projects().List(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list projects for cancellation propagation failed")
		return
	}
	deletionRequested := make(map[string]bool, len(projects))
	for _, p := range projects {
		deletionRequested[p.Name] = p.MarkedForDeletion()
	}

	persisted := make(map[string]*time.Time, len(running))
	for _, inv := range running {
		persisted[invocationCacheKey(inv.Project, inv.Version, inv.Function, inv.ID)] = inv.CancellationRequestTime
	}
	for _, inv := range running {
		if inv.Parent == nil {
			continue
		}
		key := invocationCacheKey(inv.Project, inv.Version, inv.Parent.FunctionName, inv.Parent.InvocationID)
		if _, ok := persisted[key]; ok {
			continue
		}
		parent, err := r.store.Invocations().Get(ctx, inv.Project, inv.Version, inv.Parent.FunctionName, inv.Parent.InvocationID)
		if err != nil {
			r.log.WithError(err).WithField("invocation", inv.ID).Warn("look up parent invocation failed")
			continue
		}
		persisted[key] = parent.CancellationRequestTime
	}

	selected := classify.PropagateCancellation(running,
		func(project string) bool { return deletionRequested[project] },
		func(project, version, function, id string) bool {
			ct, ok := persisted[invocationCacheKey(project, version, function, id)]
			return ok && ct != nil
		},
	)

	for _, inv := range selected {
		err := r.store.Invocations().Update(ctx, inv.Project, inv.Version, inv.Function, inv.ID, store.InvocationUpdate{
			UpdateTime:               t,
			SetCancellationRequested: true,
		})
		if err != nil {
			r.log.WithError(err).
				WithField("invocation", inv.ID).
				Warn("persisting cancellation_request_time failed")
		}
	}
}

func invocationCacheKey(project, version, function, id string) string {
	return project + "/" + version + "/" + function + "/" + id
}

// 3. Invocation scheduling/termination.
func (r *Reconciler) scheduleAndTerminate(ctx context.Context, t time.Time) {
	running, err := r.store.Invocations().ListAll(ctx, []domain.InvocationStatus{domain.InvocationStatusRunning})
	if err != nil {
		r.log.WithError(err).Warn("list running invocations for scheduling failed")
		return
	}

	readyFunctions, err := r.store.Functions().ListAll(ctx, []domain.FunctionStatus{domain.FunctionStatusReady})
	if err != nil {
		r.log.WithError(err).Warn("list ready functions for scheduling failed")
		return
	}

	capacities := make([]classify.FunctionCapacity, 0, len(readyFunctions))
	for _, fn := range readyFunctions {
		capacities = append(capacities, classify.FunctionCapacity{
			Project:        fn.Project,
			Version:        fn.Version,
			Name:           fn.Name,
			MaxConcurrency: fn.ResourceSpec.MaxConcurrency,
			MaxRetries:     fn.ExecutionSpec.MaxRetries,
			TimeoutSeconds: fn.ExecutionSpec.TimeoutSeconds,
		})
	}

	toCreate, toTerminate := classify.ScheduleAndTerminate(running, capacities, t)

	for _, inv := range toCreate {
		id, err := ids.New(ids.PrefixExecution)
		if err != nil {
			r.log.WithError(err).Warn("mint execution id failed")
			continue
		}
		err = r.store.Executions().Create(ctx, store.ExecutionCreate{
			Project: inv.Project, Version: inv.Version, Function: inv.Function,
			Invocation: inv.ID, ID: id, Time: t,
		})
		if err != nil {
			r.log.WithError(err).WithField("invocation", inv.ID).Warn("create execution failed")
			continue
		}
		err = r.store.Invocations().Update(ctx, inv.Project, inv.Version, inv.Function, inv.ID, store.InvocationUpdate{
			UpdateTime: t,
		})
		if err != nil {
			r.log.WithError(err).WithField("invocation", inv.ID).Warn("bump invocation last_update_time failed")
		}
	}

	for _, inv := range toTerminate {
		terminated := domain.InvocationStatusTerminated
		err := r.store.Invocations().Update(ctx, inv.Project, inv.Version, inv.Function, inv.ID, store.InvocationUpdate{
			UpdateTime: t,
			NewStatus:  &terminated,
		})
		if err != nil {
			r.log.WithError(err).WithField("invocation", inv.ID).Warn("terminate invocation failed")
		}
	}
}

// 4. Executions: PENDING -> PROVISIONING -> RUNNING.
func (r *Reconciler) provisionPendingExecutions(ctx context.Context, t time.Time) {
	pending, err := r.store.Executions().ListAll(ctx, []domain.WorkerStatus{domain.WorkerStatusPending})
	if err != nil {
		r.log.WithError(err).Warn("list pending executions failed")
		return
	}

	for _, exe := range pending {
		provisioning := domain.WorkerStatusProvisioning
		err := r.store.Executions().Update(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID, domain.ExecutionUpdate{
			NewWorkerStatus: &provisioning,
		})
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("persist PROVISIONING failed")
			continue
		}

		function, err := r.store.Functions().Get(ctx, exe.Project, exe.Version, exe.Function)
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("look up owning function failed")
			continue
		}

		details, err := r.provisioner.ProvisionWorker(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID,
			function.ResourceSpec, function.PreparedDetails)
		metrics.RecordProvisionerCall("provision_worker", err)
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("provision_worker failed; left in PROVISIONING")
			continue
		}

		running := domain.WorkerStatusRunning
		err = r.store.Executions().Update(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID, domain.ExecutionUpdate{
			NewWorkerStatus:  &running,
			NewWorkerDetails: details,
		})
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("persist RUNNING failed")
		}
	}
}

// 5. Executions: running worker liveness.
func (r *Reconciler) pollRunningWorkers(ctx context.Context, t time.Time) {
	running, err := r.store.Executions().ListAll(ctx, []domain.WorkerStatus{domain.WorkerStatusRunning})
	if err != nil {
		r.log.WithError(err).Warn("list running executions failed")
		return
	}

	for _, exe := range running {
		var state provisioner.WorkerState
		err := core.Retry(ctx, r.retry, func() error {
			var callErr error
			state, callErr = r.provisioner.CheckWorkerStatus(ctx, exe.WorkerDetails)
			return callErr
		})
		metrics.RecordProvisionerCall("check_worker_status", err)
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("check_worker_status failed")
			continue
		}
		if state != provisioner.WorkerStateTerminated {
			continue
		}

		terminated := domain.WorkerStatusTerminated
		err = r.store.Executions().Update(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID, domain.ExecutionUpdate{
			NewWorkerStatus: &terminated,
		})
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("persist TERMINATED worker status failed")
			continue
		}
		if exe.Outcome != nil {
			metrics.RecordExecutionOutcome(string(*exe.Outcome))
		}
	}
}

// 6. Executions: termination signals.
func (r *Reconciler) sendTerminationSignals(ctx context.Context, t time.Time) {
	running, err := r.store.Executions().ListAll(ctx, []domain.WorkerStatus{domain.WorkerStatusRunning})
	if err != nil {
		r.log.WithError(err).Warn("list running executions for termination signalling failed")
		return
	}

	invocationCache := make(map[string]domain.Invocation)
	functionCache := make(map[string]domain.Function)

	inputs := make([]classify.RunningExecutionInput, 0, len(running))
	for _, exe := range running {
		invKey := invocationCacheKey(exe.Project, exe.Version, exe.Function, exe.Invocation)
		inv, ok := invocationCache[invKey]
		if !ok {
			inv, err = r.store.Invocations().Get(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation)
			if err != nil {
				r.log.WithError(err).WithField("execution", exe.ID).Warn("look up owning invocation failed")
				continue
			}
			invocationCache[invKey] = inv
		}

		fnKey := exe.Project + "/" + exe.Version + "/" + exe.Function
		fn, ok := functionCache[fnKey]
		if !ok {
			fn, err = r.store.Functions().Get(ctx, exe.Project, exe.Version, exe.Function)
			if err != nil {
				r.log.WithError(err).WithField("execution", exe.ID).Warn("look up owning function failed")
				continue
			}
			functionCache[fnKey] = fn
		}

		inputs = append(inputs, classify.RunningExecutionInput{
			Execution:              exe,
			InvocationCreationTime: inv.CreationTime,
			InvocationCancelled:    inv.Cancelled(),
			TimeoutSeconds:         fn.ExecutionSpec.TimeoutSeconds,
		})
	}

	for _, exe := range classify.TerminationSignals(inputs, t) {
		err := r.provisioner.SendTerminationSignal(ctx, exe.WorkerDetails)
		metrics.RecordProvisionerCall("send_termination_signal", err)
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("send_termination_signal failed")
			continue
		}

		signalled := t
		err = r.store.Executions().Update(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID, domain.ExecutionUpdate{
			NewTerminationSignalTime: &signalled,
		})
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("persist termination_signal_time failed")
		}
	}
}

// 7. Stuck-in-provisioning sweep.
func (r *Reconciler) sweepStuckProvisioning(ctx context.Context, t time.Time) {
	stuck, err := r.store.Executions().ListAll(ctx, []domain.WorkerStatus{domain.WorkerStatusProvisioning})
	if err != nil {
		r.log.WithError(err).Warn("list stuck provisioning executions failed")
		return
	}

	for _, exe := range stuck {
		terminated := domain.WorkerStatusTerminated
		err := r.store.Executions().Update(ctx, exe.Project, exe.Version, exe.Function, exe.Invocation, exe.ID, domain.ExecutionUpdate{
			NewWorkerStatus: &terminated,
		})
		if err != nil {
			r.log.WithError(err).WithField("execution", exe.ID).Warn("sweep stuck-in-provisioning execution failed")
		}
	}
}

// 8. Project garbage collection.
func (r *Reconciler) collectProjects(ctx context.Context, t time.Time) {
	projects, err := r.store.Projects().List(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list projects for gc failed")
		return
	}

	running, err := r.store.Invocations().ListAll(ctx, []domain.InvocationStatus{domain.InvocationStatusRunning})
	if err != nil {
		r.log.WithError(err).Warn("list running invocations for gc failed")
		return
	}
	runningProjects := make(map[string]bool, len(running))
	for _, inv := range running {
		runningProjects[inv.Project] = true
	}

	deletable := classify.DeletableProjects(projects, func(project string) bool {
		return runningProjects[project]
	})

	for _, p := range deletable {
		if err := r.store.Projects().DeleteWithCascade(ctx, p.Name); err != nil {
			r.log.WithError(err).WithField("project", p.Name).Warn("delete_with_cascade failed")
		}
	}
}
