// Package memory provides a non-durable, in-process Store implementation,
// grounded on the teacher's mutex-guarded-map pattern (internal/app/jam.InMemoryStore).
// It backs unit tests and local/dev runs where a live Postgres is overkill.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	core "github.com/fnplane/controlplane/internal/app/core/service"
	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/store"
)

// Store is an in-memory implementation of store.Store. All state lives in
// plain maps guarded by a single mutex; there is no real transaction
// isolation, so "atomic" operations here are simply held under the lock for
// their whole duration.
type Store struct {
	mu sync.Mutex

	projects    map[string]domain.Project
	versions    map[string]domain.Version
	functions   map[string]domain.Function
	invocations map[string]domain.Invocation
	executions  map[string]domain.Execution
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		projects:    make(map[string]domain.Project),
		versions:    make(map[string]domain.Version),
		functions:   make(map[string]domain.Function),
		invocations: make(map[string]domain.Invocation),
		executions:  make(map[string]domain.Execution),
	}
}

func versionKey(project, id string) string { return project + "/" + id }
func functionKey(project, version, name string) string {
	return project + "/" + version + "/" + name
}
func invocationKey(project, version, function, id string) string {
	return project + "/" + version + "/" + function + "/" + id
}
func executionKey(project, version, function, invocation, id string) string {
	return project + "/" + version + "/" + function + "/" + invocation + "/" + id
}

func (s *Store) Projects() store.ProjectStore       { return (*projectStore)(s) }
func (s *Store) Versions() store.VersionStore       { return (*versionStore)(s) }
func (s *Store) Functions() store.FunctionStore     { return (*functionStore)(s) }
func (s *Store) Invocations() store.InvocationStore { return (*invocationStore)(s) }
func (s *Store) Executions() store.ExecutionStore   { return (*executionStore)(s) }

// --- Projects ---

type projectStore Store

func (p *projectStore) s() *Store { return (*Store)(p) }

func (p *projectStore) Create(_ context.Context, name string, t time.Time) error {
	s := p.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[name]; ok {
		return apperrors.ProjectAlreadyExists(name)
	}
	s.projects[name] = domain.Project{Name: name, CreationTime: t}
	return nil
}

func (p *projectStore) Get(_ context.Context, name string) (domain.Project, error) {
	s := p.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.projects[name]
	if !ok {
		return domain.Project{}, apperrors.ProjectDoesNotExist(name)
	}
	return proj, nil
}

func (p *projectStore) List(_ context.Context) ([]domain.Project, error) {
	s := p.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, proj := range s.projects {
		out = append(out, proj)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTime.After(out[j].CreationTime)
	})
	return out, nil
}

func (p *projectStore) RequestDeletion(_ context.Context, name string, t time.Time) error {
	s := p.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	proj, ok := s.projects[name]
	if !ok {
		return apperrors.ProjectDoesNotExist(name)
	}
	if proj.DeletionRequestTime == nil {
		tc := t
		proj.DeletionRequestTime = &tc
		s.projects[name] = proj
	}
	return nil
}

func (p *projectStore) DeleteWithCascade(_ context.Context, name string) error {
	s := p.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[name]; !ok {
		return apperrors.ProjectDoesNotExist(name)
	}
	prefix := name + "/"
	for k := range s.versions {
		if k == name || strings.HasPrefix(k, prefix) {
			delete(s.versions, k)
		}
	}
	for k, v := range s.functions {
		if v.Project == name {
			delete(s.functions, k)
		}
	}
	for k, v := range s.invocations {
		if v.Project == name {
			delete(s.invocations, k)
		}
	}
	for k, v := range s.executions {
		if v.Project == name {
			delete(s.executions, k)
		}
	}
	delete(s.projects, name)
	return nil
}

// --- Versions ---

type versionStore Store

func (v *versionStore) s() *Store { return (*Store)(v) }

func (v *versionStore) Create(_ context.Context, project, versionID string, t time.Time) error {
	s := v.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project]; !ok {
		return apperrors.ProjectDoesNotExist(project)
	}
	key := versionKey(project, versionID)
	if _, ok := s.versions[key]; ok {
		return apperrors.VersionAlreadyExists(project, versionID)
	}
	s.versions[key] = domain.Version{Project: project, ID: versionID, CreationTime: t}
	return nil
}

func (v *versionStore) Get(_ context.Context, project, versionID string) (domain.Version, error) {
	s := v.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project]; !ok {
		return domain.Version{}, apperrors.ProjectDoesNotExist(project)
	}
	ver, ok := s.versions[versionKey(project, versionID)]
	if !ok {
		return domain.Version{}, apperrors.VersionDoesNotExist(project, versionID)
	}
	ver.Functions = functionsForVersionLocked(s, project, versionID)
	return ver, nil
}

func (v *versionStore) GetIDOfLatest(_ context.Context, project string) (string, error) {
	s := v.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project]; !ok {
		return "", apperrors.ProjectDoesNotExist(project)
	}
	var best *domain.Version
	for k, ver := range s.versions {
		if !strings.HasPrefix(k, project+"/") {
			continue
		}
		ver := ver
		if best == nil {
			best = &ver
			continue
		}
		if ver.CreationTime.After(best.CreationTime) ||
			(ver.CreationTime.Equal(best.CreationTime) && ver.ID < best.ID) {
			best = &ver
		}
	}
	if best == nil {
		return "", apperrors.VersionDoesNotExist(project, domain.Latest)
	}
	return best.ID, nil
}

func (v *versionStore) ListForProject(_ context.Context, project string) ([]domain.Version, error) {
	s := v.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project]; !ok {
		return nil, apperrors.ProjectDoesNotExist(project)
	}
	prefix := project + "/"
	out := make([]domain.Version, 0)
	for k, ver := range s.versions {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ver)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTime.After(out[j].CreationTime)
	})
	return out, nil
}

func functionsForVersionLocked(s *Store, project, version string) []domain.Function {
	prefix := project + "/" + version + "/"
	out := make([]domain.Function, 0)
	for k, fn := range s.functions {
		if strings.HasPrefix(k, prefix) {
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Functions ---

type functionStore Store

func (f *functionStore) s() *Store { return (*Store)(f) }

func (f *functionStore) Create(_ context.Context, c store.FunctionCreate) error {
	s := f.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[versionKey(c.Project, c.Version)]; !ok {
		return apperrors.VersionDoesNotExist(c.Project, c.Version)
	}
	key := functionKey(c.Project, c.Version, c.Name)
	if _, ok := s.functions[key]; ok {
		return apperrors.FunctionAlreadyExists(c.Project, c.Version, c.Name)
	}
	s.functions[key] = domain.Function{
		Project:       c.Project,
		Version:       c.Version,
		Name:          c.Name,
		DockerImage:   c.DockerImage,
		ResourceSpec:  c.ResourceSpec,
		ExecutionSpec: c.ExecutionSpec,
		Status:        domain.FunctionStatusPending,
	}
	return nil
}

func (f *functionStore) Update(_ context.Context, project, version, name string, update domain.FunctionUpdate) error {
	s := f.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := functionKey(project, version, name)
	fn, ok := s.functions[key]
	if !ok {
		return apperrors.FunctionDoesNotExist(project, version, name)
	}
	if update.NewStatus != nil {
		fn.Status = *update.NewStatus
	}
	if update.NewPreparedDetails != nil {
		fn.PreparedDetails = update.NewPreparedDetails
	}
	s.functions[key] = fn
	return nil
}

func (f *functionStore) Get(_ context.Context, project, version, name string) (domain.Function, error) {
	s := f.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn, ok := s.functions[functionKey(project, version, name)]
	if !ok {
		return domain.Function{}, apperrors.FunctionDoesNotExist(project, version, name)
	}
	return fn, nil
}

func (f *functionStore) ListForVersion(_ context.Context, project, version string) ([]domain.Function, error) {
	s := f.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	return functionsForVersionLocked(s, project, version), nil
}

func (f *functionStore) ListAll(_ context.Context, statuses []domain.FunctionStatus) ([]domain.Function, error) {
	if len(statuses) == 0 {
		return []domain.Function{}, nil
	}
	s := f.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.FunctionStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]domain.Function, 0)
	for _, fn := range s.functions {
		if want[fn.Status] {
			out = append(out, fn)
		}
	}
	return out, nil
}

// --- Invocations ---

type invocationStore Store

func (i *invocationStore) s() *Store { return (*Store)(i) }

// checkExistenceChain implements §7's cascading not-found check: project,
// then version, then function, then invocation, in that order.
func checkExistenceChain(s *Store, project, version, function, invocation string) error {
	if _, ok := s.projects[project]; !ok {
		return apperrors.ProjectDoesNotExist(project)
	}
	if version != "" {
		if _, ok := s.versions[versionKey(project, version)]; !ok {
			return apperrors.VersionDoesNotExist(project, version)
		}
	}
	if function != "" {
		if _, ok := s.functions[functionKey(project, version, function)]; !ok {
			return apperrors.FunctionDoesNotExist(project, version, function)
		}
	}
	if invocation != "" {
		if _, ok := s.invocations[invocationKey(project, version, function, invocation)]; !ok {
			return apperrors.InvocationDoesNotExist(project, version, function, invocation)
		}
	}
	return nil
}

func (i *invocationStore) Create(_ context.Context, c store.InvocationCreate) error {
	s := i.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkExistenceChain(s, c.Project, c.Version, c.Function, ""); err != nil {
		return err
	}
	key := invocationKey(c.Project, c.Version, c.Function, c.ID)
	if _, ok := s.invocations[key]; ok {
		return apperrors.InvocationAlreadyExists(c.ID)
	}
	if c.Parent != nil {
		if c.Parent.FunctionName == "" {
			return apperrors.ParentFunctionNameIsMissing()
		}
		if c.Parent.InvocationID == "" {
			return apperrors.ParentInvocationIdIsMissing()
		}
		parentKey := invocationKey(c.Project, c.Version, c.Parent.FunctionName, c.Parent.InvocationID)
		if _, ok := s.invocations[parentKey]; !ok {
			return apperrors.ParentInvocationDoesNotExist(c.Parent.FunctionName, c.Parent.InvocationID)
		}
	}
	s.invocations[key] = domain.Invocation{
		Project:        c.Project,
		Version:        c.Version,
		Function:       c.Function,
		ID:             c.ID,
		Parent:         c.Parent,
		Input:          c.Input,
		Status:         domain.InvocationStatusRunning,
		CreationTime:   c.Time,
		LastUpdateTime: c.Time,
	}
	return nil
}

func (i *invocationStore) Update(_ context.Context, project, version, function, id string, update store.InvocationUpdate) error {
	s := i.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := invocationKey(project, version, function, id)
	inv, ok := s.invocations[key]
	if !ok {
		return apperrors.InvocationDoesNotExist(project, version, function, id)
	}
	if update.SetCancellationRequested && inv.CancellationRequestTime == nil {
		t := update.UpdateTime
		inv.CancellationRequestTime = &t
	}
	if update.NewStatus != nil {
		inv.Status = *update.NewStatus
	}
	inv.LastUpdateTime = update.UpdateTime
	s.invocations[key] = inv
	return nil
}

func (i *invocationStore) Get(_ context.Context, project, version, function, id string) (domain.Invocation, error) {
	s := i.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invocations[invocationKey(project, version, function, id)]
	if !ok {
		return domain.Invocation{}, apperrors.InvocationDoesNotExist(project, version, function, id)
	}
	inv.Executions = executionsForInvocationLocked(s, project, version, function, id)
	return inv, nil
}

func (i *invocationStore) ListForFunction(_ context.Context, project, version, function string, filter store.InvocationListFilter) (store.InvocationPage, error) {
	s := i.s()
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkExistenceChain(s, project, version, function, ""); err != nil {
		return store.InvocationPage{}, err
	}

	prefix := project + "/" + version + "/" + function + "/"
	all := make([]domain.Invocation, 0)
	for k, inv := range s.invocations {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		if filter.Parent != nil {
			if inv.Parent == nil || *inv.Parent != *filter.Parent {
				continue
			}
		}
		all = append(all, inv)
	}
	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreationTime.Equal(all[b].CreationTime) {
			return all[a].CreationTime.After(all[b].CreationTime)
		}
		return all[a].ID < all[b].ID
	})

	start := 0
	if filter.Offset != "" {
		cursorTime, cursorID, err := store.DecodeOffset(filter.Offset)
		if err != nil {
			return store.InvocationPage{}, err
		}
		for idx, inv := range all {
			if inv.CreationTime.Before(cursorTime) ||
				(inv.CreationTime.Equal(cursorTime) && inv.ID > cursorID) {
				start = idx
				break
			}
			start = idx + 1
		}
	}

	max := core.ClampLimit(filter.MaxResults, 50, 50)
	end := start + max
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	page := all[start:end]

	var next *string
	if end < len(all) {
		last := page[len(page)-1]
		v := store.EncodeOffset(last.CreationTime, last.ID)
		next = &v
	}

	for idx := range page {
		page[idx].Executions = executionsForInvocationLocked(s, project, version, function, page[idx].ID)
	}

	return store.InvocationPage{Invocations: page, NextOffset: next}, nil
}

func (i *invocationStore) ListAll(_ context.Context, statuses []domain.InvocationStatus) ([]domain.Invocation, error) {
	if len(statuses) == 0 {
		return []domain.Invocation{}, nil
	}
	s := i.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.InvocationStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]domain.Invocation, 0)
	for _, inv := range s.invocations {
		if want[inv.Status] {
			inv.Executions = executionsForInvocationLocked(s, inv.Project, inv.Version, inv.Function, inv.ID)
			out = append(out, inv)
		}
	}
	return out, nil
}

// --- Executions ---

type executionStore Store

func (e *executionStore) s() *Store { return (*Store)(e) }

func executionsForInvocationLocked(s *Store, project, version, function, invocation string) []domain.Execution {
	prefix := project + "/" + version + "/" + function + "/" + invocation + "/"
	out := make([]domain.Execution, 0)
	for k, exe := range s.executions {
		if strings.HasPrefix(k, prefix) {
			out = append(out, exe)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.Before(out[j].CreationTime) })
	return out
}

func (e *executionStore) Create(_ context.Context, c store.ExecutionCreate) error {
	s := e.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkExistenceChain(s, c.Project, c.Version, c.Function, c.Invocation); err != nil {
		return err
	}
	key := executionKey(c.Project, c.Version, c.Function, c.Invocation, c.ID)
	if _, ok := s.executions[key]; ok {
		return apperrors.ExecutionAlreadyExists(c.ID)
	}
	s.executions[key] = domain.Execution{
		Project:        c.Project,
		Version:        c.Version,
		Function:       c.Function,
		Invocation:     c.Invocation,
		ID:             c.ID,
		WorkerStatus:   domain.WorkerStatusPending,
		CreationTime:   c.Time,
		LastUpdateTime: c.Time,
	}
	return nil
}

func (e *executionStore) Update(_ context.Context, project, version, function, invocation, id string, update domain.ExecutionUpdate) error {
	s := e.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := executionKey(project, version, function, invocation, id)
	exe, ok := s.executions[key]
	if !ok {
		return apperrors.ExecutionDoesNotExist(id)
	}

	if update.ShouldAlreadyHaveStarted != nil {
		started := exe.Started()
		if *update.ShouldAlreadyHaveStarted && !started {
			return apperrors.ExecutionHasNotStarted(id)
		}
		if !*update.ShouldAlreadyHaveStarted && started {
			return apperrors.ExecutionHasAlreadyStarted(id)
		}
	}
	if update.ShouldAlreadyHaveFinished != nil {
		finished := exe.Finished()
		if *update.ShouldAlreadyHaveFinished && !finished {
			return apperrors.ExecutionHasNotFinished(id)
		}
		if !*update.ShouldAlreadyHaveFinished && finished {
			return apperrors.ExecutionHasAlreadyFinished(id)
		}
	}

	if update.NewWorkerStatus != nil {
		exe.WorkerStatus = *update.NewWorkerStatus
	}
	if update.NewWorkerDetails != nil {
		exe.WorkerDetails = update.NewWorkerDetails
	}
	if update.NewTerminationSignalTime != nil {
		exe.TerminationSignalTime = update.NewTerminationSignalTime
	}
	if update.NewOutcome != nil {
		exe.Outcome = update.NewOutcome
	}
	if update.NewOutput != nil {
		exe.Output = *update.NewOutput
	}
	if update.NewErrorMessage != nil {
		exe.ErrorMessage = update.NewErrorMessage
	}
	if update.NewExecutionStartTime != nil {
		exe.ExecutionStartTime = update.NewExecutionStartTime
	}
	if update.NewExecutionFinishTime != nil {
		exe.ExecutionFinishTime = update.NewExecutionFinishTime
	}
	exe.LastUpdateTime = time.Now().UTC()
	s.executions[key] = exe
	return nil
}

func (e *executionStore) Get(_ context.Context, project, version, function, invocation, id string) (domain.Execution, error) {
	s := e.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	exe, ok := s.executions[executionKey(project, version, function, invocation, id)]
	if !ok {
		return domain.Execution{}, apperrors.ExecutionDoesNotExist(id)
	}
	return exe, nil
}

func (e *executionStore) ListForInvocation(_ context.Context, project, version, function, invocation string) ([]domain.Execution, error) {
	s := e.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	return executionsForInvocationLocked(s, project, version, function, invocation), nil
}

func (e *executionStore) ListAll(_ context.Context, workerStatuses []domain.WorkerStatus) ([]domain.Execution, error) {
	if len(workerStatuses) == 0 {
		return []domain.Execution{}, nil
	}
	s := e.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[domain.WorkerStatus]bool, len(workerStatuses))
	for _, st := range workerStatuses {
		want[st] = true
	}
	out := make([]domain.Execution, 0)
	for _, exe := range s.executions {
		if want[exe.WorkerStatus] {
			out = append(out, exe)
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
