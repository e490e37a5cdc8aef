// Package store defines the Store contract of §4.1: transactional
// persistence of projects, versions, functions, invocations, and
// executions, with typed CRUD and status-filtered scans. internal/store/postgres
// and internal/store/memory provide implementations.
package store

import (
	"context"
	"time"

	"github.com/fnplane/controlplane/internal/domain"
)

// Store composes the five per-entity tables. Implementations must be safe
// for concurrent use: the reconciler and the Request API hold a Store
// concurrently.
type Store interface {
	Projects() ProjectStore
	Versions() VersionStore
	Functions() FunctionStore
	Invocations() InvocationStore
	Executions() ExecutionStore
}

// ProjectStore is the Projects table of §4.1.
type ProjectStore interface {
	Create(ctx context.Context, name string, t time.Time) error
	Get(ctx context.Context, name string) (domain.Project, error)
	List(ctx context.Context) ([]domain.Project, error)
	RequestDeletion(ctx context.Context, name string, t time.Time) error
	DeleteWithCascade(ctx context.Context, name string) error
}

// VersionStore is the Versions table of §4.1.
type VersionStore interface {
	Create(ctx context.Context, project, versionID string, t time.Time) error
	Get(ctx context.Context, project, versionID string) (domain.Version, error)
	GetIDOfLatest(ctx context.Context, project string) (string, error)
	ListForProject(ctx context.Context, project string) ([]domain.Version, error)
}

// FunctionCreate carries the fields needed to create a Function row.
type FunctionCreate struct {
	Project       string
	Version       string
	Name          string
	DockerImage   string
	ResourceSpec  domain.ResourceSpec
	ExecutionSpec domain.ExecutionSpec
}

// FunctionStore is the Functions table of §4.1.
type FunctionStore interface {
	Create(ctx context.Context, f FunctionCreate) error
	Update(ctx context.Context, project, version, name string, update domain.FunctionUpdate) error
	Get(ctx context.Context, project, version, name string) (domain.Function, error)
	ListForVersion(ctx context.Context, project, version string) ([]domain.Function, error)

	// ListAll scans across all projects filtered by status. Callers must
	// never pass a set containing READY together with an empty set; an
	// empty statuses slice returns an empty result rather than scanning
	// unfiltered (avoids a malformed, unbounded query).
	ListAll(ctx context.Context, statuses []domain.FunctionStatus) ([]domain.Function, error)
}

// InvocationCreate carries the fields needed to create an Invocation row.
type InvocationCreate struct {
	Project  string
	Version  string
	Function string
	ID       string
	Parent   *domain.ParentRef
	Input    string
	Time     time.Time
}

// InvocationUpdate is a partial update applied to an Invocation row.
type InvocationUpdate struct {
	UpdateTime               time.Time
	SetCancellationRequested bool
	NewStatus                *domain.InvocationStatus
}

// InvocationListFilter narrows ListForFunction.
type InvocationListFilter struct {
	MaxResults int
	Offset     string
	Status     *domain.InvocationStatus
	Parent     *domain.ParentRef
}

// InvocationPage is one page of a paginated invocation listing.
type InvocationPage struct {
	Invocations []domain.Invocation
	NextOffset  *string
}

// InvocationStore is the Invocations table of §4.1.
type InvocationStore interface {
	Create(ctx context.Context, c InvocationCreate) error
	Update(ctx context.Context, project, version, function, id string, update InvocationUpdate) error
	Get(ctx context.Context, project, version, function, id string) (domain.Invocation, error)
	ListForFunction(ctx context.Context, project, version, function string, filter InvocationListFilter) (InvocationPage, error)

	// ListAll scans across all projects filtered by status, for reconciler use.
	ListAll(ctx context.Context, statuses []domain.InvocationStatus) ([]domain.Invocation, error)
}

// ExecutionCreate carries the fields needed to create an Execution row.
type ExecutionCreate struct {
	Project    string
	Version    string
	Function   string
	Invocation string
	ID         string
	Time       time.Time
}

// ExecutionStore is the Executions table of §4.1.
type ExecutionStore interface {
	Create(ctx context.Context, c ExecutionCreate) error
	Update(ctx context.Context, project, version, function, invocation, id string, update domain.ExecutionUpdate) error
	Get(ctx context.Context, project, version, function, invocation, id string) (domain.Execution, error)
	ListForInvocation(ctx context.Context, project, version, function, invocation string) ([]domain.Execution, error)

	// ListAll scans across all projects filtered by worker_status. A
	// TERMINATED-only scan is legal but discouraged (unbounded result set).
	ListAll(ctx context.Context, workerStatuses []domain.WorkerStatus) ([]domain.Execution, error)
}
