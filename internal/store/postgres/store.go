// Package postgres implements the Store contract of §4.1 against a
// PostgreSQL database, using database/sql and lib/pq directly rather than
// an ORM, following the rest of the stack's storage packages.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/store"
)

// Store implements store.Store backed by a *sql.DB.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New creates a Store using the provided database handle. The handle's
// pool settings and migrations are the caller's responsibility (see
// internal/platform/database and internal/platform/migrations).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Projects() store.ProjectStore       { return (*projectStore)(s) }
func (s *Store) Versions() store.VersionStore       { return (*versionStore)(s) }
func (s *Store) Functions() store.FunctionStore     { return (*functionStore)(s) }
func (s *Store) Invocations() store.InvocationStore { return (*invocationStore)(s) }
func (s *Store) Executions() store.ExecutionStore   { return (*executionStore)(s) }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "violates foreign key constraint")
}

// --- Projects ---

type projectStore Store

func (p *projectStore) db() *sql.DB { return (*Store)(p).db }

func (p *projectStore) Create(ctx context.Context, name string, t time.Time) error {
	_, err := p.db().ExecContext(ctx, `
		INSERT INTO projects (name, creation_time)
		VALUES ($1, $2)
	`, name, t)
	if isUniqueViolation(err) {
		return apperrors.ProjectAlreadyExists(name)
	}
	return err
}

func (p *projectStore) Get(ctx context.Context, name string) (domain.Project, error) {
	row := p.db().QueryRowContext(ctx, `
		SELECT name, creation_time, deletion_request_time
		FROM projects
		WHERE name = $1
	`, name)
	return scanProject(row, name)
}

func scanProject(row *sql.Row, name string) (domain.Project, error) {
	var (
		proj       domain.Project
		deletionAt sql.NullTime
	)
	if err := row.Scan(&proj.Name, &proj.CreationTime, &deletionAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Project{}, apperrors.ProjectDoesNotExist(name)
		}
		return domain.Project{}, err
	}
	proj.CreationTime = proj.CreationTime.UTC()
	if deletionAt.Valid {
		t := deletionAt.Time.UTC()
		proj.DeletionRequestTime = &t
	}
	return proj, nil
}

func (p *projectStore) List(ctx context.Context) ([]domain.Project, error) {
	rows, err := p.db().QueryContext(ctx, `
		SELECT name, creation_time, deletion_request_time
		FROM projects
		ORDER BY creation_time DESC, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Project, 0)
	for rows.Next() {
		var (
			proj       domain.Project
			deletionAt sql.NullTime
		)
		if err := rows.Scan(&proj.Name, &proj.CreationTime, &deletionAt); err != nil {
			return nil, err
		}
		proj.CreationTime = proj.CreationTime.UTC()
		if deletionAt.Valid {
			t := deletionAt.Time.UTC()
			proj.DeletionRequestTime = &t
		}
		result = append(result, proj)
	}
	return result, rows.Err()
}

func (p *projectStore) RequestDeletion(ctx context.Context, name string, t time.Time) error {
	result, err := p.db().ExecContext(ctx, `
		UPDATE projects
		SET deletion_request_time = $2
		WHERE name = $1 AND deletion_request_time IS NULL
	`, name, t)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := p.Get(ctx, name); getErr != nil {
			return getErr
		}
		// Already had a deletion_request_time: idempotent no-op.
	}
	return nil
}

func (p *projectStore) DeleteWithCascade(ctx context.Context, name string) error {
	tx, err := p.db().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.ProjectDoesNotExist(name)
	}
	// versions/functions/invocations/executions cascade via ON DELETE CASCADE
	// foreign keys declared in the schema migration.
	return tx.Commit()
}

// --- Versions ---

type versionStore Store

func (v *versionStore) db() *sql.DB { return (*Store)(v).db }

func (v *versionStore) Create(ctx context.Context, project, versionID string, t time.Time) error {
	_, err := v.db().ExecContext(ctx, `
		INSERT INTO versions (project, id, creation_time)
		VALUES ($1, $2, $3)
	`, project, versionID, t)
	if isUniqueViolation(err) {
		return apperrors.VersionAlreadyExists(project, versionID)
	}
	if isForeignKeyViolation(err) {
		return apperrors.ProjectDoesNotExist(project)
	}
	return err
}

func (v *versionStore) Get(ctx context.Context, project, versionID string) (domain.Version, error) {
	row := v.db().QueryRowContext(ctx, `
		SELECT project, id, creation_time
		FROM versions
		WHERE project = $1 AND id = $2
	`, project, versionID)

	var ver domain.Version
	if err := row.Scan(&ver.Project, &ver.ID, &ver.CreationTime); err != nil {
		if err == sql.ErrNoRows {
			return domain.Version{}, apperrors.VersionDoesNotExist(project, versionID)
		}
		return domain.Version{}, err
	}
	ver.CreationTime = ver.CreationTime.UTC()

	functions, err := (*functionStore)(v).ListForVersion(ctx, project, versionID)
	if err != nil {
		return domain.Version{}, err
	}
	ver.Functions = functions
	return ver, nil
}

func (v *versionStore) GetIDOfLatest(ctx context.Context, project string) (string, error) {
	row := v.db().QueryRowContext(ctx, `
		SELECT id
		FROM versions
		WHERE project = $1
		ORDER BY creation_time DESC, id DESC
		LIMIT 1
	`, project)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", apperrors.VersionDoesNotExist(project, domain.Latest)
		}
		return "", err
	}
	return id, nil
}

func (v *versionStore) ListForProject(ctx context.Context, project string) ([]domain.Version, error) {
	rows, err := v.db().QueryContext(ctx, `
		SELECT project, id, creation_time
		FROM versions
		WHERE project = $1
		ORDER BY creation_time DESC, id
	`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Version, 0)
	for rows.Next() {
		var ver domain.Version
		if err := rows.Scan(&ver.Project, &ver.ID, &ver.CreationTime); err != nil {
			return nil, err
		}
		ver.CreationTime = ver.CreationTime.UTC()
		result = append(result, ver)
	}
	return result, rows.Err()
}

// --- Functions ---

type functionStore Store

func (f *functionStore) db() *sql.DB { return (*Store)(f).db }

func (f *functionStore) Create(ctx context.Context, c store.FunctionCreate) error {
	resourceSpecJSON, err := json.Marshal(c.ResourceSpec)
	if err != nil {
		return err
	}
	executionSpecJSON, err := json.Marshal(c.ExecutionSpec)
	if err != nil {
		return err
	}

	_, err = f.db().ExecContext(ctx, `
		INSERT INTO functions (project, version, name, docker_image, resource_spec, execution_spec, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.Project, c.Version, c.Name, c.DockerImage, resourceSpecJSON, executionSpecJSON, domain.FunctionStatusPending)
	if isUniqueViolation(err) {
		return apperrors.FunctionAlreadyExists(c.Project, c.Version, c.Name)
	}
	if isForeignKeyViolation(err) {
		return apperrors.VersionDoesNotExist(c.Project, c.Version)
	}
	return err
}

func (f *functionStore) Update(ctx context.Context, project, version, name string, update domain.FunctionUpdate) error {
	existing, err := f.Get(ctx, project, version, name)
	if err != nil {
		return err
	}
	if update.NewStatus != nil {
		existing.Status = *update.NewStatus
	}
	if update.NewPreparedDetails != nil {
		existing.PreparedDetails = update.NewPreparedDetails
	}

	preparedJSON, err := json.Marshal(existing.PreparedDetails)
	if err != nil {
		return err
	}

	result, err := f.db().ExecContext(ctx, `
		UPDATE functions
		SET status = $4, prepared_details = $5
		WHERE project = $1 AND version = $2 AND name = $3
	`, project, version, name, existing.Status, preparedJSON)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.FunctionDoesNotExist(project, version, name)
	}
	return nil
}

func (f *functionStore) Get(ctx context.Context, project, version, name string) (domain.Function, error) {
	row := f.db().QueryRowContext(ctx, `
		SELECT project, version, name, docker_image, resource_spec, execution_spec, status, prepared_details
		FROM functions
		WHERE project = $1 AND version = $2 AND name = $3
	`, project, version, name)
	fn, err := scanFunction(row)
	if err == sql.ErrNoRows {
		return domain.Function{}, apperrors.FunctionDoesNotExist(project, version, name)
	}
	return fn, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFunction(scanner rowScanner) (domain.Function, error) {
	var (
		fn            domain.Function
		resourceRaw   []byte
		executionRaw  []byte
		preparedRaw   []byte
	)
	if err := scanner.Scan(&fn.Project, &fn.Version, &fn.Name, &fn.DockerImage, &resourceRaw, &executionRaw, &fn.Status, &preparedRaw); err != nil {
		return domain.Function{}, err
	}
	if len(resourceRaw) > 0 {
		if err := json.Unmarshal(resourceRaw, &fn.ResourceSpec); err != nil {
			return domain.Function{}, err
		}
	}
	if len(executionRaw) > 0 {
		if err := json.Unmarshal(executionRaw, &fn.ExecutionSpec); err != nil {
			return domain.Function{}, err
		}
	}
	if len(preparedRaw) > 0 && string(preparedRaw) != "null" {
		var details domain.PreparedFunctionDetails
		if err := json.Unmarshal(preparedRaw, &details); err != nil {
			return domain.Function{}, err
		}
		fn.PreparedDetails = &details
	}
	return fn, nil
}

func (f *functionStore) ListForVersion(ctx context.Context, project, version string) ([]domain.Function, error) {
	rows, err := f.db().QueryContext(ctx, `
		SELECT project, version, name, docker_image, resource_spec, execution_spec, status, prepared_details
		FROM functions
		WHERE project = $1 AND version = $2
		ORDER BY name
	`, project, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Function, 0)
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fn)
	}
	return result, rows.Err()
}

func (f *functionStore) ListAll(ctx context.Context, statuses []domain.FunctionStatus) ([]domain.Function, error) {
	if len(statuses) == 0 {
		return []domain.Function{}, nil
	}
	rows, err := f.db().QueryContext(ctx, `
		SELECT project, version, name, docker_image, resource_spec, execution_spec, status, prepared_details
		FROM functions
		WHERE status = ANY($1)
	`, statusesToStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Function, 0)
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fn)
	}
	return result, rows.Err()
}

func statusesToStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// --- Invocations ---

type invocationStore Store

func (i *invocationStore) db() *sql.DB { return (*Store)(i).db }

func (i *invocationStore) Create(ctx context.Context, c store.InvocationCreate) error {
	var parentFn, parentInv sql.NullString
	if c.Parent != nil {
		if c.Parent.FunctionName == "" {
			return apperrors.ParentFunctionNameIsMissing()
		}
		if c.Parent.InvocationID == "" {
			return apperrors.ParentInvocationIdIsMissing()
		}
		parentFn = sql.NullString{String: c.Parent.FunctionName, Valid: true}
		parentInv = sql.NullString{String: c.Parent.InvocationID, Valid: true}
	}

	_, err := i.db().ExecContext(ctx, `
		INSERT INTO invocations (project, version, function, id, parent_function_name, parent_invocation_id, input, status, creation_time, last_update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, c.Project, c.Version, c.Function, c.ID, parentFn, parentInv, c.Input, domain.InvocationStatusRunning, c.Time)
	if isUniqueViolation(err) {
		return apperrors.InvocationAlreadyExists(c.ID)
	}
	if isForeignKeyViolation(err) {
		if c.Parent != nil && strings.Contains(err.Error(), "parent") {
			return apperrors.ParentInvocationDoesNotExist(c.Parent.FunctionName, c.Parent.InvocationID)
		}
		return apperrors.FunctionDoesNotExist(c.Project, c.Version, c.Function)
	}
	return err
}

func (i *invocationStore) Update(ctx context.Context, project, version, function, id string, update store.InvocationUpdate) error {
	existing, err := i.Get(ctx, project, version, function, id)
	if err != nil {
		return err
	}
	if update.SetCancellationRequested && existing.CancellationRequestTime == nil {
		existing.CancellationRequestTime = &update.UpdateTime
	}
	if update.NewStatus != nil {
		existing.Status = *update.NewStatus
	}

	result, err := i.db().ExecContext(ctx, `
		UPDATE invocations
		SET cancellation_request_time = $5, status = $6, last_update_time = $7
		WHERE project = $1 AND version = $2 AND function = $3 AND id = $4
	`, project, version, function, id, toNullTime(existing.CancellationRequestTime), existing.Status, update.UpdateTime)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.InvocationDoesNotExist(project, version, function, id)
	}
	return nil
}

func (i *invocationStore) Get(ctx context.Context, project, version, function, id string) (domain.Invocation, error) {
	row := i.db().QueryRowContext(ctx, `
		SELECT project, version, function, id, parent_function_name, parent_invocation_id, input, cancellation_request_time, status, creation_time, last_update_time
		FROM invocations
		WHERE project = $1 AND version = $2 AND function = $3 AND id = $4
	`, project, version, function, id)

	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return domain.Invocation{}, apperrors.InvocationDoesNotExist(project, version, function, id)
	}
	if err != nil {
		return domain.Invocation{}, err
	}

	executions, err := (*executionStore)(i).ListForInvocation(ctx, project, version, function, id)
	if err != nil {
		return domain.Invocation{}, err
	}
	inv.Executions = executions
	return inv, nil
}

func scanInvocation(scanner rowScanner) (domain.Invocation, error) {
	var (
		inv         domain.Invocation
		parentFn    sql.NullString
		parentInv   sql.NullString
		cancelledAt sql.NullTime
	)
	if err := scanner.Scan(&inv.Project, &inv.Version, &inv.Function, &inv.ID, &parentFn, &parentInv, &inv.Input, &cancelledAt, &inv.Status, &inv.CreationTime, &inv.LastUpdateTime); err != nil {
		return domain.Invocation{}, err
	}
	inv.CreationTime = inv.CreationTime.UTC()
	inv.LastUpdateTime = inv.LastUpdateTime.UTC()
	if parentFn.Valid && parentInv.Valid {
		inv.Parent = &domain.ParentRef{FunctionName: parentFn.String, InvocationID: parentInv.String}
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		inv.CancellationRequestTime = &t
	}
	return inv, nil
}

func (i *invocationStore) ListForFunction(ctx context.Context, project, version, function string, filter store.InvocationListFilter) (store.InvocationPage, error) {
	if _, err := (*functionStore)(i).Get(ctx, project, version, function); err != nil {
		return store.InvocationPage{}, err
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT project, version, function, id, parent_function_name, parent_invocation_id, input, cancellation_request_time, status, creation_time, last_update_time
		FROM invocations
		WHERE project = $1 AND version = $2 AND function = $3
	`)
	args := []any{project, version, function}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query.WriteString(" AND status = $" + strconv.Itoa(len(args)))
	}
	if filter.Parent != nil {
		args = append(args, filter.Parent.FunctionName)
		query.WriteString(" AND parent_function_name = $" + strconv.Itoa(len(args)))
		args = append(args, filter.Parent.InvocationID)
		query.WriteString(" AND parent_invocation_id = $" + strconv.Itoa(len(args)))
	}

	var cursorTime time.Time
	var cursorID string
	if filter.Offset != "" {
		var err error
		cursorTime, cursorID, err = store.DecodeOffset(filter.Offset)
		if err != nil {
			return store.InvocationPage{}, err
		}
		args = append(args, cursorTime)
		query.WriteString(" AND (creation_time, id) < ($" + strconv.Itoa(len(args)))
		args = append(args, cursorID)
		query.WriteString(", $" + strconv.Itoa(len(args)) + ")")
	}

	max := filter.MaxResults
	if max <= 0 || max > 50 {
		max = 50
	}
	args = append(args, max+1)
	query.WriteString(" ORDER BY creation_time DESC, id DESC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := i.db().QueryContext(ctx, query.String(), args...)
	if err != nil {
		return store.InvocationPage{}, err
	}
	defer rows.Close()

	all := make([]domain.Invocation, 0, max+1)
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return store.InvocationPage{}, err
		}
		all = append(all, inv)
	}
	if err := rows.Err(); err != nil {
		return store.InvocationPage{}, err
	}

	var next *string
	if len(all) > max {
		last := all[max-1]
		v := store.EncodeOffset(last.CreationTime, last.ID)
		next = &v
		all = all[:max]
	}

	for idx := range all {
		executions, err := (*executionStore)(i).ListForInvocation(ctx, project, version, function, all[idx].ID)
		if err != nil {
			return store.InvocationPage{}, err
		}
		all[idx].Executions = executions
	}

	return store.InvocationPage{Invocations: all, NextOffset: next}, nil
}

func (i *invocationStore) ListAll(ctx context.Context, statuses []domain.InvocationStatus) ([]domain.Invocation, error) {
	if len(statuses) == 0 {
		return []domain.Invocation{}, nil
	}
	rows, err := i.db().QueryContext(ctx, `
		SELECT project, version, function, id, parent_function_name, parent_invocation_id, input, cancellation_request_time, status, creation_time, last_update_time
		FROM invocations
		WHERE status = ANY($1)
	`, statusesToStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Invocation, 0)
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for idx := range result {
		executions, err := (*executionStore)(i).ListForInvocation(ctx, result[idx].Project, result[idx].Version, result[idx].Function, result[idx].ID)
		if err != nil {
			return nil, err
		}
		result[idx].Executions = executions
	}
	return result, nil
}

// --- Executions ---

type executionStore Store

func (e *executionStore) db() *sql.DB { return (*Store)(e).db }

func (e *executionStore) Create(ctx context.Context, c store.ExecutionCreate) error {
	_, err := e.db().ExecContext(ctx, `
		INSERT INTO executions (project, version, function, invocation, id, worker_status, creation_time, last_update_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, c.Project, c.Version, c.Function, c.Invocation, c.ID, domain.WorkerStatusPending, c.Time)
	if isUniqueViolation(err) {
		return apperrors.ExecutionAlreadyExists(c.ID)
	}
	if isForeignKeyViolation(err) {
		return apperrors.InvocationDoesNotExist(c.Project, c.Version, c.Function, c.Invocation)
	}
	return err
}

func (e *executionStore) Update(ctx context.Context, project, version, function, invocation, id string, update domain.ExecutionUpdate) error {
	existing, err := e.Get(ctx, project, version, function, invocation, id)
	if err != nil {
		return err
	}

	if update.ShouldAlreadyHaveStarted != nil {
		started := existing.Started()
		if *update.ShouldAlreadyHaveStarted && !started {
			return apperrors.ExecutionHasNotStarted(id)
		}
		if !*update.ShouldAlreadyHaveStarted && started {
			return apperrors.ExecutionHasAlreadyStarted(id)
		}
	}
	if update.ShouldAlreadyHaveFinished != nil {
		finished := existing.Finished()
		if *update.ShouldAlreadyHaveFinished && !finished {
			return apperrors.ExecutionHasNotFinished(id)
		}
		if !*update.ShouldAlreadyHaveFinished && finished {
			return apperrors.ExecutionHasAlreadyFinished(id)
		}
	}

	if update.NewWorkerStatus != nil {
		existing.WorkerStatus = *update.NewWorkerStatus
	}
	if update.NewWorkerDetails != nil {
		existing.WorkerDetails = update.NewWorkerDetails
	}
	if update.NewTerminationSignalTime != nil {
		existing.TerminationSignalTime = update.NewTerminationSignalTime
	}
	if update.NewOutcome != nil {
		existing.Outcome = update.NewOutcome
	}
	if update.NewOutput != nil {
		existing.Output = *update.NewOutput
	}
	if update.NewErrorMessage != nil {
		existing.ErrorMessage = update.NewErrorMessage
	}
	if update.NewExecutionStartTime != nil {
		existing.ExecutionStartTime = update.NewExecutionStartTime
	}
	if update.NewExecutionFinishTime != nil {
		existing.ExecutionFinishTime = update.NewExecutionFinishTime
	}

	workerDetailsJSON, err := json.Marshal(existing.WorkerDetails)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := e.db().ExecContext(ctx, `
		UPDATE executions
		SET worker_status = $6, worker_details = $7, termination_signal_time = $8,
		    outcome = $9, output = $10, error_message = $11,
		    execution_start_time = $12, execution_finish_time = $13, last_update_time = $14
		WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 AND id = $5
	`, project, version, function, invocation, id,
		existing.WorkerStatus, workerDetailsJSON, toNullTime(existing.TerminationSignalTime),
		nullOutcome(existing.Outcome), existing.Output, nullString(existing.ErrorMessage),
		toNullTime(existing.ExecutionStartTime), toNullTime(existing.ExecutionFinishTime), now)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.ExecutionDoesNotExist(id)
	}
	return nil
}

func (e *executionStore) Get(ctx context.Context, project, version, function, invocation, id string) (domain.Execution, error) {
	row := e.db().QueryRowContext(ctx, `
		SELECT project, version, function, invocation, id, worker_status, worker_details, termination_signal_time,
		       outcome, output, error_message, creation_time, last_update_time, execution_start_time, execution_finish_time
		FROM executions
		WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4 AND id = $5
	`, project, version, function, invocation, id)
	exe, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return domain.Execution{}, apperrors.ExecutionDoesNotExist(id)
	}
	return exe, err
}

func scanExecution(scanner rowScanner) (domain.Execution, error) {
	var (
		exe           domain.Execution
		workerRaw     []byte
		terminatedAt  sql.NullTime
		outcome       sql.NullString
		errorMessage  sql.NullString
		startedAt     sql.NullTime
		finishedAt    sql.NullTime
	)
	if err := scanner.Scan(&exe.Project, &exe.Version, &exe.Function, &exe.Invocation, &exe.ID, &exe.WorkerStatus, &workerRaw,
		&terminatedAt, &outcome, &exe.Output, &errorMessage, &exe.CreationTime, &exe.LastUpdateTime, &startedAt, &finishedAt); err != nil {
		return domain.Execution{}, err
	}
	exe.CreationTime = exe.CreationTime.UTC()
	exe.LastUpdateTime = exe.LastUpdateTime.UTC()
	if len(workerRaw) > 0 && string(workerRaw) != "null" {
		var details domain.WorkerDetails
		if err := json.Unmarshal(workerRaw, &details); err != nil {
			return domain.Execution{}, err
		}
		exe.WorkerDetails = &details
	}
	if terminatedAt.Valid {
		t := terminatedAt.Time.UTC()
		exe.TerminationSignalTime = &t
	}
	if outcome.Valid {
		o := domain.Outcome(outcome.String)
		exe.Outcome = &o
	}
	if errorMessage.Valid {
		exe.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		exe.ExecutionStartTime = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		exe.ExecutionFinishTime = &t
	}
	return exe, nil
}

func (e *executionStore) ListForInvocation(ctx context.Context, project, version, function, invocation string) ([]domain.Execution, error) {
	rows, err := e.db().QueryContext(ctx, `
		SELECT project, version, function, invocation, id, worker_status, worker_details, termination_signal_time,
		       outcome, output, error_message, creation_time, last_update_time, execution_start_time, execution_finish_time
		FROM executions
		WHERE project = $1 AND version = $2 AND function = $3 AND invocation = $4
		ORDER BY creation_time
	`, project, version, function, invocation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Execution, 0)
	for rows.Next() {
		exe, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exe)
	}
	return result, rows.Err()
}

func (e *executionStore) ListAll(ctx context.Context, workerStatuses []domain.WorkerStatus) ([]domain.Execution, error) {
	if len(workerStatuses) == 0 {
		return []domain.Execution{}, nil
	}
	rows, err := e.db().QueryContext(ctx, `
		SELECT project, version, function, invocation, id, worker_status, worker_details, termination_signal_time,
		       outcome, output, error_message, creation_time, last_update_time, execution_start_time, execution_finish_time
		FROM executions
		WHERE worker_status = ANY($1)
	`, statusesToStrings(workerStatuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Execution, 0)
	for rows.Next() {
		exe, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exe)
	}
	return result, rows.Err()
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullOutcome(o *domain.Outcome) sql.NullString {
	if o == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*o), Valid: true}
}
