package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/store"
)

func asAppError(err error) (*apperrors.Error, bool) {
	var ae *apperrors.Error
	ok := errors.As(err, &ae)
	return ae, ok
}

func TestProjectCreateGetAndConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Projects().Create(ctx, "proj", now); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Projects().Create(ctx, "proj", now); err == nil {
		t.Fatalf("expected ProjectAlreadyExists")
	} else if ae, ok := asAppError(err); !ok || ae.Code != "ProjectAlreadyExists" {
		t.Fatalf("wrong error: %v", err)
	}

	got, err := s.Projects().Get(ctx, "proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "proj" || !got.CreationTime.Equal(now) {
		t.Fatalf("unexpected project: %+v", got)
	}

	if _, err := s.Projects().Get(ctx, "missing"); err == nil {
		t.Fatalf("expected ProjectDoesNotExist")
	}
}

func TestProjectDeletionCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	mustSeedVersionAndFunction(t, s, now)

	if err := s.Projects().DeleteWithCascade(ctx, "proj"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Projects().Get(ctx, "proj"); err == nil {
		t.Fatalf("expected project gone")
	}
	if _, err := s.Versions().Get(ctx, "proj", "v1"); err == nil {
		t.Fatalf("expected version gone")
	}
	if _, err := s.Functions().Get(ctx, "proj", "v1", "fn"); err == nil {
		t.Fatalf("expected function gone")
	}
}

func mustSeedVersionAndFunction(t *testing.T, s *Store, now time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := s.Projects().Create(ctx, "proj", now); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := s.Versions().Create(ctx, "proj", "v1", now); err != nil {
		t.Fatalf("create version: %v", err)
	}
	if err := s.Functions().Create(ctx, store.FunctionCreate{
		Project:     "proj",
		Version:     "v1",
		Name:        "fn",
		DockerImage: "img:latest",
		ResourceSpec: domain.ResourceSpec{
			VirtualCPUs: 1, MemoryGBs: 1, MaxConcurrency: 4,
		},
		ExecutionSpec: domain.ExecutionSpec{MaxRetries: 0, TimeoutSeconds: 30},
	}); err != nil {
		t.Fatalf("create function: %v", err)
	}
}

func TestVersionGetIDOfLatest(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now().UTC()

	if err := s.Projects().Create(ctx, "proj", base); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := s.Versions().Create(ctx, "proj", "v1", base); err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if err := s.Versions().Create(ctx, "proj", "v2", base.Add(time.Minute)); err != nil {
		t.Fatalf("create v2: %v", err)
	}

	latest, err := s.Versions().GetIDOfLatest(ctx, "proj")
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest != "v2" {
		t.Fatalf("expected v2, got %s", latest)
	}
}

func TestInvocationCreateRequiresFunction(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)

	err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "missing-fn", ID: "inv1", Time: now,
	})
	if err == nil {
		t.Fatalf("expected FunctionDoesNotExist")
	}
	if ae, ok := asAppError(err); !ok || ae.Code != "FunctionDoesNotExist" {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestInvocationParentValidation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)

	err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "fn", ID: "child", Time: now,
		Parent: &domain.ParentRef{FunctionName: "fn", InvocationID: "does-not-exist"},
	})
	if err == nil {
		t.Fatalf("expected ParentInvocationDoesNotExist")
	}
	if ae, ok := asAppError(err); !ok || ae.Code != "ParentInvocationDoesNotExist" {
		t.Fatalf("wrong error: %v", err)
	}

	if err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "fn", ID: "parent", Time: now,
	}); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	if err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "fn", ID: "child", Time: now,
		Parent: &domain.ParentRef{FunctionName: "fn", InvocationID: "parent"},
	}); err != nil {
		t.Fatalf("create child: %v", err)
	}
}

func TestInvocationListForFunctionPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		if err := s.Invocations().Create(ctx, store.InvocationCreate{
			Project: "proj", Version: "v1", Function: "fn", ID: id,
			Time: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("create invocation %d: %v", i, err)
		}
	}

	page, err := s.Invocations().ListForFunction(ctx, "proj", "v1", "fn", store.InvocationListFilter{MaxResults: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(page.Invocations))
	}
	if page.NextOffset == nil {
		t.Fatalf("expected a next offset")
	}

	page2, err := s.Invocations().ListForFunction(ctx, "proj", "v1", "fn", store.InvocationListFilter{
		MaxResults: 2, Offset: *page.NextOffset,
	})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2.Invocations) != 2 {
		t.Fatalf("expected 2 invocations on page 2, got %d", len(page2.Invocations))
	}
	if page.Invocations[0].ID == page2.Invocations[0].ID {
		t.Fatalf("pages should not overlap")
	}
}

func TestInvocationListForFunctionBadOffset(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)

	_, err := s.Invocations().ListForFunction(ctx, "proj", "v1", "fn", store.InvocationListFilter{Offset: "not-valid-base64!!"})
	if err == nil {
		t.Fatalf("expected OffsetIsInvalid")
	}
	if ae, ok := asAppError(err); !ok || ae.Code != "OffsetIsInvalid" {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestExecutionUpdatePreconditions(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)
	if err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "fn", ID: "inv1", Time: now,
	}); err != nil {
		t.Fatalf("create invocation: %v", err)
	}
	if err := s.Executions().Create(ctx, store.ExecutionCreate{
		Project: "proj", Version: "v1", Function: "fn", Invocation: "inv1", ID: "exe1", Time: now,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	alreadyStarted := true
	err := s.Executions().Update(ctx, "proj", "v1", "fn", "inv1", "exe1", domain.ExecutionUpdate{
		ShouldAlreadyHaveStarted: &alreadyStarted,
	})
	if err == nil {
		t.Fatalf("expected ExecutionHasNotStarted")
	}
	if ae, ok := asAppError(err); !ok || ae.Code != "ExecutionHasNotStarted" {
		t.Fatalf("wrong error: %v", err)
	}

	notStarted := false
	startTime := now
	if err := s.Executions().Update(ctx, "proj", "v1", "fn", "inv1", "exe1", domain.ExecutionUpdate{
		ShouldAlreadyHaveStarted: &notStarted,
		NewExecutionStartTime:    &startTime,
	}); err != nil {
		t.Fatalf("start execution: %v", err)
	}

	err = s.Executions().Update(ctx, "proj", "v1", "fn", "inv1", "exe1", domain.ExecutionUpdate{
		ShouldAlreadyHaveStarted: &notStarted,
	})
	if err == nil {
		t.Fatalf("expected ExecutionHasAlreadyStarted")
	}
	if ae, ok := asAppError(err); !ok || ae.Code != "ExecutionHasAlreadyStarted" {
		t.Fatalf("wrong error: %v", err)
	}
}

func TestExecutionAlreadyExists(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	mustSeedVersionAndFunction(t, s, now)
	if err := s.Invocations().Create(ctx, store.InvocationCreate{
		Project: "proj", Version: "v1", Function: "fn", ID: "inv1", Time: now,
	}); err != nil {
		t.Fatalf("create invocation: %v", err)
	}
	if err := s.Executions().Create(ctx, store.ExecutionCreate{
		Project: "proj", Version: "v1", Function: "fn", Invocation: "inv1", ID: "exe1", Time: now,
	}); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	err := s.Executions().Create(ctx, store.ExecutionCreate{
		Project: "proj", Version: "v1", Function: "fn", Invocation: "inv1", ID: "exe1", Time: now,
	})
	if err == nil {
		t.Fatalf("expected ExecutionAlreadyExists")
	}
}
