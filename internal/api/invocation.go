package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/ids"
	"github.com/fnplane/controlplane/internal/store"
)

func (h *handler) invocationResources(w http.ResponseWriter, r *http.Request, project, version, function string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			h.listInvocations(w, r, project, version, function)
		case http.MethodPost:
			h.createInvocation(w, r, project, version, function)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	invocationID := rest[0]
	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inv, err := h.store.Invocations().Get(r.Context(), project, version, function, invocationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
		return
	}

	switch rest[1] {
	case "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.cancelInvocation(w, r, project, version, function, invocationID)
	case "executions":
		h.executionResources(w, r, project, version, function, invocationID, rest[2:])
	default:
		http.NotFound(w, r)
	}
}

// createInvocation mints an inv-... id and creates a RUNNING invocation.
// Per §4.5, this must fail with ProjectIsBeingDeleted if the project has
// deletion_request_time set; that check is inherently racy against a
// concurrent deletion request (§5 accepts this for admission control, and
// the reconciler's cancellation-propagation classifier is the backstop
// that catches anything this check misses).
func (h *handler) createInvocation(w http.ResponseWriter, r *http.Request, project, version, function string) {
	var body struct {
		Parent *domain.ParentRef `json:"parent,omitempty"`
		Input  string            `json:"input"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	proj, err := h.store.Projects().Get(r.Context(), project)
	if err != nil {
		writeError(w, err)
		return
	}
	if proj.MarkedForDeletion() {
		writeError(w, apperrors.ProjectIsBeingDeleted(project))
		return
	}

	id, err := ids.New(ids.PrefixInvocation)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	err = h.store.Invocations().Create(r.Context(), store.InvocationCreate{
		Project:  project,
		Version:  version,
		Function: function,
		ID:       id,
		Parent:   body.Parent,
		Input:    body.Input,
		Time:     now,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	inv, err := h.store.Invocations().Get(r.Context(), project, version, function, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// cancelInvocation sets cancellation_request_time idempotently; a second
// call against an already-cancelled invocation is a no-op success, per
// §5's idempotence requirement.
func (h *handler) cancelInvocation(w http.ResponseWriter, r *http.Request, project, version, function, id string) {
	now := time.Now().UTC()
	err := h.store.Invocations().Update(r.Context(), project, version, function, id, store.InvocationUpdate{
		UpdateTime:               now,
		SetCancellationRequested: true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	inv, err := h.store.Invocations().Get(r.Context(), project, version, function, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// listInvocations supports the cursor/status/parent filters of §4.5,
// capped at maxInvocationListLimit results per page.
func (h *handler) listInvocations(w http.ResponseWriter, r *http.Request, project, version, function string) {
	q := r.URL.Query()
	filter := store.InvocationListFilter{
		MaxResults: queryInt(r, "limit", maxInvocationListLimit, maxInvocationListLimit),
		Offset:     strings.TrimSpace(q.Get("cursor")),
	}

	if raw := strings.ToUpper(strings.TrimSpace(q.Get("status"))); raw != "" {
		switch domain.InvocationStatus(raw) {
		case domain.InvocationStatusRunning:
			status := domain.InvocationStatusRunning
			filter.Status = &status
		case domain.InvocationStatusTerminated:
			status := domain.InvocationStatusTerminated
			filter.Status = &status
		}
	}

	parentFunction := strings.TrimSpace(q.Get("parent_function"))
	parentInvocation := strings.TrimSpace(q.Get("parent_invocation_id"))
	if parentFunction != "" || parentInvocation != "" {
		filter.Parent = &domain.ParentRef{FunctionName: parentFunction, InvocationID: parentInvocation}
	}

	page, err := h.store.Invocations().ListForFunction(r.Context(), project, version, function, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
