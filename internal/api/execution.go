package api

import (
	"net/http"
	"time"

	"github.com/fnplane/controlplane/internal/domain"
)

// executionResources serves the Execution API's get/start/result/finish
// operations. Executions themselves are only ever created by the
// reconciler's scheduling classifier; there is no create-execution
// endpoint here.
func (h *handler) executionResources(w http.ResponseWriter, r *http.Request, project, version, function, invocation string, rest []string) {
	if len(rest) == 0 {
		http.NotFound(w, r)
		return
	}

	executionID := rest[0]
	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		exe, err := h.store.Executions().Get(r.Context(), project, version, function, invocation, executionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exe)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch rest[1] {
	case "start":
		h.startExecution(w, r, project, version, function, invocation, executionID)
	case "result":
		h.uploadTemporaryResult(w, r, project, version, function, invocation, executionID)
	case "finish":
		h.setFinalResult(w, r, project, version, function, invocation, executionID)
	default:
		http.NotFound(w, r)
	}
}

// startExecution sets execution_start_time, failing with
// ExecutionHasAlreadyStarted if the worker already reported in once.
func (h *handler) startExecution(w http.ResponseWriter, r *http.Request, project, version, function, invocation, id string) {
	now := time.Now().UTC()
	err := h.store.Executions().Update(r.Context(), project, version, function, invocation, id, domain.ExecutionUpdate{
		NewExecutionStartTime:    &now,
		ShouldAlreadyHaveStarted: boolPtr(false),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeExecution(w, r, project, version, function, invocation, id)
}

// uploadTemporaryResult records intermediate output while the execution
// is still running; it requires the execution has started and has not
// yet finished.
func (h *handler) uploadTemporaryResult(w http.ResponseWriter, r *http.Request, project, version, function, invocation, id string) {
	var body struct {
		Output string `json:"output"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	err := h.store.Executions().Update(r.Context(), project, version, function, invocation, id, domain.ExecutionUpdate{
		NewOutput:                 &body.Output,
		ShouldAlreadyHaveStarted:  boolPtr(true),
		ShouldAlreadyHaveFinished: boolPtr(false),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeExecution(w, r, project, version, function, invocation, id)
}

// setFinalResult records the terminal outcome/output/error_message and
// execution_finish_time, requiring the execution has started and has not
// already finished.
func (h *handler) setFinalResult(w http.ResponseWriter, r *http.Request, project, version, function, invocation, id string) {
	var body struct {
		Outcome      domain.Outcome `json:"outcome"`
		Output       string         `json:"output"`
		ErrorMessage *string        `json:"error_message,omitempty"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	now := time.Now().UTC()
	err := h.store.Executions().Update(r.Context(), project, version, function, invocation, id, domain.ExecutionUpdate{
		NewOutcome:                &body.Outcome,
		NewOutput:                 &body.Output,
		NewErrorMessage:           body.ErrorMessage,
		NewExecutionFinishTime:    &now,
		ShouldAlreadyHaveStarted:  boolPtr(true),
		ShouldAlreadyHaveFinished: boolPtr(false),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeExecution(w, r, project, version, function, invocation, id)
}

func (h *handler) writeExecution(w http.ResponseWriter, r *http.Request, project, version, function, invocation, id string) {
	exe, err := h.store.Executions().Get(r.Context(), project, version, function, invocation, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exe)
}
