package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/provisioner"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{BaseURL: server.URL, Token: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestPrepareFunctionSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prepare" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Fatalf("missing bearer token")
		}
		var req prepareFunctionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.FunctionName != "fn" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(prepareFunctionResponse{
			PreparedFunctionDetails: domain.PreparedFunctionDetails{Type: "ecs", Identifier: "task-def-1"},
		})
	})

	details, err := c.PrepareFunction(context.Background(), "proj", "v1", "fn", "img:latest", domain.ResourceSpec{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if details.Identifier != "task-def-1" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestPermanentFailureSurfacesDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "unknown function"})
	})

	_, err := c.PrepareFunction(context.Background(), "proj", "v1", "fn", "img:latest", domain.ResourceSpec{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "unknown function") {
		t.Fatalf("expected detail in error, got: %v", err)
	}
}

func TestCheckWorkerStatusDecodesState(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/check_status" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(checkWorkerStatusResponse{WorkerStatus: provisioner.WorkerStateTerminated})
	})

	state, err := c.CheckWorkerStatus(context.Background(), &domain.WorkerDetails{Identifier: "w1"})
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if state != provisioner.WorkerStateTerminated {
		t.Fatalf("expected TERMINATED, got %s", state)
	}
}

func TestGetWorkerLogsRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req getLogsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.MaxLines != 5 {
			t.Fatalf("unexpected max_lines: %d", req.MaxLines)
		}
		next := "5"
		_ = json.NewEncoder(w).Encode(getLogsResponse{
			LogLines:   []string{"a", "b", "c", "d", "e"},
			NextOffset: &next,
		})
	})

	lines, next, err := c.GetWorkerLogs(context.Background(), &domain.WorkerDetails{}, 5, "")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(lines) != 5 || next != "5" {
		t.Fatalf("unexpected response: lines=%v next=%s", lines, next)
	}
}

