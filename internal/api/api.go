// Package api implements the Request API of §4.5: REST-ish handlers for
// projects, versions, functions, invocations, and executions, all backed
// directly by the Store. Routing follows the teacher's manual path-split
// style (internal/app/httpapi/handler.go) rather than a router library:
// a stdlib http.ServeMux dispatches top-level resources, and each handler
// splits the remaining path itself.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	core "github.com/fnplane/controlplane/internal/app/core/service"
	"github.com/fnplane/controlplane/internal/app/metrics"
	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/store"
	"github.com/fnplane/controlplane/pkg/logger"
	"github.com/fnplane/controlplane/pkg/version"
)

const maxInvocationListLimit = 50

// handler bundles the Request API's dependencies. All state lives in the
// Store; the handler itself is stateless and safe for concurrent use.
type handler struct {
	store store.Store
	token string
	log   *logger.Logger
}

// NewHandler returns the Request API's http.Handler, with bearer-token
// auth and Prometheus instrumentation applied. An empty token disables
// auth entirely, which is only appropriate for local/dev runs.
func NewHandler(s store.Store, token string, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("api")
	}
	h := &handler{store: s, token: token, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/system/status", h.systemStatus)
	mux.HandleFunc("/projects", h.projects)
	mux.HandleFunc("/projects/", h.projectResources)

	return metrics.InstrumentHandler(h.authenticate(mux))
}

// authenticate enforces the single shared bearer token on every path
// except the unauthenticated health/metrics surfaces.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := bearerToken(r)
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
			writeError(w, apperrors.ApiKeyIsInvalid())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("bearer "):])
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.FullVersion(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err onto the taxonomy's HTTP status per §7 and writes
// the {detail: ...} body §6 requires of every error response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperrors.StatusCode(err), map[string]string{"detail": err.Error()})
}

// decodeJSON decodes the request body into dst, rejecting unknown fields
// the way the teacher's httpapi handler does. Writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, defaultVal, maxVal int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return core.ClampLimit(n, defaultVal, maxVal)
}

func boolPtr(b bool) *bool { return &b }
