package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fnplane/controlplane/internal/apperrors"
	"github.com/fnplane/controlplane/internal/domain"
	"github.com/fnplane/controlplane/internal/ids"
	"github.com/fnplane/controlplane/internal/store"
	"github.com/fnplane/controlplane/internal/versionref"
)

// maxProjectNameLen bounds project names at the Request API layer; the
// Store's TEXT column has no hard limit of its own.
const maxProjectNameLen = 128

func (h *handler) projects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := h.store.Projects().List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)

	case http.MethodPost:
		var body struct {
			Name string `json:"name"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		name := strings.TrimSpace(body.Name)
		if len(name) > maxProjectNameLen {
			writeError(w, apperrors.ProjectNameIsTooLong(name))
			return
		}
		now := time.Now().UTC()
		if err := h.store.Projects().Create(r.Context(), name, now); err != nil {
			writeError(w, err)
			return
		}
		proj, err := h.store.Projects().Get(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, proj)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// projectResources dispatches everything under /projects/{project}/...
func (h *handler) projectResources(w http.ResponseWriter, r *http.Request) {
	rest := splitPath(r.URL.Path, "/projects/")
	if len(rest) == 0 {
		http.NotFound(w, r)
		return
	}
	project := rest[0]

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			proj, err := h.store.Projects().Get(r.Context(), project)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, proj)
		case http.MethodDelete:
			if err := h.store.Projects().RequestDeletion(r.Context(), project, time.Now().UTC()); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch rest[1] {
	case "versions":
		h.versionResources(w, r, project, rest[2:])
	default:
		http.NotFound(w, r)
	}
}

// splitPath trims prefix from path and splits what remains on "/",
// dropping empty trailing segments. Grounded on the teacher's
// accountResources path-splitting (internal/app/httpapi/handler.go).
func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func (h *handler) versionResources(w http.ResponseWriter, r *http.Request, project string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			versions, err := h.store.Versions().ListForProject(r.Context(), project)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, versions)
		case http.MethodPost:
			h.createVersion(w, r, project)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	versionID, err := versionref.Resolve(r.Context(), h.store.Versions(), project, rest[0])
	if err != nil {
		writeError(w, err)
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			v, err := h.store.Versions().Get(r.Context(), project, versionID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, v)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch rest[1] {
	case "functions":
		h.functionResources(w, r, project, versionID, rest[2:])
	default:
		http.NotFound(w, r)
	}
}

type createVersionFunction struct {
	Name          string               `json:"name"`
	DockerImage   string               `json:"docker_image"`
	ResourceSpec  domain.ResourceSpec  `json:"resource_spec"`
	ExecutionSpec domain.ExecutionSpec `json:"execution_spec"`
}

// createVersion creates the version row and, per §4.5, one PENDING
// function row per declared function. The Store interface exposes these
// as separate calls rather than one transaction; a failure partway
// through leaves the version with whichever functions were already
// created; it is the caller's job to inspect the response and retry
// declaring the missing ones (see DESIGN.md).
func (h *handler) createVersion(w http.ResponseWriter, r *http.Request, project string) {
	var body struct {
		Functions []createVersionFunction `json:"functions"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	versionID, err := ids.New(ids.PrefixVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	now := time.Now().UTC()
	if err := h.store.Versions().Create(r.Context(), project, versionID, now); err != nil {
		writeError(w, err)
		return
	}

	for _, fn := range body.Functions {
		err := h.store.Functions().Create(r.Context(), store.FunctionCreate{
			Project:       project,
			Version:       versionID,
			Name:          fn.Name,
			DockerImage:   fn.DockerImage,
			ResourceSpec:  fn.ResourceSpec,
			ExecutionSpec: fn.ExecutionSpec,
		})
		if err != nil {
			writeError(w, err)
			return
		}
	}

	v, err := h.store.Versions().Get(r.Context(), project, versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *handler) functionResources(w http.ResponseWriter, r *http.Request, project, version string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		functions, err := h.store.Functions().ListForVersion(r.Context(), project, version)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, functions)
		return
	}

	function := rest[0]
	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		fn, err := h.store.Functions().Get(r.Context(), project, version, function)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fn)
		return
	}

	switch rest[1] {
	case "invocations":
		h.invocationResources(w, r, project, version, function, rest[2:])
	default:
		http.NotFound(w, r)
	}
}
