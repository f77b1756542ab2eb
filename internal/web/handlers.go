package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP handlers for the planner API
type Handlers struct {
	endpoints endpoint.Endpoints
	logger    *slog.Logger
}

// NewHandlers creates new API handlers
func NewHandlers(endpoints endpoint.Endpoints, logger *slog.Logger) *Handlers {
	return &Handlers{endpoints: endpoints, logger: logger}
}

// CreatePlan handles POST /api/plans
func (h *Handlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var body endpoint.PlanBody
	if !h.decode(w, r, &body) {
		return
	}
	req, err := body.ToRequest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.endpoints.CreatePlan(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint.NewPlanResponse(resp.(*service.PlanResult)))
}

// GetPlan handles GET /api/plans/{id}
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	resp, err := h.endpoints.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlanDocument{Plan: resp.(*domain.Plan)})
}

// ListVersions handles GET /api/lineages/{id}/versions
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	lineageID := r.PathValue("id")
	resp, err := h.endpoints.ListVersions(r.Context(), lineageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	versions := resp.([]storage.VersionInfo)
	if versions == nil {
		versions = []storage.VersionInfo{}
	}
	writeJSON(w, http.StatusOK, VersionsResponse{LineageID: lineageID, Versions: versions})
}

// Replan handles POST /api/lineages/{id}/replan
func (h *Handlers) Replan(w http.ResponseWriter, r *http.Request) {
	var body endpoint.ReplanBody
	if !h.decode(w, r, &body) {
		return
	}
	body.LineageID = r.PathValue("id")
	req, err := body.ToRequest()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.endpoints.Replan(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint.NewPlanResponse(resp.(*service.PlanResult)))
}

// Health handles GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, endpoint.ErrorBody{
			Kind:    string(service.KindInvalidRequest),
			Message: "invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := endpoint.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "error", err)
	}
	writeJSON(w, code, endpoint.NewErrorBody(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
