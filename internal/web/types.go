package web

import (
	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/storage"
)

// PlanDocument is the response for GET /api/plans/{id}
type PlanDocument struct {
	Plan *domain.Plan `json:"plan"`
}

// VersionsResponse is the response for GET /api/lineages/{id}/versions
type VersionsResponse struct {
	LineageID string                `json:"lineageId"`
	Versions  []storage.VersionInfo `json:"versions"`
}

// HealthResponse is the response for GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}
