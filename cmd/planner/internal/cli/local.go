package cli

import (
	"context"

	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage"
)

// localPlanner serves the commands from an in-process orchestrator through
// the same endpoints and validation the servers use.
type localPlanner struct {
	endpoints endpoint.Endpoints
}

func (l *localPlanner) CreatePlan(ctx context.Context, body endpoint.PlanBody) (*endpoint.PlanResponse, error) {
	req, err := body.ToRequest()
	if err != nil {
		return nil, err
	}
	resp, err := l.endpoints.CreatePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	return endpoint.NewPlanResponse(resp.(*service.PlanResult)), nil
}

func (l *localPlanner) Replan(ctx context.Context, body endpoint.ReplanBody) (*endpoint.PlanResponse, error) {
	req, err := body.ToRequest()
	if err != nil {
		return nil, err
	}
	resp, err := l.endpoints.Replan(ctx, req)
	if err != nil {
		return nil, err
	}
	return endpoint.NewPlanResponse(resp.(*service.PlanResult)), nil
}

func (l *localPlanner) ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error) {
	resp, err := l.endpoints.ListVersions(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	return resp.([]storage.VersionInfo), nil
}
