package endpoint

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage"
)

// Endpoint is a function that takes a request and returns a response.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Endpoints holds all endpoint handlers.
type Endpoints struct {
	CreatePlan   Endpoint
	GetPlan      Endpoint
	ListVersions Endpoint
	Replan       Endpoint
}

// ReplanRequest targets a lineage.
type ReplanRequest struct {
	LineageID string
	service.ReplanRequest
}

// Planner is the part of the orchestrator the transports use.
type Planner interface {
	Plan(ctx context.Context, req service.PlanRequest) (*service.PlanResult, error)
	Replan(ctx context.Context, lineageID string, req service.ReplanRequest) (*service.PlanResult, error)
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
	ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error)
}

// MakeEndpoints creates all endpoints from the service.
func MakeEndpoints(svc Planner) Endpoints {
	return Endpoints{
		CreatePlan:   makeCreatePlanEndpoint(svc),
		GetPlan:      makeGetPlanEndpoint(svc),
		ListVersions: makeListVersionsEndpoint(svc),
		Replan:       makeReplanEndpoint(svc),
	}
}

func makeCreatePlanEndpoint(svc Planner) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*service.PlanRequest)
		if err := validatePlanRequest(req); err != nil {
			return nil, err
		}
		return svc.Plan(ctx, *req)
	}
}

func makeGetPlanEndpoint(svc Planner) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id := request.(string)
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, "plan ID is required")
		}
		return svc.GetPlan(ctx, id)
	}
}

func makeListVersionsEndpoint(svc Planner) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id := request.(string)
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, "lineage ID is required")
		}
		return svc.ListVersions(ctx, id)
	}
}

func makeReplanEndpoint(svc Planner) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*ReplanRequest)
		if err := validateReplanRequest(req); err != nil {
			return nil, err
		}
		return svc.Replan(ctx, req.LineageID, req.ReplanRequest)
	}
}
