package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage"
	"github.com/example/hybridplanner/internal/validator"
)

type fakePlanner struct {
	planned  []service.PlanRequest
	replans  []string
	planErr  error
	plan     *domain.Plan
	versions []storage.VersionInfo
}

func (f *fakePlanner) Plan(_ context.Context, req service.PlanRequest) (*service.PlanResult, error) {
	f.planned = append(f.planned, req)
	if f.planErr != nil {
		return nil, f.planErr
	}
	return &service.PlanResult{Plan: f.plan}, nil
}

func (f *fakePlanner) Replan(_ context.Context, lineageID string, _ service.ReplanRequest) (*service.PlanResult, error) {
	f.replans = append(f.replans, lineageID)
	return &service.PlanResult{Plan: f.plan}, nil
}

func (f *fakePlanner) GetPlan(_ context.Context, id string) (*domain.Plan, error) {
	if f.plan == nil || f.plan.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.plan, nil
}

func (f *fakePlanner) ListVersions(context.Context, string) ([]storage.VersionInfo, error) {
	return f.versions, nil
}

func TestCreatePlanEndpoint_Validates(t *testing.T) {
	ctx := context.Background()
	svc := &fakePlanner{plan: &domain.Plan{ID: "p1"}}
	eps := MakeEndpoints(svc)

	tests := []struct {
		name string
		req  service.PlanRequest
	}{
		{"no intent", service.PlanRequest{DomainID: "travel"}},
		{"no domain", service.PlanRequest{Intent: "book trip"}},
		{"long intent", service.PlanRequest{Intent: strings.Repeat("x", maxIntentLength+1), DomainID: "travel"}},
		{"bad utf8", service.PlanRequest{Intent: "\xff", DomainID: "travel"}},
		{"empty context key", service.PlanRequest{Intent: "x", DomainID: "travel", Context: map[string]string{"": "v"}}},
		{"negative attempts", service.PlanRequest{Intent: "x", DomainID: "travel", MaxAttempts: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eps.CreatePlan(ctx, &tt.req)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
	assert.Empty(t, svc.planned)

	resp, err := eps.CreatePlan(ctx, &service.PlanRequest{Intent: "book trip", DomainID: "travel"})
	require.NoError(t, err)
	assert.Equal(t, "p1", resp.(*service.PlanResult).Plan.ID)
}

func TestOtherEndpoints(t *testing.T) {
	ctx := context.Background()
	svc := &fakePlanner{plan: &domain.Plan{ID: "p1"}, versions: []storage.VersionInfo{{PlanID: "p1", Version: 1}}}
	eps := MakeEndpoints(svc)

	_, err := eps.GetPlan(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = eps.GetPlan(ctx, "nope")
	assert.Equal(t, codes.NotFound, status.Code(MapErrorToStatus(err)))

	got, err := eps.ListVersions(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = eps.Replan(ctx, &ReplanRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = eps.Replan(ctx, &ReplanRequest{LineageID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, svc.replans)
}

func TestMapErrorToStatus(t *testing.T) {
	fact := domain.NewFact("flights_found")
	tests := []struct {
		err  error
		code codes.Code
		http int
	}{
		{&service.PlanError{Kind: service.KindInvalidRequest}, codes.InvalidArgument, http.StatusBadRequest},
		{&service.PlanError{Kind: service.KindUnknownDomain}, codes.NotFound, http.StatusNotFound},
		{&service.PlanError{Kind: service.KindUnsolvableIntent, Attempts: 3, Violations: []validator.Violation{
			{Kind: validator.ViolationUnsatisfiedPrecondition, TaskName: "book_flight", Fact: &fact},
		}}, codes.FailedPrecondition, http.StatusUnprocessableEntity},
		{&service.PlanError{Kind: service.KindGeneratorExhausted}, codes.Unavailable, http.StatusServiceUnavailable},
		{&service.PlanError{Kind: service.KindPersistenceConflict}, codes.Aborted, http.StatusConflict},
		{&service.PlanError{Kind: service.KindPersistenceUnavailable}, codes.Unavailable, http.StatusServiceUnavailable},
		{&service.PlanError{Kind: service.KindCanceled, Cause: context.DeadlineExceeded}, codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{&service.PlanError{Kind: service.KindCanceled, Cause: context.Canceled}, codes.Canceled, 499},
		{&service.PlanError{Kind: service.KindInternal}, codes.Internal, http.StatusInternalServerError},
		{fmt.Errorf("plan p9: %w", domain.ErrNotFound), codes.NotFound, http.StatusNotFound},
		{domain.ErrFrozen, codes.FailedPrecondition, http.StatusUnprocessableEntity},
		{errors.New("boom"), codes.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			st := status.Convert(MapErrorToStatus(tt.err))
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.http, HTTPStatus(tt.err))
		})
	}

	assert.NoError(t, MapErrorToStatus(nil))
	already := status.Error(codes.ResourceExhausted, "slow down")
	assert.Equal(t, already, MapErrorToStatus(already))
	assert.Equal(t, "internal error", status.Convert(MapErrorToStatus(errors.New("secret path /etc"))).Message())
}

func TestMapErrorToStatus_Details(t *testing.T) {
	fact := domain.NewFact("flights_found")
	err := &service.PlanError{
		Kind:     service.KindUnsolvableIntent,
		Message:  "no valid plan after 3 attempts",
		Attempts: 3,
		Violations: []validator.Violation{
			{Kind: validator.ViolationUnsatisfiedPrecondition, TaskName: "book_flight", Fact: &fact},
			{Kind: validator.ViolationUnknownOperator, TaskName: "teleport"},
		},
	}

	st := status.Convert(MapErrorToStatus(err))
	var info *errdetails.ErrorInfo
	var pf *errdetails.PreconditionFailure
	for _, d := range st.Details() {
		switch d := d.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.PreconditionFailure:
			pf = d
		}
	}
	require.NotNil(t, info)
	assert.Equal(t, "UnsolvableIntent", info.Reason)
	assert.Equal(t, ErrorDomain, info.Domain)
	assert.Equal(t, "3", info.Metadata["attempts"])
	require.NotNil(t, pf)
	require.Len(t, pf.Violations, 2)
	assert.Equal(t, "UnsatisfiedPrecondition", pf.Violations[0].Type)
	assert.Equal(t, "teleport", pf.Violations[1].Subject)
}
