package grpc

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/service"
	"github.com/example/hybridplanner/internal/storage"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "planner.v1.Planner"

var errPanic = errors.New("panic in handler")

// PlannerServer is the server API for the planner service. Messages are
// google.protobuf.Struct values carrying the same JSON documents the HTTP
// API accepts.
type PlannerServer interface {
	CreatePlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPlan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListVersions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Replan(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var plannerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlannerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreatePlan", Handler: unaryHandler("CreatePlan", PlannerServer.CreatePlan)},
		{MethodName: "GetPlan", Handler: unaryHandler("GetPlan", PlannerServer.GetPlan)},
		{MethodName: "ListVersions", Handler: unaryHandler("ListVersions", PlannerServer.ListVersions)},
		{MethodName: "Replan", Handler: unaryHandler("Replan", PlannerServer.Replan)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "planner/v1/planner.proto",
}

type unaryMethod func(PlannerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PlannerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PlannerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type planIDRequest struct {
	PlanID string `json:"planId"`
}

type lineageRequest struct {
	LineageID string `json:"lineageId"`
}

type planEnvelope struct {
	Plan *domain.Plan `json:"plan"`
}

type versionsEnvelope struct {
	Versions []storage.VersionInfo `json:"versions"`
}

// CreatePlan implements the CreatePlan RPC.
func (s *Server) CreatePlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body endpoint.PlanBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	req, err := body.ToRequest()
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	resp, err := s.endpoints.CreatePlan(ctx, req)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(endpoint.NewPlanResponse(resp.(*service.PlanResult)))
}

// GetPlan implements the GetPlan RPC.
func (s *Server) GetPlan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req planIDRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.endpoints.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(planEnvelope{Plan: resp.(*domain.Plan)})
}

// ListVersions implements the ListVersions RPC.
func (s *Server) ListVersions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req lineageRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	resp, err := s.endpoints.ListVersions(ctx, req.LineageID)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(versionsEnvelope{Versions: resp.([]storage.VersionInfo)})
}

// Replan implements the Replan RPC.
func (s *Server) Replan(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body endpoint.ReplanBody
	if err := fromStruct(in, &body); err != nil {
		return nil, err
	}
	req, err := body.ToRequest()
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	resp, err := s.endpoints.Replan(ctx, req)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(endpoint.NewPlanResponse(resp.(*service.PlanResult)))
}

func fromStruct(in *structpb.Struct, v any) error {
	if err := decodeStruct(in, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

// decodeStruct goes through encoding/json rather than protojson so large
// whole numbers such as durations are written without an exponent.
func decodeStruct(in *structpb.Struct, v any) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
