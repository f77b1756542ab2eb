package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/endpoint"
	"github.com/example/hybridplanner/internal/storage"
)

// Client calls a remote planner.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for target.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// CreatePlan requests a plan.
func (c *Client) CreatePlan(ctx context.Context, body endpoint.PlanBody) (*endpoint.PlanResponse, error) {
	var out endpoint.PlanResponse
	if err := c.invoke(ctx, "CreatePlan", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Replan requests a new version of a lineage.
func (c *Client) Replan(ctx context.Context, body endpoint.ReplanBody) (*endpoint.PlanResponse, error) {
	var out endpoint.PlanResponse
	if err := c.invoke(ctx, "Replan", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPlan fetches a stored plan.
func (c *Client) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var out planEnvelope
	if err := c.invoke(ctx, "GetPlan", planIDRequest{PlanID: planID}, &out); err != nil {
		return nil, err
	}
	return out.Plan, nil
}

// ListVersions lists a lineage's versions, oldest first.
func (c *Client) ListVersions(ctx context.Context, lineageID string) ([]storage.VersionInfo, error) {
	var out versionsEnvelope
	if err := c.invoke(ctx, "ListVersions", lineageRequest{LineageID: lineageID}, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp); err != nil {
		return err
	}
	if err := decodeStruct(resp, out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
