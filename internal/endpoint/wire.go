package endpoint

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/service"
)

// PlanBody is the JSON shape of a plan request shared by the HTTP and
// gRPC transports.
type PlanBody struct {
	Intent          string            `json:"intent"`
	Context         map[string]string `json:"context,omitempty"`
	DomainID        string            `json:"domainId"`
	DomainVersion   uint64            `json:"domainVersion,omitempty"`
	MaxAttempts     int               `json:"maxAttempts,omitempty"`
	Timeout         string            `json:"timeout,omitempty"`
	ExpectedVersion int64             `json:"expectedVersion,omitempty"`
}

// ReplanBody is the JSON shape of a replan request.
type ReplanBody struct {
	LineageID       string            `json:"lineageId"`
	Intent          string            `json:"intent,omitempty"`
	Context         map[string]string `json:"context,omitempty"`
	DomainVersion   uint64            `json:"domainVersion,omitempty"`
	MaxAttempts     int               `json:"maxAttempts,omitempty"`
	Timeout         string            `json:"timeout,omitempty"`
	ExpectedVersion int64             `json:"expectedVersion,omitempty"`
}

// PlanResponse wraps an accepted plan.
type PlanResponse struct {
	Plan   *domain.Plan `json:"plan"`
	Source string       `json:"source"`
	States []string     `json:"states,omitempty"`
}

// ErrorBody is returned by the HTTP transport for failed requests.
type ErrorBody struct {
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Attempts   int      `json:"attempts,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// ToRequest converts the body into a service request.
func (b PlanBody) ToRequest() (*service.PlanRequest, error) {
	timeout, err := parseTimeout(b.Timeout)
	if err != nil {
		return nil, err
	}
	return &service.PlanRequest{
		Intent:          b.Intent,
		Context:         b.Context,
		DomainID:        b.DomainID,
		DomainVersion:   b.DomainVersion,
		MaxAttempts:     b.MaxAttempts,
		Timeout:         timeout,
		ExpectedVersion: b.ExpectedVersion,
	}, nil
}

// ToRequest converts the body into a replan request.
func (b ReplanBody) ToRequest() (*ReplanRequest, error) {
	timeout, err := parseTimeout(b.Timeout)
	if err != nil {
		return nil, err
	}
	return &ReplanRequest{
		LineageID: b.LineageID,
		ReplanRequest: service.ReplanRequest{
			Intent:          b.Intent,
			Context:         b.Context,
			DomainVersion:   b.DomainVersion,
			MaxAttempts:     b.MaxAttempts,
			Timeout:         timeout,
			ExpectedVersion: b.ExpectedVersion,
		},
	}, nil
}

// NewPlanResponse renders a service result.
func NewPlanResponse(res *service.PlanResult) *PlanResponse {
	resp := &PlanResponse{Plan: res.Plan, Source: res.Source.String()}
	for _, s := range res.States {
		resp.States = append(resp.States, s.String())
	}
	return resp
}

// NewErrorBody renders err for HTTP clients. Internal failures are masked.
func NewErrorBody(err error) *ErrorBody {
	var pe *service.PlanError
	if !errors.As(err, &pe) {
		msg := err.Error()
		if st, ok := status.FromError(err); ok {
			msg = st.Message()
		}
		if HTTPStatus(err) >= 500 {
			msg = "internal error"
		}
		kind := Code(err).String()
		if Code(err) == codes.InvalidArgument {
			kind = string(service.KindInvalidRequest)
		}
		return &ErrorBody{Kind: kind, Message: msg}
	}
	body := &ErrorBody{Kind: string(pe.Kind), Message: pe.Message, Attempts: pe.Attempts}
	if pe.Kind == service.KindInternal {
		body.Message = "internal error"
	}
	for _, v := range pe.Violations {
		body.Violations = append(body.Violations, v.String())
	}
	return body
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: timeout %q: %v", domain.ErrInvalidArgument, s, err)
	}
	return d, nil
}
