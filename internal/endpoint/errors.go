package endpoint

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"

	"github.com/example/hybridplanner/internal/domain"
	"github.com/example/hybridplanner/internal/service"
)

// ErrorDomain tags ErrorInfo details attached to planner statuses.
const ErrorDomain = "planner.example.com"

// MapErrorToStatus maps service and domain errors to gRPC status errors.
// Planning failures carry an ErrorInfo detail with the failure kind and,
// when validation rejected candidates, a PreconditionFailure listing the
// violations.
func MapErrorToStatus(err error) error {
	if err == nil {
		return nil
	}

	// Already a gRPC status error
	if _, ok := status.FromError(err); ok {
		return err
	}

	var pe *service.PlanError
	if !errors.As(err, &pe) {
		code := Code(err)
		if code == codes.Internal {
			return status.Error(codes.Internal, "internal error")
		}
		return status.Error(code, err.Error())
	}

	code := Code(err)
	msg := pe.Error()
	if code == codes.Internal {
		msg = "internal error"
	}
	st := status.New(code, msg)
	details := []protoadapt.MessageV1{
		&errdetails.ErrorInfo{
			Reason: string(pe.Kind),
			Domain: ErrorDomain,
			Metadata: map[string]string{
				"attempts": strconv.Itoa(pe.Attempts),
			},
		},
	}
	if len(pe.Violations) > 0 {
		pf := &errdetails.PreconditionFailure{}
		for _, v := range pe.Violations {
			pf.Violations = append(pf.Violations, &errdetails.PreconditionFailure_Violation{
				Type:        string(v.Kind),
				Subject:     v.TaskName,
				Description: v.String(),
			})
		}
		details = append(details, pf)
	}
	if withDetails, derr := st.WithDetails(details...); derr == nil {
		st = withDetails
	}
	return st.Err()
}

// Code classifies err as a gRPC code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}

	var pe *service.PlanError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case service.KindInvalidRequest:
			return codes.InvalidArgument
		case service.KindUnknownDomain:
			return codes.NotFound
		case service.KindUnsolvableIntent:
			return codes.FailedPrecondition
		case service.KindGeneratorExhausted, service.KindPersistenceUnavailable:
			return codes.Unavailable
		case service.KindPersistenceConflict:
			return codes.Aborted
		case service.KindCanceled:
			if errors.Is(err, context.DeadlineExceeded) {
				return codes.DeadlineExceeded
			}
			return codes.Canceled
		default:
			return codes.Internal
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownDomain):
		return codes.NotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrCyclicDependency):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrFrozen):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateDefinition):
		return codes.AlreadyExists
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
