package endpoint

import (
	"time"
	"unicode/utf8"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/hybridplanner/internal/service"
)

const (
	maxIntentLength  = 4096
	maxContextKeys   = 128
	maxContextLength = 1024
	maxTimeout       = 30 * time.Minute
)

func validatePlanRequest(req *service.PlanRequest) error {
	if req.Intent == "" {
		return status.Error(codes.InvalidArgument, "intent is required")
	}
	if err := validateIntent(req.Intent); err != nil {
		return err
	}
	if req.DomainID == "" {
		return status.Error(codes.InvalidArgument, "domain_id is required")
	}
	if err := validateContext(req.Context); err != nil {
		return err
	}
	return validateLimits(req.MaxAttempts, req.Timeout)
}

func validateReplanRequest(req *ReplanRequest) error {
	if req.LineageID == "" {
		return status.Error(codes.InvalidArgument, "lineage_id is required")
	}
	if req.Intent != "" {
		if err := validateIntent(req.Intent); err != nil {
			return err
		}
	}
	if err := validateContext(req.Context); err != nil {
		return err
	}
	if req.ExpectedVersion < 0 {
		return status.Error(codes.InvalidArgument, "expected_version must not be negative")
	}
	return validateLimits(req.MaxAttempts, req.Timeout)
}

func validateIntent(intent string) error {
	if !utf8.ValidString(intent) {
		return status.Error(codes.InvalidArgument, "intent must be valid UTF-8")
	}
	if len(intent) > maxIntentLength {
		return status.Errorf(codes.InvalidArgument, "intent exceeds %d bytes", maxIntentLength)
	}
	return nil
}

func validateContext(ctx map[string]string) error {
	if len(ctx) > maxContextKeys {
		return status.Errorf(codes.InvalidArgument, "context has more than %d entries", maxContextKeys)
	}
	for k, v := range ctx {
		if k == "" {
			return status.Error(codes.InvalidArgument, "context keys must not be empty")
		}
		if len(k) > maxContextLength || len(v) > maxContextLength {
			return status.Errorf(codes.InvalidArgument, "context[%s]: entries are limited to %d bytes", k, maxContextLength)
		}
	}
	return nil
}

func validateLimits(maxAttempts int, timeout time.Duration) error {
	if maxAttempts < 0 {
		return status.Error(codes.InvalidArgument, "max_attempts must not be negative")
	}
	if timeout < 0 || timeout > maxTimeout {
		return status.Errorf(codes.InvalidArgument, "timeout must be between 0 and %s", maxTimeout)
	}
	return nil
}
