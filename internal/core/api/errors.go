package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/rowkeeper/internal/authz"
	"github.com/solatis/rowkeeper/internal/core/opa"
	"github.com/solatis/rowkeeper/internal/types"
)

// Error mapping for handlers. Auth errors are mapped in the auth package
// interceptor. Anything that prevents a decision from being enforced denies.
//
//	compile errors, invalid decisions  -> PERMISSION_DENIED
//	policy engine unreachable, store   -> UNAVAILABLE
//	policy engine rejected the request -> INTERNAL
//	missing record                     -> NOT_FOUND
//	context deadline / cancellation    -> DEADLINE_EXCEEDED / CANCELED
func statusFromError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case authz.IsCompileError(err), errors.Is(err, opa.ErrInvalidDecision), isDecisionError(err):
		return status.Error(codes.PermissionDenied, "access denied: decision could not be enforced")
	case errors.Is(err, types.ErrRecordNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, opa.ErrPolicyUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, opa.ErrPolicyRejected):
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// decisionErrors are the compiler sentinels; SQL rendering can raise them
// outside a CompileError.
var decisionErrors = []error{
	types.ErrInvalidReference,
	types.ErrUnsupportedValueType,
	types.ErrInvalidOperandUsage,
	types.ErrUnsupportedExpressionShape,
	types.ErrUnsupportedOperator,
	types.ErrUnsupportedOperatorForCollection,
	types.ErrTooManyOperands,
	types.ErrTooManyRules,
}

func isDecisionError(err error) bool {
	for _, target := range decisionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// invalidArgument reports a malformed request.
func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
