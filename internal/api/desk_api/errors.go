package desk_api

import (
	"context"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/BearBump/FreightDesk/internal/models"
)

// errorCodeKey carries models.ErrorCode to gateway clients in the gRPC trailer.
const errorCodeKey = "x-error-code"

// GRPCCode maps engine errors onto gRPC codes.
func GRPCCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, models.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrOutOfOrderMilestone),
		errors.Is(err, models.ErrCarrierLocked):
		return codes.FailedPrecondition
	case errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrUnknownCarrier):
		return codes.InvalidArgument
	case errors.Is(err, models.ErrDependencyUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

// HTTPStatus maps engine errors onto HTTP statuses.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return httpStatusFromCode(GRPCCode(err))
}

// httpStatusFromCode follows the gateway table except that state conflicts
// answer 409.
func httpStatusFromCode(c codes.Code) int {
	if c == codes.FailedPrecondition {
		return http.StatusConflict
	}
	return runtime.HTTPStatusFromCode(c)
}

// ErrorInterceptor turns engine errors into gRPC statuses and records the
// machine-readable code in the trailer.
func ErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		code := models.ErrorCode(err)
		if _, ok := status.FromError(err); ok && code == "internal" {
			return nil, err
		}
		_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeKey, code))
		return nil, status.Error(GRPCCode(err), err.Error())
	}
}
