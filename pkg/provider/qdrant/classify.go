package qdrant

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/strataio/strata/pkg/strataerrors"
)

// classify maps a gRPC error into the normalized taxonomy by status code.
// Unrecognized codes stay PROVIDER with the original error retained as cause.
func classify(err error, msg string) *strataerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
	}

	if st, ok := status.FromError(err); ok {
		return strataerrors.Wrap(err, kindForCode(st.Code()), msg).
			WithDetail("grpc_code", st.Code().String())
	}

	return strataerrors.Wrap(err, strataerrors.KindProvider, msg)
}

func kindForCode(code codes.Code) strataerrors.Kind {
	switch code {
	case codes.NotFound:
		return strataerrors.KindNotFound
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return strataerrors.KindInvalidInput
	case codes.DeadlineExceeded:
		return strataerrors.KindTimeout
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied:
		return strataerrors.KindConnection
	default:
		return strataerrors.KindProvider
	}
}
