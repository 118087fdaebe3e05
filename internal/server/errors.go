package server

import (
	"context"
	"errors"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/failure"
	"EscrowLedger/internal/ingestion"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorDomain tags the ErrorInfo detail attached to rejections.
const ErrorDomain = "escrowledger"

// toStatus maps core and domain errors onto gRPC status codes. Rejections
// carry their failure code as an ErrorInfo reason so clients can rebuild the
// *failure.Error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}

	if fe, ok := failure.As(err); ok {
		st := status.New(codeForFailure(fe), fe.Reason)
		detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
			Reason: string(fe.Code),
			Domain: ErrorDomain,
			Metadata: map[string]string{
				"kind": fe.Kind.String(),
			},
		})
		if derr != nil {
			return st.Err()
		}
		return detailed.Err()
	}

	switch {
	case errors.Is(err, ingestion.ErrMalformedCommand), errors.Is(err, core.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrStaleNonce):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, core.ErrUnsupportedCommand):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}

	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

func codeForFailure(fe *failure.Error) codes.Code {
	if fe.Code == failure.CodeOfferNotFound {
		return codes.NotFound
	}
	switch fe.Kind {
	case failure.KindAuthorization:
		return codes.PermissionDenied
	case failure.KindValue:
		return codes.InvalidArgument
	default:
		return codes.FailedPrecondition
	}
}

// FailureFromStatus rebuilds a domain rejection from a gRPC error returned by
// the ledger service. ok is false for any other error.
func FailureFromStatus(err error) (*failure.Error, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return nil, false
	}
	for _, d := range st.Details() {
		info, isInfo := d.(*errdetails.ErrorInfo)
		if !isInfo || info.Domain != ErrorDomain {
			continue
		}
		if fe := failure.FromCode(failure.Code(info.Reason), st.Message()); fe != nil {
			return fe, true
		}
	}
	return nil, false
}
