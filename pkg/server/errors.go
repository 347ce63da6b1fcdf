package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"poolselect/pkg/command"
	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
)

var errNoReplicas = errors.New("no replica repository configured")

// toStatus maps package errors onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, selection.ErrNotFound), errors.Is(err, replica.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, selection.ErrAlreadyExists), errors.Is(err, replica.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, command.ErrSyntax),
		errors.Is(err, selection.ErrMalformedInput),
		errors.Is(err, replica.ErrMalformedInput):
		code = codes.InvalidArgument
	case errors.Is(err, selection.ErrConfigurationReference),
		errors.Is(err, replica.ErrIllegalTransition),
		errors.Is(err, errNoReplicas):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
