package qdrant

import (
	"github.com/pkg/errors"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Retryable treats unavailability, rate limiting and aborted operations as
// transient.
func Retryable(err error) bool {
	var exhausted *qdrant.QdrantResourceExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}
	switch grpcCode(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted, codes.DeadlineExceeded:
		return true
	}
	return false
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Unknown
}

func isAlreadyExists(err error) bool {
	return grpcCode(err) == codes.AlreadyExists
}

func isNotFound(err error) bool {
	return grpcCode(err) == codes.NotFound
}
