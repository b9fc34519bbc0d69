package apperrors

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type ErrorClass int

const (
	ClassInternal ErrorClass = iota
	ClassValidation
	ClassNotFound
	ClassUpstream
)

// ClassifiedError pairs an internal error with the sanitized message and
// HTTP status the boundary may expose.
type ClassifiedError struct {
	Class         ErrorClass
	Status        int
	InternalError error
	ClientMessage string
	OperationName string
}

// ErrorClassifier maps domain sentinel errors onto HTTP semantics and logs
// the internal detail that must not reach the client.
type ErrorClassifier struct {
	logger *slog.Logger
}

func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logger}
}

func (ec *ErrorClassifier) Classify(err error, operation string) *ClassifiedError {
	classified := &ClassifiedError{
		InternalError: err,
		OperationName: operation,
	}

	switch {
	case errors.Is(err, ErrConnectionNotFound), errors.Is(err, ErrSubjectNotFound):
		classified.Class = ClassNotFound
		classified.Status = http.StatusNotFound
		classified.ClientMessage = "The requested resource was not found."
	case errors.Is(err, ErrUnsupportedProvider), errors.Is(err, ErrMappingNotFound), errors.Is(err, ErrInvalidInput):
		classified.Class = ClassValidation
		classified.Status = http.StatusBadRequest
		classified.ClientMessage = "The request contains invalid parameters."
	case errors.Is(err, ErrConnectorUnavailable):
		classified.Class = ClassUpstream
		classified.Status = http.StatusBadGateway
		classified.ClientMessage = "The upstream system is unavailable. Please try again later."
	default:
		classified.Class = ClassInternal
		classified.Status = http.StatusInternalServerError
		classified.ClientMessage = "An unexpected internal error occurred."
	}

	return classified
}

// LogAndStatus logs the internal error and returns the status plus the
// message safe for the response body.
func (ec *ErrorClassifier) LogAndStatus(ctx context.Context, classified *ClassifiedError) (int, string) {
	ec.logger.ErrorContext(ctx, "operation failed",
		"operation", classified.OperationName,
		"error_class", int(classified.Class),
		"internal_error", classified.InternalError.Error(),
	)
	return classified.Status, classified.ClientMessage
}
