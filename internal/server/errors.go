package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/tubetrust/internal/apperr"
	"github.com/jonathan/tubetrust/internal/pipeline"
	"github.com/jonathan/tubetrust/internal/queue"
	"github.com/jonathan/tubetrust/internal/store"
	"github.com/jonathan/tubetrust/internal/submission"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts validator output into an ErrValidation for the
// first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ErrValidation{Field: fe.Field(), Message: fmt.Sprintf("failed on the %q rule", fe.Tag())}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var verr *ErrValidation
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrJobBusy):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoCachedTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, submission.ErrQueueFull), errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, submission.ErrMissingCredential):
		return http.StatusInternalServerError
	}

	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindContentTooLong:
		return http.StatusUnprocessableEntity
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the message sent to clients. Unclassified errors are not
// echoed back.
func publicMessage(err error, status int) string {
	if e, ok := apperr.As(err); ok && e.Kind == apperr.KindInvalidInput {
		return e.Message
	}
	if status == http.StatusInternalServerError && !errors.Is(err, submission.ErrMissingCredential) {
		return "internal server error"
	}
	if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrStopped) {
		return submission.ErrQueueFull.Error()
	}
	return err.Error()
}
