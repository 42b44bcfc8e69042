package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrUntokenizedTarget = fmt.Errorf("%w: target has no tokenized profile", ErrValidation)
	ErrSelfInvestment    = fmt.Errorf("%w: cannot invest in own profile", ErrValidation)

	ErrRemoteService = errors.New("remote service error")

	ErrAlreadyPending   = errors.New("investment request already pending for target")
	ErrDecisionInFlight = errors.New("decision already in flight for notification")
	ErrAlreadyResolved  = errors.New("notification already resolved")

	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrNotFound = errors.New("not found")
)

// RemoteError is a non-success response from the remote service.
// Status is zero for transport failures.
type RemoteError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Detail)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *RemoteError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRemoteService, e.Err}
	}
	return []error{ErrRemoteService}
}

// Validationf builds an ErrValidation with a specific message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind names the taxonomy bucket of err for rendering to the user.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUntokenizedTarget):
		return "UntokenizedTarget"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrAlreadyPending):
		return "AlreadyPending"
	case errors.Is(err, ErrDecisionInFlight):
		return "DecisionInFlight"
	case errors.Is(err, ErrAlreadyResolved):
		return "AlreadyResolved"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	case errors.Is(err, ErrRemoteService):
		return "RemoteServiceError"
	default:
		return "InternalError"
	}
}

// RemoteDetail returns the remote-supplied message carried by err, if any.
func RemoteDetail(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Detail
	}
	return ""
}
