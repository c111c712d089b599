package models

import (
	"github.com/pkg/errors"
)

var (
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrOutOfOrderMilestone   = errors.New("out of order milestone")
	ErrCarrierLocked         = errors.New("carrier locked")
	ErrNotFound              = errors.New("not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrUnknownCarrier        = errors.New("unknown carrier")

	// ErrVersionConflict is returned by stores when a compare-and-set lost a race.
	ErrVersionConflict = errors.New("version conflict")
)

// DependencyError wraps a failure of persistence or of an external service.
type DependencyError struct {
	Op  string
	Err error
}

func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DependencyError{Op: op, Err: err}
}

func (e *DependencyError) Error() string {
	return e.Op + ": " + ErrDependencyUnavailable.Error() + ": " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error { return e.Err }

func (e *DependencyError) Is(target error) bool { return target == ErrDependencyUnavailable }

// ErrorCode is a stable machine-readable name of a domain error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOutOfOrderMilestone):
		return "out_of_order_milestone"
	case errors.Is(err, ErrCarrierLocked):
		return "carrier_locked"
	case errors.Is(err, ErrUnknownCarrier):
		return "unknown_carrier"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency_unavailable"
	}
	return "internal"
}
