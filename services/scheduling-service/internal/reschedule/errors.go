package reschedule

import (
	"errors"
	"fmt"
	"strings"
)

// The engine surfaces four failure classes. Validation, not-found and
// conflict are typed below; anything else bubbling up from the store is an
// upstream failure the handler maps to an internal error.

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError means the requested slot is not bookable right now: the
// worker is inactive, the time is outside open hours, or a job overlaps.
type ConflictError struct {
	Reason    string
	Conflicts []string // titles/ids of overlapping jobs, when that is the cause
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) > 0 {
		return fmt.Sprintf("slot not available: %s (%s)", e.Reason, strings.Join(e.Conflicts, ", "))
	}
	return "slot not available: " + e.Reason
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
