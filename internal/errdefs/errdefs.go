// Package errdefs defines the error classes shared across warden. Callers
// classify failures with the Is helpers instead of matching error strings,
// and the HTTP layer maps each class to a status code.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks input rejected before any side effect.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks an operation that cannot run in the current state,
	// including a lifecycle transition already in flight.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a missing job, version or resource.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a degraded external dependency (vendor API,
	// download host). Callers fall back to cached data where they can.
	ErrUnavailable = errors.New("unavailable")
	// ErrInternal marks a fatal local failure (spawn, extraction, disk).
	ErrInternal = errors.New("internal error")
)

func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func Unavailablef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnavailable)...)
}

func Internalf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInternal)...)
}

func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }
func IsConflict(err error) bool        { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool        { return errors.Is(err, ErrNotFound) }
func IsUnavailable(err error) bool     { return errors.Is(err, ErrUnavailable) }
func IsInternal(err error) bool        { return errors.Is(err, ErrInternal) }

// Code returns a short machine-readable code for the error class, used in
// install progress reports and API error envelopes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInvalidArgument(err):
		return "invalid_argument"
	case IsConflict(err):
		return "conflict"
	case IsNotFound(err):
		return "not_found"
	case IsUnavailable(err):
		return "unavailable"
	default:
		return "internal"
	}
}
