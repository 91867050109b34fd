// internal/domain/geo/errors.go

package geo

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned when the user declined location access
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrPositionTimeout is returned when the provider did not answer in time
	ErrPositionTimeout = errors.New("position request timed out")
)

// WatchError reports a failure of a running watch subscription.
// It is distinct from a failed one-shot read.
type WatchError struct {
	Source string
	Err    error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Source, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}
