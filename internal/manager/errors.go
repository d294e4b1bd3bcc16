package manager

import (
	"fmt"
	"net/http"

	"inferd/pkg/types"
)

// modelNotFoundError signals a model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string   { return "model not found: " + e.id }
func (e modelNotFoundError) StatusCode() int { return http.StatusNotFound }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// alreadyLoadingError rejects a load for a model whose load is in progress.
// Loads are rejected, not queued.
type alreadyLoadingError struct{ id string }

func (e alreadyLoadingError) Error() string   { return "model already loading: " + e.id }
func (e alreadyLoadingError) StatusCode() int { return http.StatusConflict }

// IsAlreadyLoading reports whether err rejects a duplicate in-flight load.
func IsAlreadyLoading(err error) bool {
	_, ok := err.(alreadyLoadingError)
	return ok
}

// alreadyLoadedError rejects a load for a model that is already resident.
type alreadyLoadedError struct{ id string }

func (e alreadyLoadedError) Error() string   { return "model already loaded: " + e.id }
func (e alreadyLoadedError) StatusCode() int { return http.StatusConflict }

// IsAlreadyLoaded reports whether err rejects a load of a resident model.
func IsAlreadyLoaded(err error) bool {
	_, ok := err.(alreadyLoadedError)
	return ok
}

// notLoadedError rejects unload/set-active on a model that is not resident.
type notLoadedError struct {
	id    string
	state types.ModelState
}

func (e notLoadedError) Error() string {
	return fmt.Sprintf("model not loaded: %s (state %s)", e.id, e.state)
}
func (e notLoadedError) StatusCode() int { return http.StatusConflict }

// IsNotLoaded reports whether err indicates the model is not resident.
func IsNotLoaded(err error) bool {
	_, ok := err.(notLoadedError)
	return ok
}

// stateConflictError covers residual transition conflicts, e.g. loading a
// model that is mid-unload.
type stateConflictError struct {
	id    string
	op    string
	state types.ModelState
}

func (e stateConflictError) Error() string {
	return fmt.Sprintf("cannot %s %s while %s", e.op, e.id, e.state)
}
func (e stateConflictError) StatusCode() int { return http.StatusConflict }

// IsStateConflict reports whether err is a lifecycle state conflict.
func IsStateConflict(err error) bool {
	_, ok := err.(stateConflictError)
	return ok
}

// capacityError signals that the capacity guard denied a load.
type capacityError struct {
	id     string
	reason string
}

func (e capacityError) Error() string   { return "capacity denied for " + e.id + ": " + e.reason }
func (e capacityError) StatusCode() int { return http.StatusInsufficientStorage }

// ErrCapacityDenied constructs a capacityError.
func ErrCapacityDenied(id, reason string) error { return capacityError{id: id, reason: reason} }

// IsCapacityDenied reports whether err is a capacity guard denial.
func IsCapacityDenied(err error) bool {
	_, ok := err.(capacityError)
	return ok
}

// noActiveModelError rejects inference when no model carries the active
// marker.
type noActiveModelError struct{}

func (noActiveModelError) Error() string   { return "no active model" }
func (noActiveModelError) StatusCode() int { return http.StatusConflict }

// IsNoActiveModel reports whether err indicates an empty active slot.
func IsNoActiveModel(err error) bool {
	_, ok := err.(noActiveModelError)
	return ok
}

// loadFailedError wraps a runtime load failure; the model parks in the
// failed state until the next load attempt acknowledges it.
type loadFailedError struct {
	id    string
	cause error
}

func (e loadFailedError) Error() string { return "load failed for " + e.id + ": " + e.cause.Error() }
func (e loadFailedError) Unwrap() error { return e.cause }

// IsLoadFailed reports whether err wraps a runtime load failure.
func IsLoadFailed(err error) bool {
	_, ok := err.(loadFailedError)
	return ok
}

// tooBusyError signals admission timeout/overflow for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string   { return "too busy: generation slots exhausted" }
func (tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	_, ok := err.(tooBusyError)
	return ok
}

// dependencyUnavailableError signals a missing external dependency (e.g. a
// binary built without the llama tag) so the HTTP layer can return 503
// instead of 500.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string   { return e.msg }
func (e dependencyUnavailableError) StatusCode() int { return http.StatusServiceUnavailable }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing or failed
// runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
