package godec

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every operation once Shutdown has begun
	// (for Push) or finished (for Pull), and by a second Shutdown.
	ErrSessionClosed = errors.New("session closed")
	// ErrTimeout is the non-failure outcome of a Pull whose deadline passed
	// before every stream produced.
	ErrTimeout = errors.New("pull timed out")
	// ErrConcurrentPull rejects a Pull on an endpoint that already has one in flight.
	ErrConcurrentPull = errors.New("concurrent pull on endpoint")
	// ErrFrozen is returned when a registry or override set is modified after Load consumed it.
	ErrFrozen = errors.New("already consumed by load")
	// ErrAlreadyLoaded is returned by engines that are already bound to a live session.
	ErrAlreadyLoaded = errors.New("engine already loaded")
	// ErrOutOfOrder marks an emitted message older than its predecessor on the same stream.
	ErrOutOfOrder = errors.New("message time went backwards")
)

// LoadError wraps every failure of Load. No Session exists when it is returned.
type LoadError struct {
	Config string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %q: %v", e.Config, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UnknownEndpointError reports a push or pull endpoint name that was never registered.
type UnknownEndpointError struct {
	Kind     string // "push", "pull" or "stream"
	Endpoint string
}

func (e *UnknownEndpointError) Error() string {
	return fmt.Sprintf("unknown %s endpoint %q", e.Kind, e.Endpoint)
}

// EngineError carries an internal Engine failure. Once reported, every
// later Push and Pull returns it.
type EngineError struct {
	Endpoint string
	Err      error
}

func (e *EngineError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("engine failure: %v", e.Err)
	}
	return fmt.Sprintf("engine failure on %q: %v", e.Endpoint, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is the Pull timeout outcome.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsEngineFault reports whether err came from the Engine rather than the caller.
func IsEngineFault(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
