package godec

import (
	"context"
	"log/slog"

	"github.com/user/godec/pkg/message"
)

// Engine is the processing graph a Session drives. Implementations run
// their own goroutines and report output through the Sink given to Load.
type Engine interface {
	// Load instantiates the graph. It must not emit before returning nil.
	Load(ctx context.Context, spec LoadSpec, sink Sink) error
	// Push hands one message to the input bound to endpoint. Calls for one
	// endpoint are never concurrent and arrive in push order.
	Push(ctx context.Context, endpoint string, msg message.Message) error
	// Shutdown stops input, drains everything in flight through the graph
	// and releases resources. No Emit may happen after it returns.
	Shutdown(ctx context.Context) error
}

// Sink receives Engine output.
type Sink interface {
	// Emit queues msg on stream for every pull endpoint that aggregates it.
	// endpoint restricts delivery to one pull endpoint when not empty.
	Emit(endpoint, stream string, msg message.Message) error
	// Fail reports an internal failure. The first one is kept and returned
	// by every later Push and Pull.
	Fail(err error)
}

// LoadSpec is everything Load hands to the Engine.
type LoadSpec struct {
	Config        string
	Overrides     map[string]any
	PushEndpoints []string
	PullEndpoints map[string][]string
	Quiet         bool
	Logger        *slog.Logger
}
