package loopback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/godec/pkg/godec"
	"github.com/user/godec/pkg/message"
)

// Engine runs one worker goroutine per route. It serves a single Session at
// a time; a second Load while loaded fails with godec.ErrAlreadyLoaded.
type Engine struct {
	registry *Registry
	depth    int

	mu       sync.RWMutex
	loaded   bool
	closed   bool
	log      *slog.Logger
	byInput  map[string][]*worker
	workers  []*worker
	group    *errgroup.Group
	topology *Topology
}

type worker struct {
	route Route
	op    Op
	in    chan message.Message
	// pulled is false when no pull endpoint aggregates the route's stream;
	// its output is then dropped.
	pulled bool
	// sink and log belong to the session that started the worker, so a
	// worker outliving its session never reaches the next one.
	sink godec.Sink
	log  *slog.Logger
}

// New returns an Engine using registry for ops; nil means NewRegistry().
func New(registry *Registry) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry, depth: 16}
}

// Topology returns the table the engine was loaded with.
func (e *Engine) Topology() *Topology {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.topology
}

func (e *Engine) Load(_ context.Context, spec godec.LoadSpec, sink godec.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return godec.ErrAlreadyLoaded
	}

	topo, err := LoadTopology(spec.Config)
	if err != nil {
		return err
	}
	if err := topo.ApplyOverrides(spec.Overrides); err != nil {
		return err
	}
	if err := topo.Bind(spec.PushEndpoints, spec.PullEndpoints); err != nil {
		return err
	}

	pulled := make(map[string]bool)
	for _, streams := range spec.PullEndpoints {
		for _, s := range streams {
			pulled[s] = true
		}
	}

	byInput := make(map[string][]*worker)
	var workers []*worker
	for _, r := range topo.Routes {
		op, err := e.registry.Build(r.Op, r.Params)
		if err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}
		w := &worker{route: r, op: op, in: make(chan message.Message, e.depth), pulled: pulled[r.Stream]}
		byInput[r.Input] = append(byInput[r.Input], w)
		workers = append(workers, w)
	}

	e.log = spec.Logger
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("engine", "loopback")
	for _, w := range workers {
		w.sink, w.log = sink, e.log
	}
	e.byInput = byInput
	e.workers = workers
	e.topology = topo
	e.loaded, e.closed = true, false
	e.group = &errgroup.Group{}
	for _, w := range workers {
		e.group.Go(func() error { return e.run(w) })
	}
	e.log.Debug("loopback loaded", "routes", len(workers))
	return nil
}

// run applies the route op to every input. After the first failure the
// remaining input is consumed and dropped so pushers never block.
func (e *Engine) run(w *worker) error {
	var failed error
	for msg := range w.in {
		if failed != nil {
			continue
		}
		out, err := w.op(msg)
		if err != nil {
			failed = fmt.Errorf("route %q: %w", w.route.Name, err)
			w.sink.Fail(failed)
			continue
		}
		if !w.pulled {
			w.log.Debug("dropping output of unpulled stream", "route", w.route.Name, "stream", w.route.Stream)
			continue
		}
		if err := w.sink.Emit("", w.route.Stream, out); err != nil {
			failed = fmt.Errorf("route %q: emit: %w", w.route.Name, err)
			w.sink.Fail(failed)
		}
	}
	return failed
}

// Push hands msg to every route reading endpoint.
func (e *Engine) Push(ctx context.Context, endpoint string, msg message.Message) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.loaded || e.closed {
		return godec.ErrSessionClosed
	}
	workers, ok := e.byInput[endpoint]
	if !ok {
		return &godec.UnknownEndpointError{Kind: "push", Endpoint: endpoint}
	}
	for _, w := range workers {
		select {
		case w.in <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Shutdown closes every route input and waits until the workers have
// emitted everything they hold. The engine can be loaded again once every
// worker has exited; if ctx ends first Shutdown returns early and Load keeps
// failing with godec.ErrAlreadyLoaded until the workers are done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.loaded || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.in)
	}
	group, log := e.group, e.log
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := group.Wait()
		e.mu.Lock()
		e.loaded = false
		e.byInput, e.workers = nil, nil
		e.mu.Unlock()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Warn("shutdown cut short, workers still draining", "error", ctx.Err())
		return ctx.Err()
	}
}
