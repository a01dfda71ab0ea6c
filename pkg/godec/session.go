// Package godec exchanges typed messages with a streaming processing graph.
//
// A Session is obtained from Load and is the only way to reach the graph:
// Push feeds named inputs in FIFO order per endpoint, Pull blocks until
// every stream of a pull endpoint has produced its next message, and
// Shutdown drains the graph before releasing it.
package godec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/user/godec/pkg/message"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateLoaded State = iota + 1
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	}
	return "uninitialized"
}

// Session is a loaded graph instance.
type Session struct {
	id      string
	config  string
	engine  Engine
	log     *slog.Logger
	metrics *sessionMetrics
	lanes   *lanes
	groups  map[string]*group

	// mu is held for reading by Push while it enqueues and for writing when
	// Shutdown stops intake, so no push can race the lane close.
	mu    sync.RWMutex
	state atomic.Int32

	fault        atomic.Pointer[EngineError]
	shutdownOnce sync.Once
}

// Load instantiates config on engine with the given overrides and
// endpoints, which are frozen from then on. Nothing is returned but a
// *LoadError on failure, in which case the engine holds no graph.
func Load(ctx context.Context, engine Engine, config string, ov *Overrides, push *PushEndpoints, pull *PullEndpoints, quiet bool, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	fail := func(err error) (*Session, error) {
		return nil, &LoadError{Config: config, Err: err}
	}
	if engine == nil {
		return fail(errors.New("engine is nil"))
	}

	overrides := ov.freeze()
	pushNames, err := push.freeze()
	if err != nil {
		return fail(err)
	}
	pullMap, err := pull.freeze()
	if err != nil {
		return fail(err)
	}

	s := &Session{
		id:     uuid.New().String(),
		config: config,
		engine: engine,
		groups: make(map[string]*group, len(pullMap)),
	}
	s.log = sessionLogger(o.logger, quiet, s.id)

	s.metrics, err = newSessionMetrics(o.registerer, s.id)
	if err != nil {
		return fail(fmt.Errorf("register metrics: %w", err))
	}
	for name, streams := range pullMap {
		s.groups[name] = newGroup(name, streams, o.streamDepth, s.log, s.metrics, s.faultErr)
	}
	s.lanes = newLanes(engine, pushNames, o.laneDepth, o.maxConcurrent, s.log, s.metrics)
	s.lanes.onFault = s.fail
	s.lanes.faulted = func() bool { return s.fault.Load() != nil }

	spec := LoadSpec{
		Config:        config,
		Overrides:     overrides,
		PushEndpoints: pushNames,
		PullEndpoints: pullMap,
		Quiet:         quiet,
		Logger:        s.log,
	}
	if err := engine.Load(ctx, spec, sink{s}); err != nil {
		s.metrics.unregister()
		return fail(err)
	}

	s.state.Store(int32(StateLoaded))
	s.lanes.start()
	s.log.Info("session loaded",
		"config", config,
		"push_endpoints", len(pushNames),
		"pull_endpoints", len(pullMap),
		"overrides", len(overrides),
	)
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Config is the topology the session was loaded from.
func (s *Session) Config() string { return s.config }

func (s *Session) State() State { return State(s.state.Load()) }

// fail records the first engine fault and wakes every waiting pull.
func (s *Session) fail(endpoint string, err error) {
	ee := &EngineError{Endpoint: endpoint, Err: err}
	if !s.fault.CompareAndSwap(nil, ee) {
		s.log.Debug("additional engine failure", "endpoint", endpoint, "error", err)
		return
	}
	s.log.Error("engine failure", "endpoint", endpoint, "error", err)
	for _, g := range s.groups {
		g.wake()
	}
}

func (s *Session) faultErr() error {
	if ee := s.fault.Load(); ee != nil {
		return ee
	}
	return nil
}

// Shutdown refuses further pushes, drains the push lanes into the engine,
// shuts the engine down and then waits until every complete batch has been
// pulled. Pending pulls then wake with ErrSessionClosed and partial streams
// are discarded. If ctx ends first the session is terminated anyway and
// ctx's error is returned. Only the first call does any work.
func (s *Session) Shutdown(ctx context.Context) error {
	err := ErrSessionClosed
	s.shutdownOnce.Do(func() {
		err = s.shutdown(ctx)
	})
	return err
}

func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.state.Store(int32(StateShuttingDown))
	s.lanes.close()
	s.mu.Unlock()
	s.log.Info("shutting down")

	defer s.terminate()

	drainErr := s.lanes.drain(ctx)
	// the engine is shut down even when draining was cut short so that it
	// still releases its resources
	if err := s.engine.Shutdown(ctx); err != nil && ctx.Err() == nil {
		return &EngineError{Err: fmt.Errorf("shutdown: %w", err)}
	}
	if drainErr != nil {
		return fmt.Errorf("drain push lanes: %w", drainErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	stop := func() bool { return ctx.Err() != nil || s.fault.Load() != nil }
	unwatch := context.AfterFunc(ctx, func() {
		for _, g := range s.groups {
			g.wake()
		}
	})
	defer unwatch()
	for _, g := range s.groups {
		g.waitDrained(stop)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for final batches: %w", err)
	}
	return nil
}

func (s *Session) terminate() {
	s.lanes.cancel()
	for name, g := range s.groups {
		if n := g.close(); n > 0 {
			s.log.Info("discarded partial batch", "endpoint", name, "messages", n)
		}
	}
	s.state.Store(int32(StateTerminated))
	s.metrics.unregister()
	s.log.Info("session terminated")
}

// sink is the Engine's view of a Session.
type sink struct{ s *Session }

func (k sink) Emit(endpoint, stream string, msg message.Message) error {
	s := k.s
	if s.State() == StateTerminated {
		return ErrSessionClosed
	}
	if msg == nil {
		return errors.New("emit: nil message")
	}
	var targets []*group
	if endpoint != "" {
		g, ok := s.groups[endpoint]
		if !ok {
			return &UnknownEndpointError{Kind: "pull", Endpoint: endpoint}
		}
		if !g.has(stream) {
			return &UnknownEndpointError{Kind: "stream", Endpoint: endpoint + "/" + stream}
		}
		targets = append(targets, g)
	} else {
		for _, g := range s.groups {
			if g.has(stream) {
				targets = append(targets, g)
			}
		}
		if len(targets) == 0 {
			return &UnknownEndpointError{Kind: "stream", Endpoint: stream}
		}
	}
	for _, g := range targets {
		if err := g.emit(stream, msg); err != nil {
			if errors.Is(err, ErrOutOfOrder) {
				s.fail(g.endpoint, err)
			}
			return err
		}
	}
	return nil
}

func (k sink) Fail(err error) {
	if err != nil {
		k.s.fail("", err)
	}
}
