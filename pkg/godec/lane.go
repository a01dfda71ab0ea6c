package godec

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/godec/pkg/message"
)

// lanes owns one FIFO channel and goroutine per push endpoint. The shared
// semaphore limits how many endpoints are inside Engine.Push at once, so
// order holds within an endpoint while endpoints proceed in parallel.
type lanes struct {
	engine    Engine
	semaphore *semaphore.Weighted
	byName    map[string]*lane
	onFault   func(endpoint string, err error)
	faulted   func() bool
	log       *slog.Logger
	metrics   *sessionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lane struct {
	endpoint string
	ch       chan message.Message

	// mu orders the tracker check, sequence number and channel send so
	// concurrent pushers never interleave.
	mu      sync.Mutex
	seq     uint64
	tracker *message.ConversationTracker
}

func newLanes(engine Engine, names []string, depth int, maxConcurrent int64, log *slog.Logger, m *sessionMetrics) *lanes {
	ctx, cancel := context.WithCancel(context.Background())
	l := &lanes{
		engine:    engine,
		semaphore: semaphore.NewWeighted(maxConcurrent),
		byName:    make(map[string]*lane, len(names)),
		log:       log,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, name := range names {
		l.byName[name] = &lane{
			endpoint: name,
			ch:       make(chan message.Message, depth),
			tracker:  message.NewConversationTracker(),
		}
	}
	return l
}

func (l *lanes) start() {
	for _, ln := range l.byName {
		l.wg.Add(1)
		go l.process(ln)
	}
}

// enqueue validates msg against what the endpoint has already accepted and
// queues it. It blocks only while the lane is full.
func (l *lanes) enqueue(ctx context.Context, ln *lane, msg message.Message) (uint64, error) {
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if err := ln.tracker.Check(msg); err != nil {
		return 0, err
	}
	select {
	case ln.ch <- msg:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	// Check passed under the same lock, so Observe cannot fail here.
	_ = ln.tracker.Observe(msg)
	ln.seq++
	return ln.seq, nil
}

// process delivers one lane in order. After the engine has faulted the
// remaining messages are discarded; the fault is reported to callers.
func (l *lanes) process(ln *lane) {
	defer l.wg.Done()
	for msg := range ln.ch {
		if l.faulted() {
			l.log.Debug("discarding message after engine fault", "endpoint", ln.endpoint, "message_id", msg.ID())
			continue
		}
		if err := l.semaphore.Acquire(l.ctx, 1); err != nil {
			l.log.Warn("lane cancelled with messages pending", "endpoint", ln.endpoint)
			return
		}
		err := l.engine.Push(l.ctx, ln.endpoint, msg)
		l.semaphore.Release(1)
		if err != nil {
			l.metrics.pushErrors.WithLabelValues(ln.endpoint).Inc()
			l.onFault(ln.endpoint, err)
			continue
		}
		l.log.Debug("delivered", "endpoint", ln.endpoint, "message", msg.Describe())
	}
}

// close stops intake on every lane. Callers must guarantee no enqueue is
// running or will run.
func (l *lanes) close() {
	for _, ln := range l.byName {
		close(ln.ch)
	}
}

// drain waits for every lane to deliver what it holds. If ctx ends first the
// lanes are cancelled and drain returns ctx's error once they have exited.
func (l *lanes) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}
