package godec

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/godec/pkg/message"
)

// Batch holds exactly one message per stream of a pull endpoint.
type Batch map[string]message.Message

// As returns the message of stream as T, if present and of that variant.
func As[T message.Message](b Batch, stream string) (T, bool) {
	m, ok := b[stream].(T)
	return m, ok
}

// streamQueue is the FIFO of emitted but not yet pulled messages of one
// stream within one aggregation group.
type streamQueue struct {
	items    []message.Message
	lastTime uint64
	seen     bool
}

// group aggregates the streams of one pull endpoint. Emit appends under mu
// and broadcasts; Pull waits on cond until every queue is non-empty.
type group struct {
	endpoint string
	streams  []string
	depth    int
	log      *slog.Logger
	metrics  *sessionMetrics

	mu      sync.Mutex
	cond    *sync.Cond
	queues  map[string]*streamQueue
	pulling bool
	closed  bool
	// fault is checked by waiting pulls; set through the session.
	fault func() error
}

func newGroup(endpoint string, streams []string, depth int, log *slog.Logger, m *sessionMetrics, fault func() error) *group {
	g := &group{
		endpoint: endpoint,
		streams:  streams,
		depth:    depth,
		log:      log,
		metrics:  m,
		queues:   make(map[string]*streamQueue, len(streams)),
		fault:    fault,
	}
	g.cond = sync.NewCond(&g.mu)
	for _, s := range streams {
		g.queues[s] = &streamQueue{}
	}
	return g
}

func (g *group) has(stream string) bool {
	_, ok := g.queues[stream]
	return ok
}

// emit queues msg on stream. Times on one stream may not go backwards.
func (g *group) emit(stream string, msg message.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrSessionClosed
	}
	q := g.queues[stream]
	if q.seen && msg.Time() < q.lastTime {
		return fmt.Errorf("%w: stream %q got %d after %d", ErrOutOfOrder, stream, msg.Time(), q.lastTime)
	}
	q.seen, q.lastTime = true, msg.Time()
	q.items = append(q.items, msg)
	if g.depth > 0 && len(q.items) > g.depth {
		dropped := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		g.metrics.streamDrops.WithLabelValues(g.endpoint, stream).Inc()
		g.log.Warn("stream queue full, dropped oldest message",
			"endpoint", g.endpoint, "stream", stream, "message_id", dropped.ID(), "depth", g.depth)
	}
	g.metrics.streamDepth.WithLabelValues(g.endpoint, stream).Set(float64(len(q.items)))
	g.cond.Broadcast()
	return nil
}

// ready reports whether a full batch is available. Caller holds mu.
func (g *group) ready() bool {
	for _, q := range g.queues {
		if len(q.items) == 0 {
			return false
		}
	}
	return true
}

// pop removes one message per stream. Caller holds mu and checked ready.
func (g *group) pop() Batch {
	b := make(Batch, len(g.queues))
	for name, q := range g.queues {
		b[name] = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		g.metrics.streamDepth.WithLabelValues(g.endpoint, name).Set(float64(len(q.items)))
	}
	// a pop may free shutdown waiting for the group to empty
	g.cond.Broadcast()
	return b
}

// pull blocks until a full batch is available, the timeout passes, the
// engine faults or the group is closed. A timeout keeps whatever the
// streams already hold for the next pull.
func (g *group) pull(timeout time.Duration) (Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pulling {
		return nil, ErrConcurrentPull
	}
	g.pulling = true
	defer func() { g.pulling = false }()

	expired := timeout == 0
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			g.mu.Lock()
			expired = true
			g.mu.Unlock()
			g.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for {
		if g.closed {
			return nil, ErrSessionClosed
		}
		if err := g.fault(); err != nil {
			return nil, err
		}
		if g.ready() {
			return g.pop(), nil
		}
		if expired {
			return nil, ErrTimeout
		}
		g.cond.Wait()
	}
}

// waitDrained blocks until no full batch is left, the group is closed or
// stop returns true. stop is evaluated under mu after every wake up.
func (g *group) waitDrained(stop func() bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.ready() && !g.closed && !stop() {
		g.cond.Wait()
	}
}

// wake rechecks every waiter, used after a fault or a cancelled shutdown.
func (g *group) wake() {
	g.mu.Lock()
	g.cond.Broadcast()
	g.mu.Unlock()
}

// close wakes every waiter with ErrSessionClosed and discards partial
// streams. It returns how many messages were discarded.
func (g *group) close() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	discarded := 0
	for name, q := range g.queues {
		discarded += len(q.items)
		q.items = nil
		g.metrics.streamDepth.DeleteLabelValues(g.endpoint, name)
	}
	g.cond.Broadcast()
	return discarded
}
