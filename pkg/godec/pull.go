package godec

import (
	"errors"
	"fmt"
	"time"
)

// Pull waits up to timeout for every stream of endpoint to hold at least
// one message and returns the next message of each. It returns ErrTimeout
// otherwise; messages already queued stay for the next Pull. A zero timeout
// polls. One Pull may be in flight per endpoint; a second one fails with
// ErrConcurrentPull.
func (s *Session) Pull(endpoint string, timeout time.Duration) (Batch, error) {
	g, ok := s.groups[endpoint]
	if !ok {
		return nil, &UnknownEndpointError{Kind: "pull", Endpoint: endpoint}
	}
	if timeout < 0 {
		return nil, fmt.Errorf("pull %q: negative timeout %s", endpoint, timeout)
	}
	if s.State() == StateTerminated {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	b, err := g.pull(timeout)
	s.metrics.pullWait.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	s.metrics.pulls.WithLabelValues(endpoint, outcome(err)).Inc()
	return b, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "batch"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.Is(err, ErrConcurrentPull):
		return "concurrent"
	}
	return "error"
}
