package godec

import (
	"context"
	"errors"

	"github.com/user/godec/pkg/message"
)

// Ack confirms that a message was queued for the Engine. Seq counts the
// messages accepted on Endpoint, starting at 1.
type Ack struct {
	Endpoint  string
	MessageID string
	Seq       uint64
}

// Push queues msg for delivery to endpoint. Messages pushed to one endpoint
// reach the Engine in the order their Push calls returned. Push only
// blocks while the endpoint's lane is full; ctx bounds that wait.
func (s *Session) Push(ctx context.Context, endpoint string, msg message.Message) (Ack, error) {
	ln, ok := s.lanes.byName[endpoint]
	if !ok {
		return Ack{}, &UnknownEndpointError{Kind: "push", Endpoint: endpoint}
	}
	if msg == nil {
		return Ack{}, errors.New("push: nil message")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.State() != StateLoaded {
		return Ack{}, ErrSessionClosed
	}
	if err := s.faultErr(); err != nil {
		return Ack{}, err
	}
	seq, err := s.lanes.enqueue(ctx, ln, msg)
	if err != nil {
		s.metrics.pushErrors.WithLabelValues(endpoint).Inc()
		return Ack{}, err
	}
	s.metrics.pushes.WithLabelValues(endpoint).Inc()
	return Ack{Endpoint: endpoint, MessageID: msg.ID(), Seq: seq}, nil
}
