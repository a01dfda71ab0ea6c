// Package message defines the closed set of timestamped messages exchanged
// with a decoding graph. Every variant validates its payload at construction
// and is immutable afterwards.
package message

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Type tags a message variant.
type Type string

const (
	TypeConversationState Type = "ConversationState"
	TypeAudio             Type = "Audio"
	TypeBinary            Type = "Binary"
	TypeNBestEntry        Type = "NBestEntry"
	TypeNBest             Type = "NBest"
	TypeFeatures          Type = "Features"
	TypeJSON              Type = "Json"
)

var registered = map[Type]bool{
	TypeConversationState: true,
	TypeAudio:             true,
	TypeBinary:            true,
	TypeNBestEntry:        true,
	TypeNBest:             true,
	TypeFeatures:          true,
	TypeJSON:              true,
}

// Types returns the registered variant tags, sorted.
func Types() []Type {
	out := make([]Type, 0, len(registered))
	for t := range registered {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseType returns the Type for s, or a ValidationError if s is not a
// registered variant.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !registered[t] {
		return "", invalidf("", "unknown message type %q", s)
	}
	return t, nil
}

// Message is implemented by every variant in this package and nowhere else.
type Message interface {
	ID() string
	// Time is in ticks since stream start.
	Time() uint64
	Type() Type
	Descriptor() string
	// Describe returns a one-line human readable summary for diagnostics.
	Describe() string

	sealed()
}

type header struct {
	id         string
	time       uint64
	typ        Type
	descriptor string
}

func newHeader(t uint64, typ Type, opts []Option) header {
	h := header{
		id:   uuid.New().String(),
		time: t,
		typ:  typ,
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

func (h header) ID() string         { return h.id }
func (h header) Time() uint64       { return h.time }
func (h header) Type() Type         { return h.typ }
func (h header) Descriptor() string { return h.descriptor }
func (h header) sealed()            {}

func (h header) describePrefix() string {
	s := fmt.Sprintf("%s@%d", h.typ, h.time)
	if h.descriptor != "" {
		s += " [" + h.descriptor + "]"
	}
	return s
}

// Option configures the common header of a message at construction.
type Option func(*header)

// WithDescriptor sets the free-form descriptor string.
func WithDescriptor(descriptor string) Option {
	return func(h *header) { h.descriptor = descriptor }
}

// withID is used by the codec to preserve identity across a round trip.
func withID(id string) Option {
	return func(h *header) {
		if id != "" {
			h.id = id
		}
	}
}
