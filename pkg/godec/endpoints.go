package godec

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// PushEndpoints is the set of named inputs a Session accepts messages on.
type PushEndpoints struct {
	mu     sync.Mutex
	names  map[string]bool
	frozen bool
}

func NewPushEndpoints(names ...string) *PushEndpoints {
	p := &PushEndpoints{names: make(map[string]bool)}
	for _, n := range names {
		p.names[n] = true
	}
	return p
}

// Add registers name. Adding a name twice is a no-op.
func (p *PushEndpoints) Add(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	p.names[name] = true
	return nil
}

// Names returns the registered names, sorted.
func (p *PushEndpoints) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.names)
}

func (p *PushEndpoints) freeze() ([]string, error) {
	if p == nil {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
	for name := range p.names {
		if name == "" {
			return nil, fmt.Errorf("push endpoint name must not be empty")
		}
	}
	return sortedKeys(p.names), nil
}

// PullEndpoints maps each pull endpoint to the ordered set of streams it
// aggregates into one batch.
type PullEndpoints struct {
	mu      sync.Mutex
	streams map[string][]string
	frozen  bool
}

func NewPullEndpoints() *PullEndpoints {
	return &PullEndpoints{streams: make(map[string][]string)}
}

// Add registers name over streams, replacing any earlier registration.
// Repeated stream names keep their first position. An empty stream set is
// accepted here and rejected by Load.
func (p *PullEndpoints) Add(name string, streams ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	set := make([]string, 0, len(streams))
	for _, s := range streams {
		if !slices.Contains(set, s) {
			set = append(set, s)
		}
	}
	p.streams[name] = set
	return nil
}

// Streams returns the stream set of name in registration order.
func (p *PullEndpoints) Streams(name string) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[name]
	return slices.Clone(s), ok
}

func (p *PullEndpoints) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedKeys(p.streams)
}

func (p *PullEndpoints) freeze() (map[string][]string, error) {
	out := make(map[string][]string)
	if p == nil {
		return out, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = true
	for name, streams := range p.streams {
		if name == "" {
			return nil, fmt.Errorf("pull endpoint name must not be empty")
		}
		if len(streams) == 0 {
			return nil, fmt.Errorf("pull endpoint %q has no streams", name)
		}
		for _, s := range streams {
			if s == "" {
				return nil, fmt.Errorf("pull endpoint %q has an empty stream name", name)
			}
		}
		out[name] = slices.Clone(streams)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
