package godec

import (
	"fmt"
	"maps"
	"sync"

	"github.com/user/godec/internal/config"
)

// Overrides is a key/value overlay applied to a graph when it is loaded.
// Keys are dotted paths; values are opaque to this package and are handed
// to the Engine as is. Last write for a key wins.
type Overrides struct {
	mu     sync.Mutex
	values map[string]any
	frozen bool
}

func NewOverrides() *Overrides {
	return &Overrides{values: make(map[string]any)}
}

// Add inserts or replaces key. A nested map[string]any value is expanded
// into one entry per leaf, so Add("a", {"b": 1}) is the same as Add("a.b", 1).
func (o *Overrides) Add(key string, value any) error {
	if key == "" {
		return fmt.Errorf("override key must not be empty")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frozen {
		return ErrFrozen
	}
	if nested, ok := value.(map[string]any); ok {
		for k, v := range config.Flatten(map[string]any{key: nested}) {
			o.values[k] = v
		}
		return nil
	}
	o.values[key] = value
	return nil
}

func (o *Overrides) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.values)
}

// Flatten returns a copy of the overlay keyed by dotted path.
func (o *Overrides) Flatten() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return maps.Clone(o.values)
}

// freeze returns the final overlay and rejects further writes.
func (o *Overrides) freeze() map[string]any {
	if o == nil {
		return map[string]any{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frozen = true
	return maps.Clone(o.values)
}
