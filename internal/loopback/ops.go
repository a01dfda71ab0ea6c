package loopback

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/user/godec/pkg/message"
)

// Op transforms one message. An Op is only ever called from its route's
// worker, so it may keep state between calls.
type Op func(msg message.Message) (message.Message, error)

// OpFactory builds an Op from route params. Bad params are load errors.
type OpFactory func(params map[string]any) (Op, error)

// Registry maps op names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]OpFactory
}

// NewRegistry returns a registry with the built-in ops.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]OpFactory)}
	r.Register("passthrough", newPassthrough)
	r.Register("resample", newResample)
	r.Register("binary_to_audio", newBinaryToAudio)
	return r
}

func (r *Registry) Register(name string, f OpFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build creates the op called name. An empty name means passthrough.
func (r *Registry) Build(name string, params map[string]any) (Op, error) {
	if name == "" {
		name = "passthrough"
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown op %q", name)
	}
	return f(params)
}

// Names lists the registered ops, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func newPassthrough(map[string]any) (Op, error) {
	return func(msg message.Message) (message.Message, error) { return msg, nil }, nil
}

// newResample converts Audio to params.sample_rate by linear interpolation.
// Time and descriptor are kept; ticks per sample scale so the message still
// spans the same ticks.
func newResample(params map[string]any) (Op, error) {
	rate, err := intParam(params, "sample_rate", 0)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("resample: sample_rate must be positive, got %d", rate)
	}
	return func(msg message.Message) (message.Message, error) {
		a, ok := msg.(*message.Audio)
		if !ok {
			return nil, fmt.Errorf("resample: expected Audio, got %s", msg.Type())
		}
		if a.SampleRate() == rate {
			return a, nil
		}
		in := a.Samples()
		ratio := float64(a.SampleRate()) / float64(rate)
		n := int(math.Round(float64(len(in)) / ratio))
		if n < 1 {
			n = 1
		}
		out := make([]float32, n)
		for i := range out {
			pos := float64(i) * ratio
			j := int(pos)
			if j >= len(in)-1 {
				out[i] = in[len(in)-1]
				continue
			}
			frac := float32(pos - float64(j))
			out[i] = in[j]*(1-frac) + in[j+1]*frac
		}
		tps := a.TicksPerSample() * float64(len(in)) / float64(n)
		res, err := message.NewAudio(a.Time(), out, rate, tps, message.WithDescriptor(a.Descriptor()))
		if err != nil {
			return nil, err
		}
		return res, nil
	}, nil
}

// newBinaryToAudio decodes raw PCM carried in Binary messages. The binary
// format string may carry "sample_rate=N" and "encoding=pcm16le|int8",
// overriding the route params. Ticks per sample are derived from how many
// ticks passed since the previous chunk.
func newBinaryToAudio(params map[string]any) (Op, error) {
	defRate, err := intParam(params, "sample_rate", 16000)
	if err != nil {
		return nil, err
	}
	defEnc, _ := params["encoding"].(string)
	if defEnc == "" {
		defEnc = "pcm16le"
	}
	var next uint64
	return func(msg message.Message) (message.Message, error) {
		b, ok := msg.(*message.Binary)
		if !ok {
			return nil, fmt.Errorf("binary_to_audio: expected Binary, got %s", msg.Type())
		}
		rate, enc := defRate, defEnc
		for _, kv := range strings.FieldsFunc(b.Format(), func(r rune) bool { return r == ';' || r == ',' }) {
			k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
			switch k {
			case "sample_rate":
				r, err := strconv.Atoi(v)
				if err != nil {
					return nil, fmt.Errorf("binary_to_audio: sample_rate %q: %w", v, err)
				}
				rate = r
			case "encoding":
				enc = v
			}
		}

		data := b.Data()
		var samples []float32
		switch enc {
		case "pcm16le":
			samples = make([]float32, len(data)/2)
			for i := range samples {
				samples[i] = float32(int16(binary.LittleEndian.Uint16(data[2*i:]))) / 32768
			}
		case "int8":
			samples = make([]float32, len(data))
			for i, v := range data {
				samples[i] = float32(int8(v)) / 128
			}
		default:
			return nil, fmt.Errorf("binary_to_audio: unknown encoding %q", enc)
		}
		if len(samples) == 0 {
			return nil, fmt.Errorf("binary_to_audio: empty chunk at %d", b.Time())
		}
		end := b.Time() + 1
		if end <= next {
			return nil, fmt.Errorf("binary_to_audio: chunk at %d does not advance past %d", b.Time(), next-1)
		}
		tps := float64(end-next) / float64(len(samples))
		a, err := message.NewAudio(b.Time(), samples, rate, tps, message.WithDescriptor(b.Descriptor()))
		if err != nil {
			return nil, err
		}
		next = end
		return a, nil
	}, nil
}

// intParam reads an integer param that may come from YAML (int), JSON
// (float64) or a command line override (string).
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}
