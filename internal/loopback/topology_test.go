package loopback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/godec/pkg/message"
)

func TestLoadTopology_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	body := `{"routes":[{"name":"r","input":"in","stream":"s","params":{"sample_rate":8000}}],"outputs":{"o":["s"]}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	r, ok := topo.Route("r")
	require.True(t, ok)
	assert.Equal(t, 8000.0, r.Params["sample_rate"])
	assert.Equal(t, []string{"in"}, topo.Inputs())
}

func TestTopology_Validate(t *testing.T) {
	tests := []struct {
		name string
		topo Topology
	}{
		{"no routes", Topology{}},
		{"missing stream", Topology{Routes: []Route{{Name: "a", Input: "in"}}}},
		{"duplicate route", Topology{Routes: []Route{
			{Name: "a", Input: "in", Stream: "s1"},
			{Name: "a", Input: "in", Stream: "s2"},
		}}},
		{"stream produced twice", Topology{Routes: []Route{
			{Name: "a", Input: "in", Stream: "s"},
			{Name: "b", Input: "in", Stream: "s"},
		}}},
		{"output of unknown stream", Topology{
			Routes:  []Route{{Name: "a", Input: "in", Stream: "s"}},
			Outputs: map[string][]string{"o": {"x"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.topo.Validate())
		})
	}
}

func TestTopology_ApplyOverridesMergesParams(t *testing.T) {
	topo := &Topology{Routes: []Route{
		{Name: "a", Input: "in", Stream: "s", Params: map[string]any{"keep": 1, "sample_rate": 8000}},
		{Name: "b", Input: "in", Stream: "t"},
	}}
	require.NoError(t, topo.ApplyOverrides(map[string]any{
		"a.sample_rate": 4000,
		"b.window.size": 10,
	}))
	a, _ := topo.Route("a")
	assert.Equal(t, map[string]any{"keep": 1, "sample_rate": 4000}, a.Params)
	b, _ := topo.Route("b")
	assert.Equal(t, map[string]any{"window.size": 10}, b.Params)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"binary_to_audio", "passthrough", "resample"}, r.Names())

	_, err := r.Build("fft", nil)
	assert.Error(t, err)
	_, err = r.Build("resample", nil)
	assert.Error(t, err, "sample_rate is required")
	_, err = r.Build("resample", map[string]any{"sample_rate": 1.5})
	assert.Error(t, err)

	op, err := r.Build("", nil)
	require.NoError(t, err)
	in, err := message.NewBinary(0, []byte{1}, "")
	require.NoError(t, err)
	out, err := op(in)
	require.NoError(t, err)
	assert.Same(t, in, out)

	r.Register("drop_descriptor", func(map[string]any) (Op, error) {
		return func(m message.Message) (message.Message, error) { return m, nil }, nil
	})
	assert.Contains(t, r.Names(), "drop_descriptor")
}

func TestResample_Upsamples(t *testing.T) {
	op, err := newResample(map[string]any{"sample_rate": 16000})
	require.NoError(t, err)
	in, err := message.NewAudio(3, []float32{0, 1, 0, -1}, 8000, 2, message.WithDescriptor("mic"))
	require.NoError(t, err)

	out, err := op(in)
	require.NoError(t, err)
	a := out.(*message.Audio)
	assert.Equal(t, 16000, a.SampleRate())
	assert.Equal(t, 8, a.NumSamples())
	assert.InDelta(t, 1.0, a.TicksPerSample(), 1e-9)
	assert.Equal(t, "mic", a.Descriptor())
	assert.InDeltaSlice(t, []float32{0, 0.5, 1, 0.5, 0, -0.5, -1, -1}, a.Samples(), 1e-6)
}

func TestBinaryToAudio_RejectsStalledTime(t *testing.T) {
	op, err := newBinaryToAudio(map[string]any{"encoding": "int8"})
	require.NoError(t, err)
	b, err := message.NewBinary(9, []byte{0x40, 0xC0}, "")
	require.NoError(t, err)

	out, err := op(b)
	require.NoError(t, err)
	a := out.(*message.Audio)
	assert.InDeltaSlice(t, []float32{0.5, -0.5}, a.Samples(), 1e-6)
	assert.InDelta(t, 5.0, a.TicksPerSample(), 1e-9)
	assert.Equal(t, 16000, a.SampleRate())

	_, err = op(b)
	assert.Error(t, err)

	bad, err := message.NewBinary(20, []byte{1}, "encoding=ulaw")
	require.NoError(t, err)
	_, err = op(bad)
	assert.Error(t, err)
}
