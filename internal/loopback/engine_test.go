package loopback

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/godec/pkg/godec"
	"github.com/user/godec/pkg/message"
)

const testTopology = `
routes:
  - name: preproc
    input: raw_audio
    stream: preproc_audio
    op: resample
    params: {sample_rate: 8000}
  - name: convstate
    input: convstate
    stream: conversation_state
    op: passthrough
  - name: decode
    input: raw_bytes
    stream: decoded_audio
    op: binary_to_audio
outputs:
  out: [preproc_audio]
  both: [preproc_audio, conversation_state]
  bytes: [decoded_audio]
`

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

type setup struct {
	overrides map[string]any
	push      []string
	pull      map[string][]string
}

func loadSession(t *testing.T, eng *Engine, path string, s setup) (*godec.Session, error) {
	t.Helper()
	ov := godec.NewOverrides()
	for k, v := range s.overrides {
		require.NoError(t, ov.Add(k, v))
	}
	pull := godec.NewPullEndpoints()
	for name, streams := range s.pull {
		require.NoError(t, pull.Add(name, streams...))
	}
	return godec.Load(context.Background(), eng, path, ov, godec.NewPushEndpoints(s.push...), pull, true)
}

func shutdown(t *testing.T, s *godec.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestEndToEnd_ResampledAudio(t *testing.T) {
	path := writeTopology(t, testTopology)
	s, err := loadSession(t, New(nil), path, setup{
		push: []string{"raw_audio", "convstate"},
		pull: map[string][]string{"out": {"preproc_audio"}},
	})
	require.NoError(t, err)

	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(i%100) / 100
	}
	in, err := message.NewAudio(15999, samples, 16000, 1)
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "raw_audio", in)
	require.NoError(t, err)

	cs, err := message.NewConversationState(15999, "utt_id", true, "convo_id", true)
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "convstate", cs)
	require.NoError(t, err)

	batch, err := s.Pull("out", 1000*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	out, ok := godec.As[*message.Audio](batch, "preproc_audio")
	require.True(t, ok)
	assert.Equal(t, 8000, out.SampleRate())
	assert.Equal(t, 8000, out.NumSamples())
	assert.Equal(t, uint64(15999), out.Time())
	assert.InDelta(t, 2.0, out.TicksPerSample(), 1e-9)

	shutdown(t, s)
}

func TestEndToEnd_OverrideChangesRate(t *testing.T) {
	path := writeTopology(t, testTopology)
	s, err := loadSession(t, New(nil), path, setup{
		overrides: map[string]any{"preproc.sample_rate": "4000"},
		push:      []string{"raw_audio"},
		pull:      map[string][]string{"out": {"preproc_audio"}},
	})
	require.NoError(t, err)

	in, err := message.NewAudio(99, make([]float32, 100), 16000, 1)
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "raw_audio", in)
	require.NoError(t, err)

	batch, err := s.Pull("out", time.Second)
	require.NoError(t, err)
	out, _ := godec.As[*message.Audio](batch, "preproc_audio")
	require.NotNil(t, out)
	assert.Equal(t, 4000, out.SampleRate())
	assert.Equal(t, 25, out.NumSamples())

	shutdown(t, s)
}

func TestEndToEnd_MultiStreamBatch(t *testing.T) {
	path := writeTopology(t, testTopology)
	s, err := loadSession(t, New(nil), path, setup{
		push: []string{"raw_audio", "convstate"},
		pull: map[string][]string{"both": {"preproc_audio", "conversation_state"}},
	})
	require.NoError(t, err)

	in, err := message.NewAudio(9, make([]float32, 10), 8000, 1)
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "raw_audio", in)
	require.NoError(t, err)

	_, err = s.Pull("both", 50*time.Millisecond)
	assert.ErrorIs(t, err, godec.ErrTimeout)

	cs, err := message.NewConversationState(9, "u", true, "c", false)
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "convstate", cs)
	require.NoError(t, err)

	batch, err := s.Pull("both", time.Second)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	// same rate means the audio passes through untouched
	assert.Equal(t, in.ID(), batch["preproc_audio"].ID())
	assert.Equal(t, cs.ID(), batch["conversation_state"].ID())

	shutdown(t, s)
}

func TestEndToEnd_BinaryChunks(t *testing.T) {
	path := writeTopology(t, testTopology)
	s, err := loadSession(t, New(nil), path, setup{
		push: []string{"raw_bytes"},
		pull: map[string][]string{"bytes": {"decoded_audio"}},
	})
	require.NoError(t, err)

	pcm := make([]byte, 200)
	binary.LittleEndian.PutUint16(pcm, 0xC000)
	for i, at := range []uint64{99, 199} {
		b, err := message.NewBinary(at, pcm, "sample_rate=8000;encoding=pcm16le")
		require.NoError(t, err)
		_, err = s.Push(context.Background(), "raw_bytes", b)
		require.NoError(t, err, "chunk %d", i)
	}

	for range 2 {
		batch, err := s.Pull("bytes", time.Second)
		require.NoError(t, err)
		a, ok := godec.As[*message.Audio](batch, "decoded_audio")
		require.True(t, ok)
		assert.Equal(t, 8000, a.SampleRate())
		assert.Equal(t, 100, a.NumSamples())
		assert.InDelta(t, 1.0, a.TicksPerSample(), 1e-9)
		assert.InDelta(t, -0.5, a.Samples()[0], 1e-6)
	}
	shutdown(t, s)
}

func TestLoad_Errors(t *testing.T) {
	path := writeTopology(t, testTopology)
	tests := []struct {
		name string
		path string
		s    setup
	}{
		{"missing file", filepath.Join(t.TempDir(), "none.yaml"), setup{}},
		{"push endpoint not an input", path, setup{push: []string{"video"}}},
		{"pull endpoint not an output", path, setup{pull: map[string][]string{"nope": {"preproc_audio"}}}},
		{"stream not allowed for output", path, setup{pull: map[string][]string{"out": {"conversation_state"}}}},
		{"unknown route override", path, setup{overrides: map[string]any{"lm.weight": 1}}},
		{"override without param", path, setup{overrides: map[string]any{"preproc": 1}}},
		{"bad param", path, setup{overrides: map[string]any{"preproc.sample_rate": "fast"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := loadSession(t, New(nil), tt.path, tt.s)
			assert.Nil(t, s)
			var le *godec.LoadError
			assert.ErrorAs(t, err, &le)
		})
	}
}

func TestLoad_SecondSessionRejectedUntilShutdown(t *testing.T) {
	path := writeTopology(t, testTopology)
	eng := New(nil)
	first, err := loadSession(t, eng, path, setup{push: []string{"raw_audio"}})
	require.NoError(t, err)

	_, err = loadSession(t, eng, path, setup{push: []string{"raw_audio"}})
	assert.ErrorIs(t, err, godec.ErrAlreadyLoaded)

	shutdown(t, first)
	second, err := loadSession(t, eng, path, setup{push: []string{"raw_audio"}})
	require.NoError(t, err)
	shutdown(t, second)
}

func TestOpFailureIsEngineFault(t *testing.T) {
	path := writeTopology(t, testTopology)
	s, err := loadSession(t, New(nil), path, setup{
		push: []string{"raw_audio"},
		pull: map[string][]string{"out": {"preproc_audio"}},
	})
	require.NoError(t, err)

	// resample only understands Audio
	j, err := message.NewJSON(0, map[string]int{"x": 1})
	require.NoError(t, err)
	_, err = s.Push(context.Background(), "raw_audio", j)
	require.NoError(t, err)

	_, err = s.Pull("out", time.Second)
	var ee *godec.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Error(), "expected Audio")

	err = s.Shutdown(context.Background())
	assert.True(t, err == nil || godec.IsEngineFault(err) || errors.Is(err, godec.ErrSessionClosed))
}

func TestShutdownCutShort_WorkersNeverReachNextSession(t *testing.T) {
	release := make(chan struct{})
	reg := NewRegistry()
	reg.Register("gated", func(map[string]any) (Op, error) {
		return func(m message.Message) (message.Message, error) {
			<-release
			return m, nil
		}, nil
	})
	eng := New(reg)
	path := writeTopology(t, `
routes:
  - {name: slow, input: in, stream: s, op: gated}
outputs:
  out: [s]
`)
	cfg := setup{push: []string{"in"}, pull: map[string][]string{"out": {"s"}}}

	first, err := loadSession(t, eng, path, cfg)
	require.NoError(t, err)
	j, err := message.NewJSON(7, map[string]int{"n": 7})
	require.NoError(t, err)
	_, err = first.Push(context.Background(), "in", j)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, first.Shutdown(ctx), context.DeadlineExceeded)

	// the gated worker still holds the first session's message
	_, err = loadSession(t, eng, path, cfg)
	assert.ErrorIs(t, err, godec.ErrAlreadyLoaded)

	close(release)
	var second *godec.Session
	require.Eventually(t, func() bool {
		second, err = loadSession(t, eng, path, cfg)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err = second.Pull("out", 100*time.Millisecond)
	assert.ErrorIs(t, err, godec.ErrTimeout)
	shutdown(t, second)
}
