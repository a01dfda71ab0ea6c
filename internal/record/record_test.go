package record

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/godec/pkg/godec"
	"github.com/user/godec/pkg/message"
)

func batch(t *testing.T, at uint64) godec.Batch {
	t.Helper()
	a, err := message.NewAudio(at, []float32{0.25}, 8000, 1)
	require.NoError(t, err)
	j, err := message.NewJSON(at, map[string]uint64{"at": at})
	require.NoError(t, err)
	return godec.Batch{"audio": a, "meta": j}
}

func TestRecorder_AppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "batches.jsonl")
	r, err := Open(path)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	first := batch(t, 1)
	for i := uint64(1); i <= 3; i++ {
		b := first
		if i > 1 {
			b = batch(t, i)
		}
		e, err := r.Append("out", b)
		require.NoError(t, err)
		assert.Equal(t, int64(i), e.Seq)
	}

	entries, err := r.Tail(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Seq)
	assert.Equal(t, int64(3), entries[1].Seq)
	assert.True(t, fixed.Equal(entries[1].At))

	all, err := Tail(path, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	b, err := all[0].Batch()
	require.NoError(t, err)
	assert.Equal(t, first["audio"].ID(), b["audio"].ID())
	got, ok := godec.As[*message.Audio](b, "audio")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25}, got.Samples())
}

func TestRecorder_SeqContinuesAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.jsonl")
	r, err := Open(path)
	require.NoError(t, err)
	_, err = r.Append("out", batch(t, 1))
	require.NoError(t, err)

	r2, err := Open(path)
	require.NoError(t, err)
	e, err := r2.Append("out", batch(t, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Seq)
}

func TestTail_MissingFile(t *testing.T) {
	entries, err := Tail(filepath.Join(t.TempDir(), "none.jsonl"), 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
