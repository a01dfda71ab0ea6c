package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecPreservesIdentityAndPayload(t *testing.T) {
	entry, err := NewNBestEntry("hi", []string{"hi"}, []uint64{3}, []float64{0.7})
	require.NoError(t, err)

	build := []func() (Message, error){
		func() (Message, error) { return boxed(NewConversationState(1, "u", true, "c", false)) },
		func() (Message, error) { return boxed(NewAudio(2, []float32{0.5, -0.5}, 16000, 1.5)) },
		func() (Message, error) { return boxed(NewBinary(3, []byte("abc"), "raw")) },
		func() (Message, error) { return boxed(NewNBestEntryMessage(4, entry)) },
		func() (Message, error) { return boxed(NewNBest(5, []NBestEntry{entry})) },
		func() (Message, error) {
			return boxed(NewFeatures(6, "u", [][]float64{{1}}, []string{"e"}, []uint64{6}))
		},
		func() (Message, error) { return boxed(NewJSON(7, map[string]int{"a": 1})) },
	}
	for _, b := range build {
		orig, err := b()
		require.NoError(t, err)
		t.Run(string(orig.Type()), func(t *testing.T) {
			data, err := Marshal(orig)
			require.NoError(t, err)
			got, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, orig.ID(), got.ID())
			assert.Equal(t, orig.Type(), got.Type())
			assert.Equal(t, orig.Time(), got.Time())
			assert.Equal(t, orig.Describe(), got.Describe())
		})
	}
}

func TestUnmarshalValidates(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"x","type":"Video","time":0,"payload":{}}`))
	requireInvalid(t, err, "")

	_, err = Unmarshal([]byte(`{"id":"x","type":"Audio","time":0,"payload":{"samples":[],"sample_rate":16000,"ticks_per_sample":1}}`))
	requireInvalid(t, err, TypeAudio)

	_, err = Unmarshal([]byte(`{"id":"x","type":"Features","time":0,"payload":"nope"}`))
	requireInvalid(t, err, TypeFeatures)

	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
