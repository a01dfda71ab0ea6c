package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// ConversationState marks utterance and conversation boundaries on a stream.
type ConversationState struct {
	header
	utteranceID             string
	lastChunkInUtterance    bool
	conversationID          string
	lastChunkInConversation bool
}

// NewConversationState validates and builds a ConversationState message. An
// utterance cannot outlive its conversation, so closing the conversation
// requires closing the utterance too.
func NewConversationState(t uint64, utteranceID string, lastInUtterance bool, conversationID string, lastInConversation bool, opts ...Option) (*ConversationState, error) {
	if utteranceID == "" {
		return nil, invalid(TypeConversationState, "utterance id is required")
	}
	if conversationID == "" {
		return nil, invalid(TypeConversationState, "conversation id is required")
	}
	if lastInConversation && !lastInUtterance {
		return nil, invalid(TypeConversationState, "last chunk in conversation requires last chunk in utterance")
	}
	return &ConversationState{
		header:                  newHeader(t, TypeConversationState, opts),
		utteranceID:             utteranceID,
		lastChunkInUtterance:    lastInUtterance,
		conversationID:          conversationID,
		lastChunkInConversation: lastInConversation,
	}, nil
}

func (m *ConversationState) UtteranceID() string           { return m.utteranceID }
func (m *ConversationState) LastChunkInUtterance() bool    { return m.lastChunkInUtterance }
func (m *ConversationState) ConversationID() string        { return m.conversationID }
func (m *ConversationState) LastChunkInConversation() bool { return m.lastChunkInConversation }

func (m *ConversationState) Describe() string {
	return fmt.Sprintf("%s utt=%s(last=%t) convo=%s(last=%t)", m.describePrefix(),
		m.utteranceID, m.lastChunkInUtterance, m.conversationID, m.lastChunkInConversation)
}

// Audio carries floating-point samples.
type Audio struct {
	header
	samples        []float32
	sampleRate     int
	ticksPerSample float64
}

// NewAudio builds an Audio message. samples must be a []float32 or []float64;
// any other element type is rejected here rather than at push time.
func NewAudio(t uint64, samples any, sampleRate int, ticksPerSample float64, opts ...Option) (*Audio, error) {
	var buf []float32
	switch s := samples.(type) {
	case []float32:
		buf = slices.Clone(s)
	case []float64:
		buf = make([]float32, len(s))
		for i, v := range s {
			buf[i] = float32(v)
		}
	case nil:
		return nil, invalid(TypeAudio, "samples are required")
	default:
		return nil, invalidf(TypeAudio, "samples must be a floating-point buffer, got %T", samples)
	}
	if len(buf) == 0 {
		return nil, invalid(TypeAudio, "samples must not be empty")
	}
	if sampleRate <= 0 {
		return nil, invalidf(TypeAudio, "sample rate must be positive, got %d", sampleRate)
	}
	if ticksPerSample <= 0 || math.IsNaN(ticksPerSample) || math.IsInf(ticksPerSample, 0) {
		return nil, invalidf(TypeAudio, "ticks per sample must be a positive number, got %v", ticksPerSample)
	}
	return &Audio{
		header:         newHeader(t, TypeAudio, opts),
		samples:        buf,
		sampleRate:     sampleRate,
		ticksPerSample: ticksPerSample,
	}, nil
}

// Samples returns a copy of the sample buffer.
func (m *Audio) Samples() []float32      { return slices.Clone(m.samples) }
func (m *Audio) NumSamples() int         { return len(m.samples) }
func (m *Audio) SampleRate() int         { return m.sampleRate }
func (m *Audio) TicksPerSample() float64 { return m.ticksPerSample }

func (m *Audio) Describe() string {
	var sum float64
	for _, v := range m.samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(m.samples)))
	return fmt.Sprintf("%s %d samples rate=%d ticksPerSample=%g rms=%.4f", m.describePrefix(),
		len(m.samples), m.sampleRate, m.ticksPerSample, rms)
}

// Binary is an opaque byte payload; format describes its encoding.
type Binary struct {
	header
	data   []byte
	format string
}

func NewBinary(t uint64, data []byte, format string, opts ...Option) (*Binary, error) {
	return &Binary{
		header: newHeader(t, TypeBinary, opts),
		data:   bytes.Clone(data),
		format: format,
	}, nil
}

func (m *Binary) Data() []byte   { return bytes.Clone(m.data) }
func (m *Binary) Format() string { return m.format }

func (m *Binary) Describe() string {
	return fmt.Sprintf("%s %d bytes format=%q", m.describePrefix(), len(m.data), m.format)
}

// NBestEntry is one hypothesis. Words, alignment and confidence line up
// index for index.
type NBestEntry struct {
	text       string
	words      []string
	alignment  []uint64
	confidence []float64
}

func NewNBestEntry(text string, words []string, alignment []uint64, confidence []float64) (NBestEntry, error) {
	if len(alignment) != len(words) {
		return NBestEntry{}, invalidf(TypeNBestEntry, "alignment has %d entries for %d words", len(alignment), len(words))
	}
	if len(confidence) != len(words) {
		return NBestEntry{}, invalidf(TypeNBestEntry, "confidence has %d entries for %d words", len(confidence), len(words))
	}
	return NBestEntry{
		text:       text,
		words:      slices.Clone(words),
		alignment:  slices.Clone(alignment),
		confidence: slices.Clone(confidence),
	}, nil
}

func (e NBestEntry) Text() string          { return e.text }
func (e NBestEntry) Words() []string       { return slices.Clone(e.words) }
func (e NBestEntry) Alignment() []uint64   { return slices.Clone(e.alignment) }
func (e NBestEntry) Confidence() []float64 { return slices.Clone(e.confidence) }
func (e NBestEntry) Len() int              { return len(e.words) }

// NBestEntryMessage carries a single hypothesis on a stream.
type NBestEntryMessage struct {
	header
	entry NBestEntry
}

func NewNBestEntryMessage(t uint64, entry NBestEntry, opts ...Option) (*NBestEntryMessage, error) {
	if err := entry.check(); err != nil {
		return nil, err
	}
	return &NBestEntryMessage{header: newHeader(t, TypeNBestEntry, opts), entry: entry}, nil
}

func (m *NBestEntryMessage) Entry() NBestEntry { return m.entry }

func (m *NBestEntryMessage) Describe() string {
	return fmt.Sprintf("%s %q (%d words)", m.describePrefix(), m.entry.text, m.entry.Len())
}

// check guards against zero-value entries assembled outside NewNBestEntry.
func (e NBestEntry) check() error {
	if len(e.alignment) != len(e.words) || len(e.confidence) != len(e.words) {
		return invalid(TypeNBestEntry, "words, alignment and confidence lengths differ")
	}
	return nil
}

// NBest is an ordered hypothesis list, best first by convention.
type NBest struct {
	header
	entries []NBestEntry
}

func NewNBest(t uint64, entries []NBestEntry, opts ...Option) (*NBest, error) {
	for i, e := range entries {
		if err := e.check(); err != nil {
			return nil, invalidf(TypeNBest, "entry %d: %s", i, err.(*ValidationError).Constraint)
		}
	}
	return &NBest{header: newHeader(t, TypeNBest, opts), entries: slices.Clone(entries)}, nil
}

func (m *NBest) Entries() []NBestEntry { return slices.Clone(m.entries) }
func (m *NBest) Len() int              { return len(m.entries) }

func (m *NBest) Describe() string {
	best := ""
	if len(m.entries) > 0 {
		best = m.entries[0].text
	}
	return fmt.Sprintf("%s %d entries best=%q", m.describePrefix(), len(m.entries), best)
}

// Features is a frame-by-feature matrix. Row i belongs to timestamps[i] and
// column j is named names[j].
type Features struct {
	header
	utteranceID string
	matrix      [][]float64
	names       []string
	timestamps  []uint64
}

func NewFeatures(t uint64, utteranceID string, matrix [][]float64, names []string, timestamps []uint64, opts ...Option) (*Features, error) {
	if len(matrix) == 0 {
		return nil, invalid(TypeFeatures, "feature matrix must not be empty")
	}
	if len(names) == 0 {
		return nil, invalid(TypeFeatures, "feature names must not be empty")
	}
	if len(timestamps) != len(matrix) {
		return nil, invalidf(TypeFeatures, "%d timestamps for %d rows", len(timestamps), len(matrix))
	}
	cloned := make([][]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != len(names) {
			return nil, invalidf(TypeFeatures, "row %d has %d columns, %d feature names", i, len(row), len(names))
		}
		cloned[i] = slices.Clone(row)
	}
	for i := 1; i < len(timestamps); i++ {
		if timestamps[i] < timestamps[i-1] {
			return nil, invalidf(TypeFeatures, "timestamp %d decreases (%d after %d)", i, timestamps[i], timestamps[i-1])
		}
	}
	if last := timestamps[len(timestamps)-1]; last != t {
		return nil, invalidf(TypeFeatures, "message time %d differs from last timestamp %d", t, last)
	}
	return &Features{
		header:      newHeader(t, TypeFeatures, opts),
		utteranceID: utteranceID,
		matrix:      cloned,
		names:       slices.Clone(names),
		timestamps:  slices.Clone(timestamps),
	}, nil
}

func (m *Features) UtteranceID() string  { return m.utteranceID }
func (m *Features) Names() []string      { return slices.Clone(m.names) }
func (m *Features) Timestamps() []uint64 { return slices.Clone(m.timestamps) }
func (m *Features) Rows() int            { return len(m.matrix) }
func (m *Features) Cols() int            { return len(m.names) }

// Matrix returns a deep copy of the feature matrix.
func (m *Features) Matrix() [][]float64 {
	out := make([][]float64, len(m.matrix))
	for i, row := range m.matrix {
		out[i] = slices.Clone(row)
	}
	return out
}

func (m *Features) Describe() string {
	var sum float64
	for _, row := range m.matrix {
		for _, v := range row {
			sum += v
		}
	}
	return fmt.Sprintf("%s %dx%d sum=%g utt=%s", m.describePrefix(), m.Rows(), m.Cols(), sum, m.utteranceID)
}

// JSON carries an opaque structured value.
type JSON struct {
	header
	raw json.RawMessage
}

// NewJSON marshals v once; the stored document never changes afterwards.
// A json.RawMessage or []byte value is taken as an already encoded document.
func NewJSON(t uint64, v any, opts ...Option) (*JSON, error) {
	var raw []byte
	switch doc := v.(type) {
	case json.RawMessage:
		raw = bytes.Clone(doc)
	case []byte:
		raw = bytes.Clone(doc)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, invalidf(TypeJSON, "value is not JSON encodable: %v", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return nil, invalid(TypeJSON, "document is not valid JSON")
	}
	return &JSON{header: newHeader(t, TypeJSON, opts), raw: raw}, nil
}

// Raw returns a copy of the encoded document.
func (m *JSON) Raw() json.RawMessage { return bytes.Clone(m.raw) }

// Decode unmarshals the document into v.
func (m *JSON) Decode(v any) error {
	return json.Unmarshal(m.raw, v)
}

func (m *JSON) Describe() string {
	return fmt.Sprintf("%s %d bytes", m.describePrefix(), len(m.raw))
}
