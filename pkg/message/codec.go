package message

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of a message.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Time       uint64          `json:"time"`
	Descriptor string          `json:"descriptor,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type conversationPayload struct {
	UtteranceID             string `json:"utterance_id"`
	LastChunkInUtterance    bool   `json:"last_chunk_in_utterance"`
	ConversationID          string `json:"conversation_id"`
	LastChunkInConversation bool   `json:"last_chunk_in_conversation"`
}

type audioPayload struct {
	Samples        []float32 `json:"samples"`
	SampleRate     int       `json:"sample_rate"`
	TicksPerSample float64   `json:"ticks_per_sample"`
}

type binaryPayload struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

type entryPayload struct {
	Text       string    `json:"text"`
	Words      []string  `json:"words"`
	Alignment  []uint64  `json:"alignment"`
	Confidence []float64 `json:"confidence"`
}

type nbestPayload struct {
	Entries []entryPayload `json:"entries"`
}

type featuresPayload struct {
	UtteranceID string      `json:"utterance_id"`
	Matrix      [][]float64 `json:"matrix"`
	Names       []string    `json:"names"`
	Timestamps  []uint64    `json:"timestamps"`
}

func toEntryPayload(e NBestEntry) entryPayload {
	return entryPayload{Text: e.text, Words: e.words, Alignment: e.alignment, Confidence: e.confidence}
}

func (p entryPayload) entry() (NBestEntry, error) {
	return NewNBestEntry(p.Text, p.Words, p.Alignment, p.Confidence)
}

// ToEnvelope converts a message to its wire form.
func ToEnvelope(m Message) (Envelope, error) {
	var payload any
	switch v := m.(type) {
	case *ConversationState:
		payload = conversationPayload{v.utteranceID, v.lastChunkInUtterance, v.conversationID, v.lastChunkInConversation}
	case *Audio:
		payload = audioPayload{v.samples, v.sampleRate, v.ticksPerSample}
	case *Binary:
		payload = binaryPayload{v.data, v.format}
	case *NBestEntryMessage:
		payload = toEntryPayload(v.entry)
	case *NBest:
		p := nbestPayload{Entries: make([]entryPayload, len(v.entries))}
		for i, e := range v.entries {
			p.Entries[i] = toEntryPayload(e)
		}
		payload = p
	case *Features:
		payload = featuresPayload{v.utteranceID, v.matrix, v.names, v.timestamps}
	case *JSON:
		payload = v.raw
	default:
		return Envelope{}, fmt.Errorf("unsupported message %T", m)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", m.Type(), err)
	}
	return Envelope{
		ID:         m.ID(),
		Type:       m.Type(),
		Time:       m.Time(),
		Descriptor: m.Descriptor(),
		Payload:    raw,
	}, nil
}

// FromEnvelope rebuilds a message through its constructor, so a decoded
// message is validated exactly like one built in process.
func FromEnvelope(env Envelope) (Message, error) {
	if _, err := ParseType(string(env.Type)); err != nil {
		return nil, err
	}
	opts := []Option{withID(env.ID), WithDescriptor(env.Descriptor)}
	bad := func(err error) error {
		return invalidf(env.Type, "malformed payload: %v", err)
	}

	switch env.Type {
	case TypeConversationState:
		var p conversationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		return boxed(NewConversationState(env.Time, p.UtteranceID, p.LastChunkInUtterance, p.ConversationID, p.LastChunkInConversation, opts...))
	case TypeAudio:
		var p audioPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		return boxed(NewAudio(env.Time, p.Samples, p.SampleRate, p.TicksPerSample, opts...))
	case TypeBinary:
		var p binaryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		return boxed(NewBinary(env.Time, p.Data, p.Format, opts...))
	case TypeNBestEntry:
		var p entryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		e, err := p.entry()
		if err != nil {
			return nil, err
		}
		return boxed(NewNBestEntryMessage(env.Time, e, opts...))
	case TypeNBest:
		var p nbestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		entries := make([]NBestEntry, len(p.Entries))
		for i, ep := range p.Entries {
			e, err := ep.entry()
			if err != nil {
				return nil, invalidf(TypeNBest, "entry %d: %s", i, err.(*ValidationError).Constraint)
			}
			entries[i] = e
		}
		return boxed(NewNBest(env.Time, entries, opts...))
	case TypeFeatures:
		var p featuresPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, bad(err)
		}
		return boxed(NewFeatures(env.Time, p.UtteranceID, p.Matrix, p.Names, p.Timestamps, opts...))
	case TypeJSON:
		if len(env.Payload) == 0 {
			return nil, invalid(TypeJSON, "payload is required")
		}
		return boxed(NewJSON(env.Time, env.Payload, opts...))
	}
	return nil, invalidf("", "unknown message type %q", env.Type)
}

// boxed keeps a failed constructor from yielding a non-nil Message that
// holds a nil pointer.
func boxed[T Message](m T, err error) (Message, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes m as a JSON envelope.
func Marshal(m Message) ([]byte, error) {
	env, err := ToEnvelope(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope produced by Marshal.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return FromEnvelope(env)
}
