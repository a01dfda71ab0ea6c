package message

import "sync"

// ConversationTracker checks ConversationState messages against the ones
// seen before them on the same stream. A closed utterance or conversation id
// cannot be reopened, and an id cannot change while the previous one is
// still open.
type ConversationTracker struct {
	mu            sync.Mutex
	utterance     string
	utteranceOpen bool
	convo         string
	convoOpen     bool
	closedUtt     map[string]bool
	closedConvo   map[string]bool
}

func NewConversationTracker() *ConversationTracker {
	return &ConversationTracker{
		closedUtt:   make(map[string]bool),
		closedConvo: make(map[string]bool),
	}
}

// Check reports whether m would be accepted, without recording it.
func (t *ConversationTracker) Check(m Message) error {
	cs, ok := m.(*ConversationState)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.check(cs)
}

// Observe validates m and records it. Messages of other variants pass
// through untouched. A rejected message leaves the tracker unchanged.
func (t *ConversationTracker) Observe(m Message) error {
	cs, ok := m.(*ConversationState)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(cs); err != nil {
		return err
	}

	t.utterance, t.convo = cs.utteranceID, cs.conversationID
	t.utteranceOpen = !cs.lastChunkInUtterance
	t.convoOpen = !cs.lastChunkInConversation
	if cs.lastChunkInUtterance {
		t.closedUtt[cs.utteranceID] = true
	}
	if cs.lastChunkInConversation {
		t.closedConvo[cs.conversationID] = true
	}
	return nil
}

func (t *ConversationTracker) check(cs *ConversationState) error {
	if t.closedUtt[cs.utteranceID] {
		return invalidf(TypeConversationState, "utterance %q was already closed", cs.utteranceID)
	}
	if t.closedConvo[cs.conversationID] {
		return invalidf(TypeConversationState, "conversation %q was already closed", cs.conversationID)
	}
	if t.utteranceOpen && cs.utteranceID != t.utterance {
		return invalidf(TypeConversationState, "utterance %q started while %q is still open", cs.utteranceID, t.utterance)
	}
	if t.convoOpen && cs.conversationID != t.convo {
		return invalidf(TypeConversationState, "conversation %q started while %q is still open", cs.conversationID, t.convo)
	}
	return nil
}
