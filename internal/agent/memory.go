package agent

import (
	"sync"

	"github.com/quantlab/quantagent/internal/llm"
)

// DefaultMaxHistoryMessages caps the messages kept per conversation.
const DefaultMaxHistoryMessages = 40

// ConversationMemory keeps per-conversation message history in memory.
// History informs later requests in the same conversation; tool budgets
// still reset per request. Safe for concurrent use.
type ConversationMemory struct {
	mu          sync.RWMutex
	histories   map[string][]llm.Message
	maxMessages int
}

// NewConversationMemory creates a memory with the given per-conversation
// cap. A non-positive cap defaults to DefaultMaxHistoryMessages.
func NewConversationMemory(maxMessages int) *ConversationMemory {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxHistoryMessages
	}
	return &ConversationMemory{
		histories:   make(map[string][]llm.Message),
		maxMessages: maxMessages,
	}
}

// Load returns a copy of the conversation's history.
func (m *ConversationMemory) Load(conversationID string) []llm.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.histories[conversationID]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out
}

// Append adds messages to the conversation, trimming from the oldest when
// the cap is exceeded. The first kept message never has the assistant role
// so a follow-up request always opens with user content.
func (m *ConversationMemory) Append(conversationID string, msgs []llm.Message) {
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.histories[conversationID], msgs...)
	if len(history) > m.maxMessages {
		history = history[len(history)-m.maxMessages:]
		for len(history) > 0 && history[0].Role == llm.RoleAssistant {
			history = history[1:]
		}
	}
	m.histories[conversationID] = history
}

// Forget drops a conversation's history.
func (m *ConversationMemory) Forget(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, conversationID)
}
